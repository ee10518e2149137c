// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/kr/text"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"namespacelabs.dev/backendkit/internal/buildcache"
	"namespacelabs.dev/backendkit/internal/cli/fncobra"
)

func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Build cache related operations.",
	}

	cmd.AddCommand(newCacheShowCmd())
	cmd.AddCommand(newCacheCleanCmd())

	return cmd
}

func newCacheShowCmd() *cobra.Command {
	var (
		root  string
		files bool
	)

	return fncobra.
		Cmd(&cobra.Command{
			Use:   "show",
			Short: "Describes the build cache of a project.",
			Args:  cobra.NoArgs,
		}).
		WithFlags(func(flags *pflag.FlagSet) {
			flags.BoolVar(&files, "files", files, "If set to true, lists the digest of every tracked file.")
		}).
		With(fncobra.ParseProject(nil, &root)).
		Do(func(ctx context.Context) error {
			path := buildcache.PathFor(root)

			st, err := os.Stat(path)
			if os.IsNotExist(err) {
				fmt.Fprintf(os.Stdout, "%s: no build cache, the next build runs every step.\n", root)
				return nil
			} else if err != nil {
				return err
			}

			describeCache(os.Stdout, root, path, st, buildcache.Load(ctx, path), files)
			return nil
		})
}

func describeCache(out io.Writer, root, path string, st os.FileInfo, snap *buildcache.Snapshot, files bool) {
	fmt.Fprintf(out, "%s\n", path)

	x := text.NewIndentWriter(out, []byte("  "))
	fmt.Fprintf(x, "version %d, %s, written %s\n", snap.Version, humanize.Bytes(uint64(st.Size())), humanize.Time(st.ModTime()))
	fmt.Fprintf(x, "%d tracked files\n", len(snap.FileHashes))

	modules := make([]string, 0, len(snap.DerivedData))
	for module := range snap.DerivedData {
		modules = append(modules, module)
	}
	sort.Strings(modules)

	for _, module := range modules {
		fmt.Fprintf(x, "module %s: %d cached schemas\n", module, len(snap.DerivedData[module]))
	}

	if !files {
		return
	}

	paths := make([]string, 0, len(snap.FileHashes))
	for p := range snap.FileHashes {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		rel := p
		if r, err := filepath.Rel(root, p); err == nil {
			rel = r
		}
		fmt.Fprintf(x, "%s %s\n", snap.FileHashes[p], rel)
	}
}

func newCacheCleanCmd() *cobra.Command {
	var root string

	return fncobra.
		Cmd(&cobra.Command{
			Use:   "clean",
			Short: "Removes the build cache of a project, so the next build runs every step.",
			Args:  cobra.NoArgs,
		}).
		With(fncobra.ParseProject(nil, &root)).
		Do(func(ctx context.Context) error {
			return buildcache.Prune(ctx, buildcache.PathFor(root))
		})
}
