// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/kr/text"
	"github.com/spf13/cobra"
	"namespacelabs.dev/backendkit/internal/buildcache"
	"namespacelabs.dev/backendkit/internal/cli/fncobra"
	"namespacelabs.dev/backendkit/internal/cli/version"
	"namespacelabs.dev/backendkit/internal/fnerrors"
)

func NewVersionCmd() *cobra.Command {
	var buildInfo bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Outputs the compiled version of bkit.",
		Args:  cobra.NoArgs,

		RunE: fncobra.RunE(func(ctx context.Context, args []string) error {
			if buildInfo {
				info, ok := debug.ReadBuildInfo()
				if !ok {
					return fnerrors.InternalError("buildinfo is missing")
				}
				fmt.Fprintln(os.Stdout, info.String())
				return nil
			}

			v, err := version.Current()
			if err != nil {
				return err
			}

			formatVersion(os.Stdout, v)
			return nil
		}),
	}

	cmd.PersistentFlags().BoolVar(&buildInfo, "build_info", buildInfo, "Output all of build info.")

	return cmd
}

func formatVersion(out io.Writer, v *version.BinaryVersion) {
	fmt.Fprintf(out, "bkit version %s (commit %s)\n", v.Version, v.GitCommit)

	x := text.NewIndentWriter(out, []byte("  "))

	if v.BuildTimeStr != "" {
		fmt.Fprintf(x, "commit date %s\n", v.BuildTimeStr)
	}
	if v.Modified {
		fmt.Fprintf(x, "built from modified repo\n")
	}

	fmt.Fprintf(x, "architecture %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(x, "build cache version %d\n", buildcache.CurrentVersion)
}
