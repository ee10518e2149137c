// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
	"namespacelabs.dev/backendkit/internal/cli/fncobra"
	"namespacelabs.dev/backendkit/internal/filewatcher"
	"namespacelabs.dev/backendkit/internal/fnerrors"
	"namespacelabs.dev/backendkit/internal/project"
)

func NewDevCmd() *cobra.Command {
	var (
		root     string
		flags    buildFlags
		excludes []string
		includes []string
		debounce = filewatcher.DefaultDebounce
	)

	return fncobra.
		Cmd(&cobra.Command{
			Use:   "dev",
			Short: "Builds the project, and rebuilds it whenever one of its files changes.",
			Args:  cobra.NoArgs,
		}).
		WithFlags(func(fs *pflag.FlagSet) {
			fs.StringSliceVar(&excludes, "exclude", nil, "Additional patterns of files to ignore, in .dockerignore syntax.")
			fs.StringSliceVar(&includes, "include", nil, "If set, only changes to files matching these globs trigger a build.")
			fs.DurationVar(&debounce, "debounce", debounce, "Changes within this window are built together.")
		}).
		With(&flags, fncobra.ParseProject(nil, &root)).
		Do(func(ctx context.Context) error {
			colors := term.IsTerminal(int(os.Stderr.Fd()))

			rebuild := func(ctx context.Context) {
				p, err := project.Load(ctx, root)
				if err == nil {
					_, err = runBuild(ctx, p, &flags)
				}

				if err != nil && !errors.Is(err, context.Canceled) {
					fnerrors.Format(os.Stderr, err, fnerrors.WithColors(colors))
					if hint := rebuildHint(err); hint != "" {
						zerolog.Ctx(ctx).Info().Msg(hint)
					}
				}
			}

			rebuild(ctx)

			w, err := filewatcher.New(root, filewatcher.Opts{Excludes: excludes, Includes: includes, Debounce: debounce})
			if err != nil {
				return err
			}

			zerolog.Ctx(ctx).Info().Str("root", root).Msg("Watching for changes.")

			err = w.Watch(ctx, func(ctx context.Context, changed []string) {
				rel := make([]string, 0, len(changed))
				for _, path := range changed {
					if r, err := filepath.Rel(root, path); err == nil {
						rel = append(rel, r)
					}
				}

				zerolog.Ctx(ctx).Info().Strs("changed", rel).Msg("Rebuilding.")
				started := time.Now()
				rebuild(ctx)
				zerolog.Ctx(ctx).Debug().Dur("took", time.Since(started)).Msg("Rebuild done.")
			})

			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		})
}

// rebuildHint tells the user what gets a failed build going again. Failures
// outside of build steps get no hint.
func rebuildHint(err error) string {
	switch {
	case fnerrors.IsInputError(err):
		return "Waiting for the missing input, the project is rebuilt on the next change."
	case fnerrors.IsStepFailed(err):
		return "Keeping the previous build cache, the project is rebuilt on the next change."
	}
	return ""
}
