// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"namespacelabs.dev/backendkit/internal/build"
	"namespacelabs.dev/backendkit/internal/cli/fncobra"
	"namespacelabs.dev/backendkit/internal/fnerrors"
	"namespacelabs.dev/backendkit/internal/project"
)

func NewBuildCmd() *cobra.Command {
	var (
		p     *project.Project
		flags buildFlags
	)

	return fncobra.
		Cmd(&cobra.Command{
			Use:   "build",
			Short: "Generates the sources of a project, skipping steps whose inputs didn't change.",
			Args:  cobra.NoArgs,
		}).
		With(&flags, fncobra.ParseProject(&p, nil)).
		Do(func(ctx context.Context) error {
			res, err := runBuild(ctx, p, &flags)
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "Built %s in %v: %s.\n", p.Root, res.Took.Round(time.Millisecond), res)
			return nil
		})
}

func runBuild(ctx context.Context, p *project.Project, flags *buildFlags) (*build.Result, error) {
	reg := prometheus.NewRegistry()

	opts := flags.opts
	opts.Tracer = fncobra.TracerFrom(ctx)
	opts.Registerer = reg

	c, done := build.NewCollaborators(p, opts.Runtime, flags.tools)
	defer done()

	res, err := build.Build(ctx, p, opts, c)

	// Metrics of failed builds are kept too.
	if flags.metricsFile != "" {
		if writeErr := prometheus.WriteToTextfile(flags.metricsFile, reg); writeErr != nil {
			zerolog.Ctx(ctx).Warn().Err(writeErr).Str("path", flags.metricsFile).Msg("Failed to write metrics.")
		}
	}

	if err != nil {
		return nil, err
	}

	for _, d := range res.Degraded {
		fnerrors.Format(os.Stderr, d.Err)
	}

	return res, nil
}
