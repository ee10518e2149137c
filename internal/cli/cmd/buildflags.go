// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"namespacelabs.dev/backendkit/internal/build"
	"namespacelabs.dev/backendkit/internal/bundle"
	"namespacelabs.dev/backendkit/internal/codegen"
	"namespacelabs.dev/backendkit/internal/fnerrors"
	"namespacelabs.dev/backendkit/internal/migrate"
)

// buildFlags are shared by every command which builds. Flags are bound to
// viper when the command runs, so each can also be set in bkit.yaml or with
// a BKIT_ environment variable.
type buildFlags struct {
	cmd         *cobra.Command
	metricsFile string

	opts  build.Opts
	tools build.Tools
}

func (f *buildFlags) AddFlags(cmd *cobra.Command) {
	f.cmd = cmd

	flags := cmd.Flags()
	flags.Bool("force", false, "If set to true, every step runs regardless of the build cache.")
	flags.String("format", string(build.FormatNative), "Output format, one of native or bundled.")
	flags.String("runtime", string(codegen.RuntimeDeno), "Runtime the project is built for, one of deno or cloudflare.")
	flags.String("db_driver", string(codegen.DriverNodePostgres), "Database driver, one of node-postgres or neon-serverless.")
	flags.Int64("max_parallel", 0, "If larger than zero, at most this many steps run at the same time.")
	flags.Int("schema_workers", build.DefaultSchemaWorkers, "Number of schema compiler workers.")
	flags.String("schema_compiler", "", "Command line of the schema compiler worker; defaults to the bundled deno worker.")
	flags.Bool("migrate", false, "If set to true, applies database migrations of the project's modules.")
	flags.String("database_url", "", "Connection string of the development database server.")
	flags.String("migrate_command", migrate.DefaultCommand, "Binary of the Prisma CLI.")
	flags.String("bundler_command", bundle.DefaultCommand, "Binary of esbuild.")
	flags.StringVar(&f.metricsFile, "metrics_file", "", "If set, step metrics are written to this file in the Prometheus text format.")
}

func (f *buildFlags) Parse(ctx context.Context, args []string) error {
	if err := viper.BindPFlags(f.cmd.Flags()); err != nil {
		return fnerrors.InternalError("failed to bind flags: %w", err)
	}

	format, err := build.ParseFormat(viper.GetString("format"))
	if err != nil {
		return err
	}

	runtime := codegen.Runtime(viper.GetString("runtime"))
	switch runtime {
	case codegen.RuntimeDeno, codegen.RuntimeCloudflare:
	default:
		return fnerrors.UsageError("Use --runtime=deno or --runtime=cloudflare.", "%q is not a supported runtime.", runtime)
	}

	driver := codegen.DBDriver(viper.GetString("db_driver"))
	switch driver {
	case codegen.DriverNodePostgres, codegen.DriverNeonServerless:
	default:
		return fnerrors.UsageError("Use --db_driver=node-postgres or --db_driver=neon-serverless.", "%q is not a supported database driver.", driver)
	}

	f.opts = build.Opts{
		Format:       format,
		Runtime:      runtime,
		ForceRebuild: viper.GetBool("force"),
		MaxParallel:  viper.GetInt64("max_parallel"),
		Migrate:      viper.GetBool("migrate"),
	}

	f.tools = build.Tools{
		DBDriver:       driver,
		SchemaCompiler: strings.Fields(viper.GetString("schema_compiler")),
		SchemaWorkers:  viper.GetInt("schema_workers"),
		DatabaseURL:    viper.GetString("database_url"),
		MigrateCommand: viper.GetString("migrate_command"),
		BundlerCommand: viper.GetString("bundler_command"),
	}

	return nil
}
