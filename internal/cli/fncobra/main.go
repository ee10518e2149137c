// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the EARLY ACCESS SOFTWARE LICENSE AGREEMENT
// available at http://github.com/namespacelabs/foundation

package fncobra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/term"
	"namespacelabs.dev/backendkit/framework/tracing"
	"namespacelabs.dev/backendkit/internal/fnerrors"
	"namespacelabs.dev/backendkit/internal/logoutput"
)

const (
	EnvPrefix  = "bkit"
	ConfigName = "bkit"
)

var (
	enableErrorTracing = false
	logFile            = ""
	traceFile          = ""
)

type tracerKey struct{}

// TracerFrom returns the tracer set up with --trace_file, or nil.
func TracerFrom(ctx context.Context) trace.Tracer {
	t, _ := ctx.Value(tracerKey{}).(trace.Tracer)
	return t
}

func DoMain(name string, registerCommands func(*cobra.Command)) {
	SetupViper()

	ctx := logoutput.WithOutput(context.Background(), logoutput.Default())

	// Respect container CPU limits.
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		zerolog.Ctx(ctx).Debug().Msgf(format, args...)
	})); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to reset GOMAXPROCS.")
	}

	var cleanups []func()

	rootCmd := newRoot(name, func(cmd *cobra.Command, args []string) error {
		cmdCtx := logoutput.WithOutput(cmd.Context(), logoutput.Default())

		if logFile != "" {
			var closer io.Closer
			cmdCtx, closer = logoutput.WithLogFile(cmdCtx, logFile)
			cleanups = append(cleanups, func() { _ = closer.Close() })
		}

		if traceFile != "" {
			f, err := os.Create(traceFile)
			if err != nil {
				return fnerrors.UserError(nil, "failed to create trace file: %w", err)
			}

			tracer, shutdown, err := tracing.NewFileTracer(f)
			if err != nil {
				f.Close()
				return err
			}

			cmdCtx = context.WithValue(cmdCtx, tracerKey{}, tracer)
			cleanups = append(cleanups, func() {
				_ = shutdown(context.Background())
				f.Close()
			})
		}

		cmd.SetContext(cmdCtx)
		return nil
	})

	rootCmd.PersistentFlags().String("log_level", "info", "One of trace, debug, info, warn or error.")
	rootCmd.PersistentFlags().Bool("log_json", false, "If set to true, logs are written to stderr as JSON.")
	rootCmd.PersistentFlags().StringVar(&logFile, "log_file", logFile,
		"If set, logs are also written as JSON to this file, which is rotated when large.")
	rootCmd.PersistentFlags().StringVar(&traceFile, "trace_file", traceFile,
		"If set, a trace span per build step is written to this file.")
	rootCmd.PersistentFlags().BoolVar(&enableErrorTracing, "error_tracing", enableErrorTracing,
		"If set to true, prints a trace of errors leading to the root cause.")

	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log_level"))
	_ = viper.BindPFlag("log_json", rootCmd.PersistentFlags().Lookup("log_json"))

	_ = rootCmd.PersistentFlags().MarkHidden("error_tracing")

	registerCommands(rootCmd)

	err := rootCmd.ExecuteContext(ctx)

	// Flushes traces and logs before errors are printed.
	for k := len(cleanups) - 1; k >= 0; k-- {
		cleanups[k]()
	}

	// Ensures deferred routines are invoked before os.Exit.
	defer handleExit()

	if err != nil && !errors.Is(err, context.Canceled) {
		panic(exitWithCode{handleExitError(err)})
	}
}

type exitWithCode struct{ Code int }

func handleExit() {
	if e := recover(); e != nil {
		if exit, ok := e.(exitWithCode); ok {
			os.Exit(exit.Code)
		}
		panic(e) // not an Exit, bubble up
	}
}

func handleExitError(err error) int {
	colors := term.IsTerminal(int(os.Stderr.Fd()))
	fnerrors.Format(os.Stderr, err, fnerrors.WithColors(colors), fnerrors.WithTracing(enableErrorTracing))

	var exitError fnerrors.ExitError
	if errors.As(err, &exitError) {
		return exitError.ExitCode()
	}

	return 1
}

func newRoot(name string, preRunE func(cmd *cobra.Command, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use: name,

		SilenceUsage:     true,
		SilenceErrors:    true,
		TraverseChildren: true,

		PersistentPreRunE: preRunE,

		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				cmd.SetOut(os.Stderr)
				cmd.HelpFunc()(cmd, args)
				return nil
			}

			return fmt.Errorf("%s: '%s' is not a %s command.\nSee '%s --help'", name, args[0], name, name)
		},

		Example: `  bkit build          Generates the sources of the project in the current directory.
  bkit build --force  Regenerates everything, ignoring the build cache.
  bkit dev            Rebuilds whenever a file of the project changes.`,
	}
}

// SetupViper reads bkit.yaml (or .toml, .json) from the working directory or
// the user's configuration directory. Every setting can be overridden with a
// BKIT_ environment variable.
func SetupViper() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(ConfigName)
	viper.AddConfigPath(".")
	if cfg, err := os.UserConfigDir(); err == nil {
		viper.AddConfigPath(filepath.Join(cfg, "bkit"))
	}

	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Fatal(err)
		}
	}
}
