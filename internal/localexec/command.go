// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the EARLY ACCESS SOFTWARE LICENSE AGREEMENT
// available at http://github.com/namespacelabs/foundation

package localexec

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/muesli/reflow/indent"
	"github.com/rs/zerolog"
	"namespacelabs.dev/backendkit/internal/fnerrors"
)

const maxStderrInError = 4096

type Command struct {
	Label         string
	Command       string
	Dir           string
	Args          []string
	AdditionalEnv []string

	Stdin io.Reader
	// If nil, standard output is logged at debug level.
	Stdout io.Writer
}

func (c Command) Run(ctx context.Context) error {
	logger := zerolog.Ctx(ctx).With().Str("command", c.label()).Logger()
	logger.Debug().Str("binary", c.Command).Strs("args", c.Args).Msg("local.exec")

	out := NewLogWriter(&logger)
	defer out.Flush()

	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	cmd.Stdout = out
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	}
	cmd.Stderr = io.MultiWriter(out, &stderr)
	cmd.Env = append(os.Environ(), c.AdditionalEnv...)

	if err := cmd.Run(); err != nil {
		// A canceled command surfaces as "signal: killed"; report why it was killed instead.
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return withStderr(fnerrors.UserError(nil, "%s: local execution failed: %w", c.label(), err), stderr.Bytes())
	}

	return nil
}

func (c Command) label() string {
	if c.Label != "" {
		return c.Label
	}
	return c.Command
}

func withStderr(err error, stderr []byte) error {
	tail := strings.TrimSpace(string(stderr))
	if tail == "" {
		return err
	}

	if len(tail) > maxStderrInError {
		tail = "..." + tail[len(tail)-maxStderrInError:]
	}

	return fnerrors.UserError(nil, "%w\n%s", err, indent.String(tail, 2))
}
