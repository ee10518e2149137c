// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package codegen

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/natefinch/atomic"
	"github.com/rs/zerolog"
	"namespacelabs.dev/backendkit/internal/fnerrors"
)

func generateSource(ctx context.Context, path string, t *template.Template, data interface{}) error {
	var out bytes.Buffer
	if err := t.Execute(&out, data); err != nil {
		return fnerrors.InternalError("%s: failed to render %s: %w", path, t.Name(), err)
	}

	return writeFile(ctx, path, out.Bytes())
}

// writeFile atomically replaces the contents of path, creating its parent
// directories if needed.
func writeFile(ctx context.Context, path string, contents []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	if err := atomic.WriteFile(path, bytes.NewReader(contents)); err != nil {
		return fnerrors.New("%s: failed to write: %w", path, err)
	}

	zerolog.Ctx(ctx).Debug().Str("path", path).Int("bytes", len(contents)).Msg("Generated.")
	return nil
}

// importPath returns the path to target, relative to the directory of the
// file at from, in the form expected by TypeScript imports.
func importPath(from, target string) string {
	rel, err := filepath.Rel(filepath.Dir(from), target)
	if err != nil {
		return target
	}

	rel = filepath.ToSlash(rel)
	if !strings.HasPrefix(rel, ".") {
		rel = "./" + rel
	}

	return rel
}
