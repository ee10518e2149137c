// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package codegen

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	"github.com/rs/zerolog"
	"namespacelabs.dev/backendkit/internal/compression"
	"namespacelabs.dev/backendkit/internal/fnerrors"
)

//go:generate sh -c "tar --sort=name --owner=0 --group=0 --numeric-owner --mtime=2024-01-01 -C runtime/src -cf - . | zstd -19 -q -f -o runtime/runtime.tar.zst"

//go:embed runtime/runtime.tar.zst
var runtimeArchive []byte

// InflateRuntime replaces the contents of dir with the runtime sources.
func InflateRuntime(ctx context.Context, dir string) error {
	zr, err := compression.ZstdReader(bytes.NewReader(runtimeArchive))
	if err != nil {
		return fnerrors.InternalError("failed to open runtime archive: %w", err)
	}
	defer zr.Close()

	if err := os.RemoveAll(dir); err != nil {
		return err
	}

	count := 0
	tr := tar.NewReader(zr)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return fnerrors.InternalError("failed to read runtime archive: %w", err)
		}

		name := filepath.Clean(h.Name)
		if name == "." {
			continue
		}

		if filepath.IsAbs(name) || strings.HasPrefix(name, "..") {
			return fnerrors.InternalError("runtime archive: invalid entry %q", h.Name)
		}

		target := filepath.Join(dir, name)
		switch h.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}

		case tar.TypeReg:
			contents, err := io.ReadAll(tr)
			if err != nil {
				return fnerrors.InternalError("failed to read runtime archive: %w", err)
			}

			if err := writeFile(ctx, target, contents); err != nil {
				return err
			}
			count++
		}
	}

	zerolog.Ctx(ctx).Debug().Str("dir", dir).Int("files", count).Msg("Inflated runtime.")
	return nil
}
