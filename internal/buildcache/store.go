// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package buildcache

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"namespacelabs.dev/backendkit/internal/fnerrors"
)

const (
	GenDir   = "_gen"
	fileName = "cache.json"
)

// PathFor returns the location of the cache file of the project at root.
func PathFor(root string) string {
	return filepath.Join(root, GenDir, fileName)
}

// Load reads the snapshot at path. A missing, unparsable or outdated file
// yields an empty snapshot, never an error.
func Load(ctx context.Context, path string) *Snapshot {
	return LoadFS(ctx, afero.NewOsFs(), path)
}

func LoadFS(ctx context.Context, fsys afero.Fs, path string) *Snapshot {
	contents, err := afero.ReadFile(fsys, path)
	if err != nil {
		if !os.IsNotExist(err) {
			zerolog.Ctx(ctx).Warn().Err(err).Str("path", path).Msg("Ignoring unreadable build cache.")
		}
		return NewSnapshot()
	}

	var snap Snapshot
	if err := json.Unmarshal(contents, &snap); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("path", path).Msg("Dropped existing build cache, invalid format.")
		return NewSnapshot()
	}

	if snap.Version != CurrentVersion {
		zerolog.Ctx(ctx).Warn().Int("got", snap.Version).Int("expected", CurrentVersion).Str("path", path).
			Msg("Dropped existing build cache, version mismatch.")
		return NewSnapshot()
	}

	snap.normalize()
	return &snap
}

// Persist atomically replaces the file at path with the cache's next generation.
func Persist(ctx context.Context, path string, cache *Cache) error {
	next := cache.Next()

	contents, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fnerrors.InternalError("failed to serialize build cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fnerrors.New("%s: failed to create cache directory: %w", path, err)
	}

	if err := atomic.WriteFile(path, bytes.NewReader(contents)); err != nil {
		return fnerrors.New("%s: failed to write build cache: %w", path, err)
	}

	zerolog.Ctx(ctx).Debug().Str("path", path).Int("files", len(next.FileHashes)).Msg("Persisted build cache.")
	return nil
}

// Prune removes the cache file at path, forcing the next build to run every step.
func Prune(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}

	zerolog.Ctx(ctx).Info().Str("path", path).Msg("Removed build cache.")
	return nil
}
