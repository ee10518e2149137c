// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package hashstore computes content digests of build inputs. Every file is
// read at most once per build; digests are recorded into the current
// generation of the build cache.
package hashstore

import (
	"context"
	"path/filepath"

	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"
	"namespacelabs.dev/backendkit/internal/buildcache"
	"namespacelabs.dev/backendkit/internal/fnerrors"
	"namespacelabs.dev/backendkit/schema"
)

type Store struct {
	fs    afero.Fs
	cache *buildcache.Cache
	group singleflight.Group
}

func New(cache *buildcache.Cache) *Store {
	return NewWithFS(afero.NewOsFs(), cache)
}

func NewWithFS(fs afero.Fs, cache *buildcache.Cache) *Store {
	return &Store{fs: fs, cache: cache}
}

// Digest returns the digest of the file at path, as of its first read in this build.
func (s *Store) Digest(ctx context.Context, path string) (schema.Digest, error) {
	_, d, err := s.digest(path)
	return d, err
}

func (s *Store) digest(path string) (string, schema.Digest, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", schema.Digest{}, fnerrors.NewInputError(path, err)
	}

	if d, ok := s.cache.Current().FileHash(abs); ok {
		return abs, d, nil
	}

	v, err, _ := s.group.Do(abs, func() (interface{}, error) {
		// A flight for the same path may have completed between the lookup
		// above and this one starting.
		if d, ok := s.cache.Current().FileHash(abs); ok {
			return d, nil
		}

		d, err := s.read(abs)
		if err != nil {
			return nil, err
		}

		return s.cache.Current().RecordFileHash(abs, d), nil
	})
	if err != nil {
		return "", schema.Digest{}, err
	}

	return abs, v.(schema.Digest), nil
}

func (s *Store) read(path string) (schema.Digest, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return schema.Digest{}, fnerrors.NewInputError(path, err)
	}
	defer f.Close()

	d, err := schema.DigestReader(f)
	if err != nil {
		return schema.Digest{}, fnerrors.NewInputError(path, err)
	}

	return d, nil
}

// Changed reports whether any of paths differs from the previous build. Every
// path is hashed, even after a change was found, so that all of them are
// recorded for the next build. Paths unknown to the previous build count as
// changed.
func (s *Store) Changed(ctx context.Context, paths []string) (bool, error) {
	changed := false
	for _, path := range paths {
		abs, d, err := s.digest(path)
		if err != nil {
			return false, err
		}

		if prev, ok := s.cache.Previous().FileHash(abs); !ok || !prev.Equals(d) {
			changed = true
		}
	}
	return changed, nil
}

// Invalidate makes paths count as changed in the next build. Used when a step
// which depends on them could not run.
func (s *Store) Invalidate(paths []string) {
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		s.cache.Current().Invalidate(abs)
	}
}
