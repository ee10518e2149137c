// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package hashstore

import (
	"context"
	"errors"
	"io/fs"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"gotest.tools/assert"
	"namespacelabs.dev/backendkit/internal/buildcache"
	"namespacelabs.dev/backendkit/internal/fnerrors"
	"namespacelabs.dev/backendkit/schema"
)

type countingFs struct {
	afero.Fs
	mu    sync.Mutex
	opens map[string]int
}

func (c *countingFs) Open(name string) (afero.File, error) {
	c.mu.Lock()
	c.opens[name]++
	c.mu.Unlock()
	return c.Fs.Open(name)
}

func (c *countingFs) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens[name]
}

func newFs(t *testing.T, files map[string]string) *countingFs {
	mem := afero.NewMemMapFs()
	for name, contents := range files {
		assert.NilError(t, afero.WriteFile(mem, name, []byte(contents), 0644))
	}
	return &countingFs{Fs: mem, opens: map[string]int{}}
}

func TestDigestReadsOnce(t *testing.T) {
	ctx := context.Background()
	fsys := newFs(t, map[string]string{"/src/shared.ts": "export {}"})
	cache := buildcache.New(nil)
	store := NewWithFS(fsys, cache)

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := store.Digest(ctx, "/src/shared.ts")
			if err != nil || !d.Equals(schema.DigestBytes([]byte("export {}"))) {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, failures.Load(), int32(0))
	assert.Equal(t, fsys.count("/src/shared.ts"), 1)

	recorded, ok := cache.Current().FileHash("/src/shared.ts")
	assert.Assert(t, ok)
	assert.Equal(t, recorded, schema.DigestBytes([]byte("export {}")))
}

func TestDigestIsStableWithinRun(t *testing.T) {
	ctx := context.Background()
	fsys := newFs(t, map[string]string{"/a.ts": "v1"})
	store := NewWithFS(fsys, buildcache.New(nil))

	first, err := store.Digest(ctx, "/a.ts")
	assert.NilError(t, err)

	// Edits during a run are not observed.
	assert.NilError(t, afero.WriteFile(fsys.Fs, "/a.ts", []byte("v2"), 0644))

	second, err := store.Digest(ctx, "/a.ts")
	assert.NilError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, fsys.count("/a.ts"), 1)
}

func TestChanged(t *testing.T) {
	ctx := context.Background()
	fsys := newFs(t, map[string]string{"/a.ts": "a", "/b.ts": "b2", "/c.ts": "c"})

	prev := buildcache.NewSnapshot()
	prev.FileHashes["/a.ts"] = schema.DigestBytes([]byte("a"))
	prev.FileHashes["/b.ts"] = schema.DigestBytes([]byte("b1"))

	cache := buildcache.New(prev)
	store := NewWithFS(fsys, cache)

	changed, err := store.Changed(ctx, []string{"/a.ts"})
	assert.NilError(t, err)
	assert.Assert(t, !changed)

	changed, err = store.Changed(ctx, []string{"/b.ts", "/a.ts"})
	assert.NilError(t, err)
	assert.Assert(t, changed)

	// Unknown to the previous build.
	changed, err = store.Changed(ctx, []string{"/c.ts"})
	assert.NilError(t, err)
	assert.Assert(t, changed)

	// Nothing short-circuits: every input was recorded.
	for _, path := range []string{"/a.ts", "/b.ts", "/c.ts"} {
		_, ok := cache.Current().FileHash(path)
		assert.Assert(t, ok, path)
	}
}

func TestMissingInput(t *testing.T) {
	store := NewWithFS(newFs(t, nil), buildcache.New(nil))

	_, err := store.Changed(context.Background(), []string{"/missing.ts"})
	assert.Assert(t, fnerrors.IsInputError(err))
	assert.Assert(t, errors.Is(err, fs.ErrNotExist))
}
