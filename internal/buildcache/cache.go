// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package buildcache

import (
	"encoding/json"
	"sync"

	"github.com/cespare/xxhash/v2"
	"namespacelabs.dev/backendkit/schema"
)

const shardCount = 16

// Cache holds the two generations used by a build: Previous, loaded once when
// the build starts and never modified, and Current, filled in by the steps as
// they run.
type Cache struct {
	previous *Snapshot
	current  *Current
}

func New(previous *Snapshot) *Cache {
	if previous == nil {
		previous = NewSnapshot()
	}
	previous.normalize()
	return &Cache{previous: previous, current: newCurrent()}
}

func (c *Cache) Previous() *Snapshot { return c.previous }
func (c *Cache) Current() *Current   { return c.current }

// Next returns the snapshot to persist: entries recorded during this run,
// plus entries of the previous generation which were not touched. Invalidated
// paths are left out, so the next build sees them as changed.
func (c *Cache) Next() *Snapshot {
	next := NewSnapshot()
	next.merge(c.previous)
	next.merge(c.current.snapshot())
	for _, path := range c.current.invalidated() {
		delete(next.FileHashes, path)
	}
	return next
}

// Current is safe for concurrent use. Keys are partitioned over a fixed set
// of shards, each guarded by its own lock.
type Current struct {
	shards [shardCount]shard
}

type shard struct {
	mu          sync.Mutex
	fileHashes  map[string]schema.Digest
	derivedData map[string]map[string]json.RawMessage
	tombstones  map[string]struct{}
}

func newCurrent() *Current {
	c := &Current{}
	for k := range c.shards {
		c.shards[k].fileHashes = map[string]schema.Digest{}
		c.shards[k].derivedData = map[string]map[string]json.RawMessage{}
		c.shards[k].tombstones = map[string]struct{}{}
	}
	return c
}

func (c *Current) shardFor(key string) *shard {
	return &c.shards[xxhash.Sum64String(key)%shardCount]
}

func (c *Current) FileHash(path string) (schema.Digest, bool) {
	s := c.shardFor(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.fileHashes[path]
	return d, ok
}

// RecordFileHash stores the digest of path. The first recorded digest wins;
// the value which is kept is returned.
func (c *Current) RecordFileHash(path string, d schema.Digest) schema.Digest {
	s := c.shardFor(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.fileHashes[path]; ok {
		return existing
	}
	s.fileHashes[path] = d
	return d
}

// Invalidate drops path from the next generation, regardless of what this or
// the previous build recorded for it. Digests recorded during this build
// remain visible through FileHash.
func (c *Current) Invalidate(path string) {
	s := c.shardFor(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tombstones[path] = struct{}{}
}

func (c *Current) invalidated() []string {
	var paths []string
	for k := range c.shards {
		s := &c.shards[k]
		s.mu.Lock()
		for path := range s.tombstones {
			paths = append(paths, path)
		}
		s.mu.Unlock()
	}
	return paths
}

// Derived data is partitioned by module, as each module's scripts are
// written by steps of that module.
func (c *Current) Derived(module, script string) (json.RawMessage, bool) {
	s := c.shardFor(module)
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.derivedData[module][script]
	return data, ok
}

func (c *Current) SetDerived(module, script string, data json.RawMessage) {
	s := c.shardFor(module)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.derivedData[module] == nil {
		s.derivedData[module] = map[string]json.RawMessage{}
	}
	s.derivedData[module][script] = data
}

func (c *Current) snapshot() *Snapshot {
	snap := NewSnapshot()
	for k := range c.shards {
		s := &c.shards[k]
		s.mu.Lock()
		for path, d := range s.fileHashes {
			snap.FileHashes[path] = d
		}
		for module, scripts := range s.derivedData {
			copied := make(map[string]json.RawMessage, len(scripts))
			for script, data := range scripts {
				copied[script] = data
			}
			snap.DerivedData[module] = copied
		}
		s.mu.Unlock()
	}
	return snap
}

// Snapshot returns a copy of everything recorded so far.
func (c *Current) Snapshot() *Snapshot { return c.snapshot() }
