// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package buildcache

import (
	"encoding/json"

	"namespacelabs.dev/backendkit/schema"
)

// Bumping CurrentVersion invalidates every existing cache file.
const CurrentVersion = 1

// Snapshot is one generation of the persisted build cache.
type Snapshot struct {
	Version     int                                   `json:"version"`
	FileHashes  map[string]schema.Digest              `json:"fileHashes"`
	DerivedData map[string]map[string]json.RawMessage `json:"derivedData"`
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version:     CurrentVersion,
		FileHashes:  map[string]schema.Digest{},
		DerivedData: map[string]map[string]json.RawMessage{},
	}
}

func (s *Snapshot) FileHash(path string) (schema.Digest, bool) {
	d, ok := s.FileHashes[path]
	return d, ok
}

func (s *Snapshot) Derived(module, script string) (json.RawMessage, bool) {
	scripts, ok := s.DerivedData[module]
	if !ok {
		return nil, false
	}
	data, ok := scripts[script]
	return data, ok
}

func (s *Snapshot) normalize() {
	if s.FileHashes == nil {
		s.FileHashes = map[string]schema.Digest{}
	}
	if s.DerivedData == nil {
		s.DerivedData = map[string]map[string]json.RawMessage{}
	}
}

// merge copies every entry of other into s, overwriting existing entries.
func (s *Snapshot) merge(other *Snapshot) {
	for path, d := range other.FileHashes {
		s.FileHashes[path] = d
	}

	for module, scripts := range other.DerivedData {
		if s.DerivedData[module] == nil {
			s.DerivedData[module] = map[string]json.RawMessage{}
		}
		for script, data := range scripts {
			s.DerivedData[module][script] = data
		}
	}
}
