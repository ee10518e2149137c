// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package findroot

import (
	"errors"
	"path/filepath"

	"github.com/spf13/afero"
)

var ErrNotFound = errors.New("no enclosing root")

// Find returns the closest directory, starting at startAt and walking up
// to the filesystem root, which holds a regular file named after one of
// markers. startAt must be absolute.
func Find(fsys afero.Fs, startAt string, markers ...string) (string, error) {
	dir := filepath.Clean(startAt)

	for {
		for _, name := range markers {
			if fi, err := fsys.Stat(filepath.Join(dir, name)); err == nil && fi.Mode().IsRegular() {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotFound
		}
		dir = parent
	}
}
