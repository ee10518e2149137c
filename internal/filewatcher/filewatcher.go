// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package filewatcher observes a directory tree and delivers batches of
// changed files.
package filewatcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mattn/go-zglob"
	"github.com/moby/patternmatcher"
	"github.com/rs/zerolog"
	"namespacelabs.dev/backendkit/internal/fnerrors"
)

const DefaultDebounce = 250 * time.Millisecond

// Generated files, which would otherwise retrigger the build producing them.
var DefaultExcludes = []string{".git", "node_modules", "**/_gen", "**/module.gen.ts"}

type Opts struct {
	// Patterns in .dockerignore syntax, relative to the root.
	Excludes []string
	// Globs relative to the root. If set, only matching files are reported.
	Includes []string
	Debounce time.Duration
}

type HasMatch interface {
	Match(name string) bool
}

type Watcher struct {
	root     string
	excludes *patternmatcher.PatternMatcher
	includes []HasMatch
	debounce time.Duration
	watcher  *fsnotify.Watcher
}

func New(root string, opts Opts) (*Watcher, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	excludes, err := patternmatcher.New(append(append([]string{}, DefaultExcludes...), opts.Excludes...))
	if err != nil {
		return nil, fnerrors.BadInputError("invalid exclude pattern: %w", err)
	}

	w := &Watcher{root: root, excludes: excludes, debounce: opts.Debounce}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}

	for _, glob := range opts.Includes {
		x, err := zglob.New(filepath.Join(root, glob))
		if err != nil {
			return nil, fnerrors.BadInputError("invalid include glob %q: %w", glob, err)
		}
		w.includes = append(w.includes, x)
	}

	return w, nil
}

// Watch calls onChange with every batch of changed files, until ctx is
// canceled. Batches are delivered one at a time; events observed while
// onChange runs are part of the next batch.
func (w *Watcher) Watch(ctx context.Context, onChange func(context.Context, []string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fnerrors.InternalError("failed to create file watcher: %w", err)
	}
	w.watcher = watcher
	defer watcher.Close()

	if err := w.addTree(ctx, w.root); err != nil {
		return err
	}

	bufferCh := make(chan []string)
	go w.aggregate(ctx, bufferCh)

	for batch := range bufferCh {
		onChange(ctx, batch)
	}

	return ctx.Err()
}

func (w *Watcher) addTree(ctx context.Context, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if w.excluded(path) {
			return fs.SkipDir
		}

		zerolog.Ctx(ctx).Trace().Str("dir", path).Msg("Watching.")
		return w.watcher.Add(path)
	})
}

func (w *Watcher) aggregate(ctx context.Context, bufferCh chan []string) {
	defer close(bufferCh)

	t := time.NewTicker(w.debounce)
	defer t.Stop()

	pending := map[string]struct{}{}
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			zerolog.Ctx(ctx).Trace().Str("name", ev.Name).Str("op", ev.Op.String()).Msg("Received filesystem event.")

			if ev.Has(fsnotify.Create) {
				if isDir(ev.Name) && !w.excluded(ev.Name) {
					if err := w.addTree(ctx, ev.Name); err != nil {
						zerolog.Ctx(ctx).Warn().Err(err).Str("dir", ev.Name).Msg("Failed to watch new directory.")
					}
					continue
				}
			}

			if w.relevant(ev.Name) {
				pending[ev.Name] = struct{}{}
			}

		case <-t.C:
			if len(pending) == 0 {
				continue
			}

			batch := make([]string, 0, len(pending))
			for name := range pending {
				batch = append(batch, name)
			}
			sort.Strings(batch)
			pending = map[string]struct{}{}

			select {
			case bufferCh <- batch:
			case <-ctx.Done():
				return
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

			zerolog.Ctx(ctx).Warn().Err(err).Msg("Received filesystem event error.")
		}
	}
}

func (w *Watcher) excluded(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}

	matches, err := w.excludes.MatchesOrParentMatches(filepath.ToSlash(rel))
	return err == nil && matches
}

func (w *Watcher) relevant(path string) bool {
	if w.excluded(path) {
		return false
	}

	if len(w.includes) == 0 {
		return true
	}

	for _, glob := range w.includes {
		if glob.Match(path) {
			return true
		}
	}

	return false
}

func isDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}
