// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the EARLY ACCESS SOFTWARE LICENSE AGREEMENT
// available at http://github.com/namespacelabs/foundation

package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
	"namespacelabs.dev/go-ids"
)

// Executor runs a group of functions concurrently. The first error cancels
// the group: functions which haven't started yet don't run, functions already
// running are left to finish. Running functions receive the parent context,
// so only the caller's cancelation reaches them.
type Executor interface {
	Go(func(context.Context) error)
	Wait() error
	ID() string
}

type Opts struct {
	// If larger than zero, at most MaxParallel functions run at the same time.
	MaxParallel int64
}

func New(ctx context.Context, name string, opts Opts) (Executor, func() error) {
	ctxWithCancel, cancel := context.WithCancel(ctx)
	exec := &errGroupExecutor{parent: ctx, ctx: ctxWithCancel, cancel: cancel, name: name, id: ids.NewRandomBase32ID(8)}
	if opts.MaxParallel > 0 {
		exec.sem = semaphore.NewWeighted(opts.MaxParallel)
	}
	return exec, exec.Wait
}

type errGroupExecutor struct {
	parent context.Context
	ctx    context.Context
	cancel func()
	name   string
	id     string
	sem    *semaphore.Weighted

	wg sync.WaitGroup

	errOnce sync.Once
	err     error
}

func (exec *errGroupExecutor) ID() string { return exec.name + "/" + exec.id }

func (exec *errGroupExecutor) Wait() error {
	exec.wg.Wait()
	exec.cancel()
	if exec.err == nil && exec.parent.Err() != nil {
		return exec.parent.Err()
	}
	return exec.err
}

func (exec *errGroupExecutor) fail(err error) {
	exec.errOnce.Do(func() {
		exec.err = err
		exec.cancel()
	})
}

func (exec *errGroupExecutor) Go(f func(context.Context) error) {
	exec.wg.Add(1)

	go func() {
		defer exec.wg.Done()

		if exec.sem != nil {
			if err := exec.sem.Acquire(exec.ctx, 1); err != nil {
				// Group was canceled while waiting for a slot.
				return
			}
			defer exec.sem.Release(1)
		}

		// Never start work after the group was canceled.
		if exec.ctx.Err() != nil {
			return
		}

		// Recorded before the slot is released, so that no waiter starts
		// after a failure.
		if err := f(exec.parent); err != nil {
			exec.fail(err)
		}
	}()
}
