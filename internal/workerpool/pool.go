// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package workerpool offloads CPU-heavy jobs to a fixed set of workers.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("worker pool is closed")

// Handler serves a single job. Requests are plain data; nothing is shared
// between jobs.
type Handler[Req, Resp any] func(context.Context, Req) (Resp, error)

// Failure is the structured description of a job which failed on the worker.
// It is only ever returned to the caller which submitted the job.
type Failure struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`

	cause error
}

func (f *Failure) Error() string { return f.Message }
func (f *Failure) Unwrap() error { return f.cause }

type Pool[Req, Resp any] struct {
	handler Handler[Req, Resp]
	jobs    chan job[Req, Resp]
	closed  chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

type job[Req, Resp any] struct {
	ctx   context.Context
	req   Req
	reply chan result[Resp]
}

type result[Resp any] struct {
	resp Resp
	err  error
}

// New starts size workers. At most size jobs are served concurrently;
// additional callers of Run wait for a free worker.
func New[Req, Resp any](size int, handler Handler[Req, Resp]) *Pool[Req, Resp] {
	if size < 1 {
		size = 1
	}

	p := &Pool[Req, Resp]{
		handler: handler,
		jobs:    make(chan job[Req, Resp]),
		closed:  make(chan struct{}),
	}

	for k := 0; k < size; k++ {
		p.wg.Add(1)
		go p.work()
	}

	return p
}

// Run blocks until a worker served req.
func (p *Pool[Req, Resp]) Run(ctx context.Context, req Req) (Resp, error) {
	var empty Resp

	j := job[Req, Resp]{ctx: ctx, req: req, reply: make(chan result[Resp], 1)}

	select {
	case p.jobs <- j:
	case <-p.closed:
		return empty, ErrClosed
	case <-ctx.Done():
		return empty, ctx.Err()
	}

	select {
	case r := <-j.reply:
		return r.resp, r.err
	case <-ctx.Done():
		return empty, ctx.Err()
	}
}

// Close stops the workers, after the jobs they're serving complete.
func (p *Pool[Req, Resp]) Close() {
	p.once.Do(func() { close(p.closed) })
	p.wg.Wait()
}

func (p *Pool[Req, Resp]) work() {
	defer p.wg.Done()

	for {
		select {
		case j := <-p.jobs:
			resp, err := p.serve(j.ctx, j.req)
			j.reply <- result[Resp]{resp: resp, err: err}

		case <-p.closed:
			return
		}
	}
}

func (p *Pool[Req, Resp]) serve(ctx context.Context, req Req) (resp Resp, err error) {
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().Interface("panic", r).Msg("Worker job panicked.")
			err = &Failure{Message: fmt.Sprintf("worker panicked: %v", r), Details: string(debug.Stack())}
		}
	}()

	resp, err = p.handler(ctx, req)
	if err != nil {
		var failure *Failure
		if !errors.As(err, &failure) {
			err = &Failure{Message: err.Error(), cause: err}
		}
	}

	return resp, err
}
