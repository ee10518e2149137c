// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workerpool

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gotest.tools/assert"
)

func TestBoundedConcurrency(t *testing.T) {
	var running, peak atomic.Int32

	p := New(2, func(ctx context.Context, n int) (int, error) {
		cur := running.Add(1)
		defer running.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return n * 2, nil
	})
	defer p.Close()

	var wg sync.WaitGroup
	results := make([]int, 10)
	for k := range results {
		k := k
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := p.Run(context.Background(), k)
			if err == nil {
				results[k] = v
			}
		}()
	}
	wg.Wait()

	assert.Assert(t, peak.Load() <= 2)
	for k, v := range results {
		assert.Equal(t, v, k*2)
	}
}

func TestFailureIsolated(t *testing.T) {
	p := New(1, func(ctx context.Context, req string) (string, error) {
		switch req {
		case "fail":
			return "", errors.New("cannot parse script")
		case "panic":
			panic("boom")
		}
		return strings.ToUpper(req), nil
	})
	defer p.Close()

	_, err := p.Run(context.Background(), "fail")
	var failure *Failure
	assert.Assert(t, errors.As(err, &failure))
	assert.Equal(t, failure.Message, "cannot parse script")

	_, err = p.Run(context.Background(), "panic")
	assert.Assert(t, errors.As(err, &failure))
	assert.Equal(t, failure.Message, "worker panicked: boom")
	assert.Assert(t, failure.Details != "")

	// The pool keeps serving.
	v, err := p.Run(context.Background(), "ok")
	assert.NilError(t, err)
	assert.Equal(t, v, "OK")
}

func TestCanceledWhileQueued(t *testing.T) {
	release := make(chan struct{})
	p := New(1, func(ctx context.Context, req int) (int, error) {
		<-release
		return req, nil
	})
	defer p.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.Run(context.Background(), 1)
	}()

	// Wait until the only worker is busy.
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		_, err := p.Run(ctx, 2)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			break
		}
	}

	close(release)
	<-done
}

func TestClosed(t *testing.T) {
	p := New(1, func(ctx context.Context, req int) (int, error) { return req, nil })
	p.Close()

	_, err := p.Run(context.Background(), 1)
	assert.Assert(t, errors.Is(err, ErrClosed))
}

func TestDecodeEnvelope(t *testing.T) {
	type schema struct {
		Request map[string]any `json:"request"`
	}

	got, err := decodeEnvelope[schema]([]byte(`{"result": {"request": {"type": "object"}}}`))
	assert.NilError(t, err)
	if d := cmp.Diff(schema{Request: map[string]any{"type": "object"}}, got); d != "" {
		t.Errorf("mismatch (-want +got):\n%s", d)
	}

	_, err = decodeEnvelope[schema]([]byte(`{"error": {"message": "no default export", "details": "at line 3"}}`))
	var failure *Failure
	assert.Assert(t, errors.As(err, &failure))
	assert.Equal(t, failure.Message, "no default export")
	assert.Equal(t, failure.Details, "at line 3")

	_, err = decodeEnvelope[schema]([]byte(`warning: something`))
	assert.ErrorContains(t, err, "invalid response")

	_, err = decodeEnvelope[schema]([]byte(`{}`))
	assert.ErrorContains(t, err, "without a result")
}

func TestExecHandler(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no shell available")
	}

	type request struct {
		ScriptPath string `json:"scriptPath"`
	}

	handler := ExecHandler[request, string]("echo", sh, "-c", `cat >/dev/null; echo '{"result": "done"}'`)
	p := New(1, handler)
	defer p.Close()

	v, err := p.Run(context.Background(), request{ScriptPath: "/p/a.ts"})
	assert.NilError(t, err)
	assert.Equal(t, v, "done")

	failing := New(1, ExecHandler[request, string]("fail", sh, "-c", `echo oops >&2; exit 3`))
	defer failing.Close()

	_, err = failing.Run(context.Background(), request{})
	assert.ErrorContains(t, err, "oops")
}
