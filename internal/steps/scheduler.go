// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package steps

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"namespacelabs.dev/backendkit/framework/tracing"
	"namespacelabs.dev/backendkit/internal/executor"
	"namespacelabs.dev/backendkit/internal/fnerrors"
	"namespacelabs.dev/backendkit/internal/hashstore"
)

type Opts struct {
	// Execute every step, regardless of its inputs.
	ForceRebuild bool
	// If larger than zero, at most MaxParallel steps run at the same time.
	MaxParallel int64

	Tracer     trace.Tracer
	Registerer prometheus.Registerer
}

// Degraded is a step which was dropped from the build because one of its
// inputs could not be read.
type Degraded struct {
	Step  string
	Scope Scope
	Err   *fnerrors.InputError
}

type Stats struct {
	Executed int
	Skipped  int
}

// Scheduler runs steps concurrently, skipping those whose inputs didn't
// change. Steps submitted between two barriers are unordered.
type Scheduler struct {
	ctx     context.Context
	hashes  *hashstore.Store
	opts    Opts
	metrics *metrics

	mu       sync.Mutex
	group    executor.Executor
	wait     func() error
	invalid  error
	degraded []Degraded
	stats    Stats
}

func New(ctx context.Context, hashes *hashstore.Store, opts Opts) *Scheduler {
	return &Scheduler{ctx: ctx, hashes: hashes, opts: opts, metrics: newMetrics(opts.Registerer)}
}

// Submit queues step for execution. Errors are reported by the next Barrier.
func (s *Scheduler) Submit(step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(step.Inputs) == 0 && !step.AlwaysRun {
		if s.invalid == nil {
			s.invalid = fnerrors.InternalError("%s: step has no inputs and is not always run, it would never execute", step.Label())
		}
		return
	}

	if s.group == nil {
		s.group, s.wait = executor.New(s.ctx, "steps", executor.Opts{MaxParallel: s.opts.MaxParallel})
	}

	s.group.Go(func(ctx context.Context) error {
		return s.runStep(ctx, step)
	})
}

// Barrier waits until every step submitted since the previous barrier,
// including its Finalize, completed. The first fatal failure is returned; in
// that case steps which had not started yet were abandoned.
func (s *Scheduler) Barrier() error {
	s.mu.Lock()
	wait := s.wait
	s.group, s.wait = nil, nil
	s.mu.Unlock()

	var err error
	if wait != nil {
		err = wait()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil && s.invalid != nil {
		err = s.invalid
	}
	s.invalid = nil

	return err
}

func (s *Scheduler) Degraded() []Degraded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Degraded(nil), s.degraded...)
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Scheduler) runStep(ctx context.Context, step Step) error {
	started := time.Now()
	scope := step.Scope.String()

	name := tracing.Name(step.Name).Attribute(
		attribute.String("step.module", step.Scope.Module),
		attribute.String("step.script", step.Scope.Script))

	return tracing.Collect0(ctx, s.opts.Tracer, name, func(ctx context.Context) error {
		logger := zerolog.Ctx(ctx).With().Str("step", step.Label()).Logger()

		outcome, err := s.decide(ctx, step)
		if err != nil {
			var inputErr *fnerrors.InputError
			if !errors.As(err, &inputErr) {
				s.metrics.observe(step.Name, outcomeFailed, started)
				return fnerrors.StepFailed(step.Name, scope, err)
			}

			// The store shares errors between steps reading the same file.
			scoped := *inputErr
			scoped.Step = step.Name
			scoped.Scope = scope

			if step.FatalOnInputError {
				s.metrics.observe(step.Name, outcomeFailed, started)
				return &scoped
			}

			logger.Warn().Err(scoped.Err).Str("path", scoped.Path).Msg("Input unreadable, step dropped from this build.")
			// The step didn't see its other inputs either.
			s.hashes.Invalidate(step.Inputs)
			s.metrics.observe(step.Name, outcomeDegraded, started)

			s.mu.Lock()
			s.degraded = append(s.degraded, Degraded{Step: step.Name, Scope: step.Scope, Err: &scoped})
			s.mu.Unlock()
			return nil
		}

		if outcome == Executed && step.Run != nil {
			if err := step.Run(ctx); err != nil {
				s.metrics.observe(step.Name, outcomeFailed, started)
				return fnerrors.StepFailed(step.Name, scope, err)
			}
		}

		if step.Finalize != nil {
			if err := step.Finalize(ctx, outcome); err != nil {
				s.metrics.observe(step.Name, outcomeFailed, started)
				return fnerrors.StepFailed(step.Name, scope, err)
			}
		}

		s.mu.Lock()
		if outcome == Executed {
			s.stats.Executed++
		} else {
			s.stats.Skipped++
		}
		s.mu.Unlock()

		if outcome == Executed {
			logger.Info().Dur("took", time.Since(started)).Msg("Built.")
			s.metrics.observe(step.Name, outcomeExecuted, started)
		} else {
			logger.Debug().Msg("Up to date.")
			s.metrics.observe(step.Name, outcomeSkipped, started)
		}

		return nil
	})
}

func (s *Scheduler) decide(ctx context.Context, step Step) (Outcome, error) {
	if s.opts.ForceRebuild || step.AlwaysRun {
		// Record digests for the next build.
		for _, input := range step.Inputs {
			if _, err := s.hashes.Digest(ctx, input); err != nil {
				return Executed, err
			}
		}
		return Executed, nil
	}

	changed, err := s.hashes.Changed(ctx, step.Inputs)
	if err != nil {
		return Skipped, err
	}

	if changed {
		return Executed, nil
	}

	return Skipped, nil
}
