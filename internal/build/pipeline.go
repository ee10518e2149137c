// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package build turns a loaded project into generated sources, running each
// generation step only when its inputs changed since the previous build.
package build

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"namespacelabs.dev/backendkit/framework/tracing"
	"namespacelabs.dev/backendkit/internal/buildcache"
	"namespacelabs.dev/backendkit/internal/codegen"
	"namespacelabs.dev/backendkit/internal/fnerrors"
	"namespacelabs.dev/backendkit/internal/hashstore"
	"namespacelabs.dev/backendkit/internal/migrate"
	"namespacelabs.dev/backendkit/internal/project"
	"namespacelabs.dev/backendkit/internal/steps"
	"namespacelabs.dev/backendkit/schema"
	"namespacelabs.dev/go-ids"
)

type Format string

const (
	FormatNative  Format = "native"
	FormatBundled Format = "bundled"
)

func ParseFormat(str string) (Format, error) {
	switch f := Format(str); f {
	case FormatNative, FormatBundled:
		return f, nil
	}
	return "", fnerrors.UsageError("Use --format=native or --format=bundled.", "%q is not a supported output format.", str)
}

type Opts struct {
	Format       Format
	Runtime      codegen.Runtime
	ForceRebuild bool
	MaxParallel  int64
	// Apply database migrations of the project's own modules.
	Migrate bool

	Tracer     trace.Tracer
	Registerer prometheus.Registerer
}

type Result struct {
	ID        string
	CachePath string
	Stats     steps.Stats
	Degraded  []steps.Degraded
	Took      time.Duration
}

type pipeline struct {
	project *project.Project
	opts    Opts
	c       Collaborators
	cache   *buildcache.Cache
	sched   *steps.Scheduler
	schemas schemaSet
}

// Build runs every generation step of the project. The build cache is only
// written when all phases completed; a failed build leaves it untouched.
func Build(ctx context.Context, p *project.Project, opts Opts, c Collaborators) (*Result, error) {
	id := ids.NewRandomBase32ID(8)

	return tracing.Collect1(ctx, opts.Tracer, tracing.Name("build").NewRoot().Attribute(
		attribute.String("build.id", id), attribute.String("build.root", p.Root), attribute.String("build.format", string(opts.Format))),
		func(ctx context.Context) (*Result, error) {
			return build(ctx, id, p, opts, c)
		})
}

func build(ctx context.Context, id string, p *project.Project, opts Opts, c Collaborators) (*Result, error) {
	started := time.Now()

	logger := zerolog.Ctx(ctx).With().Str("build", id).Logger()
	ctx = logger.WithContext(ctx)

	cachePath := buildcache.PathFor(p.Root)
	cache := buildcache.New(buildcache.Load(ctx, cachePath))

	b := &pipeline{
		project: p,
		opts:    opts,
		c:       c,
		cache:   cache,
		sched: steps.New(ctx, hashstore.New(cache), steps.Opts{
			ForceRebuild: opts.ForceRebuild,
			MaxParallel:  opts.MaxParallel,
			Tracer:       opts.Tracer,
			Registerer:   opts.Registerer,
		}),
	}

	phases := []struct {
		name   string
		submit func()
	}{
		{"infrastructure", b.infrastructure},
		{"modules", b.modules},
		{"artifacts", b.artifacts},
		{"bundle", b.bundle},
	}

	for _, phase := range phases {
		if err := tracing.CollectAndLogDuration0(ctx, opts.Tracer, tracing.Name(phase.name), func(context.Context) error {
			phase.submit()
			return b.sched.Barrier()
		}); err != nil {
			logger.Debug().Str("phase", phase.name).Msg("Build failed, keeping the previous cache.")
			return nil, err
		}
	}

	if err := buildcache.Persist(ctx, cachePath, cache); err != nil {
		return nil, err
	}

	res := &Result{
		ID:        id,
		CachePath: cachePath,
		Stats:     b.sched.Stats(),
		Degraded:  b.sched.Degraded(),
		Took:      time.Since(started),
	}

	logger.Info().Int("executed", res.Stats.Executed).Int("skipped", res.Stats.Skipped).
		Int("degraded", len(res.Degraded)).Dur("took", res.Took).Msg("Build completed.")

	return res, nil
}

func (b *pipeline) infrastructure() {
	var schemaPaths []string
	for _, m := range b.project.Modules {
		if m.DB != nil {
			schemaPaths = append(schemaPaths, m.DB.SchemaPath)
		}
	}

	if len(schemaPaths) > 0 && b.opts.Migrate {
		b.sched.Submit(steps.Step{
			Name:              "Database schema",
			Inputs:            schemaPaths,
			FatalOnInputError: true,
			Run: func(ctx context.Context) error {
				return b.c.Migrator.MigrateDev(ctx, migrate.Migratable(b.project.Modules))
			},
		})
	}

	b.sched.Submit(steps.Step{
		Name:      "Inflate runtime",
		AlwaysRun: true,
		Run: func(ctx context.Context) error {
			return b.c.InflateRuntime(ctx, codegen.RuntimeDir(b.project))
		},
	})
}

func (b *pipeline) modules() {
	for _, m := range b.project.Modules {
		m := m
		configPath := m.ConfigPath()
		scope := steps.Scope{Module: m.Name}

		b.sched.Submit(steps.Step{
			Name:   "Module helper",
			Scope:  scope,
			Inputs: []string{configPath},
			Run:    func(ctx context.Context) error { return b.c.Generator.ModuleHelper(ctx, m) },
		})

		b.sched.Submit(steps.Step{
			Name:   "Type helper",
			Scope:  scope,
			Inputs: []string{configPath},
			Run:    func(ctx context.Context) error { return b.c.Generator.TypeHelper(ctx, m) },
		})

		b.sched.Submit(steps.Step{
			Name:   "Test helper",
			Scope:  scope,
			Inputs: []string{configPath},
			Run:    func(ctx context.Context) error { return b.c.Generator.TestHelper(ctx, m) },
		})

		for _, s := range m.Scripts {
			s := s
			b.sched.Submit(b.scriptSchema(m, s))
			b.sched.Submit(steps.Step{
				Name:   "Script helper",
				Scope:  steps.Scope{Module: m.Name, Script: s.Name},
				Inputs: []string{configPath, s.Path},
				Run:    func(ctx context.Context) error { return b.c.Generator.ScriptHelper(ctx, m, s) },
			})
		}

		for _, r := range m.Routes {
			r := r
			b.sched.Submit(steps.Step{
				Name:   "Route helper",
				Scope:  steps.Scope{Module: m.Name, Script: r.Name},
				Inputs: []string{configPath, r.Path},
				Run:    func(ctx context.Context) error { return b.c.Generator.RouteHelper(ctx, m, r) },
			})
		}
	}

	b.sched.Submit(steps.Step{
		Name:   "Type helpers",
		Inputs: b.project.ModuleConfigPaths(),
		// An empty project has no module to trigger on.
		AlwaysRun: len(b.project.Modules) == 0,
		Run:       b.c.Generator.TypeHelpers,
	})

	b.sched.Submit(steps.Step{
		Name:      "Runtime config",
		AlwaysRun: true,
		Run:       b.c.Generator.RuntimeConfig,
	})
}

// scriptSchema compiles the schema of a script, or restores it from the
// previous build when neither the script nor its module changed. Either way
// the schema is carried into the next cache generation.
func (b *pipeline) scriptSchema(m *project.Module, s *project.Script) steps.Step {
	previous, hasPrevious := previousSchema(b.cache.Previous(), m.Name, s.Name)

	var compiled schema.ScriptSchema
	return steps.Step{
		Name:   "Script schema",
		Scope:  steps.Scope{Module: m.Name, Script: s.Name},
		Inputs: []string{m.ConfigPath(), s.Path},
		// Nothing to restore from.
		AlwaysRun: !hasPrevious,
		// The entrypoint can't be generated without every schema.
		FatalOnInputError: true,
		Run: func(ctx context.Context) error {
			sch, err := b.c.Schemas.Compile(ctx, SchemaRequest{
				Module:     m.Name,
				Script:     s.Name,
				ScriptPath: s.Path,
				ConfigPath: m.ConfigPath(),
			})
			if err != nil {
				return err
			}
			compiled = sch
			return nil
		},
		Finalize: func(ctx context.Context, outcome steps.Outcome) error {
			if outcome == steps.Skipped {
				compiled = previous
			}

			if !compiled.IsSet() {
				return fnerrors.InternalError("%s.%s: schema compiler returned an empty schema", m.Name, s.Name)
			}

			data, err := json.Marshal(compiled)
			if err != nil {
				return fnerrors.InternalError("failed to serialize schema: %w", err)
			}

			b.cache.Current().SetDerived(m.Name, s.Name, data)
			b.schemas.set(m.Name, s.Name, compiled)
			return nil
		},
	}
}

func previousSchema(snap *buildcache.Snapshot, module, script string) (schema.ScriptSchema, bool) {
	var sch schema.ScriptSchema

	data, ok := snap.Derived(module, script)
	if !ok {
		return sch, false
	}

	if err := json.Unmarshal(data, &sch); err != nil || !sch.IsSet() {
		return sch, false
	}

	return sch, true
}

func (b *pipeline) artifacts() {
	b.sched.Submit(steps.Step{
		Name:      "Entrypoint",
		AlwaysRun: true,
		Run: func(ctx context.Context) error {
			return b.c.Generator.Entrypoint(ctx, b.schemas.snapshot())
		},
	})

	b.sched.Submit(steps.Step{
		Name:      "OpenAPI",
		AlwaysRun: true,
		Run: func(ctx context.Context) error {
			return b.c.Generator.OpenAPI(ctx, b.schemas.snapshot())
		},
	})
}

// bundle reads the entrypoint, so it runs behind its own barrier.
func (b *pipeline) bundle() {
	if b.opts.Format != FormatBundled {
		return
	}

	b.sched.Submit(steps.Step{
		Name:      "Bundle",
		AlwaysRun: true,
		Run: func(ctx context.Context) error {
			return b.c.Bundler.Bundle(ctx, b.project, b.opts.Runtime)
		},
	})
}

func (r *Result) String() string {
	return fmt.Sprintf("%d executed, %d up to date, %d degraded", r.Stats.Executed, r.Stats.Skipped, len(r.Degraded))
}
