// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package build

import (
	"context"
	"sync"

	"namespacelabs.dev/backendkit/internal/codegen"
	"namespacelabs.dev/backendkit/internal/workerpool"
	"namespacelabs.dev/backendkit/schema"
)

// WorkerCompiler runs schema extraction on a pool of command-backed workers.
type WorkerCompiler struct {
	pool *workerpool.Pool[SchemaRequest, schema.ScriptSchema]
}

func NewWorkerCompiler(workers int, command string, args ...string) *WorkerCompiler {
	handler := workerpool.ExecHandler[SchemaRequest, schema.ScriptSchema]("schema compiler", command, args...)
	return &WorkerCompiler{pool: workerpool.New(workers, handler)}
}

func (w *WorkerCompiler) Compile(ctx context.Context, req SchemaRequest) (schema.ScriptSchema, error) {
	return w.pool.Run(ctx, req)
}

func (w *WorkerCompiler) Close() { w.pool.Close() }

// schemaSet holds the schemas produced during a build; written by
// concurrently running steps, read after a barrier.
type schemaSet struct {
	mu      sync.Mutex
	schemas codegen.Schemas
}

func (s *schemaSet) set(module, script string, sch schema.ScriptSchema) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schemas == nil {
		s.schemas = codegen.Schemas{}
	}
	if s.schemas[module] == nil {
		s.schemas[module] = map[string]schema.ScriptSchema{}
	}
	s.schemas[module][script] = sch
}

func (s *schemaSet) snapshot() codegen.Schemas {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := codegen.Schemas{}
	for module, scripts := range s.schemas {
		out[module] = map[string]schema.ScriptSchema{}
		for script, sch := range scripts {
			out[module][script] = sch
		}
	}
	return out
}
