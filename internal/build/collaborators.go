// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package build

import (
	"context"
	"path/filepath"

	"namespacelabs.dev/backendkit/internal/bundle"
	"namespacelabs.dev/backendkit/internal/codegen"
	"namespacelabs.dev/backendkit/internal/migrate"
	"namespacelabs.dev/backendkit/internal/project"
	"namespacelabs.dev/backendkit/schema"
)

const DefaultSchemaWorkers = 4

// SchemaRequest carries everything needed to extract a script's schema,
// without any state shared with the build.
type SchemaRequest struct {
	Module     string `json:"module"`
	Script     string `json:"script"`
	ScriptPath string `json:"scriptPath"`
	ConfigPath string `json:"configPath"`
}

// SchemaCompiler extracts the request and response shape of a script.
type SchemaCompiler interface {
	Compile(context.Context, SchemaRequest) (schema.ScriptSchema, error)
}

// Generator renders the sources derived from the project's modules.
type Generator interface {
	ModuleHelper(context.Context, *project.Module) error
	TypeHelper(context.Context, *project.Module) error
	TestHelper(context.Context, *project.Module) error
	ScriptHelper(context.Context, *project.Module, *project.Script) error
	RouteHelper(context.Context, *project.Module, *project.Route) error
	TypeHelpers(context.Context) error
	RuntimeConfig(context.Context) error
	Entrypoint(context.Context, codegen.Schemas) error
	OpenAPI(context.Context, codegen.Schemas) error
}

type Migrator interface {
	MigrateDev(context.Context, []*project.Module) error
}

type Bundler interface {
	Bundle(context.Context, *project.Project, codegen.Runtime) error
}

type Collaborators struct {
	Schemas   SchemaCompiler
	Generator Generator
	Migrator  Migrator
	Bundler   Bundler
	// Writes the runtime sources into the given directory.
	InflateRuntime func(ctx context.Context, dir string) error
}

// Tools configures the external programs behind the default collaborators.
type Tools struct {
	DBDriver codegen.DBDriver
	// Command and arguments of a schema compiler worker.
	SchemaCompiler []string
	SchemaWorkers  int
	DatabaseURL    string
	MigrateCommand string
	BundlerCommand string
}

// NewCollaborators returns the default collaborators for p. The returned
// function stops the schema compiler workers.
func NewCollaborators(p *project.Project, runtime codegen.Runtime, tools Tools) (Collaborators, func()) {
	workers := tools.SchemaWorkers
	if workers <= 0 {
		workers = DefaultSchemaWorkers
	}

	var compiler *WorkerCompiler
	if len(tools.SchemaCompiler) > 0 {
		compiler = NewWorkerCompiler(workers, tools.SchemaCompiler[0], tools.SchemaCompiler[1:]...)
	} else {
		compiler = NewWorkerCompiler(workers, "deno", "run", "-A", "--quiet", filepath.Join(codegen.RuntimeDir(p), "schema.ts"))
	}

	return Collaborators{
		Schemas:        compiler,
		Generator:      codegen.Generator{Project: p, Runtime: runtime, DBDriver: tools.DBDriver},
		Migrator:       migrate.Migrator{DatabaseURL: tools.DatabaseURL, Command: tools.MigrateCommand},
		Bundler:        bundle.Bundler{Command: tools.BundlerCommand},
		InflateRuntime: codegen.InflateRuntime,
	}, compiler.Close
}
