// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package codegen renders the TypeScript sources which glue a project's
// modules to the runtime.
package codegen

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/iancoleman/strcase"
	"namespacelabs.dev/backendkit/internal/fnerrors"
	"namespacelabs.dev/backendkit/internal/project"
	"namespacelabs.dev/backendkit/schema"
)

type Runtime string

const (
	RuntimeDeno       Runtime = "deno"
	RuntimeCloudflare Runtime = "cloudflare"
)

type DBDriver string

const (
	DriverNodePostgres   DBDriver = "node-postgres"
	DriverNeonServerless DBDriver = "neon-serverless"
)

// Schemas maps module name to script name.
type Schemas map[string]map[string]schema.ScriptSchema

func (s Schemas) Get(module, script string) (schema.ScriptSchema, bool) {
	v, ok := s[module][script]
	return v, ok
}

func ModuleHelperPath(m *project.Module) string { return filepath.Join(m.Path, "module.gen.ts") }
func TypeHelperPath(m *project.Module) string   { return m.GenPath("registry.d.ts") }
func TestHelperPath(m *project.Module) string   { return m.GenPath("test.ts") }

func ScriptHelperPath(m *project.Module, s *project.Script) string {
	return m.GenPath("scripts", s.Name+".ts")
}

func RouteHelperPath(m *project.Module, r *project.Route) string {
	return m.GenPath("routes", r.Name+".ts")
}

func TypeHelpersPath(p *project.Project) string   { return p.GenPath("registry.d.ts") }
func RuntimeConfigPath(p *project.Project) string { return p.GenPath("runtime_config.ts") }
func EntrypointPath(p *project.Project) string    { return p.GenPath("entrypoint.ts") }
func OpenAPIPath(p *project.Project) string       { return p.GenPath("openapi.json") }
func RuntimeDir(p *project.Project) string        { return p.GenPath("runtime") }

type Generator struct {
	Project  *project.Project
	Runtime  Runtime
	DBDriver DBDriver
}

func (g Generator) runtimeImport(from string) string {
	return importPath(from, filepath.Join(RuntimeDir(g.Project), "mod.ts"))
}

func (g Generator) registryImport(from string) string {
	return importPath(from, TypeHelpersPath(g.Project))
}

func (g Generator) ModuleHelper(ctx context.Context, m *project.Module) error {
	path := ModuleHelperPath(m)
	return generateSource(ctx, path, moduleHelperTmpl, map[string]interface{}{
		"Module":   m,
		"Runtime":  g.runtimeImport(path),
		"Registry": g.registryImport(path),
	})
}

func (g Generator) TypeHelper(ctx context.Context, m *project.Module) error {
	path := TypeHelperPath(m)

	sources := map[string]string{}
	for _, s := range m.Scripts {
		sources[s.Name] = importPath(path, s.Path)
	}

	var errs []string
	for name := range m.Config.Errors {
		errs = append(errs, name)
	}
	sort.Strings(errs)

	return generateSource(ctx, path, typeHelperTmpl, map[string]interface{}{
		"Module":  m,
		"Sources": sources,
		"Errors":  errs,
	})
}

func (g Generator) TestHelper(ctx context.Context, m *project.Module) error {
	path := TestHelperPath(m)
	return generateSource(ctx, path, testHelperTmpl, map[string]interface{}{
		"Module":  m,
		"Runtime": g.runtimeImport(path),
		"Config":  importPath(path, RuntimeConfigPath(g.Project)),
	})
}

func (g Generator) ScriptHelper(ctx context.Context, m *project.Module, s *project.Script) error {
	path := ScriptHelperPath(m, s)
	return generateSource(ctx, path, scriptHelperTmpl, map[string]interface{}{
		"Module":   m,
		"Script":   s,
		"Runtime":  g.runtimeImport(path),
		"Registry": g.registryImport(path),
		"Source":   importPath(path, s.Path),
	})
}

func (g Generator) RouteHelper(ctx context.Context, m *project.Module, r *project.Route) error {
	path := RouteHelperPath(m, r)
	return generateSource(ctx, path, routeHelperTmpl, map[string]interface{}{
		"Module":   m,
		"Route":    r,
		"Methods":  methods(r),
		"Runtime":  g.runtimeImport(path),
		"Registry": g.registryImport(path),
	})
}

// TypeHelpers renders the registry of every module's script types.
func (g Generator) TypeHelpers(ctx context.Context) error {
	path := TypeHelpersPath(g.Project)

	type moduleImport struct {
		Name   string
		Import string
	}

	var modules []moduleImport
	for _, m := range g.Project.Modules {
		modules = append(modules, moduleImport{Name: m.Name, Import: importPath(path, TypeHelperPath(m))})
	}

	return generateSource(ctx, path, typeHelpersTmpl, map[string]interface{}{"Modules": modules})
}

func (g Generator) RuntimeConfig(ctx context.Context) error {
	return generateSource(ctx, RuntimeConfigPath(g.Project), runtimeConfigTmpl, map[string]interface{}{
		"Runtime":  string(g.Runtime),
		"DBDriver": string(g.DBDriver),
		"Modules":  g.Project.Modules,
	})
}

// Entrypoint renders the module which registers every script and route with
// the runtime. Request and response schemas of every script are required.
func (g Generator) Entrypoint(ctx context.Context, schemas Schemas) error {
	path := EntrypointPath(g.Project)

	type scriptEntry struct {
		Module, Name, Alias, Import string
		Public                      bool
		Schema                      schema.ScriptSchema
	}

	type routeEntry struct {
		Module, Name, Alias, Import string
		Config                      project.RouteConfig
		Methods                     []string
	}

	var scripts []scriptEntry
	var routes []routeEntry
	for _, m := range g.Project.Modules {
		for _, s := range m.Scripts {
			sch, ok := schemas.Get(m.Name, s.Name)
			if !ok || !sch.IsSet() {
				return fnerrors.InternalError("%s.%s: schema is missing", m.Name, s.Name)
			}

			scripts = append(scripts, scriptEntry{
				Module: m.Name,
				Name:   s.Name,
				Alias:  "script" + strcase.ToCamel(m.Name) + strcase.ToCamel(s.Name),
				Import: importPath(path, s.Path),
				Public: s.Config.Public,
				Schema: sch,
			})
		}

		for _, r := range m.Routes {
			routes = append(routes, routeEntry{
				Module:  m.Name,
				Name:    r.Name,
				Alias:   "route" + strcase.ToCamel(m.Name) + strcase.ToCamel(r.Name),
				Import:  importPath(path, r.Path),
				Config:  r.Config,
				Methods: methods(r),
			})
		}
	}

	return generateSource(ctx, path, entrypointTmpl, map[string]interface{}{
		"Runtime": string(g.Runtime),
		"Scripts": scripts,
		"Routes":  routes,
	})
}

func methods(r *project.Route) []string {
	if len(r.Config.Methods) == 0 {
		return []string{"GET"}
	}

	var out []string
	for _, m := range r.Config.Methods {
		out = append(out, strings.ToUpper(m))
	}
	return out
}
