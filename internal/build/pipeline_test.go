// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package build

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gotest.tools/assert"
	"namespacelabs.dev/backendkit/internal/buildcache"
	"namespacelabs.dev/backendkit/internal/codegen"
	"namespacelabs.dev/backendkit/internal/fnerrors"
	"namespacelabs.dev/backendkit/internal/project"
	"namespacelabs.dev/backendkit/schema"
)

type fakes struct {
	mu         sync.Mutex
	compiled   []string
	generated  []string
	entrypoint codegen.Schemas
	migrated   []string
	bundled    int
	inflated   int
	failOn     string
}

func (f *fakes) collaborators() Collaborators {
	return Collaborators{
		Schemas:        compilerFunc(f.compile),
		Generator:      &fakeGenerator{f: f},
		Migrator:       migratorFunc(f.migrate),
		Bundler:        bundlerFunc(f.bundle),
		InflateRuntime: func(context.Context, string) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.inflated++
			return nil
		},
	}
}

func (f *fakes) compile(_ context.Context, req SchemaRequest) (schema.ScriptSchema, error) {
	contents, err := os.ReadFile(req.ScriptPath)
	if err != nil {
		return schema.ScriptSchema{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.compiled = append(f.compiled, req.Module+"."+req.Script)

	request, _ := json.Marshal(map[string]string{"source": string(contents)})
	return schema.ScriptSchema{Request: request, Response: json.RawMessage(`{"type":"object"}`)}, nil
}

func (f *fakes) migrate(_ context.Context, modules []*project.Module) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range modules {
		f.migrated = append(f.migrated, m.Name)
	}
	return nil
}

func (f *fakes) bundle(context.Context, *project.Project, codegen.Runtime) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bundled++
	return nil
}

func (f *fakes) record(what string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if what == f.failOn {
		return errors.New("generator failed")
	}
	f.generated = append(f.generated, what)
	return nil
}

func (f *fakes) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compiled, f.generated, f.migrated, f.entrypoint = nil, nil, nil, nil
	f.bundled, f.inflated = 0, 0
}

func (f *fakes) sortedCompiled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.compiled...)
	sort.Strings(out)
	return out
}

type compilerFunc func(context.Context, SchemaRequest) (schema.ScriptSchema, error)

func (f compilerFunc) Compile(ctx context.Context, req SchemaRequest) (schema.ScriptSchema, error) {
	return f(ctx, req)
}

type migratorFunc func(context.Context, []*project.Module) error

func (f migratorFunc) MigrateDev(ctx context.Context, modules []*project.Module) error {
	return f(ctx, modules)
}

type bundlerFunc func(context.Context, *project.Project, codegen.Runtime) error

func (f bundlerFunc) Bundle(ctx context.Context, p *project.Project, runtime codegen.Runtime) error {
	return f(ctx, p, runtime)
}

type fakeGenerator struct{ f *fakes }

func (g *fakeGenerator) ModuleHelper(_ context.Context, m *project.Module) error {
	return g.f.record("Module helper " + m.Name)
}

func (g *fakeGenerator) TypeHelper(_ context.Context, m *project.Module) error {
	return g.f.record("Type helper " + m.Name)
}

func (g *fakeGenerator) TestHelper(_ context.Context, m *project.Module) error {
	return g.f.record("Test helper " + m.Name)
}

func (g *fakeGenerator) ScriptHelper(_ context.Context, m *project.Module, s *project.Script) error {
	return g.f.record("Script helper " + m.Name + "." + s.Name)
}

func (g *fakeGenerator) RouteHelper(_ context.Context, m *project.Module, r *project.Route) error {
	return g.f.record("Route helper " + m.Name + "." + r.Name)
}

func (g *fakeGenerator) TypeHelpers(context.Context) error   { return g.f.record("Type helpers") }
func (g *fakeGenerator) RuntimeConfig(context.Context) error { return g.f.record("Runtime config") }

func (g *fakeGenerator) Entrypoint(_ context.Context, schemas codegen.Schemas) error {
	g.f.mu.Lock()
	g.f.entrypoint = schemas
	g.f.mu.Unlock()
	return g.f.record("Entrypoint")
}

func (g *fakeGenerator) OpenAPI(context.Context, codegen.Schemas) error {
	return g.f.record("OpenAPI")
}

func writeFile(t *testing.T, path, contents string) {
	assert.NilError(t, os.MkdirAll(filepath.Dir(path), 0755))
	assert.NilError(t, os.WriteFile(path, []byte(contents), 0644))
}

// newProject lays out a module "users" with the scripts a and b.
func newProject(t *testing.T) *project.Project {
	root := t.TempDir()

	users := &project.Module{
		Name:     "users",
		Path:     filepath.Join(root, "modules", "users"),
		Registry: &project.Registry{Name: "local"},
	}
	writeFile(t, users.ConfigPath(), "scripts:\n  a: {}\n  b: {}\n")

	for _, name := range []string{"a", "b"} {
		s := &project.Script{Name: name, Path: filepath.Join(users.Path, "scripts", name+".ts")}
		writeFile(t, s.Path, "export async function run() { return "+name+"; }")
		users.Scripts = append(users.Scripts, s)
	}

	return &project.Project{Root: root, Modules: []*project.Module{users}}
}

func (f *fakes) schemaSource(t *testing.T, module, script string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	sch, ok := f.entrypoint.Get(module, script)
	assert.Assert(t, ok, "missing schema of %s.%s", module, script)

	var req map[string]string
	assert.NilError(t, json.Unmarshal(sch.Request, &req))
	return req["source"]
}

func TestOnlyChangedScriptsRecompile(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	f := &fakes{}

	_, err := Build(ctx, p, Opts{Format: FormatNative}, f.collaborators())
	assert.NilError(t, err)

	if d := cmp.Diff([]string{"users.a", "users.b"}, f.sortedCompiled()); d != "" {
		t.Errorf("first build mismatch (-want +got):\n%s", d)
	}

	// Nothing changed: schemas are restored from the cache.
	f.reset()
	res, err := Build(ctx, p, Opts{Format: FormatNative}, f.collaborators())
	assert.NilError(t, err)

	assert.Equal(t, len(f.sortedCompiled()), 0)
	assert.Equal(t, f.schemaSource(t, "users", "a"), "export async function run() { return a; }")
	assert.Equal(t, f.schemaSource(t, "users", "b"), "export async function run() { return b; }")
	assert.Equal(t, res.Stats.Skipped > 0, true)

	// Only a was edited.
	writeFile(t, p.Modules[0].Scripts[0].Path, "export async function run() { return 'A'; }")

	f.reset()
	_, err = Build(ctx, p, Opts{Format: FormatNative}, f.collaborators())
	assert.NilError(t, err)

	if d := cmp.Diff([]string{"users.a"}, f.sortedCompiled()); d != "" {
		t.Errorf("after edit mismatch (-want +got):\n%s", d)
	}
	assert.Equal(t, f.schemaSource(t, "users", "a"), "export async function run() { return 'A'; }")
	assert.Equal(t, f.schemaSource(t, "users", "b"), "export async function run() { return b; }")
}

func TestAlwaysRunSteps(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	f := &fakes{}

	for i := 0; i < 2; i++ {
		f.reset()
		_, err := Build(ctx, p, Opts{Format: FormatNative}, f.collaborators())
		assert.NilError(t, err)

		assert.Equal(t, f.inflated, 1)
		assert.Equal(t, f.bundled, 0)
		for _, want := range []string{"Runtime config", "Entrypoint", "OpenAPI"} {
			assert.Assert(t, contains(f.generated, want), "%s did not run in build %d", want, i)
		}
	}

	f.reset()
	_, err := Build(ctx, p, Opts{Format: FormatBundled}, f.collaborators())
	assert.NilError(t, err)
	assert.Equal(t, f.bundled, 1)
}

func TestSecondBuildIsUpToDate(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	f := &fakes{}

	_, err := Build(ctx, p, Opts{}, f.collaborators())
	assert.NilError(t, err)

	f.reset()
	_, err = Build(ctx, p, Opts{}, f.collaborators())
	assert.NilError(t, err)

	for _, skipped := range []string{"Module helper users", "Type helper users", "Test helper users", "Script helper users.a", "Type helpers"} {
		assert.Assert(t, !contains(f.generated, skipped), "%s should have been skipped", skipped)
	}
}

func TestEmptyProject(t *testing.T) {
	ctx := context.Background()
	p := &project.Project{Root: t.TempDir()}
	f := &fakes{}

	for i := 0; i < 2; i++ {
		f.reset()
		res, err := Build(ctx, p, Opts{Format: FormatNative}, f.collaborators())
		assert.NilError(t, err)
		assert.Equal(t, len(res.Degraded), 0)

		for _, want := range []string{"Type helpers", "Runtime config", "Entrypoint", "OpenAPI"} {
			assert.Assert(t, contains(f.generated, want), "%s did not run in build %d", want, i)
		}
	}

	_, err := os.Stat(buildcache.PathFor(p.Root))
	assert.NilError(t, err)
}

func TestForceRebuild(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	f := &fakes{}

	_, err := Build(ctx, p, Opts{}, f.collaborators())
	assert.NilError(t, err)

	f.reset()
	res, err := Build(ctx, p, Opts{ForceRebuild: true}, f.collaborators())
	assert.NilError(t, err)

	if d := cmp.Diff([]string{"users.a", "users.b"}, f.sortedCompiled()); d != "" {
		t.Errorf("mismatch (-want +got):\n%s", d)
	}
	assert.Assert(t, contains(f.generated, "Module helper users"))
	assert.Equal(t, res.Stats.Skipped, 0)
}

func TestFailedBuildKeepsCache(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	f := &fakes{}

	_, err := Build(ctx, p, Opts{}, f.collaborators())
	assert.NilError(t, err)

	cachePath := buildcache.PathFor(p.Root)
	before, err := os.ReadFile(cachePath)
	assert.NilError(t, err)

	writeFile(t, p.Modules[0].Scripts[0].Path, "export async function run() { return 'A'; }")

	f.reset()
	f.failOn = "OpenAPI"
	_, err = Build(ctx, p, Opts{}, f.collaborators())
	assert.ErrorContains(t, err, "OpenAPI failed")
	assert.Assert(t, fnerrors.IsStepFailed(err))

	after, err := os.ReadFile(cachePath)
	assert.NilError(t, err)
	assert.Equal(t, string(after), string(before))

	// The edit is still detected by the next build.
	f.reset()
	f.failOn = ""
	_, err = Build(ctx, p, Opts{}, f.collaborators())
	assert.NilError(t, err)

	if d := cmp.Diff([]string{"users.a"}, f.sortedCompiled()); d != "" {
		t.Errorf("mismatch (-want +got):\n%s", d)
	}
}

func TestFailureStopsLaterPhases(t *testing.T) {
	p := newProject(t)
	f := &fakes{failOn: "Module helper users"}

	_, err := Build(context.Background(), p, Opts{Format: FormatBundled}, f.collaborators())
	assert.ErrorContains(t, err, "Module helper (users) failed")

	assert.Assert(t, !contains(f.generated, "Entrypoint"))
	assert.Equal(t, f.bundled, 0)

	_, statErr := os.Stat(buildcache.PathFor(p.Root))
	assert.Assert(t, os.IsNotExist(statErr))
}

func TestMissingScriptIsFatal(t *testing.T) {
	p := newProject(t)
	assert.NilError(t, os.Remove(p.Modules[0].Scripts[1].Path))

	f := &fakes{}
	_, err := Build(context.Background(), p, Opts{}, f.collaborators())
	assert.Assert(t, fnerrors.IsInputError(err), "expected an input error, got %v", err)

	var inputErr *fnerrors.InputError
	assert.Assert(t, errors.As(err, &inputErr))
	assert.Equal(t, inputErr.Step, "Script schema")
	assert.Equal(t, inputErr.Scope, "users.b")
}

func TestMissingRouteIsDegraded(t *testing.T) {
	p := newProject(t)
	users := p.Modules[0]
	users.Routes = []*project.Route{{Name: "avatar", Path: filepath.Join(users.Path, "routes", "avatar.ts")}}

	f := &fakes{}
	res, err := Build(context.Background(), p, Opts{}, f.collaborators())
	assert.NilError(t, err)

	assert.Equal(t, len(res.Degraded), 1)
	assert.Equal(t, res.Degraded[0].Step, "Route helper")
	assert.Equal(t, res.Degraded[0].Scope.String(), "users.avatar")
	assert.Assert(t, !contains(f.generated, "Route helper users.avatar"))
}

func TestMigrations(t *testing.T) {
	ctx := context.Background()
	p := newProject(t)
	users := p.Modules[0]
	users.DB = &project.Database{Name: "module_users", SchemaPath: filepath.Join(users.Path, "db", "schema.prisma")}
	writeFile(t, users.DB.SchemaPath, "model User { id Int @id }")

	external := &project.Module{
		Name:     "billing",
		Path:     filepath.Join(p.Root, "vendor", "billing"),
		Registry: &project.Registry{Name: "vendor", External: true},
	}
	external.DB = &project.Database{Name: "module_billing", SchemaPath: filepath.Join(external.Path, "db", "schema.prisma")}
	writeFile(t, external.ConfigPath(), "{}")
	writeFile(t, external.DB.SchemaPath, "model Invoice { id Int @id }")
	p.Modules = append(p.Modules, external)

	f := &fakes{}
	_, err := Build(ctx, p, Opts{}, f.collaborators())
	assert.NilError(t, err)
	assert.Equal(t, len(f.migrated), 0)

	f.reset()
	_, err = Build(ctx, p, Opts{Migrate: true}, f.collaborators())
	assert.NilError(t, err)
	if d := cmp.Diff([]string{"users"}, f.migrated); d != "" {
		t.Errorf("mismatch (-want +got):\n%s", d)
	}

	// Schemas unchanged.
	f.reset()
	_, err = Build(ctx, p, Opts{Migrate: true}, f.collaborators())
	assert.NilError(t, err)
	assert.Equal(t, len(f.migrated), 0)
}

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("bundled")
	assert.NilError(t, err)
	assert.Equal(t, format, FormatBundled)

	_, err = ParseFormat("zip")
	assert.ErrorContains(t, err, `"zip" is not a supported output format`)
}

func contains(list []string, str string) bool {
	for _, s := range list {
		if s == str {
			return true
		}
	}
	return false
}
