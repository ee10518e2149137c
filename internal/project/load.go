// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package project

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/philopon/go-toposort"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"namespacelabs.dev/backendkit/internal/fnerrors"
	"sigs.k8s.io/yaml"
)

// Load reads the project rooted at root, along with every module it lists.
func Load(ctx context.Context, root string) (*Project, error) {
	return LoadFS(ctx, afero.NewOsFs(), root)
}

func LoadFS(ctx context.Context, fsys afero.Fs, root string) (*Project, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	p := &Project{Root: root, Registries: map[string]*Registry{}}

	if err := readYAML(fsys, p.ConfigPath(), &p.Config); err != nil {
		return nil, err
	}

	if err := loadRegistries(fsys, p); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(p.Config.Modules))
	for name := range p.Config.Modules {
		names = append(names, name)
	}
	sort.Strings(names)

	var modules []*Module
	for _, name := range names {
		m, err := loadModule(fsys, p, name, p.Config.Modules[name])
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}

	sorted, err := sortModules(p, modules)
	if err != nil {
		return nil, err
	}
	p.Modules = sorted

	zerolog.Ctx(ctx).Debug().Str("root", root).Int("modules", len(p.Modules)).Msg("Loaded project.")

	return p, nil
}

func readYAML(fsys afero.Fs, path string, out interface{}) error {
	contents, err := afero.ReadFile(fsys, path)
	if err != nil {
		if os.IsNotExist(err) {
			return fnerrors.UserError(fileLocation(path), "file not found")
		}
		return fnerrors.UserError(fileLocation(path), "failed to read: %w", err)
	}

	if err := yaml.UnmarshalStrict(contents, out); err != nil {
		return fnerrors.UserError(fileLocation(path), "failed to parse: %w", err)
	}

	return nil
}

func loadRegistries(fsys afero.Fs, p *Project) error {
	configs := p.Config.Registries
	if _, ok := configs[DefaultRegistry]; !ok {
		configs = map[string]RegistryConfig{DefaultRegistry: {Local: &LocalRegistryConfig{Directory: "modules"}}}
		for name, cfg := range p.Config.Registries {
			configs[name] = cfg
		}
	}

	for name, cfg := range configs {
		if cfg.Local == nil {
			return fnerrors.UserError(fileLocation(p.ConfigPath()), "registry %q: only local registries are supported", name)
		}

		path := cfg.Local.Directory
		if !filepath.IsAbs(path) {
			path = filepath.Join(p.Root, path)
		}

		p.Registries[name] = &Registry{Name: name, Path: path, External: cfg.Local.IsExternal}
	}

	return nil
}

func loadModule(fsys afero.Fs, p *Project, name string, projectConfig ProjectModuleConfig) (*Module, error) {
	projectLoc := fileLocation(p.ConfigPath())

	if err := validateModuleName(projectLoc, name); err != nil {
		return nil, err
	}

	registryName := projectConfig.Registry
	if registryName == "" {
		registryName = DefaultRegistry
	}

	registry, ok := p.Registries[registryName]
	if !ok {
		return nil, fnerrors.UserError(projectLoc, "module %q: no such registry %q", name, registryName)
	}

	dir := projectConfig.Module
	if dir == "" {
		dir = name
	}

	m := &Module{
		Name:          name,
		Path:          filepath.Join(registry.Path, dir),
		Registry:      registry,
		ProjectConfig: projectConfig,
	}

	if err := readYAML(fsys, m.ConfigPath(), &m.Config); err != nil {
		return nil, err
	}

	scripts, err := loadSources(fsys, m, "scripts", keys(m.Config.Scripts))
	if err != nil {
		return nil, err
	}
	for _, s := range scripts {
		m.Scripts = append(m.Scripts, &Script{Name: s.name, Path: s.path, Config: m.Config.Scripts[s.name]})
	}

	if err := loadRoutes(fsys, p, m); err != nil {
		return nil, err
	}

	for _, errName := range keys(m.Config.Errors) {
		if err := validateIdentifier(m, "error", errName); err != nil {
			return nil, err
		}
	}

	if isDir, _ := afero.IsDir(fsys, filepath.Join(m.Path, "db")); isDir {
		m.DB = &Database{Name: databaseName(name), SchemaPath: filepath.Join(m.Path, "db", "schema.prisma")}
	}

	return m, nil
}

func loadRoutes(fsys afero.Fs, p *Project, m *Module) error {
	sources, err := loadSources(fsys, m, "routes", keys(m.Config.Routes))
	if err != nil {
		return err
	}

	if len(sources) == 0 {
		return nil
	}

	prefix := "/modules/" + m.Name + "/route/"
	if m.ProjectConfig.Routes != nil && m.ProjectConfig.Routes.PathPrefix != "" {
		prefix = m.ProjectConfig.Routes.PathPrefix
	}

	cleanPrefix, err := cleanRoutePath(fileLocation(p.ConfigPath()), prefix, true)
	if err != nil {
		return err
	}

	for _, src := range sources {
		cfg := m.Config.Routes[src.name]

		switch {
		case cfg.Path != "" && cfg.PathPrefix != "":
			return fnerrors.UserError(m, "route %q: set either path or pathPrefix, not both", src.name)

		case cfg.Path != "":
			sub, err := cleanRoutePath(m, cfg.Path, false)
			if err != nil {
				return err
			}
			cfg.Path = "/" + cleanPrefix + "/" + sub

		case cfg.PathPrefix != "":
			sub, err := cleanRoutePath(m, cfg.PathPrefix, true)
			if err != nil {
				return err
			}
			cfg.PathPrefix = "/" + cleanPrefix + "/" + sub

		default:
			return fnerrors.UserError(m, "route %q: either path or pathPrefix is required", src.name)
		}

		m.Routes = append(m.Routes, &Route{Name: src.name, Path: src.path, Config: cfg})
	}

	return nil
}

type source struct {
	name string
	path string
}

// loadSources resolves the TypeScript source of every declared name under
// the module's dir. Sources which exist but are not declared are an error.
func loadSources(fsys afero.Fs, m *Module, dir string, declared []string) ([]source, error) {
	base := filepath.Join(m.Path, dir)

	found, err := afero.Glob(fsys, filepath.Join(base, "*.ts"))
	if err != nil {
		return nil, err
	}

	extra := map[string]string{}
	for _, f := range found {
		extra[strings.TrimSuffix(filepath.Base(f), ".ts")] = f
	}

	kind := strings.TrimSuffix(dir, "s")

	var sources []source
	for _, name := range declared {
		if err := validateIdentifier(m, kind, name); err != nil {
			return nil, err
		}

		path, ok := extra[name]
		if !ok {
			return nil, fnerrors.UserError(m, "%s %q: %s not found%s", kind, name,
				filepath.Join(base, name+".ts"), didYouMean(name, keys(extra)))
		}
		delete(extra, name)

		sources = append(sources, source{name: name, path: path})
	}

	if len(extra) > 0 {
		var list []string
		for _, name := range keys(extra) {
			list = append(list, "- "+extra[name])
		}
		return nil, fnerrors.UserError(fileLocation(base), "found %ss not registered in %s:\n%s", kind, ModuleConfigFile, strings.Join(list, "\n"))
	}

	return sources, nil
}

func sortModules(p *Project, modules []*Module) ([]*Module, error) {
	graph := toposort.NewGraph(len(modules))

	byName := map[string]*Module{}
	for _, m := range modules {
		byName[m.Name] = m
		graph.AddNode(m.Name)
	}

	for _, m := range modules {
		for _, dep := range m.Config.Dependencies {
			if _, ok := byName[dep]; !ok {
				return nil, fnerrors.UserError(m, "depends on %q, which is not part of the project%s", dep, didYouMean(dep, keys(byName)))
			}
			graph.AddEdge(dep, m.Name)
		}
	}

	order, ok := graph.Toposort()
	if !ok {
		return nil, fnerrors.UserError(fileLocation(p.ConfigPath()), "module dependencies form a cycle")
	}

	sorted := make([]*Module, 0, len(order))
	for _, name := range order {
		sorted = append(sorted, byName[name])
	}

	return sorted, nil
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
