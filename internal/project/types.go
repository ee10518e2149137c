// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package project

import (
	"path/filepath"
)

const GenDir = "_gen"

type Project struct {
	Root       string
	Config     ProjectConfig
	Registries map[string]*Registry
	// Dependencies come before their dependents.
	Modules []*Module
}

func (p *Project) ConfigPath() string { return filepath.Join(p.Root, ProjectConfigFile) }

// GenPath returns the location of a generated project-level file.
func (p *Project) GenPath(elem ...string) string {
	return filepath.Join(append([]string{p.Root, GenDir}, elem...)...)
}

func (p *Project) Module(name string) (*Module, bool) {
	for _, m := range p.Modules {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// ModuleConfigPaths returns the module.yaml of every module.
func (p *Project) ModuleConfigPaths() []string {
	var paths []string
	for _, m := range p.Modules {
		paths = append(paths, m.ConfigPath())
	}
	return paths
}

type Registry struct {
	Name     string
	Path     string
	External bool
}

type Module struct {
	Name          string
	Path          string
	Registry      *Registry
	Config        ModuleConfig
	ProjectConfig ProjectModuleConfig

	// Sorted by name.
	Scripts []*Script
	Routes  []*Route
	// Set if the module has a db directory.
	DB *Database
}

func (m *Module) ConfigPath() string { return filepath.Join(m.Path, ModuleConfigFile) }

func (m *Module) ErrorLocation() string { return m.ConfigPath() }

// GenPath returns the location of a generated module-level file.
func (m *Module) GenPath(elem ...string) string {
	return filepath.Join(append([]string{m.Path, GenDir}, elem...)...)
}

type Script struct {
	Name   string
	Path   string
	Config ScriptConfig
}

type Route struct {
	Name string
	Path string
	// Path and PathPrefix include the module's route prefix.
	Config RouteConfig
}

type Database struct {
	Name       string
	SchemaPath string
}

type fileLocation string

func (f fileLocation) ErrorLocation() string { return string(f) }
