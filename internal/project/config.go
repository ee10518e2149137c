// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package project

import "encoding/json"

const (
	ProjectConfigFile = "backend.yaml"
	ModuleConfigFile  = "module.yaml"

	DefaultRegistry = "local"
)

// ProjectConfig is the contents of backend.yaml.
type ProjectConfig struct {
	Registries map[string]RegistryConfig      `json:"registries,omitempty"`
	Modules    map[string]ProjectModuleConfig `json:"modules"`
}

type RegistryConfig struct {
	Local *LocalRegistryConfig `json:"local,omitempty"`
}

type LocalRegistryConfig struct {
	Directory string `json:"directory"`
	// Modules of external registries are read-only: they're never migrated.
	IsExternal bool `json:"isExternal,omitempty"`
}

type ProjectModuleConfig struct {
	// Defaults to DefaultRegistry.
	Registry string `json:"registry,omitempty"`
	// Directory of the module within the registry. Defaults to the module name.
	Module string               `json:"module,omitempty"`
	Routes *ProjectRoutesConfig `json:"routes,omitempty"`
	Config json.RawMessage      `json:"config,omitempty"`
}

type ProjectRoutesConfig struct {
	PathPrefix string `json:"pathPrefix,omitempty"`
}

// ModuleConfig is the contents of a module's module.yaml.
type ModuleConfig struct {
	Name         string                  `json:"name,omitempty"`
	Description  string                  `json:"description,omitempty"`
	Dependencies []string                `json:"dependencies,omitempty"`
	Scripts      map[string]ScriptConfig `json:"scripts,omitempty"`
	Routes       map[string]RouteConfig  `json:"routes,omitempty"`
	Errors       map[string]ErrorConfig  `json:"errors,omitempty"`
}

type ScriptConfig struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	// Public scripts are callable over HTTP.
	Public bool `json:"public,omitempty"`
}

// RouteConfig sets exactly one of Path and PathPrefix.
type RouteConfig struct {
	Name       string   `json:"name,omitempty"`
	Path       string   `json:"path,omitempty"`
	PathPrefix string   `json:"pathPrefix,omitempty"`
	Methods    []string `json:"methods,omitempty"`
}

type ErrorConfig struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}
