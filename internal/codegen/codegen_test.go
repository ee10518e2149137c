// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package codegen

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gotest.tools/assert"
	"namespacelabs.dev/backendkit/internal/project"
	"namespacelabs.dev/backendkit/schema"
)

func testProject(root string) *project.Project {
	users := &project.Module{
		Name: "users",
		Path: filepath.Join(root, "modules", "users"),
		Config: project.ModuleConfig{
			Errors: map[string]project.ErrorConfig{"not_found": {}},
		},
	}
	users.Scripts = []*project.Script{
		{Name: "get_user", Path: filepath.Join(users.Path, "scripts", "get_user.ts"), Config: project.ScriptConfig{Public: true}},
	}
	users.Routes = []*project.Route{
		{Name: "avatar", Path: filepath.Join(users.Path, "routes", "avatar.ts"), Config: project.RouteConfig{Path: "/modules/users/route/avatar"}},
	}
	users.DB = &project.Database{Name: "module_users"}

	return &project.Project{Root: root, Modules: []*project.Module{users}}
}

const requestSchema = `{
	"$ref": "#/definitions/Request",
	"definitions": {
		"Request": {"type": "object", "properties": {"id": {"$ref": "#/definitions/UserId"}}},
		"UserId": {"type": "string"}
	}
}`

const responseSchema = `{"definitions": {"Response": {"type": "object", "properties": {"names": {"type": "array", "items": [{"$ref": "#/definitions/Name"}]}}}, "Name": {"type": "string"}}}`

func testSchemas() Schemas {
	return Schemas{"users": {"get_user": schema.ScriptSchema{
		Request:  json.RawMessage(requestSchema),
		Response: json.RawMessage(responseSchema),
	}}}
}

func TestBuildOpenAPI(t *testing.T) {
	doc, err := BuildOpenAPI(testProject("/p/backend"), testSchemas())
	assert.NilError(t, err)

	// Compare through JSON, as the document is a tree of generic values.
	serialized, err := json.Marshal(doc)
	assert.NilError(t, err)

	var got struct {
		OpenAPI string `json:"openapi"`
		Info    struct {
			Title string `json:"title"`
		} `json:"info"`
		Paths      map[string]map[string]map[string]interface{} `json:"paths"`
		Components struct {
			Schemas map[string]interface{} `json:"schemas"`
		} `json:"components"`
	}
	assert.NilError(t, json.Unmarshal(serialized, &got))

	assert.Equal(t, got.OpenAPI, "3.1.0")
	assert.Equal(t, got.Info.Title, "backend")

	post := got.Paths["/modules/users/scripts/get_user/call"]["post"]
	assert.Equal(t, post["operationId"], "call_users_get_user")

	expectedSchemas := map[string]interface{}{
		"users__get_user__request__Request": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"id": map[string]interface{}{"$ref": "#/components/schemas/users__get_user__request__UserId"},
			},
		},
		"users__get_user__request__UserId": map[string]interface{}{"type": "string"},
		"users__get_user__response__Response": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"names": map[string]interface{}{
					"type":  "array",
					"items": []interface{}{map[string]interface{}{"$ref": "#/components/schemas/users__get_user__response__Name"}},
				},
			},
		},
		"users__get_user__response__Name": map[string]interface{}{"type": "string"},
	}

	if d := cmp.Diff(expectedSchemas, got.Components.Schemas); d != "" {
		t.Errorf("mismatch (-want +got):\n%s", d)
	}

	requestBody := post["requestBody"].(map[string]interface{})
	ref := requestBody["content"].(map[string]interface{})["application/json"].(map[string]interface{})["schema"].(map[string]interface{})["$ref"]
	assert.Equal(t, ref, "#/components/schemas/users__get_user__request__Request")
}

func TestMissingSchema(t *testing.T) {
	_, err := BuildOpenAPI(testProject("/p"), Schemas{})
	assert.ErrorContains(t, err, "users.get_user: schema is missing")
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	p := testProject(root)
	users := p.Modules[0]

	g := Generator{Project: p, Runtime: RuntimeCloudflare, DBDriver: DriverNeonServerless}

	assert.NilError(t, g.ModuleHelper(ctx, users))
	assert.NilError(t, g.TypeHelper(ctx, users))
	assert.NilError(t, g.TestHelper(ctx, users))
	assert.NilError(t, g.ScriptHelper(ctx, users, users.Scripts[0]))
	assert.NilError(t, g.RouteHelper(ctx, users, users.Routes[0]))
	assert.NilError(t, g.TypeHelpers(ctx))
	assert.NilError(t, g.RuntimeConfig(ctx))
	assert.NilError(t, g.Entrypoint(ctx, testSchemas()))
	assert.NilError(t, g.OpenAPI(ctx, testSchemas()))

	for path, expected := range map[string][]string{
		ModuleHelperPath(users): {
			`import type { Context, RouteContext, ScriptContext } from "../../_gen/runtime/mod.ts";`,
			`export const MODULE = "users";`,
			`Request as GetUserRequest,`,
			`} from "./scripts/get_user.ts";`,
		},
		TypeHelperPath(users): {
			`import type * as getUserScript from "../scripts/get_user.ts";`,
			`export type ModuleErrors = "not_found";`,
		},
		ScriptHelperPath(users, users.Scripts[0]): {
			`export type { Request, Response } from "../../scripts/get_user.ts";`,
			`public: true,`,
		},
		RouteHelperPath(users, users.Routes[0]): {
			`path: "/modules/users/route/avatar",`,
			`methods: ["GET"],`,
		},
		TypeHelpersPath(p): {
			`import type { ModuleScripts as UsersScripts } from "../modules/users/_gen/registry.d.ts";`,
			`"users": UsersScripts;`,
		},
		RuntimeConfigPath(p): {
			`runtime: "cloudflare",`,
			`db: { driver: "neon-serverless" },`,
			`db: { name: "module_users" },`,
		},
		EntrypointPath(p): {
			`import * as scriptUsersGetUser from "../modules/users/scripts/get_user.ts";`,
			`run: scriptUsersGetUser.run,`,
			`export default {`,
		},
	} {
		contents, err := os.ReadFile(path)
		assert.NilError(t, err)

		for _, line := range expected {
			assert.Assert(t, strings.Contains(string(contents), line), "%s: missing %q in:\n%s", path, line, contents)
		}
	}

	_, err := os.Stat(OpenAPIPath(p))
	assert.NilError(t, err)
}

func TestInflateRuntime(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "runtime")

	// Stale files are removed.
	assert.NilError(t, os.MkdirAll(dir, 0755))
	assert.NilError(t, os.WriteFile(filepath.Join(dir, "stale.ts"), nil, 0644))

	assert.NilError(t, InflateRuntime(context.Background(), dir))

	entries, err := os.ReadDir(dir)
	assert.NilError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}

	if d := cmp.Diff([]string{"context.ts", "error.ts", "mod.ts", "runtime.ts", "schema.ts"}, names); d != "" {
		t.Errorf("mismatch (-want +got):\n%s", d)
	}
}
