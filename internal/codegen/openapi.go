// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package codegen

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"namespacelabs.dev/backendkit/internal/fnerrors"
	"namespacelabs.dev/backendkit/internal/project"
)

const (
	openAPIVersion = "3.1.0"
	openAPITag     = "Backend"
)

// OpenAPI renders the OpenAPI document describing the call endpoint of
// every script.
func (g Generator) OpenAPI(ctx context.Context, schemas Schemas) error {
	doc, err := BuildOpenAPI(g.Project, schemas)
	if err != nil {
		return err
	}

	contents, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fnerrors.InternalError("failed to serialize openapi document: %w", err)
	}

	return writeFile(ctx, OpenAPIPath(g.Project), contents)
}

func BuildOpenAPI(p *project.Project, schemas Schemas) (map[string]interface{}, error) {
	components := map[string]interface{}{}
	paths := map[string]interface{}{}

	for _, m := range p.Modules {
		for _, s := range m.Scripts {
			sch, ok := schemas.Get(m.Name, s.Name)
			if !ok || !sch.IsSet() {
				return nil, fnerrors.InternalError("%s.%s: schema is missing", m.Name, s.Name)
			}

			prefix := fmt.Sprintf("%s__%s", m.Name, s.Name)

			requestRef, err := injectSchema(components, sch.Request, prefix+"__request", "Request")
			if err != nil {
				return nil, fnerrors.InternalError("%s.%s: invalid request schema: %w", m.Name, s.Name, err)
			}

			responseRef, err := injectSchema(components, sch.Response, prefix+"__response", "Response")
			if err != nil {
				return nil, fnerrors.InternalError("%s.%s: invalid response schema: %w", m.Name, s.Name, err)
			}

			paths[fmt.Sprintf("/modules/%s/scripts/%s/call", m.Name, s.Name)] = map[string]interface{}{
				"post": map[string]interface{}{
					"description": fmt.Sprintf("Call %s.%s script.", m.Name, s.Name),
					"tags":        []string{openAPITag},
					"operationId": fmt.Sprintf("call_%s_%s", m.Name, s.Name),
					"requestBody": jsonContent(requestRef, nil),
					"responses": map[string]interface{}{
						"200": jsonContent(responseRef, map[string]interface{}{"description": "Success"}),
					},
				},
			}
		}
	}

	return map[string]interface{}{
		"openapi": openAPIVersion,
		"info": map[string]interface{}{
			"title":   filepath.Base(p.Root),
			"version": "1.0.0",
		},
		"servers": []interface{}{
			map[string]interface{}{"description": "Local", "url": "http://localhost:8080"},
		},
		"tags": []interface{}{
			map[string]interface{}{"name": openAPITag},
		},
		"paths":      paths,
		"components": map[string]interface{}{"schemas": components},
	}, nil
}

func jsonContent(ref string, base map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range base {
		out[k] = v
	}
	out["content"] = map[string]interface{}{
		"application/json": map[string]interface{}{
			"schema": map[string]interface{}{"$ref": ref},
		},
	}
	return out
}

// injectSchema copies every definition of the JSON schema in raw into
// components, named after prefix, and rewrites references accordingly.
// Returns the reference to the root definition.
func injectSchema(components map[string]interface{}, raw json.RawMessage, prefix, root string) (string, error) {
	var doc struct {
		Definitions map[string]interface{} `json:"definitions"`
	}

	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", err
	}

	for name, def := range doc.Definitions {
		components[prefix+"__"+name] = replaceRefs(def, func(ref string) string {
			return strings.Replace(ref, "#/definitions/", "#/components/schemas/"+prefix+"__", 1)
		})
	}

	return "#/components/schemas/" + prefix + "__" + root, nil
}

func replaceRefs(v interface{}, replace func(string) string) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		for k, child := range x {
			if ref, ok := child.(string); ok && k == "$ref" {
				x[k] = replace(ref)
			} else {
				x[k] = replaceRefs(child, replace)
			}
		}
		return x

	case []interface{}:
		for k, child := range x {
			x[k] = replaceRefs(child, replace)
		}
		return x
	}

	return v
}
