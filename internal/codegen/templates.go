// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package codegen

import (
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/iancoleman/strcase"
)

func parse(name, text string) *template.Template {
	funcs := sprig.TxtFuncMap()
	funcs["camel"] = strcase.ToCamel
	funcs["lowerCamel"] = strcase.ToLowerCamel

	return template.Must(template.New(name).Funcs(funcs).Parse(text))
}

var (
	moduleHelperTmpl = parse("module.gen.ts", `// This file was automatically generated.
import type { Context, RouteContext, ScriptContext } from "{{.Runtime}}";
import type { Registry } from "{{.Registry}}";

export const MODULE = {{quote .Module.Name}};

export type ModuleContext = Context<Registry, typeof MODULE>;
export type ModuleScriptContext = ScriptContext<Registry, typeof MODULE>;
{{- if .Module.Routes}}
export type ModuleRouteContext = RouteContext<Registry, typeof MODULE>;
{{- end}}
{{range .Module.Scripts}}
export type {
	Request as {{camel .Name}}Request,
	Response as {{camel .Name}}Response,
} from "./scripts/{{.Name}}.ts";
{{- end}}

export { RuntimeError } from "{{.Runtime}}";
`)

	typeHelperTmpl = parse("registry.d.ts", `// This file was automatically generated.
{{- range .Module.Scripts}}
import type * as {{lowerCamel .Name}}Script from "{{index $.Sources .Name}}";
{{- end}}

export interface ModuleScripts {
{{- range .Module.Scripts}}
	{{.Name}}: { request: {{lowerCamel .Name}}Script.Request; response: {{lowerCamel .Name}}Script.Response };
{{- end}}
}

export type ModuleErrors = {{if .Module.Config.Errors}}{{range $i, $name := .Errors}}{{if $i}} | {{end}}{{quote $name}}{{end}}{{else}}never{{end}};
`)

	testHelperTmpl = parse("test.ts", `// This file was automatically generated.
import { Runtime, type TestContext } from "{{.Runtime}}";
import config from "{{.Config}}";

export type Ctx = TestContext;

export function test(name: string, fn: (ctx: TestContext) => Promise<void>) {
	Runtime.test(config, {{quote .Module.Name}}, name, fn);
}
`)

	scriptHelperTmpl = parse("script.ts", `// This file was automatically generated.
import type { ScriptContext } from "{{.Runtime}}";
import type { Registry } from "{{.Registry}}";

export type { Request, Response } from "{{.Source}}";

export const SCRIPT = {
	module: {{quote .Module.Name}},
	script: {{quote .Script.Name}},
	public: {{.Script.Config.Public}},
} as const;

export type Ctx = ScriptContext<Registry, {{quote .Module.Name}}>;
`)

	routeHelperTmpl = parse("route.ts", `// This file was automatically generated.
import type { RouteContext } from "{{.Runtime}}";
import type { Registry } from "{{.Registry}}";

export const ROUTE = {
	module: {{quote .Module.Name}},
	route: {{quote .Route.Name}},
{{- if .Route.Config.Path}}
	path: {{quote .Route.Config.Path}},
{{- else}}
	pathPrefix: {{quote .Route.Config.PathPrefix}},
{{- end}}
	methods: {{toJson .Methods}},
} as const;

export type Ctx = RouteContext<Registry, {{quote .Module.Name}}>;
`)

	typeHelpersTmpl = parse("registry.d.ts", `// This file was automatically generated.
{{- range .Modules}}
import type { ModuleScripts as {{camel .Name}}Scripts } from "{{.Import}}";
{{- end}}

export interface Registry {
{{- range .Modules}}
	{{quote .Name}}: {{camel .Name}}Scripts;
{{- end}}
}
`)

	runtimeConfigTmpl = parse("runtime_config.ts", `// This file was automatically generated.
import type { Config } from "./runtime/mod.ts";

export default {
	runtime: {{quote .Runtime}},
	db: { driver: {{quote .DBDriver}} },
	modules: {
{{- range .Modules}}
		{{quote .Name}}: {
			db: {{if .DB}}{ name: {{quote .DB.Name}} }{{else}}null{{end}},
			config: {{if .ProjectConfig.Config}}{{toJson .ProjectConfig.Config}}{{else}}null{{end}},
		},
{{- end}}
	},
} satisfies Config;
`)

	entrypointTmpl = parse("entrypoint.ts", `// This file was automatically generated.
import { Runtime } from "./runtime/mod.ts";
import config from "./runtime_config.ts";
{{range .Scripts}}
import * as {{.Alias}} from "{{.Import}}";
{{- end}}
{{- range .Routes}}
import * as {{.Alias}} from "{{.Import}}";
{{- end}}

const runtime = new Runtime(config, {
	scripts: [
{{- range .Scripts}}
		{
			module: {{quote .Module}},
			script: {{quote .Name}},
			public: {{.Public}},
			run: {{.Alias}}.run,
			requestSchema: {{toJson .Schema.Request}},
			responseSchema: {{toJson .Schema.Response}},
		},
{{- end}}
	],
	routes: [
{{- range .Routes}}
		{
			module: {{quote .Module}},
			route: {{quote .Name}},
{{- if .Config.Path}}
			path: {{quote .Config.Path}},
{{- else}}
			pathPrefix: {{quote .Config.PathPrefix}},
{{- end}}
			methods: {{toJson .Methods}},
			handle: {{.Alias}}.handle,
		},
{{- end}}
	],
});
{{if eq .Runtime "cloudflare"}}
export default {
	fetch: (request: Request, env: Record<string, unknown>) => runtime.fetch(request, env),
};
{{- else}}
await runtime.serve();
{{- end}}
`)
)
