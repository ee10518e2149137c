// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package bundle produces a single JavaScript module out of a project's
// generated entrypoint.
package bundle

import (
	"context"
	"os"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"namespacelabs.dev/backendkit/internal/codegen"
	"namespacelabs.dev/backendkit/internal/localexec"
	"namespacelabs.dev/backendkit/internal/project"
)

const DefaultCommand = "esbuild"

func OutputPath(p *project.Project) string { return p.GenPath("output.js") }

type Bundler struct {
	// Binary of the esbuild CLI.
	Command string
}

func (b Bundler) Bundle(ctx context.Context, p *project.Project, runtime codegen.Runtime) error {
	out := OutputPath(p)

	if err := (localexec.Command{
		Label:   "esbuild",
		Command: b.command(),
		Dir:     p.Root,
		Args: []string{
			codegen.EntrypointPath(p),
			"--bundle",
			"--minify",
			"--format=esm",
			"--platform=neutral",
			"--external:*.wasm",
			"--external:*.wasm?module",
			"--outfile=" + out,
		},
	}).Run(ctx); err != nil {
		return err
	}

	if runtime == codegen.RuntimeCloudflare {
		data, err := os.ReadFile(out)
		if err != nil {
			return err
		}

		if err := os.WriteFile(out, []byte(ForCloudflare(string(data))), 0644); err != nil {
			return err
		}
	}

	if fi, err := os.Stat(out); err == nil {
		zerolog.Ctx(ctx).Info().Str("path", out).Str("size", humanize.Bytes(uint64(fi.Size()))).Msg("Bundled.")
	}

	return nil
}

func (b Bundler) command() string {
	if b.Command != "" {
		return b.Command
	}
	return DefaultCommand
}

var finalizationRegistry = regexp.MustCompile(`(?P<varName>\w+)=new FinalizationRegistry\(\w+=>\w+\.__wbg_digestcontext_free\(\w+>>>0\)\),`)

// ForCloudflare strips what Cloudflare Workers don't support from a bundle:
// the FinalizationRegistry of the digest context, and the node:timers import.
func ForCloudflare(data string) string {
	if loc := finalizationRegistry.FindStringSubmatchIndex(data); loc != nil {
		name := data[loc[2]:loc[3]]
		data = data[:loc[0]] + data[loc[1]:]

		register := regexp.MustCompile(regexp.QuoteMeta(name) + `\.register\(\w+,\w+\.__wbg_ptr,\w+\),`)
		data = register.ReplaceAllLiteralString(data, "")
		data = strings.Replace(data, name+".unregister(this),", "", 1)
	}

	return strings.ReplaceAll(data, `import"node:timers";`, "")
}
