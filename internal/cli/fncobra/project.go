// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package fncobra

import (
	"context"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"namespacelabs.dev/backendkit/framework/findroot"
	"namespacelabs.dev/backendkit/internal/fnerrors"
	"namespacelabs.dev/backendkit/internal/project"
)

type ProjectParser struct {
	out  **project.Project
	root *string
	dir  string
}

// ParseProject finds the project enclosing --project (the working directory
// by default). If root is set, the project is not loaded, only located.
func ParseProject(out **project.Project, root *string) *ProjectParser {
	return &ProjectParser{out: out, root: root}
}

func (p *ProjectParser) AddFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.dir, "project", ".", "A directory within the project to operate on.")
}

func (p *ProjectParser) Parse(ctx context.Context, args []string) error {
	root, err := FindProjectRoot(p.dir)
	if err != nil {
		return err
	}

	if p.root != nil {
		*p.root = root
	}

	if p.out != nil {
		loaded, err := project.Load(ctx, root)
		if err != nil {
			return err
		}
		*p.out = loaded
	}

	return nil
}

func FindProjectRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	root, err := findroot.Find(afero.NewOsFs(), abs, project.ProjectConfigFile)
	if err != nil {
		return "", fnerrors.UsageError("Run bkit from within a project, or pass --project.",
			"%s: no %s found in this directory or any of its parents.", abs, project.ProjectConfigFile)
	}

	return root, nil
}
