// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package project

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/agext/levenshtein"
	"namespacelabs.dev/backendkit/internal/fnerrors"
)

var (
	snakeCase  = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	moduleName = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)
)

func validateIdentifier(loc fnerrors.Location, kind, name string) error {
	if !snakeCase.MatchString(name) {
		return fnerrors.UserError(loc, "%s %q must be snake_case", kind, name)
	}
	return nil
}

func validateModuleName(loc fnerrors.Location, name string) error {
	if !moduleName.MatchString(name) {
		return fnerrors.UserError(loc, "module name %q must be lowercase letters, digits, '-' or '_'", name)
	}
	return nil
}

// cleanRoutePath validates a user provided http path, and returns it without
// leading or trailing slashes. Every path starts with a slash; prefixes end
// with a slash, exact paths don't.
func cleanRoutePath(loc fnerrors.Location, path string, isPrefix bool) (string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", fnerrors.UserError(loc, "route paths must start with a forward slash, got %q (change this to %q)", path, "/"+path)
	}

	trailing := strings.HasSuffix(path, "/")
	if isPrefix && !trailing {
		return "", fnerrors.UserError(loc, "prefix paths must end with a forward slash, got %q (change this to %q)", path, path+"/")
	}

	if !isPrefix && trailing {
		return "", fnerrors.UserError(loc, "exact paths must not end with a forward slash, got %q (change this to %q)", path, strings.TrimSuffix(path, "/"))
	}

	return strings.Trim(path, "/"), nil
}

func databaseName(module string) string {
	return "module_" + strings.ReplaceAll(module, "-", "_")
}

// didYouMean returns a hint naming the candidate closest to name, if any is
// close enough.
func didYouMean(name string, candidates []string) string {
	best, bestDist := "", 3
	for _, c := range candidates {
		if d := levenshtein.Distance(name, c, nil); d < bestDist {
			best, bestDist = c, d
		}
	}

	if best == "" {
		return ""
	}

	return fmt.Sprintf(" (did you mean %q?)", best)
}
