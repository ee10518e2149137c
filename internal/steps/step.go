// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package steps

import (
	"context"
	"fmt"
)

// Scope names what a step builds. Both fields are optional.
type Scope struct {
	Module string
	Script string
}

func (s Scope) String() string {
	switch {
	case s.Module == "":
		return s.Script
	case s.Script == "":
		return s.Module
	default:
		return s.Module + "." + s.Script
	}
}

type Outcome int

const (
	// Run was called and succeeded.
	Executed Outcome = iota
	// No input changed since the previous build; Run was not called.
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Executed:
		return "executed"
	case Skipped:
		return "skipped"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Step is a named unit of build work.
//
// A step is executed when AlwaysRun is set, when the build is forced, or when
// any of its Inputs changed since the previous build. Finalize is always
// called once the decision was made (and Run completed, if executed), so it
// can write derived results into the build cache whether they were just
// computed or restored from the previous build.
type Step struct {
	Name   string
	Scope  Scope
	Inputs []string

	AlwaysRun bool
	// If set, an unreadable input fails the build. Otherwise the step is
	// dropped from this build and reported as degraded.
	FatalOnInputError bool

	Run      func(context.Context) error
	Finalize func(context.Context, Outcome) error
}

// Label is the step name, followed by its scope in parenthesis if set.
func (s Step) Label() string {
	if scope := s.Scope.String(); scope != "" {
		return fmt.Sprintf("%s (%s)", s.Name, scope)
	}
	return s.Name
}
