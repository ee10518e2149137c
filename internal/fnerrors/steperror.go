// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the EARLY ACCESS SOFTWARE LICENSE AGREEMENT
// available at http://github.com/namespacelabs/foundation

package fnerrors

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// InputError is returned when a declared input of a build step can't be read.
// Step and Scope are filled in by the scheduler.
type InputError struct {
	fnError
	Path  string
	Step  string
	Scope string
}

func NewInputError(path string, err error) *InputError {
	return &InputError{fnError: fnError{Err: pkgerrors.WithStack(err)}, Path: path}
}

func (e *InputError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("%s%s: %s: %v", e.Step, scopeSuffix(e.Scope), e.Path, e.Err)
}

// StepFailedError wraps the failure of a build step's action.
type StepFailedError struct {
	fnError
	Step  string
	Scope string
}

func StepFailed(step, scope string, err error) error {
	return &StepFailedError{fnError: fnError{Err: pkgerrors.WithStack(err)}, Step: step, Scope: scope}
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("%s%s failed: %v", e.Step, scopeSuffix(e.Scope), e.Err)
}

func IsStepFailed(err error) bool {
	var stepErr *StepFailedError
	return errors.As(err, &stepErr)
}

func IsInputError(err error) bool {
	var inputErr *InputError
	return errors.As(err, &inputErr)
}

func scopeSuffix(scope string) string {
	if scope == "" {
		return ""
	}
	return " (" + scope + ")"
}
