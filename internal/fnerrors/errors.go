// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the EARLY ACCESS SOFTWARE LICENSE AGREEMENT
// available at http://github.com/namespacelabs/foundation

package fnerrors

import (
	"errors"
	"fmt"
	"io"

	"github.com/kr/text"
	"github.com/morikuni/aec"
	pkgerrors "github.com/pkg/errors"
)

// Location is implemented by anything which can point a user at the source
// of a problem (a module, a config file, etc).
type Location interface {
	ErrorLocation() string
}

// New returns a new error for a format specifier and optionals args with the
// stack trace at the point of invocation.
func New(format string, args ...interface{}) error {
	return &fnError{Err: pkgerrors.WithStack(fmt.Errorf(format, args...))}
}

func Wrap(loc Location, err error) error {
	if userErr, ok := err.(*userError); ok {
		if userErr.Location == nil {
			return &userError{fnError: userErr.fnError, Location: loc}
		} else if userErr.Location == loc {
			return userErr
		}
	}
	return &userError{fnError: fnError{Err: pkgerrors.WithStack(err)}, Location: loc}
}

func UserError(loc Location, format string, args ...interface{}) error {
	return &userError{
		fnError:  fnError{Err: pkgerrors.WithStack(fmt.Errorf(format, args...))},
		Location: loc,
	}
}

// Configuration or system setup is not correct and requires user intervention.
func UsageError(what, whyFmt string, args ...interface{}) error {
	return &usageError{
		fnError: fnError{Err: pkgerrors.WithStack(fmt.Errorf(whyFmt, args...))},
		Why:     fmt.Sprintf(whyFmt, args...),
		What:    what,
	}
}

// Unexpected situation.
func InternalError(format string, args ...interface{}) error {
	return &internalError{
		fnError: fnError{Err: pkgerrors.WithStack(fmt.Errorf(format, args...))},
	}
}

// The input does match our expectations (e.g. missing bits, wrong version, etc).
func BadInputError(format string, args ...interface{}) error {
	return &internalError{
		fnError: fnError{Err: pkgerrors.WithStack(fmt.Errorf(format, args...))},
	}
}

// This error is purely for wiring and ensures that we exit with an appropriate exit code.
// The error content has to be output independently.
func ExitWithCode(err error, code int) error {
	return &exitError{fnError: fnError{Err: err}, code: code}
}

// Wraps an error with a stack trace at the point of invocation.
type fnError struct {
	Err error
}

func (f *fnError) Error() string {
	return f.Err.Error()
}

func (f *fnError) Unwrap() error { return f.Err }

// Signature is compatible with pkg/errors and allows frameworks like Sentry to
// automatically extract the frame.
func (f *fnError) StackTrace() pkgerrors.StackTrace {
	type stackTracer interface {
		StackTrace() pkgerrors.StackTrace
	}

	if st, ok := f.Err.(stackTracer); ok {
		return st.StackTrace()
	}

	return nil
}

type userError struct {
	fnError
	What     string
	Location Location
}

type usageError struct {
	fnError
	Why  string
	What string
}

type internalError struct {
	fnError
}

func (e *userError) Error() string {
	var locStr string
	if e.Location != nil {
		locStr = e.Location.ErrorLocation() + ": "
	}

	return fmt.Sprintf("%s%v", locStr, e.Err)
}

func (e *usageError) Error() string {
	return fmt.Sprintf("%s\n\n  %s", e.Why, e.What)
}

func (e *internalError) Error() string {
	return e.Err.Error()
}

type ExitError interface {
	ExitCode() int
}

type exitError struct {
	fnError
	code int
}

func (e *exitError) Error() string {
	return e.Err.Error()
}

func (e *exitError) ExitCode() int {
	return e.code
}

type FormatOptions struct {
	// true to use ANSI colors.
	colors bool
	// If true, we show the chain of errors leading to the root cause.
	tracing bool
}

type FormatOption func(*FormatOptions)

func WithColors(colors bool) FormatOption {
	return func(opts *FormatOptions) {
		opts.colors = colors
	}
}

func WithTracing(tracing bool) FormatOption {
	return func(opts *FormatOptions) {
		opts.tracing = tracing
	}
}

func isFnError(err error) bool {
	switch err.(type) {
	case *fnError, *usageError, *userError, *internalError, *exitError, *InputError, *StepFailedError:
		return true
	}
	return false
}

func Format(w io.Writer, err error, args ...FormatOption) {
	opts := &FormatOptions{colors: false, tracing: false}
	for _, opt := range args {
		opt(opts)
	}
	if opts.colors {
		fmt.Fprint(w, aec.RedF.With(aec.Bold).Apply("Failed: "))
	} else {
		fmt.Fprint(w, "Failed: ")
	}
	if opts.tracing {
		fmt.Fprintln(w)
	}

	cause := err
	// Keep unwrapping until we find an error that knows how to present itself.
	for isFnError(cause) {
		if opts.tracing {
			format(indent(w), cause, opts)
		}
		if presents(cause) {
			break
		}
		if x := errors.Unwrap(cause); x != nil {
			cause = x
		} else {
			break
		}
	}

	if !opts.tracing || !isFnError(cause) {
		format(w, cause, opts)
	}
}

// Errors which render their own cause.
func presents(err error) bool {
	switch err.(type) {
	case *usageError, *userError, *internalError, *InputError, *StepFailedError:
		return true
	}
	return false
}

func format(w io.Writer, err error, opts *FormatOptions) {
	if err == nil {
		return
	}

	switch x := err.(type) {
	case *usageError:
		formatUsageError(w, x, opts)

	case *userError:
		formatUserError(w, x, opts)

	case *internalError:
		formatInternalError(w, x, opts)

	case *InputError:
		formatInputError(w, x, opts)

	case *StepFailedError:
		formatStepFailedError(w, x, opts)

	default:
		fmt.Fprintf(w, "%s\n", x.Error())
	}
}

func formatUsageError(w io.Writer, err *usageError, opts *FormatOptions) {
	errTxt := text.Wrap(err.Why, 80)
	fmt.Fprintf(w, "%s\n\n  %s\n", errTxt, bold(err.What, opts.colors))
}

func formatInternalError(w io.Writer, err *internalError, opts *FormatOptions) {
	fmt.Fprintf(w, "%s: %s\n", formatLabel("internal error", opts.colors), err.Err.Error())
}

func formatUserError(w io.Writer, err *userError, opts *FormatOptions) {
	what := err.What
	if len(what) > 0 {
		what = what + ": "
	}
	if err.Location != nil {
		loc := formatLabel(err.Location.ErrorLocation(), opts.colors)
		fmt.Fprintf(w, "%s: %s%s\n", loc, what, err.Err.Error())
	} else {
		fmt.Fprintf(w, "%s%s\n", what, err.Err.Error())
	}
}

func formatInputError(w io.Writer, err *InputError, opts *FormatOptions) {
	fmt.Fprintf(w, "%s%s: cannot read %s: %v\n", formatLabel(err.Step, opts.colors), scopeStr(err.Scope, opts.colors), err.Path, err.Err)
}

func formatStepFailedError(w io.Writer, err *StepFailedError, opts *FormatOptions) {
	fmt.Fprintf(w, "step %s%s failed: %v\n", formatLabel(err.Step, opts.colors), scopeStr(err.Scope, opts.colors), err.Err)
}

func scopeStr(scope string, colors bool) string {
	if scope == "" {
		return ""
	}

	s := fmt.Sprintf(" (%s)", scope)
	if colors {
		return aec.LightMagentaF.Apply(s)
	}
	return s
}

func formatLabel(str string, colors bool) string {
	if colors {
		return aec.CyanF.Apply(str)
	}

	return str
}

func bold(str string, colors bool) string {
	if colors {
		return aec.Bold.Apply(str)
	}
	return str
}

func indent(w io.Writer) io.Writer { return text.NewIndentWriter(w, []byte("  ")) }
