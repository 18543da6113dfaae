// Package generror defines the failure taxonomy of the binding pipeline.
//
// Every stage returns one of these so that a native library upgrade that
// breaks the build points at the symbol, file or path responsible.
package generror

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindMissingDependency  Kind = "MissingDependency"
	KindSurfaceScan        Kind = "SurfaceScanError"
	KindShimSynthesis      Kind = "ShimSynthesisError"
	KindShimCompile        Kind = "ShimCompileError"
	KindBindingGeneration  Kind = "BindingGenerationError"
	KindLinkPlanIncomplete Kind = "LinkPlanIncomplete"
)

// Error is a pipeline failure. Only the fields relevant to Kind are set.
type Error struct {
	Kind   Kind
	Symbol string
	File   string
	Line   int
	Path   string
	Detail string
	// Output carries raw tool output (compiler diagnostics, generator stderr).
	Output string
	Err    error
}

// Sentinels for errors.Is.
var (
	ErrMissingDependency  = &Error{Kind: KindMissingDependency}
	ErrSurfaceScan        = &Error{Kind: KindSurfaceScan}
	ErrShimSynthesis      = &Error{Kind: KindShimSynthesis}
	ErrShimCompile        = &Error{Kind: KindShimCompile}
	ErrBindingGeneration  = &Error{Kind: KindBindingGeneration}
	ErrLinkPlanIncomplete = &Error{Kind: KindLinkPlanIncomplete}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	switch {
	case e.File != "" && e.Line > 0:
		fmt.Fprintf(&b, " %s:%d", e.File, e.Line)
	case e.File != "":
		fmt.Fprintf(&b, " %s", e.File)
	}
	if e.Symbol != "" {
		fmt.Fprintf(&b, " [%s]", e.Symbol)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func MissingDependency(path, detail string) *Error {
	return &Error{Kind: KindMissingDependency, Path: path, Detail: detail}
}

func SurfaceScan(file string, line int, detail string) *Error {
	return &Error{Kind: KindSurfaceScan, File: file, Line: line, Detail: detail}
}

func ShimSynthesis(symbol, detail string) *Error {
	return &Error{Kind: KindShimSynthesis, Symbol: symbol, Detail: detail}
}

func ShimCompile(symbol, output string, err error) *Error {
	return &Error{Kind: KindShimCompile, Symbol: symbol, Detail: "shim does not compile against the located headers", Output: output, Err: err}
}

func BindingGeneration(detail, output string, err error) *Error {
	return &Error{Kind: KindBindingGeneration, Detail: detail, Output: output, Err: err}
}

func LinkPlanIncomplete(path, detail string) *Error {
	return &Error{Kind: KindLinkPlanIncomplete, Path: path, Detail: detail}
}

// As returns the pipeline error wrapped in err, if any.
func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
