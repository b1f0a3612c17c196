// Package errors provides the structured error type used across hotssr.
//
// Every failure on the SSR request path is wrapped with the pipeline stage
// that produced it. The stage never reaches the client (the catch-all
// handler always answers with an opaque 500) but it is attached to the log
// record so the developer can tell a missing template from a throwing
// render function at a glance.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes an error by the stage or subsystem that produced it.
type Kind string

const (
	KindTemplate  Kind = "template"
	KindTransform Kind = "transform"
	KindModule    Kind = "module"
	KindRender    Kind = "render"
	KindConfig    Kind = "config"
	KindIO        Kind = "io"
	KindInternal  Kind = "internal"
)

// Error is a structured error with a kind, the failing operation and an
// optional file path.
type Error struct {
	Kind  Kind
	Op    string
	Path  string
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Path != "" {
		parts = append(parts, e.Path)
	}

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += ": " + e.Cause.Error()
	}

	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind. An *Error
// target with an empty Kind matches any *Error.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Kind == "" || t.Kind == e.Kind
}

// New creates an error of the given kind without a cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Cause: errors.New(message)}
}

// Wrap wraps cause with a kind and operation. A nil cause returns nil.
func Wrap(kind Kind, op string, cause error) error {
	if cause == nil {
		return nil
	}

	return &Error{Kind: kind, Op: op, Cause: cause}
}

// WrapPath is Wrap with a file path attached.
func WrapPath(kind Kind, op, path string, cause error) error {
	if cause == nil {
		return nil
	}

	return &Error{Kind: kind, Op: op, Path: path, Cause: cause}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindInternal
}

// IsKind reports whether any *Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}
