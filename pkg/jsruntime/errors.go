package jsruntime

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when entering a Runtime that has been closed.
	ErrClosed = errors.New("jsruntime: runtime is closed")
	// ErrScopeClosed is returned when a Scope is used after Exit.
	ErrScopeClosed = errors.New("jsruntime: scope has exited")
	// ErrAlreadyBound is returned when a binding name is reused within one scope.
	ErrAlreadyBound = errors.New("jsruntime: binding already set")
)

// InitializationError reports that the bootstrap script could not be read or
// evaluated. A Runtime is never returned alongside it.
type InitializationError struct {
	Bootstrap string
	Err       error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("jsruntime: unable to load bootstrap %q: %v", e.Bootstrap, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// EvaluationError carries a failure raised by the interpreter while evaluating
// a script inside a scope: a thrown value, a syntax error, or a host panic.
type EvaluationError struct {
	// Script is the expression that was being evaluated.
	Script string
	// Detail is the interpreter's own description of the failure, usually the
	// string form of the thrown value.
	Detail string
	Err    error
}

func (e *EvaluationError) Error() string {
	return "evaluation failed: " + e.Detail
}

func (e *EvaluationError) Unwrap() error { return e.Err }
