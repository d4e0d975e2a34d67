package templating

import (
	"errors"

	"github.com/CTAG07/Sundew/pkg/jsruntime"
	"github.com/CTAG07/Sundew/pkg/resources"
)

// ErrEngineClosed is returned by every Engine operation after Close.
var ErrEngineClosed = errors.New("templating: engine is closed")

// ErrEmptyName is returned when a template is registered without a name.
var ErrEmptyName = errors.New("templating: template name must not be empty")

// ErrUnsupported is returned when the runtime lacks an optional capability.
var ErrUnsupported = errors.New("templating: operation not supported by runtime")

type (
	// EvaluationError is returned when the runtime rejects a template or fails
	// to render it.
	EvaluationError = jsruntime.EvaluationError
	// ReadError is recorded for a resource that could not be read.
	ReadError = resources.ReadError
)
