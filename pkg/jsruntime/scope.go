package jsruntime

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dop251/goja"
)

var identifierRegex = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

func isIdentifier(name string) bool {
	return identifierRegex.MatchString(name)
}

// Scope is the binding context of a single operation. Its bindings are visible
// to evaluated expressions as local variables layered over the global
// namespace; they never become globals and vanish on Exit.
//
// A Scope holds the Runtime's entry lock from EnterScope until Exit.
type Scope struct {
	rt       *Runtime
	names    []string
	bindings map[string]goja.Value
}

// Bind adds a named value to the scope. Each name can be bound once.
func (s *Scope) Bind(name string, value any) error {
	if s.rt == nil {
		return ErrScopeClosed
	}
	if !isIdentifier(name) {
		return fmt.Errorf("jsruntime: invalid binding name %q", name)
	}
	if _, ok := s.bindings[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyBound, name)
	}
	s.bindings[name] = s.rt.vm.ToValue(value)
	s.names = append(s.names, name)
	return nil
}

// Evaluate runs script as an expression with the scope's bindings in view and
// returns its value. Statements can be run by wrapping them in a function
// expression that is invoked immediately.
//
// Anything the interpreter raises comes back as an *EvaluationError.
func (s *Scope) Evaluate(script string) (result goja.Value, err error) {
	if s.rt == nil {
		return nil, ErrScopeClosed
	}

	expr := strings.TrimRight(strings.TrimSpace(script), "; \n\t")
	src := "(function(" + strings.Join(s.names, ", ") + ") { return (" + expr + "\n); })"

	prog, err := s.rt.program(src)
	if err != nil {
		return nil, newEvaluationError(script, err)
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &EvaluationError{Script: script, Detail: fmt.Sprint(r), Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	wrapper, err := s.rt.vm.RunProgram(prog)
	if err != nil {
		return nil, newEvaluationError(script, err)
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		return nil, &EvaluationError{Script: script, Detail: "scope wrapper is not callable"}
	}

	args := make([]goja.Value, len(s.names))
	for i, name := range s.names {
		args[i] = s.bindings[name]
	}
	result, err = fn(goja.Undefined(), args...)
	if err != nil {
		return nil, newEvaluationError(script, err)
	}
	return result, nil
}

// Exit discards the scope's bindings and releases the Runtime. Calling it more
// than once is harmless.
func (s *Scope) Exit() {
	if s.rt == nil {
		return
	}
	rt := s.rt
	s.rt = nil
	s.names = nil
	s.bindings = nil
	rt.mu.Unlock()
}

func newEvaluationError(script string, err error) *EvaluationError {
	detail := err.Error()
	var exc *goja.Exception
	if errors.As(err, &exc) {
		if v := exc.Value(); v != nil {
			detail = v.String()
		}
	}
	return &EvaluationError{Script: script, Detail: detail, Err: err}
}
