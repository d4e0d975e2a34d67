package jsruntime

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/dop251/goja"
)

// maxCachedPrograms bounds the number of compiled scope wrappers kept around.
const maxCachedPrograms = 256

// Bootstrap describes the script evaluated once into the global namespace when
// a Runtime is created.
type Bootstrap struct {
	// Name is used in error messages and interpreter stack traces.
	Name string
	// Open returns the script source. It is called exactly once.
	Open func() (io.ReadCloser, error)
}

// FileBootstrap returns a Bootstrap that reads path from fsys.
func FileBootstrap(fsys fs.FS, path string) Bootstrap {
	return Bootstrap{
		Name: path,
		Open: func() (io.ReadCloser, error) {
			return fsys.Open(path)
		},
	}
}

// Runtime is the single long-lived interpreter instance. The zero value is not
// usable; construct one with New. All methods are concurrent-safe.
type Runtime struct {
	logger   *slog.Logger
	vm       *goja.Runtime
	programs map[string]*goja.Program
	mu       sync.Mutex
}

// New creates the interpreter and evaluates the bootstrap into its global
// namespace. Any failure to read or evaluate the bootstrap is reported as an
// *InitializationError.
func New(logger *slog.Logger, bootstrap Bootstrap) (*Runtime, error) {
	if bootstrap.Open == nil {
		return nil, &InitializationError{Bootstrap: bootstrap.Name, Err: fs.ErrNotExist}
	}

	rc, err := bootstrap.Open()
	if err != nil {
		return nil, &InitializationError{Bootstrap: bootstrap.Name, Err: err}
	}
	defer func(rc io.ReadCloser) {
		_ = rc.Close()
	}(rc)

	src, err := io.ReadAll(rc)
	if err != nil {
		return nil, &InitializationError{Bootstrap: bootstrap.Name, Err: err}
	}

	vm := goja.New()
	if _, err = vm.RunScript(bootstrap.Name, string(src)); err != nil {
		return nil, &InitializationError{Bootstrap: bootstrap.Name, Err: err}
	}

	logger.Debug("Runtime bootstrapped", "bootstrap", bootstrap.Name, "bytes", len(src))
	return &Runtime{
		logger:   logger,
		vm:       vm,
		programs: make(map[string]*goja.Program),
	}, nil
}

// EnterScope acquires exclusive entry into the global namespace and returns a
// fresh, empty scope. The caller must call Exit on the returned scope; until it
// does, every other caller blocks.
func (rt *Runtime) EnterScope() (*Scope, error) {
	rt.mu.Lock()
	if rt.vm == nil {
		rt.mu.Unlock()
		return nil, ErrClosed
	}
	return &Scope{
		rt:       rt,
		bindings: make(map[string]goja.Value),
	}, nil
}

// WithScope runs fn inside a fresh scope and always exits it afterward.
func (rt *Runtime) WithScope(fn func(s *Scope) error) error {
	scope, err := rt.EnterScope()
	if err != nil {
		return err
	}
	defer scope.Exit()
	return fn(scope)
}

// Define sets a global value in the shared namespace. It is meant for helpers
// registered at startup; per-call data belongs in a Scope.
func (rt *Runtime) Define(name string, value any) error {
	if !isIdentifier(name) {
		return fmt.Errorf("jsruntime: invalid global name %q", name)
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.vm == nil {
		return ErrClosed
	}
	return rt.vm.Set(name, value)
}

// Close releases the interpreter. It is safe to call more than once.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.vm == nil {
		return nil
	}
	rt.vm = nil
	rt.programs = nil
	rt.logger.Debug("Runtime closed")
	return nil
}

// program returns the compiled wrapper for src, compiling it on first use.
// Callers must hold rt.mu.
func (rt *Runtime) program(src string) (*goja.Program, error) {
	if p, ok := rt.programs[src]; ok {
		return p, nil
	}
	p, err := goja.Compile("scope", src, false)
	if err != nil {
		return nil, err
	}
	if len(rt.programs) >= maxCachedPrograms {
		clear(rt.programs)
	}
	rt.programs[src] = p
	return p, nil
}
