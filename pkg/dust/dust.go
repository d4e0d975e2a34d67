package dust

import (
	"embed"
	"fmt"
	"io"
	"log/slog"

	"github.com/CTAG07/Sundew/pkg/jsruntime"
)

// BootstrapPath is the location of the templating runtime inside the embedded
// file system. The version is part of the name so a runtime upgrade is an
// explicit change.
const BootstrapPath = "js/dust-lite-1.0.0.js"

//go:embed js/dust-lite-1.0.0.js
var bootstrapFS embed.FS

const (
	scriptCompile = `dust.compile(rawSource, name)`
	scriptLoad    = `dust.loadSource(dust.compile(rawSource, name))`
	scriptExists  = `dust.exists(name)`
	scriptReset   = `dust.reset()`
	scriptVersion = `dust.version`

	// The render callback is synchronous; a failure is rethrown so it surfaces
	// as an evaluation error instead of being written to the output.
	scriptRender = `(function () {
	var out, failure = null;
	dust.render(name, JSON.parse(json), function (err, data) { failure = err; out = data; });
	if (failure) { throw failure; }
	return out;
})()`

	scriptRenderSource = `(function () {
	var out, failure = null;
	dust.renderSource(rawSource, JSON.parse(json), function (err, data) { failure = err; out = data; });
	if (failure) { throw failure; }
	return out;
})()`

	scriptRegisterFilter = `(function () {
	dust.filters[filterName] = function (value) { return filterFn(String(value)); };
	return true;
})()`
)

type binding struct {
	name  string
	value any
}

// Runtime hosts the dust templating runtime inside a jsruntime.Runtime. Every
// method runs in its own execution scope; methods are concurrent-safe and
// serialized on the underlying interpreter.
type Runtime struct {
	logger *slog.Logger
	js     *jsruntime.Runtime
}

// New creates a Runtime from the embedded bootstrap.
func New(logger *slog.Logger) (*Runtime, error) {
	return NewWithBootstrap(logger, jsruntime.FileBootstrap(bootstrapFS, BootstrapPath))
}

// NewWithBootstrap creates a Runtime from a caller-supplied bootstrap, which
// must define a global "dust" object honoring the same contract.
func NewWithBootstrap(logger *slog.Logger, bootstrap jsruntime.Bootstrap) (*Runtime, error) {
	js, err := jsruntime.New(logger, bootstrap)
	if err != nil {
		return nil, err
	}
	return &Runtime{logger: logger, js: js}, nil
}

// eval runs script in a fresh scope holding only the given bindings.
func (r *Runtime) eval(script string, bindings ...binding) (string, error) {
	var result string
	err := r.js.WithScope(func(s *jsruntime.Scope) error {
		for _, b := range bindings {
			if err := s.Bind(b.name, b.value); err != nil {
				return err
			}
		}
		v, err := s.Evaluate(script)
		if err != nil {
			return err
		}
		if v != nil {
			result = v.String()
		}
		return nil
	})
	return result, err
}

// Compile translates source into the runtime's executable form without
// registering it.
func (r *Runtime) Compile(name, source string) (string, error) {
	return r.eval(scriptCompile, binding{"rawSource", source}, binding{"name", name})
}

// Load compiles source and registers it under name, replacing any template
// already registered with that name.
func (r *Runtime) Load(name, source string) error {
	r.logger.Debug("Compiling dust template", "name", name)
	_, err := r.eval(scriptLoad, binding{"rawSource", source}, binding{"name", name})
	return err
}

// Exists reports whether a template is registered under name.
func (r *Runtime) Exists(name string) (bool, error) {
	v, err := r.eval(scriptExists, binding{"name", name})
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

// Execute renders the template registered under name against the JSON text
// data. The output is produced in full before anything is written to w, so a
// failed render writes nothing.
func (r *Runtime) Execute(name, data string, w io.Writer) error {
	out, err := r.eval(scriptRender, binding{"name", name}, binding{"json", data})
	if err != nil {
		return err
	}
	if _, err = io.WriteString(w, out); err != nil {
		return fmt.Errorf("failed to write rendered output for %q: %w", name, err)
	}
	return nil
}

// ExecuteSource renders raw template source against data without adding it to
// the registry.
func (r *Runtime) ExecuteSource(source, data string, w io.Writer) error {
	out, err := r.eval(scriptRenderSource, binding{"rawSource", source}, binding{"json", data})
	if err != nil {
		return err
	}
	if _, err = io.WriteString(w, out); err != nil {
		return fmt.Errorf("failed to write rendered output: %w", err)
	}
	return nil
}

// Reset clears the runtime's template cache. The interpreter itself and any
// registered filters are kept.
func (r *Runtime) Reset() error {
	_, err := r.eval(scriptReset)
	return err
}

// RegisterFilter makes fn available to templates as the filter "|name".
func (r *Runtime) RegisterFilter(name string, fn func(string) string) error {
	_, err := r.eval(scriptRegisterFilter, binding{"filterName", name}, binding{"filterFn", fn})
	return err
}

// Version returns the version string reported by the bootstrap.
func (r *Runtime) Version() (string, error) {
	return r.eval(scriptVersion)
}

// Close releases the interpreter. It is safe to call more than once.
func (r *Runtime) Close() error {
	return r.js.Close()
}
