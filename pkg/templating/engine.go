package templating

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/CTAG07/Sundew/pkg/dust"
	"github.com/CTAG07/Sundew/pkg/resources"
)

// Runtime is the templating runtime an Engine drives. *dust.Runtime is the
// production implementation.
type Runtime interface {
	// Compile returns the executable form of source without registering it.
	Compile(name, source string) (string, error)
	// Load compiles source and registers it under name, replacing any
	// template of the same name.
	Load(name, source string) error
	// Exists reports whether name is registered.
	Exists(name string) (bool, error)
	// Execute renders the template name against JSON text and writes the
	// complete output to w, or writes nothing on failure.
	Execute(name, data string, w io.Writer) error
	// Reset forgets every registered template.
	Reset() error
	Close() error
}

// SourceExecutor is implemented by runtimes that can render unregistered
// source text.
type SourceExecutor interface {
	ExecuteSource(source, data string, w io.Writer) error
}

// FilterRegistrar is implemented by runtimes that accept Go filter functions.
type FilterRegistrar interface {
	RegisterFilter(name string, fn func(string) string) error
}

// TemplateInfo describes a template the Engine has registered.
type TemplateInfo struct {
	Name     string    `json:"name"`
	Location string    `json:"location,omitempty"`
	LoadedAt time.Time `json:"loaded_at"`
}

// LoadReport is the outcome of a bulk load. Failures holds one error per
// resource or pattern that could not be loaded; they never stop the load.
type LoadReport struct {
	Loaded   []string `json:"loaded"`
	Failures []error  `json:"-"`
}

// Engine compiles, caches and renders named templates. It is the central
// controller tying a resource provider to a templating runtime.
// All methods are concurrent-safe.
type Engine struct {
	logger    *slog.Logger
	runtime   Runtime
	provider  resources.Provider
	config    *EngineConfig
	templates map[string]TemplateInfo
	closed    bool
	mu        sync.RWMutex
}

// New creates an Engine backed by the embedded dust runtime.
func New(logger *slog.Logger, provider resources.Provider, config *EngineConfig) (*Engine, error) {
	rt, err := dust.New(logger)
	if err != nil {
		return nil, err
	}
	e, err := NewEngine(logger, rt, provider, config)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	return e, nil
}

// NewEngine creates an Engine around an existing runtime, registering the Go
// filters when the runtime supports them. The engine takes ownership of rt.
// Templates are not loaded until Init is called.
func NewEngine(logger *slog.Logger, rt Runtime, provider resources.Provider, config *EngineConfig) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	e := &Engine{
		logger:    logger,
		runtime:   rt,
		provider:  provider,
		config:    config.clone(),
		templates: make(map[string]TemplateInfo),
	}
	if reg, ok := rt.(FilterRegistrar); ok {
		for name, fn := range makeFilterMap() {
			if err := reg.RegisterFilter(name, fn); err != nil {
				return nil, fmt.Errorf("failed to register filter %q: %w", name, err)
			}
		}
	}
	logger.Info("Template engine initialized", "patterns", len(config.Patterns))
	return e, nil
}

// Init loads every resource matched by the configured patterns. Individual
// failures are logged and collected in the report; the returned error is only
// set when the engine is closed or ctx is done.
func (e *Engine) Init(ctx context.Context) (LoadReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return LoadReport{}, ErrEngineClosed
	}
	return e.load(ctx, e.config.Patterns)
}

// Reset forgets every registered template.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reset()
}

func (e *Engine) reset() error {
	if e.closed {
		return ErrEngineClosed
	}
	if err := e.runtime.Reset(); err != nil {
		return fmt.Errorf("failed to reset template cache: %w", err)
	}
	e.templates = make(map[string]TemplateInfo)
	e.logger.Info("Template cache reset")
	return nil
}

// Refresh resets the cache and loads the configured patterns again. A ctx
// that is already done leaves the registered templates untouched.
func (e *Engine) Refresh(ctx context.Context) (LoadReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return LoadReport{}, ErrEngineClosed
	}
	if err := ctx.Err(); err != nil {
		return LoadReport{}, err
	}
	if err := e.reset(); err != nil {
		return LoadReport{}, err
	}
	return e.load(ctx, e.config.Patterns)
}

// CompileTemplate returns the compiled form of source without registering it.
func (e *Engine) CompileTemplate(name, source string) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return "", ErrEngineClosed
	}
	return e.runtime.Compile(name, source)
}

// LoadTemplate compiles source and registers it under name.
func (e *Engine) LoadTemplate(name, source string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if name == "" {
		return ErrEmptyName
	}
	if err := e.runtime.Load(name, source); err != nil {
		return err
	}
	e.templates[name] = TemplateInfo{Name: name, LoadedAt: time.Now()}
	return nil
}

// Exists reports whether a template is registered under name. Runtime errors
// are logged and reported as false.
func (e *Engine) Exists(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false
	}
	ok, err := e.runtime.Exists(name)
	if err != nil {
		e.logger.Error("failed to query template registry", "name", name, "error", err)
		return false
	}
	return ok
}

// Render renders the template name against the JSON text data and writes the
// result to w. Nothing is written when rendering fails.
func (e *Engine) Render(name, data string, w io.Writer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrEngineClosed
	}
	return e.runtime.Execute(name, data, w)
}

// RenderValue encodes data as JSON and renders name against it.
func (e *Engine) RenderValue(name string, data any, w io.Writer) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode render data: %w", err)
	}
	return e.Render(name, string(b), w)
}

// RenderSource renders raw source against data without registering it.
// Registered templates are available to it as partials.
func (e *Engine) RenderSource(source, data string, w io.Writer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrEngineClosed
	}
	se, ok := e.runtime.(SourceExecutor)
	if !ok {
		return ErrUnsupported
	}
	return se.ExecuteSource(source, data, w)
}

// SetPatterns replaces the patterns used by Init and Refresh.
func (e *Engine) SetPatterns(patterns []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config.Patterns = append([]string(nil), patterns...)
}

// Patterns returns a copy of the configured patterns.
func (e *Engine) Patterns() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.config.Patterns...)
}

// SetConfig applies a new configuration. Templates already loaded are kept
// until the next Refresh.
func (e *Engine) SetConfig(config *EngineConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config = config.clone()
}

// GetConfig returns a copy of the current configuration.
func (e *Engine) GetConfig() EngineConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return *e.config.clone()
}

// TemplateNames returns the registered template names in sorted order.
func (e *Engine) TemplateNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.templates))
	for name := range e.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Templates returns the registered templates sorted by name.
func (e *Engine) Templates() []TemplateInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	infos := make([]TemplateInfo, 0, len(e.templates))
	for _, info := range e.templates {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Close releases the runtime. It is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.templates = nil
	return e.runtime.Close()
}
