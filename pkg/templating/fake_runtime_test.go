package templating

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// fakeRuntime records calls and keeps templates in a map.
type fakeRuntime struct {
	mu        sync.Mutex
	templates map[string]string
	loads     []string
	existsErr error
	closed    int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{templates: make(map[string]string)}
}

func (f *fakeRuntime) Compile(name, source string) (string, error) {
	return fmt.Sprintf("compiled(%s)", name), nil
}

func (f *fakeRuntime) Load(name, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.Contains(source, "FAIL") {
		return errors.New("compile failed")
	}
	f.templates[name] = source
	f.loads = append(f.loads, name)
	return nil
}

func (f *fakeRuntime) Exists(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.templates[name]
	return ok, nil
}

func (f *fakeRuntime) Execute(name, data string, w io.Writer) error {
	f.mu.Lock()
	src, ok := f.templates[name]
	f.mu.Unlock()
	if !ok {
		return &EvaluationError{Detail: "Template Not Found: " + name}
	}
	_, err := io.WriteString(w, src+data)
	return err
}

func (f *fakeRuntime) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.templates = make(map[string]string)
	return nil
}

func (f *fakeRuntime) Close() error {
	f.closed++
	return nil
}

// slowProvider serves n generated resources and tracks how many are open at
// once.
type slowProvider struct {
	n        int
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (p *slowProvider) List(context.Context) ([]string, error) {
	var locations []string
	for i := 0; i < p.n; i++ {
		locations = append(locations, fmt.Sprintf("/t/%02d.dust", i))
	}
	return locations, nil
}

func (p *slowProvider) Open(_ context.Context, location string) (io.ReadCloser, error) {
	cur := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		peak := p.peak.Load()
		if cur <= peak || p.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return io.NopCloser(strings.NewReader(location)), nil
}

func TestEngine_FakeRuntime(t *testing.T) {
	rt := newFakeRuntime()
	e, err := NewEngine(discardLogger(), rt, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	if diff := cmp.Diff(DefaultConfig().Patterns, e.Patterns()); diff != "" {
		t.Errorf("a nil config should fall back to the defaults (-want +got):\n%s", diff)
	}
	if err = e.RenderSource("x", "{}", io.Discard); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}

	rt.existsErr = errors.New("interpreter gone")
	if e.Exists("a") {
		t.Error("a runtime error must be reported as not existing")
	}

	if err = e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	_ = e.Close()
	if rt.closed != 1 {
		t.Errorf("the runtime should be closed exactly once, got %d", rt.closed)
	}
}

func TestEngine_LoadConcurrency(t *testing.T) {
	rt := newFakeRuntime()
	provider := &slowProvider{n: 12}
	config := DefaultConfig()
	config.Patterns = []string{"/t/*"}
	config.LoadConcurrency = 3

	e, err := NewEngine(discardLogger(), rt, provider, config)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })

	report, err := e.Init(context.Background())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if len(report.Loaded) != 12 {
		t.Errorf("expected 12 templates, got %d", len(report.Loaded))
	}
	if peak := provider.peak.Load(); peak > 3 {
		t.Errorf("read concurrency exceeded the limit: %d", peak)
	}

	// Registration order follows the listing, whatever order reads finish in.
	want, _ := provider.List(context.Background())
	for i := range want {
		want[i] = strings.TrimPrefix(want[i], "/t/")
	}
	if diff := cmp.Diff(want, rt.loads); diff != "" {
		t.Errorf("load order mismatch (-want +got):\n%s", diff)
	}
}
