package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadConfig_WritesDefaults(t *testing.T) {
	for _, file := range []string{"config.json", "config.yaml"} {
		t.Run(file, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), file)
			cfg, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("LoadConfig() error = %v", err)
			}
			if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
				t.Errorf("defaults mismatch (-want +got):\n%s", diff)
			}
			if _, err = os.Stat(path); err != nil {
				t.Fatalf("default config was not written: %v", err)
			}

			// The written file must load back to the same values.
			again, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("second LoadConfig() error = %v", err)
			}
			if diff := cmp.Diff(cfg, again); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sundew.yml")
	content := `
server_config:
  server_addr: ":9000"
  log_level: debug
template_config:
  patterns: ["/pages/*.dust", "/db/*"]
  load_concurrency: 2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.ServerAddr != ":9000" || cfg.Server.LogLevel != "debug" {
		t.Errorf("server config not read: %+v", cfg.Server)
	}
	// Fields missing from the file keep their defaults.
	if cfg.Server.DataDir != DefaultServerConfig().DataDir {
		t.Errorf("DataDir = %q, want default", cfg.Server.DataDir)
	}
	if diff := cmp.Diff([]string{"/pages/*.dust", "/db/*"}, cfg.Templates.Patterns); diff != "" {
		t.Errorf("patterns mismatch (-want +got):\n%s", diff)
	}
	if cfg.Templates.LoadConcurrency != 2 {
		t.Errorf("LoadConcurrency = %d, want 2", cfg.Templates.LoadConcurrency)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad json", `{"server_config": `},
		{"bad log level", `{"server_config": {"log_level": "chatty"}}`},
		{"empty pattern", `{"template_config": {"patterns": ["/*.dust", " "]}}`},
		{"negative concurrency", `{"template_config": {"patterns": ["/*.dust"], "load_concurrency": -1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":      slog.LevelInfo,
		"DEBUG": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, ok := parseLogLevel(in)
		if !ok || got != want {
			t.Errorf("parseLogLevel(%q) = %v, %v; want %v, true", in, got, ok, want)
		}
	}
	if _, ok := parseLogLevel("verbose"); ok {
		t.Error(`parseLogLevel("verbose") should not be ok`)
	}
}

func TestNativeDSN(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"./data/sundew.db", "./data/sundew.db"},
		{
			"./data/sundew.db?_journal_mode=WAL&_busy_timeout=5000",
			"./data/sundew.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		},
		{"x.db?_synchronous=NORMAL&cache=shared", "x.db?_pragma=synchronous(NORMAL)&cache=shared"},
	}
	for _, tt := range tests {
		if got := nativeDSN(tt.in); got != tt.want {
			t.Errorf("nativeDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConfigManager_Update(t *testing.T) {
	srv := setupTestServer(t)
	cm := srv.cm

	next := cm.Get()
	next.Server.LogLevel = "debug"
	next.Templates.Patterns = []string{"/greeting.dust"}
	if err := cm.Update(context.Background(), next); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got := srv.app.engine.TemplateNames(); !cmp.Equal(got, []string{"greeting.dust"}) {
		t.Errorf("engine was not reloaded with the new patterns: %v", got)
	}
	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.Contains(string(data), `"/greeting.dust"`) {
		t.Errorf("saved config lacks the new pattern:\n%s", data)
	}

	// Get must hand out copies.
	snapshot := cm.Get()
	snapshot.Templates.Patterns[0] = "/mutated"
	if cm.Get().Templates.Patterns[0] != "/greeting.dust" {
		t.Error("Get() exposed internal state")
	}
}

func TestConfigManager_UpdateRejected(t *testing.T) {
	srv := setupTestServer(t)
	cm := srv.cm
	before := cm.Get()

	invalid := cm.Get()
	invalid.Server.LogLevel = "loud"
	if err := cm.Update(context.Background(), invalid); err == nil {
		t.Fatal("expected a validation error")
	}

	// A cancelled reload rolls the engine back and leaves the config alone.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	next := cm.Get()
	next.Templates.Patterns = []string{"/nothing-*.dust"}
	if err := cm.Update(ctx, next); err == nil {
		t.Fatal("expected the cancelled reload to be rejected")
	}
	if diff := cmp.Diff(before, cm.Get()); diff != "" {
		t.Errorf("config changed after a rejected update (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(before.Templates.Patterns, srv.app.engine.Patterns()); diff != "" {
		t.Errorf("engine patterns were not rolled back (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"greeting.dust"}, srv.app.engine.TemplateNames()); diff != "" {
		t.Errorf("templates were not restored (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(cm.configPath); err == nil {
		t.Error("a rejected update must not write the config file")
	}
}

func TestConfigManager_UpdateWriteFailure(t *testing.T) {
	srv := setupTestServer(t)
	cm := srv.cm
	before := cm.Get()

	gone := filepath.Join(t.TempDir(), "gone")
	if err := os.Mkdir(gone, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(gone); err != nil {
		t.Fatal(err)
	}
	cm.configPath = filepath.Join(gone, "config.json")

	next := cm.Get()
	next.Templates.Patterns = []string{"/db/*"}
	if err := cm.Update(context.Background(), next); err == nil {
		t.Fatal("expected the config write to fail")
	}
	if diff := cmp.Diff(before, cm.Get()); diff != "" {
		t.Errorf("config changed after a failed write (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(before.Templates.Patterns, srv.app.engine.Patterns()); diff != "" {
		t.Errorf("engine patterns were not rolled back (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"greeting.dust"}, srv.app.engine.TemplateNames()); diff != "" {
		t.Errorf("templates were not restored (-want +got):\n%s", diff)
	}
}

func TestConfigManager_UpdateTemplateDir(t *testing.T) {
	srv := setupTestServer(t)
	cm := srv.cm
	before := cm.Get()

	next := cm.Get()
	next.Templates.TemplateDir = t.TempDir()
	if err := cm.Update(context.Background(), next); !errors.Is(err, ErrTemplateDirChanged) {
		t.Fatalf("Update() error = %v, want ErrTemplateDirChanged", err)
	}
	if diff := cmp.Diff(before, cm.Get()); diff != "" {
		t.Errorf("config changed after a rejected update (-want +got):\n%s", diff)
	}

	// The same directory spelled differently is not a change.
	same := cm.Get()
	same.Templates.TemplateDir += string(filepath.Separator)
	if err := cm.Update(context.Background(), same); err != nil {
		t.Errorf("Update() with an equivalent template_dir error = %v", err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
