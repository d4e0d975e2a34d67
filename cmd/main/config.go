package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/CTAG07/Sundew/pkg/templating"
	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds the configuration for the HTTP API and its storage.
type ServerConfig struct {
	ServerAddr      string `json:"server_addr" yaml:"server_addr"`
	LogLevel        string `json:"log_level" yaml:"log_level"`
	DataDir         string `json:"data_dir" yaml:"data_dir"`
	DatabasePath    string `json:"database_path" yaml:"database_path"`
	WatchTemplates  bool   `json:"watch_templates" yaml:"watch_templates"`
	WatchDebounceMs int    `json:"watch_debounce_ms" yaml:"watch_debounce_ms"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server    *ServerConfig            `json:"server_config" yaml:"server_config"`
	Templates *templating.EngineConfig `json:"template_config" yaml:"template_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ServerAddr:      ":7277",
		LogLevel:        "info",
		DataDir:         "./data",
		DatabasePath:    "./data/sundew.db?_journal_mode=WAL&_busy_timeout=5000",
		WatchTemplates:  true,
		WatchDebounceMs: 250,
	}
}

// DefaultConfig returns a Config with every section at its defaults.
func DefaultConfig() *Config {
	templates := templating.DefaultConfig()
	templates.TemplateDir = "./data/templates"
	return &Config{
		Server:    DefaultServerConfig(),
		Templates: templates,
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// marshalConfig encodes config in the format implied by the file extension.
func marshalConfig(path string, config *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(config)
	}
	return json.MarshalIndent(config, "", "  ")
}

func unmarshalConfig(path string, data []byte, config *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, config)
	}
	return json.Unmarshal(data, config)
}

// LoadConfig reads the configuration from a JSON or YAML file at the given path.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			var data []byte
			data, err = marshalConfig(path, config)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// The defaults are still usable.
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = unmarshalConfig(path, file, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if config.Server == nil {
		config.Server = DefaultServerConfig()
	}
	if config.Templates == nil {
		config.Templates = DefaultConfig().Templates
	}
	if err = validateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

func validateConfig(config *Config) error {
	if config.Server == nil || config.Templates == nil {
		return errors.New("invalid config: server_config and template_config are required")
	}
	if _, ok := parseLogLevel(config.Server.LogLevel); !ok {
		return fmt.Errorf("invalid config: unknown log level %q", config.Server.LogLevel)
	}
	for _, p := range config.Templates.Patterns {
		if strings.TrimSpace(p) == "" {
			return errors.New("invalid config: empty template pattern")
		}
	}
	if config.Templates.LoadConcurrency < 0 {
		return errors.New("invalid config: load_concurrency must not be negative")
	}
	return nil
}

// ConfigManager handles thread-safe access to the configuration and keeps the
// template engine in step with it.
type ConfigManager struct {
	config     *Config
	mu         sync.RWMutex
	configPath string
	logger     *slog.Logger
	engine     *templating.Engine
}

// NewConfigManager loads the config and initializes the manager.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return &ConfigManager{
		config:     cfg,
		configPath: path,
		// Log to stdout before the application-specific logger is set.
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{})),
	}, nil
}

// SetEngine registers the engine to receive template config updates.
func (cm *ConfigManager) SetEngine(engine *templating.Engine) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.engine = engine
	if engine != nil {
		engine.SetConfig(cm.config.Templates)
	}
}

// SetLogger sets the logger used for config events.
func (cm *ConfigManager) SetLogger(logger *slog.Logger) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.logger = logger
}

// Get returns a deep copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	server := *cm.config.Server
	templates := *cm.config.Templates
	templates.Patterns = append([]string(nil), cm.config.Templates.Patterns...)
	return Config{Server: &server, Templates: &templates}
}

// ErrTemplateDirChanged is returned by Update when template_dir differs from
// the running value. The directory provider is only built at startup.
var ErrTemplateDirChanged = errors.New("invalid config: template_dir changes require a restart")

// Update validates newConfig, applies it to the engine, saves it to disk and
// makes it current. If the engine cannot reload with the new template config
// or the file cannot be written, the old template config is restored and
// reloaded.
func (cm *ConfigManager) Update(ctx context.Context, newConfig Config) error {
	if err := validateConfig(&newConfig); err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if filepath.Clean(newConfig.Templates.TemplateDir) != filepath.Clean(cm.config.Templates.TemplateDir) {
		return ErrTemplateDirChanged
	}
	data, err := marshalConfig(cm.configPath, &newConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if cm.engine != nil {
		cm.engine.SetConfig(newConfig.Templates)
		if _, err = cm.engine.Refresh(ctx); err != nil {
			cm.restoreEngine(ctx)
			return fmt.Errorf("template configuration rejected: %w", err)
		}
	}

	if err = atomic.WriteFile(cm.configPath, bytes.NewReader(data)); err != nil {
		if cm.engine != nil {
			cm.restoreEngine(ctx)
		}
		return fmt.Errorf("failed to write config file: %w", err)
	}

	cm.config = &newConfig
	cm.logger.Info("Configuration updated", "path", cm.configPath)
	return nil
}

// restoreEngine puts the current template config back on the engine and
// reloads it. The reload ignores cancellation of ctx so a failed update never
// leaves the registry empty. Must be called with cm.mu held.
func (cm *ConfigManager) restoreEngine(ctx context.Context) {
	cm.engine.SetConfig(cm.config.Templates)
	if _, err := cm.engine.Refresh(context.WithoutCancel(ctx)); err != nil {
		cm.logger.Error("Failed to restore template configuration", "error", err)
	}
}
