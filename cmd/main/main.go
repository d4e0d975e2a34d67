package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/CTAG07/Sundew/pkg/watch"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "sundew",
	Short: "Compile, cache and render dust templates",
	Long: `Sundew loads dust templates from a directory and a SQLite store,
compiles them into an embedded JavaScript runtime and renders them against
JSON data, either from the command line or through an HTTP API.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the template HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		serve(configPath)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sundew %s (commit %s, built %s)\n", Version, Commit, BuildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.json", "path to the JSON or YAML config file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level override (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// parseLogLevel maps a config log level to a slog.Level. The empty string
// means info.
func parseLogLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "", "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// newLogger builds the application logger. The --log-level flag wins over the
// configured level.
func newLogger(w io.Writer, configured string) *slog.Logger {
	name := configured
	if logLevel != "" {
		name = logLevel
	}
	level, ok := parseLogLevel(name)
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	if !ok {
		logger.Warn("Unknown log level, using info", "level", name)
	}
	return logger
}

// serve runs the API until shutdown, starting it again on every restart request.
func serve(path string) {
	baseLogger := newLogger(os.Stdout, "info")

	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan // Wait for a signal
		baseLogger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	for {
		action, err := run(path, actionChan)
		if err != nil {
			baseLogger.Error("An error occurred during server run, shutting down.", "error", err)
			break
		}

		if action == actionRestart {
			baseLogger.Info("--- Server Restarting ---")
			continue
		}
		break
	}

	baseLogger.Info("Sundew has shut down.")
}

// run hosts the API for one server cycle and returns whenever the server is
// shut down or restarted.
func run(path string, actionChan chan string) (string, error) {
	cm, err := NewConfigManager(path)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	config := cm.Get()

	logger := newLogger(os.Stdout, config.Server.LogLevel)
	cm.SetLogger(logger)
	logger.Info("Starting server cycle...", "config", path)

	app, err := openApp(&config, logger)
	if err != nil {
		return "", err
	}
	defer app.Close()

	report, err := app.engine.Init(context.Background())
	if err != nil {
		return "", fmt.Errorf("failed to load templates: %w", err)
	}
	for _, failure := range report.Failures {
		logger.Warn("Template not loaded", "error", failure)
	}

	server := NewServer(cm, logger, app, actionChan)

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	watcher := startWatcher(watchCtx, &config, app, logger)

	httpServer := &http.Server{
		Addr:              config.Server.ServerAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Starting Sundew API server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API server failed", "error", err)
		}
	}()

	action := <-actionChan // Block here until API or OS signal sends an action.

	logger.Info("Stopping server for " + action + "...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = httpServer.Shutdown(ctx); err != nil {
		logger.Error("API server shutdown failed", "error", err)
	}
	logger.Info("HTTP server stopped.")

	if watcher != nil {
		stopWatch()
		if err = watcher.Close(); err != nil {
			logger.Error("Failed to close template watcher", "error", err)
		}
	}
	return action, nil
}

// startWatcher refreshes the engine whenever a template file in the template
// directory changes. It returns nil when watching is disabled or unavailable.
func startWatcher(ctx context.Context, config *Config, app *App, logger *slog.Logger) *watch.Watcher {
	dir := config.Templates.TemplateDir
	if !config.Server.WatchTemplates || dir == "" {
		return nil
	}

	delay := time.Duration(config.Server.WatchDebounceMs) * time.Millisecond
	filters := []watch.Filter{watch.NoHiddenFilter}
	if ext := config.Templates.Extension; ext != "" {
		filters = append(filters, watch.ExtFilter(ext))
	}
	w, err := watch.New(logger, delay, func(ctx context.Context, events []watch.Event) error {
		logger.Info("Template files changed, refreshing", "changes", len(events))
		_, err := app.engine.Refresh(ctx)
		return err
	}, filters...)
	if err != nil {
		logger.Warn("Template watching disabled", "error", err)
		return nil
	}
	if err = w.AddRecursive(dir); err != nil {
		logger.Warn("Template watching disabled", "dir", dir, "error", err)
		_ = w.Close()
		return nil
	}

	go func() {
		if err := w.Run(ctx); err != nil {
			logger.Error("Template watcher stopped", "error", err)
		}
	}()
	logger.Info("Watching templates", "dir", dir)
	return w
}
