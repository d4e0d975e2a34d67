package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/CTAG07/Sundew/pkg/resources"
	"github.com/CTAG07/Sundew/pkg/templating"
)

// App bundles the long-lived pieces every command needs: the database, the
// template store and the engine reading from the store and the template
// directory.
type App struct {
	logger   *slog.Logger
	db       *sql.DB
	store    *resources.SQLStore
	provider resources.Provider
	engine   *templating.Engine
}

// setupSchemas creates every table the application uses.
func setupSchemas(db *sql.DB) error {
	if err := resources.SetupSchema(db); err != nil {
		return fmt.Errorf("failed to setup template schema: %w", err)
	}
	if err := setupAuthSchema(db); err != nil {
		return fmt.Errorf("failed to setup auth schema: %w", err)
	}
	if err := setupStatsSchema(db); err != nil {
		return fmt.Errorf("failed to setup stats schema: %w", err)
	}
	return nil
}

// openApp opens the database and builds an engine over config. Templates are
// not loaded yet.
func openApp(config *Config, logger *slog.Logger) (*App, error) {
	if err := os.MkdirAll(config.Server.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	db, err := initDB(config.Server.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err = setupSchemas(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	store, err := resources.NewSQLStore(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare template store: %w", err)
	}

	var chain resources.Chain
	if dir := config.Templates.TemplateDir; dir != "" {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			logger.Warn("Failed to create template dir", "dir", dir, "error", err)
		}
		chain = append(chain, resources.NewDirProvider(dir))
	}
	chain = append(chain, store)

	engine, err := templating.New(logger, chain, config.Templates)
	if err != nil {
		store.Close()
		_ = db.Close()
		return nil, fmt.Errorf("failed to create template engine: %w", err)
	}

	return &App{
		logger:   logger,
		db:       db,
		store:    store,
		provider: chain,
		engine:   engine,
	}, nil
}

// Close releases the engine, the store and the database.
func (a *App) Close() {
	if err := a.engine.Close(); err != nil {
		a.logger.Error("Failed to close template engine", "error", err)
	}
	a.store.Close()
	a.logger.Info("Closing database connection.")
	if err := a.db.Close(); err != nil {
		a.logger.Error("Failed to close database", "error", err)
	}
}
