package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const statsSchema = `
CREATE TABLE IF NOT EXISTS stats_render (
    template_name TEXT    PRIMARY KEY,
    renders       INTEGER NOT NULL DEFAULT 0,
    failures      INTEGER NOT NULL DEFAULT 0,
    total_ms      REAL    NOT NULL DEFAULT 0,
    last_rendered DATETIME NOT NULL
);
`

// TemplateStats is the per-template render record.
type TemplateStats struct {
	Name         string    `json:"name"`
	Renders      int64     `json:"renders"`
	Failures     int64     `json:"failures"`
	AvgMs        float64   `json:"avg_ms"`
	LastRendered time.Time `json:"last_rendered"`
}

// GlobalStatsSummary provides a high-level overview of all collected stats.
type GlobalStatsSummary struct {
	TotalRenders    int64   `json:"total_renders"`
	TotalFailures   int64   `json:"total_failures"`
	TemplatesUsed   int64   `json:"templates_used"`
	AvgMs           float64 `json:"avg_ms"`
	LoadedTemplates int     `json:"loaded_templates"`
}

// StatsAPI holds the dependencies for the statistics handlers.
type StatsAPI struct {
	db     *sql.DB
	logger *slog.Logger
	loaded func() int
}

func setupStatsSchema(db *sql.DB) error {
	_, err := db.Exec(statsSchema)
	return err
}

// NewStatsAPI creates a StatsAPI. loaded reports the number of registered
// templates for the summary and may be nil.
func NewStatsAPI(db *sql.DB, logger *slog.Logger, loaded func() int) *StatsAPI {
	return &StatsAPI{
		db:     db,
		logger: logger,
		loaded: loaded,
	}
}

func (s *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats/summary", s.handleSummary)
	mux.HandleFunc("/api/stats/templates", s.handleTemplates)
}

// RecordRender counts one render of name. Failures to record are logged and
// otherwise ignored.
func (s *StatsAPI) RecordRender(ctx context.Context, name string, took time.Duration, renderErr error) {
	failed := 0
	if renderErr != nil {
		failed = 1
	}
	now := time.Now().UTC()
	ms := float64(took.Microseconds()) / 1000
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO stats_render (template_name, renders, failures, total_ms, last_rendered) VALUES (?, 1, ?, ?, ?)
        ON CONFLICT(template_name) DO UPDATE SET
            renders = renders + 1,
            failures = failures + excluded.failures,
            total_ms = total_ms + excluded.total_ms,
            last_rendered = excluded.last_rendered
    `, name, failed, ms, now)
	if err != nil {
		s.logger.Warn("Failed to record render stats", "template", name, "error", err)
	}
}

func (s *StatsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !requireScope(w, r, scopeStatsRead) {
		return
	}
	var summary GlobalStatsSummary
	var totalMs float64
	err := s.db.QueryRowContext(r.Context(), `
        SELECT COALESCE(SUM(renders), 0), COALESCE(SUM(failures), 0), COUNT(*), COALESCE(SUM(total_ms), 0)
        FROM stats_render`).Scan(&summary.TotalRenders, &summary.TotalFailures, &summary.TemplatesUsed, &totalMs)
	if err != nil {
		s.logger.Error("Failed to query stats summary", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	if summary.TotalRenders > 0 {
		summary.AvgMs = totalMs / float64(summary.TotalRenders)
	}
	if s.loaded != nil {
		summary.LoadedTemplates = s.loaded()
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (s *StatsAPI) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !requireScope(w, r, scopeStatsRead) {
		return
	}
	rows, err := s.db.QueryContext(r.Context(), `
        SELECT template_name, renders, failures, total_ms, last_rendered
        FROM stats_render ORDER BY renders DESC, template_name LIMIT 100`)
	if err != nil {
		s.logger.Error("Failed to query template stats", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	results := []TemplateStats{}
	for rows.Next() {
		var ts TemplateStats
		var totalMs float64
		if err = rows.Scan(&ts.Name, &ts.Renders, &ts.Failures, &totalMs, &ts.LastRendered); err != nil {
			s.logger.Error("Failed to scan template stats", "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
			return
		}
		if ts.Renders > 0 {
			ts.AvgMs = totalMs / float64(ts.Renders)
		}
		results = append(results, ts)
	}
	if err = rows.Err(); err != nil {
		s.logger.Error("Failed to read template stats", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, results)
}
