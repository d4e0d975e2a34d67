package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/CTAG07/Sundew/pkg/resources"
	"github.com/CTAG07/Sundew/pkg/templating"
)

// maxTemplateBody caps request bodies carrying template sources or data.
const maxTemplateBody = 1 << 20

// TemplateAPI holds the dependencies for the template API handlers.
type TemplateAPI struct {
	engine *templating.Engine
	store  *resources.SQLStore
	stats  *StatsAPI
	logger *slog.Logger
}

// NewTemplateAPI creates a new instance of the TemplateAPI.
func NewTemplateAPI(engine *templating.Engine, store *resources.SQLStore, stats *StatsAPI, logger *slog.Logger) *TemplateAPI {
	return &TemplateAPI{
		engine: engine,
		store:  store,
		stats:  stats,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/templates endpoints.
func (t *TemplateAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/templates/refresh", t.handleRefresh)
	mux.HandleFunc("/api/templates/reset", t.handleReset)
	mux.HandleFunc("/api/templates/render", t.handleRender)
	mux.HandleFunc("/api/templates/compile", t.handleCompile)
	mux.HandleFunc("/api/templates/test", t.handleTest)
	mux.HandleFunc("/api/templates", t.handleList)
	mux.HandleFunc("/api/templates/", t.handleStored)
}

// TemplateListing is the response of GET /api/templates.
type TemplateListing struct {
	Loaded []templating.TemplateInfo   `json:"loaded"`
	Stored []resources.StoredTemplate `json:"stored"`
}

// RefreshResponse summarizes a reload.
type RefreshResponse struct {
	Loaded   []string `json:"loaded"`
	Failures []string `json:"failures"`
}

// TestRequest is the body of POST /api/templates/test.
type TestRequest struct {
	Source string          `json:"source"`
	Data   json.RawMessage `json:"data"`
}

func newRefreshResponse(report templating.LoadReport) RefreshResponse {
	resp := RefreshResponse{
		Loaded:   report.Loaded,
		Failures: make([]string, 0, len(report.Failures)),
	}
	if resp.Loaded == nil {
		resp.Loaded = []string{}
	}
	for _, err := range report.Failures {
		resp.Failures = append(resp.Failures, err.Error())
	}
	return resp
}

// handleList returns the registered templates and the ones kept in the database.
func (t *TemplateAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !requireScope(w, r, scopeTemplatesRead) {
		return
	}
	stored, err := t.store.Templates(r.Context())
	if err != nil {
		t.logger.Error("Failed to list stored templates", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	if stored == nil {
		stored = []resources.StoredTemplate{}
	}
	respondWithJSON(w, http.StatusOK, TemplateListing{
		Loaded: t.engine.Templates(),
		Stored: stored,
	})
}

// handleRefresh clears the cache and loads every configured pattern again.
func (t *TemplateAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeTemplatesWrite) {
		return
	}
	// A client that disconnects mid-reload must not leave the registry half
	// loaded.
	report, err := t.engine.Refresh(context.WithoutCancel(r.Context()))
	if err != nil {
		t.logger.Error("API triggered refresh failed", "error", err, "request_id", requestID(r))
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to refresh templates: %v", err))
		return
	}
	t.logger.Info("Templates refreshed via API", "loaded", len(report.Loaded), "failures", len(report.Failures))
	respondWithJSON(w, http.StatusOK, newRefreshResponse(report))
}

func (t *TemplateAPI) handleReset(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeTemplatesWrite) {
		return
	}
	if err := t.engine.Reset(); err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to reset templates: %v", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRender renders a registered template against the JSON request body.
// An empty body renders against an empty object.
func (t *TemplateAPI) handleRender(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeTemplatesRead) {
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'name' is required")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTemplateBody))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read request body: %v", err))
		return
	}
	data := strings.TrimSpace(string(body))
	if data == "" {
		data = "{}"
	}

	if !t.engine.Exists(name) {
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("Template '%s' not found", name))
		return
	}

	var buf bytes.Buffer
	start := time.Now()
	err = t.engine.Render(name, data, &buf)
	t.stats.RecordRender(r.Context(), name, time.Since(start), err)
	if err != nil {
		t.respondRenderError(w, r, name, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// handleCompile returns the compiled form of the request body without
// registering it.
func (t *TemplateAPI) handleCompile(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeTemplatesRead) {
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'name' is required")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTemplateBody))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read request body: %v", err))
		return
	}
	compiled, err := t.engine.CompileTemplate(name, string(body))
	if err != nil {
		t.respondRenderError(w, r, name, err)
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	_, _ = io.WriteString(w, compiled)
}

// handleTest renders an unsaved template source so it can be checked before
// it is stored.
func (t *TemplateAPI) handleTest(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeTemplatesRead) {
		return
	}
	var req TestRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTemplateBody)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	data := "{}"
	if len(req.Data) > 0 {
		data = string(req.Data)
	}

	var buf bytes.Buffer
	if err := t.engine.RenderSource(req.Source, data, &buf); err != nil {
		if errors.Is(err, templating.ErrUnsupported) {
			respondWithError(w, http.StatusNotImplemented, err.Error())
			return
		}
		t.respondRenderError(w, r, "", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (t *TemplateAPI) respondRenderError(w http.ResponseWriter, r *http.Request, name string, err error) {
	var evalErr *templating.EvaluationError
	if errors.As(err, &evalErr) {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Template execution failed: %s", evalErr.Detail))
		return
	}
	t.logger.Error("Template request failed", "name", name, "error", err, "request_id", requestID(r))
	respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
}

// storedName validates the name part of /api/templates/{name}.
func (t *TemplateAPI) storedName(r *http.Request) (string, bool) {
	name := strings.TrimPrefix(r.URL.Path, "/api/templates/")
	if name == "" || strings.Contains(name, "/") || strings.Contains(name, "..") || strings.Contains(name, "*") {
		return "", false
	}
	ext := t.engine.GetConfig().Extension
	if ext != "" && !strings.HasSuffix(name, ext) {
		return "", false
	}
	return name, true
}

// handleStored manages CRUD operations for a template kept in the database.
func (t *TemplateAPI) handleStored(w http.ResponseWriter, r *http.Request) {
	name, ok := t.storedName(r)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid template name format")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, scopeTemplatesRead) {
			return
		}
		source, err := t.store.Get(r.Context(), name)
		if err != nil {
			if errors.Is(err, resources.ErrNotFound) {
				respondWithError(w, http.StatusNotFound, "Template not found")
				return
			}
			t.logger.Error("Failed to read stored template", "name", name, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Database query failed")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, source)

	case http.MethodPut:
		if !requireScope(w, r, scopeTemplatesWrite) {
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxTemplateBody))
		if err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read request body: %v", err))
			return
		}
		// Reject sources that do not compile before they reach the store.
		if _, err = t.engine.CompileTemplate(name, string(body)); err != nil {
			t.respondRenderError(w, r, name, err)
			return
		}
		if err = t.store.Put(r.Context(), name, string(body)); err != nil {
			t.logger.Error("Failed to store template", "name", name, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to save template: %v", err))
			return
		}
		t.refreshAfterWrite(r, name)
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if !requireScope(w, r, scopeTemplatesWrite) {
			return
		}
		if err := t.store.Delete(r.Context(), name); err != nil {
			if errors.Is(err, resources.ErrNotFound) {
				respondWithError(w, http.StatusNotFound, "Template not found")
				return
			}
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to delete template: %v", err))
			return
		}
		t.refreshAfterWrite(r, name)
		w.WriteHeader(http.StatusNoContent)

	default:
		requireMethod(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (t *TemplateAPI) refreshAfterWrite(r *http.Request, name string) {
	report, err := t.engine.Refresh(context.WithoutCancel(r.Context()))
	if err != nil {
		t.logger.Error("Refresh after template change failed", "name", name, "error", err)
		return
	}
	t.logger.Info("Stored template changed", "name", name, "loaded", len(report.Loaded), "request_id", requestID(r))
}
