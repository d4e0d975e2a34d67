package main

import (
	"log/slog"
	"net/http"
)

// Server wires the API handlers around one App.
type Server struct {
	cm          *ConfigManager
	logger      *slog.Logger
	app         *App
	authAPI     *AuthAPI
	templateAPI *TemplateAPI
	statsAPI    *StatsAPI
	serverAPI   *ServerAPI
	apiMux      *http.ServeMux
	handler     http.Handler
}

func NewServer(cm *ConfigManager, logger *slog.Logger, app *App, actionChan chan string) *Server {
	cm.SetEngine(app.engine)

	statsAPI := NewStatsAPI(app.db, logger, func() int { return len(app.engine.TemplateNames()) })
	server := &Server{
		cm:          cm,
		logger:      logger,
		app:         app,
		authAPI:     NewAuthAPI(app.db, logger),
		templateAPI: NewTemplateAPI(app.engine, app.store, statsAPI, logger),
		statsAPI:    statsAPI,
		serverAPI:   NewServerAPI(cm, actionChan, logger),
		apiMux:      http.NewServeMux(),
	}

	apiMux := http.NewServeMux()
	server.authAPI.RegisterRoutes(apiMux)
	server.templateAPI.RegisterRoutes(apiMux)
	server.statsAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Make sure api functions must pass through authentication first
	authedAPI := server.authAPI.Authenticate(apiMux)
	// ... except for the health check, which is unauthed so something like docker can use it
	server.apiMux.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)
	server.apiMux.Handle("/api/", authedAPI)

	server.handler = withRequestID(logger, server.apiMux)
	return server
}

// Handler returns the root handler of the API.
func (s *Server) Handler() http.Handler {
	return s.handler
}
