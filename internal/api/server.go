package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/kidswatch/internal/storage"
	"github.com/goodtune/kidswatch/internal/usage"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	// Defaults are served while no settings have been stored.
	Defaults storage.Settings
}

// Tracker accepts browser events and reports the current session.
type Tracker interface {
	Submit(ev usage.Event) error
	Snapshot() usage.Status
}

// Previewer reduces a day's usage to a report without sending it.
type Previewer interface {
	Preview(ctx context.Context, date string) (storage.ReportRecord, error)
}

// EmailService resolves, validates and tests the email relay configuration.
type EmailService interface {
	ResolveConfig(ctx context.Context) (*storage.EmailConfig, error)
	SendTest(ctx context.Context, recipient string) error
}

// Server is the local HTTP API used by the browser extension.
type Server struct {
	config   Config
	store    storage.Store
	tracker  Tracker
	reports  Previewer
	email    EmailService
	hub      *Hub
	now      func() time.Time
	server   *http.Server
	router   *mux.Router
	handler  http.Handler
	listener net.Listener
	logger   zerolog.Logger
}

// Deps are the components the API serves.
type Deps struct {
	Store   storage.Store
	Tracker Tracker
	Reports Previewer
	Email   EmailService
	Hub     *Hub
}

// NewServer creates a new API server.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		config:  cfg,
		store:   deps.Store,
		tracker: deps.Tracker,
		reports: deps.Reports,
		email:   deps.Email,
		hub:     deps.Hub,
		now:     time.Now,
		router:  router,
		logger:  logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()
	s.handler = NewCORS(cfg.AllowedOrigins).Handler(router)

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// NewCORS builds the CORS policy for the allowed extension origins.
func NewCORS(allowedOrigins []string) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           86400,
	})
}

// CheckOrigin returns a websocket origin check that applies the CORS policy
// to browser clients and admits clients that send no Origin header.
func CheckOrigin(c *cors.Cors) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if r.Header.Get("Origin") == "" {
			return true
		}
		return c.OriginAllowed(r)
	}
}

// SetNow replaces the time source (for testing)
func (s *Server) SetNow(now func() time.Time) {
	s.now = now
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Handler returns the routed handler wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Browser events
	api.HandleFunc("/events/tab-activated", s.handleTabActivated).Methods("POST")
	api.HandleFunc("/events/tab-updated", s.handleTabUpdated).Methods("POST")
	api.HandleFunc("/events/window-focus", s.handleWindowFocus).Methods("POST")

	// Popup
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/settings", s.handleGetSettings).Methods("GET")
	api.HandleFunc("/settings", s.handlePutSettings).Methods("PUT")
	api.HandleFunc("/stats/today", s.handleStatsToday).Methods("GET")
	api.HandleFunc("/reports", s.handleListReports).Methods("GET")
	api.HandleFunc("/reports/{date}", s.handleGetReport).Methods("GET")

	// Email relay
	api.HandleFunc("/email/config", s.handlePutEmailConfig).Methods("PUT")
	api.HandleFunc("/email/config", s.handleDeleteEmailConfig).Methods("DELETE")
	api.HandleFunc("/email/config/validate", s.handleValidateEmailConfig).Methods("GET")
	api.HandleFunc("/email/test", s.handleTestEmail).Methods("POST")

	// Navigation commands
	api.HandleFunc("/ws", s.hub.HandleWebSocket).Methods("GET")
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")
	s.hub.Close()
	return s.server.Shutdown(ctx)
}
