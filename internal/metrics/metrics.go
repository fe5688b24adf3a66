package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Tracker metrics
	TrackerEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidswatch_tracker_events_total",
			Help: "Total browser events handled by the tracker",
		},
		[]string{"type", "result"},
	)

	TrackingSessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kidswatch_tracking_sessions_total",
			Help: "Total tracking sessions started",
		},
	)

	TrackedSecondsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kidswatch_tracked_seconds_total",
			Help: "Total dwell time flushed to storage",
		},
	)

	ActiveSession = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kidswatch_active_session",
			Help: "1 while a site is being tracked",
		},
	)

	TrackerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kidswatch_tracker_queue_depth",
			Help: "Events waiting in the tracker queue",
		},
	)

	// Timeout metrics
	TimeoutsArmed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kidswatch_timeouts_armed_total",
			Help: "Total timeout timers armed",
		},
	)

	TimeoutsFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidswatch_timeouts_fired_total",
			Help: "Total timeout timers fired",
		},
		[]string{"outcome"},
	)

	RedirectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidswatch_redirects_total",
			Help: "Total navigations to the timeout page",
		},
		[]string{"result"},
	)

	// Storage metrics
	StoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidswatch_store_errors_total",
			Help: "Storage operation errors",
		},
		[]string{"operation"},
	)

	// Report metrics
	ReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidswatch_reports_total",
			Help: "Total daily report runs",
		},
		[]string{"outcome"},
	)

	RetentionDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidswatch_retention_deleted_total",
			Help: "Days of data removed by the retention sweep",
		},
		[]string{"kind"},
	)

	// Email metrics
	EmailRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidswatch_email_requests_total",
			Help: "Total EmailJS requests",
		},
		[]string{"kind", "outcome"},
	)

	EmailRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kidswatch_email_request_duration_seconds",
			Help:    "EmailJS request duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		},
		[]string{"kind"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kidswatch_api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "status"},
	)

	ExtensionConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kidswatch_extension_connections",
			Help: "Number of connected extension websockets",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		TrackerEventsTotal,
		TrackingSessionsTotal,
		TrackedSecondsTotal,
		ActiveSession,
		TrackerQueueDepth,
		TimeoutsArmed,
		TimeoutsFired,
		RedirectsTotal,
		StoreErrors,
		ReportsTotal,
		RetentionDeleted,
		EmailRequestsTotal,
		EmailRequestDuration,
		APIRequestsTotal,
		ExtensionConnections,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler returns the HTTP handler serving /metrics and /health.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
