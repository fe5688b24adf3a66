package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/kidswatch/internal/api"
	"github.com/goodtune/kidswatch/internal/config"
	"github.com/goodtune/kidswatch/internal/email"
	"github.com/goodtune/kidswatch/internal/metrics"
	"github.com/goodtune/kidswatch/internal/policy"
	"github.com/goodtune/kidswatch/internal/report"
	"github.com/goodtune/kidswatch/internal/storage"
	"github.com/goodtune/kidswatch/internal/storage/bolt"
	"github.com/goodtune/kidswatch/internal/storage/redis"
	"github.com/goodtune/kidswatch/internal/systemd"
	"github.com/goodtune/kidswatch/internal/usage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start KidsWatch server",
	Long:  `Start the KidsWatch daemon with the extension API, the daily report scheduler, and the metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting KidsWatch")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Int("retention_days", cfg.Storage.RetentionDays).
		Msg("Storage initialized")

	defaults := defaultSettings(cfg.Tracker.Defaults)
	seeded, err := seedSettings(context.Background(), store.Settings(), defaults)
	if err != nil {
		return fmt.Errorf("failed to seed settings: %w", err)
	}
	if seeded {
		logger.Info().
			Int("timeout_minutes", defaults.TimeoutMinutes).
			Int("allowlist_entries", len(defaults.Allowlist)).
			Msg("Default settings stored")
	}

	// Allowlist decisions
	matcher, err := policy.NewMatcher(cfg.Tracker.AllowCacheSize)
	if err != nil {
		return fmt.Errorf("failed to initialize allowlist matcher: %w", err)
	}

	// Extension command channel
	hub := api.NewHub(api.CheckOrigin(api.NewCORS(cfg.Server.AllowedOrigins)), logger)

	// Activity tracker
	tracker := usage.NewTracker(store, hub, matcher, usage.Config{
		TimeoutPage: cfg.Tracker.TimeoutPage,
		QueueSize:   cfg.Server.EventQueueSize,
		Defaults:    defaults,
	}, logger)

	// Email dispatcher
	emailClient := newEmailClient(cfg, store, logger)

	// Daily report
	reportJob := report.NewJob(store, emailClient, cfg.Report.TopN, logger)
	reportScheduler, err := report.NewScheduler(reportJob, store, report.SchedulerConfig{
		Time:          cfg.Report.Time,
		CatchUp:       cfg.Report.CatchUp,
		RetentionDays: cfg.Storage.RetentionDays,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize report scheduler: %w", err)
	}

	// API server
	apiServer := api.NewServer(api.Config{
		ListenAddr:     fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Defaults:       defaults,
	}, api.Deps{
		Store:   store,
		Tracker: tracker,
		Reports: reportJob,
		Email:   emailClient,
		Hub:     hub,
	}, logger)
	if sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	// Metrics server
	metricsServer := metrics.NewServer(
		fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort),
		logger,
	)
	if sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	// Start components
	trackerCtx, stopTracker := context.WithCancel(context.Background())
	trackerDone := make(chan error, 1)
	go func() {
		trackerDone <- tracker.Run(trackerCtx)
	}()

	reportScheduler.Start()

	if err := apiServer.Start(); err != nil {
		stopTracker()
		return fmt.Errorf("failed to start API server: %w", err)
	}

	if err := metricsServer.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start metrics server")
	}

	logger.Info().Msg("KidsWatch started successfully")

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			logger.Info().Int("entries", matcher.Len()).Msg("SIGHUP received, clearing allowlist cache")
			matcher.Purge()
			continue
		}
		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// No more events once the API is down; then flush the active session
	if err := apiServer.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Error stopping API Server")
	}

	stopTracker()
	if err := <-trackerDone; err != nil {
		logger.Error().Err(err).Msg("Failed to flush active session")
	}

	reportScheduler.Stop()

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("KidsWatch stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
		return redis.Open(cfg.Redis, retention)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (expected 'bolt' or 'redis')", cfg.Type)
	}
}

func newEmailClient(cfg *config.Config, store storage.Store, logger zerolog.Logger) *email.Client {
	return email.NewClient(store.Settings(), email.Config{
		Endpoint: cfg.Email.Endpoint,
		Timeout:  parseDuration(cfg.Email.Timeout, email.DefaultTimeout),
		Fallback: storage.EmailConfig{
			ServiceID:  cfg.Email.ServiceID,
			TemplateID: cfg.Email.TemplateID,
			PublicKey:  cfg.Email.PublicKey,
		},
	}, logger)
}

// defaultSettings converts the configured defaults into tracker settings
func defaultSettings(cfg config.DefaultsConfig) storage.Settings {
	return storage.Settings{
		TimeoutMinutes: cfg.TimeoutMinutes,
		Allowlist:      policy.NormalizeAllowlist(cfg.Allowlist),
		ParentEmail:    cfg.ParentEmail,
		IsEnabled:      cfg.Enabled,
	}
}

// seedSettings stores defaults unless settings already exist
func seedSettings(ctx context.Context, settings storage.SettingsStore, defaults storage.Settings) (bool, error) {
	_, err := settings.Get(ctx)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}
	if err := settings.Put(ctx, defaults); err != nil {
		return false, err
	}
	return true, nil
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// quietLogger is used by the one-shot commands
func quietLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
}
