package report

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/kidswatch/internal/metrics"
	"github.com/goodtune/kidswatch/internal/policy"
	"github.com/goodtune/kidswatch/internal/storage"
	"github.com/rs/zerolog"
)

const runTimeout = time.Minute

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Time          string // HH:MM local time
	CatchUp       bool
	RetentionDays int
}

// Scheduler runs the report job once a day and sweeps expired data.
type Scheduler struct {
	job           *Job
	usage         storage.UsageStore
	reports       storage.ReportStore
	runTime       time.Time // Time of day to run (only hour and minute are used)
	catchUp       bool
	retentionDays int
	clock         policy.Clock
	logger        zerolog.Logger
	stopChan      chan struct{}
	done          chan struct{}
}

// NewScheduler creates a new report scheduler
func NewScheduler(job *Job, store storage.Store, config SchedulerConfig, logger zerolog.Logger) (*Scheduler, error) {
	// Parse run time (HH:MM format)
	parsedTime, err := time.Parse("15:04", config.Time)
	if err != nil {
		return nil, fmt.Errorf("invalid report time %q: %w", config.Time, err)
	}

	return &Scheduler{
		job:           job,
		usage:         store.Usage(),
		reports:       store.Reports(),
		runTime:       parsedTime,
		catchUp:       config.CatchUp,
		retentionDays: config.RetentionDays,
		clock:         policy.RealClock{},
		logger:        logger.With().Str("component", "report-scheduler").Logger(),
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}, nil
}

// SetClock sets the clock (for testing)
func (s *Scheduler) SetClock(clock policy.Clock) {
	s.clock = clock
}

// Start begins the report scheduler
func (s *Scheduler) Start() {
	go s.run()
	s.logger.Info().
		Str("report_time", s.runTime.Format("15:04")).
		Bool("catch_up", s.catchUp).
		Msg("Daily report scheduler started")
}

// Stop stops the report scheduler and waits for a running report to finish
func (s *Scheduler) Stop() {
	close(s.stopChan)
	<-s.done
	s.logger.Info().Msg("Daily report scheduler stopped")
}

// run is the main scheduler loop
func (s *Scheduler) run() {
	defer close(s.done)

	if s.catchUp {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		if s.missedRun(ctx, s.clock.Now()) {
			s.logger.Info().Msg("Daily report missed while stopped, running now")
			s.perform()
		}
		cancel()
	}

	for {
		nextRun := s.calculateNextRun(s.clock.Now())
		waitDuration := nextRun.Sub(s.clock.Now())

		s.logger.Info().
			Time("next_run", nextRun).
			Dur("wait_duration", waitDuration).
			Msg("Scheduled next daily report")

		select {
		case <-time.After(waitDuration):
			s.perform()
		case <-s.stopChan:
			return
		}
	}
}

// calculateNextRun returns the next run time strictly after now
func (s *Scheduler) calculateNextRun(now time.Time) time.Time {
	todayRun := s.todayRun(now)

	// If we've already passed today's run time, schedule for tomorrow
	if !now.Before(todayRun) {
		return todayRun.AddDate(0, 0, 1)
	}

	return todayRun
}

func (s *Scheduler) todayRun(now time.Time) time.Time {
	return time.Date(
		now.Year(), now.Month(), now.Day(),
		s.runTime.Hour(), s.runTime.Minute(), 0, 0,
		now.Location(),
	)
}

// missedRun reports whether today's run time has passed without a report
// for yesterday being recorded.
func (s *Scheduler) missedRun(ctx context.Context, now time.Time) bool {
	if now.Before(s.todayRun(now)) {
		return false
	}

	last, err := s.reports.LastReportDate(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read last report date")
		return false
	}
	return last != Yesterday(now)
}

// perform runs the report job followed by the retention sweep
func (s *Scheduler) perform() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	now := s.clock.Now()
	if _, err := s.job.Run(ctx, now); err != nil {
		s.logger.Error().Err(err).Msg("Daily report failed")
	}
	s.sweep(ctx, now)
}

// sweep deletes usage and reports older than the retention period
func (s *Scheduler) sweep(ctx context.Context, now time.Time) {
	if s.retentionDays <= 0 {
		return
	}
	cutoffDate := storage.DateOf(now.AddDate(0, 0, -s.retentionDays))

	usageDeleted, err := s.usage.DeleteBefore(ctx, cutoffDate)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("delete_usage").Inc()
		s.logger.Error().Err(err).Msg("Failed to clean up old usage data")
	}
	metrics.RetentionDeleted.WithLabelValues("usage").Add(float64(usageDeleted))

	reportsDeleted, err := s.reports.DeleteBefore(ctx, cutoffDate)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("delete_reports").Inc()
		s.logger.Error().Err(err).Msg("Failed to clean up old reports")
	}
	metrics.RetentionDeleted.WithLabelValues("reports").Add(float64(reportsDeleted))

	s.logger.Info().
		Int("usage_deleted", usageDeleted).
		Int("reports_deleted", reportsDeleted).
		Str("cutoff_date", cutoffDate).
		Msg("Old usage data cleaned up")
}
