package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/kidswatch/internal/email"
	"github.com/goodtune/kidswatch/internal/metrics"
	"github.com/goodtune/kidswatch/internal/storage"
	"github.com/rs/zerolog"
)

// Sender delivers a report to a recipient.
type Sender interface {
	SendReport(ctx context.Context, report storage.ReportRecord, recipient string) error
}

// Job builds yesterday's report, emails it and records the outcome.
type Job struct {
	settings storage.SettingsStore
	usage    storage.UsageStore
	reports  storage.ReportStore
	sender   Sender
	topN     int
	logger   zerolog.Logger
}

// NewJob creates a new daily report job
func NewJob(store storage.Store, sender Sender, topN int, logger zerolog.Logger) *Job {
	if topN <= 0 {
		topN = DefaultTopN
	}
	return &Job{
		settings: store.Settings(),
		usage:    store.Usage(),
		reports:  store.Reports(),
		sender:   sender,
		topN:     topN,
		logger:   logger.With().Str("component", "report").Logger(),
	}
}

// Yesterday returns the calendar date before now in now's location.
func Yesterday(now time.Time) string {
	return storage.DateOf(now.AddDate(0, 0, -1))
}

// Preview generates the report of date without sending or storing it.
func (j *Job) Preview(ctx context.Context, date string) (storage.ReportRecord, error) {
	usage, err := j.usage.GetDay(ctx, date)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("get_usage").Inc()
		return storage.ReportRecord{}, fmt.Errorf("failed to load usage for %s: %w", date, err)
	}
	return GenerateTop(usage, date, j.topN), nil
}

// Run reports on the day before now. Without a parent email it does nothing
// and returns a nil record. A failed dispatch is recorded in the stored
// record rather than returned.
func (j *Job) Run(ctx context.Context, now time.Time) (*storage.ReportRecord, error) {
	settings, err := j.settings.Get(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		j.logger.Debug().Msg("No settings stored, skipping daily report")
		metrics.ReportsTotal.WithLabelValues("skipped").Inc()
		return nil, nil
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("get_settings").Inc()
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	recipient := strings.TrimSpace(settings.ParentEmail)
	if recipient == "" {
		j.logger.Debug().Msg("No parent email configured, skipping daily report")
		metrics.ReportsTotal.WithLabelValues("skipped").Inc()
		return nil, nil
	}

	date := Yesterday(now)
	record, err := j.Preview(ctx, date)
	if err != nil {
		return nil, err
	}

	if err := j.sender.SendReport(ctx, record, recipient); err != nil {
		record.EmailSent = false
		record.EmailStatus = storage.EmailStatusFailed
		if email.IsConfigError(err) {
			record.EmailStatus = storage.EmailStatusNotConfigured
		}
		record.Error = err.Error()
		metrics.ReportsTotal.WithLabelValues("failed").Inc()
		j.logger.Error().
			Err(err).
			Str("date", date).
			Msg("Failed to send daily report")
	} else {
		sentAt := now
		record.EmailSent = true
		record.EmailStatus = storage.EmailStatusSent
		record.SentAt = &sentAt
		metrics.ReportsTotal.WithLabelValues("sent").Inc()
		j.logger.Info().
			Str("date", date).
			Int64("total_minutes", record.TotalTimeMinutes).
			Int("sites", len(record.Sites)).
			Msg("Daily report sent")
	}

	if err := j.reports.Put(ctx, record); err != nil {
		metrics.StoreErrors.WithLabelValues("put_report").Inc()
		return &record, fmt.Errorf("failed to store report for %s: %w", date, err)
	}

	return &record, nil
}
