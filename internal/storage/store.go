package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Settings() SettingsStore
	Usage() UsageStore
	Reports() ReportStore
}

// SettingsStore holds the tracker settings and the email relay configuration.
type SettingsStore interface {
	Get(ctx context.Context) (*Settings, error)
	Put(ctx context.Context, settings Settings) error
	GetEmailConfig(ctx context.Context) (*EmailConfig, error)
	PutEmailConfig(ctx context.Context, cfg EmailConfig) error
	DeleteEmailConfig(ctx context.Context) error
}

// UsageStore manages per-day usage aggregates.
type UsageStore interface {
	// GetDay returns the usage record for date. A day without usage yields
	// an empty record, not ErrNotFound.
	GetDay(ctx context.Context, date string) (UsageRecord, error)
	// AddUsage atomically adds elapsedMS to the domain's time and increments
	// its visit count by one, creating the entry when absent.
	AddUsage(ctx context.Context, date, domain string, elapsedMS int64) error
	DeleteBefore(ctx context.Context, cutoffDate string) (int, error)
}

// ReportStore manages daily report records.
type ReportStore interface {
	// Put stores the record and moves lastReportDate to its date in one write.
	Put(ctx context.Context, record ReportRecord) error
	Get(ctx context.Context, date string) (*ReportRecord, error)
	// List returns up to limit records, newest first. A limit below one
	// returns every record.
	List(ctx context.Context, limit int) ([]ReportRecord, error)
	// LastReportDate returns "" when no report was ever recorded.
	LastReportDate(ctx context.Context) (string, error)
	DeleteBefore(ctx context.Context, cutoffDate string) (int, error)
}
