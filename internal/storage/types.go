package storage

import (
	"time"
)

// DateLayout is the layout of the calendar dates used in storage keys.
const DateLayout = "2006-01-02"

// Settings are the user-facing tracker settings edited from the popup.
type Settings struct {
	TimeoutMinutes int      `json:"timeoutMinutes"`
	Allowlist      []string `json:"allowlist"`
	ParentEmail    string   `json:"parentEmail"`
	IsEnabled      bool     `json:"isEnabled"`
}

// TimeoutDuration returns the per-site budget as a duration.
func (s Settings) TimeoutDuration() time.Duration {
	return time.Duration(s.TimeoutMinutes) * time.Minute
}

// EmailConfig holds the EmailJS identifiers supplied by the user.
type EmailConfig struct {
	ServiceID  string `json:"serviceId"`
	TemplateID string `json:"templateId"`
	PublicKey  string `json:"publicKey"`
}

// DomainUsage is the accumulated usage of one domain on one day.
type DomainUsage struct {
	TimeMS int64 `json:"time"`
	Visits int64 `json:"visits"`
}

// UsageRecord maps domain to its accumulated usage for a day.
type UsageRecord map[string]DomainUsage

// TotalMS returns the summed dwell time of the record.
func (u UsageRecord) TotalMS() int64 {
	var total int64
	for _, d := range u {
		total += d.TimeMS
	}
	return total
}

// SiteSummary is one ranked line of a report.
type SiteSummary struct {
	Domain      string `json:"domain"`
	TimeMinutes int64  `json:"timeMinutes"`
	Visits      int64  `json:"visits"`
}

// ReportRecord is the stored outcome of a daily report run.
type ReportRecord struct {
	Date             string        `json:"date"`
	TotalTimeMinutes int64         `json:"totalTimeMinutes"`
	Sites            []SiteSummary `json:"sites"`
	TopSites         []SiteSummary `json:"topSites"`
	EmailSent        bool          `json:"emailSent"`
	EmailStatus      string        `json:"emailStatus,omitempty"`
	SentAt           *time.Time    `json:"sentAt,omitempty"`
	Error            string        `json:"error,omitempty"`
}

// Email delivery outcomes of a report.
const (
	EmailStatusSent          = "sent"
	EmailStatusFailed        = "failed"
	EmailStatusNotConfigured = "not_configured"
)

// Delivery returns the email outcome, deriving it from EmailSent for
// records stored without a status.
func (r ReportRecord) Delivery() string {
	if r.EmailStatus != "" {
		return r.EmailStatus
	}
	if r.EmailSent {
		return EmailStatusSent
	}
	return EmailStatusFailed
}
