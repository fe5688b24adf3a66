package storage

import (
	"strings"
	"time"
)

// Key names shared by every backend.
const (
	KeySettings       = "settings"
	KeyEmailConfig    = "emailjsConfig"
	KeyLastReportDate = "lastReportDate"

	usagePrefix  = "usage_"
	reportPrefix = "report_"
)

// UsageKey returns the key of the usage record for date.
func UsageKey(date string) string {
	return usagePrefix + date
}

// ReportKey returns the key of the report record for date.
func ReportKey(date string) string {
	return reportPrefix + date
}

// DateOf formats t as a storage date in t's location.
func DateOf(t time.Time) string {
	return t.Format(DateLayout)
}

// DateFromKey extracts the date suffix of a usage or report key.
func DateFromKey(key string) (string, bool) {
	for _, prefix := range []string{usagePrefix, reportPrefix} {
		if idx := strings.LastIndex(key, prefix); idx >= 0 {
			date := key[idx+len(prefix):]
			if _, err := time.Parse(DateLayout, date); err == nil {
				return date, true
			}
		}
	}
	return "", false
}

// Before reports whether date is strictly before cutoff. Malformed dates
// are never considered before anything.
func Before(date, cutoff string) bool {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return false
	}
	c, err := time.Parse(DateLayout, cutoff)
	if err != nil {
		return false
	}
	return d.Before(c)
}
