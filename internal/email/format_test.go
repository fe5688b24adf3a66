package email

import (
	"strings"
	"testing"

	"github.com/goodtune/kidswatch/internal/storage"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		minutes int64
		want    string
	}{
		{0, "0 minute"},
		{1, "1 minute"},
		{45, "45 minutes"},
		{60, "1 hour"},
		{61, "1 hour and 1 minute"},
		{125, "2 hours and 5 minutes"},
		{180, "3 hours"},
	}

	for _, tt := range tests {
		if got := FormatDuration(tt.minutes); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.minutes, got, tt.want)
		}
	}
}

func TestFormatSitesEmpty(t *testing.T) {
	if got := FormatTopSites(nil); got != "No sites visited" {
		t.Errorf("unexpected top sites %q", got)
	}
	if got := FormatAllSites(nil); got != "No sites visited" {
		t.Errorf("unexpected all sites %q", got)
	}
}

func TestFormatAllSites(t *testing.T) {
	got := FormatAllSites([]storage.SiteSummary{
		{Domain: "khanacademy.org", TimeMinutes: 20, Visits: 3},
		{Domain: "scratch.mit.edu", TimeMinutes: 15, Visits: 2},
	})
	want := "khanacademy.org: 20m (3x)\nscratch.mit.edu: 15m (2x)"
	if got != want {
		t.Errorf("FormatAllSites = %q, want %q", got, want)
	}
}

func TestReportMessageListsTopThree(t *testing.T) {
	sites := []storage.SiteSummary{
		{Domain: "a.example", TimeMinutes: 50},
		{Domain: "b.example", TimeMinutes: 40},
		{Domain: "c.example", TimeMinutes: 30},
		{Domain: "d.example", TimeMinutes: 5},
	}
	msg := ReportMessage(storage.ReportRecord{Date: "2024-03-01", TotalTimeMinutes: 125, Sites: sites, TopSites: sites})

	if !strings.HasPrefix(msg, "Here's your child's browsing summary for 2024-03-01:") {
		t.Errorf("unexpected opening %q", msg)
	}
	if !strings.Contains(msg, "Total Screen Time: 2 hours and 5 minutes") {
		t.Error("expected pluralised total")
	}
	if !strings.Contains(msg, "Websites Visited: 4") {
		t.Error("expected site count")
	}
	if !strings.Contains(msg, "3. c.example (30 minutes)") {
		t.Error("expected third site")
	}
	if strings.Contains(msg, "d.example") {
		t.Error("expected only the top three sites")
	}
	if !strings.HasSuffix(msg, "generated automatically by KidsWatch Chrome Extension.") {
		t.Error("expected footer")
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *storage.EmailConfig
		problems int
	}{
		{"missing", nil, 1},
		{"valid", &validConfig, 0},
		{"all empty", &storage.EmailConfig{}, 3},
		{"bad prefixes", &storage.EmailConfig{ServiceID: "abc", TemplateID: "tmpl_1", PublicKey: "pk_0123456789"}, 2},
		{"short key", &storage.EmailConfig{ServiceID: "service_a", TemplateID: "template_b", PublicKey: "123"}, 1},
		{"symbol in suffix", &storage.EmailConfig{ServiceID: "service_a-b", TemplateID: "template_b", PublicKey: "pk_0123456789"}, 1},
		{"whitespace only", &storage.EmailConfig{ServiceID: " ", TemplateID: "template_b", PublicKey: "pk_0123456789"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.cfg)
			if tt.problems == 0 {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}
			cfgErr, ok := err.(*ConfigError)
			if !ok {
				t.Fatalf("expected *ConfigError, got %v", err)
			}
			if len(cfgErr.Problems) != tt.problems {
				t.Errorf("expected %d problems, got %v", tt.problems, cfgErr.Problems)
			}
		})
	}
}
