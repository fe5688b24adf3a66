package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/kidswatch/internal/config"
	"github.com/goodtune/kidswatch/internal/storage"
)

func init() {
	color.NoColor = true
}

func TestOpenStorage(t *testing.T) {
	cfg := config.StorageConfig{Type: "bolt", Path: filepath.Join(t.TempDir(), "data", "kidswatch.bolt")}

	store, err := openStorage(cfg)
	if err != nil {
		t.Fatalf("open bolt storage: %v", err)
	}
	_ = store.Close()

	if _, err := openStorage(config.StorageConfig{Type: "sqlite"}); err == nil {
		t.Fatal("expected error for unsupported storage type")
	}
}

func TestSeedSettings(t *testing.T) {
	store, err := openStorage(config.StorageConfig{Type: "bolt", Path: filepath.Join(t.TempDir(), "kidswatch.bolt")})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	defaults := defaultSettings(config.DefaultsConfig{
		TimeoutMinutes: 5,
		Allowlist:      []string{" KhanAcademy.org ", ""},
		Enabled:        true,
	})
	if len(defaults.Allowlist) != 1 || defaults.Allowlist[0] != "khanacademy.org" {
		t.Fatalf("defaults not normalised: %v", defaults.Allowlist)
	}

	seeded, err := seedSettings(ctx, store.Settings(), defaults)
	if err != nil || !seeded {
		t.Fatalf("expected first seed to store defaults, got %v, %v", seeded, err)
	}

	changed := defaults
	changed.TimeoutMinutes = 30
	if err := store.Settings().Put(ctx, changed); err != nil {
		t.Fatalf("put settings: %v", err)
	}

	seeded, err = seedSettings(ctx, store.Settings(), defaults)
	if err != nil || seeded {
		t.Fatalf("expected existing settings to be kept, got %v, %v", seeded, err)
	}
	got, err := store.Settings().Get(ctx)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if got.TimeoutMinutes != 30 {
		t.Errorf("seed overwrote settings: %+v", got)
	}
}

func TestSiteDomain(t *testing.T) {
	tests := []struct {
		arg     string
		want    string
		wantErr bool
	}{
		{arg: "https://www.youtube.com/watch?v=1", want: "www.youtube.com"},
		{arg: "khanacademy.org", want: "khanacademy.org"},
		{arg: "http://[::1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := siteDomain(tt.arg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("siteDomain(%q) = %q, want %q", tt.arg, got, tt.want)
			}
		})
	}
}

func TestParseDateArg(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 0, 0, 0, time.Local)

	got, err := parseDateArg(nil, now)
	if err != nil || got != "2024-03-14" {
		t.Errorf("expected yesterday, got %q, %v", got, err)
	}

	got, err = parseDateArg([]string{"2024-02-29"}, now)
	if err != nil || got != "2024-02-29" {
		t.Errorf("expected explicit date, got %q, %v", got, err)
	}

	if _, err := parseDateArg([]string{"14/03/2024"}, now); err == nil {
		t.Error("expected error for malformed date")
	}
}

func TestRenderReport(t *testing.T) {
	record := storage.ReportRecord{
		Date:             "2024-03-14",
		TotalTimeMinutes: 75,
		Sites: []storage.SiteSummary{
			{Domain: "youtube.com", TimeMinutes: 60, Visits: 4},
			{Domain: "khanacademy.org", TimeMinutes: 15, Visits: 1},
		},
	}

	out := renderReport("Report", record, []string{"khanacademy.org"})
	for _, want := range []string{"Report - 2024-03-14", "youtube.com", "60m", "(4x)", "1 hour and 15 minutes"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q:\n%s", want, out)
		}
	}

	empty := renderReport("Usage", storage.ReportRecord{Date: "2024-03-15"}, nil)
	if !strings.Contains(empty, "No sites visited") {
		t.Errorf("expected empty marker:\n%s", empty)
	}
}

func TestPrintSiteResult(t *testing.T) {
	settings := storage.Settings{TimeoutMinutes: 5, Allowlist: []string{"google.com"}, IsEnabled: true}

	tests := []struct {
		name     string
		domain   string
		settings storage.Settings
		want     string
	}{
		{name: "allowlisted subdomain", domain: "classroom.google.com", settings: settings, want: "ALLOWED"},
		{name: "limited", domain: "youtube.com", settings: settings, want: "after 5 minutes"},
		{name: "disabled", domain: "youtube.com", settings: storage.Settings{TimeoutMinutes: 5}, want: "DISABLED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printSiteResult(&buf, tt.domain, tt.settings, storage.DomainUsage{TimeMS: 180000, Visits: 2}, true)
			out := buf.String()
			if !strings.Contains(out, tt.want) {
				t.Errorf("expected %q in output:\n%s", tt.want, out)
			}
			if !strings.Contains(out, "3 minutes (2 visits)") {
				t.Errorf("expected today's usage in output:\n%s", out)
			}
		})
	}
}

func TestPrintReportList(t *testing.T) {
	var buf bytes.Buffer
	printReportList(&buf, nil)
	if !strings.Contains(buf.String(), "No reports available yet") {
		t.Errorf("expected empty marker:\n%s", buf.String())
	}

	sites := []storage.SiteSummary{{Domain: "youtube.com", TimeMinutes: 20, Visits: 2}}
	buf.Reset()
	printReportList(&buf, []storage.ReportRecord{
		{Date: "2024-03-14", TotalTimeMinutes: 20, Sites: sites, TopSites: sites, EmailSent: true},
		{Date: "2024-03-13", EmailStatus: storage.EmailStatusNotConfigured, Error: "EmailJS not configured"},
		{Date: "2024-03-12", Error: "EmailJS API error: 500"},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), buf.String())
	}
	for i, want := range []string{"sent", "not configured", "failed"} {
		if !strings.Contains(lines[i], want) {
			t.Errorf("line %d: expected %q in %q", i, want, lines[i])
		}
	}
	if !strings.Contains(lines[0], "top: youtube.com (20m)") {
		t.Errorf("expected top site in %q", lines[0])
	}
}

func TestRootHelpDescribesSessionLimit(t *testing.T) {
	if !strings.Contains(rootCmd.Long, "configured\nnumber of minutes without a break") {
		t.Errorf("root help should describe the per-session limit:\n%s", rootCmd.Long)
	}
}
