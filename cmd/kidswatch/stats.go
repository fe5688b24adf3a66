package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/goodtune/kidswatch/internal/config"
	"github.com/goodtune/kidswatch/internal/email"
	"github.com/goodtune/kidswatch/internal/policy"
	"github.com/goodtune/kidswatch/internal/report"
	"github.com/goodtune/kidswatch/internal/storage"
	"github.com/spf13/cobra"
)

var statsDate string

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	allowedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	limitedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD")).
			Padding(1, 2)
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-site usage for a day",
	Long: `Show the tracked time and visits per site for a day (today by default).
With the bolt backend the database is locked while the server runs; stop the
server or use the stats endpoint of the API instead.`,
	Example: `  kidswatch stats
  kidswatch -c config.yaml stats --date 2024-03-14`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsDate, "date", "", "Date (YYYY-MM-DD) - defaults to today")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	date := statsDate
	if date == "" {
		date = storage.DateOf(time.Now())
	}
	if _, err := time.Parse(storage.DateLayout, date); err != nil {
		return fmt.Errorf("invalid date %q: expected YYYY-MM-DD", date)
	}

	return withStore(func(ctx context.Context, cfg *config.Config, store storage.Store) error {
		settings, err := loadSettings(ctx, store, cfg)
		if err != nil {
			return err
		}

		job := report.NewJob(store, nil, cfg.Report.TopN, quietLogger())
		record, err := job.Preview(ctx, date)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), renderReport("Usage", record, settings.Allowlist))
		return nil
	})
}

// loadSettings returns the stored settings or the configured defaults
func loadSettings(ctx context.Context, store storage.Store, cfg *config.Config) (storage.Settings, error) {
	stored, err := store.Settings().Get(ctx)
	if err == nil {
		return *stored, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return defaultSettings(cfg.Tracker.Defaults), nil
	}
	return storage.Settings{}, fmt.Errorf("failed to load settings: %w", err)
}

// renderReport renders a report as a boxed table. Allowlisted sites are
// shown in green, time-limited ones in red.
func renderReport(heading string, record storage.ReportRecord, allowlist []string) string {
	var b strings.Builder

	if len(record.Sites) == 0 {
		b.WriteString(mutedStyle.Render("No sites visited"))
	} else {
		width := 0
		for _, site := range record.Sites {
			if len(site.Domain) > width {
				width = len(site.Domain)
			}
		}

		for i, site := range record.Sites {
			style := limitedStyle
			if policy.IsAllowed(site.Domain, allowlist) {
				style = allowedStyle
			}
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "%s  %4dm  %s",
				style.Render(fmt.Sprintf("%-*s", width, site.Domain)),
				site.TimeMinutes,
				mutedStyle.Render(fmt.Sprintf("(%dx)", site.Visits)))
		}
	}

	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Total: %s across %d site(s)", email.FormatDuration(record.TotalTimeMinutes), len(record.Sites))

	title := titleStyle.Render(fmt.Sprintf("%s - %s", heading, record.Date))
	return lipgloss.JoinVertical(lipgloss.Left, title, boxStyle.Render(b.String()))
}
