package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/kidswatch/internal/config"
	"github.com/goodtune/kidswatch/internal/report"
	"github.com/goodtune/kidswatch/internal/storage"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Inspect and run daily reports",
	Long:  `Show stored daily reports, preview a report from recorded usage, or run the daily report job now.`,
}

var reportListLimit int

var reportListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List recent daily reports",
	Long:    `List the most recent stored reports, newest first, with their email outcome.`,
	Example: `  kidswatch report list --limit 14`,
	Args:    cobra.NoArgs,
	RunE:    runReportList,
}

var reportShowCmd = &cobra.Command{
	Use:     "show DATE",
	Short:   "Show a stored daily report",
	Example: `  kidswatch report show 2024-03-14`,
	Args:    cobra.ExactArgs(1),
	RunE:    runReportShow,
}

var reportPreviewCmd = &cobra.Command{
	Use:   "preview [DATE]",
	Short: "Generate a report from usage without sending it",
	Long:  `Generate the report for DATE (yesterday by default) from the recorded usage. Nothing is sent or stored.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReportPreview,
}

var reportRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daily report job now",
	Long: `Report on yesterday's usage, email it to the parent address, and record the
outcome, exactly as the scheduler does at the configured report time.`,
	Args: cobra.NoArgs,
	RunE: runReportRun,
}

func init() {
	reportListCmd.Flags().IntVar(&reportListLimit, "limit", 7, "Number of reports to list")

	reportCmd.AddCommand(reportListCmd)
	reportCmd.AddCommand(reportShowCmd)
	reportCmd.AddCommand(reportPreviewCmd)
	reportCmd.AddCommand(reportRunCmd)
	rootCmd.AddCommand(reportCmd)
}

func runReportList(cmd *cobra.Command, args []string) error {
	if reportListLimit < 1 {
		return fmt.Errorf("--limit must be at least 1")
	}

	return withStore(func(ctx context.Context, cfg *config.Config, store storage.Store) error {
		records, err := store.Reports().List(ctx, reportListLimit)
		if err != nil {
			return fmt.Errorf("failed to list reports: %w", err)
		}
		printReportList(cmd.OutOrStdout(), records)
		return nil
	})
}

// printReportList prints one line per report
func printReportList(out io.Writer, records []storage.ReportRecord) {
	if len(records) == 0 {
		color.New(color.FgYellow).Fprintln(out, "No reports available yet.")
		return
	}

	for _, record := range records {
		fmt.Fprintf(out, "%s  %4dm  %2d site(s)  ", record.Date, record.TotalTimeMinutes, len(record.Sites))
		switch record.Delivery() {
		case storage.EmailStatusSent:
			color.New(color.FgGreen).Fprint(out, "✅ sent          ")
		case storage.EmailStatusNotConfigured:
			color.New(color.FgYellow).Fprint(out, "⏳ not configured")
		default:
			color.New(color.FgRed).Fprint(out, "❌ failed        ")
		}
		if len(record.TopSites) > 0 {
			top := record.TopSites[0]
			fmt.Fprintf(out, "  top: %s (%dm)", top.Domain, top.TimeMinutes)
		}
		fmt.Fprintln(out)
	}
}

func runReportShow(cmd *cobra.Command, args []string) error {
	date, err := parseDateArg(args, time.Now())
	if err != nil {
		return err
	}

	return withStore(func(ctx context.Context, cfg *config.Config, store storage.Store) error {
		record, err := store.Reports().Get(ctx, date)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no report stored for %s", date)
		}
		if err != nil {
			return fmt.Errorf("failed to load report: %w", err)
		}

		settings, err := loadSettings(ctx, store, cfg)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, renderReport("Report", *record, settings.Allowlist))
		printDelivery(out, record)
		return nil
	})
}

func runReportPreview(cmd *cobra.Command, args []string) error {
	date, err := parseDateArg(args, time.Now())
	if err != nil {
		return err
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

		fmt.Fprintln(cmd.OutOrStdout(), renderReport("Preview", record, settings.Allowlist))
		return nil
	})
}

func runReportRun(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, cfg *config.Config, store storage.Store) error {
		logger := quietLogger()
		client := newEmailClient(cfg, store, logger)

		job := report.NewJob(store, client, cfg.Report.TopN, logger)
		record, err := job.Run(ctx, time.Now())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if record == nil {
			color.New(color.FgYellow).Fprintln(out, "No parent email configured, nothing to report.")
			return nil
		}
		printDelivery(out, record)
		return nil
	})
}

// withStore loads the configuration and opens storage for a one-shot command
func withStore(fn func(ctx context.Context, cfg *config.Config, store storage.Store) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	return fn(ctx, cfg, store)
}

// parseDateArg returns the optional DATE argument, defaulting to yesterday
func parseDateArg(args []string, now time.Time) (string, error) {
	if len(args) == 0 {
		return report.Yesterday(now), nil
	}
	if _, err := time.Parse(storage.DateLayout, args[0]); err != nil {
		return "", fmt.Errorf("invalid date %q: expected YYYY-MM-DD", args[0])
	}
	return args[0], nil
}

func printDelivery(out io.Writer, record *storage.ReportRecord) {
	if record.EmailSent {
		sentAt := ""
		if record.SentAt != nil {
			sentAt = " at " + record.SentAt.Local().Format("2006-01-02 15:04")
		}
		color.New(color.FgGreen).Fprintf(out, "✅ Email sent%s\n", sentAt)
		return
	}
	color.New(color.FgRed).Fprintf(out, "❌ Email not sent: %s\n", record.Error)
}
