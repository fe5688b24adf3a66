package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/kidswatch/internal/config"
	"github.com/goodtune/kidswatch/internal/email"
	"github.com/goodtune/kidswatch/internal/policy"
	"github.com/goodtune/kidswatch/internal/storage"
	"github.com/spf13/cobra"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

var (
	checkAllowlist []string
	checkSendTo    string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check tracker and email decisions interactively",
	Long:  `Check what KidsWatch would do for a site, or whether the email relay is configured.`,
}

var checkSiteCmd = &cobra.Command{
	Use:   "site [flags] URL|DOMAIN",
	Short: "Check whether a site is allowlisted or time-limited",
	Long: `Check whether KidsWatch would arm a timeout for a site, using the stored
settings (or the configured defaults) unless --allowlist is given.`,
	Example: `  kidswatch check site https://www.youtube.com/watch?v=1
  kidswatch check site --allowlist google.com classroom.google.com`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckSite,
}

var checkEmailCmd = &cobra.Command{
	Use:   "email",
	Short: "Validate the EmailJS configuration",
	Long:  `Validate the EmailJS configuration and optionally send a test email.`,
	Example: `  kidswatch check email
  kidswatch check email --send-to parent@example.com`,
	Args: cobra.NoArgs,
	RunE: runCheckEmail,
}

func init() {
	checkSiteCmd.Flags().StringSliceVar(&checkAllowlist, "allowlist", nil, "Allowlist to check against (comma separated) - defaults to stored settings")
	checkEmailCmd.Flags().StringVar(&checkSendTo, "send-to", "", "Send a test email to this address")

	checkCmd.AddCommand(checkSiteCmd)
	checkCmd.AddCommand(checkEmailCmd)
	rootCmd.AddCommand(checkCmd)
}

func runCheckSite(cmd *cobra.Command, args []string) error {
	domain, err := siteDomain(args[0])
	if err != nil {
		return err
	}

	if len(checkAllowlist) > 0 {
		settings := storage.Settings{TimeoutMinutes: 0, Allowlist: policy.NormalizeAllowlist(checkAllowlist), IsEnabled: true}
		printSiteResult(cmd.OutOrStdout(), domain, settings, storage.DomainUsage{}, false)
		return nil
	}

	return withStore(func(ctx context.Context, cfg *config.Config, store storage.Store) error {
		settings, err := loadSettings(ctx, store, cfg)
		if err != nil {
			return err
		}

		today, err := store.Usage().GetDay(ctx, storage.DateOf(time.Now()))
		if err != nil {
			return fmt.Errorf("failed to load usage: %w", err)
		}

		printSiteResult(cmd.OutOrStdout(), domain, settings, today[domain], true)
		return nil
	})
}

// siteDomain accepts a URL or a bare domain and returns the host name
func siteDomain(arg string) (string, error) {
	if !strings.Contains(arg, "://") {
		arg = "https://" + arg
	}
	domain, err := policy.DomainOf(arg)
	if err != nil {
		return "", fmt.Errorf("invalid URL or domain: %w", err)
	}
	return domain, nil
}

// printSiteResult prints the site check result with colors
func printSiteResult(out io.Writer, domain string, settings storage.Settings, today storage.DomainUsage, withUsage bool) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)

	fmt.Fprintln(out)
	cyan.Fprintln(out, rule)
	cyan.Fprintln(out, "SITE CHECK")
	cyan.Fprintln(out, rule)
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Domain:     %s\n", domain)
	fmt.Fprintf(out, "Allowlist:  %s\n", strings.Join(settings.Allowlist, ", "))
	if withUsage {
		fmt.Fprintf(out, "Today:      %s (%d visits)\n", email.FormatDuration(today.TimeMS/60000), today.Visits)
	}
	fmt.Fprintln(out)

	cyan.Fprint(out, "Decision:   ")
	switch {
	case !settings.IsEnabled:
		yellow.Fprintln(out, "DISABLED")
		fmt.Fprintln(out, "            → Time is tracked, no timeout is armed")
	case policy.IsAllowed(domain, settings.Allowlist):
		green.Fprintln(out, "ALLOWED")
		fmt.Fprintln(out, "            → Time is tracked, no timeout is armed")
	default:
		red.Fprintln(out, "LIMITED")
		if settings.TimeoutMinutes > 0 {
			fmt.Fprintf(out, "            → Tab is sent to the timeout page after %s\n", email.FormatDuration(int64(settings.TimeoutMinutes)))
		} else {
			fmt.Fprintln(out, "            → Tab is sent to the timeout page when the site budget runs out")
		}
	}

	fmt.Fprintln(out)
	cyan.Fprintln(out, rule)
	fmt.Fprintln(out)
}

func runCheckEmail(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, cfg *config.Config, store storage.Store) error {
		out := cmd.OutOrStdout()
		green := color.New(color.FgGreen, color.Bold)
		red := color.New(color.FgRed, color.Bold)

		client := newEmailClient(cfg, store, quietLogger())

		if err := client.Validate(ctx); err != nil {
			red.Fprintf(out, "❌ %v\n", err)
			return err
		}
		green.Fprintln(out, "✅ EmailJS configuration is valid")

		if checkSendTo == "" {
			return nil
		}

		if err := client.SendTest(ctx, checkSendTo); err != nil {
			red.Fprintf(out, "❌ Failed to send email: %v\n", err)
			return err
		}
		green.Fprintf(out, "✅ Test email sent to %s\n", checkSendTo)
		return nil
	})
}
