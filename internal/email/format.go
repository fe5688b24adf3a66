package email

import (
	"fmt"
	"strings"

	"github.com/goodtune/kidswatch/internal/storage"
)

// TemplateParams builds the EmailJS template parameters of a daily report.
func TemplateParams(report storage.ReportRecord, recipient string) map[string]any {
	return map[string]any{
		"to_email":    recipient,
		"to_name":     "Parent",
		"subject":     "KidsWatch Daily Report - " + report.Date,
		"report_date": report.Date,
		"total_time":  fmt.Sprintf("%d minutes", report.TotalTimeMinutes),
		"sites_count": len(report.Sites),
		"top_sites":   FormatTopSites(report.TopSites),
		"all_sites":   FormatAllSites(report.Sites),
		"message":     ReportMessage(report),
	}
}

// FormatTopSites renders the ranked lines of the top sites.
func FormatTopSites(sites []storage.SiteSummary) string {
	if len(sites) == 0 {
		return "No sites visited"
	}

	lines := make([]string, len(sites))
	for i, site := range sites {
		lines[i] = fmt.Sprintf("%d. %s - %d minutes (%d visits)", i+1, site.Domain, site.TimeMinutes, site.Visits)
	}
	return strings.Join(lines, "\n")
}

// FormatAllSites renders one compact line per site.
func FormatAllSites(sites []storage.SiteSummary) string {
	if len(sites) == 0 {
		return "No sites visited"
	}

	lines := make([]string, len(sites))
	for i, site := range sites {
		lines[i] = fmt.Sprintf("%s: %dm (%dx)", site.Domain, site.TimeMinutes, site.Visits)
	}
	return strings.Join(lines, "\n")
}

// ReportMessage renders the human readable summary of a report.
func ReportMessage(report storage.ReportRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Here's your child's browsing summary for %s:\n\n", report.Date)
	b.WriteString("📊 Total Screen Time: ")
	b.WriteString(FormatDuration(report.TotalTimeMinutes))
	fmt.Fprintf(&b, "\n🌐 Websites Visited: %d\n\n", len(report.Sites))

	if len(report.TopSites) > 0 {
		b.WriteString("🔝 Most Used Sites:\n")
		for i, site := range report.TopSites {
			if i == 3 {
				break
			}
			fmt.Fprintf(&b, "%d. %s (%d minutes)\n", i+1, site.Domain, site.TimeMinutes)
		}
	}

	b.WriteString("\n💡 This report was generated automatically by KidsWatch Chrome Extension.")
	return b.String()
}

// FormatDuration renders minutes as "2 hours and 5 minutes".
func FormatDuration(totalMinutes int64) string {
	hours := totalMinutes / 60
	minutes := totalMinutes % 60

	if hours == 0 {
		return plural(minutes, "minute")
	}
	out := plural(hours, "hour")
	if minutes > 0 {
		out += " and " + plural(minutes, "minute")
	}
	return out
}

func plural(n int64, unit string) string {
	if n > 1 {
		return fmt.Sprintf("%d %ss", n, unit)
	}
	return fmt.Sprintf("%d %s", n, unit)
}
