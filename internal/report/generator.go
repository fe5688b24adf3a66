package report

import (
	"sort"

	"github.com/goodtune/kidswatch/internal/storage"
)

// DefaultTopN is the number of sites listed as top sites.
const DefaultTopN = 5

const msPerMinute = 60000

// Generate reduces a day of usage into a report using DefaultTopN.
func Generate(usage storage.UsageRecord, date string) storage.ReportRecord {
	return GenerateTop(usage, date, DefaultTopN)
}

// GenerateTop reduces a day of usage into a report. Sites are ordered by
// minutes descending, then by domain.
func GenerateTop(usage storage.UsageRecord, date string, topN int) storage.ReportRecord {
	sites := make([]storage.SiteSummary, 0, len(usage))
	var total int64

	for domain, entry := range usage {
		minutes := roundMinutes(entry.TimeMS)
		sites = append(sites, storage.SiteSummary{
			Domain:      domain,
			TimeMinutes: minutes,
			Visits:      entry.Visits,
		})
		total += minutes
	}

	sort.Slice(sites, func(i, j int) bool {
		if sites[i].TimeMinutes != sites[j].TimeMinutes {
			return sites[i].TimeMinutes > sites[j].TimeMinutes
		}
		return sites[i].Domain < sites[j].Domain
	})

	if topN < 0 {
		topN = 0
	}
	top := sites
	if len(top) > topN {
		top = top[:topN]
	}

	return storage.ReportRecord{
		Date:             date,
		TotalTimeMinutes: total,
		Sites:            sites,
		TopSites:         append([]storage.SiteSummary(nil), top...),
	}
}

// roundMinutes converts milliseconds to minutes, rounding half up.
func roundMinutes(ms int64) int64 {
	if ms <= 0 {
		return 0
	}
	return (ms + msPerMinute/2) / msPerMinute
}
