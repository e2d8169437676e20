package gsc_tools

import (
	"fmt"
	"strings"

	"github.com/teemow/gsc-mcp/internal/gsc"
)

// Markdown rendering for tool results. Tables mirror the Search Console UI
// columns: clicks, impressions, CTR, average position.

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func pct(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func formatProperties(properties []gsc.Property) string {
	if len(properties) == 0 {
		return "No Search Console properties found."
	}

	var b strings.Builder
	b.WriteString("# Your Search Console Properties\n\n")
	for _, p := range properties {
		fmt.Fprintf(&b, "- %s (%s)\n", p.SiteURL, p.PermissionLevel)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatAnalyticsTable(siteURL string, days int, dimensions []string, rows []gsc.Row) string {
	if len(rows) == 0 {
		return fmt.Sprintf("No data found for %s in the last %d days.", siteURL, days)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Search Analytics: %s\n*Last %d days*\n\n", siteURL, days)

	header := make([]string, 0, len(dimensions)+4)
	for _, dim := range dimensions {
		header = append(header, capitalize(dim))
	}
	header = append(header, "Clicks", "Impr", "CTR", "Pos")
	b.WriteString("| " + strings.Join(header, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat("---|", len(header)) + "\n")

	for _, row := range rows {
		cells := make([]string, 0, len(header))
		for _, k := range row.Keys {
			cells = append(cells, truncate(k, 50))
		}
		cells = append(cells,
			fmt.Sprintf("%.0f", row.Clicks),
			fmt.Sprintf("%.0f", row.Impressions),
			pct(row.CTR),
			fmt.Sprintf("%.1f", row.Position),
		)
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatOverview(siteURL string, days int, row gsc.Row) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Performance Overview: %s\n*Last %d days*\n\n", siteURL, days)
	b.WriteString("| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&b, "| Clicks | %.0f |\n", row.Clicks)
	fmt.Fprintf(&b, "| Impressions | %.0f |\n", row.Impressions)
	fmt.Fprintf(&b, "| CTR | %.2f%% |\n", row.CTR*100)
	fmt.Fprintf(&b, "| Avg Position | %.1f |", row.Position)
	return b.String()
}

func formatOpportunities(siteURL string, days int, filter gsc.OpportunityFilter, opportunities []gsc.Opportunity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Keyword Opportunities: %s\n", siteURL)
	fmt.Fprintf(&b, "*Last %d days | Position %.0f-%.0f | Min %.0f impressions*\n\n",
		days, filter.MinPosition, filter.MaxPosition, filter.MinImpressions)

	if len(opportunities) == 0 {
		b.WriteString("No opportunities found. Try adjusting the filters.")
		return b.String()
	}

	fmt.Fprintf(&b, "Found **%d** opportunities. Top 20:\n\n", len(opportunities))
	b.WriteString("| Query | Position | Impressions | CTR | Clicks |\n")
	b.WriteString("|-------|----------|-------------|-----|--------|\n")

	shown := opportunities
	if len(shown) > 20 {
		shown = shown[:20]
	}
	for _, opp := range shown {
		fmt.Fprintf(&b, "| %s | %.1f | %.0f | %s | %.0f |\n",
			truncate(opp.Query, 40), opp.Position, opp.Impressions, pct(opp.CTR), opp.Clicks)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatTopPages(siteURL string, days int, rows []gsc.Row) string {
	if len(rows) == 0 {
		return fmt.Sprintf("No page data found for %s", siteURL)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Top Pages: %s\n*Last %d days*\n\n", siteURL, days)
	b.WriteString("| # | Page | Clicks | Impressions | CTR | Position |\n")
	b.WriteString("|---|------|--------|-------------|-----|----------|\n")

	prefix := strings.TrimRight(siteURL, "/")
	for i, row := range rows {
		page := ""
		if len(row.Keys) > 0 {
			page = row.Keys[0]
		}
		display := truncate(strings.TrimPrefix(page, prefix), 45)
		if display == "" {
			display = truncate(page, 45)
		}
		fmt.Fprintf(&b, "| %d | %s | %.0f | %.0f | %s | %.1f |\n",
			i+1, display, row.Clicks, row.Impressions, pct(row.CTR), row.Position)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatShareTable(title, keyColumn, siteURL string, days int, rows []gsc.Row) string {
	if len(rows) == 0 {
		return fmt.Sprintf("No %s data found for %s", strings.ToLower(keyColumn), siteURL)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s: %s\n*Last %d days*\n\n", title, siteURL, days)
	fmt.Fprintf(&b, "| %s | Clicks | Share | Impressions | CTR | Position |\n", keyColumn)
	b.WriteString("|" + strings.Repeat("---|", 6) + "\n")

	total := gsc.TotalClicks(rows)
	for _, row := range rows {
		key := "Unknown"
		if len(row.Keys) > 0 {
			key = row.Keys[0]
		}
		share := 0.0
		if total > 0 {
			share = row.Clicks / total * 100
		}
		fmt.Fprintf(&b, "| %s | %.0f | %.1f%% | %.0f | %s | %.1f |\n",
			key, row.Clicks, share, row.Impressions, pct(row.CTR), row.Position)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatInspection(pageURL string, inspection *gsc.Inspection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# URL Inspection: %s\n\n", pageURL)
	fmt.Fprintf(&b, "## Status: %s\n\n", inspection.Verdict)
	fmt.Fprintf(&b, "**Coverage:** %s\n", orUnknown(inspection.CoverageState))
	fmt.Fprintf(&b, "**Robots.txt:** %s\n", orUnknown(inspection.RobotsTxtState))
	fmt.Fprintf(&b, "**Indexing:** %s", orUnknown(inspection.IndexingState))

	if inspection.LastCrawlTime != "" {
		fmt.Fprintf(&b, "\n**Last Crawl:** %s", inspection.LastCrawlTime)
	}
	if inspection.GoogleCanonical != "" {
		fmt.Fprintf(&b, "\n**Google Canonical:** %s", inspection.GoogleCanonical)
	}
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func formatSitemaps(siteURL string, sitemaps []gsc.Sitemap) string {
	if len(sitemaps) == 0 {
		return fmt.Sprintf("No sitemaps found for %s", siteURL)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Sitemaps: %s\n\n", siteURL)
	b.WriteString("| Sitemap | URLs | Status |\n|---------|------|--------|\n")

	for _, sm := range sitemaps {
		parts := strings.Split(sm.Path, "/")
		name := truncate(parts[len(parts)-1], 35)

		urls := "N/A"
		if sm.HasWebContent {
			urls = fmt.Sprintf("%d", sm.SubmittedURLs)
		}

		status := "OK"
		switch {
		case sm.Pending:
			status = "pending"
		case sm.Errors > 0:
			status = fmt.Sprintf("%d errors", sm.Errors)
		case sm.Warnings > 0:
			status = fmt.Sprintf("%d warnings", sm.Warnings)
		}
		fmt.Fprintf(&b, "| %s | %s | %s |\n", name, urls, status)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatIndexingResult(url string) string {
	return fmt.Sprintf(`# Indexing Request Submitted

**URL:** %s

Note: the Indexing API works best for JobPosting and BroadcastEvent pages.
For other pages, Google may not immediately act on this request.`, url)
}

const indexingPermissionHelp = `Permission denied by the Indexing API.

The Indexing API requires:
1. The Indexing API enabled in Google Cloud Console
2. Verified site ownership in Search Console
3. Pages of type JobPosting or BroadcastEvent`
