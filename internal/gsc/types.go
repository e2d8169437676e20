package gsc

import (
	"fmt"
	"strings"
	"time"
)

// ValidDimensions are the grouping dimensions Search Console accepts.
var ValidDimensions = []string{"query", "page", "device", "country", "date", "searchAppearance"}

// Property is one Search Console property visible to the user.
type Property struct {
	SiteURL         string
	PermissionLevel string
}

// Row is one aggregated search analytics row. Keys align positionally with
// the query's dimensions.
type Row struct {
	Keys        []string
	Clicks      float64
	Impressions float64
	CTR         float64
	Position    float64
}

// Query describes a search analytics request. Dates are inclusive and in
// Search Console's YYYY-MM-DD form.
type Query struct {
	StartDate  string
	EndDate    string
	Dimensions []string
	RowLimit   int64
}

func (q Query) validate() error {
	if q.StartDate == "" || q.EndDate == "" {
		return fmt.Errorf("query requires a start and end date")
	}
	for _, dim := range q.Dimensions {
		if !validDimension(dim) {
			return fmt.Errorf("unknown dimension %q (valid: %s)", dim, strings.Join(ValidDimensions, ", "))
		}
	}
	return nil
}

func validDimension(dim string) bool {
	for _, valid := range ValidDimensions {
		if dim == valid {
			return true
		}
	}
	return false
}

// Window returns the inclusive date range covering the last days days ending
// today, formatted for the Search Console API.
func Window(now time.Time, days int) (start, end string) {
	if days <= 0 {
		days = 28
	}
	endDate := now
	startDate := endDate.AddDate(0, 0, -days)
	return startDate.Format("2006-01-02"), endDate.Format("2006-01-02")
}

// ParseDimensions splits a comma-separated dimension list and validates each
// entry.
func ParseDimensions(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return []string{"query"}, nil
	}
	parts := strings.Split(raw, ",")
	dims := make([]string, 0, len(parts))
	for _, part := range parts {
		dim := strings.TrimSpace(part)
		if dim == "" {
			continue
		}
		if !validDimension(dim) {
			return nil, fmt.Errorf("unknown dimension %q (valid: %s)", dim, strings.Join(ValidDimensions, ", "))
		}
		dims = append(dims, dim)
	}
	if len(dims) == 0 {
		return []string{"query"}, nil
	}
	return dims, nil
}

// Inspection is the index status of one page.
type Inspection struct {
	Verdict         string
	CoverageState   string
	RobotsTxtState  string
	IndexingState   string
	LastCrawlTime   string
	GoogleCanonical string
}

// Sitemap is one submitted sitemap and its processing state.
type Sitemap struct {
	Path          string
	Errors        int64
	Warnings      int64
	SubmittedURLs int64
	HasWebContent bool
	Pending       bool
}
