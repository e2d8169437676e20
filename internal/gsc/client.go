// Package gsc wraps the Google Search Console and Indexing APIs behind a
// small domain surface. Clients are built per request from a bearer token so
// a token refreshed mid-session is picked up on the next call.
package gsc

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	indexing "google.golang.org/api/indexing/v3"
	"google.golang.org/api/option"
	searchconsole "google.golang.org/api/searchconsole/v1"
)

// maxRowLimit is the Search Console API ceiling for a single query.
const maxRowLimit = 25000

// Client is a per-request handle on the Search Console and Indexing APIs for
// one user. It is cheap to construct and must not outlive the access token
// it was built with.
type Client struct {
	search   *searchconsole.Service
	indexing *indexing.Service
}

// NewClient builds API services authenticated with the given access token.
func NewClient(ctx context.Context, accessToken string) (*Client, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})

	search, err := searchconsole.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("create search console service: %w", err)
	}
	idx, err := indexing.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("create indexing service: %w", err)
	}
	return &Client{search: search, indexing: idx}, nil
}

// ListProperties returns the verified Search Console properties the user can
// see.
func (c *Client) ListProperties(ctx context.Context) ([]Property, error) {
	resp, err := c.search.Sites.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}

	properties := make([]Property, 0, len(resp.SiteEntry))
	for _, site := range resp.SiteEntry {
		properties = append(properties, Property{
			SiteURL:         site.SiteUrl,
			PermissionLevel: site.PermissionLevel,
		})
	}
	return properties, nil
}

// Query runs a search analytics query. The API sorts rows by clicks
// descending; rowLimit above the API ceiling is clamped.
func (c *Client) Query(ctx context.Context, siteURL string, q Query) ([]Row, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	limit := q.RowLimit
	if limit <= 0 || limit > maxRowLimit {
		limit = maxRowLimit
	}
	req := &searchconsole.SearchAnalyticsQueryRequest{
		StartDate:  q.StartDate,
		EndDate:    q.EndDate,
		Dimensions: q.Dimensions,
		RowLimit:   limit,
	}

	resp, err := c.search.Searchanalytics.Query(siteURL, req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("query search analytics: %w", err)
	}

	rows := make([]Row, 0, len(resp.Rows))
	for _, r := range resp.Rows {
		rows = append(rows, Row{
			Keys:        r.Keys,
			Clicks:      r.Clicks,
			Impressions: r.Impressions,
			CTR:         r.Ctr,
			Position:    r.Position,
		})
	}
	return rows, nil
}

// InspectURL asks Google how it sees a page within a property.
func (c *Client) InspectURL(ctx context.Context, siteURL, pageURL string) (*Inspection, error) {
	req := &searchconsole.InspectUrlIndexRequest{
		InspectionUrl: pageURL,
		SiteUrl:       siteURL,
	}
	resp, err := c.search.UrlInspection.Index.Inspect(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("inspect url: %w", err)
	}
	if resp.InspectionResult == nil || resp.InspectionResult.IndexStatusResult == nil {
		return nil, errors.New("inspection response missing index status")
	}

	status := resp.InspectionResult.IndexStatusResult
	return &Inspection{
		Verdict:         status.Verdict,
		CoverageState:   status.CoverageState,
		RobotsTxtState:  status.RobotsTxtState,
		IndexingState:   status.IndexingState,
		LastCrawlTime:   status.LastCrawlTime,
		GoogleCanonical: status.GoogleCanonical,
	}, nil
}

// ListSitemaps returns the sitemaps submitted for a property.
func (c *Client) ListSitemaps(ctx context.Context, siteURL string) ([]Sitemap, error) {
	resp, err := c.search.Sitemaps.List(siteURL).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list sitemaps: %w", err)
	}

	sitemaps := make([]Sitemap, 0, len(resp.Sitemap))
	for _, sm := range resp.Sitemap {
		entry := Sitemap{
			Path:     sm.Path,
			Errors:   sm.Errors,
			Warnings: sm.Warnings,
			Pending:  sm.IsPending,
		}
		for _, content := range sm.Contents {
			if content.Type == "web" {
				entry.SubmittedURLs = content.Submitted
				entry.HasWebContent = true
				break
			}
		}
		sitemaps = append(sitemaps, entry)
	}
	return sitemaps, nil
}

// SubmitSitemap registers a sitemap URL with a property.
func (c *Client) SubmitSitemap(ctx context.Context, siteURL, sitemapURL string) error {
	if err := c.search.Sitemaps.Submit(siteURL, sitemapURL).Context(ctx).Do(); err != nil {
		return fmt.Errorf("submit sitemap: %w", err)
	}
	return nil
}

// RequestIndexing publishes a URL_UPDATED notification for a URL. Google only
// guarantees action for JobPosting and BroadcastEvent pages.
func (c *Client) RequestIndexing(ctx context.Context, url string) error {
	notification := &indexing.UrlNotification{
		Url:  url,
		Type: "URL_UPDATED",
	}
	if _, err := c.indexing.UrlNotifications.Publish(notification).Context(ctx).Do(); err != nil {
		return fmt.Errorf("request indexing: %w", err)
	}
	return nil
}

// IsPermissionDenied reports whether the API rejected a call with 403. The
// Indexing API does this for properties without API access configured.
func IsPermissionDenied(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 403
}
