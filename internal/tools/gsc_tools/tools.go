// Package gsc_tools registers the Search Console tool surface on an MCP
// server. Every handler resolves the calling user from the request context
// and obtains a valid access token per invocation, so revocation and token
// expiry take effect between calls.
package gsc_tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/gsc-mcp/internal/auth"
	"github.com/teemow/gsc-mcp/internal/gsc"
	"github.com/teemow/gsc-mcp/internal/logging"
)

// analyticsRowLimit caps the quick analytics table; exports use their own
// limit.
const analyticsRowLimit = 25

// API is the Search Console surface the tools call. *gsc.Client implements
// it; tests substitute a fake.
type API interface {
	ListProperties(ctx context.Context) ([]gsc.Property, error)
	Query(ctx context.Context, siteURL string, q gsc.Query) ([]gsc.Row, error)
	InspectURL(ctx context.Context, siteURL, pageURL string) (*gsc.Inspection, error)
	ListSitemaps(ctx context.Context, siteURL string) ([]gsc.Sitemap, error)
	SubmitSitemap(ctx context.Context, siteURL, sitemapURL string) error
	RequestIndexing(ctx context.Context, url string) error
}

// TokenResolver hands out valid access tokens for a user.
type TokenResolver interface {
	ResolveValidToken(ctx context.Context, userID string) (string, error)
}

// Deps carries everything the tool handlers need.
type Deps struct {
	Tokens TokenResolver
	Logger *slog.Logger

	// LoginURL is shown to users whose Google grant needs re-authorization.
	LoginURL string

	// NewAPI builds an API client from an access token. Defaults to the
	// real Search Console client.
	NewAPI func(ctx context.Context, accessToken string) (API, error)

	// ObserveToolCall records a finished tool invocation, nil to disable.
	ObserveToolCall func(tool string, err error)

	// Now is the time source for date windows.
	Now func() time.Time
}

type handlers struct {
	deps Deps
}

type toolFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

// RegisterGSCTools registers all Search Console tools with the MCP server.
func RegisterGSCTools(s *mcpserver.MCPServer, deps Deps) error {
	if deps.Tokens == nil {
		return errors.New("gsc_tools: token resolver is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = logging.WithComponent(deps.Logger, "gsc-tools")
	if deps.NewAPI == nil {
		deps.NewAPI = func(ctx context.Context, accessToken string) (API, error) {
			return gsc.NewClient(ctx, accessToken)
		}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	h := &handlers{deps: deps}

	register := func(tool mcp.Tool, fn toolFunc) {
		s.AddTool(tool, h.instrument(tool.Name, fn))
	}

	register(mcp.NewTool("list_properties",
		mcp.WithDescription("List all Search Console properties for the authenticated user"),
	), h.listProperties)

	register(mcp.NewTool("get_search_analytics",
		mcp.WithDescription("Get search analytics data for a property"),
		mcp.WithString("site_url",
			mcp.Required(),
			mcp.Description("The URL of the site in Search Console (use sc-domain:example.com for domain properties)"),
		),
		mcp.WithNumber("days",
			mcp.Description("Number of days to look back (default: 28)"),
		),
		mcp.WithString("dimensions",
			mcp.Description("Dimensions to group by (query, page, device, country, date). Comma-separated."),
		),
	), h.getSearchAnalytics)

	register(mcp.NewTool("get_performance_overview",
		mcp.WithDescription("Get aggregate clicks, impressions, CTR and position for a property"),
		mcp.WithString("site_url",
			mcp.Required(),
			mcp.Description("The URL of the site in Search Console"),
		),
		mcp.WithNumber("days",
			mcp.Description("Number of days to look back (default: 28)"),
		),
	), h.getPerformanceOverview)

	register(mcp.NewTool("find_keyword_opportunities",
		mcp.WithDescription("Find queries with high impressions but room for improvement"),
		mcp.WithString("site_url",
			mcp.Required(),
			mcp.Description("The URL of the site in Search Console"),
		),
		mcp.WithNumber("days",
			mcp.Description("Number of days to analyze (default: 28)"),
		),
		mcp.WithNumber("min_impressions",
			mcp.Description("Minimum impressions (default: 100)"),
		),
		mcp.WithNumber("max_position",
			mcp.Description("Maximum average position (default: 20)"),
		),
		mcp.WithNumber("min_position",
			mcp.Description("Minimum average position, excludes top rankings (default: 4)"),
		),
	), h.findKeywordOpportunities)

	register(mcp.NewTool("get_top_pages",
		mcp.WithDescription("Get the top performing pages by clicks"),
		mcp.WithString("site_url",
			mcp.Required(),
			mcp.Description("The URL of the site in Search Console"),
		),
		mcp.WithNumber("days",
			mcp.Description("Number of days to analyze (default: 28)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of pages to return (default: 20)"),
		),
	), h.getTopPages)

	register(mcp.NewTool("get_device_comparison",
		mcp.WithDescription("Compare performance across mobile, desktop and tablet"),
		mcp.WithString("site_url",
			mcp.Required(),
			mcp.Description("The URL of the site in Search Console"),
		),
		mcp.WithNumber("days",
			mcp.Description("Number of days to analyze (default: 28)"),
		),
	), h.getDeviceComparison)

	register(mcp.NewTool("get_country_breakdown",
		mcp.WithDescription("Get traffic breakdown by country"),
		mcp.WithString("site_url",
			mcp.Required(),
			mcp.Description("The URL of the site in Search Console"),
		),
		mcp.WithNumber("days",
			mcp.Description("Number of days to analyze (default: 28)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of countries to show (default: 15)"),
		),
	), h.getCountryBreakdown)

	register(mcp.NewTool("inspect_url",
		mcp.WithDescription("Inspect a URL's indexing status"),
		mcp.WithString("site_url",
			mcp.Required(),
			mcp.Description("The site in Search Console (use sc-domain:example.com for domain properties)"),
		),
		mcp.WithString("page_url",
			mcp.Required(),
			mcp.Description("The URL to inspect"),
		),
	), h.inspectURL)

	register(mcp.NewTool("get_sitemaps",
		mcp.WithDescription("List all sitemaps submitted for a property"),
		mcp.WithString("site_url",
			mcp.Required(),
			mcp.Description("The site in Search Console"),
		),
	), h.getSitemaps)

	register(mcp.NewTool("submit_sitemap",
		mcp.WithDescription("Submit a sitemap to Google"),
		mcp.WithString("site_url",
			mcp.Required(),
			mcp.Description("The site in Search Console"),
		),
		mcp.WithString("sitemap_url",
			mcp.Required(),
			mcp.Description("The full URL of the sitemap"),
		),
	), h.submitSitemap)

	register(mcp.NewTool("request_indexing",
		mcp.WithDescription("Request Google to crawl and index a URL. Works best for JobPosting and BroadcastEvent pages."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL to request indexing for"),
		),
	), h.requestIndexing)

	register(mcp.NewTool("export_analytics",
		mcp.WithDescription("Export search analytics data as CSV or JSON"),
		mcp.WithString("site_url",
			mcp.Required(),
			mcp.Description("The URL of the site in Search Console"),
		),
		mcp.WithNumber("days",
			mcp.Description("Number of days to export (default: 28)"),
		),
		mcp.WithString("dimensions",
			mcp.Description("Dimensions to include (query, page, device, country, date). Comma-separated."),
		),
		mcp.WithString("format",
			mcp.Description("Export format, csv or json (default: csv)"),
		),
		mcp.WithNumber("row_limit",
			mcp.Description("Maximum rows (default: 500)"),
		),
	), h.exportAnalytics)

	return nil
}

// instrument wraps a handler with logging and the metrics hook. A tool
// result carrying IsError counts as a failure even though the transport
// error is nil.
func (h *handlers) instrument(name string, fn toolFunc) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		result, err := fn(ctx, request)

		callErr := err
		if callErr == nil && result != nil && result.IsError {
			callErr = errors.New("tool returned error result")
		}

		status := logging.StatusSuccess
		if callErr != nil {
			status = logging.StatusError
		}
		h.deps.Logger.Debug("tool call finished",
			logging.Tool(name),
			logging.Status(status),
			"duration_ms", time.Since(start).Milliseconds())

		if h.deps.ObserveToolCall != nil {
			h.deps.ObserveToolCall(name, callErr)
		}
		return result, err
	}
}

// api resolves the calling user and builds a Search Console client with a
// token valid for this invocation.
func (h *handlers) api(ctx context.Context) (API, error) {
	userID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return nil, errors.New("no authenticated user bound to this session")
	}

	token, err := h.deps.Tokens.ResolveValidToken(ctx, userID)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrReauthRequired):
			return nil, fmt.Errorf("Google access for this account must be re-authorized. Open %s in a browser and sign in again.", h.deps.LoginURL)
		case errors.Is(err, auth.ErrProviderUnavailable):
			return nil, errors.New("Google's token service is temporarily unavailable, please retry shortly")
		default:
			return nil, fmt.Errorf("resolve access token: %v", err)
		}
	}
	return h.deps.NewAPI(ctx, token)
}

func strArg(args map[string]interface{}, key string) string {
	value, _ := args[key].(string)
	return strings.TrimSpace(value)
}

func intArg(args map[string]interface{}, key string, def int) int {
	if value, ok := args[key].(float64); ok && value > 0 {
		return int(value)
	}
	return def
}

func floatArg(args map[string]interface{}, key string, def float64) float64 {
	if value, ok := args[key].(float64); ok && value > 0 {
		return value
	}
	return def
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	return args
}

func (h *handlers) listProperties(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	api, err := h.api(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	properties, err := api.ListProperties(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list properties: %v", err)), nil
	}
	return mcp.NewToolResultText(formatProperties(properties)), nil
}

func (h *handlers) getSearchAnalytics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	siteURL := strArg(args, "site_url")
	if siteURL == "" {
		return mcp.NewToolResultError("site_url is required"), nil
	}
	days := intArg(args, "days", 28)

	dimensions, err := gsc.ParseDimensions(strArg(args, "dimensions"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	api, err := h.api(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	start, end := gsc.Window(h.deps.Now(), days)
	rows, err := api.Query(ctx, siteURL, gsc.Query{
		StartDate:  start,
		EndDate:    end,
		Dimensions: dimensions,
		RowLimit:   analyticsRowLimit,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to query analytics: %v", err)), nil
	}
	return mcp.NewToolResultText(formatAnalyticsTable(siteURL, days, dimensions, rows)), nil
}

func (h *handlers) getPerformanceOverview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	siteURL := strArg(args, "site_url")
	if siteURL == "" {
		return mcp.NewToolResultError("site_url is required"), nil
	}
	days := intArg(args, "days", 28)

	api, err := h.api(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	start, end := gsc.Window(h.deps.Now(), days)
	// No dimensions: the API returns one row aggregating the whole window.
	rows, err := api.Query(ctx, siteURL, gsc.Query{
		StartDate: start,
		EndDate:   end,
		RowLimit:  1,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to query analytics: %v", err)), nil
	}
	if len(rows) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No data found for %s", siteURL)), nil
	}
	return mcp.NewToolResultText(formatOverview(siteURL, days, rows[0])), nil
}

func (h *handlers) findKeywordOpportunities(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	siteURL := strArg(args, "site_url")
	if siteURL == "" {
		return mcp.NewToolResultError("site_url is required"), nil
	}
	days := intArg(args, "days", 28)

	filter := gsc.DefaultOpportunityFilter()
	filter.MinImpressions = floatArg(args, "min_impressions", filter.MinImpressions)
	filter.MaxPosition = floatArg(args, "max_position", filter.MaxPosition)
	filter.MinPosition = floatArg(args, "min_position", filter.MinPosition)

	api, err := h.api(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	start, end := gsc.Window(h.deps.Now(), days)
	rows, err := api.Query(ctx, siteURL, gsc.Query{
		StartDate:  start,
		EndDate:    end,
		Dimensions: []string{"query", "page"},
		RowLimit:   5000,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to query analytics: %v", err)), nil
	}
	if len(rows) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No data found for %s", siteURL)), nil
	}

	opportunities := gsc.FindOpportunities(rows, filter)
	return mcp.NewToolResultText(formatOpportunities(siteURL, days, filter, opportunities)), nil
}

func (h *handlers) getTopPages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	siteURL := strArg(args, "site_url")
	if siteURL == "" {
		return mcp.NewToolResultError("site_url is required"), nil
	}
	days := intArg(args, "days", 28)
	limit := intArg(args, "limit", 20)

	api, err := h.api(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	start, end := gsc.Window(h.deps.Now(), days)
	rows, err := api.Query(ctx, siteURL, gsc.Query{
		StartDate:  start,
		EndDate:    end,
		Dimensions: []string{"page"},
		RowLimit:   int64(limit),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to query analytics: %v", err)), nil
	}
	return mcp.NewToolResultText(formatTopPages(siteURL, days, rows)), nil
}

func (h *handlers) getDeviceComparison(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	siteURL := strArg(args, "site_url")
	if siteURL == "" {
		return mcp.NewToolResultError("site_url is required"), nil
	}
	days := intArg(args, "days", 28)

	api, err := h.api(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	start, end := gsc.Window(h.deps.Now(), days)
	rows, err := api.Query(ctx, siteURL, gsc.Query{
		StartDate:  start,
		EndDate:    end,
		Dimensions: []string{"device"},
		RowLimit:   10,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to query analytics: %v", err)), nil
	}
	return mcp.NewToolResultText(formatShareTable("Device Comparison", "Device", siteURL, days, rows)), nil
}

func (h *handlers) getCountryBreakdown(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	siteURL := strArg(args, "site_url")
	if siteURL == "" {
		return mcp.NewToolResultError("site_url is required"), nil
	}
	days := intArg(args, "days", 28)
	limit := intArg(args, "limit", 15)

	api, err := h.api(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	start, end := gsc.Window(h.deps.Now(), days)
	rows, err := api.Query(ctx, siteURL, gsc.Query{
		StartDate:  start,
		EndDate:    end,
		Dimensions: []string{"country"},
		RowLimit:   int64(limit),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to query analytics: %v", err)), nil
	}
	return mcp.NewToolResultText(formatShareTable("Country Breakdown", "Country", siteURL, days, rows)), nil
}

func (h *handlers) inspectURL(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	siteURL := strArg(args, "site_url")
	pageURL := strArg(args, "page_url")
	if siteURL == "" || pageURL == "" {
		return mcp.NewToolResultError("site_url and page_url are required"), nil
	}

	api, err := h.api(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	inspection, err := api.InspectURL(ctx, siteURL, pageURL)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to inspect URL: %v", err)), nil
	}
	return mcp.NewToolResultText(formatInspection(pageURL, inspection)), nil
}

func (h *handlers) getSitemaps(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	siteURL := strArg(args, "site_url")
	if siteURL == "" {
		return mcp.NewToolResultError("site_url is required"), nil
	}

	api, err := h.api(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	sitemaps, err := api.ListSitemaps(ctx, siteURL)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list sitemaps: %v", err)), nil
	}
	return mcp.NewToolResultText(formatSitemaps(siteURL, sitemaps)), nil
}

func (h *handlers) submitSitemap(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	siteURL := strArg(args, "site_url")
	sitemapURL := strArg(args, "sitemap_url")
	if siteURL == "" || sitemapURL == "" {
		return mcp.NewToolResultError("site_url and sitemap_url are required"), nil
	}

	api, err := h.api(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := api.SubmitSitemap(ctx, siteURL, sitemapURL); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to submit sitemap: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Sitemap submitted: %s\n\nGoogle will process it shortly.", sitemapURL)), nil
}

func (h *handlers) requestIndexing(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	url := strArg(args, "url")
	if url == "" {
		return mcp.NewToolResultError("url is required"), nil
	}

	api, err := h.api(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := api.RequestIndexing(ctx, url); err != nil {
		if gsc.IsPermissionDenied(err) {
			return mcp.NewToolResultError(indexingPermissionHelp), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Failed to request indexing: %v", err)), nil
	}
	return mcp.NewToolResultText(formatIndexingResult(url)), nil
}

func (h *handlers) exportAnalytics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	siteURL := strArg(args, "site_url")
	if siteURL == "" {
		return mcp.NewToolResultError("site_url is required"), nil
	}
	days := intArg(args, "days", 28)
	rowLimit := intArg(args, "row_limit", 500)

	format := strings.ToLower(strArg(args, "format"))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		return mcp.NewToolResultError("format must be csv or json"), nil
	}

	dimensions, err := gsc.ParseDimensions(strArg(args, "dimensions"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	api, err := h.api(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	start, end := gsc.Window(h.deps.Now(), days)
	rows, err := api.Query(ctx, siteURL, gsc.Query{
		StartDate:  start,
		EndDate:    end,
		Dimensions: dimensions,
		RowLimit:   int64(rowLimit),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to query analytics: %v", err)), nil
	}
	if len(rows) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No data to export for %s", siteURL)), nil
	}

	var out string
	if format == "json" {
		out, err = gsc.ExportJSON(rows, dimensions)
	} else {
		out, err = gsc.ExportCSV(rows, dimensions)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to render export: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("```%s\n%s\n```", format, strings.TrimRight(out, "\n"))), nil
}
