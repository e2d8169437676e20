package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/gsc-mcp/internal/auth"
	"github.com/teemow/gsc-mcp/internal/config"
	"github.com/teemow/gsc-mcp/internal/logging"
	"github.com/teemow/gsc-mcp/internal/server"
	"github.com/teemow/gsc-mcp/internal/store"
	"github.com/teemow/gsc-mcp/internal/tools/gsc_tools"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var (
		httpAddr     string
		metricsAddr  string
		baseURL      string
		clientID     string
		clientSecret string
		redirectURI  string
		databasePath string
		debug        bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Search Console MCP server",
		Long: `Start the HTTP server hosting the Google sign-in flow, the per-user
MCP SSE endpoints, and a separate metrics listener.

All flags fall back to environment variables (GOOGLE_CLIENT_ID,
GOOGLE_CLIENT_SECRET, BASE_URL, DATABASE_PATH, HTTP_ADDR, METRICS_ADDR,
DEBUG).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			// Flags win over environment values when set.
			if cmd.Flags().Changed("http-addr") {
				cfg.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			if cmd.Flags().Changed("base-url") {
				cfg.BaseURL = baseURL
			}
			if cmd.Flags().Changed("google-client-id") {
				cfg.GoogleClientID = clientID
			}
			if cmd.Flags().Changed("google-client-secret") {
				cfg.GoogleClientSecret = clientSecret
			}
			if cmd.Flags().Changed("redirect-uri") {
				cfg.RedirectURI = redirectURI
			}
			if cmd.Flags().Changed("database-path") {
				cfg.DatabasePath = databasePath
			}
			if debug {
				cfg.Debug = true
			}

			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8000", "Address for the public HTTP listener")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", server.DefaultMetricsAddr, "Address for the Prometheus metrics listener")
	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8000", "Public base URL of this server")
	cmd.Flags().StringVar(&clientID, "google-client-id", "", "Google OAuth client ID")
	cmd.Flags().StringVar(&clientSecret, "google-client-secret", "", "Google OAuth client secret")
	cmd.Flags().StringVar(&redirectURI, "redirect-uri", "", "OAuth redirect URI (defaults to <base-url>/oauth/callback)")
	cmd.Flags().StringVar(&databasePath, "database-path", "gsc_tokens.db", "Path to the SQLite credential database")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	return cmd
}

func runServe(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := logging.Setup(cfg.Debug)
	logger.Info("starting gsc-mcp", "version", version)

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer func() { _ = st.Close() }()

	provider := auth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.EffectiveRedirectURI())
	states := auth.NewStateStore(auth.DefaultStateTTL, logger)
	defer states.Stop()

	flow := auth.NewFlowController(provider, states, st, logger)
	metrics := server.NewMetrics()

	tokens := auth.NewRefreshManager(st, provider, logger)
	tokens.OnRefresh = metrics.RecordRefresh

	srv, err := server.New(server.Options{
		Config:  cfg,
		Store:   st,
		Flow:    flow,
		Metrics: metrics,
		Health:  server.NewHealthChecker(version),
		Logger:  logger,
		Version: version,
		Tokens:  tokens,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	if err := gsc_tools.RegisterGSCTools(srv.MCPServer(), gsc_tools.Deps{
		Tokens:          tokens,
		Logger:          logger,
		LoginURL:        srv.LoginURL(),
		ObserveToolCall: metrics.RecordToolCall,
	}); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	metricsSrv := server.NewMetricsServer(cfg.MetricsAddr, metrics, logger)
	go func() {
		if err := metricsSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", logging.Err(err))
		}
	}()

	serverDone := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
		close(serverDone)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err, ok := <-serverDone:
		if ok && err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", logging.Err(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", logging.Err(err))
	}

	logger.Info("gsc-mcp stopped")
	return nil
}
