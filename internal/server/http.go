// Package server wires the browser-facing OAuth flow, the authenticated MCP
// streaming endpoints, and the operational endpoints into one HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/gsc-mcp/internal/auth"
	"github.com/teemow/gsc-mcp/internal/config"
	"github.com/teemow/gsc-mcp/internal/logging"
	"github.com/teemow/gsc-mcp/internal/store"
)

// Options carries the dependencies for the main HTTP server.
type Options struct {
	Config  *config.Config
	Store   store.Store
	Flow    *auth.FlowController
	Metrics *Metrics
	Health  *HealthChecker
	Logger  *slog.Logger
	Version string

	// Tokens, when set, is consulted at SSE connect so dead Google grants
	// are rejected before a session opens.
	Tokens TokenResolver
}

// Server is the public HTTP listener: OAuth pages, per-user MCP streaming,
// and status endpoints.
type Server struct {
	cfg     *config.Config
	store   store.Store
	flow    *auth.FlowController
	metrics *Metrics
	health  *HealthChecker
	logger  *slog.Logger
	tokens  TokenResolver

	mcpServer  *mcpserver.MCPServer
	sseServer  *mcpserver.SSEServer
	httpServer *http.Server
}

// New builds the server and its MCP core. Tools are registered by the caller
// via MCPServer() before Start.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Store == nil || opts.Flow == nil {
		return nil, errors.New("store and flow are required")
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Health == nil {
		opts.Health = NewHealthChecker(opts.Version)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		cfg:     opts.Config,
		store:   opts.Store,
		flow:    opts.Flow,
		metrics: opts.Metrics,
		health:  opts.Health,
		logger:  logging.WithComponent(opts.Logger, "http"),
		tokens:  opts.Tokens,
	}

	s.mcpServer = mcpserver.NewMCPServer("gsc-mcp", opts.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)

	// The base path carries the API key so every message POST of a session
	// goes back through key validation.
	s.sseServer = mcpserver.NewSSEServer(s.mcpServer,
		mcpserver.WithDynamicBasePath(func(r *http.Request, sessionID string) string {
			return "/mcp/" + r.PathValue("key")
		}),
		mcpserver.WithBaseURL(opts.Config.BaseURL),
		mcpserver.WithKeepAlive(true),
		mcpserver.WithKeepAliveInterval(30*time.Second),
		mcpserver.WithSSEContextFunc(sseContextFunc),
	)

	s.httpServer = &http.Server{
		Addr:              opts.Config.HTTPAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: SSE streams stay open indefinitely.
	}
	return s, nil
}

// MCPServer exposes the MCP core for tool registration.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// LoginURL is where users start the OAuth flow.
func (s *Server) LoginURL() string {
	return s.cfg.BaseURL + "/oauth/login"
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleHome)
	mux.HandleFunc("GET /oauth/login", s.handleLogin)
	mux.HandleFunc("GET /oauth/callback", s.handleCallback)
	mux.HandleFunc("GET /oauth/revoke/{key}", s.handleRevoke)
	mux.HandleFunc("GET /api/status/{key}", s.handleStatus)

	mux.Handle("GET /health", s.health.StatusHandler())
	mux.Handle("GET /healthz", s.health.LivenessHandler())
	mux.Handle("GET /readyz", s.health.ReadinessHandler())

	mux.Handle("GET /mcp/{key}/sse",
		s.requireAPIKey(s.ensureFreshToken(s.trackSSEConnections(s.sseServer.SSEHandler()))))
	mux.Handle("POST /mcp/{key}/message",
		s.requireAPIKey(s.sseServer.MessageHandler()))

	return mux
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("starting http server",
		"addr", s.httpServer.Addr,
		"base_url", s.cfg.BaseURL)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains the listener. Readiness starts failing immediately so load
// balancers stop sending new sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetShuttingDown()
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHome(w http.ResponseWriter, _ *http.Request) {
	renderHome(w)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	redirectURL, err := s.flow.BeginLogin()
	if err != nil {
		s.logger.Error("login start failed", logging.Err(err))
		renderError(w, http.StatusInternalServerError, "Login Failed",
			"Could not start the sign-in flow. Please try again.")
		return
	}

	s.metrics.RecordLoginStarted()
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if providerError := r.URL.Query().Get("error"); providerError != "" {
		s.metrics.RecordCallback(auth.ErrProviderExchange)
		renderError(w, http.StatusBadRequest, "Authentication Error",
			fmt.Sprintf("Google reported: %s", providerError))
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	result, err := s.flow.HandleCallback(r.Context(), code, state)
	s.metrics.RecordCallback(err)
	if err != nil {
		s.renderCallbackError(w, err)
		return
	}

	renderSuccess(w, successPage{
		Email:  result.Email,
		APIKey: result.APIKey,
		SSEURL: sseURL(s.cfg.BaseURL, result.APIKey),
	})
}

func (s *Server) renderCallbackError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidState):
		renderError(w, http.StatusBadRequest, "Invalid State",
			"The sign-in attempt expired or was already used. Please start over.")
	case errors.Is(err, auth.ErrScopeMissing):
		renderError(w, http.StatusForbidden, "Insufficient Permissions",
			"Search Console access was not granted. Please sign in again and allow all requested permissions.")
	case errors.Is(err, auth.ErrProviderExchange):
		renderError(w, http.StatusBadGateway, "Authentication Failed",
			"Google rejected the sign-in. Please try again.")
	default:
		s.logger.Error("callback failed", logging.Err(err))
		renderError(w, http.StatusInternalServerError, "Authentication Failed",
			"Something went wrong completing the sign-in. Please try again.")
	}
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	cred, err := s.lookupByAPIKey(r.Context(), r.PathValue("key"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}

	if err := s.flow.Revoke(r.Context(), cred.UserID); err != nil {
		s.logger.Error("revoke failed", logging.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "revoke_failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "revoked",
		"message": "Access has been revoked. Sign in again to get a new key.",
	})
}

// statusResponse is the body of /api/status/{key}.
type statusResponse struct {
	Authenticated bool      `json:"authenticated"`
	Email         string    `json:"email"`
	Created       time.Time `json:"created"`
	Updated       time.Time `json:"updated"`
	TokenValid    bool      `json:"token_valid"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cred, err := s.lookupByAPIKey(r.Context(), r.PathValue("key"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Authenticated: true,
		Email:         cred.Email,
		Created:       cred.CreatedAt,
		Updated:       cred.UpdatedAt,
		TokenValid:    cred.TokenValid(time.Now(), 0),
	})
}
