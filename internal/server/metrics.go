package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// DefaultMetricsAddr is the default address for the metrics server.
	DefaultMetricsAddr = ":9090"

	metricsReadTimeout  = 10 * time.Second
	metricsWriteTimeout = 10 * time.Second
	metricsIdleTimeout  = 60 * time.Second
)

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
)

// Metrics holds the service's Prometheus instruments on a private registry
// so tests never collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	loginsStarted  prometheus.Counter
	callbacks      *prometheus.CounterVec
	tokenRefreshes *prometheus.CounterVec
	toolCalls      *prometheus.CounterVec
	sseConnections prometheus.Gauge
}

// NewMetrics registers all instruments on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		loginsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "gsc_mcp_logins_started_total",
			Help: "OAuth login flows started.",
		}),
		callbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gsc_mcp_oauth_callbacks_total",
			Help: "OAuth callbacks processed by outcome.",
		}, []string{"outcome"}),
		tokenRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gsc_mcp_token_refreshes_total",
			Help: "Provider token refresh flights by outcome.",
		}, []string{"outcome"}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gsc_mcp_tool_calls_total",
			Help: "MCP tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		sseConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gsc_mcp_sse_connections",
			Help: "Currently open SSE streams.",
		}),
	}
}

func outcome(err error) string {
	if err != nil {
		return outcomeError
	}
	return outcomeSuccess
}

// RecordLoginStarted counts a new login redirect.
func (m *Metrics) RecordLoginStarted() {
	m.loginsStarted.Inc()
}

// RecordCallback counts a processed OAuth callback.
func (m *Metrics) RecordCallback(err error) {
	m.callbacks.WithLabelValues(outcome(err)).Inc()
}

// RecordRefresh counts a provider refresh flight.
func (m *Metrics) RecordRefresh(err error) {
	m.tokenRefreshes.WithLabelValues(outcome(err)).Inc()
}

// RecordToolCall counts a finished tool invocation.
func (m *Metrics) RecordToolCall(tool string, err error) {
	m.toolCalls.WithLabelValues(tool, outcome(err)).Inc()
}

// SSEConnectionOpened and SSEConnectionClosed track the stream gauge.
func (m *Metrics) SSEConnectionOpened() { m.sseConnections.Inc() }
func (m *Metrics) SSEConnectionClosed() { m.sseConnections.Dec() }

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MetricsServer serves Prometheus metrics on a dedicated port, keeping
// operational data off the public listener.
type MetricsServer struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewMetricsServer builds the metrics listener for the given instruments.
func NewMetricsServer(addr string, metrics *Metrics, logger *slog.Logger) *MetricsServer {
	if addr == "" {
		addr = DefaultMetricsAddr
	}
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &MetricsServer{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: metricsReadTimeout,
			WriteTimeout:      metricsWriteTimeout,
			IdleTimeout:       metricsIdleTimeout,
		},
		logger: logger,
	}
}

// Start blocks serving metrics until Shutdown or a listener error.
func (s *MetricsServer) Start() error {
	s.logger.Info("starting metrics server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the metrics listener.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
