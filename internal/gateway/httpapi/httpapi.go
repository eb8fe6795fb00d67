// Package httpapi implements the HTTP boundary through which an orchestrator
// dispatches calls to agentai.
//
// Calls arrive as JSON on POST /v1/calls and /v1/calls/batch, or as a
// sequence of messages over the WebSocket at GET /v1/stream.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-caller rate limiting via token bucket
//   - The working root is fixed at startup; requests cannot choose it
//   - All calls logged with call IDs and audited when configured
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/Jazzman94/agentai/internal/audit"
	"github.com/Jazzman94/agentai/internal/dispatch"
	"github.com/Jazzman94/agentai/internal/gateway"
	"github.com/Jazzman94/agentai/internal/observability"
	"github.com/Jazzman94/agentai/internal/ratelimit"
	"github.com/Jazzman94/agentai/internal/tools"
)

const (
	defaultMaxRequestSize = 1 << 20 // 1 MB
	maxBatchSize          = 64
)

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        map[string]string // API key → caller ID mapping.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

func (c Config) maxRequestSize() int64 {
	if c.MaxRequestSize > 0 {
		return c.MaxRequestSize
	}
	return defaultMaxRequestSize
}

var _ gateway.Gateway = (*Gateway)(nil)

// Gateway is the HTTP API gateway.
type Gateway struct {
	config     Config
	dispatcher *dispatch.Dispatcher
	root       string
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
	server     *http.Server

	okapi *okapi.Okapi
	group *okapi.Group
}

// NewGateway creates an HTTP API gateway dispatching every call against root.
// rl may be nil for no rate limiting.
func NewGateway(cfg Config, d *dispatch.Dispatcher, root string, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:     cfg,
		dispatcher: d,
		root:       root,
		limiter:    rl,
		logger:     logger,
		okapi:      okapi.New(okapi.WithMaxMultipartMemory(cfg.maxRequestSize())),
	}
}

// WithOpenAPIDocs enables the generated OpenAPI documentation.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "agentai",
			Version: "v1",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	limit := g.config.maxRequestSize()
	g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	})

	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	g.group.Post("/calls", g.handleCall,
		okapi.DocSummary("Dispatch one call"),
		okapi.DocTags("Calls"),
		okapi.DocRequestBody(CallRequest{}),
		okapi.DocResponse(dispatch.Envelope{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Post("/calls/batch", g.handleBatch,
		okapi.DocSummary("Dispatch several calls concurrently"),
		okapi.DocTags("Calls"),
		okapi.DocRequestBody(BatchRequest{}),
		okapi.DocResponse(BatchResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Get("/tools", g.handleTools,
		okapi.DocSummary("List operation definitions"),
		okapi.DocTags("Calls"),
		okapi.DocResponse(ToolsResponse{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)

	// WebSocket stream; authenticates in the handler.
	g.okapi.HandleStd("GET", "/v1/stream", g.handleStream)

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // batches of scripts can run for a while
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting",
		slog.String("addr", g.config.ListenAddr),
		slog.String("root", g.root),
	)

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(_ context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

// CallRequest is the JSON body for POST /v1/calls.
type CallRequest struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

func (r CallRequest) call() dispatch.Call {
	return dispatch.Call{ID: r.ID, Name: r.Name, Args: r.Args}
}

// BatchRequest is the JSON body for POST /v1/calls/batch.
type BatchRequest struct {
	Calls []CallRequest `json:"calls"`
}

// BatchResponse holds one envelope per call, in request order.
type BatchResponse struct {
	Results []dispatch.Envelope `json:"results"`
}

// ToolsResponse is the JSON response for GET /v1/tools.
type ToolsResponse struct {
	Tools []tools.Definition `json:"tools"`
}

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleCall dispatches one call. Operation failures are part of the
// envelope and still return 200; only malformed requests are rejected.
func (g *Gateway) handleCall(c *okapi.Context) error {
	callerID := c.GetString("callerID")
	if err := g.limiter.Allow(callerID); err != nil {
		return c.AbortTooManyRequests("rate limit exceeded")
	}

	var req CallRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Name == "" {
		return c.AbortBadRequest("name is required")
	}

	call := req.call()
	ctx := audit.WithCaller(c.Context(), callerID)
	result := g.dispatcher.Dispatch(ctx, g.root, &call)

	return c.OK(dispatch.NewEnvelope(call, result))
}

func (g *Gateway) handleBatch(c *okapi.Context) error {
	callerID := c.GetString("callerID")
	if err := g.limiter.Allow(callerID); err != nil {
		return c.AbortTooManyRequests("rate limit exceeded")
	}

	var req BatchRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if len(req.Calls) == 0 {
		return c.AbortBadRequest("calls must not be empty")
	}
	if len(req.Calls) > maxBatchSize {
		return c.AbortBadRequest("too many calls in one batch")
	}

	calls := make([]dispatch.Call, len(req.Calls))
	for i, r := range req.Calls {
		if r.Name == "" {
			return c.AbortBadRequest("every call needs a name")
		}
		calls[i] = r.call()
	}

	g.logger.Info("http batch",
		slog.String("caller", callerID),
		slog.Int("calls", len(calls)),
	)

	ctx := audit.WithCaller(c.Context(), callerID)
	results := g.dispatcher.DispatchAll(ctx, g.root, calls)

	resp := BatchResponse{Results: make([]dispatch.Envelope, len(calls))}
	for i := range calls {
		resp.Results[i] = dispatch.NewEnvelope(calls[i], results[i])
	}
	return c.OK(resp)
}

func (g *Gateway) handleTools(c *okapi.Context) error {
	return c.OK(ToolsResponse{Tools: g.dispatcher.Definitions()})
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the API key and stores the mapped caller ID.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		callerID := g.callerFor(strings.TrimPrefix(authHeader, "Bearer "))
		if callerID == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("callerID", callerID)
		return next(c)
	}
}

// callerFor maps an API key to its caller ID, or "" when the key is unknown.
// All configured keys are compared in constant time.
func (g *Gateway) callerFor(apiKey string) string {
	callerID := ""
	for key, id := range g.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			callerID = id
		}
	}
	return callerID
}
