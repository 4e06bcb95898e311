package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aegis-ai/aegis/internal/auth"
	"github.com/aegis-ai/aegis/internal/ratelimit"
	"github.com/aegis-ai/aegis/internal/service/ace"
	"github.com/aegis-ai/aegis/internal/service/dashboard"
	"github.com/aegis-ai/aegis/internal/service/memories"
	"github.com/aegis-ai/aegis/internal/storage"
)

// Server is the Aegis HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Optional (nil-safe): Limiter, MetricsRegistry.
type ServerConfig struct {
	DB            *storage.DB
	Authenticator *auth.Authenticator
	JWTMgr        *auth.JWTManager
	MemorySvc     *memories.Service
	ACESvc        *ace.Service
	DashboardSvc  *dashboard.Service
	Logger        *slog.Logger

	Limiter         ratelimit.Limiter
	MetricsRegistry *prometheus.Registry

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		Authenticator:       cfg.Authenticator,
		JWTMgr:              cfg.JWTMgr,
		MemorySvc:           cfg.MemorySvc,
		ACESvc:              cfg.ACESvc,
		DashboardSvc:        cfg.DashboardSvc,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Auth (token exchange is public; key management requires auth).
	mux.HandleFunc("POST /auth/token", h.HandleAuthToken)
	mux.HandleFunc("POST /auth/keys", h.HandleCreateKey)
	mux.HandleFunc("GET /auth/keys", h.HandleListKeys)
	mux.HandleFunc("DELETE /auth/keys/{id}", h.HandleRevokeKey)

	// Memory store.
	mux.HandleFunc("POST /memories/", h.HandleAddMemory)
	mux.HandleFunc("POST /memories/batch", h.HandleAddBatch)
	mux.HandleFunc("POST /memories/query", h.HandleQuery)
	mux.HandleFunc("POST /memories/query/cross-agent", h.HandleCrossAgentQuery)
	mux.HandleFunc("POST /memories/export", h.HandleExport)
	mux.HandleFunc("POST /memories/import", h.HandleImport)
	mux.HandleFunc("GET /memories/{id}", h.HandleGetMemory)
	mux.HandleFunc("DELETE /memories/{id}", h.HandleDeleteMemory)
	mux.HandleFunc("GET /memories/{id}/events", h.HandleMemoryEvents)

	// Typed repositories.
	mux.HandleFunc("POST /memories/typed/query", h.HandleQuery)
	mux.HandleFunc("POST /memories/typed/{kind}", h.HandleAddTyped)
	mux.HandleFunc("GET /memories/typed/episodic/session/{session_id}", h.HandleSessionMemories)
	mux.HandleFunc("GET /memories/typed/semantic/entity/{entity_id}", h.HandleEntityMemories)

	// ACE feedback loop.
	mux.HandleFunc("POST /ace/vote/{id}", h.HandleVote)
	mux.HandleFunc("GET /ace/vote/{id}", h.HandleVoteHistory)
	mux.HandleFunc("POST /ace/delta", h.HandleDelta)
	mux.HandleFunc("POST /ace/reflection", h.HandleReflection)
	mux.HandleFunc("POST /ace/session", h.HandleCreateSession)
	mux.HandleFunc("GET /ace/session", h.HandleListSessions)
	mux.HandleFunc("GET /ace/session/{id}", h.HandleGetSession)
	mux.HandleFunc("PATCH /ace/session/{id}", h.HandleUpdateSession)
	mux.HandleFunc("POST /ace/feature", h.HandleCreateFeature)
	mux.HandleFunc("GET /ace/feature", h.HandleListFeatures)
	mux.HandleFunc("GET /ace/feature/{id}", h.HandleGetFeature)
	mux.HandleFunc("PATCH /ace/feature/{id}", h.HandleUpdateFeature)
	mux.HandleFunc("POST /ace/playbook", h.HandlePlaybook)
	mux.HandleFunc("POST /ace/run", h.HandleStartRun)
	mux.HandleFunc("GET /ace/run/{id}", h.HandleGetRun)
	mux.HandleFunc("POST /ace/run/{id}/complete", h.HandleCompleteRun)
	mux.HandleFunc("POST /ace/curate", h.HandleCurate)

	// Interaction event timelines.
	mux.HandleFunc("POST /interaction-events/", h.HandleCreateInteraction)
	mux.HandleFunc("POST /interaction-events/search", h.HandleSearchInteractions)
	mux.HandleFunc("GET /interaction-events/session/{id}", h.HandleSessionInteractions)
	mux.HandleFunc("GET /interaction-events/agent/{id}", h.HandleAgentInteractions)
	mux.HandleFunc("GET /interaction-events/{id}", h.HandleGetInteraction)

	// Dashboard.
	mux.HandleFunc("GET /dashboard/stats", h.HandleDashboardStats)
	mux.HandleFunc("GET /dashboard/correlation", h.HandleDashboardCorrelation)

	// Probes and metrics (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /ready", h.HandleReady)
	if cfg.MetricsRegistry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsRegistry,
			promhttp.HandlerOpts{Registry: cfg.MetricsRegistry}))
	}

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	rl := ratelimit.Middleware(cfg.Limiter, projectKeyFunc, reqIDFunc, cfg.Logger)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth →
	// rate limit → recovery → handler. Rate limiting runs after auth so
	// keys are per project rather than per source address.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = rl(handler)
	handler = authMiddleware(cfg.Authenticator, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// projectKeyFunc keys rate limiting by the authenticated project. Token
// exchange carries no identity yet and is keyed by source address so key
// guessing is still throttled; probe endpoints are not limited.
func projectKeyFunc(r *http.Request) string {
	if id := IdentityFromContext(r.Context()); id != nil {
		return id.ProjectID
	}
	if r.URL.Path == "/auth/token" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return "ip:" + r.RemoteAddr
		}
		return "ip:" + host
	}
	return ""
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
