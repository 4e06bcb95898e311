package server

import (
	"net/http"
	"time"

	"log/slog"

	"github.com/aegis-ai/aegis/internal/auth"
	"github.com/aegis-ai/aegis/internal/model"
	"github.com/aegis-ai/aegis/internal/service/ace"
	"github.com/aegis-ai/aegis/internal/service/dashboard"
	"github.com/aegis-ai/aegis/internal/service/memories"
	"github.com/aegis-ai/aegis/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	authn               *auth.Authenticator
	jwtMgr              *auth.JWTManager
	memorySvc           *memories.Service
	aceSvc              *ace.Service
	dashboardSvc        *dashboard.Service
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	DB                  *storage.DB
	Authenticator       *auth.Authenticator
	JWTMgr              *auth.JWTManager
	MemorySvc           *memories.Service
	ACESvc              *ace.Service
	DashboardSvc        *dashboard.Service
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		authn:               d.Authenticator,
		jwtMgr:              d.JWTMgr,
		memorySvc:           d.MemorySvc,
		aceSvc:              d.ACESvc,
		dashboardSvc:        d.DashboardSvc,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// identity returns the authenticated identity or writes a 401.
func (h *Handlers) identity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	id := IdentityFromContext(r.Context())
	if id == nil {
		writeError(w, r, http.StatusUnauthorized, string(model.KindUnauthorized), "no identity in context")
		return nil, false
	}
	return id, true
}

// HandleHealth handles GET /health: process liveness only.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}

// HandleReady handles GET /ready: readiness including store connectivity.
func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		writeError(w, r, http.StatusServiceUnavailable,
			string(model.KindExternalUnavailable), "database unreachable")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"status": "ready"})
}
