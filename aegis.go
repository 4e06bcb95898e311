// Package aegis is the public API for embedding the Aegis memory server.
//
// Consumers import this package to construct and run the server in-process:
//
//	app, err := aegis.New(
//	    aegis.WithVersion(version),
//	    aegis.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: aegis (root) imports
// internal/*, but internal/* never imports aegis (root). The public
// EmbeddingProvider interface uses []float32 so consumers don't inherit the
// pgvector dependency; the adapter lives here because this is the only file
// that sees both sides of the boundary.
package aegis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pgvector/pgvector-go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aegis-ai/aegis/internal/auth"
	"github.com/aegis-ai/aegis/internal/config"
	"github.com/aegis-ai/aegis/internal/model"
	"github.com/aegis-ai/aegis/internal/ratelimit"
	"github.com/aegis-ai/aegis/internal/server"
	"github.com/aegis-ai/aegis/internal/service/ace"
	"github.com/aegis-ai/aegis/internal/service/dashboard"
	"github.com/aegis-ai/aegis/internal/service/embedding"
	"github.com/aegis-ai/aegis/internal/service/memories"
	"github.com/aegis-ai/aegis/internal/storage"
	"github.com/aegis-ai/aegis/internal/telemetry"
	"github.com/aegis-ai/aegis/migrations"
)

// App is the Aegis server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	memSvc       *memories.Service
	authn        *auth.Authenticator
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Aegis server. It connects to the database, manages
// schema, wires all subsystems, and returns a ready-to-run App. It does NOT
// start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.redisURL != "" {
		cfg.RedisURL = o.redisURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger := o.logger
	if logger == nil {
		logger = newLogger(cfg)
	}

	logger.Info("aegis starting", "version", version, "port", cfg.Port, "env", cfg.Environment)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(context.Background(), storage.Options{
		DSN:            cfg.DatabaseURL,
		ReadReplicaDSN: cfg.ReadReplicaURL,
		PoolSize:       cfg.DBPoolSize,
		MaxOverflow:    cfg.DBMaxOverflow,
	}, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	// Development applies migrations at startup; production refuses to run
	// behind on schema so deploys stay explicit.
	if cfg.Environment == config.EnvDevelopment {
		if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("migrations: %w", err)
		}
		for i, extraFS := range o.extraMigrations {
			if err := db.RunMigrations(context.Background(), extraFS); err != nil {
				db.Close()
				_ = otelShutdown(context.Background())
				return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
			}
		}
	} else {
		pending, err := db.PendingMigrations(context.Background(), migrations.FS)
		if err != nil {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("migration check: %w", err)
		}
		if len(pending) > 0 {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("database is behind on migrations: %s", strings.Join(pending, ", "))
		}
	}

	if err := db.EnsureProject(context.Background(), model.DefaultProjectID, "Default project"); err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("ensure default project: %w", err)
	}

	var registry *prometheus.Registry
	if cfg.EnableMetrics {
		registry = prometheus.NewRegistry()
		db.RegisterMetrics(registry)
	}

	// Embedding provider: external override takes priority over auto-detect.
	var provider embedding.Provider
	if o.embeddingProvider != nil {
		provider = &providerAdapter{p: o.embeddingProvider}
	} else {
		provider = newEmbeddingProvider(cfg, logger)
	}
	// Pass an untyped nil when metrics are disabled so the interface-typed
	// nil check inside NewService holds.
	var registerer prometheus.Registerer
	if registry != nil {
		registerer = registry
	}
	embSvc := embedding.NewService(provider, db, cfg.EmbeddingModel,
		cfg.EmbedCacheSize, cfg.EmbedMaxBatch, logger, registerer)

	jwtMgr, err := auth.NewJWTManager("", "", cfg.TokenTTL)
	if err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}
	var keyStore auth.KeyStore
	if cfg.EnableProjectAuth {
		keyStore = db
	}
	authn := auth.NewAuthenticator(keyStore, jwtMgr, cfg.LegacyAPIKey, 30*time.Second, logger)

	var limiter ratelimit.Limiter
	limits := ratelimit.Limits{
		PerMinute: cfg.RateLimitPerMinute,
		PerHour:   cfg.RateLimitPerHour,
		Burst:     cfg.RateLimitBurst,
	}
	if cfg.RedisURL != "" {
		limiter, err = ratelimit.NewRedisLimiter(cfg.RedisURL, limits)
		if err != nil {
			authn.Close()
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		logger.Info("rate limiting: redis", "per_minute", limits.PerMinute, "per_hour", limits.PerHour)
	} else {
		limiter = ratelimit.NewMemoryLimiter(limits)
		logger.Info("rate limiting: memory", "per_minute", limits.PerMinute, "per_hour", limits.PerHour)
	}

	memSvc := memories.New(db, embSvc, logger)
	aceSvc := ace.New(db, memSvc, embSvc, logger)
	dashSvc := dashboard.New(db, logger)

	srv := server.New(server.ServerConfig{
		DB:                  db,
		Authenticator:       authn,
		JWTMgr:              jwtMgr,
		MemorySvc:           memSvc,
		ACESvc:              aceSvc,
		DashboardSvc:        dashSvc,
		Logger:              logger,
		Limiter:             limiter,
		MetricsRegistry:     registry,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Embedding backfill for rows written while no provider was configured
	// (non-fatal).
	if n, err := memSvc.Backfill(context.Background()); err != nil {
		logger.Warn("embedding backfill failed", "error", err)
	} else if n > 0 {
		logger.Info("embedding backfill complete", "count", n)
	}

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		memSvc:       memSvc,
		authn:        authn,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the TTL sweeper and the HTTP server, then blocks until ctx is
// cancelled or a fatal server error occurs. On return, Shutdown is called
// automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	go a.sweepLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown drains in-flight HTTP requests, then closes the rate limiter,
// authenticator caches, database pool, and OTEL providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("aegis shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	cancel()

	if a.limiter != nil {
		_ = a.limiter.Close()
	}
	a.authn.Close()
	_ = a.otelShutdown(context.Background())
	a.db.Close()

	a.logger.Info("aegis stopped")
	return nil
}

// sweepLoop periodically removes memories past their TTL grace period and
// prunes idle embedding cache entries.
func (a *App) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.memSvc.Sweep(ctx, a.cfg.SweepGrace)
			if err != nil {
				a.logger.Warn("ttl sweep failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Info("ttl sweep complete", "deleted", n)
			}
		}
	}
}

// newLogger builds the structured logger from config.
func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// newEmbeddingProvider auto-detects a provider: OpenAI when a key is set,
// then a reachable Ollama server, else noop (search degrades to errors on
// embed, writes without vectors still land and are backfilled later).
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	if cfg.OpenAIAPIKey != "" {
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", cfg.EmbeddingDim)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDim)
	}
	if ollamaReachable(cfg.OllamaURL) {
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, cfg.EmbeddingDim)
	}
	logger.Warn("no embedding provider available, using noop (semantic search disabled)")
	return embedding.NewNoopProvider(cfg.EmbeddingDim)
}

// ollamaReachable checks if an Ollama server is responding.
func ollamaReachable(baseURL string) bool {
	if baseURL == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// providerAdapter bridges the public EmbeddingProvider to the internal
// pgvector-typed interface.
type providerAdapter struct {
	p EmbeddingProvider
}

func (a *providerAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	raw, err := a.p.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(raw), nil
}

func (a *providerAdapter) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	raw, err := a.p.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]pgvector.Vector, len(raw))
	for i, v := range raw {
		out[i] = pgvector.NewVector(v)
	}
	return out, nil
}

func (a *providerAdapter) Dimensions() int {
	return a.p.Dimensions()
}
