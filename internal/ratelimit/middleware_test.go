package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-ai/aegis/internal/model"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("redis down")
}
func (failingLimiter) Close() error { return nil }

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func projectKey(r *http.Request) string { return "project:test" }

func TestMiddlewareSetsHeadersAndBlocks(t *testing.T) {
	m := NewMemoryLimiter(Limits{PerMinute: 1, PerHour: 10})
	defer m.Close()

	h := Middleware(m, projectKey, nil, slog.Default())(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/memories/query", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit-Minute"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining-Minute"))
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit-Hour"))
	assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining-Hour"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/memories/query", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining-Minute"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(model.KindRateLimited), body.Error.Code)
	assert.WithinDuration(t, time.Now(), body.Meta.Timestamp, 5*time.Second)
}

func TestMiddlewareFailsOpenOnLimiterError(t *testing.T) {
	h := Middleware(failingLimiter{}, projectKey, nil, slog.Default())(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareSkipsEmptyKey(t *testing.T) {
	m := NewMemoryLimiter(Limits{PerMinute: 1, PerHour: 1})
	defer m.Close()

	skip := func(r *http.Request) string { return "" }
	h := Middleware(m, skip, nil, slog.Default())(okHandler())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
