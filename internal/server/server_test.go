package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-ai/aegis/internal/auth"
	"github.com/aegis-ai/aegis/internal/model"
	"github.com/aegis-ai/aegis/internal/ratelimit"
	"github.com/aegis-ai/aegis/internal/service/ace"
	"github.com/aegis-ai/aegis/internal/service/dashboard"
	"github.com/aegis-ai/aegis/internal/service/memories"
)

const testLegacyKey = "test-legacy-key"

// newTestServer builds a server with no database. Tests here exercise
// middleware and request validation, which reject before any storage
// call; storage-backed paths are covered by the integration tests.
func newTestServer(t *testing.T, limiter ratelimit.Limiter) *Server {
	t.Helper()
	logger := slog.Default()

	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	authn := auth.NewAuthenticator(nil, jwtMgr, testLegacyKey, time.Minute, logger)
	t.Cleanup(authn.Close)

	memSvc := memories.New(nil, nil, logger)
	return New(ServerConfig{
		Authenticator:       authn,
		JWTMgr:              jwtMgr,
		MemorySvc:           memSvc,
		ACESvc:              ace.New(nil, memSvc, nil, logger),
		DashboardSvc:        dashboard.New(nil, logger),
		Logger:              logger,
		Limiter:             limiter,
		Port:                0,
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})
}

func doRequest(t *testing.T, srv *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeErrorEnvelope(t *testing.T, w *httptest.ResponseRecorder) model.APIError {
	t.Helper()
	var envelope model.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope
}

func TestHealthRequiresNoAuth(t *testing.T) {
	srv := newTestServer(t, nil)

	w := doRequest(t, srv, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var envelope model.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.NotEmpty(t, envelope.Meta.RequestID)
}

func TestMissingAuthorizationHeader(t *testing.T) {
	srv := newTestServer(t, nil)

	w := doRequest(t, srv, http.MethodGet, "/memories/abc", "", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	envelope := decodeErrorEnvelope(t, w)
	assert.Equal(t, string(model.KindUnauthorized), envelope.Error.Code)
	assert.NotEmpty(t, envelope.Meta.RequestID)
}

func TestMalformedAuthorizationHeader(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/memories/abc", nil)
	req.Header.Set("Authorization", "Token abc")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestInvalidCredentialRejected(t *testing.T) {
	srv := newTestServer(t, nil)

	w := doRequest(t, srv, http.MethodGet, "/memories/abc", "wrong-key", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestValidationErrorEnvelope(t *testing.T) {
	srv := newTestServer(t, nil)

	// Authenticates with the legacy key, then fails validation: the empty
	// query never reaches the embedding provider or the store.
	w := doRequest(t, srv, http.MethodPost, "/memories/query", testLegacyKey, `{"agent_id":"a1"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	envelope := decodeErrorEnvelope(t, w)
	assert.Equal(t, string(model.KindValidation), envelope.Error.Code)
}

func TestUnknownBodyFieldRejected(t *testing.T) {
	srv := newTestServer(t, nil)

	w := doRequest(t, srv, http.MethodPost, "/ace/session", testLegacyKey, `{"bogus":1}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTypedKindRejected(t *testing.T) {
	srv := newTestServer(t, nil)

	w := doRequest(t, srv, http.MethodPost, "/memories/typed/vivid", testLegacyKey,
		`{"content":"x","agent_id":"a1"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthTokenExchange(t *testing.T) {
	srv := newTestServer(t, nil)

	w := doRequest(t, srv, http.MethodPost, "/auth/token", "",
		`{"api_key":"`+testLegacyKey+`","agent_id":"agent-1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data model.AuthTokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, model.DefaultProjectID, envelope.Data.ProjectID)
	require.NotEmpty(t, envelope.Data.Token)

	// The scoped token authenticates subsequent requests.
	w = doRequest(t, srv, http.MethodPost, "/memories/query", envelope.Data.Token, `{"agent_id":"a1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "token must pass auth and fail validation")

	// A scoped token cannot mint further tokens.
	w = doRequest(t, srv, http.MethodPost, "/auth/token", "",
		`{"api_key":"`+envelope.Data.Token+`"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthTokenRejectsUnknownKey(t *testing.T) {
	srv := newTestServer(t, nil)

	w := doRequest(t, srv, http.MethodPost, "/auth/token", "", `{"api_key":"nope"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimitEnforcedPerProject(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Limits{PerMinute: 2, PerHour: 100})
	t.Cleanup(func() { _ = limiter.Close() })
	srv := newTestServer(t, limiter)

	for range 2 {
		w := doRequest(t, srv, http.MethodPost, "/memories/query", testLegacyKey, `{}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit-Minute"))
		assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit-Hour"))
	}

	w := doRequest(t, srv, http.MethodPost, "/memories/query", testLegacyKey, `{}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining-Minute"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	envelope := decodeErrorEnvelope(t, w)
	assert.Equal(t, string(model.KindRateLimited), envelope.Error.Code)
}

func TestRateLimitSkipsPublicPaths(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Limits{PerMinute: 1, PerHour: 1})
	t.Cleanup(func() { _ = limiter.Close() })
	srv := newTestServer(t, limiter)

	for range 5 {
		w := doRequest(t, srv, http.MethodGet, "/health", "", "")
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestBodyLimitEnforced(t *testing.T) {
	srv := newTestServer(t, nil)

	big := `{"content":"` + strings.Repeat("x", 2<<20) + `","agent_id":"a1"}`
	w := doRequest(t, srv, http.MethodPost, "/memories/", testLegacyKey, big)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
