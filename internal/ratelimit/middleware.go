package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aegis-ai/aegis/internal/model"
)

// KeyFunc extracts the rate limit key from a request. Returns empty
// string to skip rate limiting for this request (e.g. health checks).
type KeyFunc func(r *http.Request) string

// RequestIDFunc extracts the request ID from the request context.
// Injected by the caller to avoid a dependency on the server package.
type RequestIDFunc func(r *http.Request) string

// Middleware returns HTTP middleware that enforces the limiter. Limiter
// errors fail open: a broken limiter must not take the API down.
func Middleware(limiter Limiter, keyFunc KeyFunc, reqIDFunc RequestIDFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			d, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("rate limiter unavailable, failing open", "error", err, "key", key)
				next.ServeHTTP(w, r)
				return
			}

			// Both windows are reported so clients can pace against
			// whichever is tighter. A zero limit means the backend does
			// not enforce that window (e.g. the noop limiter).
			if d.Minute.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit-Minute", strconv.Itoa(d.Minute.Limit))
				w.Header().Set("X-RateLimit-Remaining-Minute", strconv.Itoa(d.Minute.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Minute.ResetAt.Unix(), 10))
			}
			if d.Hour.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit-Hour", strconv.Itoa(d.Hour.Limit))
				w.Header().Set("X-RateLimit-Remaining-Hour", strconv.Itoa(d.Hour.Remaining))
			}

			if !d.Allowed {
				retryAfter := time.Until(d.RetryAt()).Seconds()
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter)))

				var requestID string
				if reqIDFunc != nil {
					requestID = reqIDFunc(r)
				}
				writeRateLimitError(w, requestID)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeRateLimitError writes a rate-limit error using the standard API
// error envelope.
func writeRateLimitError(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{
			Code:    string(model.KindRateLimited),
			Message: "too many requests",
		},
		Meta: model.ResponseMeta{
			RequestID: requestID,
			Timestamp: time.Now().UTC(),
		},
	})
}
