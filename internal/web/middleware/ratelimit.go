package middleware

import (
	"errors"
	"net/http"

	"github.com/JonMunkholm/fieldsync/internal/core"
	"github.com/JonMunkholm/fieldsync/internal/logging"
)

// RateLimit admits requests through limiter before authentication runs.
//
// The key is the raw Authorization header when one is sent, else the client
// address. Keys are logged only as a fingerprint. Limiter failures other than
// a rejection admit the request.
func RateLimit(limiter core.RateLimiter, onError ErrorResponder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := RateLimitKey(r)

			if err := limiter.Allow(r.Context(), key); err != nil {
				logger := logging.FromContext(r.Context())
				var limited *core.RateLimitError
				if !errors.As(err, &limited) {
					logger.Error("rate limiter unavailable, admitting request", "error", err)
					next.ServeHTTP(w, r)
					return
				}
				logger.Warn("rate limit exceeded",
					"key", logging.Fingerprint(key),
					"retry_after", limited.RetryAfter,
				)
				onError(w, r, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitKey returns the limiter key of a request.
func RateLimitKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return auth
	}
	if ip := core.GetIPAddressFromContext(r.Context()); ip != "" {
		return ip
	}
	return ClientIP(r)
}
