package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/vitals/internal/model"
)

// KeyFunc extracts the rate limit key from a request. An empty key skips
// rate limiting for that request.
type KeyFunc func(r *http.Request) string

// RequestIDFunc extracts the request ID from the request context. Injected
// by the caller to avoid a dependency on the server package.
type RequestIDFunc func(r *http.Request) string

// Middleware returns HTTP middleware that rejects requests with 429 once
// the key's bucket is empty. Limiter errors are logged and the request is
// let through.
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

			ok, err := limiter.Allow(r.Context(), key)
			if err != nil {
				if logger != nil {
					logger.Warn("ratelimit: limiter error, allowing request", "error", err, "key", key)
				}
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				var requestID string
				if reqIDFunc != nil {
					requestID = reqIDFunc(r)
				}
				w.Header().Set("Retry-After", strconv.Itoa(1))
				writeRateLimitError(w, requestID)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimitError(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{
			Code:    model.ErrCodeRateLimited,
			Message: "too many requests",
		},
		Meta: model.ResponseMeta{
			RequestID: requestID,
			Timestamp: time.Now().UTC(),
		},
	})
}

// IPKeyFunc keys requests by client IP from RemoteAddr. X-Forwarded-For is
// not trusted; behind a proxy, have the proxy rewrite RemoteAddr.
func IPKeyFunc(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
