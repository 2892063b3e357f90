package middleware

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/leafcare/leafcare-engine/pkg/audit"
	"github.com/leafcare/leafcare-engine/pkg/ratelimit"
)

// RateLimit rejects clients that exceed limiter with 429. Requests are keyed
// by client address, so it must run after RequestID. Paths in exempt skip
// the check. A limiter failure lets the request through.
func RateLimit(limiter ratelimit.Limiter, logger *zap.Logger, exempt ...string) Middleware {
	skip := make(map[string]bool, len(exempt))
	for _, p := range exempt {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			now := time.Now()
			key := audit.ClientIPFromContext(r.Context())
			res, err := limiter.Allow(r.Context(), key, now)
			if err != nil {
				logger.Warn("Rate limiter unavailable, allowing request",
					zap.String("client_ip", key),
					zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			if res.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
			}

			if !res.Allowed {
				rateLimitRejects.Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter(now).Seconds())))
				logger.Info("Rate limit exceeded",
					zap.String("client_ip", key),
					zap.String("path", r.URL.Path))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests, please try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
