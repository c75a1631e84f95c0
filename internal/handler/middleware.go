package handler

import (
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SubmitRateLimit throttles queue submissions with a shared token bucket.
// A non-positive limit disables throttling.
func SubmitRateLimit(limit float64, burst int, logger *zap.Logger) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(limit), burst)
	retryAfter := strconv.Itoa(int(math.Ceil(1 / limit)))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.Warn("submission throttled",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				w.Header().Set("Retry-After", retryAfter)
				writeError(w, http.StatusTooManyRequests, "too many submissions, retry later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
