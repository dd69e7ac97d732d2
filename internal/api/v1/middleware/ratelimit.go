package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/beagleboard/beaglemind/internal/config"
	"github.com/beagleboard/beaglemind/pkg/httpext"
	"github.com/beagleboard/beaglemind/pkg/logger"
	"github.com/beagleboard/beaglemind/pkg/ratelimit"
)

func RateLimit(limitKey string) func(http.Handler) http.Handler {
	cfg := config.GetRateLimitConfig(limitKey)
	limiter := ratelimit.NewLimiter(cfg.Window, cfg.MaxHits)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			ip := clientIP(r)
			if !limiter.Allow(ip) {
				logger.For(logger.MIDDLEWARE).Warn().
					Str("ip", ip).
					Str("limit", limitKey).
					Msg("Rate limit exceeded")
				httpext.JsonErrorWithDetails(w, http.StatusTooManyRequests, httpext.ErrorResponse{
					Error:            "rate_limited",
					ErrorDescription: "Rate limit exceeded",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP uses the first X-Forwarded-For hop when behind a proxy,
// otherwise the remote address without its port
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
