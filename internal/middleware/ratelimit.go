package middleware

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/technosupport/ts-streamgw/internal/ratelimit"
)

type RateLimitMiddleware struct {
	limiter        *ratelimit.Limiter
	config         Config
	endpointLimits map[string]ratelimit.LimitConfig
}

type Config struct {
	GlobalIP  ratelimit.LimitConfig            `yaml:"global_ip"`
	Endpoints map[string]ratelimit.LimitConfig `yaml:"endpoints"`
}

func NewRateLimitMiddleware(l *ratelimit.Limiter, c Config) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter:        l,
		config:         c,
		endpointLimits: c.Endpoints,
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	return strings.Split(r.RemoteAddr, ":")[0]
}

// GlobalLimiter enforces the per-IP window plus any per-endpoint
// limits. Redis outages fail open: a broken limiter must not take
// live video down with it.
func (m *RateLimitMiddleware) GlobalLimiter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.config.GlobalIP.Rate <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		ipHash := m.limiter.HashIP(clientIP(r))
		key := fmt.Sprintf("rl:ip:%s", ipHash)

		decision, err := m.limiter.CheckRateLimit(r.Context(), key, m.config.GlobalIP)
		if err != nil {
			log.Printf("RateLimit check failed (fail open): %v", err)
			next.ServeHTTP(w, r)
			return
		}
		if !decision.Allowed {
			m.writeRateLimitHeaders(w, decision)
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		if limitConfig, found := m.endpointLimits[r.URL.Path]; found {
			epKey := fmt.Sprintf("rl:ep:%s:%s", ipHash, r.URL.Path)
			epDecision, err := m.limiter.CheckRateLimit(r.Context(), epKey, limitConfig)
			if err == nil && !epDecision.Allowed {
				m.writeRateLimitHeaders(w, epDecision)
				http.Error(w, "Endpoint rate limit exceeded", http.StatusTooManyRequests)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (m *RateLimitMiddleware) writeRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
}
