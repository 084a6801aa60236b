package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"acero-store/internal/observability"
)

type Middleware struct {
	limiter Limiter
	message string
	logger  *observability.Logger
	now     func() time.Time
}

func NewMiddleware(limiter Limiter, message string, logger *observability.Logger) *Middleware {
	return &Middleware{
		limiter: limiter,
		message: message,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Handler rejects clients over budget with 429. Requests pass through when the
// limiter backend errors.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := observability.ClientIP(r)

		allowed, retryAfter, err := m.limiter.Allow(r.Context(), ip, m.now())
		if err != nil {
			m.logger.Error("rate_limit_unavailable", map[string]any{"error": err, "ip": ip})
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": m.message})
			return
		}

		next.ServeHTTP(w, r)
	})
}
