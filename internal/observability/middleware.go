package observability

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestIDFromContext returns the id assigned by RequestLoggingMiddleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

// RequestLoggingMiddleware tags each request with an id, gives it its own
// Sentry hub and logs one line when it completes. 5xx responses log at error
// level and 4xx at warn.
func RequestLoggingMiddleware(logger *Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		hub := sentry.CurrentHub().Clone()
		hub.Scope().SetTag("request_id", requestID)
		hub.Scope().SetRequest(r)

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		ctx = sentry.SetHubOnContext(ctx, hub)

		recorder := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r.WithContext(ctx))

		fields := map[string]any{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      recorder.status,
			"bytes":       recorder.bytes,
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          ClientIP(r),
			"user_agent":  r.UserAgent(),
		}
		switch {
		case recorder.status >= http.StatusInternalServerError:
			logger.Error("http_request", fields)
		case recorder.status >= http.StatusBadRequest:
			logger.Warn("http_request", fields)
		default:
			logger.Info("http_request", fields)
		}
	})
}

func RecoverMiddleware(logger *Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			hub := sentry.GetHubFromContext(r.Context())
			if hub == nil {
				hub = sentry.CurrentHub()
			}
			hub.WithScope(func(scope *sentry.Scope) {
				scope.SetExtra("stack", string(debug.Stack()))
				hub.RecoverWithContext(r.Context(), rec)
			})

			logger.Error("panic_recovered", map[string]any{
				"request_id": RequestIDFromContext(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"panic":      rec,
			})

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Internal server error"})
		}()

		next.ServeHTTP(w, r)
	})
}

type clientIPKey struct{}

// ClientIPMiddleware resolves the caller's address once per request. With
// trustedHops of zero X-Forwarded-For is ignored and the peer address is used.
// Otherwise the address trustedHops entries to the left of the peer in the
// forwarding chain is taken, matching what that many proxies appended.
func ClientIPMiddleware(trustedHops int, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ResolveClientIP(r, trustedHops)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIPKey{}, ip)))
	})
}

func ResolveClientIP(r *http.Request, trustedHops int) string {
	peer := peerIP(r)
	if trustedHops <= 0 {
		return peer
	}

	chain := make([]string, 0, 4)
	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if hop = strings.TrimSpace(hop); hop != "" {
			chain = append(chain, hop)
		}
	}
	chain = append(chain, peer)

	idx := len(chain) - 1 - trustedHops
	if idx < 0 {
		idx = 0
	}
	return chain[idx]
}

// ClientIP returns the address resolved by ClientIPMiddleware, or the peer
// address when the middleware is not installed.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return peerIP(r)
}

func peerIP(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
