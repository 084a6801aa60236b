package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecoverMiddleware(t *testing.T) {
	handler := RecoverMiddleware(NewNopLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
}

func TestRequestLoggingMiddleware_RecordsStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := RequestLoggingMiddleware(NewLoggerFromZap(zap.New(core)), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))

	entries := logs.FilterMessage("http_request").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
		fields := entries[0].ContextMap()
		assert.EqualValues(t, http.StatusTeapot, fields["status"])
		assert.Equal(t, "/auth/login", fields["path"])
		assert.Equal(t, rec.Header().Get(RequestIDHeader), fields["request_id"])
	}
}

func TestRequestLoggingMiddleware_RequestID(t *testing.T) {
	var seen string
	handler := RequestLoggingMiddleware(NewNopLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		_, _ = w.Write([]byte("ok"))
	}))

	inbound := "0190a8f4-0000-7000-8000-000000000001"
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, inbound)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, inbound, seen)
	assert.Equal(t, inbound, rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "<script>")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.NotEqual(t, "<script>", seen)
	assert.Len(t, seen, 36)
}

func TestClientIPIgnoresForwardedForByDefault(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.9:5123"
	r.Header.Set("X-Forwarded-For", "203.0.113.7")

	assert.Equal(t, "198.51.100.9", ClientIP(r))
	assert.Equal(t, "198.51.100.9", ResolveClientIP(r, 0))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = ""
	assert.Equal(t, "unknown", ClientIP(r))
}

func TestResolveClientIPTrustedHops(t *testing.T) {
	cases := []struct {
		name string
		xff  string
		hops int
		want string
	}{
		{name: "one proxy", xff: "203.0.113.7", hops: 1, want: "203.0.113.7"},
		{name: "spoofed prefix behind one proxy", xff: "1.2.3.4, 203.0.113.7", hops: 1, want: "203.0.113.7"},
		{name: "two proxies", xff: "1.2.3.4, 203.0.113.7, 10.0.0.2", hops: 2, want: "203.0.113.7"},
		{name: "more hops than entries", xff: "203.0.113.7", hops: 5, want: "203.0.113.7"},
		{name: "no header", xff: "", hops: 1, want: "10.0.0.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = "10.0.0.1:443"
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			assert.Equal(t, tc.want, ResolveClientIP(r, tc.hops))
		})
	}
}

func TestClientIPMiddlewareStoresResolvedAddress(t *testing.T) {
	var seen string
	handler := ClientIPMiddleware(1, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClientIP(r)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:443"
	r.Header.Set("X-Forwarded-For", "9.9.9.9, 203.0.113.7")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "203.0.113.7", seen)
}
