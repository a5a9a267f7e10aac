package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idylle/internal/config"
	"idylle/internal/infrastructure"
	"idylle/internal/shared/testutil"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequestID(t *testing.T) {
	var seenReqID, seenTraceID string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenReqID = middleware.GetReqID(r.Context())
		seenTraceID = infrastructure.GetTraceID(r.Context())
	}))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seenReqID)
	assert.Equal(t, seenReqID, seenTraceID)
	assert.Equal(t, seenReqID, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-id")
	rec = serve(h, req)
	assert.Equal(t, "client-id", seenReqID)
	assert.Equal(t, "client-id", rec.Header().Get(RequestIDHeader))
}

func TestStructuredLogger(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)

	h := RequestID(StructuredLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))
	serve(h, httptest.NewRequest(http.MethodGet, "/brew", nil))

	testutil.AssertLogContains(t, logs, slog.LevelWarn, "request completed")
	testutil.AssertLogAttr(t, logs, "path", "/brew")
	testutil.AssertLogAttr(t, logs, "component", "http")
}

func TestRecoverer(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)

	h := Recoverer(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/p", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "/errors/internal", body["type"])
	assert.Equal(t, "/p", body["instance"])
	testutil.AssertLogContains(t, logs, slog.LevelError, "panic recovered")
}

func TestRateLimiter(t *testing.T) {
	h := NewRateLimiter(1, 1, infrastructure.NewDiscardLogger()).Handler(okHandler)

	assert.Equal(t, http.StatusOK, serve(h, httptest.NewRequest(http.MethodGet, "/", nil)).Code)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestIPRateLimit(t *testing.T) {
	h := IPRateLimit(2, time.Minute)(okHandler)

	newReq := func(ip string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		return req
	}

	assert.Equal(t, http.StatusOK, serve(h, newReq("10.0.0.1")).Code)
	assert.Equal(t, http.StatusOK, serve(h, newReq("10.0.0.1")).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, newReq("10.0.0.1")).Code)
	assert.Equal(t, http.StatusOK, serve(h, newReq("10.0.0.2")).Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/api/x", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := serve(h, req)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = serve(h, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecureHeaders(t *testing.T) {
	h := DefaultSecureHeaders().Handler(okHandler)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Upgrade", "websocket")
	rec = serve(h, req)
	assert.Empty(t, rec.Header().Get("X-Frame-Options"))
}

func TestAPIKeyAuth(t *testing.T) {
	var principal any
	h := APIKeyAuth(infrastructure.NewDiscardLogger(), map[string]string{"secret": "billing"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal = PrincipalFrom(r.Context())
		}))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(APIKeyHeader, "wrong")
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/?api_key=secret", nil)
	rec = serve(h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, &APIClient{Name: "billing"}, principal)
}

func TestTracingRecordsRoute(t *testing.T) {
	tracing, err := Tracing(infrastructure.NewDiscardLogger())
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(tracing)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/items/7", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestDefaults(t *testing.T) {
	s := config.Default()
	m := Defaults(s, infrastructure.NewDiscardLogger())

	for _, name := range []string{NameRequestID, NameRealIP, NameLogger, NameRecoverer, NameCORS,
		NameSecurityHeaders, NameCompress, NameTimeout, NameIPRateLimit, NameTracing} {
		assert.Contains(t, m, name)
	}
	assert.NotContains(t, m, NameRateLimit)
	assert.NotContains(t, m, NameAPIKey)

	// every default middleware name in settings resolves
	for _, name := range s.Middlewares {
		assert.Contains(t, m, name)
	}

	s.Security.RateLimit.Enabled = true
	s.Security.APIKeys = map[string]string{"k": "c"}
	m = Defaults(s, infrastructure.NewDiscardLogger())
	assert.Contains(t, m, NameRateLimit)
	assert.Contains(t, m, NameAPIKey)
}
