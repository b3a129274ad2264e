package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/atelier-erp/atelier/internal/observability"
	"github.com/atelier-erp/atelier/internal/shared"
)

func testConfig() *Config {
	return &Config{AppEnv: "test", LogFormat: "json", RateLimitPerMinute: 1000}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouterHealthAndMetrics(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()

	metrics := observability.NewMetrics()
	router := NewRouter(RouterParams{Logger: discardLogger(), Config: testConfig(), Metrics: metrics})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `atelier_http_requests_total{code="200",route="/healthz"} 1`)
}

func TestRouterReadiness(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()

	router := NewRouter(RouterParams{
		Logger: discardLogger(),
		Config: testConfig(),
		Checks: map[string]Pinger{
			"postgres": PingFunc(func(context.Context) error { return nil }),
			"redis":    PingFunc(func(context.Context) error { return errors.New("connection refused") }),
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var report map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&report))
	require.Equal(t, map[string]string{"postgres": "ok", "redis": "unavailable"}, report)
}

func TestIdentityMiddleware(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()

	var seen shared.Identity
	var found bool
	handler := IdentityMiddleware(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, found = shared.IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderTenantID, tenantID.String())
	req.Header.Set(HeaderUserID, userID.String())
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, found)
	require.Equal(t, shared.Identity{TenantID: tenantID, UserID: userID}, seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderTenantID, "not-a-uuid")
	req.Header.Set(HeaderUserID, userID.String())
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.False(t, found)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.False(t, found)
}

func TestLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&Config{AppEnv: "staging", LogFormat: "json"}, &buf).Info("hello")
	require.True(t, strings.HasPrefix(buf.String(), "{"))
	require.Contains(t, buf.String(), `"env":"staging"`)

	buf.Reset()
	newLogger(&Config{AppEnv: "staging", LogFormat: "pretty"}, &buf).Info("hello")
	require.Contains(t, buf.String(), "msg=hello")
}
