package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medportal/internal/config"
	"medportal/internal/handlers"
)

func newTestServer(t *testing.T, checks ...handlers.HealthCheck) *HTTPServer {
	t.Helper()
	cfg := &config.AppConfig{
		Environment: "test",
		HTTP:        config.HTTPConfig{Host: "127.0.0.1", Port: 8080},
	}
	set := handlers.NewHandlerSet(zerolog.Nop(), cfg, nil, nil, nil, checks...)
	return NewHTTPServer(cfg, zerolog.Nop(), set)
}

func TestHTTPServer_Health(t *testing.T) {
	srv := newTestServer(t, handlers.HealthCheck{
		Name: "postgres",
		Ping: func(context.Context) error { return nil },
	})
	assert.Equal(t, "127.0.0.1:8080", srv.Addr())

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "ok", body.Checks["postgres"])
}

func TestHTTPServer_HealthDegraded(t *testing.T) {
	srv := newTestServer(t, handlers.HealthCheck{
		Name: "redis",
		Ping: func(context.Context) error { return errors.New("down") },
	})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"degraded"`)
}

func TestHTTPServer_UnknownRoutes(t *testing.T) {
	srv := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"not_found"}`, w.Body.String())

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
