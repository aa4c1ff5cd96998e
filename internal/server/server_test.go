package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingHandler struct{}

func (pingHandler) Register(e *echo.Echo) {
	e.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	})
}

func do(srv *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestNewServer_HealthEndpoint(t *testing.T) {
	t.Parallel()
	srv := NewServer(nil, ":0")

	rec := do(srv, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	head := do(srv, http.MethodHead, "/health")
	assert.Equal(t, http.StatusOK, head.Code)
	assert.Empty(t, head.Body.String())
}

func TestNewServer_RegistersHandlers(t *testing.T) {
	t.Parallel()
	srv := NewServer(nil, ":0", pingHandler{})

	rec := do(srv, http.MethodGet, "/ping")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestNewServer_UnknownRouteIs404(t *testing.T) {
	t.Parallel()
	srv := NewServer(nil, ":0")

	rec := do(srv, http.MethodGet, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewServer_DefaultAddr(t *testing.T) {
	t.Parallel()
	srv := NewServer(nil, "")
	assert.Equal(t, ":8080", srv.addr)
}
