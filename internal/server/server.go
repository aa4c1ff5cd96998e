// Package server owns the HTTP listener: middleware, health endpoint, and
// handler registration.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Handler mounts routes on the echo instance.
type Handler interface {
	Register(e *echo.Echo)
}

type Server struct {
	echo   *echo.Echo
	addr   string
	logger *slog.Logger
}

// NewServer builds the echo server with recovery and request logging, mounts
// the health endpoint, and registers every handler.
func NewServer(log *slog.Logger, addr string, handlers ...Handler) *Server {
	if log == nil {
		log = slog.Default()
	}
	logger := log.With(slog.String("service", "server"))
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency))
			return nil
		},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.HEAD("/health", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	for _, h := range handlers {
		h.Register(e)
	}

	return &Server{echo: e, addr: addr, logger: logger}
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.addr))
	return s.echo.Start(s.addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
