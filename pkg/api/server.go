// Package api is the HTTP surface: health, thread read endpoints, handler
// stats, and the WebSocket upgrade endpoint.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/netra-ai/netra/pkg/app"
	"github.com/netra-ai/netra/pkg/config"
)

// Server is the HTTP server over the application host.
type Server struct {
	cfg  *config.Config
	app  *app.App
	echo *echo.Echo
	http *http.Server
}

// NewServer builds the server and registers all routes.
func NewServer(cfg *config.Config, application *app.App) *Server {
	s := &Server{
		cfg:  cfg,
		app:  application,
		echo: echo.New(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/ws", s.wsHandler)

	api := s.echo.Group("/api/v1")
	api.GET("/threads", s.listThreadsHandler)
	api.GET("/threads/:id", s.getThreadHandler)
	api.GET("/stats", s.statsHandler)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
