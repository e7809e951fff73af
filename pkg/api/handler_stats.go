package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/netra-ai/netra/pkg/ws"
)

// StatsResponse is the body of GET /api/v1/stats.
type StatsResponse struct {
	ActiveConnections int             `json:"active_connections"`
	Handler           ws.HandlerStats `json:"handler"`
}

// statsHandler handles GET /api/v1/stats.
func (s *Server) statsHandler(c *echo.Context) error {
	connManager, err := s.app.Connections()
	if err != nil {
		return mapServiceError(err)
	}
	handler, err := s.app.MessageHandler()
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &StatsResponse{
		ActiveConnections: connManager.ActiveConnections(),
		Handler:           handler.Stats(),
	})
}
