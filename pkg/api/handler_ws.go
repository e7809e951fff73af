package api

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/netra-ai/netra/pkg/ws"
)

// wsHandler handles GET /ws: authenticates, upgrades, and hands the
// connection to the ConnectionManager. Blocks until the socket closes.
func (s *Server) wsHandler(c *echo.Context) error {
	userID := extractUserID(c)
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "user identity is required")
	}

	connManager, err := s.app.Connections()
	if err != nil {
		return mapServiceError(err)
	}
	handler, err := s.app.MessageHandler()
	if err != nil {
		return mapServiceError(err)
	}

	opts := &websocket.AcceptOptions{
		OriginPatterns: s.cfg.System.AllowedWSOrigins,
	}
	if s.cfg.System.InsecureWSOrigins {
		// dev only
		opts = &websocket.AcceptOptions{InsecureSkipVerify: true}
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), opts)
	if err != nil {
		return err
	}

	connManager.HandleConnection(c.Request().Context(), conn, userID,
		func(msgCtx context.Context, wsConn *ws.Connection, msg *ws.InboundMessage) bool {
			return handler.HandleMessage(msgCtx, wsConn, msg)
		})
	return nil
}
