package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/netra-ai/netra/pkg/database"
	"github.com/netra-ai/netra/pkg/ident"
	"github.com/netra-ai/netra/pkg/models"
)

// listThreadsHandler handles GET /api/v1/threads for the authenticated user.
func (s *Server) listThreadsHandler(c *echo.Context) error {
	userID := extractUserID(c)
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "user identity is required")
	}

	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid limit: must be an integer")
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid offset: must be an integer")
	}

	factory, err := s.app.SessionFactory()
	if err != nil {
		return mapServiceError(err)
	}
	threads, err := s.app.ThreadService()
	if err != nil {
		return mapServiceError(err)
	}

	var resp *models.ThreadListResponse
	requestID := ident.GenerateRequestID("http")
	err = factory.WithSession(c.Request().Context(), userID, requestID, func(session *database.RequestScopedSession) error {
		var listErr error
		resp, listErr = threads.ListThreads(c.Request().Context(), session, userID, limit, offset)
		return listErr
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// getThreadHandler handles GET /api/v1/threads/:id. A thread belonging to a
// different user is reported as not found, never as forbidden, so thread ids
// cannot be probed.
func (s *Server) getThreadHandler(c *echo.Context) error {
	userID := extractUserID(c)
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "user identity is required")
	}

	threadID := c.Param("id")
	if threadID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "thread id is required")
	}

	factory, err := s.app.SessionFactory()
	if err != nil {
		return mapServiceError(err)
	}
	threads, err := s.app.ThreadService()
	if err != nil {
		return mapServiceError(err)
	}

	var detail *models.ThreadDetail
	requestID := ident.GenerateRequestID("http")
	err = factory.WithSession(c.Request().Context(), userID, requestID, func(session *database.RequestScopedSession) error {
		var getErr error
		detail, getErr = threads.GetThread(c.Request().Context(), session, threadID)
		return getErr
	})
	if err != nil {
		return mapServiceError(err)
	}
	if detail.Thread.UserID != userID {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	return c.JSON(http.StatusOK, detail)
}

func queryInt(c *echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
