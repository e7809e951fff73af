package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/netra-ai/netra/pkg/database"
	"github.com/netra-ai/netra/pkg/faults"
	"github.com/netra-ai/netra/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusStarting  = "starting"
	healthStatusUnhealthy = "unhealthy"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	Database *database.HealthStatus `json:"database,omitempty"`
}

// healthHandler handles GET /health. Safe for unauthenticated access: only
// the process's own components are checked, never external dependencies, so
// an LLM outage cannot make the orchestrator restart this pod.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	client, err := s.app.DB()
	if err != nil {
		if faults.IsKind(err, faults.KindTransient) {
			return c.JSON(http.StatusServiceUnavailable, &HealthResponse{Status: healthStatusStarting, Version: version.Full()})
		}
		return c.JSON(http.StatusServiceUnavailable, &HealthResponse{Status: healthStatusUnhealthy, Version: version.Full()})
	}

	dbHealth, err := database.Health(reqCtx, client.DB())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, &HealthResponse{
			Status:   healthStatusUnhealthy,
			Version:  version.Full(),
			Database: dbHealth,
		})
	}

	return c.JSON(http.StatusOK, &HealthResponse{
		Status:   healthStatusHealthy,
		Version:  version.Full(),
		Database: dbHealth,
	})
}
