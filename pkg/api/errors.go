package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/netra-ai/netra/pkg/faults"
	"github.com/netra-ai/netra/pkg/services"
)

// mapServiceError maps service-layer and fault-classified errors to HTTP
// error responses. Validation problems echo their message; everything else is
// reported generically so internals never reach the client.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}

	switch faults.KindOf(err) {
	case faults.KindValidation:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case faults.KindPolicy:
		return echo.NewHTTPError(http.StatusForbidden, "not authorized")
	case faults.KindTransient:
		return echo.NewHTTPError(http.StatusServiceUnavailable, "service is starting, retry shortly")
	case faults.KindConfiguration, faults.KindIsolation:
		slog.Error("Fatal service error", "code", faults.CodeOf(err), "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
