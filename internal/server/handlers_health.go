package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/scorepulse/scorepulse/internal/health"
	"github.com/scorepulse/scorepulse/internal/version"
)

func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Get().Version,
	})
}

// handleHealth reports the aggregated status. Degraded still answers 200 so
// orchestrators keep routing traffic while a single subsystem recovers;
// only unhealthy instances are pulled.
func (s *Server) handleHealth(c echo.Context) error {
	snapshot := s.monitor.Snapshot(c.Request().Context())

	code := http.StatusOK
	if snapshot.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, snapshot)
}
