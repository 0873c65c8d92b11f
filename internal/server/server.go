package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/scorepulse/scorepulse/internal/broadcast"
	"github.com/scorepulse/scorepulse/internal/config"
	"github.com/scorepulse/scorepulse/internal/domain"
	"github.com/scorepulse/scorepulse/internal/health"
)

type Server struct {
	echo     *echo.Echo
	config   *config.Config
	hub      *broadcast.Hub
	monitor  *health.Monitor
	verifier domain.TokenVerifier
	limits   *ConnectionLimits
	clock    clockwork.Clock
}

func NewServer(cfg *config.Config, hub *broadcast.Hub, monitor *health.Monitor,
	verifier domain.TokenVerifier, clock clockwork.Clock) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	srv := &Server{
		echo:     e,
		config:   cfg,
		hub:      hub,
		monitor:  monitor,
		verifier: verifier,
		limits:   NewConnectionLimits(cfg.MaxConnections, cfg.MaxConnectionsPerIP, cfg.ConnectionRate, cfg.ConnectionBurst),
		clock:    clock,
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Limits exposes the admission pipeline, mainly for tests and diagnostics.
func (s *Server) Limits() *ConnectionLimits {
	return s.limits
}
