// Package http provides the HTTP API for pointerd.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pointerd/internal/analytics"
	"github.com/fyrsmithlabs/pointerd/internal/geometry"
	"github.com/fyrsmithlabs/pointerd/internal/input"
	"github.com/fyrsmithlabs/pointerd/internal/pipeline"
	"github.com/fyrsmithlabs/pointerd/internal/sanitize"
	"github.com/fyrsmithlabs/pointerd/internal/telemetry"
)

// Server provides HTTP endpoints for pointerd.
type Server struct {
	echo      *echo.Echo
	pipeline  *pipeline.Service
	store     *telemetry.Store
	analytics *analytics.Service
	logger    *zap.Logger
	config    *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// ScreenWidth and ScreenHeight bound region lookups.
	ScreenWidth  int
	ScreenHeight int
}

// NewServer creates a new HTTP server.
func NewServer(pipelineSvc *pipeline.Service, store *telemetry.Store, analyticsSvc *analytics.Service, logger *zap.Logger, cfg *Config) (*Server, error) {
	if pipelineSvc == nil {
		return nil, fmt.Errorf("pipeline service cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("telemetry store cannot be nil")
	}
	if analyticsSvc == nil {
		return nil, fmt.Errorf("analytics service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}
	if cfg.ScreenWidth <= 0 || cfg.ScreenHeight <= 0 {
		cfg.ScreenWidth = 1920
		cfg.ScreenHeight = 1080
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:      e,
		pipeline:  pipelineSvc,
		store:     store,
		analytics: analyticsSvc,
		logger:    logger,
		config:    cfg,
	}
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/click", s.handleClick)
	v1.GET("/regions/:name", s.handleRegion)
	v1.GET("/sessions", s.handleSessionList)
	v1.POST("/sessions", s.handleSessionStart)
	v1.GET("/sessions/:id/summary", s.handleSessionSummary)
	v1.GET("/sessions/:id/drift", s.handleSessionDrift)
	v1.POST("/sessions/:id/reset", s.handleSessionReset)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleClick executes one click through the pipeline.
func (s *Server) handleClick(c echo.Context) error {
	var req ClickRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid click request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if (req.X == nil) != (req.Y == nil) {
		return echo.NewHTTPError(http.StatusBadRequest, "x and y must be provided together")
	}
	if req.SessionID != "" {
		if _, err := sanitize.SessionID(req.SessionID); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	preq := pipeline.Request{
		SessionID:        req.SessionID,
		Button:           input.Button(req.Button),
		ClickCount:       req.ClickCount,
		ZoomLevel:        req.ZoomLevel,
		LocalCoordinates: req.LocalCoordinates,
		Description:      req.Description,
		Source:           req.Source,
		App:              req.App,
	}
	if req.X != nil {
		preq.Target = &geometry.Point{X: *req.X, Y: *req.Y}
	}
	if req.Region != nil {
		region := geometry.Region{
			X:      req.Region.X,
			Y:      req.Region.Y,
			Width:  req.Region.Width,
			Height: req.Region.Height,
		}
		preq.Region = &region
	}
	if preq.LocalCoordinates && preq.Region == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "local_coordinates requires a region")
	}

	result, err := s.pipeline.Click(c.Request().Context(), preq)
	if err != nil {
		if errors.Is(err, telemetry.ErrInvalidSessionID) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Error("click failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "click execution failed")
	}
	return c.JSON(http.StatusOK, result)
}

// handleRegion resolves a named screen region (e.g. "top-left",
// "middle-center") against the configured screen dimensions.
func (s *Server) handleRegion(c echo.Context) error {
	name := c.Param("name")
	region, err := geometry.NamedRegion(name, s.config.ScreenWidth, s.config.ScreenHeight)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, RegionResponse{Name: name, Region: region})
}

// handleSessionList lists all sessions on disk.
func (s *Server) handleSessionList(c echo.Context) error {
	sessions, err := s.store.ListSessions(c.Request().Context())
	if err != nil {
		s.logger.Error("list sessions failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list sessions")
	}
	return c.JSON(http.StatusOK, SessionListResponse{Sessions: sessions, Count: len(sessions)})
}

// handleSessionStart starts a session and makes it current.
func (s *Server) handleSessionStart(c echo.Context) error {
	var req SessionStartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id field is required")
	}

	id, err := s.store.StartSession(c.Request().Context(), req.SessionID)
	if err != nil {
		if errors.Is(err, telemetry.ErrInvalidSessionID) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Error("start session failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start session")
	}
	return c.JSON(http.StatusOK, SessionStartResponse{SessionID: id})
}

// handleSessionSummary returns the analytics summary for one session.
func (s *Server) handleSessionSummary(c echo.Context) error {
	summary, err := s.analytics.SessionSummary(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, telemetry.ErrInvalidSessionID) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Error("session summary failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to build summary")
	}
	return c.JSON(http.StatusOK, summary)
}

// handleSessionDrift returns the learned drift for one session.
func (s *Server) handleSessionDrift(c echo.Context) error {
	id := c.Param("id")
	if _, err := s.store.SessionLogPath(id); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, SessionDriftResponse{
		SessionID: id,
		Drift:     s.store.CurrentDrift(id),
	})
}

// handleSessionReset clears a session's learned state.
func (s *Server) handleSessionReset(c echo.Context) error {
	id := c.Param("id")
	if err := s.store.ResetAll(c.Request().Context(), id); err != nil {
		if errors.Is(err, telemetry.ErrInvalidSessionID) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Error("session reset failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to reset session")
	}
	return c.JSON(http.StatusOK, SessionResetResponse{SessionID: id})
}

// Echo exposes the underlying router so callers can mount extra
// handlers (e.g. a Prometheus /metrics endpoint).
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
