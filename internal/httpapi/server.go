// Package httpapi exposes the assessment orchestrator over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assessd/internal/gateway"
	"github.com/fyrsmithlabs/assessd/internal/pipeline"
	"github.com/fyrsmithlabs/assessd/internal/round"
	"github.com/fyrsmithlabs/assessd/internal/session"
)

// Server provides the REST surface over a session.Service.
type Server struct {
	echo     *echo.Echo
	sessions session.Service
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

// NewServer creates a new HTTP server.
func NewServer(sessions session.Service, logger *zap.Logger, cfg *Config) (*Server, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host:            "localhost",
			Port:            8820,
			ShutdownTimeout: 10 * time.Second,
		}
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
		echo:     e,
		sessions: sessions,
		logger:   logger,
		config:   cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check and metrics
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.POST("/assessments", s.handleCreate)
	v1.GET("/assessments/:id/progress", s.handleProgress)
	v1.POST("/assessments/:id/rounds/begin", s.handleBeginRound)
	v1.POST("/assessments/:id/retry", s.handleRetry)
	v1.POST("/assessments/:id/abandon", s.handleAbandon)
	v1.POST("/rounds/:id/progress", s.handleRecordProgress)
	v1.POST("/rounds/:id/submit", s.handleSubmit)
}

// CreateRequest is the request body for POST /api/v1/assessments.
type CreateRequest struct {
	CandidateID  string `json:"candidate_id"`
	PipelineType string `json:"pipeline_type"`
}

// ProgressRequest is the request body for POST /api/v1/rounds/:id/progress.
type ProgressRequest struct {
	Partial json.RawMessage `json:"partial"`
}

// SubmitRequest is the request body for POST /api/v1/rounds/:id/submit.
// Final defaults to true: plain submits end the round; callers doing
// checkpoint submits for conversational or diagram rounds send false.
type SubmitRequest struct {
	Final *bool `json:"final,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleCreate creates a session and resolves its round sequence.
func (s *Server) handleCreate(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid create request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.CandidateID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "candidate_id field is required")
	}

	pt, err := pipeline.ParseType(req.PipelineType)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	snap, err := s.sessions.CreateSession(c.Request().Context(), req.CandidateID, pt)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusCreated, snap)
}

// handleBeginRound starts the round at the session's current index.
func (s *Server) handleBeginRound(c echo.Context) error {
	info, err := s.sessions.BeginCurrentRound(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, info)
}

// handleRecordProgress merges partial work into the active round.
func (s *Server) handleRecordProgress(c echo.Context) error {
	var req ProgressRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid progress request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	// A null or absent field both decode to nothing usable.
	if len(req.Partial) == 0 || string(req.Partial) == "null" {
		return echo.NewHTTPError(http.StatusBadRequest, "partial field is required")
	}

	exchange, err := s.sessions.RecordProgress(c.Request().Context(), c.Param("id"), req.Partial)
	if err != nil {
		return s.mapError(err)
	}
	if exchange == nil {
		return c.NoContent(http.StatusAccepted)
	}
	return c.JSON(http.StatusOK, exchange)
}

// handleSubmit sends the round's work for evaluation.
func (s *Server) handleSubmit(c echo.Context) error {
	req := SubmitRequest{}
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid submit request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	final := req.Final == nil || *req.Final

	snap, err := s.sessions.Submit(c.Request().Context(), c.Param("id"), final)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

// handleRetry restarts a failed round whose policy allows it.
func (s *Server) handleRetry(c echo.Context) error {
	info, err := s.sessions.RetryCurrentRound(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, info)
}

// handleAbandon terminates a session.
func (s *Server) handleAbandon(c echo.Context) error {
	if err := s.sessions.Abandon(c.Request().Context(), c.Param("id")); err != nil {
		return s.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// handleProgress returns the session's aggregated state.
func (s *Server) handleProgress(c echo.Context) error {
	snap, err := s.sessions.Progress(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

// mapError translates orchestrator errors into HTTP status codes.
func (s *Server) mapError(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrRoundNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrSessionTerminal),
		errors.Is(err, session.ErrNoActiveRound),
		errors.Is(err, session.ErrRetryNotAllowed),
		errors.Is(err, round.ErrInvalidTransition),
		errors.Is(err, round.ErrSubmitInFlight):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, gateway.ErrStartFailed),
		errors.Is(err, gateway.ErrSubmitFailed),
		errors.Is(err, gateway.ErrInvariantViolation):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("unhandled api error", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
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
