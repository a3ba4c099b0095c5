package server

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mr-karan/checkchef/internal/metrics"
)

// MetaResponse is the server metadata response.
type MetaResponse struct {
	Version          string `json:"version"`
	Workers          int    `json:"workers"`
	TickInterval     string `json:"tick_interval"`
	StoreTimeout     string `json:"store_timeout"`
	HistoryLimit     int    `json:"history_limit"`
	IncompleteWindow string `json:"incomplete_window"`
	Checks           int    `json:"checks"`
}

// handleGetMeta returns the version, engine settings and the number of stored checks.
// URL: GET /api/v1/meta
func (s *Server) handleGetMeta(c *fiber.Ctx) error {
	count, err := s.store.CountChecks(c.UserContext())
	if err != nil {
		s.log.Error("failed to count checks", "error", err)
		return SendErrorWithType(c, fiber.StatusInternalServerError, "failed to count checks", GeneralErrorType)
	}
	return SendSuccess(c, fiber.StatusOK, MetaResponse{
		Checks:           count,
		Version:          s.version,
		Workers:          s.engine.Workers,
		TickInterval:     s.engine.TickInterval.String(),
		StoreTimeout:     s.engine.StoreTimeout.String(),
		HistoryLimit:     s.engine.HistoryLimit,
		IncompleteWindow: s.engine.IncompleteWindow.String(),
	})
}

// HealthResponse reports database and source connectivity.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Sources  any    `json:"sources"`
}

// handleHealth reports whether the database answers. Unhealthy sources degrade the status
// without failing the request.
// URL: GET /api/v1/health
func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := HealthResponse{Status: "ok", Database: "ok", Sources: []any{}}
	if err := s.store.Ping(); err != nil {
		s.log.Error("database health check failed", "error", err)
		resp.Status, resp.Database = "unhealthy", err.Error()
		return c.Status(fiber.StatusServiceUnavailable).JSON(Response{Status: "error", Data: resp, Message: "database unavailable"})
	}
	if s.sources != nil {
		health := s.sources.Health(c.UserContext())
		for _, h := range health {
			if !h.Healthy {
				resp.Status = "degraded"
			}
		}
		resp.Sources = health
	}
	return SendSuccess(c, fiber.StatusOK, resp)
}

// handleMetrics serves Prometheus metrics.
// URL: GET /metrics
func (s *Server) handleMetrics(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	metrics.WritePrometheus(c.Response().BodyWriter())
	return nil
}
