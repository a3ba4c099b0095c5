package server

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/mr-karan/checkchef/internal/engine"
	"github.com/mr-karan/checkchef/internal/sqlite"
	"github.com/mr-karan/checkchef/pkg/models"
)

const defaultResultsLimit = 20

func (s *Server) handleListChecks(c *fiber.Ctx) error {
	checks, err := s.store.ListChecks(c.UserContext())
	if err != nil {
		s.log.Error("failed to list checks", "error", err)
		return SendError(c, fiber.StatusInternalServerError, "Failed to list checks")
	}
	return SendSuccess(c, fiber.StatusOK, checks)
}

func (s *Server) handleGetCheck(c *fiber.Ctx) error {
	checkID := c.Params("checkID")
	check, err := s.store.GetCheck(c.UserContext(), checkID)
	if err != nil {
		return s.lookupError(c, err, "check", checkID)
	}
	return SendSuccess(c, fiber.StatusOK, check)
}

// CheckStatusResponse is a check's debounced status plus its most recent result.
type CheckStatusResponse struct {
	models.CheckState
	Name       string              `json:"name"`
	LastResult *models.CheckResult `json:"last_result,omitempty"`
}

// handleCheckStatus recomputes a check's calculated status from its history.
// URL: GET /api/v1/checks/:checkID/status
func (s *Server) handleCheckStatus(c *fiber.Ctx) error {
	ctx := c.UserContext()
	checkID := c.Params("checkID")
	check, err := s.store.GetCheck(ctx, checkID)
	if err != nil {
		return s.lookupError(c, err, "check", checkID)
	}
	state, err := s.runner.Recompute(ctx, checkID)
	if err != nil {
		return s.lookupError(c, err, "check", checkID)
	}

	resp := CheckStatusResponse{CheckState: state, Name: check.Name}
	recent, err := s.store.RecentResults(ctx, checkID, 1)
	if err != nil {
		s.log.Warn("failed to load last result", "check_id", checkID, "error", err)
	} else if len(recent) > 0 {
		resp.LastResult = &recent[0]
	}
	return SendSuccess(c, fiber.StatusOK, resp)
}

// handleCheckResults lists recent results, newest first.
// URL: GET /api/v1/checks/:checkID/results?limit=N
func (s *Server) handleCheckResults(c *fiber.Ctx) error {
	checkID := c.Params("checkID")
	limit := defaultResultsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return SendErrorWithType(c, fiber.StatusBadRequest, "limit must be a positive integer", ValidationErrorType)
		}
		limit = n
	}
	if s.engine.HistoryLimit > 0 && limit > s.engine.HistoryLimit {
		limit = s.engine.HistoryLimit
	}

	results, err := s.store.RecentResults(c.UserContext(), checkID, limit)
	if err != nil {
		return s.lookupError(c, err, "check", checkID)
	}
	return SendSuccess(c, fiber.StatusOK, results)
}

// handleCheckSeries decodes the data snapshot of the latest result that carries one.
// URL: GET /api/v1/checks/:checkID/series
func (s *Server) handleCheckSeries(c *fiber.Ctx) error {
	checkID := c.Params("checkID")
	if s.codec == nil {
		return SendError(c, fiber.StatusNotImplemented, "Series snapshots are disabled")
	}
	results, err := s.store.RecentResults(c.UserContext(), checkID, defaultResultsLimit)
	if err != nil {
		return s.lookupError(c, err, "check", checkID)
	}
	for _, r := range results {
		if len(r.RawData) == 0 {
			continue
		}
		series, err := s.codec.Decode(r.RawData)
		if err != nil {
			s.log.Error("failed to decode series snapshot", "check_id", checkID, "result_id", r.ID, "error", err)
			return SendError(c, fiber.StatusInternalServerError, "Failed to decode series snapshot")
		}
		return SendSuccess(c, fiber.StatusOK, fiber.Map{"result_id": r.ID, "completed_at": r.CompletedAt, "series": series})
	}
	return SendErrorWithType(c, fiber.StatusNotFound, "No series snapshot recorded for check", NotFoundErrorType)
}

// handleRunCheck evaluates a check immediately and returns the stored result.
// URL: POST /api/v1/checks/:checkID/run
func (s *Server) handleRunCheck(c *fiber.Ctx) error {
	checkID := c.Params("checkID")
	result, err := s.runner.RunNow(c.UserContext(), checkID)
	if err != nil {
		if errors.Is(err, engine.ErrInFlight) {
			return SendErrorWithType(c, fiber.StatusConflict, err.Error(), ConflictErrorType)
		}
		return s.lookupError(c, err, "check", checkID)
	}
	s.log.Info("check run on demand", "check_id", checkID, "succeeded", result.Succeeded)
	return SendSuccess(c, fiber.StatusOK, result)
}

func (s *Server) lookupError(c *fiber.Ctx, err error, what, id string) error {
	if errors.Is(err, sqlite.ErrNotFound) {
		return SendErrorWithType(c, fiber.StatusNotFound, what+" not found", NotFoundErrorType)
	}
	s.log.Error("failed to load "+what, "id", id, "error", err)
	return SendError(c, fiber.StatusInternalServerError, "Failed to load "+what)
}
