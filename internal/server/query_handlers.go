package server

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/mr-karan/checkchef/internal/query"
	"github.com/mr-karan/checkchef/pkg/models"
)

// BuildQueryRequest is the body of a query build request.
type BuildQueryRequest struct {
	Series           models.SeriesDefinition `json:"series"`
	TimeRangeMinutes int                     `json:"time_range_minutes"`
	Templating       map[string]any          `json:"templating"`
	DefaultInterval  string                  `json:"default_interval"`
}

// handleBuildQuery translates a panel series definition into a search body and validates it.
// URL: POST /api/v1/queries/build
func (s *Server) handleBuildQuery(c *fiber.Ctx) error {
	var req BuildQueryRequest
	if err := c.BodyParser(&req); err != nil {
		return SendErrorWithType(c, fiber.StatusBadRequest, "Invalid request body", ValidationErrorType)
	}
	interval := req.DefaultInterval
	if interval == "" {
		interval = s.engine.DefaultInterval
	}

	body, err := query.Build(req.Series, query.Options{
		MinTime:         query.MinTimeFor(req.TimeRangeMinutes),
		DefaultInterval: interval,
		Templating:      req.Templating,
	})
	if err != nil {
		return s.queryError(c, err)
	}
	if err := query.Validate(body); err != nil {
		return s.queryError(c, err)
	}
	return SendSuccess(c, fiber.StatusOK, body)
}

// ValidateQueryResponse reports the outcome of a validation request.
type ValidateQueryResponse struct {
	Valid     bool   `json:"valid"`
	TimeField string `json:"time_field,omitempty"`
}

// handleValidateQuery checks that a stored search body has the shape the flattener expects.
// URL: POST /api/v1/queries/validate
func (s *Server) handleValidateQuery(c *fiber.Ctx) error {
	var body query.Body
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return SendErrorWithType(c, fiber.StatusBadRequest, "Invalid request body", ValidationErrorType)
	}
	if err := query.Validate(body); err != nil {
		return s.queryError(c, err)
	}
	return SendSuccess(c, fiber.StatusOK, ValidateQueryResponse{Valid: true, TimeField: query.TimeField(body)})
}

func (s *Server) queryError(c *fiber.Ctx, err error) error {
	if errors.Is(err, query.ErrValidation) {
		return SendErrorWithType(c, fiber.StatusBadRequest, err.Error(), ValidationErrorType)
	}
	s.log.Error("failed to process query", "error", err)
	return SendError(c, fiber.StatusInternalServerError, "Failed to process query")
}
