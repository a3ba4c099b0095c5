package server

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mr-karan/checkchef/pkg/models"
)

func (s *Server) handleListServices(c *fiber.Ctx) error {
	services, err := s.store.ListServices(c.UserContext())
	if err != nil {
		s.log.Error("failed to list services", "error", err)
		return SendError(c, fiber.StatusInternalServerError, "Failed to list services")
	}
	return SendSuccess(c, fiber.StatusOK, services)
}

// ServiceStatusResponse is a service's stored roll-up plus the live state of each check.
type ServiceStatusResponse struct {
	models.ServiceState
	Checks []models.CheckState `json:"checks"`
}

// handleServiceStatus returns the roll-up recorded by the last cycle. Check states are
// recomputed for display only; the stored service status is not changed.
// URL: GET /api/v1/services/:serviceID/status
func (s *Server) handleServiceStatus(c *fiber.Ctx) error {
	ctx := c.UserContext()
	serviceID := c.Params("serviceID")
	svc, err := s.store.GetService(ctx, serviceID)
	if err != nil {
		return s.lookupError(c, err, "service", serviceID)
	}

	resp := ServiceStatusResponse{ServiceState: *svc, Checks: make([]models.CheckState, 0, len(svc.CheckIDs))}
	for _, checkID := range svc.CheckIDs {
		state, err := s.runner.Recompute(ctx, checkID)
		if err != nil {
			s.log.Warn("failed to recompute check for service status", "service_id", serviceID, "check_id", checkID, "error", err)
			continue
		}
		resp.Checks = append(resp.Checks, state)
	}
	return SendSuccess(c, fiber.StatusOK, resp)
}
