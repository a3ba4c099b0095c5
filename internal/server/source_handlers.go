package server

import "github.com/gofiber/fiber/v2"

// handleListSources lists the configured metrics sources by name.
// URL: GET /api/v1/sources
func (s *Server) handleListSources(c *fiber.Ctx) error {
	if s.sources == nil {
		return SendSuccess(c, fiber.StatusOK, []string{})
	}
	return SendSuccess(c, fiber.StatusOK, s.sources.SourceNames())
}
