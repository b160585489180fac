package handlers

import (
	"github.com/gofiber/fiber/v3"

	"tollgate/internal/facilitator"
)

// FacilitatorHandler exposes the facilitator manager's resolved selection.
type FacilitatorHandler struct {
	manager *facilitator.Manager
}

// NewFacilitatorHandler creates a new facilitator handler.
func NewFacilitatorHandler(mgr *facilitator.Manager) *FacilitatorHandler {
	return &FacilitatorHandler{manager: mgr}
}

// RegisterRoutes registers the facilitator inspection route.
func (h *FacilitatorHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/facilitator", h.Info)
}

// Info returns the active primary/fallback facilitator selection.
// @Summary Facilitator info
// @Description Returns the resolved primary and fallback facilitators
// @Tags facilitator
// @Produce json
// @Success 200 {object} facilitator.Info
// @Router /facilitator [get]
func (h *FacilitatorHandler) Info(c fiber.Ctx) error {
	return c.JSON(h.manager.Info())
}
