package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"tollgate/internal/registry"
)

// ProvidersHandler exposes the provider registry for inspection.
type ProvidersHandler struct {
	registry *registry.Registry
}

// NewProvidersHandler creates a new providers handler.
func NewProvidersHandler(reg *registry.Registry) *ProvidersHandler {
	return &ProvidersHandler{registry: reg}
}

// RegisterRoutes registers the provider inspection routes.
func (h *ProvidersHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/providers", h.List)
	app.Get("/providers/:id", h.Get)
}

// List returns every registered provider with live health state.
// @Summary List providers
// @Description Returns all registered upstream providers and their health
// @Tags providers
// @Produce json
// @Success 200 {object} map[string]any
// @Router /providers [get]
func (h *ProvidersHandler) List(c fiber.Ctx) error {
	providers := h.registry.ListAll()
	return c.JSON(fiber.Map{
		"providers": providers,
		"count":     len(providers),
	})
}

// Get returns a single provider by id.
// @Summary Get provider
// @Description Returns one provider with its health details
// @Tags providers
// @Produce json
// @Success 200 {object} registry.Provider
// @Failure 404 {object} map[string]any
// @Router /providers/{id} [get]
func (h *ProvidersHandler) Get(c fiber.Ctx) error {
	id := c.Params("id")
	p, err := h.registry.Get(id)
	if err != nil {
		if errors.Is(err, registry.ErrProviderNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "provider not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	health, err := h.registry.GetHealth(id)
	if err != nil {
		return c.JSON(p)
	}
	return c.JSON(fiber.Map{
		"provider": p,
		"health":   health,
	})
}
