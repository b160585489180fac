package handlers

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"tollgate/internal/facilitator"
	"tollgate/internal/registry"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	registry *registry.Registry
	manager  *facilitator.Manager
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(reg *registry.Registry, mgr *facilitator.Manager) *HealthHandler {
	return &HealthHandler{
		registry: reg,
		manager:  mgr,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string            `json:"status"`
	Version     string            `json:"version"`
	Services    map[string]string `json:"services"`
	Providers   registry.Stats    `json:"providers"`
	Facilitator facilitator.Info  `json:"facilitator"`
	Timestamp   int64             `json:"timestamp"`
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/health/live", h.Liveness)
	app.Get("/health/ready", h.Readiness)
}

// Health returns the full health status
// @Summary Health check
// @Description Returns the health status of the gateway, its providers, and the facilitator
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c fiber.Ctx) error {
	stats := h.registry.Stats()
	info := h.manager.Info()

	services := make(map[string]string)
	overallStatus := "healthy"

	if stats.Active > 0 {
		services["providers"] = "up"
	} else if stats.Degraded > 0 {
		services["providers"] = "degraded"
		overallStatus = "degraded"
	} else {
		services["providers"] = "down"
		overallStatus = "degraded"
	}

	if info.Available {
		services["facilitator"] = "up"
	} else {
		services["facilitator"] = "unavailable"
		overallStatus = "degraded"
	}

	// API is always up if we're responding
	services["api"] = "up"

	return c.JSON(HealthResponse{
		Status:      overallStatus,
		Version:     "1.0.0",
		Services:    services,
		Providers:   stats,
		Facilitator: info,
		Timestamp:   time.Now().Unix(),
	})
}

// Liveness returns liveness probe status
// @Summary Liveness probe
// @Description Kubernetes liveness probe endpoint
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health/live [get]
func (h *HealthHandler) Liveness(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "alive",
	})
}

// Readiness returns readiness probe status
// @Summary Readiness probe
// @Description Kubernetes readiness probe endpoint
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Success 503 {object} map[string]string
// @Router /health/ready [get]
func (h *HealthHandler) Readiness(c fiber.Ctx) error {
	stats := h.registry.Stats()
	if stats.Active == 0 && stats.Degraded == 0 {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
			"reason": "no_provider_available",
		})
	}

	return c.JSON(fiber.Map{
		"status": "ready",
	})
}
