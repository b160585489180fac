package handlers

import (
	"github.com/gofiber/fiber/v3"

	"tollgate/internal/registry"
)

// PricingHandler exposes batch offers and the supported method lists.
type PricingHandler struct {
	registry *registry.Registry
}

// BatchOffer is one provider's pre-paid bundle.
type BatchOffer struct {
	ProviderID  string  `json:"providerId"`
	Provider    string  `json:"provider"`
	Calls       int     `json:"calls"`
	Price       float64 `json:"price_usd"`
	PerCall     float64 `json:"perCall_usd"`
	SinglePrice float64 `json:"singleCall_usd"`
}

// NewPricingHandler creates a new pricing handler.
func NewPricingHandler(reg *registry.Registry) *PricingHandler {
	return &PricingHandler{registry: reg}
}

// RegisterRoutes registers pricing routes.
func (h *PricingHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/batch-pricing", h.BatchPricing)
	app.Get("/rpc-methods", h.RPCMethods)
}

// BatchPricing returns the batch offers of every provider on a chain.
// @Summary Batch pricing
// @Description Returns per-provider pre-paid bundle offers for a chain
// @Tags pricing
// @Produce json
// @Param chain query string false "Chain identifier" default(solana)
// @Success 200 {object} map[string]any
// @Router /batch-pricing [get]
func (h *PricingHandler) BatchPricing(c fiber.Ctx) error {
	chain := c.Query("chain", "solana")

	offers := make([]BatchOffer, 0)
	for _, p := range h.registry.ListByChain(chain) {
		if p.BatchCost == nil {
			continue
		}
		offers = append(offers, BatchOffer{
			ProviderID:  p.ID,
			Provider:    p.Name,
			Calls:       p.BatchCost.Calls,
			Price:       p.BatchCost.Price,
			PerCall:     p.BatchCost.Price / float64(p.BatchCost.Calls),
			SinglePrice: p.CostPerCall,
		})
	}

	return c.JSON(fiber.Map{
		"chain":    chain,
		"currency": "USDC",
		"offers":   offers,
	})
}

// RPCMethods returns the supported method surface for a chain.
// @Summary Supported RPC methods
// @Description Returns the free allowlist and paid method policy for a chain
// @Tags pricing
// @Produce json
// @Param chain query string false "Chain identifier" default(solana)
// @Success 200 {object} map[string]any
// @Router /rpc-methods [get]
func (h *PricingHandler) RPCMethods(c fiber.Ctx) error {
	chain := c.Query("chain", "solana")

	family := "evm"
	if chain == "solana" || chain == "solana-devnet" {
		family = "solana"
	}

	return c.JSON(fiber.Map{
		"chain": chain,
		"free":  freeMethods[family],
		// Paid calls accept any JSON-RPC method the upstream supports.
		"paid": "*",
	})
}
