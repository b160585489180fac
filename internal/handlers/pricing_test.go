package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tollgate/internal/config"
	"tollgate/internal/registry"
)

func newPricingApp(t *testing.T) *fiber.App {
	t.Helper()
	reg := registry.New(nil)

	withBatch := upstreamProvider("helius", "https://rpc.helius.test", 10)
	withBatch.CostPerCall = 0.00015
	withBatch.BatchCost = &config.BatchCostConfig{Calls: 1000, Price: 0.08}
	require.NoError(t, reg.Register(withBatch))

	// No batch offer, must not appear in /batch-pricing
	require.NoError(t, reg.Register(upstreamProvider("triton", "https://rpc.triton.test", 8)))

	app := fiber.New()
	NewPricingHandler(reg).RegisterRoutes(app)
	return app
}

func TestBatchPricing(t *testing.T) {
	app := newPricingApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/batch-pricing?chain=solana", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := readJSON(t, resp)
	assert.Equal(t, "solana", body["chain"])
	assert.Equal(t, "USDC", body["currency"])

	offers := body["offers"].([]any)
	require.Len(t, offers, 1)
	offer := offers[0].(map[string]any)
	assert.Equal(t, "helius", offer["providerId"])
	assert.Equal(t, float64(1000), offer["calls"])
	assert.Equal(t, 0.08, offer["price_usd"])
	assert.InDelta(t, 0.00008, offer["perCall_usd"], 1e-9)
	assert.Equal(t, 0.00015, offer["singleCall_usd"])
}

func TestBatchPricing_EmptyChain(t *testing.T) {
	app := newPricingApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/batch-pricing?chain=ethereum", nil))
	require.NoError(t, err)

	body := readJSON(t, resp)
	assert.Empty(t, body["offers"])
}

func TestRPCMethods(t *testing.T) {
	app := newPricingApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/rpc-methods", nil))
	require.NoError(t, err)

	body := readJSON(t, resp)
	assert.Equal(t, "solana", body["chain"])
	assert.Equal(t, "*", body["paid"])
	assert.Contains(t, body["free"], "getSlot")
}

func TestRPCMethods_EVMFamily(t *testing.T) {
	app := newPricingApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/rpc-methods?chain=base", nil))
	require.NoError(t, err)

	body := readJSON(t, resp)
	assert.Contains(t, body["free"], "eth_blockNumber")
	assert.NotContains(t, body["free"], "getSlot")
}
