package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tollgate/internal/facilitator"
	"tollgate/internal/registry"
)

func newHealthApp(t *testing.T, reg *registry.Registry, facilitatorURL string) *fiber.App {
	t.Helper()
	mgr := facilitator.NewManager(facilitator.ManagerConfig{
		PrimaryType: facilitator.TypeCodeNut,
		CodeNutURL:  facilitatorURL,
	})
	app := fiber.New()
	NewHealthHandler(reg, mgr).RegisterRoutes(app)
	return app
}

func TestHealth_Healthy(t *testing.T) {
	reg := registry.New(nil)
	require.NoError(t, reg.Register(upstreamProvider("helius", "https://rpc.helius.test", 10)))
	app := newHealthApp(t, reg, "https://facilitator.codenut.test")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := readJSON(t, resp)
	assert.Equal(t, "healthy", body["status"])

	services := body["services"].(map[string]any)
	assert.Equal(t, "up", services["providers"])
	assert.Equal(t, "up", services["facilitator"])
	assert.Equal(t, "up", services["api"])

	providers := body["providers"].(map[string]any)
	assert.Equal(t, float64(1), providers["active"])
}

func TestHealth_DegradedWithoutProviders(t *testing.T) {
	app := newHealthApp(t, registry.New(nil), "https://facilitator.codenut.test")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)

	body := readJSON(t, resp)
	assert.Equal(t, "degraded", body["status"])
	services := body["services"].(map[string]any)
	assert.Equal(t, "down", services["providers"])
}

func TestHealth_DegradedWithoutFacilitator(t *testing.T) {
	reg := registry.New(nil)
	require.NoError(t, reg.Register(upstreamProvider("helius", "https://rpc.helius.test", 10)))
	app := newHealthApp(t, reg, "")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)

	body := readJSON(t, resp)
	assert.Equal(t, "degraded", body["status"])
	services := body["services"].(map[string]any)
	assert.Equal(t, "unavailable", services["facilitator"])
}

func TestLiveness(t *testing.T) {
	app := newHealthApp(t, registry.New(nil), "https://facilitator.codenut.test")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestReadiness(t *testing.T) {
	reg := registry.New(nil)
	require.NoError(t, reg.Register(upstreamProvider("helius", "https://rpc.helius.test", 10)))
	app := newHealthApp(t, reg, "https://facilitator.codenut.test")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestReadiness_NoProviders(t *testing.T) {
	app := newHealthApp(t, registry.New(nil), "https://facilitator.codenut.test")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	body := readJSON(t, resp)
	assert.Equal(t, "not_ready", body["status"])
	assert.Equal(t, "no_provider_available", body["reason"])
}

func TestFacilitatorInfoEndpoint(t *testing.T) {
	mgr := facilitator.NewManager(facilitator.ManagerConfig{
		PrimaryType:    facilitator.TypeCodeNut,
		EnableFallback: true,
		FallbackType:   facilitator.TypePayAI,
		CodeNutURL:     "https://facilitator.codenut.test",
		PayAIURL:       "https://facilitator.payai.test",
	})
	app := fiber.New()
	NewFacilitatorHandler(mgr).RegisterRoutes(app)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/facilitator", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := readJSON(t, resp)
	assert.Equal(t, "codenut", body["primary"])
	assert.Equal(t, "payai", body["fallback"])
	assert.Equal(t, true, body["available"])
}
