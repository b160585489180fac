package cli

import (
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGateway = "http://gateway.test"

func TestAPIClient_Health(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", testGateway+"/health",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"status":  "healthy",
			"version": "1.0.0",
			"services": map[string]string{
				"api": "up", "providers": "up", "facilitator": "up",
			},
			"providers": map[string]any{
				"total": 4, "active": 3, "degraded": 1, "offline": 0,
				"chains": []string{"solana", "base"}, "averageLatency": 120.5,
			},
			"facilitator": map[string]any{
				"primary": "codenut", "type": "codenut", "available": true,
			},
		}))

	client := NewAPIClient(testGateway)
	health, err := client.Health()
	require.NoError(t, err)

	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 3, health.Providers.Active)
	assert.Equal(t, 120.5, health.Providers.AverageLatency)
	assert.Equal(t, "codenut", health.Facilitator.Primary)
}

func TestAPIClient_Facilitator(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", testGateway+"/facilitator",
		httpmock.NewJsonResponderOrPanic(200, FacilitatorInfo{
			Primary: "codenut", Type: "codenut", Fallback: "payai", Available: true,
		}))

	client := NewAPIClient(testGateway)
	info, err := client.Facilitator()
	require.NoError(t, err)
	assert.Equal(t, "payai", info.Fallback)
	assert.True(t, info.Available)
}

func TestAPIClient_Providers(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", testGateway+"/providers",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"providers": []map[string]any{
				{"id": "helius", "name": "Helius", "chains": []string{"solana"},
					"costPerCall": 0.00015, "priority": 10, "status": "active"},
			},
			"count": 1,
		}))

	client := NewAPIClient(testGateway)
	resp, err := client.Providers()
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Providers, 1)
	assert.Equal(t, "helius", resp.Providers[0].ID)
}

func TestAPIClient_BatchPricing(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", testGateway+"/batch-pricing",
		httpmock.NewJsonResponderOrPanic(200, BatchPricingResponse{
			Chain:    "solana",
			Currency: "USDC",
			Offers: []BatchOffer{
				{ProviderID: "helius", Provider: "Helius", Calls: 1000, Price: 0.08},
			},
		}))

	client := NewAPIClient(testGateway)
	pricing, err := client.BatchPricing("solana")
	require.NoError(t, err)
	assert.Equal(t, "USDC", pricing.Currency)
	require.Len(t, pricing.Offers, 1)
	assert.Equal(t, 1000, pricing.Offers[0].Calls)
}

func TestAPIClient_ErrorResponse(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", testGateway+"/providers",
		httpmock.NewJsonResponderOrPanic(404, ErrorResponse{Error: "provider not found"}))

	client := NewAPIClient(testGateway)
	_, err := client.Providers()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider not found")
}

func TestAPIClient_Unreachable(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	client := NewAPIClient(testGateway)
	_, err := client.Health()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway unreachable")
}

func TestNewAPIClient_TrimsTrailingSlash(t *testing.T) {
	client := NewAPIClient(testGateway + "/")
	assert.Equal(t, testGateway, client.baseURL)
}
