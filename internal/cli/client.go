// Package cli implements the tollgate operator commands against a running
// gateway's inspection endpoints.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultEndpoint is the gateway address used when --api is not given.
const DefaultEndpoint = "http://localhost:8080"

// APIClient handles communication with the gateway API
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// HealthResponse is the gateway's /health body.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services"`
	Providers struct {
		Total          int      `json:"total"`
		Active         int      `json:"active"`
		Degraded       int      `json:"degraded"`
		Offline        int      `json:"offline"`
		Chains         []string `json:"chains"`
		AverageLatency float64  `json:"averageLatency"`
	} `json:"providers"`
	Facilitator FacilitatorInfo `json:"facilitator"`
}

// FacilitatorInfo is the gateway's /facilitator body.
type FacilitatorInfo struct {
	Primary   string `json:"primary"`
	Type      string `json:"type"`
	Fallback  string `json:"fallback,omitempty"`
	Available bool   `json:"available"`
}

// Provider is one entry of the gateway's /providers body.
type Provider struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Chains         []string `json:"chains"`
	CostPerCall    float64  `json:"costPerCall"`
	Priority       int      `json:"priority"`
	Status         string   `json:"status"`
	AverageLatency float64  `json:"averageLatency"`
}

// ProvidersResponse is the gateway's /providers body.
type ProvidersResponse struct {
	Providers []Provider `json:"providers"`
	Count     int        `json:"count"`
}

// BatchOffer is one entry of the gateway's /batch-pricing body.
type BatchOffer struct {
	ProviderID  string  `json:"providerId"`
	Provider    string  `json:"provider"`
	Calls       int     `json:"calls"`
	Price       float64 `json:"price_usd"`
	PerCall     float64 `json:"perCall_usd"`
	SinglePrice float64 `json:"singleCall_usd"`
}

// BatchPricingResponse is the gateway's /batch-pricing body.
type BatchPricingResponse struct {
	Chain    string       `json:"chain"`
	Currency string       `json:"currency"`
	Offers   []BatchOffer `json:"offers"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// Health fetches /health.
func (c *APIClient) Health() (*HealthResponse, error) {
	var out HealthResponse
	if err := c.get("/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Facilitator fetches /facilitator.
func (c *APIClient) Facilitator() (*FacilitatorInfo, error) {
	var out FacilitatorInfo
	if err := c.get("/facilitator", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Providers fetches /providers.
func (c *APIClient) Providers() (*ProvidersResponse, error) {
	var out ProvidersResponse
	if err := c.get("/providers", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BatchPricing fetches /batch-pricing for a chain.
func (c *APIClient) BatchPricing(chain string) (*BatchPricingResponse, error) {
	var out BatchPricingResponse
	if err := c.get("/batch-pricing?chain="+chain, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// get performs a GET request with JSON unmarshaling and error mapping.
func (c *APIClient) get(path string, out any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("gateway error: %s", apiErr.Error)
		}
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}
