package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"tollgate/internal/x402"
)

// codeNutTimeout is the default deadline for CodeNut calls; settlement gets
// the same budget since the backend broadcasts synchronously.
const codeNutTimeout = 20 * time.Second

// CodeNut talks to a CodeNut-style facilitator: separate POST /verify and
// POST /settle endpoints taking {paymentPayload, paymentRequirements}, plus
// GET /supported for capability discovery.
type CodeNut struct {
	baseURL string
	client  *http.Client

	verifyTimeout time.Duration
	settleTimeout time.Duration
}

// NewCodeNut creates the adapter against the given base URL.
func NewCodeNut(baseURL string) *CodeNut {
	return &CodeNut{
		baseURL:       baseURL,
		client:        &http.Client{},
		verifyTimeout: codeNutTimeout,
		settleTimeout: codeNutTimeout,
	}
}

func (c *CodeNut) Name() string { return "codenut" }

func (c *CodeNut) Type() Type { return TypeCodeNut }

// Available reports whether the adapter is configured.
func (c *CodeNut) Available() bool { return c.baseURL != "" }

type codeNutRequest struct {
	X402Version         int `json:"x402Version"`
	PaymentPayload      any `json:"paymentPayload"`
	PaymentRequirements any `json:"paymentRequirements"`
}

type codeNutVerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	Payer         string `json:"payer"`
	InvalidReason string `json:"invalidReason,omitempty"`
}

type codeNutSettleResponse struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Payer       string `json:"payer,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// Verify implements Facilitator.
func (c *CodeNut) Verify(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirement) VerifyResult {
	normalized, err := normalizeRequirements(reqs)
	if err != nil {
		return VerifyResult{Error: err.Error(), Facilitator: c.Name()}
	}

	var out codeNutVerifyResponse
	status, err := c.post(ctx, c.verifyTimeout, "/verify", codeNutRequest{
		X402Version:         1,
		PaymentPayload:      payload,
		PaymentRequirements: normalized,
	}, &out)
	if err != nil {
		msg, retriable := classifyTransportError(c.Name(), err)
		return VerifyResult{Error: msg, Retriable: retriable, Facilitator: c.Name()}
	}
	if !is2xx(status) {
		msg, retriable := classifyHTTPStatus(status, out.InvalidReason)
		return VerifyResult{Error: msg, Retriable: retriable, Facilitator: c.Name()}
	}
	if !out.IsValid {
		return VerifyResult{Error: out.InvalidReason, Facilitator: c.Name()}
	}
	return VerifyResult{Valid: true, Payer: out.Payer, Facilitator: c.Name()}
}

// Settle implements Facilitator.
func (c *CodeNut) Settle(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirement) SettleResult {
	normalized, err := normalizeRequirements(reqs)
	if err != nil {
		return SettleResult{Error: err.Error(), Facilitator: c.Name()}
	}

	var out codeNutSettleResponse
	status, err := c.post(ctx, c.settleTimeout, "/settle", codeNutRequest{
		X402Version:         1,
		PaymentPayload:      payload,
		PaymentRequirements: normalized,
	}, &out)
	if err != nil {
		msg, retriable := classifyTransportError(c.Name(), err)
		return SettleResult{Error: msg, Retriable: retriable, Facilitator: c.Name()}
	}
	if !is2xx(status) {
		msg, retriable := classifyHTTPStatus(status, out.ErrorReason)
		return SettleResult{Error: msg, ErrorReason: out.ErrorReason, Retriable: retriable, Facilitator: c.Name()}
	}
	if !out.Success {
		return SettleResult{Error: out.ErrorReason, ErrorReason: out.ErrorReason, Facilitator: c.Name()}
	}
	return SettleResult{Settled: true, TxHash: out.Transaction, Payer: out.Payer, Facilitator: c.Name()}
}

// SupportedKind is one capability advertised by GET /supported.
type SupportedKind struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Supported queries the facilitator's capability list.
func (c *CodeNut) Supported(ctx context.Context) ([]SupportedKind, error) {
	ctx, cancel := context.WithTimeout(ctx, c.verifyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/supported", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supported request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("supported endpoint returned status %d", resp.StatusCode)
	}

	var out struct {
		Kinds []SupportedKind `json:"kinds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode supported response: %w", err)
	}
	return out.Kinds, nil
}

// post sends a JSON body and decodes the response into out regardless of
// status, so callers can surface backend reasons verbatim.
func (c *CodeNut) post(ctx context.Context, timeout time.Duration, path string, body, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if len(raw) > 0 {
		// Error bodies share the success shape; a decode failure on an
		// error status is not itself an error.
		if err := json.Unmarshal(raw, out); err != nil && is2xx(resp.StatusCode) {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
