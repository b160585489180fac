package facilitator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"tollgate/internal/x402"
)

const payAITimeout = 25 * time.Second

// PayAI talks to a PayAI-style facilitator: POST /verify and POST /settle
// both take {x402Version, paymentHeader, paymentRequirements} where
// paymentHeader is base64(JSON(paymentPayload)). The backend co-signs Solana
// transactions with its own fee payer, so challenges routed here must carry
// extra.feePayer; clients build the transaction against that address.
type PayAI struct {
	baseURL string
	client  *http.Client
	timeout time.Duration

	mu        sync.Mutex
	feePayers map[string]string
}

// NewPayAI creates the adapter against the given base URL.
func NewPayAI(baseURL string) *PayAI {
	return &PayAI{
		baseURL:   baseURL,
		client:    &http.Client{},
		timeout:   payAITimeout,
		feePayers: make(map[string]string),
	}
}

func (p *PayAI) Name() string { return "payai" }

func (p *PayAI) Type() Type { return TypePayAI }

// Available reports whether the adapter is configured.
func (p *PayAI) Available() bool { return p.baseURL != "" }

type payAIRequest struct {
	X402Version         int    `json:"x402Version"`
	PaymentHeader       string `json:"paymentHeader"`
	PaymentRequirements any    `json:"paymentRequirements"`
}

type payAIVerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	Payer         string `json:"payer,omitempty"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Error         string `json:"error,omitempty"`
}

type payAISettleResponse struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Payer       string `json:"payer,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Verify implements Facilitator.
func (p *PayAI) Verify(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirement) VerifyResult {
	body, err := p.encodeRequest(payload, reqs)
	if err != nil {
		return VerifyResult{Error: err.Error(), Facilitator: p.Name()}
	}

	var out payAIVerifyResponse
	status, err := p.post(ctx, "/verify", body, &out)
	if err != nil {
		msg, retriable := classifyTransportError(p.Name(), err)
		return VerifyResult{Error: msg, Retriable: retriable, Facilitator: p.Name()}
	}
	if !is2xx(status) {
		reason := out.InvalidReason
		if reason == "" {
			reason = out.Error
		}
		msg, retriable := classifyHTTPStatus(status, reason)
		return VerifyResult{Error: msg, Retriable: retriable, Facilitator: p.Name()}
	}
	if !out.IsValid {
		reason := out.InvalidReason
		if reason == "" {
			reason = out.Error
		}
		return VerifyResult{Error: reason, Facilitator: p.Name()}
	}
	return VerifyResult{Valid: true, Payer: out.Payer, Facilitator: p.Name()}
}

// Settle implements Facilitator.
func (p *PayAI) Settle(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirement) SettleResult {
	body, err := p.encodeRequest(payload, reqs)
	if err != nil {
		return SettleResult{Error: err.Error(), Facilitator: p.Name()}
	}

	var out payAISettleResponse
	status, err := p.post(ctx, "/settle", body, &out)
	if err != nil {
		msg, retriable := classifyTransportError(p.Name(), err)
		return SettleResult{Error: msg, Retriable: retriable, Facilitator: p.Name()}
	}
	if !is2xx(status) {
		reason := out.ErrorReason
		if reason == "" {
			reason = out.Error
		}
		msg, retriable := classifyHTTPStatus(status, reason)
		return SettleResult{Error: msg, ErrorReason: reason, Retriable: retriable, Facilitator: p.Name()}
	}
	if !out.Success {
		reason := out.ErrorReason
		if reason == "" {
			reason = out.Error
		}
		return SettleResult{Error: reason, ErrorReason: reason, Facilitator: p.Name()}
	}
	return SettleResult{Settled: true, TxHash: out.Transaction, Payer: out.Payer, Facilitator: p.Name()}
}

// FeePayer returns the facilitator's fee payer address for a network, fetched
// from GET /supported and cached for the process lifetime. Returns "" when
// the backend does not advertise one.
func (p *PayAI) FeePayer(ctx context.Context, network string) string {
	p.mu.Lock()
	cached, ok := p.feePayers[network]
	p.mu.Unlock()
	if ok {
		return cached
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/supported", nil)
	if err != nil {
		return ""
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var out struct {
		Kinds []SupportedKind `json:"kinds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ""
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, kind := range out.Kinds {
		fp, _ := kind.Extra["feePayer"].(string)
		if fp != "" {
			p.feePayers[kind.Network] = fp
		}
	}
	return p.feePayers[network]
}

func (p *PayAI) encodeRequest(payload x402.PaymentPayload, reqs x402.PaymentRequirement) ([]byte, error) {
	normalized, err := normalizeRequirements(reqs)
	if err != nil {
		return nil, err
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment payload: %w", err)
	}
	return json.Marshal(payAIRequest{
		X402Version:         1,
		PaymentHeader:       base64.StdEncoding.EncodeToString(payloadJSON),
		PaymentRequirements: normalized,
	})
}

func (p *PayAI) post(ctx context.Context, path string, body []byte, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil && is2xx(resp.StatusCode) {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
