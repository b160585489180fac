package facilitator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"

	"tollgate/internal/x402"
)

const corbitsTimeout = 30 * time.Second

// Corbits talks to a Corbits-style facilitator. The backend exposes no
// /verify endpoint: /settle verifies and broadcasts in one shot, taking
// {x402Version, paymentHeader, paymentRequirements} where paymentHeader is
// base64(JSON(paymentPayload)).
//
// Verify is therefore optimistic: the adapter deserializes the payment
// transaction locally, extracts the fee payer as the payer, and accepts any
// structurally sound payload. The authoritative check happens at settle.
type Corbits struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// NewCorbits creates the adapter against the given base URL.
func NewCorbits(baseURL string) *Corbits {
	return &Corbits{
		baseURL: baseURL,
		client:  &http.Client{},
		timeout: corbitsTimeout,
	}
}

func (c *Corbits) Name() string { return "corbits" }

func (c *Corbits) Type() Type { return TypeCorbits }

// Available reports whether the adapter is configured.
func (c *Corbits) Available() bool { return c.baseURL != "" }

// Verify implements Facilitator with the optimistic local check.
func (c *Corbits) Verify(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirement) VerifyResult {
	if _, err := normalizeRequirements(reqs); err != nil {
		return VerifyResult{Error: err.Error(), Facilitator: c.Name()}
	}

	payer, err := extractPayer(payload)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("malformed payment payload: %v", err), Facilitator: c.Name()}
	}
	return VerifyResult{Valid: true, Payer: payer, Facilitator: c.Name()}
}

type corbitsSettleRequest struct {
	X402Version         int    `json:"x402Version"`
	PaymentHeader       string `json:"paymentHeader"`
	PaymentRequirements any    `json:"paymentRequirements"`
}

type corbitsSettleResponse struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Payer       string `json:"payer,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Settle implements Facilitator; this is the authoritative check.
func (c *Corbits) Settle(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirement) SettleResult {
	normalized, err := normalizeRequirements(reqs)
	if err != nil {
		return SettleResult{Error: err.Error(), Facilitator: c.Name()}
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return SettleResult{Error: fmt.Sprintf("failed to encode payment payload: %v", err), Facilitator: c.Name()}
	}

	body, err := json.Marshal(corbitsSettleRequest{
		X402Version:         1,
		PaymentHeader:       base64.StdEncoding.EncodeToString(payloadJSON),
		PaymentRequirements: normalized,
	})
	if err != nil {
		return SettleResult{Error: fmt.Sprintf("failed to marshal settle request: %v", err), Facilitator: c.Name()}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/settle", bytes.NewReader(body))
	if err != nil {
		return SettleResult{Error: fmt.Sprintf("failed to create settle request: %v", err), Facilitator: c.Name()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		msg, retriable := classifyTransportError(c.Name(), err)
		return SettleResult{Error: msg, Retriable: retriable, Facilitator: c.Name()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var out corbitsSettleResponse
	json.Unmarshal(raw, &out)

	if !is2xx(resp.StatusCode) {
		reason := out.ErrorReason
		if reason == "" {
			reason = out.Error
		}
		msg, retriable := classifyHTTPStatus(resp.StatusCode, reason)
		return SettleResult{Error: msg, ErrorReason: reason, Retriable: retriable, Facilitator: c.Name()}
	}
	if !out.Success {
		reason := out.ErrorReason
		if reason == "" {
			reason = out.Error
		}
		return SettleResult{Error: reason, ErrorReason: reason, Facilitator: c.Name()}
	}
	return SettleResult{Settled: true, TxHash: out.Transaction, Payer: out.Payer, Facilitator: c.Name()}
}

// extractPayer pulls the paying address out of a payment payload without
// contacting any backend. Solana payloads carry a base64 transaction whose
// fee payer is the payer; EVM payloads carry the authorization's from field.
func extractPayer(payload x402.PaymentPayload) (string, error) {
	if isSolanaNetwork(payload.Network) {
		txB64, ok := payload.Payload["transaction"].(string)
		if !ok || txB64 == "" {
			return "", fmt.Errorf("payload has no transaction")
		}
		tx, err := solana.TransactionFromBase64(txB64)
		if err != nil {
			return "", fmt.Errorf("failed to decode transaction: %w", err)
		}
		if len(tx.Message.AccountKeys) == 0 {
			return "", fmt.Errorf("transaction has no account keys")
		}
		// The fee payer is always the first account key.
		return tx.Message.AccountKeys[0].String(), nil
	}

	auth, ok := payload.Payload["authorization"].(map[string]any)
	if !ok {
		return "", fmt.Errorf("payload has no authorization")
	}
	from, _ := auth["from"].(string)
	if from == "" {
		return "", fmt.Errorf("authorization has no from address")
	}
	return from, nil
}
