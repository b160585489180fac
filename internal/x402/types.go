// Package x402 defines the wire types of the x402 payment protocol as used
// by the gateway: 402 challenges, client payment submissions, and receipts.
package x402

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Version is the x402 protocol version the gateway speaks.
const Version = 1

// PaymentRequirement is a single payment option inside a 402 challenge.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier (always "exact" here).
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier (e.g. "solana", "base").
	Network string `json:"network"`

	// MaxAmountRequired is the amount in atomic units of Asset, as a decimal string.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Asset is the token symbol or mint/contract address, always a bare string.
	Asset string `json:"asset"`

	// PayTo is the receiving address.
	PayTo string `json:"payTo"`

	// Resource is the absolute URL of the protected endpoint.
	Resource string `json:"resource"`

	Description       string `json:"description"`
	MimeType          string `json:"mimeType"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`

	// OutputSchema optionally describes the response shape.
	OutputSchema map[string]any `json:"outputSchema,omitempty"`

	// Extra carries gateway-specific metadata (provider, nonce, facilitator).
	Extra *ChallengeExtra `json:"extra,omitempty"`
}

// ChallengeExtra is the gateway-specific portion of a challenge.
type ChallengeExtra struct {
	Provider    string          `json:"provider"`
	ProviderID  string          `json:"providerId"`
	Nonce       string          `json:"nonce"`
	Facilitator FacilitatorInfo `json:"facilitator"`
	BatchOption *BatchOption    `json:"batchOption,omitempty"`

	// FeePayer is required by facilitators that co-sign Solana transactions.
	FeePayer string `json:"feePayer,omitempty"`
}

// FacilitatorInfo names the facilitator pair that will process the payment.
type FacilitatorInfo struct {
	Primary  string `json:"primary"`
	Type     string `json:"type"`
	Fallback string `json:"fallback,omitempty"`
}

// BatchOption advertises a pre-paid bundle for the selected provider.
type BatchOption struct {
	Calls   int     `json:"calls"`
	Price   float64 `json:"price"`
	Savings string  `json:"savings"`
}

// PaymentChallenge is the body of a 402 response.
type PaymentChallenge struct {
	X402Version int                  `json:"x402Version"`
	Error       string               `json:"error,omitempty"`
	Accepts     []PaymentRequirement `json:"accepts"`
}

// PaymentPayload is the client-signed payment inside a submission. The
// Payload field is facilitator-specific: an EVM authorization object or a
// base64 partially signed Solana transaction.
type PaymentPayload struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Payload     map[string]any `json:"payload"`
}

// PaymentSubmission is the JSON carried in the x402-payment request header.
type PaymentSubmission struct {
	PaymentPayload      PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements PaymentRequirement `json:"paymentRequirements"`
	BatchPurchase       bool               `json:"batchPurchase,omitempty"`
}

// BatchSpend is the JSON carried in the x402-batch request header.
type BatchSpend struct {
	BatchID string `json:"batchId"`
}

// PaymentInfo is the settlement proof attached to a receipt.
type PaymentInfo struct {
	Chain     string  `json:"chain"`
	TxHash    string  `json:"txHash"`
	Amount    float64 `json:"amount"`
	Payer     string  `json:"payer,omitempty"`
	Timestamp int64   `json:"timestamp"`
	Explorer  string  `json:"explorer,omitempty"`
	Provider  string  `json:"provider,omitempty"`
}

// Receipt is the x402 sub-object attached to every paid RPC response.
type Receipt struct {
	Provider    string      `json:"provider"`
	Cost        float64     `json:"cost"`
	Status      string      `json:"status"`
	PaymentInfo PaymentInfo `json:"paymentInfo"`
	Note        string      `json:"note,omitempty"`
}

// Receipt statuses.
const (
	StatusSettled = "settled"
	StatusFailed  = "failed"
)

// NewNonce returns a challenge nonce of the form "<unix-ms>-<random>".
// Uniqueness is enforced by facilitators, not the gateway.
func NewNonce() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}

// ExplorerURL returns a block-explorer link for a settled transaction.
func ExplorerURL(chain, txHash string) string {
	if txHash == "" {
		return ""
	}
	switch chain {
	case "solana", "solana-devnet":
		return "https://orb.helius.dev/tx/" + txHash
	case "base":
		return "https://basescan.org/tx/" + txHash
	case "base-sepolia":
		return "https://sepolia.basescan.org/tx/" + txHash
	case "ethereum":
		return "https://etherscan.io/tx/" + txHash
	default:
		return ""
	}
}
