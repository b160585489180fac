// Package facilitator abstracts payment verification and settlement over
// several backends: three remote HTTP facilitators with differing protocol
// quirks and one in-process self-hosted signer. The Manager orchestrates
// primary/fallback selection across them.
package facilitator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"tollgate/internal/x402"
)

// Type identifies a facilitator backend.
type Type string

const (
	TypeSelfHosted Type = "self-hosted"
	TypeCodeNut    Type = "codenut"
	TypeCorbits    Type = "corbits"
	TypePayAI      Type = "payai"
	TypeAuto       Type = "auto"
)

// ValidType reports whether t names a concrete adapter.
func ValidType(t Type) bool {
	switch t {
	case TypeSelfHosted, TypeCodeNut, TypeCorbits, TypePayAI:
		return true
	}
	return false
}

// VerifyResult is the structured outcome of a verification attempt. Adapters
// never panic or return Go errors across this boundary; failures are carried
// in the result.
type VerifyResult struct {
	Valid bool   `json:"valid"`
	Payer string `json:"payer,omitempty"`
	Error string `json:"error,omitempty"`

	// Facilitator names the adapter that produced the result.
	Facilitator string `json:"facilitator,omitempty"`

	// Retriable marks transport-level failures worth retrying elsewhere.
	Retriable bool `json:"-"`
}

// SettleResult is the structured outcome of a settlement attempt.
type SettleResult struct {
	Settled     bool   `json:"settled"`
	TxHash      string `json:"txHash,omitempty"`
	Payer       string `json:"payer,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`

	Facilitator string `json:"facilitator,omitempty"`
	Retriable   bool   `json:"-"`
}

// Facilitator is the uniform verify/settle contract over one backend.
type Facilitator interface {
	Name() string
	Type() Type
	Available() bool
	Verify(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirement) VerifyResult
	Settle(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirement) SettleResult
}

// ErrMissingPayTo is returned when a requirement lacks the receiving address.
var ErrMissingPayTo = errors.New("paymentRequirements.payTo is required")

// Defaults filled into requirements missing optional metadata.
const (
	defaultMimeType    = "application/json"
	defaultTimeoutSecs = 60
	defaultDescription = "RPC access"
)

// normalizeRequirements applies the wire rules shared by every remote
// adapter: amount stays a decimal string, asset stays a bare string, payTo is
// mandatory, and missing metadata gets safe defaults.
func normalizeRequirements(reqs x402.PaymentRequirement) (x402.PaymentRequirement, error) {
	if reqs.PayTo == "" {
		return reqs, ErrMissingPayTo
	}
	if reqs.Scheme == "" {
		reqs.Scheme = "exact"
	}
	if reqs.MimeType == "" {
		reqs.MimeType = defaultMimeType
	}
	if reqs.MaxTimeoutSeconds <= 0 {
		reqs.MaxTimeoutSeconds = defaultTimeoutSecs
	}
	if reqs.Description == "" {
		reqs.Description = defaultDescription
	}
	return reqs, nil
}

// classifyTransportError maps network failures to a retriable result error.
func classifyTransportError(name string, err error) (string, bool) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("facilitator timeout: %s", name), true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("facilitator timeout: %s", name), true
	}
	return fmt.Sprintf("facilitator unreachable: %s", name), true
}

// classifyHTTPStatus maps a non-2xx facilitator response to an error message
// and retriability. 4xx failures carry the backend's reason verbatim and are
// final; 5xx are retriable on the next attempt.
func classifyHTTPStatus(status int, reason string) (string, bool) {
	if status >= 500 {
		if reason == "" {
			reason = fmt.Sprintf("facilitator returned status %d", status)
		}
		return reason, true
	}
	if reason == "" {
		reason = fmt.Sprintf("facilitator rejected request with status %d", status)
	}
	return reason, false
}

// is2xx reports whether an HTTP status is a success.
func is2xx(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}

// isSolanaNetwork reports whether a network id belongs to the Solana family.
func isSolanaNetwork(network string) bool {
	return strings.HasPrefix(network, "solana")
}
