package facilitator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"tollgate/internal/x402"
)

// ManagerConfig selects the primary and fallback adapters and carries the
// endpoints needed to build any adapter on demand.
type ManagerConfig struct {
	// PrimaryType is the configured facilitator, or TypeAuto to resolve from
	// what is available.
	PrimaryType    Type
	EnableFallback bool
	FallbackType   Type

	CodeNutURL string
	CorbitsURL string
	PayAIURL   string

	Signer SelfHostedConfig
}

// FeePayerProvider is implemented by adapters that co-sign transactions and
// therefore require clients to target a specific fee payer.
type FeePayerProvider interface {
	FeePayer(ctx context.Context, network string) string
}

// Manager routes verify/settle calls to the configured primary adapter with
// an optional fallback, and serves forced per-request selection. Adapters are
// singletons built once per type.
type Manager struct {
	cfg ManagerConfig

	primary  Facilitator
	fallback Facilitator

	mu       sync.Mutex
	adapters map[Type]Facilitator
}

// NewManager builds the adapter set and resolves auto selection. Auto prefers
// the self-hosted signer when a key is configured, falling back to CodeNut;
// without a key it runs CodeNut primary with PayAI fallback.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{cfg: cfg, adapters: make(map[Type]Facilitator)}

	primaryType := cfg.PrimaryType
	fallbackType := cfg.FallbackType

	if primaryType == TypeAuto || primaryType == "" {
		if m.adapter(TypeSelfHosted).Available() {
			primaryType = TypeSelfHosted
			if fallbackType == "" {
				fallbackType = TypeCodeNut
			}
		} else {
			primaryType = TypeCodeNut
			if fallbackType == "" {
				fallbackType = TypePayAI
			}
		}
	}

	m.primary = m.adapter(primaryType)
	if cfg.EnableFallback && fallbackType != "" && fallbackType != primaryType {
		m.fallback = m.adapter(fallbackType)
	}

	fields := []any{"primary", m.primary.Name(), "available", m.primary.Available()}
	if m.fallback != nil {
		fields = append(fields, "fallback", m.fallback.Name())
	}
	slog.Info("facilitator manager initialized", fields...)
	return m
}

// adapter returns the singleton for a type, building it on first use.
func (m *Manager) adapter(t Type) Facilitator {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.adapters[t]; ok {
		return f
	}

	var f Facilitator
	switch t {
	case TypeSelfHosted:
		f = NewSelfHosted(m.cfg.Signer)
	case TypeCodeNut:
		f = NewCodeNut(m.cfg.CodeNutURL)
	case TypeCorbits:
		f = NewCorbits(m.cfg.CorbitsURL)
	case TypePayAI:
		f = NewPayAI(m.cfg.PayAIURL)
	default:
		// Callers validate types first; an unknown type still gets a safe
		// always-unavailable adapter.
		f = unavailable{t}
	}
	m.adapters[t] = f
	return f
}

// Primary returns the resolved primary adapter.
func (m *Manager) Primary() Facilitator { return m.primary }

// Fallback returns the fallback adapter, or nil.
func (m *Manager) Fallback() Facilitator { return m.fallback }

// Info describes the active facilitator configuration for challenges and the
// inspection endpoint.
type Info struct {
	Primary   string `json:"primary"`
	Type      string `json:"type"`
	Fallback  string `json:"fallback,omitempty"`
	Available bool   `json:"available"`
}

// Info reports the resolved selection.
func (m *Manager) Info() Info {
	info := Info{
		Primary:   m.primary.Name(),
		Type:      string(m.primary.Type()),
		Available: m.primary.Available(),
	}
	if m.fallback != nil {
		info.Fallback = m.fallback.Name()
	}
	return info
}

// FeePayer returns the fee payer address the primary adapter requires for a
// network, or "" when the adapter broadcasts nothing itself.
func (m *Manager) FeePayer(ctx context.Context, network string) string {
	if fp, ok := m.primary.(FeePayerProvider); ok {
		return fp.FeePayer(ctx, network)
	}
	return ""
}

// Verify runs the primary adapter and retries on the fallback only when the
// failure is transport-level. A definitive rejection never falls back.
func (m *Manager) Verify(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirement) VerifyResult {
	res := m.primary.Verify(ctx, payload, reqs)
	if res.Valid || m.fallback == nil || !res.Retriable || !m.fallback.Available() {
		return res
	}

	slog.Warn("primary facilitator verify failed, trying fallback",
		"primary", m.primary.Name(), "fallback", m.fallback.Name(), "error", res.Error)
	return m.fallback.Verify(ctx, payload, reqs)
}

// Settle runs the primary adapter and retries on the fallback only when the
// failure is transport-level, so a payment is never double-settled after a
// definitive on-chain outcome.
func (m *Manager) Settle(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirement) SettleResult {
	res := m.primary.Settle(ctx, payload, reqs)
	if res.Settled || m.fallback == nil || !res.Retriable || !m.fallback.Available() {
		return res
	}

	slog.Warn("primary facilitator settle failed, trying fallback",
		"primary", m.primary.Name(), "fallback", m.fallback.Name(), "error", res.Error)
	return m.fallback.Settle(ctx, payload, reqs)
}

// ErrFacilitatorUnavailable marks a forced selection that cannot serve.
type ErrFacilitatorUnavailable struct {
	Type Type
}

func (e ErrFacilitatorUnavailable) Error() string {
	return fmt.Sprintf("facilitator %q is not available", e.Type)
}

// Forced returns the adapter for an explicit per-request selection. Forced
// requests never fall back to a different adapter.
func (m *Manager) Forced(t Type) (Facilitator, error) {
	if !ValidType(t) {
		return nil, fmt.Errorf("unknown facilitator type %q", t)
	}
	f := m.adapter(t)
	if !f.Available() {
		return nil, ErrFacilitatorUnavailable{Type: t}
	}
	return f, nil
}

// unavailable is the null adapter for unknown types.
type unavailable struct{ t Type }

func (u unavailable) Name() string    { return string(u.t) }
func (u unavailable) Type() Type      { return u.t }
func (u unavailable) Available() bool { return false }
func (u unavailable) Verify(context.Context, x402.PaymentPayload, x402.PaymentRequirement) VerifyResult {
	return VerifyResult{Error: fmt.Sprintf("unknown facilitator type %q", u.t)}
}
func (u unavailable) Settle(context.Context, x402.PaymentPayload, x402.PaymentRequirement) SettleResult {
	return SettleResult{Error: fmt.Sprintf("unknown facilitator type %q", u.t)}
}
