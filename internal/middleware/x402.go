package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v3"

	"tollgate/internal/batch"
	"tollgate/internal/facilitator"
	"tollgate/internal/oracle"
	"tollgate/internal/registry"
	"tollgate/internal/router"
	"tollgate/internal/usdc"
	"tollgate/internal/x402"
)

// Header names of the x402 payment protocol.
const (
	PaymentHeader = "x402-payment"
	BatchHeader   = "x402-batch"
)

// Locals keys set by the middleware for the downstream forwarder.
const (
	RPCRequestKey = "rpc_request"
	PaymentKey    = "payment"
)

// RPCRequest is the body of POST /rpc.
type RPCRequest struct {
	Method      string              `json:"method"`
	Params      []any               `json:"params"`
	Chain       string              `json:"chain"`
	Preferences *router.Preferences `json:"preferences,omitempty"`

	// Facilitator forces a specific facilitator type for this call.
	Facilitator string `json:"facilitator,omitempty"`
}

// PaymentContext is what the middleware hands the upstream forwarder after a
// successful payment (or batch debit).
type PaymentContext struct {
	Valid       bool
	Chain       string
	Facilitator string
	TxHash      string
	Payer       string
	BatchID     string
	Cost        float64

	Provider  *registry.Provider
	Fallbacks []*registry.Provider
}

// X402 is the payment gate in front of POST /rpc. It resolves the provider,
// honors pre-paid batches, and drives facilitator verify/settle for everything
// else.
type X402 struct {
	router  *router.Router
	ledger  *batch.Ledger
	manager *facilitator.Manager
	prices  oracle.PriceSource

	walletAddress string
	publicURL     string

	// asset is the token challenges are denominated in.
	asset string
}

// NewX402 creates the payment middleware.
func NewX402(rt *router.Router, ledger *batch.Ledger, mgr *facilitator.Manager, prices oracle.PriceSource, walletAddress, publicURL string) *X402 {
	return &X402{
		router:        rt,
		ledger:        ledger,
		manager:       mgr,
		prices:        prices,
		walletAddress: walletAddress,
		publicURL:     publicURL,
		asset:         "USDC",
	}
}

// Middleware returns the fiber handler implementing the payment pipeline.
func (m *X402) Middleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		var req RPCRequest
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid request body",
			})
		}
		if req.Method == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "method is required",
			})
		}
		if req.Chain == "" {
			req.Chain = "solana"
		}
		if req.Params == nil {
			req.Params = []any{}
		}
		c.Locals(RPCRequestKey, &req)

		var prefs router.Preferences
		if req.Preferences != nil {
			prefs = *req.Preferences
		}
		provider, fallbacks, err := m.router.SelectWithFallback(req.Chain, prefs)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		// No receiving wallet means payments cannot be demanded; let the call
		// through unpaid. Production config rejects this at startup.
		if m.walletAddress == "" {
			c.Locals(PaymentKey, &PaymentContext{
				Valid: true, Chain: req.Chain, Facilitator: "none",
				Provider: provider, Fallbacks: fallbacks,
			})
			return c.Next()
		}

		if batchHeader := c.Get(BatchHeader); batchHeader != "" {
			return m.spendBatch(c, &req, provider, fallbacks, batchHeader)
		}

		paymentHeader := c.Get(PaymentHeader)
		if paymentHeader == "" {
			return m.challenge(c, provider, req.Chain, "")
		}
		return m.verifyAndSettle(c, &req, provider, fallbacks, paymentHeader)
	}
}

// spendBatch handles the x402-batch fast path: one atomic debit, no
// facilitator round-trip.
func (m *X402) spendBatch(c fiber.Ctx, req *RPCRequest, provider *registry.Provider, fallbacks []*registry.Provider, header string) error {
	var spend x402.BatchSpend
	if err := json.Unmarshal([]byte(header), &spend); err != nil || spend.BatchID == "" {
		return m.challenge(c, provider, req.Chain, "invalid x402-batch header")
	}

	ok, remaining, _ := m.ledger.TryDebit(spend.BatchID)
	if !ok {
		return m.challenge(c, provider, req.Chain, "Batch expired or depleted")
	}

	slog.Debug("batch call debited", "batch_id", spend.BatchID, "remaining", remaining)
	c.Locals(PaymentKey, &PaymentContext{
		Valid:       true,
		Chain:       req.Chain,
		Facilitator: "batch",
		BatchID:     spend.BatchID,
		Provider:    provider,
		Fallbacks:   fallbacks,
	})
	return c.Next()
}

// verifyAndSettle handles the x402-payment path, including batch purchases.
func (m *X402) verifyAndSettle(c fiber.Ctx, req *RPCRequest, provider *registry.Provider, fallbacks []*registry.Provider, header string) error {
	var sub x402.PaymentSubmission
	if err := json.Unmarshal([]byte(header), &sub); err != nil {
		return m.challenge(c, provider, req.Chain, "invalid x402-payment header")
	}

	amount := provider.CostPerCall
	if sub.BatchPurchase && provider.BatchCost != nil {
		amount = provider.BatchCost.Price
	}

	reqs, err := m.requirements(c, provider, req.Chain, amount)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	verify := func() facilitator.VerifyResult {
		return m.manager.Verify(c.Context(), sub.PaymentPayload, reqs)
	}
	settle := func() facilitator.SettleResult {
		return m.manager.Settle(c.Context(), sub.PaymentPayload, reqs)
	}

	// A client-forced facilitator is honored exactly, with no fallback.
	if req.Facilitator != "" {
		forced, ferr := m.manager.Forced(facilitator.Type(req.Facilitator))
		if ferr != nil {
			body := m.challengeBody(c, provider, req.Chain, "Payment verification failed")
			body["details"] = ferr.Error()
			body["facilitator"] = fmt.Sprintf("%s (unavailable)", req.Facilitator)
			return c.Status(fiber.StatusPaymentRequired).JSON(body)
		}
		verify = func() facilitator.VerifyResult {
			return forced.Verify(c.Context(), sub.PaymentPayload, reqs)
		}
		settle = func() facilitator.SettleResult {
			return forced.Settle(c.Context(), sub.PaymentPayload, reqs)
		}
	}

	vres := verify()
	if !vres.Valid {
		body := m.challengeBody(c, provider, req.Chain, "Payment verification failed")
		body["details"] = vres.Error
		body["facilitator"] = vres.Facilitator
		return c.Status(fiber.StatusPaymentRequired).JSON(body)
	}

	sres := settle()
	if !sres.Settled {
		body := m.challengeBody(c, provider, req.Chain, "Payment settlement failed")
		body["details"] = sres.Error
		body["facilitator"] = sres.Facilitator
		return c.Status(fiber.StatusPaymentRequired).JSON(body)
	}

	payer := sres.Payer
	if payer == "" {
		payer = vres.Payer
	}

	if sub.BatchPurchase && provider.BatchCost != nil {
		b := m.ledger.Issue(provider.ID, req.Chain, provider.BatchCost.Calls, provider.BatchCost.Price)
		return c.JSON(fiber.Map{
			"success": true,
			"batch":   b,
			"txHash":  sres.TxHash,
		})
	}

	// The receipt reports what was charged on the wire, which can differ
	// from the configured float cost by sub-micro rounding.
	cost := amount
	if usd, cerr := usdc.BaseUnitsToUSD(reqs.MaxAmountRequired, reqs.Asset, 1); cerr == nil {
		cost = usd
	}

	c.Locals(PaymentKey, &PaymentContext{
		Valid:       true,
		Chain:       req.Chain,
		Facilitator: sres.Facilitator,
		TxHash:      sres.TxHash,
		Payer:       payer,
		Cost:        cost,
		Provider:    provider,
		Fallbacks:   fallbacks,
	})
	return c.Next()
}

// challenge emits a 402 with a fresh, replayable challenge.
func (m *X402) challenge(c fiber.Ctx, provider *registry.Provider, chain, errMsg string) error {
	return c.Status(fiber.StatusPaymentRequired).JSON(m.challengeBody(c, provider, chain, errMsg))
}

// challengeBody builds the 402 body as a map so callers can attach details.
func (m *X402) challengeBody(c fiber.Ctx, provider *registry.Provider, chain, errMsg string) fiber.Map {
	reqs, err := m.requirements(c, provider, chain, provider.CostPerCall)
	if err != nil {
		// Pricing failure still yields a replayable challenge; the amount
		// falls back to the per-call cost in on-chain USDC units.
		slog.Warn("challenge pricing failed, using micro-USDC fallback", "error", err)
		reqs.MaxAmountRequired = usdc.FromFloat(provider.CostPerCall).ToBigInt(chain).String()
		reqs.Asset = m.asset
		reqs.Scheme = "exact"
		reqs.Network = chain
		reqs.PayTo = m.walletAddress
	}

	body := fiber.Map{
		"x402Version": x402.Version,
		"accepts":     []x402.PaymentRequirement{reqs},
	}
	if errMsg != "" {
		body["error"] = errMsg
	}
	return body
}

// requirements builds the single accepted payment requirement for a call.
func (m *X402) requirements(c fiber.Ctx, provider *registry.Provider, chain string, amountUSD float64) (x402.PaymentRequirement, error) {
	price, _, err := m.prices.USDPrice(c.Context(), m.asset)
	if err != nil {
		return x402.PaymentRequirement{}, fmt.Errorf("failed to price challenge: %w", err)
	}
	baseUnits, err := usdc.USDToBaseUnits(amountUSD, m.asset, price)
	if err != nil {
		return x402.PaymentRequirement{}, err
	}

	info := m.manager.Info()
	extra := &x402.ChallengeExtra{
		Provider:   provider.Name,
		ProviderID: provider.ID,
		Nonce:      x402.NewNonce(),
		Facilitator: x402.FacilitatorInfo{
			Primary:  info.Primary,
			Type:     info.Type,
			Fallback: info.Fallback,
		},
		FeePayer: m.manager.FeePayer(c.Context(), chain),
	}
	if provider.BatchCost != nil {
		extra.BatchOption = &x402.BatchOption{
			Calls:   provider.BatchCost.Calls,
			Price:   provider.BatchCost.Price,
			Savings: batchSavings(provider.CostPerCall, provider.BatchCost.Calls, provider.BatchCost.Price),
		}
	}

	resource := m.publicURL
	if resource == "" {
		resource = c.BaseURL()
	}
	resource = strings.TrimSuffix(resource, "/") + c.Path()

	return x402.PaymentRequirement{
		Scheme:            "exact",
		Network:           chain,
		MaxAmountRequired: baseUnits,
		Asset:             m.asset,
		PayTo:             m.walletAddress,
		Resource:          resource,
		Description:       fmt.Sprintf("RPC access via %s", provider.Name),
		MimeType:          "application/json",
		MaxTimeoutSeconds: 60,
		Extra:             extra,
	}, nil
}

// batchSavings renders the discount of a batch over per-call pricing.
func batchSavings(perCall float64, calls int, batchPrice float64) string {
	full := perCall * float64(calls)
	if full <= 0 {
		return "0%"
	}
	return fmt.Sprintf("%.0f%%", (1-batchPrice/full)*100)
}

// GetPayment retrieves the payment context set by the middleware.
func GetPayment(c fiber.Ctx) *PaymentContext {
	if p, ok := c.Locals(PaymentKey).(*PaymentContext); ok {
		return p
	}
	return nil
}

// GetRPCRequest retrieves the parsed RPC request set by the middleware.
func GetRPCRequest(c fiber.Ctx) *RPCRequest {
	if r, ok := c.Locals(RPCRequestKey).(*RPCRequest); ok {
		return r
	}
	return nil
}
