package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"

	"tollgate/internal/middleware"
	"tollgate/internal/registry"
	"tollgate/internal/router"
	"tollgate/internal/x402"
)

// defaultUpstreamTimeout bounds upstream calls for providers that declare no
// latency cap.
const defaultUpstreamTimeout = 10 * time.Second

// freeMethods is the read-only allowlist served without payment per chain
// family.
var freeMethods = map[string][]string{
	"solana": {
		"getSlot", "getBlockHeight", "getLatestBlockhash", "getBalance",
		"getAccountInfo", "getHealth", "getVersion", "getEpochInfo",
	},
	"evm": {
		"eth_blockNumber", "eth_chainId", "eth_gasPrice", "eth_getBalance",
		"eth_call", "eth_getBlockByNumber", "eth_getTransactionByHash",
		"net_version",
	},
}

// RPCHandler serves the paid RPC endpoint and the free read-only proxy.
type RPCHandler struct {
	router *router.Router
	x402mw *middleware.X402
	client *http.Client
}

// NewRPCHandler creates a new RPC handler.
func NewRPCHandler(rt *router.Router, x402mw *middleware.X402) *RPCHandler {
	return &RPCHandler{
		router: rt,
		x402mw: x402mw,
		client: &http.Client{},
	}
}

// RegisterRoutes registers the RPC routes. POST /rpc runs behind the payment
// middleware; the proxy route is free.
func (h *RPCHandler) RegisterRoutes(app *fiber.App) {
	app.Post("/rpc", h.x402mw.Middleware(), h.Call)
	app.Post("/chain-rpc-proxy", h.Proxy)
}

// jsonRPCBody is the upstream wire format.
type jsonRPCBody struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// upstreamResult is one upstream attempt's outcome.
type upstreamResult struct {
	result   json.RawMessage
	rpcError json.RawMessage
	provider *registry.Provider
	err      error
}

// Call forwards a paid RPC request upstream and attaches the payment receipt.
// @Summary Paid RPC call
// @Description Forwards a JSON-RPC call to the best upstream provider after x402 payment
// @Tags rpc
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Failure 402 {object} map[string]any
// @Router /rpc [post]
func (h *RPCHandler) Call(c fiber.Ctx) error {
	req := middleware.GetRPCRequest(c)
	payment := middleware.GetPayment(c)
	if req == nil || payment == nil || !payment.Valid {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "payment context missing",
		})
	}

	res := h.forward(c.Context(), payment.Provider, req.Method, req.Params)
	note := ""
	if res.err != nil && len(payment.Fallbacks) > 0 {
		slog.Warn("upstream failed, trying fallback provider",
			"provider", payment.Provider.ID, "fallback", payment.Fallbacks[0].ID, "error", res.err)
		res = h.forward(c.Context(), payment.Fallbacks[0], req.Method, req.Params)
		note = "fallback provider used"
	}

	receipt := h.receipt(payment, res.provider, note)
	if res.err != nil {
		// The payment already settled; the receipt records it so the caller
		// can audit even though the call produced no result.
		receipt.Note = "upstream failed"
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"jsonrpc": "2.0",
			"id":      1,
			"error": fiber.Map{
				"code":    -32603,
				"message": fmt.Sprintf("all upstream providers failed: %v", res.err),
			},
			"x402": receipt,
		})
	}

	body := fiber.Map{
		"jsonrpc": "2.0",
		"id":      1,
		"x402":    receipt,
	}
	if res.result != nil {
		body["result"] = res.result
	}
	if res.rpcError != nil {
		body["error"] = res.rpcError
	}
	return c.JSON(body)
}

// forward posts the JSON-RPC body to one provider under its soft deadline.
func (h *RPCHandler) forward(ctx context.Context, p *registry.Provider, method string, params []any) upstreamResult {
	timeout := defaultUpstreamTimeout
	if p.MaxLatencyMs > 0 {
		timeout = time.Duration(p.MaxLatencyMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(jsonRPCBody{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return upstreamResult{provider: p, err: fmt.Errorf("failed to marshal upstream request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(payload))
	if err != nil {
		return upstreamResult{provider: p, err: fmt.Errorf("failed to create upstream request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return upstreamResult{provider: p, err: fmt.Errorf("upstream %s unreachable: %w", p.ID, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return upstreamResult{provider: p, err: fmt.Errorf("upstream %s returned status %d", p.ID, resp.StatusCode)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return upstreamResult{provider: p, err: fmt.Errorf("failed to read upstream response: %w", err)}
	}

	var out struct {
		Result json.RawMessage `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return upstreamResult{provider: p, err: fmt.Errorf("upstream %s returned invalid JSON: %w", p.ID, err)}
	}
	return upstreamResult{result: out.Result, rpcError: out.Error, provider: p}
}

// receipt builds the x402 receipt for the response envelope.
func (h *RPCHandler) receipt(payment *middleware.PaymentContext, served *registry.Provider, note string) *x402.Receipt {
	if served == nil {
		served = payment.Provider
	}
	return &x402.Receipt{
		Provider: served.Name,
		Cost:     payment.Cost,
		Status:   x402.StatusSettled,
		Note:     note,
		PaymentInfo: x402.PaymentInfo{
			Chain:     payment.Chain,
			TxHash:    payment.TxHash,
			Amount:    payment.Cost,
			Payer:     payment.Payer,
			Timestamp: time.Now().Unix(),
			Explorer:  x402.ExplorerURL(payment.Chain, payment.TxHash),
			Provider:  served.Name,
		},
	}
}

// proxyRequest is the body of POST /chain-rpc-proxy.
type proxyRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
	Chain  string `json:"chain"`
}

// Proxy forwards allowlisted read-only methods without payment.
// @Summary Free read-only RPC proxy
// @Description Forwards a fixed allowlist of read methods to an upstream provider without payment
// @Tags rpc
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Router /chain-rpc-proxy [post]
func (h *RPCHandler) Proxy(c fiber.Ctx) error {
	var req proxyRequest
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

	if !isFreeMethod(req.Chain, req.Method) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("method %q is not in the free allowlist; use /rpc", req.Method),
		})
	}

	provider, fallbacks, err := h.router.SelectWithFallback(req.Chain, router.Preferences{})
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	res := h.forward(c.Context(), provider, req.Method, req.Params)
	if res.err != nil && len(fallbacks) > 0 {
		res = h.forward(c.Context(), fallbacks[0], req.Method, req.Params)
	}
	if res.err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"jsonrpc": "2.0",
			"id":      1,
			"error": fiber.Map{
				"code":    -32603,
				"message": fmt.Sprintf("all upstream providers failed: %v", res.err),
			},
		})
	}

	body := fiber.Map{"jsonrpc": "2.0", "id": 1}
	if res.result != nil {
		body["result"] = res.result
	}
	if res.rpcError != nil {
		body["error"] = res.rpcError
	}
	return c.JSON(body)
}

// isFreeMethod reports whether a method is servable without payment.
func isFreeMethod(chain, method string) bool {
	family := "evm"
	if chain == "solana" || chain == "solana-devnet" {
		family = "solana"
	}
	for _, m := range freeMethods[family] {
		if m == method {
			return true
		}
	}
	return false
}
