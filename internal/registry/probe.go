package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Prober checks one provider endpoint and returns the observed latency.
type Prober interface {
	Probe(ctx context.Context, url string, chains []string) (latencyMs int64, err error)
}

// JSONRPCProber probes providers with a minimal JSON-RPC call: getSlot for
// Solana-family chains, eth_blockNumber for EVM-family chains. A probe
// succeeds iff the endpoint answers 2xx with a JSON-RPC object carrying
// either a result or an error member.
type JSONRPCProber struct {
	client  *http.Client
	timeout time.Duration
}

// NewJSONRPCProber creates a prober with the given per-probe deadline.
func NewJSONRPCProber(timeout time.Duration) *JSONRPCProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &JSONRPCProber{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// Probe implements Prober.
func (p *JSONRPCProber) Probe(ctx context.Context, url string, chains []string) (int64, error) {
	method := "eth_blockNumber"
	if isSolanaFamily(chains) {
		method = "getSlot"
	}

	body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: []any{}})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal probe request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()
	latency := time.Since(start).Milliseconds()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("probe returned status %d", resp.StatusCode)
	}

	var rpcResp map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return 0, fmt.Errorf("probe response is not a JSON object: %w", err)
	}
	if _, ok := rpcResp["result"]; ok {
		return latency, nil
	}
	if _, ok := rpcResp["error"]; ok {
		// A JSON-RPC error still proves the endpoint is alive and parsing.
		return latency, nil
	}
	return 0, fmt.Errorf("probe response is not a JSON-RPC object")
}

func isSolanaFamily(chains []string) bool {
	for _, c := range chains {
		if strings.HasPrefix(c, "solana") {
			return true
		}
	}
	return false
}
