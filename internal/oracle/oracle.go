// Package oracle supplies cached USD prices for the assets the gateway can
// charge in. The gateway must keep working when the price source is down, so
// lookups degrade from fresh cache to stale cache to static fallbacks.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Freshness describes where a returned price came from.
type Freshness string

const (
	FreshnessLive   Freshness = "live"
	FreshnessCached Freshness = "cached"
	FreshnessStale  Freshness = "stale"
	FreshnessStatic Freshness = "static"
)

// Static fallback prices used when the source is unreachable and the cache is
// cold or too old. Deliberately conservative.
var staticPrices = map[string]float64{
	"SOL": 150.0,
	"ETH": 2500.0,
}

// coingeckoIDs maps asset symbols to the price source's coin ids.
var coingeckoIDs = map[string]string{
	"SOL": "solana",
	"ETH": "ethereum",
}

const (
	// cacheTTL is how long a fetched price is served without refetching.
	cacheTTL = 30 * time.Second
	// staleTTL is how long a cached price may still be served after a
	// failed refresh.
	staleTTL = 5 * time.Minute
)

// PriceSource resolves an asset symbol to its USD price.
type PriceSource interface {
	USDPrice(ctx context.Context, asset string) (price float64, freshness Freshness, err error)
}

type cachedPrice struct {
	price     float64
	fetchedAt time.Time
}

// Oracle fetches prices over HTTP and caches them. One refresh at a time;
// readers may briefly observe a stale value.
type Oracle struct {
	baseURL string
	client  *http.Client

	mu    sync.RWMutex
	cache map[string]cachedPrice

	now func() time.Time
}

// New creates an oracle against a CoinGecko-compatible simple-price endpoint.
func New(baseURL string) *Oracle {
	return &Oracle{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
		cache:   make(map[string]cachedPrice),
		now:     time.Now,
	}
}

// USDPrice implements PriceSource. USDC is pegged and never fetched.
func (o *Oracle) USDPrice(ctx context.Context, asset string) (float64, Freshness, error) {
	asset = strings.ToUpper(asset)
	if asset == "USDC" {
		return 1.0, FreshnessStatic, nil
	}

	o.mu.RLock()
	cached, ok := o.cache[asset]
	o.mu.RUnlock()

	if ok && o.now().Sub(cached.fetchedAt) < cacheTTL {
		return cached.price, FreshnessCached, nil
	}

	price, err := o.fetch(ctx, asset)
	if err == nil {
		o.mu.Lock()
		o.cache[asset] = cachedPrice{price: price, fetchedAt: o.now()}
		o.mu.Unlock()
		return price, FreshnessLive, nil
	}

	// Source down: serve the stale cache for a grace period, then fall back
	// to the static constant.
	if ok && o.now().Sub(cached.fetchedAt) < staleTTL {
		slog.Warn("price source unavailable, serving stale price", "asset", asset, "error", err)
		return cached.price, FreshnessStale, nil
	}
	if static, found := staticPrices[asset]; found {
		slog.Warn("price source unavailable, serving static fallback", "asset", asset, "error", err)
		return static, FreshnessStatic, nil
	}
	return 0, "", fmt.Errorf("no price available for %s: %w", asset, err)
}

func (o *Oracle) fetch(ctx context.Context, asset string) (float64, error) {
	coinID, ok := coingeckoIDs[asset]
	if !ok {
		return 0, fmt.Errorf("unsupported asset %q", asset)
	}

	q := url.Values{}
	q.Set("ids", coinID)
	q.Set("vs_currencies", "usd")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create price request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("price source returned status %d", resp.StatusCode)
	}

	// Response shape: {"solana": {"usd": 153.42}}
	var body map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode price response: %w", err)
	}
	price, ok := body[coinID]["usd"]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("price source returned no usd price for %s", coinID)
	}
	return price, nil
}
