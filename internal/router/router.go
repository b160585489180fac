// Package router picks an upstream provider plus an ordered fallback list
// for each paid RPC call, under agent-supplied preferences.
package router

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"tollgate/internal/registry"
)

// Strategy names a ranking order for eligible providers.
type Strategy string

const (
	StrategyLowestCost      Strategy = "lowest-cost"
	StrategyLowestLatency   Strategy = "lowest-latency"
	StrategyHighestPriority Strategy = "highest-priority"
	StrategyRoundRobin      Strategy = "round-robin"
)

// ErrNoProviderAvailable is returned when no provider survives filtering.
var ErrNoProviderAvailable = errors.New("no provider available")

// ErrUnknownStrategy is returned for unrecognized strategy names.
var ErrUnknownStrategy = errors.New("unknown routing strategy")

// Preferences are the caller-supplied routing knobs. The zero value means
// lowest-cost over healthy providers.
type Preferences struct {
	Strategy           Strategy `json:"strategy,omitempty"`
	MaxLatencyMs       float64  `json:"maxLatencyMs,omitempty"`
	MaxCostPerCall     float64  `json:"maxCostPerCall,omitempty"`
	PreferredProviders []string `json:"preferredProviders,omitempty"`
	ExcludeProviders   []string `json:"excludeProviders,omitempty"`

	// RequireHealthy defaults to true; set it to false explicitly to accept
	// degraded providers.
	RequireHealthy *bool `json:"requireHealthy,omitempty"`
}

func (p Preferences) requireHealthy() bool {
	return p.RequireHealthy == nil || *p.RequireHealthy
}

func (p Preferences) strategy() Strategy {
	if p.Strategy == "" {
		return StrategyLowestCost
	}
	return p.Strategy
}

// Router ranks registry providers per request.
type Router struct {
	registry *registry.Registry

	mu       sync.Mutex
	rrCursor map[string]int // per-chain round-robin counters
}

// New creates a router over the given registry.
func New(reg *registry.Registry) *Router {
	return &Router{
		registry: reg,
		rrCursor: make(map[string]int),
	}
}

// SelectWithFallback returns the best provider for the chain plus the ranked
// remainder as fallbacks.
func (r *Router) SelectWithFallback(chain string, prefs Preferences) (*registry.Provider, []*registry.Provider, error) {
	strategy := prefs.strategy()
	switch strategy {
	case StrategyLowestCost, StrategyLowestLatency, StrategyHighestPriority, StrategyRoundRobin:
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	candidates := r.filter(chain, prefs)
	if len(candidates) == 0 {
		return nil, nil, fmt.Errorf("%w for chain %q", ErrNoProviderAvailable, chain)
	}

	ranked := r.rank(chain, strategy, candidates)
	ranked = hoistPreferred(ranked, prefs.PreferredProviders)

	return ranked[0], ranked[1:], nil
}

// filter applies status, exclusion, and numeric-cap rules. Offline providers
// are always excluded.
func (r *Router) filter(chain string, prefs Preferences) []*registry.Provider {
	excluded := make(map[string]bool, len(prefs.ExcludeProviders))
	for _, id := range prefs.ExcludeProviders {
		excluded[id] = true
	}

	var out []*registry.Provider
	for _, p := range r.registry.ListByChain(chain) {
		if p.Status == registry.StatusOffline {
			continue
		}
		if prefs.requireHealthy() && p.Status != registry.StatusActive {
			continue
		}
		if excluded[p.ID] {
			continue
		}
		if prefs.MaxCostPerCall > 0 && p.CostPerCall > prefs.MaxCostPerCall {
			continue
		}
		if prefs.MaxLatencyMs > 0 && p.AverageLatency > prefs.MaxLatencyMs {
			continue
		}
		out = append(out, p)
	}
	return out
}

// rank orders the filtered candidates under the strategy.
func (r *Router) rank(chain string, strategy Strategy, candidates []*registry.Provider) []*registry.Provider {
	ranked := make([]*registry.Provider, len(candidates))
	copy(ranked, candidates)

	switch strategy {
	case StrategyLowestCost:
		sort.SliceStable(ranked, func(i, j int) bool {
			if ranked[i].CostPerCall != ranked[j].CostPerCall {
				return ranked[i].CostPerCall < ranked[j].CostPerCall
			}
			if ranked[i].AverageLatency != ranked[j].AverageLatency {
				return ranked[i].AverageLatency < ranked[j].AverageLatency
			}
			return ranked[i].Priority > ranked[j].Priority
		})
	case StrategyLowestLatency:
		sort.SliceStable(ranked, func(i, j int) bool {
			if ranked[i].AverageLatency != ranked[j].AverageLatency {
				return ranked[i].AverageLatency < ranked[j].AverageLatency
			}
			return ranked[i].CostPerCall < ranked[j].CostPerCall
		})
	case StrategyHighestPriority:
		sort.SliceStable(ranked, func(i, j int) bool {
			if ranked[i].Priority != ranked[j].Priority {
				return ranked[i].Priority > ranked[j].Priority
			}
			return ranked[i].CostPerCall < ranked[j].CostPerCall
		})
	case StrategyRoundRobin:
		r.mu.Lock()
		start := r.rrCursor[chain] % len(ranked)
		r.rrCursor[chain]++
		r.mu.Unlock()
		rotated := make([]*registry.Provider, 0, len(ranked))
		rotated = append(rotated, ranked[start:]...)
		rotated = append(rotated, ranked[:start]...)
		ranked = rotated
	}
	return ranked
}

// hoistPreferred moves preferred providers to the head of the list, keeping
// their relative ranked order.
func hoistPreferred(ranked []*registry.Provider, preferred []string) []*registry.Provider {
	if len(preferred) == 0 {
		return ranked
	}
	prefSet := make(map[string]bool, len(preferred))
	for _, id := range preferred {
		prefSet[id] = true
	}

	head := make([]*registry.Provider, 0, len(ranked))
	tail := make([]*registry.Provider, 0, len(ranked))
	for _, p := range ranked {
		if prefSet[p.ID] {
			head = append(head, p)
		} else {
			tail = append(tail, p)
		}
	}
	return append(head, tail...)
}
