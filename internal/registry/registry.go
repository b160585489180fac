// Package registry holds the upstream provider descriptors and keeps their
// health state current through periodic probes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tollgate/internal/config"
)

// Status is a provider's routing status.
type Status string

const (
	StatusActive   Status = "active"
	StatusDegraded Status = "degraded"
	StatusOffline  Status = "offline"
)

// HealthStatus is the probe-level health of a provider.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
)

// offlineSentinel pins intentionally URL-less providers offline without
// counting real probe failures.
const offlineSentinel = 999

// offlineThreshold is the consecutive-failure count at which a provider is
// taken out of rotation.
const offlineThreshold = 3

// Provider is an upstream RPC endpoint plus its live state. Instances handed
// out by the registry are snapshot copies; mutating them has no effect on the
// registry.
type Provider struct {
	ID             string                  `json:"id"`
	Name           string                  `json:"name"`
	Chains         []string                `json:"chains"`
	URL            string                  `json:"url,omitempty"`
	HealthCheckURL string                  `json:"healthCheckUrl,omitempty"`
	CostPerCall    float64                 `json:"costPerCall"`
	BatchCost      *config.BatchCostConfig `json:"batchCost,omitempty"`
	Priority       int                     `json:"priority"`
	MaxLatencyMs   int64                   `json:"maxLatencyMs"`
	RateLimitRPS   int                     `json:"rateLimitRps,omitempty"`

	Status          Status    `json:"status"`
	AverageLatency  float64   `json:"averageLatency"`
	LastHealthCheck time.Time `json:"lastHealthCheck"`
}

// SupportsChain reports whether the provider serves the given chain.
func (p *Provider) SupportsChain(chain string) bool {
	for _, c := range p.Chains {
		if c == chain {
			return true
		}
	}
	return false
}

// Health is the probe-level state of one provider.
type Health struct {
	Status              HealthStatus `json:"status"`
	Latency             int64        `json:"latency"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	LastCheck           time.Time    `json:"lastCheck"`
}

// Stats aggregates registry state for the health endpoint.
type Stats struct {
	Total          int      `json:"total"`
	Active         int      `json:"active"`
	Degraded       int      `json:"degraded"`
	Offline        int      `json:"offline"`
	Chains         []string `json:"chains"`
	AverageLatency float64  `json:"averageLatency"`
}

// ErrProviderNotFound is returned for lookups of unknown provider ids.
var ErrProviderNotFound = errors.New("provider not found")

// ErrDuplicateProvider is returned when registering an id twice.
var ErrDuplicateProvider = errors.New("provider id already registered")

// entry is the registry's mutable record for one provider.
type entry struct {
	provider Provider
	health   Health
}

// snapshot is the immutable view exposed to readers.
type snapshot struct {
	byID  map[string]*Provider
	order []*Provider
}

// Registry owns provider state. Writers (registration, probes) serialize on
// a mutex; readers work off an atomic copy-on-write snapshot and never block.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	snap    atomic.Pointer[snapshot]

	prober   Prober
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// New creates an empty registry using the given prober for health checks.
// A nil prober disables probing (useful in tests that drive RecordProbe).
func New(prober Prober) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		prober:  prober,
	}
	r.snap.Store(&snapshot{byID: map[string]*Provider{}})
	return r
}

// NewFromConfig creates a registry seeded with the configured providers.
func NewFromConfig(cfg *config.Config) (*Registry, error) {
	r := New(NewJSONRPCProber(cfg.Registry.ProbeTimeout))
	for _, pc := range cfg.Providers {
		p := Provider{
			ID:             pc.ID,
			Name:           pc.Name,
			Chains:         pc.Chains,
			URL:            pc.URL,
			HealthCheckURL: pc.HealthCheckURL,
			CostPerCall:    pc.CostPerCall,
			BatchCost:      pc.BatchCost,
			Priority:       pc.Priority,
			MaxLatencyMs:   pc.MaxLatencyMs,
			RateLimitRPS:   pc.RateLimitRPS,
		}
		if err := r.Register(p); err != nil {
			return nil, fmt.Errorf("failed to register provider %q: %w", pc.ID, err)
		}
	}
	return r, nil
}

// Register adds a provider. Initial status is active unless the URL is empty,
// in which case the provider is pinned offline.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == "" {
		return errors.New("provider id is required")
	}
	if _, exists := r.entries[p.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, p.ID)
	}

	e := &entry{provider: p}
	if p.URL == "" {
		e.provider.Status = StatusOffline
		e.health = Health{Status: HealthOffline, ConsecutiveFailures: offlineSentinel}
	} else {
		e.provider.Status = StatusActive
		e.health = Health{Status: HealthHealthy}
	}

	r.entries[p.ID] = e
	r.publishLocked()
	return nil
}

// Get returns a snapshot copy of one provider.
func (r *Registry) Get(id string) (*Provider, error) {
	if p, ok := r.snap.Load().byID[id]; ok {
		c := *p
		return &c, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
}

// ListAll returns all providers in registration order.
func (r *Registry) ListAll() []*Provider {
	snap := r.snap.Load()
	out := make([]*Provider, 0, len(snap.order))
	for _, p := range snap.order {
		c := *p
		out = append(out, &c)
	}
	return out
}

// ListByChain returns providers that serve the given chain, any status.
func (r *Registry) ListByChain(chain string) []*Provider {
	var out []*Provider
	for _, p := range r.snap.Load().order {
		if p.SupportsChain(chain) {
			c := *p
			out = append(out, &c)
		}
	}
	return out
}

// ListHealthy returns providers for the chain that are active and healthy.
func (r *Registry) ListHealthy(chain string) []*Provider {
	var out []*Provider
	for _, p := range r.snap.Load().order {
		if p.SupportsChain(chain) && p.Status == StatusActive {
			c := *p
			out = append(out, &c)
		}
	}
	return out
}

// UpdateStatus overrides a provider's routing status.
func (r *Registry) UpdateStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	e.provider.Status = status
	r.publishLocked()
	return nil
}

// GetHealth returns the probe-level health of one provider.
func (r *Registry) GetHealth(id string) (Health, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Health{}, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return e.health, nil
}

// RecordProbe applies one probe result to a provider's state.
//
// Success resets the failure counter and folds the latency into the EMA
// (avg = 0.8*avg + 0.2*latency, first sample taken as-is). Latency above the
// provider's cap degrades it without taking it out of rotation. Failures
// degrade at the first miss and go offline at the third consecutive one;
// latency is never updated on failure.
func (r *Registry) RecordProbe(id string, latencyMs int64, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	if e.provider.URL == "" {
		// Pinned offline; probes are skipped for these, ignore stragglers.
		return nil
	}

	now := time.Now()
	e.health.LastCheck = now
	e.provider.LastHealthCheck = now

	if success {
		e.health.ConsecutiveFailures = 0
		e.health.Latency = latencyMs
		if e.provider.AverageLatency == 0 {
			e.provider.AverageLatency = float64(latencyMs)
		} else {
			e.provider.AverageLatency = 0.8*e.provider.AverageLatency + 0.2*float64(latencyMs)
		}
		if e.provider.MaxLatencyMs > 0 && latencyMs > e.provider.MaxLatencyMs {
			e.health.Status = HealthDegraded
			e.provider.Status = StatusDegraded
		} else {
			e.health.Status = HealthHealthy
			e.provider.Status = StatusActive
		}
	} else {
		e.health.ConsecutiveFailures++
		if e.health.ConsecutiveFailures >= offlineThreshold {
			e.health.Status = HealthOffline
			e.provider.Status = StatusOffline
		} else {
			e.health.Status = HealthDegraded
			e.provider.Status = StatusDegraded
		}
	}

	r.publishLocked()
	return nil
}

// Stats returns aggregate registry state.
func (r *Registry) Stats() Stats {
	snap := r.snap.Load()

	s := Stats{Total: len(snap.order)}
	chains := make(map[string]bool)
	var latencySum float64
	var latencyCount int

	for _, p := range snap.order {
		switch p.Status {
		case StatusActive:
			s.Active++
		case StatusDegraded:
			s.Degraded++
		case StatusOffline:
			s.Offline++
		}
		for _, c := range p.Chains {
			chains[c] = true
		}
		if p.AverageLatency > 0 {
			latencySum += p.AverageLatency
			latencyCount++
		}
	}
	for c := range chains {
		s.Chains = append(s.Chains, c)
	}
	if latencyCount > 0 {
		s.AverageLatency = latencySum / float64(latencyCount)
	}
	return s
}

// publishLocked rebuilds the read snapshot. Caller holds r.mu.
func (r *Registry) publishLocked() {
	snap := &snapshot{byID: make(map[string]*Provider, len(r.entries))}

	// Keep the previous ordering stable for providers already published.
	prev := r.snap.Load()
	seen := make(map[string]bool, len(r.entries))
	for _, old := range prev.order {
		if e, ok := r.entries[old.ID]; ok {
			p := e.provider
			snap.byID[p.ID] = &p
			snap.order = append(snap.order, &p)
			seen[p.ID] = true
		}
	}
	for id, e := range r.entries {
		if !seen[id] {
			p := e.provider
			snap.byID[id] = &p
			snap.order = append(snap.order, &p)
		}
	}
	r.snap.Store(snap)
}

// StartHealthChecks begins periodic probing of all providers.
func (r *Registry) StartHealthChecks(interval time.Duration) {
	r.mu.Lock()
	if r.running || r.prober == nil {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.interval = interval
	r.stopCh = make(chan struct{})
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runProbeLoop()
	}()
	slog.Info("provider health checks started", "interval", interval)
}

// StopHealthChecks stops the probe loop and waits for in-flight probes.
func (r *Registry) StopHealthChecks() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	slog.Info("provider health checks stopped")
}

func (r *Registry) runProbeLoop() {
	// Probe immediately on startup so routing has fresh state before the
	// first tick.
	r.ProbeAll(context.Background())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.ProbeAll(context.Background())
		}
	}
}

// ProbeAll probes every provider concurrently. A slow or failing provider
// never delays the others.
func (r *Registry) ProbeAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range r.ListAll() {
		if p.URL == "" && p.HealthCheckURL == "" {
			continue
		}
		wg.Add(1)
		go func(p *Provider) {
			defer wg.Done()

			target := p.HealthCheckURL
			if target == "" {
				target = p.URL
			}
			latency, err := r.prober.Probe(ctx, target, p.Chains)
			if err != nil {
				slog.Warn("provider probe failed", "provider", p.ID, "error", err)
				r.RecordProbe(p.ID, 0, false)
				return
			}
			r.RecordProbe(p.ID, latency, true)
		}(p)
	}
	wg.Wait()
}
