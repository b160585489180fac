// Package batch tracks pre-paid call bundles. Batches live in memory only; a
// restart clears them.
package batch

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long an issued batch stays spendable.
const DefaultTTL = 30 * 24 * time.Hour

// SweepInterval is how often expired batches are deleted.
const SweepInterval = time.Hour

// ErrBatchNotFound is returned for unknown batch ids.
var ErrBatchNotFound = errors.New("batch not found")

// Batch is a pre-paid bundle of RPC calls.
type Batch struct {
	BatchID        string    `json:"batchId"`
	ProviderID     string    `json:"providerId,omitempty"`
	Chain          string    `json:"chain,omitempty"`
	TotalCalls     int       `json:"totalCalls"`
	CallsRemaining int       `json:"callsRemaining"`
	AmountPaid     float64   `json:"amountPaid"`
	ExpiresAt      time.Time `json:"expiresAt"`
	CreatedAt      time.Time `json:"createdAt"`
}

// entry guards one batch with its own mutex so concurrent debits of distinct
// batches never contend.
type entry struct {
	mu    sync.Mutex
	batch Batch
}

// Ledger issues, debits, and expires batches.
type Ledger struct {
	mu      sync.RWMutex
	batches map[string]*entry

	now func() time.Time

	ttl    time.Duration
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewLedger creates an empty ledger with the default TTL.
func NewLedger() *Ledger {
	return &Ledger{
		batches: make(map[string]*entry),
		now:     time.Now,
		ttl:     DefaultTTL,
	}
}

// Issue creates a new batch of calls for the given price.
func (l *Ledger) Issue(providerID, chain string, calls int, price float64) *Batch {
	now := l.now()
	b := Batch{
		BatchID:        uuid.New().String(),
		ProviderID:     providerID,
		Chain:          chain,
		TotalCalls:     calls,
		CallsRemaining: calls,
		AmountPaid:     price,
		ExpiresAt:      now.Add(l.ttl),
		CreatedAt:      now,
	}

	l.mu.Lock()
	l.batches[b.BatchID] = &entry{batch: b}
	l.mu.Unlock()

	slog.Info("batch issued", "batch_id", b.BatchID, "provider", providerID, "calls", calls, "price", price)
	return &b
}

// Get returns a copy of the batch, or ErrBatchNotFound.
func (l *Ledger) Get(batchID string) (*Batch, error) {
	l.mu.RLock()
	e, ok := l.batches[batchID]
	l.mu.RUnlock()
	if !ok {
		return nil, ErrBatchNotFound
	}

	e.mu.Lock()
	b := e.batch
	e.mu.Unlock()
	return &b, nil
}

// TryDebit atomically consumes one call from the batch. It fails when the
// batch is missing, depleted, or expired; the total number of successful
// debits can never exceed TotalCalls.
func (l *Ledger) TryDebit(batchID string) (ok bool, remaining, total int) {
	l.mu.RLock()
	e, found := l.batches[batchID]
	l.mu.RUnlock()
	if !found {
		return false, 0, 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.batch.CallsRemaining <= 0 || !l.now().Before(e.batch.ExpiresAt) {
		return false, e.batch.CallsRemaining, e.batch.TotalCalls
	}
	e.batch.CallsRemaining--
	return true, e.batch.CallsRemaining, e.batch.TotalCalls
}

// SweepExpired deletes expired and depleted batches, returning the count.
func (l *Ledger) SweepExpired() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, e := range l.batches {
		e.mu.Lock()
		dead := e.batch.CallsRemaining <= 0 || !now.Before(e.batch.ExpiresAt)
		e.mu.Unlock()
		if dead {
			delete(l.batches, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("expired batches swept", "count", removed)
	}
	return removed
}

// Start begins the hourly expiry sweep.
func (l *Ledger) Start() {
	l.once.Do(func() {
		l.stopCh = make(chan struct{})
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.runSweepLoop()
		}()
		slog.Info("batch sweep worker started", "interval", SweepInterval)
	})
}

// Stop stops the sweep worker.
func (l *Ledger) Stop() {
	if l.stopCh == nil {
		return
	}
	close(l.stopCh)
	l.wg.Wait()
	slog.Info("batch sweep worker stopped")
}

func (l *Ledger) runSweepLoop() {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.SweepExpired()
		}
	}
}
