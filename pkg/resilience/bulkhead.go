package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vulnzero/remediation-engine/pkg/domain/errors"
)

// Bulkhead bounds the number of concurrent operations against a resource.
// A zero MaxWait blocks until a slot frees or ctx is cancelled.
type Bulkhead struct {
	name    string
	cap     int64
	maxWait time.Duration
	sem     *semaphore.Weighted
}

// NewBulkhead creates a bulkhead with the given capacity.
func NewBulkhead(name string, capacity int, maxWait time.Duration) *Bulkhead {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bulkhead{
		name:    name,
		cap:     int64(capacity),
		maxWait: maxWait,
		sem:     semaphore.NewWeighted(int64(capacity)),
	}
}

// Execute runs fn while holding one slot. Release is guaranteed even when fn
// panics. A wait beyond MaxWait fails with BULKHEAD_REJECTED.
func (b *Bulkhead) Execute(ctx context.Context, fn func(context.Context) error) error {
	acquireCtx := ctx
	var cancel context.CancelFunc
	if b.maxWait > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, b.maxWait)
		defer cancel()
	}

	if err := b.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Newf(errors.CodeBulkheadRejected, "resilience",
			"bulkhead %q rejected request after %s wait (capacity %d)", b.name, b.maxWait, b.cap)
	}
	defer b.sem.Release(1)

	return fn(ctx)
}

// Capacity returns the configured slot count.
func (b *Bulkhead) Capacity() int {
	return int(b.cap)
}

// bulkhead registry: process-wide, keyed by name.
var (
	bulkheadsMu sync.RWMutex
	bulkheads   = make(map[string]*Bulkhead)
)

// GetBulkhead returns the named bulkhead, creating it on first use.
func GetBulkhead(name string, capacity int, maxWait time.Duration) *Bulkhead {
	bulkheadsMu.RLock()
	b, ok := bulkheads[name]
	bulkheadsMu.RUnlock()
	if ok {
		return b
	}

	bulkheadsMu.Lock()
	defer bulkheadsMu.Unlock()
	if b, ok = bulkheads[name]; ok {
		return b
	}
	b = NewBulkhead(name, capacity, maxWait)
	bulkheads[name] = b
	return b
}
