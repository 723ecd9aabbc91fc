package guard

import (
	"context"
	"sync"
	"time"

	"github.com/civicflow/platform/internal/domain"
)

// IdempotencyGuard rejects a key while an earlier request with the same key
// is still being processed. It is a fast path in front of the ledger, which
// stays the authority on replays; entries expire after ttl so a crashed
// request cannot pin a key.
type IdempotencyGuard struct {
	mu       sync.Mutex
	inflight map[string]time.Time
	ttl      time.Duration
	now      func() time.Time
}

// NewIdempotencyGuard creates an in-memory guard.
func NewIdempotencyGuard(ttl time.Duration) *IdempotencyGuard {
	return &IdempotencyGuard{
		inflight: make(map[string]time.Time),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Check claims key. Callers must Release it when done.
func (ig *IdempotencyGuard) Check(_ context.Context, key string) domain.GuardResult {
	if key == "" {
		return domain.GuardResult{Allowed: true}
	}

	ig.mu.Lock()
	defer ig.mu.Unlock()

	now := ig.now()
	if started, ok := ig.inflight[key]; ok && (ig.ttl <= 0 || now.Sub(started) < ig.ttl) {
		return domain.GuardResult{
			Allowed: false,
			Reason:  "duplicate request already in progress",
			Guard:   "idempotency",
		}
	}

	ig.inflight[key] = now
	return domain.GuardResult{Allowed: true}
}

// Release frees key for later requests.
func (ig *IdempotencyGuard) Release(key string) {
	ig.mu.Lock()
	defer ig.mu.Unlock()
	delete(ig.inflight, key)
}
