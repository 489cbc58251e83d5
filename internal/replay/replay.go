// Package replay implements an in-memory anti-replay tracker for certificate ids.
//
// The tracker is defence-in-depth: the certificate's own expiration claim is
// the primary expiry mechanism consumed by verifiers. The tracker exists so
// the issuer itself rejects a replayed jti within the TTL window even if a
// downstream verifier neglects the expiry check.
//
// State is process-local and lost on restart - correctness does not depend on
// its survival.
package replay

import (
	"sync"
	"time"
)

// entry records when an id was first seen.
type entry struct {
	id     string
	seenAt time.Time
}

// Tracker tracks seen certificate ids within a TTL window.
//
// Entries are pruned lazily on each call by scanning from the oldest insertion
// forward and stopping at the first still-live entry. This FIFO scan is only
// correct because an id is recorded at most once per window: a live id is
// never re-inserted, so insertion order is also expiry order.
type Tracker struct {
	mu    sync.Mutex
	ttl   time.Duration
	seen  map[string]time.Time
	order []entry

	// now is replaceable in tests
	now func() time.Time
}

// NewTracker creates a tracker that retains ids for the given TTL.
func NewTracker(ttl time.Duration) *Tracker {
	return &Tracker{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// CheckAndRecord returns true and records the id if it has not been seen
// within the TTL window, or false if the id is already recorded and unexpired.
func (t *Tracker) CheckAndRecord(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.prune(now)

	if _, exists := t.seen[id]; exists {
		return false
	}

	t.seen[id] = now
	t.order = append(t.order, entry{id: id, seenAt: now})
	return true
}

// Size returns the number of currently retained ids. Diagnostics only.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.prune(t.now())
	return len(t.seen)
}

// prune removes expired entries from the front of the insertion order,
// stopping at the first live entry. Callers must hold t.mu.
func (t *Tracker) prune(now time.Time) {
	cutoff := now.Add(-t.ttl)

	i := 0
	for ; i < len(t.order); i++ {
		if t.order[i].seenAt.After(cutoff) {
			break
		}
		delete(t.seen, t.order[i].id)
	}

	if i > 0 {
		t.order = append([]entry(nil), t.order[i:]...)
	}
}
