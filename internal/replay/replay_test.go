package replay

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests advance time deterministically.
type fakeClock struct {
	mu sync.Mutex
	at time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{at: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

func newTestTracker(ttl time.Duration) (*Tracker, *fakeClock) {
	clock := newFakeClock()
	tracker := NewTracker(ttl)
	tracker.now = clock.now
	return tracker, clock
}

func TestCheckAndRecord(t *testing.T) {
	tracker, _ := newTestTracker(10 * time.Minute)

	if !tracker.CheckAndRecord("jti-1") {
		t.Fatal("first CheckAndRecord should accept the id")
	}
	if tracker.CheckAndRecord("jti-1") {
		t.Error("second CheckAndRecord within the window should reject the id")
	}
	if !tracker.CheckAndRecord("jti-2") {
		t.Error("a different id should be accepted")
	}
	if got := tracker.Size(); got != 2 {
		t.Errorf("Size() = %d, want 2", got)
	}
}

func TestIDAcceptedAgainAfterTTL(t *testing.T) {
	tracker, clock := newTestTracker(10 * time.Minute)

	if !tracker.CheckAndRecord("jti-1") {
		t.Fatal("first CheckAndRecord should accept the id")
	}

	// still inside the window
	clock.advance(9 * time.Minute)
	if tracker.CheckAndRecord("jti-1") {
		t.Fatal("id should still be rejected inside the TTL window")
	}

	// past the window
	clock.advance(2 * time.Minute)
	if !tracker.CheckAndRecord("jti-1") {
		t.Error("id should be accepted again after the TTL elapses")
	}
}

func TestPruneStopsAtFirstLiveEntry(t *testing.T) {
	tracker, clock := newTestTracker(10 * time.Minute)

	tracker.CheckAndRecord("old-1")
	tracker.CheckAndRecord("old-2")

	clock.advance(6 * time.Minute)
	tracker.CheckAndRecord("fresh-1")

	// expire old-1/old-2 but not fresh-1
	clock.advance(5 * time.Minute)
	tracker.CheckAndRecord("trigger-prune")

	if got := tracker.Size(); got != 2 {
		t.Errorf("Size() = %d, want 2 (fresh-1 and trigger-prune)", got)
	}
	if tracker.CheckAndRecord("fresh-1") {
		t.Error("fresh-1 is still live and must not have been pruned")
	}
	if !tracker.CheckAndRecord("old-1") {
		t.Error("old-1 expired and should be accepted as new")
	}
}

func TestPruneNeverEvictsLiveEntries(t *testing.T) {
	// The FIFO prune relies on insertion order matching expiry order. Record a
	// burst of ids across several clock steps and verify that pruning after
	// each step removes exactly the expired prefix.
	tracker, clock := newTestTracker(1 * time.Minute)

	for i := 0; i < 5; i++ {
		if !tracker.CheckAndRecord(fmt.Sprintf("jti-%d", i)) {
			t.Fatalf("jti-%d rejected unexpectedly", i)
		}
		clock.advance(20 * time.Second)
	}

	// 100s elapsed: jti-0 (100s), jti-1 (80s) expired; jti-2 (60s) is exactly
	// at the cutoff and also expires; jti-3 (40s) and jti-4 (20s) live.
	if got := tracker.Size(); got != 2 {
		t.Errorf("Size() = %d, want 2", got)
	}
	if tracker.CheckAndRecord("jti-4") {
		t.Error("jti-4 is live and should be rejected")
	}
}

func TestConcurrentCheckAndRecord(t *testing.T) {
	tracker := NewTracker(time.Minute)

	var wg sync.WaitGroup
	accepted := make([]int, 8)

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if tracker.CheckAndRecord(fmt.Sprintf("jti-%d", i)) {
					accepted[g]++
				}
			}
		}(g)
	}
	wg.Wait()

	total := 0
	for _, n := range accepted {
		total += n
	}
	if total != 100 {
		t.Errorf("accepted %d records across goroutines, want exactly 100", total)
	}
	if got := tracker.Size(); got != 100 {
		t.Errorf("Size() = %d, want 100", got)
	}
}
