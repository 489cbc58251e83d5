package vault

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and vaultless deployments
// (no DATABASE_URL configured). Balances held here do not survive a restart.
//
// The failure hooks let tests exercise degraded-persistence paths: when set
// and returning a non-nil error, the corresponding operation fails without
// touching the stored state.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*Snapshot

	LoadErr func(key string) error
	SaveErr func(key string) error
	PingErr error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Snapshot),
	}
}

// LoadAccount returns a copy of the snapshot for key, or ErrNotFound.
func (s *MemoryStore) LoadAccount(ctx context.Context, key string) (*Snapshot, error) {
	if s.LoadErr != nil {
		if err := s.LoadErr(key); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.accounts[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copySnapshot(snapshot), nil
}

// SaveAccount stores a copy of the snapshot under snapshot.Key.
func (s *MemoryStore) SaveAccount(ctx context.Context, snapshot *Snapshot) error {
	if s.SaveErr != nil {
		if err := s.SaveErr(snapshot.Key); err != nil {
			return err
		}
	}

	stored := copySnapshot(snapshot)
	stored.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[snapshot.Key] = stored
	return nil
}

// Ping returns PingErr, which is nil unless a test injected a failure.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return s.PingErr
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() {}

// Len returns the number of stored snapshots.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// copySnapshot deep-copies so callers and the store never alias DepositRefs.
func copySnapshot(in *Snapshot) *Snapshot {
	out := *in
	if in.DepositRefs != nil {
		out.DepositRefs = make([]string, len(in.DepositRefs))
		copy(out.DepositRefs, in.DepositRefs)
	}
	return &out
}
