// Package vault provides durable storage for ledger account snapshots.
//
// The vault is the persistence boundary behind the in-memory ledger cache:
// the cache settles certifications against in-memory accounts and flushes
// snapshots to the vault in the background. The vault never participates in
// the certification decision itself - a degraded vault is reported through
// health checks, not by failing issuance.
package vault

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by LoadAccount when no snapshot exists for the key.
var ErrNotFound = errors.New("account not found in vault")

// Snapshot is the durable representation of a single ledger account.
type Snapshot struct {
	Key                string    `json:"key"`
	BalanceSats        int64     `json:"balance_sats"`
	TotalDepositedSats int64     `json:"total_deposited_sats"`
	TotalConsumedSats  int64     `json:"total_consumed_sats"`
	DepositRefs        []string  `json:"deposit_refs"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Store is the durable backend for ledger account snapshots.
//
// Keys are operator npubs plus the reserved upstream supply key. Save is a
// full snapshot replace - the ledger cache serializes mutations per account,
// so the last flush for a key always carries its latest state.
type Store interface {
	// LoadAccount returns the snapshot for key, or ErrNotFound.
	LoadAccount(ctx context.Context, key string) (*Snapshot, error)

	// SaveAccount upserts the snapshot under snapshot.Key.
	SaveAccount(ctx context.Context, snapshot *Snapshot) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close()
}
