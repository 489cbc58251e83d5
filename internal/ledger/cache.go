package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dpyc-network/tollbooth-authority/internal/vault"
)

// flushTimeout bounds each background flush pass against the vault.
const flushTimeout = 5 * time.Second

// managedAccount pairs an account with its serialization lock.
//
// mu is the per-account critical section: all reads and mutations of the
// account happen under it. flushMu orders flushes for the account so a stale
// snapshot can never overwrite a newer one in the vault.
type managedAccount struct {
	mu      sync.Mutex
	account *Account

	flushMu sync.Mutex
	dirty   atomic.Bool
}

// AccountView is a consistent read-only copy of an account's balances.
type AccountView struct {
	Key                string `json:"key"`
	BalanceSats        int64  `json:"balance_sats"`
	TotalDepositedSats int64  `json:"total_deposited_sats"`
	TotalConsumedSats  int64  `json:"total_consumed_sats"`
}

// Health is a point-in-time summary of the cache for readiness reporting.
type Health struct {
	CachedAccounts int       `json:"cached_accounts"`
	DirtyAccounts  int       `json:"dirty_accounts"`
	LastFlushAt    time.Time `json:"last_flush_at,omitzero"`
	LastFlushError string    `json:"last_flush_error,omitempty"`
}

// Cache is a write-behind account cache over a vault.Store.
//
// Accounts are loaded from the vault on first access and created lazily with
// a zero balance when absent. Mutations happen in memory under per-account
// locks and are persisted asynchronously: callers mark accounts dirty and the
// background loop (or an explicit flush) writes snapshots out. A flush
// failure leaves the account dirty for retry and is never surfaced to the
// request that triggered the mutation.
type Cache struct {
	store         vault.Store
	logger        *slog.Logger
	flushInterval time.Duration

	// mu guards the entries map, not the accounts themselves.
	mu      sync.Mutex
	entries map[string]*managedAccount

	healthMu     sync.Mutex
	lastFlushAt  time.Time
	lastFlushErr string

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCache creates a cache over store. When flushInterval is positive a
// background goroutine flushes dirty accounts on that interval; callers must
// Stop the cache during shutdown for the final flush.
func NewCache(store vault.Store, flushInterval time.Duration, logger *slog.Logger) *Cache {
	c := &Cache{
		store:         store,
		logger:        logger,
		flushInterval: flushInterval,
		entries:       make(map[string]*managedAccount),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	if flushInterval > 0 {
		go c.run()
	} else {
		close(c.doneCh)
	}

	return c
}

// Get loads or lazily creates the account for key and returns a consistent
// copy of its balances.
func (c *Cache) Get(ctx context.Context, key string) (AccountView, error) {
	var view AccountView
	err := c.WithAccount(ctx, key, func(account *Account) error {
		view = AccountView{
			Key:                account.Key(),
			BalanceSats:        account.Balance(),
			TotalDepositedSats: account.TotalDeposited(),
			TotalConsumedSats:  account.TotalConsumed(),
		}
		return nil
	})
	return view, err
}

// WithAccount runs fn inside the account's critical section, loading or
// creating the account first. fn must not retain the *Account after it
// returns.
func (c *Cache) WithAccount(ctx context.Context, key string, fn func(account *Account) error) error {
	entry, err := c.entry(ctx, key)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	return fn(entry.account)
}

// WithAccounts runs fn holding both accounts' critical sections. Locks are
// acquired in key order so concurrent callers cannot deadlock; fn receives
// the accounts in argument order.
func (c *Cache) WithAccounts(ctx context.Context, keyA, keyB string, fn func(a, b *Account) error) error {
	if keyA == keyB {
		return fmt.Errorf("WithAccounts requires distinct keys, got %q twice", keyA)
	}

	entryA, err := c.entry(ctx, keyA)
	if err != nil {
		return err
	}
	entryB, err := c.entry(ctx, keyB)
	if err != nil {
		return err
	}

	first, second := entryA, entryB
	if keyB < keyA {
		first, second = entryB, entryA
	}

	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	return fn(entryA.account, entryB.account)
}

// MarkDirty flags the account for the next flush. Safe to call from inside
// WithAccount / WithAccounts.
func (c *Cache) MarkDirty(key string) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()

	if ok {
		entry.dirty.Store(true)
	}
}

// FlushAccount persists the account's snapshot if it is dirty. On failure
// the account stays dirty and the error is returned for logging.
func (c *Cache) FlushAccount(ctx context.Context, key string) error {
	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()

	if !ok {
		return nil
	}
	return c.flushEntry(ctx, key, entry)
}

// FlushAll persists every dirty account and records the outcome for Health.
func (c *Cache) FlushAll(ctx context.Context) error {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	entries := make([]*managedAccount, 0, len(c.entries))
	for key, entry := range c.entries {
		keys = append(keys, key)
		entries = append(entries, entry)
	}
	c.mu.Unlock()

	var errs []error
	for i, entry := range entries {
		if err := c.flushEntry(ctx, keys[i], entry); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	c.recordFlushResult(err)
	return err
}

// Stop halts the background loop and performs a final flush.
func (c *Cache) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })

	select {
	case <-c.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	return c.FlushAll(ctx)
}

// Health reports cache size, dirty backlog and the last full-flush outcome.
func (c *Cache) Health() Health {
	c.mu.Lock()
	cached := len(c.entries)
	dirty := 0
	for _, entry := range c.entries {
		if entry.dirty.Load() {
			dirty++
		}
	}
	c.mu.Unlock()

	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	return Health{
		CachedAccounts: cached,
		DirtyAccounts:  dirty,
		LastFlushAt:    c.lastFlushAt,
		LastFlushError: c.lastFlushErr,
	}
}

// entry returns the managed account for key, loading it from the vault or
// creating it on first access.
func (c *Cache) entry(ctx context.Context, key string) (*managedAccount, error) {
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return entry, nil
	}
	c.mu.Unlock()

	// Load outside the map lock so a slow vault read does not block
	// unrelated accounts.
	snapshot, err := c.store.LoadAccount(ctx, key)
	var account *Account
	switch {
	case err == nil:
		account = accountFromSnapshot(snapshot)
	case errors.Is(err, vault.ErrNotFound):
		account = newAccount(key)
	default:
		// Settling against an unknown balance could zero out a funded
		// account, so a vault read failure fails the operation.
		return nil, fmt.Errorf("failed to load ledger account: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		// another goroutine loaded the account while we did
		return entry, nil
	}

	entry := &managedAccount{account: account}
	c.entries[key] = entry
	return entry, nil
}

// flushEntry writes the account snapshot if dirty. flushMu orders concurrent
// flushes for the same account so the vault always converges on the newest
// snapshot.
func (c *Cache) flushEntry(ctx context.Context, key string, entry *managedAccount) error {
	entry.flushMu.Lock()
	defer entry.flushMu.Unlock()

	if !entry.dirty.Load() {
		return nil
	}

	entry.mu.Lock()
	snapshot := entry.account.snapshot()
	entry.dirty.Store(false)
	entry.mu.Unlock()

	if err := c.store.SaveAccount(ctx, snapshot); err != nil {
		entry.dirty.Store(true)
		return fmt.Errorf("failed to flush account %s: %w", key, err)
	}

	return nil
}

func (c *Cache) recordFlushResult(err error) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	c.lastFlushAt = time.Now().UTC()
	if err != nil {
		c.lastFlushErr = err.Error()
	} else {
		c.lastFlushErr = ""
	}
}

func (c *Cache) run() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			if err := c.FlushAll(ctx); err != nil {
				c.logger.Error("background ledger flush failed",
					slog.String("error", err.Error()))
			}
			cancel()
		case <-c.stopCh:
			return
		}
	}
}
