// Package ledger implements the in-memory operator accounts that
// certifications settle against, backed by a write-behind vault cache.
//
// Correctness rule: every balance mutation happens inside the cache's
// per-account critical section (WithAccount / WithAccounts). The certification
// saga debits, optionally rolls back, and marks accounts dirty entirely inside
// that section, so a rollback always restores the exact pre-debit state - no
// other settlement can interleave.
package ledger

import (
	"time"

	"github.com/dpyc-network/tollbooth-authority/internal/vault"
)

// Account is a single balance keyed by operator npub (or the reserved
// upstream supply key). Methods are not safe for concurrent use on their
// own - the cache serializes access per key.
type Account struct {
	key                string
	balanceSats        int64
	totalDepositedSats int64
	totalConsumedSats  int64

	// depositRefs records applied deposit references for idempotency.
	// refOrder preserves insertion order for stable snapshots.
	depositRefs map[string]struct{}
	refOrder    []string
}

// newAccount creates an empty account for key.
func newAccount(key string) *Account {
	return &Account{
		key:         key,
		depositRefs: make(map[string]struct{}),
	}
}

// accountFromSnapshot restores an account from its vault snapshot.
func accountFromSnapshot(snapshot *vault.Snapshot) *Account {
	account := newAccount(snapshot.Key)
	account.balanceSats = snapshot.BalanceSats
	account.totalDepositedSats = snapshot.TotalDepositedSats
	account.totalConsumedSats = snapshot.TotalConsumedSats
	for _, ref := range snapshot.DepositRefs {
		if _, exists := account.depositRefs[ref]; exists {
			continue
		}
		account.depositRefs[ref] = struct{}{}
		account.refOrder = append(account.refOrder, ref)
	}
	return account
}

// Key returns the account key.
func (a *Account) Key() string { return a.key }

// Balance returns the available balance in sats.
func (a *Account) Balance() int64 { return a.balanceSats }

// TotalDeposited returns the lifetime deposited total in sats.
func (a *Account) TotalDeposited() int64 { return a.totalDepositedSats }

// TotalConsumed returns the lifetime consumed total in sats.
func (a *Account) TotalConsumed() int64 { return a.totalConsumedSats }

// Debit withdraws amount from the balance and returns false when the balance
// is insufficient. A failed debit leaves the account untouched.
func (a *Account) Debit(reason string, amountSats int64) bool {
	if amountSats < 0 {
		return false
	}
	if a.balanceSats < amountSats {
		return false
	}
	a.balanceSats -= amountSats
	a.totalConsumedSats += amountSats
	return true
}

// RollbackDebit compensates an earlier successful Debit with the same
// (reason, amount) pair, restoring both the balance and the lifetime
// consumed total.
func (a *Account) RollbackDebit(reason string, amountSats int64) {
	if amountSats < 0 {
		return
	}
	a.balanceSats += amountSats
	a.totalConsumedSats -= amountSats
}

// CreditDeposit adds amount to the balance. Deposits carry a caller-chosen
// reference; a reference credits at most once, and a replayed reference
// returns false without changing the account.
func (a *Account) CreditDeposit(amountSats int64, reference string) bool {
	if amountSats < 0 {
		return false
	}
	if _, exists := a.depositRefs[reference]; exists {
		return false
	}
	a.depositRefs[reference] = struct{}{}
	a.refOrder = append(a.refOrder, reference)
	a.balanceSats += amountSats
	a.totalDepositedSats += amountSats
	return true
}

// HasDepositRef reports whether the reference has already been applied.
func (a *Account) HasDepositRef(reference string) bool {
	_, exists := a.depositRefs[reference]
	return exists
}

// snapshot converts the account to its durable form.
func (a *Account) snapshot() *vault.Snapshot {
	refs := make([]string, len(a.refOrder))
	copy(refs, a.refOrder)
	return &vault.Snapshot{
		Key:                a.key,
		BalanceSats:        a.balanceSats,
		TotalDepositedSats: a.totalDepositedSats,
		TotalConsumedSats:  a.totalConsumedSats,
		DepositRefs:        refs,
		UpdatedAt:          time.Now().UTC(),
	}
}
