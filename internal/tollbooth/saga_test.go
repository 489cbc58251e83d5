package tollbooth

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dpyc-network/tollbooth-authority/internal/certificate"
	"github.com/dpyc-network/tollbooth-authority/internal/ledger"
	"github.com/dpyc-network/tollbooth-authority/internal/registry"
	"github.com/dpyc-network/tollbooth-authority/internal/replay"
	"github.com/dpyc-network/tollbooth-authority/internal/vault"
)

const testNpub = "npub10elfcs4fr0l0r8af98jlmgdh9c8efcm28zye4m8v9mccnrmuzmyq7timum"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

type fakeGate struct {
	err   error
	calls int
}

func (g *fakeGate) CheckMembership(ctx context.Context, npub string) (*registry.Member, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &registry.Member{Npub: npub, Status: "active"}, nil
}

type failingSigner struct{}

func (failingSigner) Scheme() certificate.Scheme { return certificate.SchemeJWT }
func (failingSigner) Sign(certificate.Claims) (*certificate.Certificate, error) {
	return nil, errors.New("signing backend unreachable")
}

type authorityOptions struct {
	supply bool
	gate   MembershipGate
	signer certificate.Signer
	store  *vault.MemoryStore
}

func newTestAuthority(t *testing.T, opts authorityOptions) (*Authority, *vault.MemoryStore, *ledger.Cache) {
	t.Helper()

	store := opts.store
	if store == nil {
		store = vault.NewMemoryStore()
	}
	cache := ledger.NewCache(store, 0, testLogger())

	signer := opts.signer
	if signer == nil {
		privateKey, err := certificate.GenerateEd25519KeyPair()
		if err != nil {
			t.Fatalf("failed to generate key pair: %v", err)
		}
		signer, err = certificate.NewTokenSigner(privateKey)
		if err != nil {
			t.Fatalf("failed to create signer: %v", err)
		}
	}

	authority := NewAuthority(AuthorityConfig{
		Fees:           FeePolicy{RateBasisPoints: 200, MinimumSats: 10},
		Ledger:         cache,
		Replay:         replay.NewTracker(10 * time.Minute),
		Signer:         signer,
		Gate:           opts.gate,
		SupplyEnabled:  opts.supply,
		CertificateTTL: 10 * time.Minute,
		Logger:         testLogger(),
	})

	return authority, store, cache
}

func assertCode(t *testing.T, err error, want ErrorCode) {
	t.Helper()

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var tbErr *TollboothError
	if !errors.As(err, &tbErr) {
		t.Fatalf("expected TollboothError, got %T: %v", err, err)
	}
	if tbErr.Code() != want {
		t.Errorf("expected error code %d, got %d (%v)", want, tbErr.Code(), err)
	}
}

func mustDeposit(t *testing.T, a *Authority, npub string, amount int64) {
	t.Helper()
	if _, err := a.Deposit(context.Background(), npub, amount, ""); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
}

func mustAddSupply(t *testing.T, a *Authority, amount int64) {
	t.Helper()
	if _, err := a.AddSupply(context.Background(), amount, ""); err != nil {
		t.Fatalf("supply credit failed: %v", err)
	}
}

func TestCertifyHappyPath(t *testing.T) {
	ctx := context.Background()

	privateKey, err := certificate.GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}
	signer, err := certificate.NewTokenSigner(privateKey)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	authority, store, _ := newTestAuthority(t, authorityOptions{signer: signer})
	mustDeposit(t, authority, testNpub, 1000)

	receipt, err := authority.Certify(ctx, testNpub, 1000)
	if err != nil {
		t.Fatalf("certify failed: %v", err)
	}

	if receipt.TaxPaidSats != 20 {
		t.Errorf("expected 20 sat fee on a 1000 sat purchase, got %d", receipt.TaxPaidSats)
	}
	if receipt.NetSats != 980 {
		t.Errorf("expected net 980, got %d", receipt.NetSats)
	}
	if receipt.OperatorBalanceSats != 980 {
		t.Errorf("expected remaining balance 980, got %d", receipt.OperatorBalanceSats)
	}
	if receipt.SupplyBalanceSats != nil {
		t.Error("supply balance must be absent when no upstream is configured")
	}
	if receipt.JTI == "" {
		t.Error("expected a jti")
	}

	// The artifact verifies against the authority key and carries the claims.
	claims, err := certificate.VerifyToken(receipt.Certificate.JWT, signer.PublicKey())
	if err != nil {
		t.Fatalf("issued certificate does not verify: %v", err)
	}
	if claims.JTI != receipt.JTI || claims.Subject != testNpub || claims.NetSats != 980 {
		t.Errorf("certificate claims mismatch: %+v", claims)
	}

	// Settled state reached the vault synchronously.
	snapshot, err := store.LoadAccount(ctx, testNpub)
	if err != nil {
		t.Fatalf("vault load failed: %v", err)
	}
	if snapshot.BalanceSats != 980 {
		t.Errorf("expected persisted balance 980, got %d", snapshot.BalanceSats)
	}

	// The jti landed in the replay window.
	if authority.ReplayWindowSize() != 1 {
		t.Errorf("expected 1 replay entry, got %d", authority.ReplayWindowSize())
	}
}

func TestCertifyMinimumFee(t *testing.T) {
	authority, _, _ := newTestAuthority(t, authorityOptions{})
	mustDeposit(t, authority, testNpub, 100)

	receipt, err := authority.Certify(context.Background(), testNpub, 100)
	if err != nil {
		t.Fatalf("certify failed: %v", err)
	}

	// 2% of 100 is 2, below the 10 sat floor.
	if receipt.TaxPaidSats != 10 {
		t.Errorf("expected minimum fee 10, got %d", receipt.TaxPaidSats)
	}
	if receipt.NetSats != 90 {
		t.Errorf("expected net 90, got %d", receipt.NetSats)
	}
	if receipt.OperatorBalanceSats != 90 {
		t.Errorf("expected remaining balance 90, got %d", receipt.OperatorBalanceSats)
	}
}

func TestCertifyRejectsInvalidInput(t *testing.T) {
	authority, _, _ := newTestAuthority(t, authorityOptions{})
	mustDeposit(t, authority, testNpub, 1000)

	tests := []struct {
		name   string
		npub   string
		amount int64
	}{
		{"zero amount", testNpub, 0},
		{"negative amount", testNpub, -5},
		{"amount above cap", testNpub, MaxPurchaseAmountSats + 1},
		{"malformed npub", "not-an-npub", 100},
		{"reserved supply key", SupplyAccountKey, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := authority.Certify(context.Background(), tt.npub, tt.amount)
			assertCode(t, err, ErrCodeInvalidInput)
		})
	}

	// Nothing was committed by any rejected request.
	view, err := authority.OperatorBalance(context.Background(), testNpub)
	if err != nil {
		t.Fatalf("balance lookup failed: %v", err)
	}
	if view.BalanceSats != 1000 {
		t.Errorf("rejected requests must not touch the balance, got %d", view.BalanceSats)
	}
	if authority.ReplayWindowSize() != 0 {
		t.Errorf("rejected requests must not record jtis, got %d", authority.ReplayWindowSize())
	}
}

func TestCertifyInsufficientBalance(t *testing.T) {
	authority, _, _ := newTestAuthority(t, authorityOptions{})
	mustDeposit(t, authority, testNpub, 10)

	_, err := authority.Certify(context.Background(), testNpub, 1000)
	assertCode(t, err, ErrCodeInsufficientBalance)

	view, err := authority.OperatorBalance(context.Background(), testNpub)
	if err != nil {
		t.Fatalf("balance lookup failed: %v", err)
	}
	if view.BalanceSats != 10 {
		t.Errorf("failed debit must leave balance untouched, got %d", view.BalanceSats)
	}
	if view.TotalConsumedSats != 0 {
		t.Errorf("failed debit must leave consumed untouched, got %d", view.TotalConsumedSats)
	}
}

func TestCertifyWithSupplyLeg(t *testing.T) {
	authority, _, _ := newTestAuthority(t, authorityOptions{supply: true})
	mustDeposit(t, authority, testNpub, 1000)
	mustAddSupply(t, authority, 2000)

	receipt, err := authority.Certify(context.Background(), testNpub, 1000)
	if err != nil {
		t.Fatalf("certify failed: %v", err)
	}

	if receipt.OperatorBalanceSats != 980 {
		t.Errorf("expected operator balance 980, got %d", receipt.OperatorBalanceSats)
	}
	if receipt.SupplyBalanceSats == nil {
		t.Fatal("expected supply balance in receipt")
	}
	// The supply leg reserves the full purchase amount.
	if *receipt.SupplyBalanceSats != 1000 {
		t.Errorf("expected supply balance 1000, got %d", *receipt.SupplyBalanceSats)
	}
}

func TestCertifySupplyShortfallRollsBackOperator(t *testing.T) {
	authority, _, _ := newTestAuthority(t, authorityOptions{supply: true})
	mustDeposit(t, authority, testNpub, 1000)
	mustAddSupply(t, authority, 500)

	_, err := authority.Certify(context.Background(), testNpub, 1000)
	assertCode(t, err, ErrCodeInsufficientSupply)

	operator, err := authority.OperatorBalance(context.Background(), testNpub)
	if err != nil {
		t.Fatalf("balance lookup failed: %v", err)
	}
	if operator.BalanceSats != 1000 {
		t.Errorf("operator must be rolled back to 1000, got %d", operator.BalanceSats)
	}
	if operator.TotalConsumedSats != 0 {
		t.Errorf("rollback must restore consumed total, got %d", operator.TotalConsumedSats)
	}

	supply, err := authority.SupplyBalance(context.Background())
	if err != nil {
		t.Fatalf("supply lookup failed: %v", err)
	}
	if supply.BalanceSats != 500 {
		t.Errorf("supply must be untouched at 500, got %d", supply.BalanceSats)
	}
}

func TestCertifyMembershipDeniedRollsBackBothLegs(t *testing.T) {
	gate := &fakeGate{err: errors.New("npub not found in DPYC registry")}
	authority, _, _ := newTestAuthority(t, authorityOptions{supply: true, gate: gate})
	mustDeposit(t, authority, testNpub, 1000)
	mustAddSupply(t, authority, 2000)

	_, err := authority.Certify(context.Background(), testNpub, 1000)
	assertCode(t, err, ErrCodeMembershipDenied)

	if gate.calls != 1 {
		t.Errorf("expected exactly one membership check, got %d", gate.calls)
	}

	operator, err := authority.OperatorBalance(context.Background(), testNpub)
	if err != nil {
		t.Fatalf("balance lookup failed: %v", err)
	}
	if operator.BalanceSats != 1000 {
		t.Errorf("operator must be rolled back to 1000, got %d", operator.BalanceSats)
	}

	supply, err := authority.SupplyBalance(context.Background())
	if err != nil {
		t.Fatalf("supply lookup failed: %v", err)
	}
	if supply.BalanceSats != 2000 {
		t.Errorf("supply must be rolled back to 2000, got %d", supply.BalanceSats)
	}
}

func TestCertifyMembershipAllowed(t *testing.T) {
	gate := &fakeGate{}
	authority, _, _ := newTestAuthority(t, authorityOptions{gate: gate})
	mustDeposit(t, authority, testNpub, 1000)

	if _, err := authority.Certify(context.Background(), testNpub, 1000); err != nil {
		t.Fatalf("certify failed: %v", err)
	}
	if gate.calls != 1 {
		t.Errorf("expected exactly one membership check, got %d", gate.calls)
	}
}

func TestCertifySigningFailureRollsBack(t *testing.T) {
	authority, _, _ := newTestAuthority(t, authorityOptions{supply: true, signer: failingSigner{}})
	mustDeposit(t, authority, testNpub, 1000)
	mustAddSupply(t, authority, 2000)

	_, err := authority.Certify(context.Background(), testNpub, 1000)
	assertCode(t, err, ErrCodeSigningUnavailable)

	operator, err := authority.OperatorBalance(context.Background(), testNpub)
	if err != nil {
		t.Fatalf("balance lookup failed: %v", err)
	}
	if operator.BalanceSats != 1000 {
		t.Errorf("operator must be rolled back to 1000, got %d", operator.BalanceSats)
	}

	supply, err := authority.SupplyBalance(context.Background())
	if err != nil {
		t.Fatalf("supply lookup failed: %v", err)
	}
	if supply.BalanceSats != 2000 {
		t.Errorf("supply must be rolled back to 2000, got %d", supply.BalanceSats)
	}
}

func TestCertifySucceedsWhenFlushFails(t *testing.T) {
	store := vault.NewMemoryStore()
	authority, _, cache := newTestAuthority(t, authorityOptions{store: store})
	mustDeposit(t, authority, testNpub, 1000)

	// Vault goes down after the deposit. Issuance must still succeed.
	store.SaveErr = func(key string) error { return errors.New("vault offline") }

	receipt, err := authority.Certify(context.Background(), testNpub, 1000)
	if err != nil {
		t.Fatalf("certify must succeed despite flush failure: %v", err)
	}
	if receipt.OperatorBalanceSats != 980 {
		t.Errorf("expected settled balance 980, got %d", receipt.OperatorBalanceSats)
	}

	// The unflushed settlement stays dirty for the background retry.
	if health := cache.Health(); health.DirtyAccounts == 0 {
		t.Errorf("expected dirty account after failed flush, health: %+v", health)
	}
}

func TestDepositReferenceIdempotency(t *testing.T) {
	ctx := context.Background()
	authority, _, _ := newTestAuthority(t, authorityOptions{})

	first, err := authority.Deposit(ctx, testNpub, 500, "invoice-1")
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if !first.Applied {
		t.Error("first deposit must apply")
	}
	if first.Account.BalanceSats != 500 {
		t.Errorf("expected balance 500, got %d", first.Account.BalanceSats)
	}

	second, err := authority.Deposit(ctx, testNpub, 500, "invoice-1")
	if err != nil {
		t.Fatalf("replayed deposit errored: %v", err)
	}
	if second.Applied {
		t.Error("replayed reference must not apply")
	}
	if second.Account.BalanceSats != 500 {
		t.Errorf("replayed deposit must leave balance at 500, got %d", second.Account.BalanceSats)
	}

	// Deposits without a reference always apply.
	third, err := authority.Deposit(ctx, testNpub, 250, "")
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if !third.Applied || third.Account.BalanceSats != 750 {
		t.Errorf("expected fresh deposit to apply, got %+v", third)
	}
}

func TestRegisterOperator(t *testing.T) {
	ctx := context.Background()
	authority, store, _ := newTestAuthority(t, authorityOptions{})

	view, err := authority.RegisterOperator(ctx, testNpub)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if view.Key != testNpub {
		t.Errorf("expected account key %s, got %s", testNpub, view.Key)
	}
	if view.BalanceSats != 0 || view.TotalDepositedSats != 0 || view.TotalConsumedSats != 0 {
		t.Errorf("fresh account must start at zero, got %+v", view)
	}

	// Registration persists the account before any deposit.
	snapshot, err := store.LoadAccount(ctx, testNpub)
	if err != nil {
		t.Fatalf("vault load failed: %v", err)
	}
	if snapshot.BalanceSats != 0 {
		t.Errorf("expected zero persisted balance, got %d", snapshot.BalanceSats)
	}

	// Re-registering reports the current balances without resetting them.
	mustDeposit(t, authority, testNpub, 500)
	view, err = authority.RegisterOperator(ctx, testNpub)
	if err != nil {
		t.Fatalf("re-register failed: %v", err)
	}
	if view.BalanceSats != 500 {
		t.Errorf("re-registration must not reset the balance, got %d", view.BalanceSats)
	}

	_, err = authority.RegisterOperator(ctx, "not-an-npub")
	assertCode(t, err, ErrCodeInvalidInput)
}

func TestDepositValidation(t *testing.T) {
	authority, _, _ := newTestAuthority(t, authorityOptions{})

	_, err := authority.Deposit(context.Background(), testNpub, 0, "")
	assertCode(t, err, ErrCodeInvalidInput)

	_, err = authority.Deposit(context.Background(), "bogus", 100, "")
	assertCode(t, err, ErrCodeInvalidInput)
}

func TestAddSupplyRequiresConfiguration(t *testing.T) {
	authority, _, _ := newTestAuthority(t, authorityOptions{})

	_, err := authority.AddSupply(context.Background(), 1000, "")
	assertCode(t, err, ErrCodeInvalidInput)

	_, err = authority.SupplyBalance(context.Background())
	assertCode(t, err, ErrCodeInvalidInput)
}
