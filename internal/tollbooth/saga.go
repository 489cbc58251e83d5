package tollbooth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dpyc-network/tollbooth-authority/internal/certificate"
	"github.com/dpyc-network/tollbooth-authority/internal/ledger"
	"github.com/dpyc-network/tollbooth-authority/internal/registry"
	"github.com/dpyc-network/tollbooth-authority/internal/replay"
)

// SupplyAccountKey is the reserved ledger key holding the upstream supply
// pool. The npub shape check keeps operators from claiming it.
const SupplyAccountKey = "__upstream_supply__"

// Debit reasons recorded in the ledger. Rollbacks reuse them verbatim so a
// compensation always matches the debit it reverses.
const (
	ReasonCertifyPurchase = "certify_purchase"
	ReasonCertifySupply   = "certify_supply"
)

// MaxPurchaseAmountSats caps purchase amounts so the basis-point fee product
// cannot overflow int64.
const MaxPurchaseAmountSats int64 = 100_000_000_000

// persistTimeout bounds the post-issuance vault flush.
const persistTimeout = 5 * time.Second

// MembershipGate is the community registry surface the saga consults when
// enforcement is enabled. Any error is a denial.
type MembershipGate interface {
	CheckMembership(ctx context.Context, npub string) (*registry.Member, error)
}

// AuthorityConfig wires an Authority.
type AuthorityConfig struct {
	Fees   FeePolicy
	Ledger *ledger.Cache
	Replay *replay.Tracker
	Signer certificate.Signer

	// Gate is nil when membership enforcement is disabled.
	Gate MembershipGate

	// SupplyEnabled adds the upstream supply debit leg to every purchase.
	SupplyEnabled bool

	CertificateTTL time.Duration
	AuthorityNpub  string

	Logger *slog.Logger
}

// Authority orchestrates certificate issuance and the treasury operations
// around it: fee collection, the optional upstream supply debit, membership
// gating, signing, and the compensating rollbacks when a later step fails.
type Authority struct {
	fees   FeePolicy
	ledger *ledger.Cache
	replay *replay.Tracker
	signer certificate.Signer
	gate   MembershipGate
	logger *slog.Logger

	supplyEnabled  bool
	certificateTTL time.Duration
	authorityNpub  string
}

// NewAuthority creates an Authority from its wired dependencies.
func NewAuthority(cfg AuthorityConfig) *Authority {
	return &Authority{
		fees:           cfg.Fees,
		ledger:         cfg.Ledger,
		replay:         cfg.Replay,
		signer:         cfg.Signer,
		gate:           cfg.Gate,
		logger:         cfg.Logger,
		supplyEnabled:  cfg.SupplyEnabled,
		certificateTTL: cfg.CertificateTTL,
		authorityNpub:  cfg.AuthorityNpub,
	}
}

// Receipt is the successful outcome of a certification purchase.
type Receipt struct {
	Certificate *certificate.Certificate `json:"certificate"`

	JTI         string    `json:"jti"`
	AmountSats  int64     `json:"amount_sats"`
	TaxPaidSats int64     `json:"tax_paid_sats"`
	NetSats     int64     `json:"net_sats"`
	ExpiresAt   time.Time `json:"expires_at"`

	OperatorBalanceSats int64  `json:"operator_balance_sats"`
	SupplyBalanceSats   *int64 `json:"supply_balance_sats,omitempty"`
}

// DepositResult reports a ledger credit. Applied is false when the deposit
// reference had already been credited; the balances then reflect the earlier
// credit, unchanged.
type DepositResult struct {
	Account   ledger.AccountView `json:"account"`
	Applied   bool               `json:"applied"`
	Reference string             `json:"reference"`
}

// Certify sells one certificate to the operator.
//
// The whole settlement runs inside the ledger's per-account critical section
// (operator + supply when configured), so a rollback restores the exact
// pre-debit state with no interleaved settlements. Once the operator debit
// commits the saga runs to completion or full rollback regardless of request
// cancellation; only the membership fetch honors ctx.
//
// Failures are safe to retry: every error path leaves balances exactly as
// they were. Success is final.
func (a *Authority) Certify(ctx context.Context, operatorNpub string, amountSats int64) (*Receipt, error) {
	if err := certificate.ValidateNpub(operatorNpub); err != nil {
		return nil, NewInvalidInputError(fmt.Sprintf("invalid operator npub: %v", err))
	}
	if amountSats <= 0 {
		return nil, NewInvalidInputError("purchase amount must be a positive number of sats")
	}
	if amountSats > MaxPurchaseAmountSats {
		return nil, NewInvalidInputError(fmt.Sprintf("purchase amount exceeds the maximum of %d sats", MaxPurchaseAmountSats))
	}

	feeSats := a.fees.ComputeFee(amountSats)

	var receipt *Receipt
	var issueErr error

	// The closure reports business failures via issueErr so a non-nil
	// return from the ledger always means the account could not be loaded.
	var err error
	if a.supplyEnabled {
		err = a.ledger.WithAccounts(ctx, operatorNpub, SupplyAccountKey, func(operator, supply *ledger.Account) error {
			receipt, issueErr = a.certifyLocked(ctx, operator, supply, operatorNpub, amountSats, feeSats)
			return nil
		})
	} else {
		err = a.ledger.WithAccount(ctx, operatorNpub, func(operator *ledger.Account) error {
			receipt, issueErr = a.certifyLocked(ctx, operator, nil, operatorNpub, amountSats, feeSats)
			return nil
		})
	}
	if err != nil {
		return nil, WrapPersistenceDegradedError(err, "ledger accounts are unavailable")
	}
	if issueErr != nil {
		return nil, issueErr
	}

	a.flushAfterSettlement(operatorNpub)

	return receipt, nil
}

// certifyLocked runs the settlement steps that must hold the account locks.
// supply is nil when the upstream chain is not configured.
func (a *Authority) certifyLocked(ctx context.Context, operator, supply *ledger.Account, operatorNpub string, amountSats, feeSats int64) (*Receipt, error) {
	if !operator.Debit(ReasonCertifyPurchase, feeSats) {
		return nil, NewInsufficientBalanceError(fmt.Sprintf(
			"operator balance of %d sats cannot cover the %d sat certification fee", operator.Balance(), feeSats))
	}

	supplyDebited := false
	if supply != nil {
		// The supply leg reserves the full purchase amount, not the fee.
		if !supply.Debit(ReasonCertifySupply, amountSats) {
			operator.RollbackDebit(ReasonCertifyPurchase, feeSats)
			return nil, NewInsufficientSupplyError(fmt.Sprintf(
				"upstream supply of %d sats cannot cover a %d sat purchase", supply.Balance(), amountSats))
		}
		supplyDebited = true
	}

	// Compensations run in strict reverse order of the debits above.
	rollback := func() {
		if supplyDebited {
			supply.RollbackDebit(ReasonCertifySupply, amountSats)
		}
		operator.RollbackDebit(ReasonCertifyPurchase, feeSats)
	}

	if a.gate != nil {
		if _, err := a.gate.CheckMembership(ctx, operatorNpub); err != nil {
			rollback()
			return nil, WrapMembershipDeniedError(err, fmt.Sprintf(
				"operator %s is not an active DPYC community member", operatorNpub))
		}
	}

	claims := certificate.NewClaims(operatorNpub, amountSats, feeSats, a.certificateTTL, a.authorityNpub)

	// The replay window is an issuer-side safety net: a fresh uuid landing
	// on a recorded jti is logged, never refused.
	if !a.replay.CheckAndRecord(claims.JTI) {
		a.logger.Warn("freshly generated jti was already in the replay window",
			slog.String("jti", claims.JTI))
	}

	cert, err := a.signer.Sign(claims)
	if err != nil {
		rollback()
		return nil, WrapSigningUnavailableError(err, "certificate signing failed")
	}

	receipt := &Receipt{
		Certificate:         cert,
		JTI:                 claims.JTI,
		AmountSats:          amountSats,
		TaxPaidSats:         feeSats,
		NetSats:             claims.NetSats,
		ExpiresAt:           claims.ExpiresAt,
		OperatorBalanceSats: operator.Balance(),
	}
	if supply != nil {
		balance := supply.Balance()
		receipt.SupplyBalanceSats = &balance
	}

	a.ledger.MarkDirty(operatorNpub)
	if supplyDebited {
		a.ledger.MarkDirty(SupplyAccountKey)
	}

	a.logger.Info("certificate issued",
		slog.String("jti", claims.JTI),
		slog.String("operator_npub", operatorNpub),
		slog.Int64("amount_sats", amountSats),
		slog.Int64("tax_paid_sats", feeSats),
		slog.Int64("net_sats", claims.NetSats),
		slog.String("scheme", string(a.signer.Scheme())))

	return receipt, nil
}

// flushAfterSettlement pushes settled balances to the vault. A failure here
// is logged and left to the background flush loop: the signed certificate is
// already the record of truth and is never unwound.
func (a *Authority) flushAfterSettlement(operatorNpub string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := a.ledger.FlushAccount(ctx, operatorNpub); err != nil {
		a.logger.Error("settled balance flush failed, account stays dirty for retry",
			slog.String("account", operatorNpub),
			slog.String("error", err.Error()))
	}
	if a.supplyEnabled {
		if err := a.ledger.FlushAccount(ctx, SupplyAccountKey); err != nil {
			a.logger.Error("settled balance flush failed, account stays dirty for retry",
				slog.String("account", SupplyAccountKey),
				slog.String("error", err.Error()))
		}
	}
}

// Deposit credits an operator balance. When reference is empty a fresh one is
// generated, making the credit unconditional; a caller-supplied reference is
// applied at most once.
func (a *Authority) Deposit(ctx context.Context, operatorNpub string, amountSats int64, reference string) (*DepositResult, error) {
	if err := certificate.ValidateNpub(operatorNpub); err != nil {
		return nil, NewInvalidInputError(fmt.Sprintf("invalid operator npub: %v", err))
	}
	if amountSats <= 0 {
		return nil, NewInvalidInputError("deposit amount must be a positive number of sats")
	}
	if reference == "" {
		reference = "deposit-" + uuid.NewString()
	}

	result, err := a.credit(ctx, operatorNpub, amountSats, reference)
	if err != nil {
		return nil, err
	}

	a.logger.Info("operator deposit",
		slog.String("operator_npub", operatorNpub),
		slog.Int64("amount_sats", amountSats),
		slog.String("reference", reference),
		slog.Bool("applied", result.Applied))

	return result, nil
}

// AddSupply credits the upstream supply pool.
func (a *Authority) AddSupply(ctx context.Context, amountSats int64, reference string) (*DepositResult, error) {
	if !a.supplyEnabled {
		return nil, NewInvalidInputError("upstream supply is not configured")
	}
	if amountSats <= 0 {
		return nil, NewInvalidInputError("supply amount must be a positive number of sats")
	}
	if reference == "" {
		reference = "supply-" + uuid.NewString()
	}

	result, err := a.credit(ctx, SupplyAccountKey, amountSats, reference)
	if err != nil {
		return nil, err
	}

	a.logger.Info("upstream supply credited",
		slog.Int64("amount_sats", amountSats),
		slog.String("reference", reference),
		slog.Bool("applied", result.Applied))

	return result, nil
}

func (a *Authority) credit(ctx context.Context, key string, amountSats int64, reference string) (*DepositResult, error) {
	result := &DepositResult{Reference: reference}

	err := a.ledger.WithAccount(ctx, key, func(account *ledger.Account) error {
		result.Applied = account.CreditDeposit(amountSats, reference)
		result.Account = ledger.AccountView{
			Key:                account.Key(),
			BalanceSats:        account.Balance(),
			TotalDepositedSats: account.TotalDeposited(),
			TotalConsumedSats:  account.TotalConsumed(),
		}
		if result.Applied {
			a.ledger.MarkDirty(key)
		}
		return nil
	})
	if err != nil {
		return nil, WrapPersistenceDegradedError(err, "ledger account is unavailable")
	}

	if result.Applied {
		a.flushCredit(key)
	}

	return result, nil
}

func (a *Authority) flushCredit(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := a.ledger.FlushAccount(ctx, key); err != nil {
		a.logger.Error("deposit flush failed, account stays dirty for retry",
			slog.String("account", key),
			slog.String("error", err.Error()))
	}
}

// RegisterOperator ensures a ledger account exists for the npub and flushes
// it immediately, so the operator is visible in the vault before their first
// deposit. Re-registering is a no-op that returns the current balances.
func (a *Authority) RegisterOperator(ctx context.Context, operatorNpub string) (ledger.AccountView, error) {
	if err := certificate.ValidateNpub(operatorNpub); err != nil {
		return ledger.AccountView{}, NewInvalidInputError(fmt.Sprintf("invalid operator npub: %v", err))
	}

	var view ledger.AccountView
	err := a.ledger.WithAccount(ctx, operatorNpub, func(account *ledger.Account) error {
		view = ledger.AccountView{
			Key:                account.Key(),
			BalanceSats:        account.Balance(),
			TotalDepositedSats: account.TotalDeposited(),
			TotalConsumedSats:  account.TotalConsumed(),
		}
		a.ledger.MarkDirty(operatorNpub)
		return nil
	})
	if err != nil {
		return ledger.AccountView{}, WrapPersistenceDegradedError(err, "ledger account is unavailable")
	}

	a.flushCredit(operatorNpub)

	a.logger.Info("operator registered",
		slog.String("operator_npub", operatorNpub),
		slog.Int64("balance_sats", view.BalanceSats))

	return view, nil
}

// OperatorBalance returns the operator's balances, creating the account
// lazily on first sight.
func (a *Authority) OperatorBalance(ctx context.Context, operatorNpub string) (ledger.AccountView, error) {
	if err := certificate.ValidateNpub(operatorNpub); err != nil {
		return ledger.AccountView{}, NewInvalidInputError(fmt.Sprintf("invalid operator npub: %v", err))
	}

	view, err := a.ledger.Get(ctx, operatorNpub)
	if err != nil {
		return ledger.AccountView{}, WrapPersistenceDegradedError(err, "ledger account is unavailable")
	}
	return view, nil
}

// SupplyBalance returns the upstream supply pool balances.
func (a *Authority) SupplyBalance(ctx context.Context) (ledger.AccountView, error) {
	if !a.supplyEnabled {
		return ledger.AccountView{}, NewInvalidInputError("upstream supply is not configured")
	}

	view, err := a.ledger.Get(ctx, SupplyAccountKey)
	if err != nil {
		return ledger.AccountView{}, WrapPersistenceDegradedError(err, "ledger account is unavailable")
	}
	return view, nil
}

// SupplyEnabled reports whether purchases carry the upstream supply leg.
func (a *Authority) SupplyEnabled() bool { return a.supplyEnabled }

// MembershipEnforced reports whether purchases require registry membership.
func (a *Authority) MembershipEnforced() bool { return a.gate != nil }

// Scheme returns the configured certificate scheme.
func (a *Authority) Scheme() certificate.Scheme { return a.signer.Scheme() }

// AuthorityNpub returns the authority's configured public identity, or ""
// when none is set.
func (a *Authority) AuthorityNpub() string { return a.authorityNpub }

// CertificateTTL returns the validity window stamped into issued certificates.
func (a *Authority) CertificateTTL() time.Duration { return a.certificateTTL }

// Fees returns the fee policy, for status reporting.
func (a *Authority) Fees() FeePolicy { return a.fees }

// ReplayWindowSize returns the live replay-guard entry count.
func (a *Authority) ReplayWindowSize() int { return a.replay.Size() }
