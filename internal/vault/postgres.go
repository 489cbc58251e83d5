package vault

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore persists account snapshots in a single ledger_accounts table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore wraps an existing connection pool. The caller owns the
// pool configuration; Close closes the pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: logger,
	}
}

// Migrate applies any pending schema migrations.
//
// Migrations are embedded in the binary, so a fresh database is ready after
// server startup with no external tooling.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	// Goose expects a database/sql handle; closing it returns the
	// connections to the pool without closing the pool itself.
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	s.logger.Info("vault schema is up to date")
	return nil
}

// LoadAccount returns the snapshot for key, or ErrNotFound.
func (s *PostgresStore) LoadAccount(ctx context.Context, key string) (*Snapshot, error) {
	snapshot := &Snapshot{Key: key}

	err := s.pool.QueryRow(ctx, `
		SELECT balance_sats, total_deposited_sats, total_consumed_sats, deposit_refs, updated_at
		FROM ledger_accounts
		WHERE account_key = $1`, key).
		Scan(&snapshot.BalanceSats,
			&snapshot.TotalDepositedSats,
			&snapshot.TotalConsumedSats,
			&snapshot.DepositRefs,
			&snapshot.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", key, err)
	}

	return snapshot, nil
}

// SaveAccount upserts the snapshot under snapshot.Key.
func (s *PostgresStore) SaveAccount(ctx context.Context, snapshot *Snapshot) error {
	refs := snapshot.DepositRefs
	if refs == nil {
		refs = []string{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_accounts (account_key, balance_sats, total_deposited_sats, total_consumed_sats, deposit_refs, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_key) DO UPDATE SET
			balance_sats = EXCLUDED.balance_sats,
			total_deposited_sats = EXCLUDED.total_deposited_sats,
			total_consumed_sats = EXCLUDED.total_consumed_sats,
			deposit_refs = EXCLUDED.deposit_refs,
			updated_at = EXCLUDED.updated_at`,
		snapshot.Key,
		snapshot.BalanceSats,
		snapshot.TotalDepositedSats,
		snapshot.TotalConsumedSats,
		refs,
		time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save account %s: %w", snapshot.Key, err)
	}

	return nil
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("vault database unreachable: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
