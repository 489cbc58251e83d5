package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dpyc-network/tollbooth-authority/internal/certificate"
	"github.com/dpyc-network/tollbooth-authority/internal/config"
	"github.com/dpyc-network/tollbooth-authority/internal/ledger"
	"github.com/dpyc-network/tollbooth-authority/internal/logger"
	"github.com/dpyc-network/tollbooth-authority/internal/registry"
	"github.com/dpyc-network/tollbooth-authority/internal/replay"
	"github.com/dpyc-network/tollbooth-authority/internal/server"
	"github.com/dpyc-network/tollbooth-authority/internal/server/handlers"
	"github.com/dpyc-network/tollbooth-authority/internal/tollbooth"
	"github.com/dpyc-network/tollbooth-authority/internal/vault"
	"github.com/dpyc-network/tollbooth-authority/internal/version"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/spf13/cobra"
)

//	@title			tollbooth-authority
//	@description	tollbooth-authority issues machine-verifiable usage certificates for the DPYC network: operators pre-pay sats into a ledger account and purchase certificates that prove the usage tax on an amount was settled.
//	@description
//	@description	## Common Error Responses
//	@description	All endpoints may return:
//	@description	- `413` Request body exceeds size limit
//	@description	- `429` Rate limit exceeded
//	@description	- `500` Internal server error
//	@description
//	@description	Individual endpoints document their specific business logic errors.
//	@description
//	@description	## Request Limits
//	@description	All endpoints are protected by:
//	@description	- **Rate limiting**: Configurable requests per second (see env vars) - default 100 rps (set to 0 to disable)
//	@description	- **Request size limits**: Configurable (see env vars) - default 1MB
//	@description
//	@description	Check the X-Max-Request-Size response header for the configured limit.
//	@description
//	@description	The rate limit is set globally and prevents abuse of the service.
//	@description	In production there may be additional protections in place such as per-IP rate limiting provided by the load balancer/reverse proxy.
//	@description
//	@description	## Authentication & Authorization
//	@description
//	@description	Certificate purchases do not require credentials: the operator npub in the request body is the account key, and a purchase only succeeds if that account holds a sufficient pre-paid balance.
//	@description
//	@description	Admin endpoints (deposits, supply top-ups, cache refresh) require the X-Authority-Npub header to match the configured authority identity. They are disabled entirely when no AUTHORITY_NPUB is configured.
//	@description
//	@license.name	MIT

//	@servers.url			https://tollbooth.dpyc.example.com
//	@servers.description	Production server
//	@servers.url			http://localhost:8080
//	@servers.description	Development server

//	@accept		json
//	@produce	json

//	@tag.name			Certificates
//	@tag.description	Purchase and issuance of usage certificates

//	@tag.name			Operators
//	@tag.description	Operator account registration, balances and status

//	@tag.name			Membership
//	@tag.description	DPYC community registry membership probes

//	@tag.name			Admin
//	@tag.description	Treasury operations (deposits, upstream supply top-ups, cache refresh). Requires the X-Authority-Npub header.

//	@tag.name			Common
//	@tag.description	Server API endpoints (jwks, health, readiness, version, etc.)

func main() {
	cmd := &cobra.Command{
		Use:   "tollbooth-server",
		Short: "DPYC tollbooth certification authority server",
		Long:  `Tollbooth authority issues signed certificates proving that the usage tax on a sats amount was paid from an operator's pre-funded account`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	v := version.Get()
	cmd.Version = fmt.Sprintf("%s (built %s, commit %s)", v.Version, v.BuildDate, v.GitCommit)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.NewServerConfig()
	if err != nil {
		log.Printf("failed to load configuration: %v", err.Error())
		os.Exit(1)
	}

	appLogger := logger.InitLogger(logger.ParseLogLevel(cfg.LogLevel), cfg.Environment)

	appLogger.Info("Configuration loaded",
		slog.String("ENVIRONMENT", cfg.Environment),
		slog.String("HOST", cfg.Host),
		slog.Int("PORT", cfg.Port),
		slog.String("LOG_LEVEL", cfg.LogLevel),
		slog.String("CERT_SCHEME", cfg.CertScheme),
		slog.Float64("TAX_RATE_PERCENT", cfg.TaxRatePercent),
		slog.Int64("TAX_MIN_SATS", cfg.TaxMinSats),
		slog.String("DATABASE_URL", cfg.DatabaseURL),
		slog.String("UPSTREAM_AUTHORITY_ADDRESS", cfg.UpstreamAuthorityAddress),
		slog.String("DPYC_REGISTRY_URL", cfg.RegistryURL),
		slog.Bool("DPYC_ENFORCE_MEMBERSHIP", cfg.EnforceMembership),
	)

	store, err := newVaultStore(cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to set up the vault", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ledgerCache := ledger.NewCache(store, cfg.LedgerFlushInterval, appLogger)

	signer, err := certificate.NewSigner(certificate.Scheme(cfg.CertScheme), cfg.SigningKey, cfg.AuthorityNsec)
	if err != nil {
		appLogger.Error("Failed to load certificate signing key", slog.String("error", err.Error()))
		os.Exit(1)
	}

	authorityNpub := cfg.AuthorityNpub
	identity := handlers.AuthorityIdentity{Scheme: cfg.CertScheme}

	var jwkSet jwk.Set
	switch s := signer.(type) {
	case *certificate.TokenSigner:
		jwkSet, err = s.JWKSet()
		if err != nil {
			appLogger.Error("Failed to build the public JWK set", slog.String("error", err.Error()))
			os.Exit(1)
		}
		identity.KeyID = s.KeyID()
	case *certificate.EventSigner:
		identity.EventPublicKey = s.PublicKeyHex()
		// the signing key is the authority's identity unless one is
		// configured explicitly
		if authorityNpub == "" {
			authorityNpub, err = s.AuthorityNpub()
			if err != nil {
				appLogger.Error("Failed to derive the authority npub", slog.String("error", err.Error()))
				os.Exit(1)
			}
		}
	}
	identity.Npub = authorityNpub
	cfg.AuthorityNpub = authorityNpub

	if authorityNpub == "" {
		appLogger.Warn("no AUTHORITY_NPUB configured: admin endpoints are disabled and certificates carry no authority identity")
	}

	var registryClient *registry.Client
	var gate tollbooth.MembershipGate
	if cfg.RegistryURL != "" {
		registryClient = registry.NewClient(cfg.RegistryURL, cfg.RegistryCacheTTL, config.RegistryHTTPTimeout, appLogger)
		if cfg.EnforceMembership {
			gate = registryClient
		}
	}

	authority := tollbooth.NewAuthority(tollbooth.AuthorityConfig{
		Fees: tollbooth.FeePolicy{
			RateBasisPoints: cfg.TaxRateBasisPoints(),
			MinimumSats:     cfg.TaxMinSats,
		},
		Ledger:         ledgerCache,
		Replay:         replay.NewTracker(cfg.ReplayTTL),
		Signer:         signer,
		Gate:           gate,
		SupplyEnabled:  cfg.UpstreamConfigured(),
		CertificateTTL: cfg.CertificateTTL,
		AuthorityNpub:  authorityNpub,
		Logger:         appLogger,
	})

	appLogger.Info("Starting server", slog.String("version", version.Get().Version))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.NewServer(
		authority,
		ledgerCache,
		store,
		registryClient,
		jwkSet,
		identity,
		cfg,
		appLogger,
	)

	defer srv.VaultShutdown()

	if err := srv.Start(ctx); err != nil {
		appLogger.Error("Server error", slog.String("error", err.Error()))
		return err
	}

	appLogger.Info("server shutdown complete")
	return nil
}

// newVaultStore connects the Postgres vault when DATABASE_URL is configured
// and falls back to the in-memory vault otherwise.
func newVaultStore(cfg *config.ServerEnvironment, appLogger *slog.Logger) (vault.Store, error) {
	if cfg.DatabaseURL == "" {
		appLogger.Warn("no DATABASE_URL configured: using the in-memory vault, balances will not survive a restart")
		return vault.NewMemoryStore(), nil
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), cfg.DatabasePingTimeout)
	defer dbCancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.DBMaxConnections
	poolConfig.MinConns = cfg.DBMinConnections
	poolConfig.MaxConnLifetime = cfg.DBMaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.DBMaxConnIdleTime
	poolConfig.ConnConfig.ConnectTimeout = cfg.DBConnectTimeout

	pool, err := pgxpool.NewWithConfig(dbCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(dbCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error pinging database via pool: %w", err)
	}

	appLogger.Info("connected to PostgreSQL")

	store := vault.NewPostgresStore(pool, appLogger)
	if err := store.Migrate(dbCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run vault migrations: %w", err)
	}

	return store, nil
}
