package config

import (
	"fmt"
	"math"
	"time"

	"github.com/Netflix/go-env"
)

// Internal timeouts that are not configurable via environment variables
const (
	ServerShutdownTimeout = 10 * time.Second

	// RegistryHTTPTimeout bounds the DPYC registry membership fetch.
	// A timeout is treated the same as any other fetch failure (fail closed).
	RegistryHTTPTimeout = 10 * time.Second
)

// Certificate signing schemes selectable via CERT_SCHEME
const (
	SchemeJWT        = "jwt"
	SchemeNostrEvent = "nostr-event"
)

// Environment variables with defaults
type ServerEnvironment struct {

	// http server settings
	Environment    string        `env:"ENVIRONMENT,default=dev"`
	Host           string        `env:"HOST,default=0.0.0.0"`
	Port           int           `env:"PORT,default=8080"`
	LogLevel       string        `env:"LOG_LEVEL,default=debug"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT,default=15s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT,default=15s"`
	IdleTimeout    time.Duration `env:"IDLE_TIMEOUT,default=60s"`
	RateLimitRPS   int32         `env:"RATE_LIMIT_RPS,default=100"`
	RateLimitBurst int32         `env:"RATE_LIMIT_BURST,default=200"`
	MaxRequestSize int64         `env:"MAX_REQUEST_SIZE,default=1048576"`

	// tax and certificate settings
	TaxRatePercent float64       `env:"TAX_RATE_PERCENT,default=2.0"`
	TaxMinSats     int64         `env:"TAX_MIN_SATS,default=10"`
	CertificateTTL time.Duration `env:"CERTIFICATE_TTL,default=10m"`
	ReplayTTL      time.Duration `env:"REPLAY_TTL,default=10m"`

	// certificate signing scheme and key material.
	// AUTHORITY_SIGNING_KEY is a base64-encoded PKCS#8 PEM Ed25519 private key (jwt scheme).
	// AUTHORITY_NSEC is a bech32 nsec secp256k1 secret key (nostr-event scheme).
	CertScheme    string `env:"CERT_SCHEME,default=jwt"`
	SigningKey    string `env:"AUTHORITY_SIGNING_KEY"`
	AuthorityNsec string `env:"AUTHORITY_NSEC"`

	// AuthorityNpub is the authority's own DPYC identity. When set it is
	// included in issued certificates as the authority_npub claim and is
	// required in the X-Authority-Npub header for admin endpoints.
	AuthorityNpub string `env:"AUTHORITY_NPUB"`

	// upstream chain settings - when UPSTREAM_AUTHORITY_ADDRESS is set this
	// authority operates as a reseller: every certification also debits the
	// shared upstream supply account by the full purchase amount.
	UpstreamAuthorityAddress string  `env:"UPSTREAM_AUTHORITY_ADDRESS"`
	UpstreamTaxPercent       float64 `env:"UPSTREAM_TAX_PERCENT,default=0"`

	// DPYC community registry settings
	RegistryURL       string        `env:"DPYC_REGISTRY_URL"`
	RegistryCacheTTL  time.Duration `env:"DPYC_REGISTRY_CACHE_TTL,default=5m"`
	EnforceMembership bool          `env:"DPYC_ENFORCE_MEMBERSHIP,default=false"`

	// ledger persistence settings.
	// DATABASE_URL is optional - when empty the service runs with the
	// in-memory vault (balances do not survive a restart).
	DatabaseURL         string        `env:"DATABASE_URL"`
	LedgerFlushInterval time.Duration `env:"LEDGER_FLUSH_INTERVAL,default=30s"`
	DBMaxConnections    int32         `env:"DB_MAX_CONNECTIONS,default=4"`
	DBMinConnections    int32         `env:"DB_MIN_CONNECTIONS,default=0"`
	DBMaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME,default=60m"`
	DBMaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME,default=30m"`
	DBConnectTimeout    time.Duration `env:"DB_CONNECT_TIMEOUT,default=5s"`
	DatabasePingTimeout time.Duration `env:"DATABASE_PING_TIMEOUT,default=10s"`
}

var validEnvs = map[string]bool{
	"dev":     true,
	"test":    true,
	"prod":    true,
	"staging": true,
}

// NewServerConfig loads environment variables and returns a ServerEnvironment struct that contains the values
func NewServerConfig() (*ServerEnvironment, error) {
	var cfg ServerEnvironment

	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal environment variables: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// TaxRateBasisPoints converts the configured percentage rate to basis points
// so that fee arithmetic stays in exact integers (2.0% -> 200 bps).
func (cfg *ServerEnvironment) TaxRateBasisPoints() int64 {
	return int64(math.Round(cfg.TaxRatePercent * 100))
}

// UpstreamConfigured reports whether this authority is chained to an upstream
// supply pool.
func (cfg *ServerEnvironment) UpstreamConfigured() bool {
	return cfg.UpstreamAuthorityAddress != ""
}

// validateConfig checks for required env variables
func validateConfig(cfg *ServerEnvironment) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if !validEnvs[cfg.Environment] {
		return fmt.Errorf("invalid ENVIRONMENT: %s", cfg.Environment)
	}

	switch cfg.CertScheme {
	case SchemeJWT:
		if cfg.SigningKey == "" {
			return fmt.Errorf("AUTHORITY_SIGNING_KEY is required when CERT_SCHEME=%s", SchemeJWT)
		}
	case SchemeNostrEvent:
		if cfg.AuthorityNsec == "" {
			return fmt.Errorf("AUTHORITY_NSEC is required when CERT_SCHEME=%s", SchemeNostrEvent)
		}
	default:
		return fmt.Errorf("invalid CERT_SCHEME: %s (must be %q or %q)", cfg.CertScheme, SchemeJWT, SchemeNostrEvent)
	}

	if cfg.TaxRatePercent < 0 {
		return fmt.Errorf("TAX_RATE_PERCENT must be 0 or greater")
	}
	if cfg.TaxMinSats < 0 {
		return fmt.Errorf("TAX_MIN_SATS must be 0 or greater")
	}
	if cfg.CertificateTTL <= 0 {
		return fmt.Errorf("CERTIFICATE_TTL must be greater than zero")
	}
	if cfg.ReplayTTL <= 0 {
		return fmt.Errorf("REPLAY_TTL must be greater than zero")
	}
	if cfg.RegistryCacheTTL <= 0 {
		return fmt.Errorf("DPYC_REGISTRY_CACHE_TTL must be greater than zero")
	}
	if cfg.EnforceMembership && cfg.RegistryURL == "" {
		return fmt.Errorf("DPYC_REGISTRY_URL is required when DPYC_ENFORCE_MEMBERSHIP is enabled")
	}
	if cfg.LedgerFlushInterval <= 0 {
		return fmt.Errorf("LEDGER_FLUSH_INTERVAL must be greater than zero")
	}

	// Validate database pool configuration (only relevant when a vault
	// database is configured)
	if cfg.DatabaseURL != "" {
		if cfg.DBMaxConnections < 1 {
			return fmt.Errorf("DB_MAX_CONNECTIONS must be at least 1")
		}
		if cfg.DBMinConnections < 0 {
			return fmt.Errorf("DB_MIN_CONNECTIONS must be 0 or greater")
		}
		if cfg.DBMinConnections > cfg.DBMaxConnections {
			return fmt.Errorf("DB_MIN_CONNECTIONS (%d) cannot be greater than DB_MAX_CONNECTIONS (%d)",
				cfg.DBMinConnections, cfg.DBMaxConnections)
		}
	}

	return nil
}
