//go:build integration

package integration

// Test environment setup and server lifecycle management.
//
// The integration tests start the tollbooth server in-process with the
// in-memory vault and freshly generated signing keys, and exercise its
// public HTTP API. Nothing is persisted between tests.
//
// By default the server logs are not included in the test output, you can
// enable them with:
//
//	ENABLE_SERVER_LOGS=true go test -tags=integration -v ./test/integration
//

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

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
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// testAuthorityNpub is the authority identity configured on the test server.
// Admin requests must send it in the X-Authority-Npub header.
const testAuthorityNpub = "npub10elfcs4fr0l0r8af98jlmgdh9c8efcm28zye4m8v9mccnrmuzmyq7timum"

// serverOptions configures the in-process test server. The zero value runs
// the jwt scheme without the upstream supply leg and without a DPYC registry.
type serverOptions struct {
	scheme            string
	upstream          bool
	registryURL       string
	enforceMembership bool
}

// testEnv provides access to the running test server.
type testEnv struct {
	baseURL  string
	cfg      *config.ServerEnvironment
	store    *vault.MemoryStore
	signer   certificate.Signer
	shutdown func()
}

// startInProcessServer starts the tollbooth server in-process and returns a
// testEnv with the base URL and a shutdown function.
func startInProcessServer(t *testing.T, opts serverOptions) *testEnv {
	t.Helper()

	if opts.scheme == "" {
		opts.scheme = config.SchemeJWT
	}

	env := &testEnv{}

	t.Log("Starting in-process server...")
	t.Logf("scheme: %s", opts.scheme)

	port := findFreePort(t)

	logLevel := "none"
	if os.Getenv("ENABLE_SERVER_LOGS") == "true" {
		logLevel = "debug"
	}

	testEnvVars := map[string]string{
		"ENVIRONMENT":    "test",
		"HOST":           "localhost",
		"PORT":           fmt.Sprintf("%d", port),
		"LOG_LEVEL":      logLevel,
		"RATE_LIMIT_RPS": "0",

		"CERT_SCHEME":    opts.scheme,
		"AUTHORITY_NPUB": testAuthorityNpub,

		// blank out anything the surrounding environment may have set so the
		// in-memory vault is used and only the generated keys are loaded
		"DATABASE_URL":               "",
		"AUTHORITY_SIGNING_KEY":      "",
		"AUTHORITY_NSEC":             "",
		"UPSTREAM_AUTHORITY_ADDRESS": "",
		"DPYC_REGISTRY_URL":          "",
		"DPYC_ENFORCE_MEMBERSHIP":    "false",
	}

	switch opts.scheme {
	case config.SchemeJWT:
		privateKey, err := certificate.GenerateEd25519KeyPair()
		if err != nil {
			t.Fatalf("Failed to generate signing key: %v", err)
		}
		signingKey, err := certificate.EncodeSigningKey(privateKey)
		if err != nil {
			t.Fatalf("Failed to encode signing key: %v", err)
		}
		testEnvVars["AUTHORITY_SIGNING_KEY"] = signingKey
	case config.SchemeNostrEvent:
		nsec, _, err := certificate.GenerateEventKey()
		if err != nil {
			t.Fatalf("Failed to generate event key: %v", err)
		}
		testEnvVars["AUTHORITY_NSEC"] = nsec
	default:
		t.Fatalf("scheme: %s not supported (use %s or %s)", opts.scheme, config.SchemeJWT, config.SchemeNostrEvent)
	}

	if opts.upstream {
		testEnvVars["UPSTREAM_AUTHORITY_ADDRESS"] = "https://upstream.dpyc.example.com"
	}

	if opts.registryURL != "" {
		testEnvVars["DPYC_REGISTRY_URL"] = opts.registryURL
		if opts.enforceMembership {
			testEnvVars["DPYC_ENFORCE_MEMBERSHIP"] = "true"
		}
	}

	// Save original env vars and set test values
	originalEnvVars := make(map[string]string)
	for key, value := range testEnvVars {
		originalEnvVars[key] = os.Getenv(key)
		os.Setenv(key, value)
	}

	// Restore original environment variables when test completes
	t.Cleanup(func() {
		for key, original := range originalEnvVars {
			if original != "" {
				os.Setenv(key, original)
			} else {
				os.Unsetenv(key)
			}
		}
	})

	cfg, err := config.NewServerConfig()
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}
	env.cfg = cfg

	appLogger := logger.InitLogger(logger.ParseLogLevel(cfg.LogLevel), cfg.Environment)

	env.store = vault.NewMemoryStore()
	ledgerCache := ledger.NewCache(env.store, cfg.LedgerFlushInterval, appLogger)

	signer, err := certificate.NewSigner(certificate.Scheme(cfg.CertScheme), cfg.SigningKey, cfg.AuthorityNsec)
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}
	env.signer = signer

	identity := handlers.AuthorityIdentity{Npub: cfg.AuthorityNpub, Scheme: cfg.CertScheme}

	var jwkSet jwk.Set
	switch s := signer.(type) {
	case *certificate.TokenSigner:
		jwkSet, err = s.JWKSet()
		if err != nil {
			t.Fatalf("Failed to build JWK set: %v", err)
		}
		identity.KeyID = s.KeyID()
	case *certificate.EventSigner:
		identity.EventPublicKey = s.PublicKeyHex()
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
		AuthorityNpub:  cfg.AuthorityNpub,
		Logger:         appLogger,
	})

	serverInstance := server.NewServer(
		authority,
		ledgerCache,
		env.store,
		registryClient,
		jwkSet,
		identity,
		cfg,
		appLogger,
	)

	// Create a cancellable context for server shutdown
	serverCtx, serverCancel := context.WithCancel(context.Background())

	// Start server
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := serverInstance.Start(serverCtx); err != nil {
			serverDone <- err
		}
	}()

	// Create shutdown function to be called by the test
	env.shutdown = func() {
		t.Log("Stopping server...")

		// Cancel the server context to trigger graceful shutdown
		serverCancel()

		// Wait for server to shut down gracefully with timeout
		select {
		case err := <-serverDone:
			if err != nil {
				t.Logf("❌ Server shutdown with error: %v", err)
			} else {
				t.Log("✅ Server shut down gracefully")
			}
		case <-time.After(5 * time.Second):
			t.Log("⚠️ Server shutdown timeout")
		}

		serverInstance.VaultShutdown()
	}

	env.baseURL = fmt.Sprintf("http://localhost:%d", port)
	t.Logf("Starting in-process server at %s", env.baseURL)

	// Wait for server to be ready
	if !waitForServer(t, env.baseURL+"/health/live", 30*time.Second) {
		t.Fatal("Server failed to start within timeout")
	}

	t.Log("✅ Server started")
	return env
}

func findFreePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("Failed to find free port: %v", err)
	}
	defer listener.Close()

	addr := listener.Addr().(*net.TCPAddr)
	return addr.Port
}

func waitForServer(t *testing.T, url string, timeout time.Duration) bool {
	t.Helper()

	client := &http.Client{Timeout: 1 * time.Second}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return true
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}
