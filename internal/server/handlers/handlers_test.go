package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dpyc-network/tollbooth-authority/internal/certificate"
	"github.com/dpyc-network/tollbooth-authority/internal/ledger"
	"github.com/dpyc-network/tollbooth-authority/internal/registry"
	"github.com/dpyc-network/tollbooth-authority/internal/replay"
	"github.com/dpyc-network/tollbooth-authority/internal/tollbooth"
	"github.com/dpyc-network/tollbooth-authority/internal/vault"
)

const testNpub = "npub10elfcs4fr0l0r8af98jlmgdh9c8efcm28zye4m8v9mccnrmuzmyq7timum"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type testEnv struct {
	authority *tollbooth.Authority
	store     *vault.MemoryStore
	cache     *ledger.Cache
	signer    *certificate.TokenSigner
}

func newTestEnv(t *testing.T, supplyEnabled bool) *testEnv {
	t.Helper()

	store := vault.NewMemoryStore()
	cache := ledger.NewCache(store, 0, testLogger())

	privateKey, err := certificate.GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}
	signer, err := certificate.NewTokenSigner(privateKey)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	authority := tollbooth.NewAuthority(tollbooth.AuthorityConfig{
		Fees:           tollbooth.FeePolicy{RateBasisPoints: 200, MinimumSats: 10},
		Ledger:         cache,
		Replay:         replay.NewTracker(10 * time.Minute),
		Signer:         signer,
		SupplyEnabled:  supplyEnabled,
		CertificateTTL: 10 * time.Minute,
		Logger:         testLogger(),
	})

	return &testEnv{authority: authority, store: store, cache: cache, signer: signer}
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request body: %v", err)
	}

	req := httptest.NewRequest("POST", path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeErrorResponse(t *testing.T, rr *httptest.ResponseRecorder) tollbooth.ErrorResponse {
	t.Helper()

	var envelope tollbooth.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode error envelope: %v (body: %s)", err, rr.Body.String())
	}
	return envelope
}

func TestIssueCertificateEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	if _, err := env.authority.Deposit(context.Background(), testNpub, 1000, ""); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	router := chi.NewRouter()
	router.Post("/api/v1/certificates", HandleIssueCertificate(env.authority))

	t.Run("successful purchase", func(t *testing.T) {
		rr := postJSON(t, router, "/api/v1/certificates", CertificateRequest{
			Npub:       testNpub,
			AmountSats: 1000,
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("got status %d, want %d (body: %s)", rr.Code, http.StatusOK, rr.Body.String())
		}

		var receipt tollbooth.Receipt
		if err := json.Unmarshal(rr.Body.Bytes(), &receipt); err != nil {
			t.Fatalf("failed to decode receipt: %v", err)
		}
		if receipt.TaxPaidSats != 20 || receipt.NetSats != 980 {
			t.Errorf("unexpected receipt amounts: fee %d net %d", receipt.TaxPaidSats, receipt.NetSats)
		}
		if receipt.Certificate == nil || receipt.Certificate.JWT == "" {
			t.Fatal("expected a JWT certificate in the receipt")
		}

		claims, err := certificate.VerifyToken(receipt.Certificate.JWT, env.signer.PublicKey())
		if err != nil {
			t.Fatalf("certificate does not verify: %v", err)
		}
		if claims.Subject != testNpub {
			t.Errorf("expected subject %s, got %s", testNpub, claims.Subject)
		}
	})

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  tollbooth.ErrorCode
	}{
		{
			name:     "malformed body",
			body:     `{"npub": 12`,
			wantCode: http.StatusBadRequest,
			wantErr:  tollbooth.ErrCodeMalformedRequest,
		},
		{
			name:     "invalid npub",
			body:     `{"npub":"nobody","amount_sats":100}`,
			wantCode: http.StatusBadRequest,
			wantErr:  tollbooth.ErrCodeInvalidInput,
		},
		{
			name:     "non-positive amount",
			body:     fmt.Sprintf(`{"npub":%q,"amount_sats":-5}`, testNpub),
			wantCode: http.StatusBadRequest,
			wantErr:  tollbooth.ErrCodeInvalidInput,
		},
		{
			name:     "insufficient balance",
			body:     fmt.Sprintf(`{"npub":%q,"amount_sats":100000}`, testNpub),
			wantCode: http.StatusPaymentRequired,
			wantErr:  tollbooth.ErrCodeInsufficientBalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/certificates", bytes.NewReader([]byte(tt.body)))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tt.wantCode {
				t.Fatalf("got status %d, want %d (body: %s)", rr.Code, tt.wantCode, rr.Body.String())
			}

			envelope := decodeErrorResponse(t, rr)
			if envelope.ErrorCode != tt.wantErr {
				t.Errorf("got error code %d, want %d", envelope.ErrorCode, tt.wantErr)
			}
			if envelope.Message == "" {
				t.Error("error envelope must carry a message")
			}
		})
	}
}

func TestOperatorEndpoints(t *testing.T) {
	env := newTestEnv(t, false)

	router := chi.NewRouter()
	router.Post("/api/v1/operators", HandleRegisterOperator(env.authority))
	router.Get("/api/v1/operators/{npub}/balance", HandleOperatorBalance(env.authority))
	router.Get("/api/v1/operators/{npub}/status", HandleOperatorStatus(env.authority, env.store, env.cache, AuthorityIdentity{
		Scheme: "jwt",
		KeyID:  env.signer.KeyID(),
	}))

	t.Run("register is idempotent", func(t *testing.T) {
		for range 2 {
			rr := postJSON(t, router, "/api/v1/operators", OperatorRequest{Npub: testNpub})
			if rr.Code != http.StatusOK {
				t.Fatalf("got status %d, want %d (body: %s)", rr.Code, http.StatusOK, rr.Body.String())
			}
		}

		// Registration persisted the account.
		if _, err := env.store.LoadAccount(context.Background(), testNpub); err != nil {
			t.Errorf("registered account missing from vault: %v", err)
		}
	})

	t.Run("register rejects invalid npub", func(t *testing.T) {
		rr := postJSON(t, router, "/api/v1/operators", OperatorRequest{Npub: "nobody"})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("got status %d, want %d", rr.Code, http.StatusBadRequest)
		}
	})

	t.Run("balance after deposit", func(t *testing.T) {
		if _, err := env.authority.Deposit(context.Background(), testNpub, 500, ""); err != nil {
			t.Fatalf("deposit failed: %v", err)
		}

		req := httptest.NewRequest("GET", "/api/v1/operators/"+testNpub+"/balance", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
		}

		var view ledger.AccountView
		if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
			t.Fatalf("failed to decode balance: %v", err)
		}
		if view.BalanceSats != 500 {
			t.Errorf("expected balance 500, got %d", view.BalanceSats)
		}
	})

	t.Run("status reports authority and vault health", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/operators/"+testNpub+"/status", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
		}

		var status OperatorStatusResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
			t.Fatalf("failed to decode status: %v", err)
		}
		if status.Authority.KeyID != env.signer.KeyID() {
			t.Errorf("expected authority key id %s, got %s", env.signer.KeyID(), status.Authority.KeyID)
		}
		if !status.Vault.Reachable {
			t.Error("expected vault to be reported reachable")
		}
		if status.Upstream != nil {
			t.Error("upstream section must be absent when no supply is configured")
		}
	})
}

func TestAdminDepositEndpoint(t *testing.T) {
	env := newTestEnv(t, false)

	router := chi.NewRouter()
	router.Post("/api/v1/admin/deposits", HandleAdminDeposit(env.authority))

	t.Run("first deposit applies", func(t *testing.T) {
		rr := postJSON(t, router, "/api/v1/admin/deposits", DepositRequest{
			Npub:       testNpub,
			AmountSats: 500,
			Reference:  "invoice-1",
		})

		if rr.Code != http.StatusCreated {
			t.Fatalf("got status %d, want %d (body: %s)", rr.Code, http.StatusCreated, rr.Body.String())
		}

		var result tollbooth.DepositResult
		if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to decode result: %v", err)
		}
		if !result.Applied || result.Account.BalanceSats != 500 {
			t.Errorf("unexpected result: %+v", result)
		}
	})

	t.Run("replayed reference does not apply", func(t *testing.T) {
		rr := postJSON(t, router, "/api/v1/admin/deposits", DepositRequest{
			Npub:       testNpub,
			AmountSats: 500,
			Reference:  "invoice-1",
		})

		if rr.Code != http.StatusOK {
			t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
		}

		var result tollbooth.DepositResult
		if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to decode result: %v", err)
		}
		if result.Applied || result.Account.BalanceSats != 500 {
			t.Errorf("replayed deposit must not change the balance: %+v", result)
		}
	})

	t.Run("invalid amount", func(t *testing.T) {
		rr := postJSON(t, router, "/api/v1/admin/deposits", DepositRequest{
			Npub:       testNpub,
			AmountSats: 0,
		})

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("got status %d, want %d", rr.Code, http.StatusBadRequest)
		}
	})
}

func TestAdminSupplyEndpoint(t *testing.T) {
	t.Run("rejected when upstream not configured", func(t *testing.T) {
		env := newTestEnv(t, false)

		router := chi.NewRouter()
		router.Post("/api/v1/admin/supply", HandleAdminSupply(env.authority))

		rr := postJSON(t, router, "/api/v1/admin/supply", SupplyRequest{AmountSats: 1000})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("got status %d, want %d", rr.Code, http.StatusBadRequest)
		}
	})

	t.Run("credits the supply account", func(t *testing.T) {
		env := newTestEnv(t, true)

		router := chi.NewRouter()
		router.Post("/api/v1/admin/supply", HandleAdminSupply(env.authority))

		rr := postJSON(t, router, "/api/v1/admin/supply", SupplyRequest{AmountSats: 1000})
		if rr.Code != http.StatusCreated {
			t.Fatalf("got status %d, want %d (body: %s)", rr.Code, http.StatusCreated, rr.Body.String())
		}

		var result tollbooth.DepositResult
		if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to decode result: %v", err)
		}
		if result.Account.BalanceSats != 1000 {
			t.Errorf("expected supply balance 1000, got %d", result.Account.BalanceSats)
		}
		if result.Reference == "" {
			t.Error("expected a generated reference")
		}
	})
}

func TestAdminRefreshEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	if _, err := env.authority.Deposit(context.Background(), testNpub, 100, ""); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	router := chi.NewRouter()
	router.Post("/api/v1/admin/refresh", HandleAdminRefresh(env.cache, nil))

	req := httptest.NewRequest("POST", "/api/v1/admin/refresh", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d (body: %s)", rr.Code, http.StatusOK, rr.Body.String())
	}

	var response RefreshResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Ledger.DirtyAccounts != 0 {
		t.Errorf("expected no dirty accounts after refresh, got %d", response.Ledger.DirtyAccounts)
	}
	if response.RegistryInvalidated {
		t.Error("registry must not be reported invalidated without a client")
	}
}

func TestMembershipProbeEndpoint(t *testing.T) {
	t.Run("no registry configured", func(t *testing.T) {
		router := chi.NewRouter()
		router.Get("/api/v1/membership/{npub}", HandleMembershipProbe(nil))

		req := httptest.NewRequest("GET", "/api/v1/membership/"+testNpub, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Fatalf("got status %d, want %d", rr.Code, http.StatusNotFound)
		}
	})

	t.Run("active member", func(t *testing.T) {
		registryServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `[{"npub":%q,"status":"active","name":"alice"}]`, testNpub)
		}))
		defer registryServer.Close()

		client := registry.NewClient(registryServer.URL, time.Minute, 5*time.Second, testLogger())

		router := chi.NewRouter()
		router.Get("/api/v1/membership/{npub}", HandleMembershipProbe(client))

		req := httptest.NewRequest("GET", "/api/v1/membership/"+testNpub, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("got status %d, want %d (body: %s)", rr.Code, http.StatusOK, rr.Body.String())
		}

		var member registry.Member
		if err := json.Unmarshal(rr.Body.Bytes(), &member); err != nil {
			t.Fatalf("failed to decode member: %v", err)
		}
		if member.Name != "alice" {
			t.Errorf("expected member alice, got %+v", member)
		}
	})

	t.Run("unknown npub denied", func(t *testing.T) {
		registryServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `[]`)
		}))
		defer registryServer.Close()

		client := registry.NewClient(registryServer.URL, time.Minute, 5*time.Second, testLogger())

		router := chi.NewRouter()
		router.Get("/api/v1/membership/{npub}", HandleMembershipProbe(client))

		req := httptest.NewRequest("GET", "/api/v1/membership/"+testNpub, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusForbidden {
			t.Fatalf("got status %d, want %d", rr.Code, http.StatusForbidden)
		}

		envelope := decodeErrorResponse(t, rr)
		if envelope.ErrorCode != tollbooth.ErrCodeMembershipDenied {
			t.Errorf("got error code %d, want %d", envelope.ErrorCode, tollbooth.ErrCodeMembershipDenied)
		}
	})
}

func TestJWKSEndpoints(t *testing.T) {
	t.Run("jwt scheme serves the key set", func(t *testing.T) {
		env := newTestEnv(t, false)

		jwkSet, err := env.signer.JWKSet()
		if err != nil {
			t.Fatalf("failed to build JWK set: %v", err)
		}

		router := chi.NewRouter()
		router.Get("/.well-known/jwks.json", HandleJWKS(jwkSet))

		req := httptest.NewRequest("GET", "/.well-known/jwks.json", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
		}

		var response JWKSResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
			t.Fatalf("failed to decode JWK set: %v", err)
		}
		if len(response.Keys) != 1 {
			t.Fatalf("expected 1 key, got %d", len(response.Keys))
		}
		if kid, ok := response.Keys[0]["kid"].(string); !ok || kid != env.signer.KeyID() {
			t.Errorf("expected kid %s, got %v", env.signer.KeyID(), response.Keys[0]["kid"])
		}
	})

	t.Run("event scheme returns not found", func(t *testing.T) {
		router := chi.NewRouter()
		router.Get("/.well-known/jwks.json", HandleJWKSNotAvailable())

		req := httptest.NewRequest("GET", "/.well-known/jwks.json", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Fatalf("got status %d, want %d", rr.Code, http.StatusNotFound)
		}

		envelope := decodeErrorResponse(t, rr)
		if envelope.ErrorCode != tollbooth.ErrCodeNotFound {
			t.Errorf("got error code %d, want %d", envelope.ErrorCode, tollbooth.ErrCodeNotFound)
		}
	})
}

func TestReadinessEndpoint(t *testing.T) {
	env := newTestEnv(t, false)

	router := chi.NewRouter()
	router.Get("/health/ready", HandleReadiness(env.store))

	req := httptest.NewRequest("GET", "/health/ready", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}

	env.store.PingErr = fmt.Errorf("vault offline")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/health/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestServiceStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, true)

	identity := AuthorityIdentity{Scheme: "jwt", KeyID: env.signer.KeyID()}

	router := chi.NewRouter()
	router.Get("/api/v1/service/status", HandleServiceStatus(env.authority, identity, "1.2.3", "2026-01-01T00:00:00Z", time.Now().Add(-time.Minute)))

	req := httptest.NewRequest("GET", "/api/v1/service/status", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}

	var status ServiceStatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if status.Version != "1.2.3" {
		t.Errorf("expected version 1.2.3, got %s", status.Version)
	}
	if status.FeeRateBasisPoints != 200 || status.FeeMinimumSats != 10 {
		t.Errorf("unexpected fee policy: %+v", status)
	}
	if !status.SupplyEnabled {
		t.Error("expected supply to be reported enabled")
	}
	if status.UptimeSeconds < 60 {
		t.Errorf("expected uptime of at least 60s, got %d", status.UptimeSeconds)
	}
}
