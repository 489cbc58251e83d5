package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/dpyc-network/tollbooth-authority/internal/config"
	"github.com/dpyc-network/tollbooth-authority/internal/ledger"
	"github.com/dpyc-network/tollbooth-authority/internal/logger"
	"github.com/dpyc-network/tollbooth-authority/internal/registry"
	"github.com/dpyc-network/tollbooth-authority/internal/server/handlers"
	"github.com/dpyc-network/tollbooth-authority/internal/server/middleware"
	"github.com/dpyc-network/tollbooth-authority/internal/tollbooth"
	"github.com/dpyc-network/tollbooth-authority/internal/vault"
	"github.com/dpyc-network/tollbooth-authority/internal/version"
)

type Server struct {
	authority *tollbooth.Authority
	ledger    *ledger.Cache
	store     vault.Store

	// registryClient is nil when no DPYC registry URL is configured.
	registryClient *registry.Client

	// jwkSet holds the signing public key under the jwt scheme, nil under
	// the nostr-event scheme.
	jwkSet jwk.Set

	identity  handlers.AuthorityIdentity
	config    *config.ServerEnvironment
	logger    *slog.Logger
	router    *chi.Mux
	startedAt time.Time
}

func NewServer(
	authority *tollbooth.Authority,
	ledgerCache *ledger.Cache,
	store vault.Store,
	registryClient *registry.Client,
	jwkSet jwk.Set,
	identity handlers.AuthorityIdentity,
	cfg *config.ServerEnvironment,
	logger *slog.Logger,
) *Server {
	server := &Server{
		authority:      authority,
		ledger:         ledgerCache,
		store:          store,
		registryClient: registryClient,
		jwkSet:         jwkSet,
		identity:       identity,
		config:         cfg,
		logger:         logger,
		router:         chi.NewRouter(),
		startedAt:      time.Now(),
	}

	server.setupMiddleware()
	server.registerRoutes()

	return server
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(logger.RequestLogging(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(chimiddleware.Timeout(60 * time.Second))
	s.router.Use(middleware.SecurityHeaders(s.config.Environment))
	s.router.Use(middleware.RequestSizeLimit(s.config.MaxRequestSize))
	s.router.Use(middleware.RateLimit(s.config.RateLimitRPS, s.config.RateLimitBurst))
}

func (s *Server) registerRoutes() {
	s.router.Get("/health/live", handlers.HandleHealth)
	s.router.Get("/health/ready", handlers.HandleReadiness(s.store))
	s.router.Get("/version", handlers.HandleVersion(version.Version, version.BuildDate))

	if s.jwkSet != nil {
		s.router.Get("/.well-known/jwks.json", handlers.HandleJWKS(s.jwkSet))
	} else {
		s.router.Get("/.well-known/jwks.json", handlers.HandleJWKSNotAvailable())
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/operators", handlers.HandleRegisterOperator(s.authority))
		r.Get("/operators/{npub}/balance", handlers.HandleOperatorBalance(s.authority))
		r.Get("/operators/{npub}/status", handlers.HandleOperatorStatus(s.authority, s.store, s.ledger, s.identity))

		r.Post("/certificates", handlers.HandleIssueCertificate(s.authority))

		r.Get("/membership/{npub}", handlers.HandleMembershipProbe(s.registryClient))

		r.Get("/service/status", handlers.HandleServiceStatus(s.authority, s.identity, version.Version, version.BuildDate, s.startedAt))

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminAuth(s.config.AuthorityNpub))
			r.Post("/deposits", handlers.HandleAdminDeposit(s.authority))
			r.Post("/supply", handlers.HandleAdminSupply(s.authority))
			r.Post("/refresh", handlers.HandleAdminRefresh(s.ledger, s.registryClient))
		})
	})
}

// Start runs the HTTP server until ctx is cancelled, then shuts down in
// order: drain HTTP, stop the ledger flush loop (final vault flush).
func (s *Server) Start(ctx context.Context) error {
	serverAddr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	httpServer := &http.Server{
		Addr:         serverAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("service listening",
			slog.String("environment", s.config.Environment),
			slog.String("address", serverAddr),
			slog.String("scheme", string(s.authority.Scheme())))

		err := httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	s.logger.Info("shutting down HTTP server")

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP server shutdown error",
			slog.String("error", err.Error()))
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}

	// No new settlements can arrive now; push the remaining dirty balances
	// to the vault.
	if err := s.ledger.Stop(shutdownCtx); err != nil {
		s.logger.Warn("ledger shutdown flush incomplete",
			slog.String("error", err.Error()))
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// VaultShutdown closes the vault connection. Call after Start returns.
func (s *Server) VaultShutdown() {
	if s.store != nil {
		s.store.Close()
		s.logger.Info("vault connection closed")
	}
}
