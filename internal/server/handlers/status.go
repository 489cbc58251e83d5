package handlers

import (
	"net/http"
	"time"

	"github.com/dpyc-network/tollbooth-authority/internal/tollbooth"
)

// AuthorityIdentity is the authority's public identity as presented to
// operators. Exactly one of KeyID or EventPublicKey is set, depending on the
// certificate scheme.
type AuthorityIdentity struct {
	Npub   string `json:"npub,omitempty"`
	Scheme string `json:"scheme" example:"jwt"`

	// KeyID identifies the signing key in the published JWK set (jwt scheme).
	KeyID string `json:"key_id,omitempty"`

	// EventPublicKey is the x-only schnorr public key in hex (nostr-event scheme).
	EventPublicKey string `json:"event_public_key,omitempty"`
}

// ServiceStatusResponse describes the running authority.
type ServiceStatusResponse struct {
	Service   string `json:"service" example:"tollbooth-authority"`
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`

	UptimeSeconds int64 `json:"uptime_seconds"`

	Authority AuthorityIdentity `json:"authority"`

	FeeRateBasisPoints    int64 `json:"fee_rate_basis_points"`
	FeeMinimumSats        int64 `json:"fee_minimum_sats"`
	CertificateTTLSeconds int64 `json:"certificate_ttl_seconds"`

	SupplyEnabled      bool `json:"supply_enabled"`
	MembershipEnforced bool `json:"membership_enforced"`
	ReplayWindowSize   int  `json:"replay_window_size"`
}

// HandleServiceStatus godoc
//
//	@Summary		Get service status
//	@Description	Returns the authority's identity, fee policy and feature configuration.
//	@Tags			Common
//	@Produce		json
//	@Success		200	{object}	ServiceStatusResponse
//	@Router			/api/v1/service/status [get]
func HandleServiceStatus(authority *tollbooth.Authority, identity AuthorityIdentity, version, buildTime string, startedAt time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fees := authority.Fees()

		response := ServiceStatusResponse{
			Service:               "tollbooth-authority",
			Version:               version,
			BuildTime:             buildTime,
			UptimeSeconds:         int64(time.Since(startedAt).Seconds()),
			Authority:             identity,
			FeeRateBasisPoints:    fees.RateBasisPoints,
			FeeMinimumSats:        fees.MinimumSats,
			CertificateTTLSeconds: int64(authority.CertificateTTL().Seconds()),
			SupplyEnabled:         authority.SupplyEnabled(),
			MembershipEnforced:    authority.MembershipEnforced(),
			ReplayWindowSize:      authority.ReplayWindowSize(),
		}

		tollbooth.RespondWithJSONPayload(w, http.StatusOK, response)
	}
}
