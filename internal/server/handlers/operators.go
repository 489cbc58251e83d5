package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dpyc-network/tollbooth-authority/internal/ledger"
	"github.com/dpyc-network/tollbooth-authority/internal/tollbooth"
	"github.com/dpyc-network/tollbooth-authority/internal/vault"
)

// OperatorRequest is the body of an operator registration.
type OperatorRequest struct {
	Npub string `json:"npub" example:"npub1operator..."`
}

// OperatorStatusResponse summarizes an operator's account and the authority
// they are transacting with.
type OperatorStatusResponse struct {
	Operator           ledger.AccountView `json:"operator"`
	Authority          AuthorityIdentity  `json:"authority"`
	MembershipEnforced bool               `json:"membership_enforced"`

	// Upstream is present only when this authority resells from an
	// upstream supply pool.
	Upstream *UpstreamStatus `json:"upstream,omitempty"`

	Vault VaultStatus `json:"vault"`
}

// UpstreamStatus reports the shared supply pool level.
type UpstreamStatus struct {
	SupplyBalanceSats int64 `json:"supply_balance_sats"`
}

// VaultStatus reports persistence health for the ledger behind the account.
type VaultStatus struct {
	Reachable      bool   `json:"reachable"`
	DirtyAccounts  int    `json:"dirty_accounts"`
	LastFlushError string `json:"last_flush_error,omitempty"`
}

// HandleRegisterOperator godoc
//
//	@Summary		Register an operator
//	@Description	Creates the operator's ledger account and persists it immediately.
//	@Description	Registration is idempotent: re-registering returns the current balances.
//	@Tags			Operators
//	@Accept			json
//	@Produce		json
//	@Param			operator	body		OperatorRequest	true	"Operator npub"
//	@Success		200			{object}	ledger.AccountView
//	@Failure		400			{object}	tollbooth.ErrorResponse	"Invalid npub"
//	@Router			/api/v1/operators [post]
func HandleRegisterOperator(authority *tollbooth.Authority) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OperatorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			tollbooth.RespondWithErrorResponse(w, r,
				tollbooth.WrapMalformedRequestError(err, "could not parse operator registration body"))
			return
		}

		view, err := authority.RegisterOperator(r.Context(), req.Npub)
		if err != nil {
			tollbooth.RespondWithErrorResponse(w, r, err)
			return
		}

		tollbooth.RespondWithJSONPayload(w, http.StatusOK, view)
	}
}

// HandleOperatorBalance godoc
//
//	@Summary		Get operator balance
//	@Description	Returns the operator's current tax balance and lifetime totals.
//	@Description	Unknown operators report a zero balance.
//	@Tags			Operators
//	@Produce		json
//	@Param			npub	path		string	true	"Operator npub"
//	@Success		200		{object}	ledger.AccountView
//	@Failure		400		{object}	tollbooth.ErrorResponse	"Invalid npub"
//	@Router			/api/v1/operators/{npub}/balance [get]
func HandleOperatorBalance(authority *tollbooth.Authority) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		npub := chi.URLParam(r, "npub")

		view, err := authority.OperatorBalance(r.Context(), npub)
		if err != nil {
			tollbooth.RespondWithErrorResponse(w, r, err)
			return
		}

		tollbooth.RespondWithJSONPayload(w, http.StatusOK, view)
	}
}

// HandleOperatorStatus godoc
//
//	@Summary		Get operator status
//	@Description	Returns the operator's balances together with the authority identity,
//	@Description	membership enforcement flag, upstream supply level (when configured) and
//	@Description	vault health.
//	@Tags			Operators
//	@Produce		json
//	@Param			npub	path		string	true	"Operator npub"
//	@Success		200		{object}	OperatorStatusResponse
//	@Failure		400		{object}	tollbooth.ErrorResponse	"Invalid npub"
//	@Router			/api/v1/operators/{npub}/status [get]
func HandleOperatorStatus(authority *tollbooth.Authority, store vault.Store, cache *ledger.Cache, identity AuthorityIdentity) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		npub := chi.URLParam(r, "npub")

		view, err := authority.OperatorBalance(r.Context(), npub)
		if err != nil {
			tollbooth.RespondWithErrorResponse(w, r, err)
			return
		}

		response := OperatorStatusResponse{
			Operator:           view,
			Authority:          identity,
			MembershipEnforced: authority.MembershipEnforced(),
			Vault:              vaultStatus(r, store, cache),
		}

		if authority.SupplyEnabled() {
			if supply, err := authority.SupplyBalance(r.Context()); err == nil {
				response.Upstream = &UpstreamStatus{SupplyBalanceSats: supply.BalanceSats}
			}
		}

		tollbooth.RespondWithJSONPayload(w, http.StatusOK, response)
	}
}

func vaultStatus(r *http.Request, store vault.Store, cache *ledger.Cache) VaultStatus {
	health := cache.Health()

	status := VaultStatus{
		Reachable:     store.Ping(r.Context()) == nil,
		DirtyAccounts: health.DirtyAccounts,
	}
	if health.LastFlushError != "" {
		status.LastFlushError = health.LastFlushError
	}
	return status
}
