package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dpyc-network/tollbooth-authority/internal/ledger"
	"github.com/dpyc-network/tollbooth-authority/internal/registry"
	"github.com/dpyc-network/tollbooth-authority/internal/tollbooth"
)

// DepositRequest is the body of an admin deposit (settlement ingest).
type DepositRequest struct {
	Npub       string `json:"npub" example:"npub1operator..."`
	AmountSats int64  `json:"amount_sats" example:"5000"`

	// Reference makes the credit idempotent: the same reference is applied
	// at most once. Leave empty to always apply.
	Reference string `json:"reference,omitempty" example:"invoice-2024-0042"`
}

// SupplyRequest is the body of an upstream purchase report.
type SupplyRequest struct {
	AmountSats int64  `json:"amount_sats" example:"100000"`
	Reference  string `json:"reference,omitempty"`
}

// RefreshResponse reports the outcome of an admin refresh.
type RefreshResponse struct {
	Ledger              ledger.Health `json:"ledger"`
	RegistryInvalidated bool          `json:"registry_invalidated"`
}

// HandleAdminDeposit godoc
//
//	@Summary		Credit an operator deposit
//	@Description	Credits a settled payment to an operator's tax balance. Deposits carrying a
//	@Description	reference are applied at most once per reference, so settlement webhooks can
//	@Description	be retried safely.
//	@Tags			Admin
//	@Accept			json
//	@Produce		json
//	@Param			X-Authority-Npub	header		string			true	"Authority npub"
//	@Param			deposit				body		DepositRequest	true	"Deposit details"
//	@Success		201					{object}	tollbooth.DepositResult	"Deposit applied"
//	@Success		200					{object}	tollbooth.DepositResult	"Reference already credited"
//	@Failure		400					{object}	tollbooth.ErrorResponse	"Invalid request"
//	@Failure		403					{object}	tollbooth.ErrorResponse	"Admin access denied"
//	@Router			/api/v1/admin/deposits [post]
func HandleAdminDeposit(authority *tollbooth.Authority) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DepositRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			tollbooth.RespondWithErrorResponse(w, r,
				tollbooth.WrapMalformedRequestError(err, "could not parse deposit request body"))
			return
		}

		result, err := authority.Deposit(r.Context(), req.Npub, req.AmountSats, req.Reference)
		if err != nil {
			tollbooth.RespondWithErrorResponse(w, r, err)
			return
		}

		statusCode := http.StatusOK
		if result.Applied {
			statusCode = http.StatusCreated
		}
		tollbooth.RespondWithJSONPayload(w, statusCode, result)
	}
}

// HandleAdminSupply godoc
//
//	@Summary		Report an upstream purchase
//	@Description	Credits the shared upstream supply account after sats were bought from the
//	@Description	upstream authority. When no reference is supplied one is generated from the
//	@Description	current timestamp.
//	@Tags			Admin
//	@Accept			json
//	@Produce		json
//	@Param			X-Authority-Npub	header		string			true	"Authority npub"
//	@Param			supply				body		SupplyRequest	true	"Purchase details"
//	@Success		201					{object}	tollbooth.DepositResult	"Supply credited"
//	@Success		200					{object}	tollbooth.DepositResult	"Reference already credited"
//	@Failure		400					{object}	tollbooth.ErrorResponse	"Invalid request or upstream not configured"
//	@Failure		403					{object}	tollbooth.ErrorResponse	"Admin access denied"
//	@Router			/api/v1/admin/supply [post]
func HandleAdminSupply(authority *tollbooth.Authority) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SupplyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			tollbooth.RespondWithErrorResponse(w, r,
				tollbooth.WrapMalformedRequestError(err, "could not parse supply request body"))
			return
		}

		if req.Reference == "" {
			req.Reference = "upstream_" + time.Now().UTC().Format(time.RFC3339)
		}

		result, err := authority.AddSupply(r.Context(), req.AmountSats, req.Reference)
		if err != nil {
			tollbooth.RespondWithErrorResponse(w, r, err)
			return
		}

		statusCode := http.StatusOK
		if result.Applied {
			statusCode = http.StatusCreated
		}
		tollbooth.RespondWithJSONPayload(w, statusCode, result)
	}
}

// HandleAdminRefresh godoc
//
//	@Summary		Flush the ledger and refresh the registry cache
//	@Description	Writes every dirty ledger account to the vault and invalidates the DPYC
//	@Description	registry snapshot so the next membership check refetches the member list.
//	@Tags			Admin
//	@Produce		json
//	@Param			X-Authority-Npub	header		string	true	"Authority npub"
//	@Success		200					{object}	RefreshResponse
//	@Failure		403					{object}	tollbooth.ErrorResponse	"Admin access denied"
//	@Failure		503					{object}	tollbooth.ErrorResponse	"Vault flush failed"
//	@Router			/api/v1/admin/refresh [post]
func HandleAdminRefresh(cache *ledger.Cache, registryClient *registry.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cache.FlushAll(r.Context()); err != nil {
			tollbooth.RespondWithErrorResponse(w, r,
				tollbooth.WrapPersistenceDegradedError(err, "vault flush failed"))
			return
		}

		response := RefreshResponse{Ledger: cache.Health()}
		if registryClient != nil {
			registryClient.InvalidateCache()
			response.RegistryInvalidated = true
		}

		tollbooth.RespondWithJSONPayload(w, http.StatusOK, response)
	}
}
