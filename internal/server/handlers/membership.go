package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dpyc-network/tollbooth-authority/internal/registry"
	"github.com/dpyc-network/tollbooth-authority/internal/tollbooth"
)

// HandleMembershipProbe godoc
//
//	@Summary		Check DPYC registry membership
//	@Description	Diagnostic lookup against the community registry. Available whenever a
//	@Description	registry URL is configured, regardless of whether certification enforces
//	@Description	membership.
//	@Tags			Membership
//	@Produce		json
//	@Param			npub	path		string	true	"Operator npub"
//	@Success		200		{object}	registry.Member	"Active member"
//	@Failure		403		{object}	tollbooth.ErrorResponse	"Not an active member, or registry unreachable"
//	@Failure		404		{object}	tollbooth.ErrorResponse	"No registry configured"
//	@Router			/api/v1/membership/{npub} [get]
func HandleMembershipProbe(registryClient *registry.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if registryClient == nil {
			tollbooth.RespondWithErrorResponse(w, r,
				tollbooth.NewNotFoundError("no DPYC registry is configured"))
			return
		}

		npub := chi.URLParam(r, "npub")

		member, err := registryClient.CheckMembership(r.Context(), npub)
		if err != nil {
			tollbooth.RespondWithErrorResponse(w, r,
				tollbooth.WrapMembershipDeniedError(err, "membership check failed"))
			return
		}

		tollbooth.RespondWithJSONPayload(w, http.StatusOK, member)
	}
}
