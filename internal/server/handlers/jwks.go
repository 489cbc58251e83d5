package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/dpyc-network/tollbooth-authority/internal/tollbooth"
)

// HandleJWKS godoc
//
//	@Summary		Get JWK set
//	@Description	Returns the JWK set holding the authority's certificate signing public key.
//	@Description
//	@Description	Use this endpoint to retrieve the public key needed to verify certificates issued
//	@Description	under the jwt scheme. The JWK set in the response conforms to the
//	@Description	[JWK specification](https://datatracker.ietf.org/doc/html/rfc7517).
//	@Description
//	@Description	Under the nostr-event scheme there is no JWK set and this endpoint returns 404;
//	@Description	event certificates embed their verification key.
//	@Tags			Common
//
//	@Success		200	{object}	JWKSResponse	"JWK set"
//	@Failure		404	{object}	tollbooth.ErrorResponse	"Not available under the nostr-event scheme"
//
//	@Router			/.well-known/jwks.json [get]
func HandleJWKS(jwkSet jwk.Set) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(jwkSet); err != nil {
			http.Error(w, "Failed to encode JWK set", http.StatusInternalServerError)
			return
		}
	}
}

// HandleJWKSNotAvailable serves the JWKS route under the nostr-event scheme,
// where there is no JWK set to publish.
func HandleJWKSNotAvailable() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tollbooth.RespondWithErrorResponse(w, r,
			tollbooth.NewNotFoundError("no JWK set is published under the nostr-event scheme"))
	}
}

// JWKSResponse is used for swaggo documentation as swaggo doesn't support the jwk.Set interface type.
type JWKSResponse struct {
	Keys []map[string]any `json:"keys"`
}
