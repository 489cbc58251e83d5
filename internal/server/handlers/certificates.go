package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dpyc-network/tollbooth-authority/internal/logger"
	"github.com/dpyc-network/tollbooth-authority/internal/tollbooth"
)

// CertificateRequest is the body of a certificate purchase.
type CertificateRequest struct {
	Npub       string `json:"npub" example:"npub1operator..."`
	AmountSats int64  `json:"amount_sats" example:"1000"`
}

// HandleIssueCertificate godoc
//
//	@Summary		Purchase a certificate
//	@Description	Debits the operator's prepaid tax balance by the computed fee and returns a
//	@Description	signed certificate proving the payment. When an upstream chain is configured
//	@Description	the shared supply account is debited by the full purchase amount as well.
//	@Description
//	@Description	Every failure after a debit rolls the debit back: an error response always
//	@Description	means no balance was consumed.
//	@Tags			Certificates
//	@Accept			json
//	@Produce		json
//	@Param			purchase	body		CertificateRequest	true	"Purchase details"
//	@Success		200			{object}	tollbooth.Receipt
//	@Failure		400			{object}	tollbooth.ErrorResponse	"Invalid input"
//	@Failure		402			{object}	tollbooth.ErrorResponse	"Insufficient balance or upstream supply"
//	@Failure		403			{object}	tollbooth.ErrorResponse	"Membership denied"
//	@Failure		503			{object}	tollbooth.ErrorResponse	"Signing unavailable"
//	@Router			/api/v1/certificates [post]
func HandleIssueCertificate(authority *tollbooth.Authority) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CertificateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			tollbooth.RespondWithErrorResponse(w, r,
				tollbooth.WrapMalformedRequestError(err, "could not parse certificate request body"))
			return
		}

		receipt, err := authority.Certify(r.Context(), req.Npub, req.AmountSats)
		if err != nil {
			tollbooth.RespondWithErrorResponse(w, r, err)
			return
		}

		logger.ContextWithLogAttrs(r.Context(),
			slog.String("jti", receipt.JTI),
			slog.Int64("amount_sats", receipt.AmountSats),
		)

		tollbooth.RespondWithJSONPayload(w, http.StatusOK, receipt)
	}
}
