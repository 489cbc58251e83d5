package certificate

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// ProtocolTag identifies the certificate protocol revision. Verifiers use it
// to reject certificates minted under an incompatible claims layout.
const ProtocolTag = "dpyp-01-base-certificate"

// Claims is the scheme-independent payload of a certificate.
//
// Invariant: NetSats = AmountSats - TaxPaidSats. NewClaims maintains this;
// code constructing Claims by hand must too.
type Claims struct {
	JTI           string    `json:"jti"`
	Subject       string    `json:"sub"`
	AmountSats    int64     `json:"amount_sats"`
	TaxPaidSats   int64     `json:"tax_paid_sats"`
	NetSats       int64     `json:"net_sats"`
	IssuedAt      time.Time `json:"iat"`
	ExpiresAt     time.Time `json:"exp"`
	AuthorityNpub string    `json:"authority_npub,omitempty"`
}

// NewClaims builds the claims for a fresh certificate: a random jti, net =
// amount - tax, and expiry ttl after issuance. Timestamps are truncated to
// whole seconds to survive the second-precision wire formats.
func NewClaims(subjectNpub string, amountSats, taxPaidSats int64, ttl time.Duration, authorityNpub string) Claims {
	now := time.Now().UTC().Truncate(time.Second)
	return Claims{
		JTI:           uuid.NewString(),
		Subject:       subjectNpub,
		AmountSats:    amountSats,
		TaxPaidSats:   taxPaidSats,
		NetSats:       amountSats - taxPaidSats,
		IssuedAt:      now,
		ExpiresAt:     now.Add(ttl),
		AuthorityNpub: authorityNpub,
	}
}

// contentPayload is the compact claims subset embedded as event content.
// Field order is irrelevant: the payload is canonicalized before signing.
type contentPayload struct {
	Sub          string `json:"sub"`
	AmountSats   int64  `json:"amount_sats"`
	TaxPaidSats  int64  `json:"tax_paid_sats"`
	NetSats      int64  `json:"net_sats"`
	DpycProtocol string `json:"dpyc_protocol"`
}

// contentJSON renders the claims subset in canonical form per RFC 8785 so
// signer and verifier always serialize the content identically.
func (c Claims) contentJSON() ([]byte, error) {
	data, err := json.Marshal(contentPayload{
		Sub:          c.Subject,
		AmountSats:   c.AmountSats,
		TaxPaidSats:  c.TaxPaidSats,
		NetSats:      c.NetSats,
		DpycProtocol: ProtocolTag,
	})
	if err != nil {
		return nil, WrapSigningError(err, "failed to marshal certificate content")
	}

	canonical, err := jcs.Transform(data)
	if err != nil {
		return nil, WrapSigningError(err, "failed to canonicalize certificate content")
	}
	return canonical, nil
}
