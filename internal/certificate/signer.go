package certificate

import "fmt"

// Scheme selects the certificate artifact format.
type Scheme string

const (
	// SchemeJWT issues compact EdDSA JWTs.
	SchemeJWT Scheme = "jwt"

	// SchemeNostrEvent issues BIP-340 signed event envelopes.
	SchemeNostrEvent Scheme = "nostr-event"
)

// Certificate is the signed artifact returned to operators. Exactly one of
// JWT / Event is set, matching Scheme.
type Certificate struct {
	Scheme Scheme `json:"scheme"`
	JWT    string `json:"jwt,omitempty"`
	Event  *Event `json:"event,omitempty"`
}

// Signer produces certificates for finalized claims.
type Signer interface {
	Scheme() Scheme
	Sign(claims Claims) (*Certificate, error)
}

// NewSigner selects the signer implementation for the configured scheme.
// signingKey is the base64 PKCS#8 PEM Ed25519 key (jwt scheme); nsec is the
// bech32 event key (nostr-event scheme). Only the key for the selected
// scheme is required.
func NewSigner(scheme Scheme, signingKey, nsec string) (Signer, error) {
	switch scheme {
	case SchemeJWT:
		if signingKey == "" {
			return nil, NewKeyManagementError("jwt scheme requires a signing key")
		}
		privateKey, err := DecodeSigningKey(signingKey)
		if err != nil {
			return nil, WrapKeyManagementError(err, "failed to decode signing key")
		}
		return NewTokenSigner(privateKey)
	case SchemeNostrEvent:
		if nsec == "" {
			return nil, NewKeyManagementError("nostr-event scheme requires an authority nsec")
		}
		return NewEventSigner(nsec)
	default:
		return nil, NewValidationError(fmt.Sprintf("unknown certificate scheme %q", scheme))
	}
}
