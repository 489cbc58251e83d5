package certificate

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// tokenClaims is the wire layout of the bearer-token scheme.
type tokenClaims struct {
	jwt.RegisteredClaims
	AmountSats    int64  `json:"amount_sats"`
	TaxPaidSats   int64  `json:"tax_paid_sats"`
	NetSats       int64  `json:"net_sats"`
	DpycProtocol  string `json:"dpyc_protocol"`
	AuthorityNpub string `json:"authority_npub,omitempty"`
}

// TokenSigner mints compact EdDSA JWTs. The key ID carried in the token
// header matches the JWK set served at /.well-known/jwks.json, so verifiers
// can resolve the right key offline.
type TokenSigner struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	keyID      string
}

// NewTokenSigner creates a signer from the authority's Ed25519 private key.
func NewTokenSigner(privateKey ed25519.PrivateKey) (*TokenSigner, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, NewKeyManagementError("invalid Ed25519 private key length")
	}

	publicKey, ok := privateKey.Public().(ed25519.PublicKey)
	if !ok {
		return nil, NewKeyManagementError("failed to derive Ed25519 public key")
	}

	keyID, err := GenerateKeyIDFromEd25519Key(publicKey)
	if err != nil {
		return nil, WrapKeyManagementError(err, "failed to derive key ID")
	}

	return &TokenSigner{
		privateKey: privateKey,
		publicKey:  publicKey,
		keyID:      keyID,
	}, nil
}

// Scheme returns SchemeJWT.
func (s *TokenSigner) Scheme() Scheme { return SchemeJWT }

// Sign mints a compact EdDSA JWT carrying the claims.
func (s *TokenSigner) Sign(claims Claims) (*Certificate, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        claims.JTI,
			Subject:   claims.Subject,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
		AmountSats:    claims.AmountSats,
		TaxPaidSats:   claims.TaxPaidSats,
		NetSats:       claims.NetSats,
		DpycProtocol:  ProtocolTag,
		AuthorityNpub: claims.AuthorityNpub,
	})
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return nil, WrapSigningError(err, "failed to sign certificate token")
	}

	return &Certificate{Scheme: SchemeJWT, JWT: signed}, nil
}

// KeyID returns the thumbprint-derived key ID.
func (s *TokenSigner) KeyID() string { return s.keyID }

// PublicKey returns the authority's Ed25519 public key.
func (s *TokenSigner) PublicKey() ed25519.PublicKey { return s.publicKey }

// JWKSet returns the public JWK set for /.well-known/jwks.json.
func (s *TokenSigner) JWKSet() (jwk.Set, error) {
	return PublicJWKSet(s.publicKey)
}

// VerifyToken checks the token signature and temporal validity against the
// authority public key and returns the embedded claims.
func VerifyToken(tokenString string, publicKey ed25519.PublicKey) (Claims, error) {
	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(tokenString, &parsed, func(token *jwt.Token) (any, error) {
		return publicKey, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, WrapVerificationError(err, "certificate has expired")
		}
		return Claims{}, WrapVerificationError(err, "certificate token is invalid")
	}

	if parsed.ID == "" {
		return Claims{}, NewVerificationError("certificate jti is missing")
	}
	if parsed.DpycProtocol != ProtocolTag {
		return Claims{}, NewVerificationError(fmt.Sprintf("unexpected protocol tag %q", parsed.DpycProtocol))
	}
	if parsed.NetSats != parsed.AmountSats-parsed.TaxPaidSats {
		return Claims{}, NewVerificationError("net amount does not equal amount minus tax")
	}

	claims := Claims{
		JTI:           parsed.ID,
		Subject:       parsed.Subject,
		AmountSats:    parsed.AmountSats,
		TaxPaidSats:   parsed.TaxPaidSats,
		NetSats:       parsed.NetSats,
		AuthorityNpub: parsed.AuthorityNpub,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Time.UTC()
	}

	return claims, nil
}
