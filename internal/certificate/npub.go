// npub/nsec bech32 handling (NIP-19).
//
// Operator identities arrive as npub strings. Request validation only checks
// the cheap prefix/length shape so the service does not reject operators over
// a checksum nit, but anything that needs raw key bytes (p tags, authority
// identity derivation) does a full bech32 decode.

package certificate

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

const (
	npubPrefix = "npub1"
	nsecPrefix = "nsec1"

	// minNpubLength matches the shape check applied to operator npubs.
	minNpubLength = 60

	keyByteLength = 32
)

// ValidateNpub performs the shape check applied to operator npubs: the
// npub1 prefix and a plausible length.
func ValidateNpub(npub string) error {
	if !strings.HasPrefix(npub, npubPrefix) {
		return NewValidationError(fmt.Sprintf("npub must start with %s", npubPrefix))
	}
	if len(npub) < minNpubLength {
		return NewValidationError("npub is too short")
	}
	return nil
}

// DecodeNpub decodes an npub to its 32-byte x-only public key.
func DecodeNpub(npub string) ([]byte, error) {
	return decodeBech32Key(npub, "npub")
}

// DecodeNsec decodes an nsec to its 32-byte secret key.
func DecodeNsec(nsec string) ([]byte, error) {
	if !strings.HasPrefix(nsec, nsecPrefix) {
		return nil, NewValidationError(fmt.Sprintf("nsec must start with %s", nsecPrefix))
	}
	return decodeBech32Key(nsec, "nsec")
}

// EncodeNpub encodes a 32-byte x-only public key as an npub.
func EncodeNpub(publicKey []byte) (string, error) {
	if len(publicKey) != keyByteLength {
		return "", NewValidationError(fmt.Sprintf("public key must be %d bytes, got %d", keyByteLength, len(publicKey)))
	}

	converted, err := bech32.ConvertBits(publicKey, 8, 5, true)
	if err != nil {
		return "", WrapValidationError(err, "failed to convert public key bits")
	}

	encoded, err := bech32.Encode("npub", converted)
	if err != nil {
		return "", WrapValidationError(err, "failed to encode npub")
	}

	return encoded, nil
}

// EncodeNsec encodes a 32-byte secret key as an nsec.
func EncodeNsec(secretKey []byte) (string, error) {
	if len(secretKey) != keyByteLength {
		return "", NewValidationError(fmt.Sprintf("secret key must be %d bytes, got %d", keyByteLength, len(secretKey)))
	}

	converted, err := bech32.ConvertBits(secretKey, 8, 5, true)
	if err != nil {
		return "", WrapValidationError(err, "failed to convert secret key bits")
	}

	encoded, err := bech32.Encode("nsec", converted)
	if err != nil {
		return "", WrapValidationError(err, "failed to encode nsec")
	}

	return encoded, nil
}

// NpubToHex converts an npub to its hex public key for event p tags.
// Decoding is best effort: a value that does not decode is passed through
// unchanged so certificate issuance never fails on a tag conversion.
func NpubToHex(npub string) string {
	raw, err := DecodeNpub(npub)
	if err != nil {
		return npub
	}
	return hex.EncodeToString(raw)
}

func decodeBech32Key(encoded, wantHRP string) ([]byte, error) {
	hrp, data, err := bech32.Decode(encoded)
	if err != nil {
		return nil, WrapValidationError(err, fmt.Sprintf("failed to decode %s", wantHRP))
	}

	if hrp != wantHRP {
		return nil, NewValidationError(fmt.Sprintf("expected %s prefix, got %s", wantHRP, hrp))
	}

	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, WrapValidationError(err, fmt.Sprintf("failed to convert %s bits", wantHRP))
	}

	if len(raw) != keyByteLength {
		return nil, NewValidationError(fmt.Sprintf("%s payload must be %d bytes, got %d", wantHRP, keyByteLength, len(raw)))
	}

	return raw, nil
}
