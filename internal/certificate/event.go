// signed event envelope scheme (kind 30079 parameterized replaceable events)
//
// Envelope layout follows the relay conventions the DPYC tooling consumes:
// the jti rides in the d tag so re-issuance replaces rather than duplicates,
// the subject's hex pubkey in the p tag, and the expiration tag carries the
// unix expiry. The event ID is the SHA-256 of the canonical serialization
// [0, pubkey, created_at, kind, tags, content] and the signature is 64-byte
// BIP-340 Schnorr over that ID.

package certificate

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// EventKind is the event kind used for tollbooth certificates.
const EventKind = 30079

const (
	eventTagCategory  = "tollbooth-cert"
	eventTagNamespace = "dpyc.tollbooth"
)

// Event is the signed envelope wire shape.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Tag returns the value of the first tag with the given name, or "".
func (e *Event) Tag(name string) string {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// EventSigner mints signed event envelopes from the authority's nsec.
type EventSigner struct {
	privateKey *secp256k1.PrivateKey
	pubKeyHex  string
}

// NewEventSigner creates a signer from a bech32 nsec.
func NewEventSigner(nsec string) (*EventSigner, error) {
	secret, err := DecodeNsec(nsec)
	if err != nil {
		return nil, WrapKeyManagementError(err, "failed to decode authority nsec")
	}

	privateKey := secp256k1.PrivKeyFromBytes(secret)

	// x-only public key per BIP-340: drop the parity byte
	pubKey := privateKey.PubKey().SerializeCompressed()[1:]

	return &EventSigner{
		privateKey: privateKey,
		pubKeyHex:  hex.EncodeToString(pubKey),
	}, nil
}

// GenerateEventKey creates a fresh secp256k1 signing key for the
// nostr-event scheme and returns its bech32 nsec and npub encodings.
func GenerateEventKey() (nsec, npub string, err error) {
	privateKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return "", "", WrapKeyManagementError(err, "failed to generate event signing key")
	}

	nsec, err = EncodeNsec(privateKey.Serialize())
	if err != nil {
		return "", "", err
	}

	npub, err = EncodeNpub(privateKey.PubKey().SerializeCompressed()[1:])
	if err != nil {
		return "", "", err
	}

	return nsec, npub, nil
}

// Scheme returns SchemeNostrEvent.
func (s *EventSigner) Scheme() Scheme { return SchemeNostrEvent }

// Sign builds and signs the certificate event for the claims.
func (s *EventSigner) Sign(claims Claims) (*Certificate, error) {
	content, err := claims.contentJSON()
	if err != nil {
		return nil, err
	}

	event := &Event{
		PubKey:    s.pubKeyHex,
		CreatedAt: claims.IssuedAt.Unix(),
		Kind:      EventKind,
		Tags: [][]string{
			{"d", claims.JTI},
			{"p", NpubToHex(claims.Subject)},
			{"t", eventTagCategory},
			{"L", eventTagNamespace},
			{"expiration", strconv.FormatInt(claims.ExpiresAt.Unix(), 10)},
		},
		Content: string(content),
	}

	id, err := computeEventID(event)
	if err != nil {
		return nil, err
	}
	event.ID = hex.EncodeToString(id)

	sig, err := schnorr.Sign(s.privateKey, id)
	if err != nil {
		return nil, WrapSigningError(err, "failed to sign event")
	}
	event.Sig = hex.EncodeToString(sig.Serialize())

	return &Certificate{Scheme: SchemeNostrEvent, Event: event}, nil
}

// PublicKeyHex returns the authority's x-only public key in hex.
func (s *EventSigner) PublicKeyHex() string { return s.pubKeyHex }

// AuthorityNpub returns the npub encoding of the signing key, used when no
// authority npub is configured explicitly.
func (s *EventSigner) AuthorityNpub() (string, error) {
	raw, err := hex.DecodeString(s.pubKeyHex)
	if err != nil {
		return "", WrapKeyManagementError(err, "failed to decode public key hex")
	}
	return EncodeNpub(raw)
}

// VerifyEvent checks the event's ID, signature and expiration, and returns
// the claims it certifies.
func VerifyEvent(event *Event) (Claims, error) {
	if event == nil {
		return Claims{}, NewVerificationError("event is nil")
	}
	if event.Kind != EventKind {
		return Claims{}, NewVerificationError(fmt.Sprintf("unexpected event kind %d", event.Kind))
	}

	id, err := computeEventID(event)
	if err != nil {
		return Claims{}, err
	}
	if hex.EncodeToString(id) != event.ID {
		return Claims{}, NewVerificationError("event ID does not match serialized event")
	}

	pubKeyBytes, err := hex.DecodeString(event.PubKey)
	if err != nil {
		return Claims{}, WrapVerificationError(err, "event pubkey is not valid hex")
	}
	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return Claims{}, WrapVerificationError(err, "failed to parse event pubkey")
	}

	sigBytes, err := hex.DecodeString(event.Sig)
	if err != nil {
		return Claims{}, WrapVerificationError(err, "event signature is not valid hex")
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return Claims{}, WrapVerificationError(err, "failed to parse event signature")
	}

	if !sig.Verify(id, pubKey) {
		return Claims{}, NewVerificationError("event signature is invalid")
	}

	var expiresAt time.Time
	if expTag := event.Tag("expiration"); expTag != "" {
		expUnix, err := strconv.ParseInt(expTag, 10, 64)
		if err != nil {
			return Claims{}, WrapVerificationError(err, "expiration tag is not a unix timestamp")
		}
		expiresAt = time.Unix(expUnix, 0).UTC()
		if time.Now().After(expiresAt) {
			return Claims{}, NewVerificationError("certificate has expired")
		}
	}

	var payload contentPayload
	if err := json.Unmarshal([]byte(event.Content), &payload); err != nil {
		return Claims{}, WrapVerificationError(err, "event content is not valid JSON")
	}
	if payload.DpycProtocol != ProtocolTag {
		return Claims{}, NewVerificationError(fmt.Sprintf("unexpected protocol tag %q", payload.DpycProtocol))
	}
	if payload.NetSats != payload.AmountSats-payload.TaxPaidSats {
		return Claims{}, NewVerificationError("net amount does not equal amount minus tax")
	}

	return Claims{
		JTI:         event.Tag("d"),
		Subject:     payload.Sub,
		AmountSats:  payload.AmountSats,
		TaxPaidSats: payload.TaxPaidSats,
		NetSats:     payload.NetSats,
		IssuedAt:    time.Unix(event.CreatedAt, 0).UTC(),
		ExpiresAt:   expiresAt,
	}, nil
}

// computeEventID hashes the canonical event serialization. HTML escaping is
// disabled so the serialization matches other envelope implementations
// byte for byte.
func computeEventID(event *Event) ([]byte, error) {
	payload := []any{0, event.PubKey, event.CreatedAt, event.Kind, event.Tags, event.Content}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(payload); err != nil {
		return nil, WrapSigningError(err, "failed to serialize event for hashing")
	}

	serialized := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	sum := sha256.Sum256(serialized)
	return sum[:], nil
}
