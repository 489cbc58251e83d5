package cli

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dpyc-network/tollbooth-authority/internal/certificate"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/spf13/cobra"
)

// jwksFetchTimeout bounds the one-shot JWKS fetch when verifying against a
// running authority.
const jwksFetchTimeout = 30 * time.Second

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a certificate offline",
	Long: `Verify an issued certificate without contacting the authority.

For the jwt scheme, pass the compact token via --token and the authority
public key either as a PEM file (--public-key, as written by keygen) or
as a JWKS URL (--jwks-url, a running authority's /.well-known/jwks.json).

For the nostr-event scheme, pass the event JSON via --event-file; the
signing key is embedded in the event.

On success the certified claims are printed as JSON.

Examples:
  tollbooth verify --token eyJ... --public-key ./keys/authority.public.pem
  tollbooth verify --token eyJ... --jwks-url http://localhost:8080/.well-known/jwks.json
  tollbooth verify --event-file ./cert.json`,
	RunE: runVerify,
}

var (
	verifyToken     string
	verifyPublicKey string
	verifyJWKSURL   string
	verifyEventFile string
)

func init() {
	verifyCmd.Flags().StringVar(&verifyToken, "token", "", "Compact JWT certificate to verify")
	verifyCmd.Flags().StringVar(&verifyPublicKey, "public-key", "", "Authority public key PEM file (jwt scheme)")
	verifyCmd.Flags().StringVar(&verifyJWKSURL, "jwks-url", "", "Authority JWKS endpoint URL (jwt scheme)")
	verifyCmd.Flags().StringVar(&verifyEventFile, "event-file", "", "Signed event JSON file to verify (nostr-event scheme)")
}

func runVerify(cmd *cobra.Command, args []string) error {
	switch {
	case verifyEventFile != "":
		return verifyEventCertificate(verifyEventFile)
	case verifyToken != "":
		return verifyTokenCertificate(cmd.Context(), verifyToken)
	default:
		return fmt.Errorf("nothing to verify: pass --token or --event-file")
	}
}

func verifyEventCertificate(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read event file: %w", err)
	}

	var event certificate.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("event file is not valid JSON: %w", err)
	}

	claims, err := certificate.VerifyEvent(&event)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	fmt.Printf("✓ Certificate is valid (signed by %s)\n\n", event.PubKey)
	return printClaims(claims)
}

func verifyTokenCertificate(ctx context.Context, tokenString string) error {
	publicKey, err := resolveVerificationKey(ctx, tokenString)
	if err != nil {
		return err
	}

	claims, err := certificate.VerifyToken(tokenString, publicKey)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	fmt.Printf("✓ Certificate is valid\n\n")
	return printClaims(claims)
}

func resolveVerificationKey(ctx context.Context, tokenString string) (ed25519.PublicKey, error) {
	switch {
	case verifyPublicKey != "":
		publicKey, err := certificate.ReadEd25519PublicKeyFromPEMFile(filepath.Dir(verifyPublicKey), filepath.Base(verifyPublicKey))
		if err != nil {
			return nil, fmt.Errorf("failed to load public key: %w", err)
		}
		return publicKey, nil

	case verifyJWKSURL != "":
		return fetchVerificationKey(ctx, tokenString)

	default:
		return nil, fmt.Errorf("no verification key: pass --public-key or --jwks-url")
	}
}

// fetchVerificationKey performs a one-shot fetch of the authority JWKS and
// returns the Ed25519 key the token was signed with.
func fetchVerificationKey(ctx context.Context, tokenString string) (ed25519.PublicKey, error) {
	ctx, cancel := context.WithTimeout(ctx, jwksFetchTimeout)
	defer cancel()

	client := httprc.NewClient()

	cache, err := jwk.NewCache(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWK cache: %w", err)
	}

	if err := cache.Register(ctx, verifyJWKSURL, jwk.WithWaitReady(true)); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", verifyJWKSURL, err)
	}

	keySet, err := cache.Lookup(ctx, verifyJWKSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", verifyJWKSURL, err)
	}

	key, err := selectJWKSKey(keySet, tokenString)
	if err != nil {
		return nil, err
	}

	return certificate.Ed25519JWKToPublicKey(key)
}

// selectJWKSKey picks the set entry matching the token's kid header, falling
// back to the first key when the header is absent.
func selectJWKSKey(keySet jwk.Set, tokenString string) (jwk.Key, error) {
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, &jwt.RegisteredClaims{})
	if err != nil {
		return nil, fmt.Errorf("token is not a parseable JWT: %w", err)
	}

	if kid, ok := token.Header["kid"].(string); ok && kid != "" {
		key, found := keySet.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key not found in JWKS: %s", kid)
		}
		return key, nil
	}

	key, ok := keySet.Key(0)
	if !ok {
		return nil, fmt.Errorf("JWKS contains no keys")
	}
	return key, nil
}

func printClaims(claims certificate.Claims) error {
	out, err := json.MarshalIndent(claims, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render claims: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
