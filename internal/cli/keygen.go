package cli

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dpyc-network/tollbooth-authority/internal/certificate"
	"github.com/dpyc-network/tollbooth-authority/internal/config"
	"github.com/spf13/cobra"
)

// file naming convention for the jwt scheme key material
const (
	privateKeyFileName = "authority.private.pem"
	publicKeyFileName  = "authority.public.pem"
	publicJWKFileName  = "authority.public.jwk"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate authority signing keys",
	Long: `Generate signing key material for the authority.

The jwt scheme uses an Ed25519 key pair: the private key signs issued
certificates and the public key is published on the JWKS endpoint for
offline verification. Key files are written in PEM (PKCS#8) and JWK
format, and the AUTHORITY_SIGNING_KEY env value is printed to paste
into the server environment.

The nostr-event scheme uses a secp256k1 key printed as bech32
nsec/npub env values. Nothing is written to disk.

Example:
  tollbooth keygen --scheme jwt --outputdir ./keys`,
	RunE: runKeygen,
}

var (
	keygenScheme    string
	keygenOutputDir string
)

func init() {
	keygenCmd.Flags().StringVarP(&keygenScheme, "scheme", "s", config.SchemeJWT, "Certificate scheme: jwt or nostr-event")
	keygenCmd.Flags().StringVarP(&keygenOutputDir, "outputdir", "o", "./keys", "Output directory for generated key files (jwt scheme)")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	switch keygenScheme {
	case config.SchemeJWT:
		return generateTokenKeys()
	case config.SchemeNostrEvent:
		return generateEventKeys()
	default:
		return fmt.Errorf("invalid scheme: %s (must be %q or %q)", keygenScheme, config.SchemeJWT, config.SchemeNostrEvent)
	}
}

func generateTokenKeys() error {
	fmt.Println("Generating Ed25519 signing key pair for the jwt certificate scheme")

	// make the directory if it doesn't exist
	if _, err := os.Stat(keygenOutputDir); os.IsNotExist(err) {
		if err := os.MkdirAll(keygenOutputDir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	privateKey, err := certificate.GenerateEd25519KeyPair()
	if err != nil {
		return fmt.Errorf("failed to generate Ed25519 key: %w", err)
	}
	publicKey := privateKey.Public().(ed25519.PublicKey)

	keyID, err := certificate.GenerateKeyIDFromEd25519Key(publicKey)
	if err != nil {
		return fmt.Errorf("failed to generate key ID: %w", err)
	}

	if err := certificate.SaveEd25519PrivateKeyToPEMFile(privateKey, keygenOutputDir, privateKeyFileName); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}
	fmt.Printf("✓ Private PEM: %s\n", filepath.Join(keygenOutputDir, privateKeyFileName))

	if err := certificate.SaveEd25519PublicKeyToPEMFile(publicKey, keygenOutputDir, publicKeyFileName); err != nil {
		return fmt.Errorf("failed to save public key: %w", err)
	}
	fmt.Printf("✓ Public PEM:  %s\n", filepath.Join(keygenOutputDir, publicKeyFileName))

	publicJWK, err := certificate.Ed25519PublicKeyToJWK(publicKey, keyID)
	if err != nil {
		return fmt.Errorf("failed to build public JWK: %w", err)
	}
	if err := certificate.SaveJWKToFile(publicJWK, keygenOutputDir, publicJWKFileName); err != nil {
		return fmt.Errorf("failed to save public JWK: %w", err)
	}
	fmt.Printf("✓ Public JWK:  %s (kid: %s)\n", filepath.Join(keygenOutputDir, publicJWKFileName), keyID)

	envValue, err := certificate.EncodeSigningKey(privateKey)
	if err != nil {
		return fmt.Errorf("failed to encode signing key: %w", err)
	}

	fmt.Printf("\nAdd to the server environment:\n\n")
	fmt.Printf("  CERT_SCHEME=jwt\n")
	fmt.Printf("  AUTHORITY_SIGNING_KEY=%s\n\n", envValue)
	fmt.Println("Keep the private key file and the AUTHORITY_SIGNING_KEY value secret.")

	return nil
}

func generateEventKeys() error {
	fmt.Println("Generating secp256k1 signing key for the nostr-event certificate scheme")

	nsec, npub, err := certificate.GenerateEventKey()
	if err != nil {
		return fmt.Errorf("failed to generate event key: %w", err)
	}

	fmt.Printf("\nAdd to the server environment:\n\n")
	fmt.Printf("  CERT_SCHEME=nostr-event\n")
	fmt.Printf("  AUTHORITY_NSEC=%s\n", nsec)
	fmt.Printf("  AUTHORITY_NPUB=%s\n\n", npub)
	fmt.Println("The nsec is shown once and not written to disk. Keep it secret.")

	return nil
}
