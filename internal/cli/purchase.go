package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/dpyc-network/tollbooth-authority/internal/certificate"
	"github.com/dpyc-network/tollbooth-authority/internal/tollbooth"
	"github.com/spf13/cobra"
)

// purchaseHTTPTimeout bounds the certificate purchase request.
const purchaseHTTPTimeout = 30 * time.Second

var purchaseCmd = &cobra.Command{
	Use:   "purchase <operator-npub> <amount-sats>",
	Short: "Purchase a certificate from a running authority",
	Long: `Purchase a usage certificate for an amount. The operator's pre-funded
account is debited the usage tax and the receipt is printed. With
--output the certificate artifact (the compact JWT or the event JSON)
is additionally written to a file suitable for "tollbooth verify".

Example:
  tollbooth purchase npub1... 50000 --server http://localhost:8080 --output ./cert.jwt`,
	Args: cobra.ExactArgs(2),
	RunE: runPurchase,
}

var (
	purchaseServerURL string
	purchaseOutput    string
)

func init() {
	purchaseCmd.Flags().StringVar(&purchaseServerURL, "server", "http://localhost:8080", "Base URL of the authority server")
	purchaseCmd.Flags().StringVar(&purchaseOutput, "output", "", "File to write the certificate artifact to")
}

func runPurchase(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("amount is not a whole number of sats: %s", args[1])
	}

	payload, err := json.Marshal(map[string]any{
		"npub":        args[0],
		"amount_sats": amount,
	})
	if err != nil {
		return fmt.Errorf("failed to build request body: %w", err)
	}

	client := &http.Client{Timeout: purchaseHTTPTimeout}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, purchaseServerURL+"/api/v1/certificates", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, body, "", "  "); err != nil {
			pretty.Reset()
			pretty.Write(body)
		}
		return fmt.Errorf("purchase failed with %s:\n%s", resp.Status, pretty.String())
	}

	var receipt tollbooth.Receipt
	if err := json.Unmarshal(body, &receipt); err != nil {
		return fmt.Errorf("failed to decode receipt: %w", err)
	}

	fmt.Printf("✓ Certificate issued (jti: %s)\n", receipt.JTI)
	fmt.Printf("  amount:   %d sats\n", receipt.AmountSats)
	fmt.Printf("  tax paid: %d sats\n", receipt.TaxPaidSats)
	fmt.Printf("  net:      %d sats\n", receipt.NetSats)
	fmt.Printf("  expires:  %s\n", receipt.ExpiresAt.Format(time.RFC3339))
	fmt.Printf("  balance:  %d sats\n", receipt.OperatorBalanceSats)

	if purchaseOutput == "" {
		return nil
	}
	return writeCertificateArtifact(receipt.Certificate)
}

func writeCertificateArtifact(cert *certificate.Certificate) error {
	if cert == nil {
		return fmt.Errorf("receipt carried no certificate")
	}

	var data []byte
	switch cert.Scheme {
	case certificate.SchemeJWT:
		data = []byte(cert.JWT)
	case certificate.SchemeNostrEvent:
		var err error
		data, err = json.MarshalIndent(cert.Event, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to render event: %w", err)
		}
	default:
		return fmt.Errorf("unknown certificate scheme %q", cert.Scheme)
	}

	if err := os.WriteFile(purchaseOutput, data, 0644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}

	fmt.Printf("✓ Certificate written to %s\n", purchaseOutput)
	return nil
}
