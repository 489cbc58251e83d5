package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// statusHTTPTimeout bounds the status request to the authority.
const statusHTTPTimeout = 10 * time.Second

var statusCmd = &cobra.Command{
	Use:   "status [operator-npub]",
	Short: "Check the status of a running authority",
	Long: `Query a running authority for its service status: identity, fee policy,
supply and membership configuration. With an operator npub argument the
operator's account status is fetched instead.

Examples:
  tollbooth status --server http://localhost:8080
  tollbooth status --server http://localhost:8080 npub1...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var statusServerURL string

func init() {
	statusCmd.Flags().StringVar(&statusServerURL, "server", "http://localhost:8080", "Base URL of the authority server")
}

func runStatus(cmd *cobra.Command, args []string) error {
	path := "/api/v1/service/status"
	if len(args) == 1 {
		path = fmt.Sprintf("/api/v1/operators/%s/status", args[0])
	}

	client := &http.Client{Timeout: statusHTTPTimeout}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, statusServerURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		// not JSON, show it as received
		pretty.Reset()
		pretty.Write(body)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s:\n%s", resp.Status, pretty.String())
	}

	fmt.Println(pretty.String())
	return nil
}
