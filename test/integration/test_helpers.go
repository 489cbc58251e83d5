//go:build integration

// functions that are useful in integration tests

package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/dpyc-network/tollbooth-authority/internal/certificate"
)

// doJSONRequest sends a JSON request and returns the response status and raw
// body. adminNpub, when non-empty, is sent as the X-Authority-Npub header.
func doJSONRequest(t *testing.T, method, url, adminNpub string, payload any) (int, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("Failed to marshal request payload: %v", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if adminNpub != "" {
		req.Header.Set("X-Authority-Npub", adminNpub)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}

	return resp.StatusCode, respBody
}

func unmarshalResponse(t *testing.T, body []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(body, target); err != nil {
		t.Fatalf("Failed to decode response %s: %v", string(body), err)
	}
}

// newOperatorNpub returns a fresh valid operator identity.
func newOperatorNpub(t *testing.T) string {
	t.Helper()
	_, npub, err := certificate.GenerateEventKey()
	if err != nil {
		t.Fatalf("Failed to generate operator npub: %v", err)
	}
	return npub
}

// depositFunds credits an operator account via the admin API.
func depositFunds(t *testing.T, env *testEnv, npub string, amount int64) {
	t.Helper()

	status, body := doJSONRequest(t, http.MethodPost, env.baseURL+"/api/v1/admin/deposits", testAuthorityNpub, map[string]any{
		"npub":        npub,
		"amount_sats": amount,
	})
	if status != http.StatusCreated {
		t.Fatalf("Deposit failed with status %d: %s", status, string(body))
	}
}
