// Package registry implements the DPYC community membership gate.
//
// The gate fetches the community members document from a configured URL and
// caches the full list as a single snapshot with a TTL. Lookups are
// fail-closed: a fetch error, a parse error, an absent member and an inactive
// member are all reported as errors - callers must treat any error as a
// denial, never as an implicit pass.
//
// A failed fetch never replaces or invalidates the current snapshot, but a
// stale snapshot is not used as a fallback either: once the TTL has elapsed a
// lookup succeeds only if a fresh fetch succeeds.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const memberStatusActive = "active"

// maxResponseBytes caps the registry document size read into memory.
const maxResponseBytes = 1 << 20

// ErrMemberNotFound is returned when the npub is not present in the registry.
var ErrMemberNotFound = errors.New("npub not found in DPYC registry")

// ErrMemberInactive is returned when the member record exists but its status
// is not "active".
var ErrMemberInactive = errors.New("member is not active")

// Member is a single record from the community registry document.
type Member struct {
	Npub   string `json:"npub"`
	Status string `json:"status"`
	Name   string `json:"name,omitempty"`
}

// Client is a cached membership lookup against the DPYC registry.
type Client struct {
	url        string
	cacheTTL   time.Duration
	httpClient *http.Client
	logger     *slog.Logger

	// mu guards the snapshot. members == nil means no snapshot is held.
	mu        sync.RWMutex
	members   []Member
	fetchedAt time.Time

	// now is replaceable in tests
	now func() time.Time
}

// NewClient creates a registry client.
//
// httpTimeout bounds each registry fetch; a timeout is a fetch failure and
// therefore a denial for the caller.
func NewClient(url string, cacheTTL, httpTimeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		url:        url,
		cacheTTL:   cacheTTL,
		httpClient: &http.Client{Timeout: httpTimeout},
		logger:     logger,
		now:        time.Now,
	}
}

// CheckMembership returns the member record for npub, or an error when the
// member is absent, inactive, or the registry cannot be read.
func (c *Client) CheckMembership(ctx context.Context, npub string) (*Member, error) {
	members, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	for i := range members {
		if members[i].Npub != npub {
			continue
		}
		if members[i].Status != memberStatusActive {
			return nil, fmt.Errorf("member %s has status %q: %w", npub, members[i].Status, ErrMemberInactive)
		}
		member := members[i]
		return &member, nil
	}

	return nil, fmt.Errorf("npub %s: %w", npub, ErrMemberNotFound)
}

// InvalidateCache forces the next lookup to refetch regardless of TTL.
func (c *Client) InvalidateCache() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.members = nil
	c.fetchedAt = time.Time{}

	c.logger.Debug("DPYC registry cache invalidated")
}

// snapshot returns the cached member list, refreshing it when stale.
// The returned slice is shared - callers must not mutate it.
func (c *Client) snapshot(ctx context.Context) ([]Member, error) {
	c.mu.RLock()
	if c.members != nil && c.now().Sub(c.fetchedAt) < c.cacheTTL {
		members := c.members
		c.mu.RUnlock()
		return members, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// another caller may have refreshed while we waited for the lock
	if c.members != nil && c.now().Sub(c.fetchedAt) < c.cacheTTL {
		return c.members, nil
	}

	members, err := c.fetchRemote(ctx)
	if err != nil {
		// the existing snapshot and its timestamp are left untouched
		return nil, err
	}

	c.members = members
	c.fetchedAt = c.now()

	c.logger.Info("DPYC registry refreshed",
		slog.String("url", c.url),
		slog.Int("members", len(members)))

	return members, nil
}

// fetchRemote fetches and parses the registry document.
//
// Accepted shapes: a bare JSON array of member records, or an object wrapping
// that array under the "members" key. Anything else is a parse error.
func (c *Client) fetchRemote(ctx context.Context) ([]Member, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build registry request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry fetch failed: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("registry fetch failed: %w", err)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("registry response is empty")
	}

	switch trimmed[0] {
	case '[':
		var members []Member
		if err := json.Unmarshal(trimmed, &members); err != nil {
			return nil, fmt.Errorf("registry parse failed: %w", err)
		}
		return members, nil
	case '{':
		var wrapped struct {
			Members []Member `json:"members"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("registry parse failed: %w", err)
		}
		if wrapped.Members == nil {
			return nil, fmt.Errorf("registry JSON object missing 'members' list")
		}
		return wrapped.Members, nil
	default:
		return nil, fmt.Errorf("registry JSON is not a list or object")
	}
}
