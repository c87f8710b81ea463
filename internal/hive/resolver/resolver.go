// Package resolver implements the optional identity-resolution HTTP
// client: usernames in, display names out, used to enrich the
// /api/v1/tagged/{tag}/users listing (§4.9 supplemented feature).
//
// Grounded on original_source/src/resolver.rs: a GET to one endpoint with
// `format=map|single` and repeated `u=` query params, a 5s timeout, and a
// 404-on-single-lookup meaning "unknown username" rather than an error.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	requestTimeout = 5 * time.Second
	userAgent      = "hive-identity-resolver"
)

// Resolver calls an external identity service to map usernames to display
// names. A nil *Resolver is valid and treated as "no resolver configured"
// by callers (New returns nil when endpoint is empty, mirroring the
// original's Option<Self>).
type Resolver struct {
	endpoint string
	http     *http.Client
}

// New constructs a Resolver against endpoint, or returns nil if endpoint is
// empty — identity resolution is an optional collaborator (§1).
func New(endpoint string) *Resolver {
	if endpoint == "" {
		return nil
	}
	return &Resolver{
		endpoint: endpoint,
		http:     &http.Client{Timeout: requestTimeout},
	}
}

type resolvedEntry struct {
	FirstName  string `json:"firstName"`
	FamilyName string `json:"familyName"`
}

func (e resolvedEntry) displayName() string { return e.FirstName + " " + e.FamilyName }

// ResolveUsernames resolves a batch of usernames in one round trip,
// deduplicating repeats (matching the original's HashSet-backed query
// param collection). Usernames absent from the result are simply missing
// from the returned map.
func (r *Resolver) ResolveUsernames(ctx context.Context, usernames []string) (map[string]string, error) {
	seen := make(map[string]struct{}, len(usernames))
	q := url.Values{"format": {"map"}}
	for _, u := range usernames {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		q.Add("u", u)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("resolver: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolver: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("resolver: request failed with status %d", resp.StatusCode)
	}

	var entries map[string]resolvedEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("resolver: decode response: %w", err)
	}

	out := make(map[string]string, len(entries))
	for username, entry := range entries {
		out[username] = entry.displayName()
	}
	return out, nil
}

// ResolveOne resolves a single username, returning ok=false (not an error)
// when the resolver returns 404 for an unknown username.
func (r *Resolver) ResolveOne(ctx context.Context, username string) (displayName string, ok bool, err error) {
	q := url.Values{"format": {"single"}, "u": {username}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", false, fmt.Errorf("resolver: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.http.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("resolver: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode >= 300 {
		return "", false, fmt.Errorf("resolver: request failed with status %d", resp.StatusCode)
	}

	var entry resolvedEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return "", false, fmt.Errorf("resolver: decode response: %w", err)
	}
	return entry.displayName(), true, nil
}

// Identifiable is implemented by list items that populate display names
// in place via PopulateIdentities.
type Identifiable interface {
	Username() string
	SetDisplayName(string)
}

// PopulateIdentities resolves every item's username in one batch call and
// writes back the display name for every match, leaving unmatched items
// untouched.
func (r *Resolver) PopulateIdentities(ctx context.Context, items []Identifiable) error {
	usernames := make([]string, len(items))
	for i, item := range items {
		usernames[i] = item.Username()
	}
	names, err := r.ResolveUsernames(ctx, usernames)
	if err != nil {
		return err
	}
	for _, item := range items {
		if name, ok := names[item.Username()]; ok {
			item.SetDisplayName(name)
		}
	}
	return nil
}
