// Package googlesync realizes the built-in Google directory sync
// integration (§4.6): a Client talking to the Admin SDK
// Directory API, and a Syncer that reconciles Hive's `sync`-tagged groups
// against it in dry-run/no-deletion/full modes.
//
// Grounded on original_source/src/integrations/gworkspace/google.rs: same
// endpoint set, same JWT-bearer service-account exchange, same pagination
// shape, translated from reqwest+jsonwebtoken to net/http+golang.org/x/oauth2's
// JWT config (the library the rest of this module already depends on for
// OIDC, so no new third-party surface is introduced for the exchange).
package googlesync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"
)

const (
	directoryScope  = "https://www.googleapis.com/auth/admin.directory.user https://www.googleapis.com/auth/admin.directory.group"
	requestTimeout  = 5 * time.Second
	userAgent       = "hive-gworkspace-integration"
	apiBase         = "https://admin.googleapis.com/admin/directory/v1"
	tokenURL        = "https://oauth2.googleapis.com/token"
)

// Client talks to the Admin SDK Directory API on behalf of a service
// account impersonating a directory admin. Tokens are refreshed
// transparently by the oauth2.TokenSource; the client itself is cheap to
// rebuild per sync run, matching the original's "expires after 1h, rebuilt
// each run" comment.
type Client struct {
	http *http.Client
}

// NewClient builds a Client authenticated as serviceAccountEmail,
// impersonating impersonateUser, using the RSA private key in PEM form.
func NewClient(ctx context.Context, serviceAccountEmail, privateKeyPEM, impersonateUser string) (*Client, error) {
	cfg := &jwt.Config{
		Email:      serviceAccountEmail,
		PrivateKey: []byte(privateKeyPEM),
		Scopes:     []string{directoryScope},
		TokenURL:   tokenURL,
		Subject:    impersonateUser,
	}
	ts := cfg.TokenSource(ctx)
	if _, err := ts.Token(); err != nil {
		return nil, fmt.Errorf("googlesync: obtain access token: %w", err)
	}
	return &Client{
		http: &http.Client{
			Transport: &oauth2.Transport{Source: ts, Base: http.DefaultTransport},
			Timeout:   requestTimeout,
		},
	}, nil
}

func (c *Client) do(ctx context.Context, method, rawURL string, body, out any) (bool, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("googlesync: encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return false, fmt.Errorf("googlesync: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("googlesync: execute %s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close()

	// For groups (not users) the Admin SDK returns 403 instead of 404 for a
	// missing resource — we assume our service account has sufficient
	// permissions for anything it would otherwise be denied for, so both
	// mean "not found" here (matches the original's exec_request comment).
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("googlesync: %s %s: status %d", method, rawURL, resp.StatusCode)
	}
	if out == nil {
		return true, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("googlesync: decode response (%s): %w", rawURL, err)
	}
	return true, nil
}

// User is the subset of the Admin SDK user resource this integration reads.
type User struct {
	PrimaryEmail string `json:"primaryEmail"`
}

// GetUser looks up a directory user by email or id; ok is false if absent.
func (c *Client) GetUser(ctx context.Context, key string) (u User, ok bool, err error) {
	ok, err = c.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/users/%s?projection=BASIC&viewType=admin_view", apiBase, url.PathEscape(key)),
		nil, &u)
	return u, ok, err
}

// SimpleGroup is one row of a group listing.
type SimpleGroup struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// ListGroups returns every group visible to the service account's customer.
func (c *Client) ListGroups(ctx context.Context) ([]SimpleGroup, error) {
	return paginate[SimpleGroup](ctx, c, fmt.Sprintf("%s/groups", apiBase), url.Values{"customer": {"my_customer"}}, "groups")
}

// Group is the subset of the Admin SDK group resource this integration reads/writes.
type Group struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// NewGroup is the payload for CreateGroup.
type NewGroup struct {
	Email       string `json:"email"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateGroup creates a remote group.
func (c *Client) CreateGroup(ctx context.Context, g NewGroup) (Group, error) {
	var out Group
	ok, err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s/groups", apiBase), g, &out)
	if err != nil {
		return Group{}, err
	}
	if !ok {
		return Group{}, fmt.Errorf("googlesync: create group %s: not found after create", g.Email)
	}
	return out, nil
}

// GetGroup loads a remote group by email; ok is false if absent.
func (c *Client) GetGroup(ctx context.Context, key string) (g Group, ok bool, err error) {
	ok, err = c.do(ctx, http.MethodGet, fmt.Sprintf("%s/groups/%s", apiBase, url.PathEscape(key)), nil, &g)
	return g, ok, err
}

// GroupPatch is a partial update to a group; nil fields are left untouched.
type GroupPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// PatchGroup applies a partial update to a remote group.
func (c *Client) PatchGroup(ctx context.Context, key string, patch GroupPatch) (g Group, ok bool, err error) {
	ok, err = c.do(ctx, http.MethodPatch, fmt.Sprintf("%s/groups/%s", apiBase, url.PathEscape(key)), patch, &g)
	return g, ok, err
}

// MemberRole mirrors the Admin SDK's group member role enum.
type MemberRole string

const (
	RoleMember  MemberRole = "MEMBER"
	RoleManager MemberRole = "MANAGER"
	RoleOwner   MemberRole = "OWNER"
)

// MemberType mirrors the Admin SDK's group member type enum.
type MemberType string

const (
	TypeGroup MemberType = "GROUP"
	TypeUser  MemberType = "USER"
)

// GroupMember is one membership row of a remote group.
type GroupMember struct {
	Email string     `json:"email"`
	Role  MemberRole `json:"role"`
	Type  MemberType `json:"type"`
}

// ListGroupMembers returns every direct (non-derived) member of a remote group.
func (c *Client) ListGroupMembers(ctx context.Context, key string) ([]GroupMember, error) {
	return paginate[GroupMember](ctx, c, fmt.Sprintf("%s/groups/%s/members", apiBase, url.PathEscape(key)),
		url.Values{"includeDerivedMembership": {"false"}}, "members")
}

// AddGroupMember adds member to the remote group identified by groupKey.
func (c *Client) AddGroupMember(ctx context.Context, groupKey string, member GroupMember) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s/groups/%s/members", apiBase, url.PathEscape(groupKey)), member, nil)
	return err
}

// RemoveGroupMember removes memberKey from the remote group identified by groupKey.
func (c *Client) RemoveGroupMember(ctx context.Context, groupKey, memberKey string) error {
	_, err := c.do(ctx, http.MethodDelete,
		fmt.Sprintf("%s/groups/%s/members/%s", apiBase, url.PathEscape(groupKey), url.PathEscape(memberKey)), nil, nil)
	return err
}

// PatchGroupMember changes an existing member's role.
func (c *Client) PatchGroupMember(ctx context.Context, groupKey, memberKey string, role MemberRole) error {
	_, err := c.do(ctx, http.MethodPatch,
		fmt.Sprintf("%s/groups/%s/members/%s", apiBase, url.PathEscape(groupKey), url.PathEscape(memberKey)),
		struct {
			Role MemberRole `json:"role"`
		}{role}, nil)
	return err
}

func paginate[T any](ctx context.Context, c *Client, rawURL string, params url.Values, key string) ([]T, error) {
	var items []T
	params = cloneValues(params)
	params.Set("maxResults", "200")

	for {
		u := rawURL + "?" + params.Encode()
		var page map[string]json.RawMessage
		ok, err := c.do(ctx, http.MethodGet, u, nil, &page)
		if err != nil {
			return nil, fmt.Errorf("googlesync: paginated list: %w", err)
		}
		if !ok {
			break
		}
		if raw, present := page[key]; present {
			var batch []T
			if err := json.Unmarshal(raw, &batch); err != nil {
				return nil, fmt.Errorf("googlesync: decode page items: %w", err)
			}
			items = append(items, batch...)
		}
		var token string
		if raw, present := page["nextPageToken"]; present {
			if err := json.Unmarshal(raw, &token); err != nil {
				return nil, err
			}
		}
		if token == "" {
			break
		}
		params.Set("pageToken", token)
	}
	return items, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
