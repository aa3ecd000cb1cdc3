package apiclient

import (
	"net/url"
	"time"
)

// APIKey represents an API key record. The secret is never returned after
// issuance.
type APIKey struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	ProjectID  string     `json:"project_id,omitempty"`
	Role       string     `json:"role"`
	Enabled    bool       `json:"enabled"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// IssueKeyRequest is the request to issue an API key. Role defaults to
// reader; reader and writer keys must name a project, admin keys must not.
type IssueKeyRequest struct {
	Label     string `json:"label"`
	ProjectID string `json:"project_id,omitempty"`
	Role      string `json:"role,omitempty"`
}

// IssuedKey carries the one chance to read the token. Only the secret's
// hash is stored server-side, so a lost token means issuing a new key.
type IssuedKey struct {
	Key   *APIKey `json:"key"`
	Token string  `json:"token"`
}

// KeyList is the response to a key listing.
type KeyList struct {
	Keys  []APIKey `json:"keys"`
	Count int      `json:"count"`
}

// IssueKey issues a new API key and returns it with its token.
func (c *Client) IssueKey(req *IssueKeyRequest) (*IssuedKey, error) {
	return createResource[IssuedKey](c, "/v1/admin/keys", req)
}

// ListKeys returns all API keys. A non-empty project narrows the listing
// to that project's keys.
func (c *Client) ListKeys(project string) (*KeyList, error) {
	path := "/v1/admin/keys"
	if project != "" {
		q := url.Values{}
		q.Set("project", project)
		path += "?" + q.Encode()
	}
	return getResource[KeyList](c, path)
}

// RevokeKey disables a key. Its record and last-used timestamp are kept
// for audit.
func (c *Client) RevokeKey(id string) error {
	return deleteResource(c, resourcePath("/v1/admin/keys/%s", url.PathEscape(id)))
}

// PurgeKey removes a key's record entirely.
func (c *Client) PurgeKey(id string) error {
	return deleteResource(c, resourcePath("/v1/admin/keys/%s?purge=true", url.PathEscape(id)))
}
