package apiclient

import (
	"net/url"
	"time"
)

// Project represents a project row plus its derived free space.
type Project struct {
	ID             string    `json:"id"`
	QuotaBytes     int64     `json:"quota_bytes"`
	CommittedBytes int64     `json:"committed_bytes"`
	ReservedBytes  int64     `json:"reserved_bytes"`
	FreeBytes      int64     `json:"free_bytes"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreateProjectRequest is the request to create a project. A nil quota
// takes the server's default.
type CreateProjectRequest struct {
	ID         string `json:"id"`
	QuotaBytes *int64 `json:"quota_bytes,omitempty"`
}

// ProjectList is the response to a project listing.
type ProjectList struct {
	Projects []Project `json:"projects"`
	Count    int       `json:"count"`
}

// ListProjects returns all projects.
func (c *Client) ListProjects() (*ProjectList, error) {
	return getResource[ProjectList](c, "/v1/admin/projects")
}

// GetProject returns a project by ID.
func (c *Client) GetProject(id string) (*Project, error) {
	return getResource[Project](c, resourcePath("/v1/admin/projects/%s", url.PathEscape(id)))
}

// CreateProject creates a new project.
func (c *Client) CreateProject(req *CreateProjectRequest) (*Project, error) {
	return createResource[Project](c, "/v1/admin/projects", req)
}

// SetProjectQuota changes a project's quota limit. Lowering it below
// current usage is allowed; new reservations fail until usage drains.
func (c *Client) SetProjectQuota(id string, quotaBytes int64) (*Project, error) {
	req := struct {
		QuotaBytes int64 `json:"quota_bytes"`
	}{
		QuotaBytes: quotaBytes,
	}
	return patchResource[Project](c, resourcePath("/v1/admin/projects/%s/quota", url.PathEscape(id)), req)
}

// DeleteProject deletes a project. The server refuses while the project
// still has files or uploads in flight.
func (c *Client) DeleteProject(id string) error {
	return deleteResource(c, resourcePath("/v1/admin/projects/%s", url.PathEscape(id)))
}
