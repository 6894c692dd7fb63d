package client

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"
)

// Scope selects the subjects a policy applies to.
type Scope struct {
	Kind       string   `json:"kind"`
	Targets    []string `json:"targets,omitempty"`
	Exclusions []string `json:"exclusions,omitempty"`
}

// Rollout is a policy's staged-deployment setting.
type Rollout struct {
	Phase             string   `json:"phase"`
	Percentage        int      `json:"percentage"`
	TargetGroups      []string `json:"target_groups,omitempty"`
	AutoRollback      bool     `json:"auto_rollback,omitempty"`
	RollbackThreshold float64  `json:"rollback_threshold,omitempty"`
}

// PolicyVersion is one entry of a policy's version log.
type PolicyVersion struct {
	Version       int       `json:"version"`
	Author        string    `json:"author"`
	Summary       string    `json:"summary"`
	ChangedFields []string  `json:"changed_fields,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Integration carries distribution and identity-provider sync state.
type Integration struct {
	SyncStatus      string     `json:"sync_status"`
	SyncError       string     `json:"sync_error,omitempty"`
	SyncedAt        *time.Time `json:"synced_at,omitempty"`
	CacheKey        string     `json:"cache_key"`
	CacheTTLSeconds int        `json:"cache_ttl_seconds"`
}

// Statistics are a policy's evaluation counters.
type Statistics struct {
	Applied       uint64     `json:"applied"`
	Denied        uint64     `json:"denied"`
	Challenged    uint64     `json:"challenged"`
	Errors        uint64     `json:"errors"`
	LastAppliedAt *time.Time `json:"last_applied_at,omitempty"`
}

// Policy is an auth policy as returned by the API. Conditions and rules are kept
// as raw JSON; their shape depends on the condition and policy type.
type Policy struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Version     int               `json:"version"`
	Type        string            `json:"type"`
	Status      string            `json:"status"`
	Scope       Scope             `json:"scope"`
	Conditions  []json.RawMessage `json:"conditions"`
	Rules       json.RawMessage   `json:"rules"`
	Priority    int               `json:"priority"`
	Rollout     Rollout           `json:"rollout"`
	Versions    []PolicyVersion   `json:"versions"`
	Conflicts   []Conflict        `json:"conflicts"`
	Integration Integration       `json:"integration"`
	Statistics  Statistics        `json:"statistics"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// PolicyListResponse is the response from listing policies.
type PolicyListResponse struct {
	Policies []Policy `json:"policies"`
	Count    int      `json:"count"`
}

// PolicyListOptions filters a policy listing. Zero values mean no restriction.
type PolicyListOptions struct {
	Types    []string
	Statuses []string
	Scope    string
	Target   string
	Sync     string
}

// PolicyList lists policies in evaluation order.
func (c *Client) PolicyList(opts PolicyListOptions) (*PolicyListResponse, error) {
	q := url.Values{}
	for _, t := range opts.Types {
		q.Add("type", t)
	}
	for _, s := range opts.Statuses {
		q.Add("status", s)
	}
	if opts.Scope != "" {
		q.Set("scope", opts.Scope)
	}
	if opts.Target != "" {
		q.Set("target", opts.Target)
	}
	if opts.Sync != "" {
		q.Set("sync", opts.Sync)
	}

	var result PolicyListResponse
	if err := c.do(http.MethodGet, "/policies", q, nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PolicyGet retrieves a policy by id.
func (c *Client) PolicyGet(id string) (*Policy, error) {
	var p Policy
	if err := c.do(http.MethodGet, "/policies/"+url.PathEscape(id), nil, nil, http.StatusOK, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PolicyCreate stores a new draft from a JSON policy document.
func (c *Client) PolicyCreate(draft json.RawMessage) (*Policy, error) {
	var p Policy
	if err := c.do(http.MethodPost, "/policies", nil, draft, http.StatusCreated, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CommitRequest is a partial edit guarded by the last-seen version.
type CommitRequest struct {
	Version int             `json:"version"`
	Changes json.RawMessage `json:"changes"`
	Reason  string          `json:"reason,omitempty"`
}

// PolicyUpdate commits changes to a policy. A stale version fails with a 409
// *APIError carrying the current version.
func (c *Client) PolicyUpdate(id string, req CommitRequest) (*Policy, error) {
	var p Policy
	if err := c.do(http.MethodPatch, "/policies/"+url.PathEscape(id), nil, req, http.StatusOK, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PolicyTransition moves a policy to status ("active", "inactive", "archived").
func (c *Client) PolicyTransition(id, status, reason string) (*Policy, error) {
	body := map[string]string{"status": status}
	if reason != "" {
		body["reason"] = reason
	}
	var p Policy
	if err := c.do(http.MethodPost, "/policies/"+url.PathEscape(id)+"/transition", nil, body, http.StatusOK, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PolicyVersions returns a policy's version log.
func (c *Client) PolicyVersions(id string) ([]PolicyVersion, error) {
	var result struct {
		Versions []PolicyVersion `json:"versions"`
	}
	if err := c.do(http.MethodGet, "/policies/"+url.PathEscape(id)+"/versions", nil, nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return result.Versions, nil
}
