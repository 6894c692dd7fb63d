package client

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// AuditMetadata is the caller context recorded with a mutation.
type AuditMetadata struct {
	Actor     string `json:"actor"`
	IP        string `json:"ip,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID         string                     `json:"id"`
	PolicyID   string                     `json:"policy_id"`
	Action     string                     `json:"action"`
	FromStatus string                     `json:"from_status,omitempty"`
	ToStatus   string                     `json:"to_status"`
	Version    int                        `json:"version"`
	Before     map[string]json.RawMessage `json:"before,omitempty"`
	After      map[string]json.RawMessage `json:"after,omitempty"`
	Metadata   AuditMetadata              `json:"metadata"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// AuditListResponse is the response from listing audit entries.
type AuditListResponse struct {
	Entries []AuditEntry `json:"entries"`
	Count   int          `json:"count"`
}

// AuditQueryOptions configures audit log queries.
type AuditQueryOptions struct {
	Policy string
	Action string
	Since  string // duration like "1h" or an RFC3339 time
	Limit  int
}

// AuditList queries the audit log, oldest entry first.
func (c *Client) AuditList(opts AuditQueryOptions) (*AuditListResponse, error) {
	q := url.Values{}
	if opts.Policy != "" {
		q.Set("policy", opts.Policy)
	}
	if opts.Action != "" {
		q.Set("action", opts.Action)
	}
	if opts.Since != "" {
		q.Set("since", opts.Since)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}

	var result AuditListResponse
	if err := c.do(http.MethodGet, "/audit", q, nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
