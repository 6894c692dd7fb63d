package client

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"
)

// Subject is the principal a policy is evaluated for.
type Subject struct {
	ID     string   `json:"id"`
	Roles  []string `json:"roles,omitempty"`
	Groups []string `json:"groups,omitempty"`
}

// RequestContext carries the request attributes conditions are checked against.
type RequestContext struct {
	IP         string     `json:"ip,omitempty"`
	Country    string     `json:"country,omitempty"`
	DeviceType string     `json:"device_type,omitempty"`
	Time       *time.Time `json:"time,omitempty"`
	RiskLevel  string     `json:"risk_level,omitempty"`
	RiskScore  int        `json:"risk_score,omitempty"`
}

// EvaluateRequest asks which outcome applies to a subject.
type EvaluateRequest struct {
	Subject Subject        `json:"subject"`
	Context RequestContext `json:"context"`
	Types   []string       `json:"types,omitempty"`
}

// TypeResult is the decision for one policy type.
type TypeResult struct {
	Type       string          `json:"type"`
	PolicyID   string          `json:"policy_id,omitempty"`
	PolicyName string          `json:"policy_name,omitempty"`
	Version    int             `json:"version,omitempty"`
	Outcome    string          `json:"outcome"`
	Reason     string          `json:"reason"`
	Rules      json.RawMessage `json:"rules,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// EvaluateResult combines the per-type decisions.
type EvaluateResult struct {
	Outcome     string       `json:"outcome"`
	Results     []TypeResult `json:"results"`
	EvaluatedAt time.Time    `json:"evaluated_at"`
}

// Evaluate returns allow, deny or challenge for the request.
func (c *Client) Evaluate(req EvaluateRequest) (*EvaluateResult, error) {
	var res EvaluateResult
	if err := c.do(http.MethodPost, "/evaluate", nil, req, http.StatusOK, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Conflict is a detected interaction between two active policies.
type Conflict struct {
	PolicyID      string    `json:"policy_id"`
	OtherPolicyID string    `json:"other_policy_id"`
	Kind          string    `json:"kind"`
	Severity      string    `json:"severity"`
	Targets       []string  `json:"targets,omitempty"`
	Fields        []string  `json:"fields,omitempty"`
	Description   string    `json:"description"`
	DetectedAt    time.Time `json:"detected_at"`
}

// ConflictQueryOptions narrows a conflict listing.
type ConflictQueryOptions struct {
	Type   string
	Scope  string
	Target string
}

// Conflicts recomputes conflicts among the active policies.
func (c *Client) Conflicts(opts ConflictQueryOptions) ([]Conflict, error) {
	q := url.Values{}
	if opts.Type != "" {
		q.Set("type", opts.Type)
	}
	if opts.Scope != "" {
		q.Set("scope", opts.Scope)
	}
	if opts.Target != "" {
		q.Set("target", opts.Target)
	}
	var result struct {
		Conflicts []Conflict `json:"conflicts"`
	}
	if err := c.do(http.MethodGet, "/conflicts", q, nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return result.Conflicts, nil
}
