package handler

import (
	"net/http"
	"time"

	"github.com/filipexyz/authpolicy/internal/domain"
	"github.com/filipexyz/authpolicy/internal/policy"
)

// AuditHandler handles audit log queries.
type AuditHandler struct {
	svc *policy.Service
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(svc *policy.Service) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// List returns audit entries filtered by query parameters, oldest first.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r, time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter.PolicyID = r.URL.Query().Get("policy")

	entries, err := h.svc.Audit(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeAudit(w, entries)
}

// parseAuditFilter reads action, since and limit. since is either a duration back
// from now ("24h") or an RFC3339 timestamp.
func parseAuditFilter(r *http.Request, now time.Time) (domain.AuditFilter, error) {
	q := r.URL.Query()
	f := domain.AuditFilter{Limit: parseLimit(r, 50, 1000)}
	ve := &domain.ValidationError{}

	if a := q.Get("action"); a != "" {
		f.Action = domain.AuditAction(a)
		if !f.Action.Valid() {
			ve.Add("action", "unknown audit action %q", a)
		}
	}
	if s := q.Get("since"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			f.Since = now.Add(-d)
		} else if t, err := time.Parse(time.RFC3339, s); err == nil {
			f.Since = t
		} else {
			ve.Add("since", "expected a duration or RFC3339 time, got %q", s)
		}
	}
	return f, ve.OrNil()
}

func writeAudit(w http.ResponseWriter, entries []domain.AuditEntry) {
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
