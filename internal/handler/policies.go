package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/filipexyz/authpolicy/internal/domain"
	"github.com/filipexyz/authpolicy/internal/policy"
	"github.com/filipexyz/authpolicy/internal/schema"
)

// PolicyHandler serves the policy store over /policies.
type PolicyHandler struct {
	svc     *policy.Service
	maxBody int64
}

// NewPolicyHandler creates a new PolicyHandler. maxBody <= 0 selects 1MB.
func NewPolicyHandler(svc *policy.Service, maxBody int64) *PolicyHandler {
	return &PolicyHandler{svc: svc, maxBody: maxBody}
}

// List returns the policies matching the query filters, in evaluation order.
func (h *PolicyHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.svc.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*domain.AuthPolicy{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"policies": list,
		"count":    len(list),
	})
}

func parseFilter(r *http.Request) (domain.Filter, error) {
	var f domain.Filter
	ve := &domain.ValidationError{}
	for _, t := range multiParam(r, "type") {
		pt := domain.PolicyType(t)
		if !pt.Valid() {
			ve.Add("type", "unknown policy type %q", t)
			continue
		}
		f.Types = append(f.Types, pt)
	}
	for _, s := range multiParam(r, "status") {
		st := domain.Status(s)
		if !st.Valid() {
			ve.Add("status", "unknown status %q", s)
			continue
		}
		f.Statuses = append(f.Statuses, st)
	}
	q := r.URL.Query()
	if k := q.Get("scope"); k != "" {
		f.ScopeKind = domain.ScopeKind(k)
		if !f.ScopeKind.Valid() {
			ve.Add("scope", "unknown scope kind %q", k)
		}
	}
	f.ScopeTarget = q.Get("target")
	if s := q.Get("sync"); s != "" {
		f.SyncStatus = domain.SyncStatus(s)
		switch f.SyncStatus {
		case domain.SyncPending, domain.SyncSynced, domain.SyncError:
		default:
			ve.Add("sync", "unknown sync status %q", s)
		}
	}
	return f, ve.OrNil()
}

// Create stores a new draft policy.
func (h *PolicyHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, h.maxBody)
	if !ok {
		return
	}
	if err := schema.ValidateDraft(body); err != nil {
		writeError(w, r, err)
		return
	}
	var d domain.Draft
	if !decode(w, body, &d) {
		return
	}

	p, err := h.svc.Create(r.Context(), d, metadata(r, ""))
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("policy created", "policy_id", p.ID, "type", p.Type, "name", p.Name)
	writeJSON(w, http.StatusCreated, p)
}

// Get returns a single policy.
func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type commitRequest struct {
	Version int            `json:"version"`
	Changes domain.Changes `json:"changes"`
	Reason  string         `json:"reason,omitempty"`
}

// Commit applies a partial edit guarded by the caller's last-seen version.
func (h *PolicyHandler) Commit(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, h.maxBody)
	if !ok {
		return
	}
	if err := schema.ValidateCommit(body); err != nil {
		writeError(w, r, err)
		return
	}
	var req commitRequest
	if !decode(w, body, &req) {
		return
	}

	p, err := h.svc.Commit(r.Context(), chi.URLParam(r, "id"), req.Version, req.Changes, metadata(r, req.Reason))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type transitionRequest struct {
	Status domain.Status `json:"status"`
	Reason string        `json:"reason,omitempty"`
}

// Transition moves a policy through its lifecycle.
func (h *PolicyHandler) Transition(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, h.maxBody)
	if !ok {
		return
	}
	var req transitionRequest
	if !decode(w, body, &req) {
		return
	}
	if !req.Status.Valid() {
		writeError(w, r, domain.NewValidationError("status", "unknown status %q", req.Status))
		return
	}

	p, err := h.svc.Transition(r.Context(), chi.URLParam(r, "id"), req.Status, metadata(r, req.Reason))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Versions returns the version log of a policy.
func (h *PolicyHandler) Versions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.svc.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"versions": versions,
		"count":    len(versions),
	})
}

// Audit returns the audit trail of a single policy.
func (h *PolicyHandler) Audit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.svc.Get(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	filter, err := parseAuditFilter(r, time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter.PolicyID = id
	entries, err := h.svc.Audit(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeAudit(w, entries)
}
