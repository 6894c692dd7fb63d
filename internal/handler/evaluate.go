package handler

import (
	"net/http"

	"github.com/filipexyz/authpolicy/internal/domain"
	"github.com/filipexyz/authpolicy/internal/policy"
)

// EvaluateHandler handles POST /evaluate.
type EvaluateHandler struct {
	svc     *policy.Service
	maxBody int64
}

// NewEvaluateHandler creates a new EvaluateHandler.
func NewEvaluateHandler(svc *policy.Service, maxBody int64) *EvaluateHandler {
	return &EvaluateHandler{svc: svc, maxBody: maxBody}
}

// Evaluate decides allow, deny or challenge for a subject in a request context.
func (h *EvaluateHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, h.maxBody)
	if !ok {
		return
	}
	var req policy.EvaluateRequest
	if !decode(w, body, &req) {
		return
	}

	res, err := h.svc.Evaluate(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ConflictHandler handles GET /conflicts.
type ConflictHandler struct {
	svc *policy.Service
}

// NewConflictHandler creates a new ConflictHandler.
func NewConflictHandler(svc *policy.Service) *ConflictHandler {
	return &ConflictHandler{svc: svc}
}

// List recomputes conflicts among active policies, narrowed by scope, target and type.
func (h *ConflictHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := policy.ConflictQuery{
		Type:        domain.PolicyType(q.Get("type")),
		ScopeKind:   domain.ScopeKind(q.Get("scope")),
		ScopeTarget: q.Get("target"),
	}
	ve := &domain.ValidationError{}
	if query.Type != "" && !query.Type.Valid() {
		ve.Add("type", "unknown policy type %q", query.Type)
	}
	if query.ScopeKind != "" && !query.ScopeKind.Valid() {
		ve.Add("scope", "unknown scope kind %q", query.ScopeKind)
	}
	if err := ve.OrNil(); err != nil {
		writeError(w, r, err)
		return
	}

	conflicts, err := h.svc.ListConflicts(r.Context(), query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if conflicts == nil {
		conflicts = []domain.PolicyConflict{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conflicts": conflicts,
		"count":     len(conflicts),
	})
}
