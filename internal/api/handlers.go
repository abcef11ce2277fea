package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/criteria"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/ruleservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *ruleservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *ruleservice.Service) *Handler {
	return &Handler{svc: svc}
}

// ListRules handles GET /rules.
//
// Query: under, ext, key (repeatable), limit, offset.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	rules, total, err := h.svc.ListRules(r.Context(), index.ListOptions{
		Under:  q.Get("under"),
		Ext:    q.Get("ext"),
		Keys:   q["key"],
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, "list rules", err)
		return
	}
	writeJSON(w, http.StatusOK, RuleListResponse{Rules: rules, Total: total})
}

// GetRule handles GET /rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.svc.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule handles POST /rules.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rule, err := h.svc.CreateRule(r.Context(), req.rule())
	if err != nil {
		writeError(w, "create rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// DeleteRules handles DELETE /rules. The body is the exact criteria set of
// the rules to remove; {} removes the global rules.
func (h *Handler) DeleteRules(w http.ResponseWriter, r *http.Request) {
	var c models.CriteriaSet
	if !decodeBody(w, r, &c) {
		return
	}
	n, err := h.svc.DeleteMatching(r.Context(), c)
	if err != nil {
		writeError(w, "delete rules", err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Deleted: n})
}

func pathParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := r.URL.Query().Get("path")
	if p == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'path' is required"))
		return "", false
	}
	return p, true
}

// Resolve handles GET /resolve?path=.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	p, ok := pathParam(w, r)
	if !ok {
		return
	}
	ann, err := h.svc.Resolve(r.Context(), p)
	if err != nil {
		writeError(w, "resolve", err)
		return
	}
	writeJSON(w, http.StatusOK, ResolveResponse{Path: p, Annotation: ann})
}

// Explain handles GET /explain?path=.
func (h *Handler) Explain(w http.ResponseWriter, r *http.Request) {
	p, ok := pathParam(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Explain(r.Context(), p)
	if err != nil {
		writeError(w, "explain", err)
		return
	}
	skipped := res.Skipped
	if skipped == nil {
		skipped = []criteria.Diagnostic{}
	}
	writeJSON(w, http.StatusOK, ExplainResponse{
		Record:     res.Record,
		Annotation: res.Annotation,
		Applied:    res.Applied,
		Skipped:    skipped,
		Candidates: res.Candidates,
		Filter:     res.Filter.String(),
	})
}

// Annotated handles GET /annotated?path=.
func (h *Handler) Annotated(w http.ResponseWriter, r *http.Request) {
	p, ok := pathParam(w, r)
	if !ok {
		return
	}
	out, err := h.svc.Annotated(r.Context(), p)
	if err != nil {
		writeError(w, "annotated", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
