package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/auditeng/compliance/internal/errors"
	"github.com/auditeng/compliance/internal/idgen"
	"github.com/auditeng/compliance/pkg/domain"
	"github.com/auditeng/compliance/pkg/reportadapter"
	"github.com/auditeng/compliance/pkg/taskstore"
)

// listAnalyses handles GET /api/analyses: a filtered, sorted,
// 1-indexed page of items plus pagination totals.
func (h *handlers) listAnalyses(w http.ResponseWriter, r *http.Request) {
	owner, _ := userIDFromContext(r.Context())
	q := r.URL.Query()

	filter := taskstoreListFilter(owner, q)
	items, total, err := h.deps.Store.Analyses.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	totalPages := (total + perPage - 1) / perPage
	if totalPages == 0 {
		totalPages = 1
	}

	summaries := make([]map[string]any, 0, len(items))
	for _, a := range items {
		summaries = append(summaries, map[string]any{
			"analysis_id":     a.ID.String(),
			"test_type":       a.TestType,
			"equipment_tag":   a.EquipmentTag,
			"compliance_score": a.ComplianceScore,
			"verdict":         a.Verdict,
			"created_at":      a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": summaries,
		"pagination": map[string]any{
			"total":       total,
			"page":        filter.Page,
			"per_page":    perPage,
			"total_pages": totalPages,
		},
	})
}

func taskstoreListFilter(owner idgen.ID, q map[string][]string) taskstore.ListFilter {
	get := func(key string) string {
		if vs, ok := q[key]; ok && len(vs) > 0 {
			return vs[0]
		}
		return ""
	}
	f := taskstore.ListFilter{
		OwnerID:   owner,
		SortBy:    get("sort_by"),
		SortOrder: get("sort_order"),
		Page:      atoiOr(get("page"), 1),
		PerPage:   atoiOr(get("per_page"), 20),
	}
	if v := get("status_filter"); v != "" {
		verdict := domain.Verdict(v)
		f.Status = &verdict
	}
	return f
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// getAnalysis handles GET /api/analyses/{id}.
func (h *handlers) getAnalysis(w http.ResponseWriter, r *http.Request) {
	analysis, err := h.loadOwnedAnalysis(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	findings, err := h.deps.Store.Findings.ListByAnalysis(r.Context(), analysis.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysisPayload(analysis, findings))
}

// approveAnalysis handles PUT /api/analyses/{id}/approve: sets the
// verdict to APPROVED, or 400 when the task is not COMPLETED.
func (h *handlers) approveAnalysis(w http.ResponseWriter, r *http.Request) {
	h.reviewDecision(w, r, domain.VerdictApproved, nil)
}

// rejectAnalysis handles PUT /api/analyses/{id}/reject: sets the
// verdict to REJECTED with the supplied reason, or 400 on a state or
// reason-length violation.
func (h *handlers) rejectAnalysis(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.reviewDecision(w, r, domain.VerdictRejected, &req.Reason)
}

// reviewDecision implements the shared precondition/mutation/audit
// sequence both approve and reject follow: owner + Task
// COMPLETED + verdict not already terminal.
func (h *handlers) reviewDecision(w http.ResponseWriter, r *http.Request, verdict domain.Verdict, reason *string) {
	analysis, err := h.loadOwnedAnalysis(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	task, err := h.deps.Store.Tasks.Get(r.Context(), analysis.TaskID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if task.Status != domain.TaskCompleted {
		writeError(w, r, apperrors.NewInvalidState("analysis is not ready for review"))
		return
	}

	applied, err := h.deps.Store.Analyses.SetVerdict(r.Context(), analysis.ID, verdict, reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !applied {
		writeError(w, r, apperrors.NewInvalidState("analysis has already received a final review decision"))
		return
	}

	owner, _ := userIDFromContext(r.Context())
	h.emitReviewAudit(r, analysis.ID, verdict, owner, reason)

	writeJSON(w, http.StatusOK, map[string]any{"verdict": verdict})
}

func (h *handlers) emitReviewAudit(r *http.Request, analysisID idgen.ID, verdict domain.Verdict, reviewer idgen.ID, reason *string) {
	details := map[string]any{"reviewer_id": reviewer.String()}
	eventType := domain.EventHumanReviewApproved
	if verdict == domain.VerdictRejected {
		eventType = domain.EventHumanReviewRejected
		if reason != nil {
			details["reason"] = *reason
		}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		h.deps.Logger.Error(err, "failed to encode review audit details")
		return
	}
	event := &domain.AuditEvent{
		ID:             idgen.New(),
		AnalysisID:     analysisID,
		EventType:      eventType,
		EventTimestamp: time.Now().UTC(),
		Details:        payload,
	}
	if err := h.deps.Store.Audit.Insert(r.Context(), event); err != nil {
		// Audit infrastructure failures must never block business logic.
		h.deps.Logger.Error(err, "failed to record review audit event")
	}
}

// getAudit handles GET /api/analyses/{id}/audit: the analysis's
// audit trail in chronological order.
func (h *handlers) getAudit(w http.ResponseWriter, r *http.Request) {
	analysis, err := h.loadOwnedAnalysis(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	events, err := h.deps.Store.Audit.ListByAnalysis(r.Context(), analysis.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events":      events,
		"event_count": len(events),
	})
}

// getReport handles GET /api/analyses/{id}/report. It returns the
// assembled report bundle as JSON; no PDF rendering happens here.
func (h *handlers) getReport(w http.ResponseWriter, r *http.Request) {
	analysis, err := h.loadOwnedAnalysis(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	findings, err := h.deps.Store.Findings.ListByAnalysis(r.Context(), analysis.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	bundle, err := reportadapter.FromAnalysis(analysis, findings)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

// loadOwnedAnalysis resolves {id} and enforces ownership via
// AnalysisRepository.OwnerOf before the caller ever loads the full
// row.
func (h *handlers) loadOwnedAnalysis(r *http.Request) (*domain.Analysis, error) {
	id, err := idgen.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return nil, apperrors.NewInvalidInput("malformed analysis id")
	}
	owner, _ := userIDFromContext(r.Context())
	actualOwner, err := h.deps.Store.Analyses.OwnerOf(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if actualOwner != owner {
		return nil, apperrors.NewAuthorization("you do not own this analysis")
	}
	return h.deps.Store.Analyses.Get(r.Context(), id)
}

func analysisPayload(a *domain.Analysis, findings []*domain.Finding) map[string]any {
	return map[string]any{
		"analysis_id":        a.ID.String(),
		"task_id":            a.TaskID.String(),
		"test_type":          a.TestType,
		"equipment_type":     a.EquipmentType,
		"equipment_tag":      a.EquipmentTag,
		"compliance_score":   a.ComplianceScore,
		"overall_confidence": a.OverallConfidence,
		"needs_review":       a.NeedsReview,
		"verdict":            a.Verdict,
		"rejection_reason":   a.RejectionReason,
		"findings":           findings,
		"created_at":         a.CreatedAt.UTC().Format(time.RFC3339),
	}
}
