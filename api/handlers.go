/*
handlers.go - HTTP API handlers for the grant portal engine

PURPOSE:
  Exposes the grants engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine.

ENDPOINTS:
  Funding:
    GET    /api/funding-pool            Pool summary for the caller's state
    GET    /api/grant-calls             Open calls for the caller's state
    GET    /api/cycles                  Open funding cycles

  Projects:
    POST   /api/project-drafts          Save (upsert) a project draft
    DELETE /api/project-drafts?id=      Delete an owned draft
    POST   /api/projects/{id}/submit    Submit a draft
    GET    /api/project-feedback?project_id=   Feedback trail
    POST   /api/project-feedback?project_id=   Attach feedback (admin)

  Reports:
    POST   /api/report-drafts           Save (upsert) a report draft
    DELETE /api/report-drafts?id=       Delete an owned report draft
    POST   /api/reports/{id}/submit     Submit a report draft

  Admin:
    POST   /api/admin/cycles            Create/update a funding cycle
    POST   /api/admin/allocations       Record a state allocation decision
    POST   /api/admin/grant-calls       Create/update a grant call
    POST   /api/admin/call-allocations  Record a call allocation decision
    POST   /api/projects/{id}/approve | /reject | /commit
    GET    /api/admin/audit?entity_id=  Lifecycle audit trail

ERROR HANDLING:
  Engine errors map onto HTTP statuses:
  - validation -> 400, with the field-level message
  - not found  -> 404, generic message (never confirms foreign records)
  - conflict   -> 409, caller should re-fetch and retry
  - storage    -> 500, generic "try again", details only in server logs
  Every response carries the success envelope flag.

SEE ALSO:
  - dto.go: request/response data structures
  - server.go: router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/reliefops/grant-engine/auth"
	"github.com/reliefops/grant-engine/grants"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// AdminStore is the storage surface the admin endpoints write through, on
// top of what the engine itself needs.
type AdminStore interface {
	grants.TxStore
	grants.AuditLog

	SaveCycle(ctx context.Context, c grants.FundingCycle) error
	SaveStateAllocation(ctx context.Context, a grants.StateAllocation) error
	SaveCall(ctx context.Context, c grants.GrantCall) error
	SaveCallAllocation(ctx context.Context, a grants.GrantCallStateAllocation) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     AdminStore
	Pool      *grants.Aggregator
	Calls     *grants.Selector
	Lifecycle *grants.Lifecycle
	Log       *zap.Logger
}

// NewHandler wires the engine services over the given store.
func NewHandler(store AdminStore, validator grants.Validator, logger *zap.Logger) *Handler {
	return &Handler{
		Store:     store,
		Pool:      grants.NewAggregator(store),
		Calls:     grants.NewSelector(store),
		Lifecycle: grants.NewLifecycle(store, store, validator),
		Log:       logger,
	}
}

// =============================================================================
// FUNDING HANDLERS
// =============================================================================

// GetFundingPool returns the pool summary for the caller's state across all
// open cycles.
func (h *Handler) GetFundingPool(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	pool, err := h.Pool.ComputeOpenPool(r.Context(), identity.State)
	if err != nil {
		h.writeEngineError(w, err, "compute funding pool")
		return
	}

	dto := toPoolDTO(pool)
	writeSuccess(w, http.StatusOK, map[string]any{
		"allocated":  dto.Allocated,
		"committed":  dto.Committed,
		"pending":    dto.Pending,
		"remaining":  dto.Remaining,
		"user_state": dto.UserState,
	})
}

// ListGrantCalls returns open grant calls with an allocation for the
// caller's state, latest decision only.
func (h *Handler) ListGrantCalls(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	summaries, err := h.Calls.ListCallsForState(r.Context(), identity.State)
	if err != nil {
		h.writeEngineError(w, err, "list grant calls")
		return
	}

	dtos := make([]CallSummaryDTO, len(summaries))
	for i, s := range summaries {
		dtos[i] = toCallSummaryDTO(s)
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"grant_calls": dtos,
		"user_state":  identity.State,
	})
}

// ListCycles returns all open funding cycles.
func (h *Handler) ListCycles(w http.ResponseWriter, r *http.Request) {
	cycles, err := h.Store.ListOpenCycles(r.Context())
	if err != nil {
		h.writeEngineError(w, err, "list cycles")
		return
	}
	dtos := make([]CycleDTO, len(cycles))
	for i, c := range cycles {
		dtos[i] = toCycleDTO(c)
	}
	writeSuccess(w, http.StatusOK, map[string]any{"cycles": dtos})
}

// =============================================================================
// PROJECT HANDLERS
// =============================================================================

// SaveProjectDraft upserts a project draft from the raw form payload.
func (h *Handler) SaveProjectDraft(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	p, err := h.Lifecycle.SaveDraft(r.Context(), identity.ID, payload)
	if err != nil {
		h.writeEngineError(w, err, "save project draft")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"project": toProjectDTO(p)})
}

// DeleteProjectDraft deletes a draft owned by the caller.
func (h *Handler) DeleteProjectDraft(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing id parameter")
		return
	}
	if err := h.Lifecycle.DeleteDraft(r.Context(), identity.ID, grants.ProjectID(id)); err != nil {
		h.writeEngineError(w, err, "delete project draft")
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

// SubmitProject turns a draft into a pending submission.
func (h *Handler) SubmitProject(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())

	id := chi.URLParam(r, "id")
	p, err := h.Lifecycle.Submit(r.Context(), identity.ID, grants.ProjectID(id))
	if err != nil {
		h.writeEngineError(w, err, "submit project")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"project": toProjectDTO(p)})
}

// ApproveProject moves a pending submission to approved.
func (h *Handler) ApproveProject(w http.ResponseWriter, r *http.Request) {
	h.reviewProject(w, r, h.Lifecycle.Approve)
}

// RejectProject moves a pending submission to rejected.
func (h *Handler) RejectProject(w http.ResponseWriter, r *http.Request) {
	h.reviewProject(w, r, h.Lifecycle.Reject)
}

// CommitProjectFunding marks an approved project's allocation as committed.
func (h *Handler) CommitProjectFunding(w http.ResponseWriter, r *http.Request) {
	h.reviewProject(w, r, h.Lifecycle.CommitFunding)
}

func (h *Handler) reviewProject(w http.ResponseWriter, r *http.Request,
	op func(context.Context, string, grants.ProjectID) (*grants.Project, error)) {
	identity, _ := auth.FromContext(r.Context())

	id := chi.URLParam(r, "id")
	p, err := op(r.Context(), identity.ID, grants.ProjectID(id))
	if err != nil {
		h.writeEngineError(w, err, "review project")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"project": toProjectDTO(p)})
}

// =============================================================================
// FEEDBACK HANDLERS
// =============================================================================

// AttachFeedback records the next reviewer feedback round for a project.
func (h *Handler) AttachFeedback(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())

	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "Missing project_id parameter")
		return
	}

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	fb, err := h.Lifecycle.AttachFeedback(r.Context(), grants.ProjectID(projectID), req.FeedbackText, identity.ID)
	if err != nil {
		h.writeEngineError(w, err, "attach feedback")
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{"feedback": toFeedbackDTO(fb)})
}

// ListProjectFeedback returns the feedback trail for a project.
func (h *Handler) ListProjectFeedback(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "Missing project_id parameter")
		return
	}

	items, err := h.Store.ListFeedback(r.Context(), grants.ProjectID(projectID))
	if err != nil {
		h.writeEngineError(w, err, "list feedback")
		return
	}
	dtos := make([]FeedbackDTO, len(items))
	for i := range items {
		dtos[i] = toFeedbackDTO(&items[i])
	}
	writeSuccess(w, http.StatusOK, map[string]any{"feedback": dtos})
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// SaveReportDraft upserts a report draft from the raw form payload.
func (h *Handler) SaveReportDraft(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rep, err := h.Lifecycle.SaveReportDraft(r.Context(), identity.ID, payload)
	if err != nil {
		h.writeEngineError(w, err, "save report draft")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"report": toReportDTO(rep)})
}

// DeleteReportDraft deletes a report draft owned by the caller.
func (h *Handler) DeleteReportDraft(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing id parameter")
		return
	}
	if err := h.Lifecycle.DeleteReportDraft(r.Context(), identity.ID, grants.ReportID(id)); err != nil {
		h.writeEngineError(w, err, "delete report draft")
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

// SubmitReport turns a report draft into a pending submission.
func (h *Handler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())

	id := chi.URLParam(r, "id")
	rep, err := h.Lifecycle.SubmitReport(r.Context(), identity.ID, grants.ReportID(id))
	if err != nil {
		h.writeEngineError(w, err, "submit report")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"report": toReportDTO(rep)})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateCycle creates or updates a funding cycle.
func (h *Handler) CreateCycle(w http.ResponseWriter, r *http.Request) {
	var req CycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)")
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date format (use YYYY-MM-DD)")
		return
	}

	status := grants.CycleStatus(req.Status)
	if status == "" {
		status = grants.CycleOpen
	}
	cycle := grants.FundingCycle{
		ID:          grants.CycleID(req.ID),
		CycleNumber: req.CycleNumber,
		Year:        req.Year,
		Name:        req.Name,
		Status:      status,
		StartDate:   start,
		EndDate:     end,
	}
	if err := h.Store.SaveCycle(r.Context(), cycle); err != nil {
		h.writeEngineError(w, err, "save cycle")
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{"cycle": toCycleDTO(cycle)})
}

// CreateAllocation records a new state allocation decision. The decision
// number must be higher than any prior decision for the same (cycle, state);
// reusing a number is a conflict.
func (h *Handler) CreateAllocation(w http.ResponseWriter, r *http.Request) {
	var req AllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.CycleID == "" || req.StateName == "" || req.DecisionNo < 1 {
		writeError(w, http.StatusBadRequest, "cycle_id, state_name and decision_no are required")
		return
	}

	alloc := grants.StateAllocation{
		ID:         grants.AllocationID(req.ID),
		CycleID:    grants.CycleID(req.CycleID),
		StateName:  req.StateName,
		Amount:     grants.ParseMoney(req.Amount),
		DecisionNo: req.DecisionNo,
	}
	if err := h.Store.SaveStateAllocation(r.Context(), alloc); err != nil {
		h.writeEngineError(w, err, "save allocation")
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{"allocation_id": req.ID})
}

// CreateGrantCall creates or updates a grant call.
func (h *Handler) CreateGrantCall(w http.ResponseWriter, r *http.Request) {
	var req GrantCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)")
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date format (use YYYY-MM-DD)")
		return
	}

	status := grants.CallStatus(req.Status)
	if status == "" {
		status = grants.CallOpen
	}
	call := grants.GrantCall{
		ID:        grants.CallID(req.ID),
		Name:      req.Name,
		Shortname: req.Shortname,
		Status:    status,
		Amount:    grants.ParseMoney(req.Amount),
		DonorName: req.DonorName,
		StartDate: start,
		EndDate:   end,
	}
	if err := h.Store.SaveCall(r.Context(), call); err != nil {
		h.writeEngineError(w, err, "save grant call")
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{"grant_call_id": req.ID})
}

// CreateCallAllocation records a new call allocation decision.
func (h *Handler) CreateCallAllocation(w http.ResponseWriter, r *http.Request) {
	var req CallAllocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.GrantCallID == "" || req.StateName == "" || req.DecisionNo < 1 {
		writeError(w, http.StatusBadRequest, "grant_call_id, state_name and decision_no are required")
		return
	}

	alloc := grants.GrantCallStateAllocation{
		ID:          grants.CallAllocationID(req.ID),
		GrantCallID: grants.CallID(req.GrantCallID),
		StateName:   req.StateName,
		Amount:      grants.ParseMoney(req.Amount),
		DecisionNo:  req.DecisionNo,
	}
	if err := h.Store.SaveCallAllocation(r.Context(), alloc); err != nil {
		h.writeEngineError(w, err, "save call allocation")
		return
	}
	writeSuccess(w, http.StatusCreated, map[string]any{"allocation_id": req.ID})
}

// GetAuditTrail returns the lifecycle audit entries for an entity.
func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	entityID := r.URL.Query().Get("entity_id")
	if entityID == "" {
		writeError(w, http.StatusBadRequest, "Missing entity_id parameter")
		return
	}
	entries, err := h.Store.QueryAudit(r.Context(), entityID)
	if err != nil {
		h.writeEngineError(w, err, "query audit")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"entries": entries})
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// writeEngineError maps engine errors onto HTTP statuses. Storage details
// stay in the server log; clients get a generic message.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, grants.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, grants.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, grants.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.Log.Error("engine error", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Something went wrong, please try again")
	}
}
