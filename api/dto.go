/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

ENVELOPE:
  Every response carries a "success" boolean. Non-2xx statuses always come
  with success:false and an error message. 2xx payloads embed their data
  next to success:true.

MONEY:
  Amounts are serialized as decimal strings ("800", "149.50"), never as
  floats; clients must not round grant money.

NAMING CONVENTION:
  - *DTO: response types returned to clients
  - *Request: request body types from clients

SEE ALSO:
  - handlers.go: handler implementations using these types
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/reliefops/grant-engine/grants"
)

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// PoolDTO is the funding pool summary for the caller's state.
type PoolDTO struct {
	Allocated string `json:"allocated"`
	Committed string `json:"committed"`
	Pending   string `json:"pending"`
	Remaining string `json:"remaining"`
	UserState string `json:"user_state"`
}

// CallSummaryDTO is one open grant call visible to the caller's state.
type CallSummaryDTO struct {
	ID           string `json:"id"`
	AllocationID string `json:"allocation_id"`
	Name         string `json:"name"`
	Shortname    string `json:"shortname,omitempty"`
	DonorName    string `json:"donor_name,omitempty"`
	StateAmount  string `json:"state_amount"`
	TotalAmount  string `json:"total_amount"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
}

// ProjectDTO is a project draft or submission.
type ProjectDTO struct {
	ID                string         `json:"id"`
	State             string         `json:"state,omitempty"`
	Locality          string         `json:"locality,omitempty"`
	Objectives        string         `json:"objectives,omitempty"`
	CreatedBy         string         `json:"created_by"`
	IsDraft           bool           `json:"is_draft"`
	Status            string         `json:"status"`
	FundingStatus     string         `json:"funding_status"`
	AllocationID      string         `json:"cycle_state_allocation_id,omitempty"`
	Expenses          []ExpenseDTO   `json:"expenses"`
	Fields            map[string]any `json:"fields,omitempty"`
	Version           int            `json:"version"`
	CurrentFeedbackID string         `json:"current_feedback_id,omitempty"`
	SubmittedAt       string         `json:"submitted_at,omitempty"`
	LastModified      string         `json:"last_modified"`
}

// ExpenseDTO is one budget line.
type ExpenseDTO struct {
	Description string `json:"description"`
	TotalCost   string `json:"total_cost"`
}

// FeedbackDTO is one reviewer feedback round.
type FeedbackDTO struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Text      string `json:"feedback_text"`
	Status    string `json:"feedback_status,omitempty"`
	Iteration int    `json:"iteration_number"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at"`
}

// ReportDTO is a report draft or submission.
type ReportDTO struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"project_id,omitempty"`
	Kind         string         `json:"report_type,omitempty"`
	CreatedBy    string         `json:"created_by"`
	IsDraft      bool           `json:"is_draft"`
	Status       string         `json:"status"`
	Items        []ExpenseDTO   `json:"items"`
	Fields       map[string]any `json:"fields,omitempty"`
	SubmittedAt  string         `json:"submitted_at,omitempty"`
	LastModified string         `json:"last_modified"`
}

// CycleDTO is one funding cycle.
type CycleDTO struct {
	ID          string `json:"id"`
	CycleNumber int    `json:"cycle_number"`
	Year        int    `json:"year"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// FeedbackRequest is the body of POST /api/project-feedback.
type FeedbackRequest struct {
	FeedbackText string `json:"feedback_text"`
}

// CycleRequest creates or updates a funding cycle.
type CycleRequest struct {
	ID          string `json:"id"`
	CycleNumber int    `json:"cycle_number"`
	Year        int    `json:"year"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

// AllocationRequest records a new per-state funding decision.
type AllocationRequest struct {
	ID         string `json:"id"`
	CycleID    string `json:"cycle_id"`
	StateName  string `json:"state_name"`
	Amount     string `json:"amount"`
	DecisionNo int    `json:"decision_no"`
}

// GrantCallRequest creates or updates a grant call.
type GrantCallRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Shortname string `json:"shortname"`
	Status    string `json:"status"`
	Amount    string `json:"amount"`
	DonorName string `json:"donor_name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// CallAllocationRequest records a new per-state decision on a grant call.
type CallAllocationRequest struct {
	ID          string `json:"id"`
	GrantCallID string `json:"grant_call_id"`
	StateName   string `json:"state_name"`
	Amount      string `json:"amount"`
	DecisionNo  int    `json:"decision_no"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toPoolDTO(p grants.Pool) PoolDTO {
	return PoolDTO{
		Allocated: p.Allocated.String(),
		Committed: p.Committed.String(),
		Pending:   p.Pending.String(),
		Remaining: p.Remaining.String(),
		UserState: p.StateName,
	}
}

func toCallSummaryDTO(c grants.CallSummary) CallSummaryDTO {
	return CallSummaryDTO{
		ID:           string(c.ID),
		AllocationID: string(c.AllocationID),
		Name:         c.Name,
		Shortname:    c.Shortname,
		DonorName:    c.DonorName,
		StateAmount:  c.StateAmount.String(),
		TotalAmount:  c.TotalAmount.String(),
		StartDate:    c.StartDate.Format("2006-01-02"),
		EndDate:      c.EndDate.Format("2006-01-02"),
	}
}

func toExpenseDTOs(expenses []grants.Expense) []ExpenseDTO {
	dtos := make([]ExpenseDTO, len(expenses))
	for i, e := range expenses {
		dtos[i] = ExpenseDTO{Description: e.Description, TotalCost: e.TotalCost.String()}
	}
	return dtos
}

func toProjectDTO(p *grants.Project) ProjectDTO {
	dto := ProjectDTO{
		ID:                string(p.ID),
		State:             p.State,
		Locality:          p.Locality,
		Objectives:        p.Objectives,
		CreatedBy:         p.CreatedBy,
		IsDraft:           p.IsDraft,
		Status:            string(p.Status),
		FundingStatus:     string(p.FundingStatus),
		AllocationID:      string(p.AllocationID),
		Expenses:          toExpenseDTOs(p.Expenses),
		Fields:            p.Fields,
		Version:           p.Version,
		CurrentFeedbackID: string(p.CurrentFeedbackID),
		LastModified:      p.LastModified.Format(time.RFC3339),
	}
	if p.SubmittedAt != nil {
		dto.SubmittedAt = p.SubmittedAt.Format(time.RFC3339)
	}
	return dto
}

func toFeedbackDTO(fb *grants.ProjectFeedback) FeedbackDTO {
	return FeedbackDTO{
		ID:        string(fb.ID),
		ProjectID: string(fb.ProjectID),
		Text:      fb.Text,
		Status:    fb.Status,
		Iteration: fb.Iteration,
		CreatedBy: fb.CreatedBy,
		CreatedAt: fb.CreatedAt.Format(time.RFC3339),
	}
}

func toReportDTO(r *grants.Report) ReportDTO {
	dto := ReportDTO{
		ID:           string(r.ID),
		ProjectID:    string(r.ProjectID),
		Kind:         string(r.Kind),
		CreatedBy:    r.CreatedBy,
		IsDraft:      r.IsDraft,
		Status:       string(r.Status),
		Items:        toExpenseDTOs(r.Items),
		Fields:       r.Fields,
		LastModified: r.LastModified.Format(time.RFC3339),
	}
	if r.SubmittedAt != nil {
		dto.SubmittedAt = r.SubmittedAt.Format(time.RFC3339)
	}
	return dto
}

func toCycleDTO(c grants.FundingCycle) CycleDTO {
	return CycleDTO{
		ID:          string(c.ID),
		CycleNumber: c.CycleNumber,
		Year:        c.Year,
		Name:        c.Name,
		Status:      string(c.Status),
		StartDate:   c.StartDate.Format("2006-01-02"),
		EndDate:     c.EndDate.Format("2006-01-02"),
	}
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

// writeSuccess writes a 2xx envelope. The payload map is merged next to the
// success flag.
func writeSuccess(w http.ResponseWriter, status int, payload map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes a non-2xx envelope with success:false.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   message,
	})
}
