/*
Package grants provides the core funding-pool and application-lifecycle engine.

PURPOSE:
  This package contains the domain types and algorithms for managing grant
  funding pools and the draft/submit/feedback lifecycle of project
  applications and reports. It is the single home for logic that was
  previously duplicated across endpoint handlers: pool aggregation, grant
  call selection, and state transitions.

KEY CONCEPTS IN THIS FILE (types.go):
  - FundingCycle / StateAllocation: periodic funding with per-state decisions
  - GrantCall / GrantCallStateAllocation: donor calls with per-state amounts
  - Project: a grant application with expenses and free-form form fields
  - ProjectFeedback: numbered reviewer feedback rounds
  - Report: financial or program report attached to a project

DESIGN PRINCIPLES:
  1. Precision: uses decimal.Decimal for all money, never float64
  2. Tolerance: malformed expense data degrades to zero, never panics -
     a bad record must not block a whole pool calculation
  3. Type safety: strong typing for IDs prevents mixing cycle/call/project IDs
  4. Latest decision wins: only the highest decision number per (cycle, state)
     or (call, state) is authoritative

SEE ALSO:
  - pool.go: funding pool aggregation
  - calls.go: grant call selection
  - lifecycle.go: draft/submit/feedback state machine
*/
package grants

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CycleID string
type AllocationID string
type CallID string
type CallAllocationID string
type ProjectID string
type FeedbackID string
type ReportID string

// =============================================================================
// MONEY - Exact decimal amounts
// =============================================================================

// ParseMoney converts an arbitrary JSON-decoded value into a decimal amount.
// Missing or non-numeric values become zero. Aggregation must never fail on
// a single malformed record.
func ParseMoney(v any) decimal.Decimal {
	switch x := v.(type) {
	case float64:
		return decimal.NewFromFloat(x)
	case int:
		return decimal.NewFromInt(int64(x))
	case int64:
		return decimal.NewFromInt(x)
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		if err != nil {
			return decimal.Zero
		}
		return d
	case string:
		d, err := decimal.NewFromString(x)
		if err != nil {
			return decimal.Zero
		}
		return d
	case decimal.Decimal:
		return x
	default:
		return decimal.Zero
	}
}

// =============================================================================
// FUNDING CYCLES AND STATE ALLOCATIONS
// =============================================================================

type CycleStatus string

const (
	CycleOpen   CycleStatus = "open"
	CycleClosed CycleStatus = "closed"
)

// FundingCycle is a periodic funding round created by administrators.
// Immutable once closed.
type FundingCycle struct {
	ID          CycleID
	CycleNumber int
	Year        int
	Name        string
	Status      CycleStatus
	StartDate   time.Time
	EndDate     time.Time
}

// StateAllocation is one funding decision for a state within a cycle.
// Decision numbers increase monotonically per (cycle, state); each new
// decision supersedes prior ones. Only the allocation with the maximum
// DecisionNo is active.
type StateAllocation struct {
	ID         AllocationID
	CycleID    CycleID
	StateName  string
	Amount     decimal.Decimal
	DecisionNo int
}

// =============================================================================
// GRANT CALLS
// =============================================================================

type CallStatus string

const (
	CallOpen   CallStatus = "open"
	CallClosed CallStatus = "closed"
)

// GrantCall is a donor funding call that states can apply against.
type GrantCall struct {
	ID        CallID
	Name      string
	Shortname string
	Status    CallStatus
	Amount    decimal.Decimal
	DonorName string
	StartDate time.Time
	EndDate   time.Time
}

// GrantCallStateAllocation mirrors StateAllocation for grant calls:
// latest decision number per (call, state) wins.
type GrantCallStateAllocation struct {
	ID          CallAllocationID
	GrantCallID CallID
	StateName   string
	Amount      decimal.Decimal
	DecisionNo  int
}

// CallSummary is one open grant call visible to a state, carrying the
// state's own allocation alongside the call totals.
type CallSummary struct {
	ID           CallID
	AllocationID CallAllocationID
	Name         string
	Shortname    string
	DonorName    string
	StateAmount  decimal.Decimal
	TotalAmount  decimal.Decimal
	StartDate    time.Time
	EndDate      time.Time
}

// =============================================================================
// PROJECTS
// =============================================================================

type ProjectStatus string

const (
	StatusDraft    ProjectStatus = "draft"
	StatusPending  ProjectStatus = "pending"
	StatusActive   ProjectStatus = "active"
	StatusFeedback ProjectStatus = "feedback"
	StatusApproved ProjectStatus = "approved"
	StatusRejected ProjectStatus = "rejected"
)

type FundingStatus string

const (
	FundingUnassigned FundingStatus = "unassigned"
	FundingAllocated  FundingStatus = "allocated"
	FundingCommitted  FundingStatus = "committed"
)

// Expense is one budget line of a project or report.
type Expense struct {
	Description string          `json:"description"`
	TotalCost   decimal.Decimal `json:"total_cost"`
}

// Project is a grant application. Exactly one non-draft record exists per
// logical submission; drafts are mutable scratch copies keyed by the same ID.
//
// Fields holds the rest of the submitted form (the portal is form-heavy and
// most keys never participate in engine logic). Keys that do participate are
// first-class struct fields.
type Project struct {
	ID                ProjectID
	State             string
	Locality          string
	Objectives        string
	CreatedBy         string
	IsDraft           bool
	Status            ProjectStatus
	FundingStatus     FundingStatus
	AllocationID      AllocationID // empty when no cycle allocation is linked
	Expenses          []Expense
	Fields            map[string]any
	Version           int
	CurrentFeedbackID FeedbackID
	SubmittedAt       *time.Time
	CreatedAt         time.Time
	LastModified      time.Time
}

// TotalExpenses sums the project's budget lines. Malformed lines were
// already coerced to zero at parse time, so this never fails.
func (p *Project) TotalExpenses() decimal.Decimal {
	total := decimal.Zero
	for _, e := range p.Expenses {
		total = total.Add(e.TotalCost)
	}
	return total
}

// ParseExpenses converts a JSON-decoded expenses payload into budget lines.
// A payload that is not a list yields no lines; a line that is not an object
// or has a non-numeric cost yields a zero-cost line. Tolerance over strictness:
// one bad record must not sink the aggregate.
func ParseExpenses(raw any) []Expense {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	expenses := make([]Expense, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			expenses = append(expenses, Expense{TotalCost: decimal.Zero})
			continue
		}
		desc, _ := obj["description"].(string)
		expenses = append(expenses, Expense{
			Description: desc,
			TotalCost:   ParseMoney(obj["total_cost"]),
		})
	}
	return expenses
}

// =============================================================================
// FEEDBACK
// =============================================================================

// ProjectFeedback is one numbered round of reviewer feedback.
// Iteration numbers increase monotonically per project.
type ProjectFeedback struct {
	ID        FeedbackID
	ProjectID ProjectID
	Text      string
	Status    string
	Iteration int
	CreatedBy string
	CreatedAt time.Time
}

// =============================================================================
// REPORTS
// =============================================================================

type ReportKind string

const (
	ReportFinancial ReportKind = "financial"
	ReportProgram   ReportKind = "program"
)

// Report is a financial or program report attached to a project. It follows
// the same draft/submit mechanics as projects but has no feedback trail.
type Report struct {
	ID           ReportID
	ProjectID    ProjectID
	Kind         ReportKind
	CreatedBy    string
	IsDraft      bool
	Status       ProjectStatus
	Items        []Expense
	Fields       map[string]any
	SubmittedAt  *time.Time
	CreatedAt    time.Time
	LastModified time.Time
}

// =============================================================================
// FUNDING POOL - Computed aggregate for a state
// =============================================================================

// Pool is the funding summary for a state across a set of open cycles.
//
//	Remaining = Allocated - Committed - Pending
//
// Remaining may be negative: overcommitment is a signal, not an enforced cap.
// No write path in this engine blocks submission when Remaining < 0.
type Pool struct {
	StateName string
	Allocated decimal.Decimal
	Committed decimal.Decimal
	Pending   decimal.Decimal
	Remaining decimal.Decimal
}

// Overcommitted reports whether committed and pending amounts exceed the
// allocated total.
func (p Pool) Overcommitted() bool {
	return p.Remaining.IsNegative()
}
