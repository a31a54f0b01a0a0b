/*
store.go - Persistence interfaces for the grants engine

PURPOSE:
  Defines the boundary between engine logic and the database. The engine
  depends only on filtered reads (equality and set membership), upserts,
  guarded deletes, and one aggregate query (max feedback iteration).
  Different implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  Store:    Reads and single-record writes
  TxStore:  Store plus WithTx for atomic multi-step operations
  AuditLog: Append-only record of who did what when

TRANSACTIONS:
  AttachFeedback performs a read-then-write (max iteration + 1) that is not
  inherently atomic. TxStore.WithTx exists so the lifecycle can run that
  sequence inside one store transaction. Implementations should additionally
  carry a uniqueness constraint on (project_id, iteration) so a lost race
  surfaces as ErrConflict rather than a duplicate iteration number.

SNAPSHOT SEMANTICS:
  The engine never caches reads across calls; every invocation sees a fresh
  store snapshot. Cancellation and timeouts are the store client's job - the
  engine propagates ctx and whatever errors come back.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite
  - grants/store: in-memory, for tests

SEE ALSO:
  - pool.go: read-only consumer of allocations and projects
  - lifecycle.go: read-write consumer of projects, feedback, reports
*/
package grants

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Filtered reads and single-record writes
// =============================================================================

type Store interface {
	// ListOpenCycles returns all funding cycles with status open.
	ListOpenCycles(ctx context.Context) ([]FundingCycle, error)

	// ListStateAllocations returns every allocation decision for the state
	// within the given cycles, all decision numbers included. Empty cycle
	// set returns no rows.
	ListStateAllocations(ctx context.Context, stateName string, cycleIDs []CycleID) ([]StateAllocation, error)

	// ListProjectsByAllocation returns projects whose cycle allocation link
	// is one of the given allocation IDs.
	ListProjectsByAllocation(ctx context.Context, allocationIDs []AllocationID) ([]Project, error)

	// ListCallAllocations returns every grant call allocation decision for
	// the state, all decision numbers included.
	ListCallAllocations(ctx context.Context, stateName string) ([]GrantCallStateAllocation, error)

	// ListOpenCalls returns all grant calls with status open.
	ListOpenCalls(ctx context.Context) ([]GrantCall, error)

	// GetProject returns the project or (nil, nil) when absent.
	GetProject(ctx context.Context, id ProjectID) (*Project, error)

	// SaveProject upserts by ID.
	SaveProject(ctx context.Context, p Project) error

	// DeleteProject removes the record outright. The lifecycle guards this:
	// only drafts owned by the caller ever reach it.
	DeleteProject(ctx context.Context, id ProjectID) error

	// MaxFeedbackIteration returns the highest iteration number recorded for
	// the project, or 0 when no feedback exists.
	MaxFeedbackIteration(ctx context.Context, projectID ProjectID) (int, error)

	// AppendFeedback inserts a feedback row. Must fail with ErrConflict when
	// (project_id, iteration) already exists.
	AppendFeedback(ctx context.Context, fb ProjectFeedback) error

	// ListFeedback returns all feedback for a project ordered by iteration.
	ListFeedback(ctx context.Context, projectID ProjectID) ([]ProjectFeedback, error)

	// GetReport returns the report or (nil, nil) when absent.
	GetReport(ctx context.Context, id ReportID) (*Report, error)

	// SaveReport upserts by ID.
	SaveReport(ctx context.Context, r Report) error

	// DeleteReport removes the record outright. Guarded like DeleteProject.
	DeleteReport(ctx context.Context, id ReportID) error
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
// Use this for read-then-write sequences that must be atomic, such as
// assigning the next feedback iteration number.
type TxStore interface {
	Store

	// WithTx executes fn within a store transaction.
	// If fn returns an error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT LOG - Append-only, separate from entity tables
// =============================================================================

type AuditAction string

const (
	AuditDraftSaved       AuditAction = "draft_saved"
	AuditDraftDeleted     AuditAction = "draft_deleted"
	AuditSubmitted        AuditAction = "submitted"
	AuditFeedbackAttached AuditAction = "feedback_attached"
	AuditApproved         AuditAction = "approved"
	AuditRejected         AuditAction = "rejected"
	AuditFundingCommitted AuditAction = "funding_committed"
)

// AuditEntry records one lifecycle transition.
type AuditEntry struct {
	ID        string
	Timestamp time.Time
	ActorID   string
	Action    AuditAction
	Entity    string // "project" or "report"
	EntityID  string
	Detail    map[string]any
}

// AuditLog stores audit entries. Append-only: no update, no delete.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, entityID string) ([]AuditEntry, error)
}
