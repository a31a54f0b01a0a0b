/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements grants.TxStore and grants.AuditLog using SQLite. In production
  the same patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  funding_cycles:         Periodic funding rounds
  state_allocations:      Per-state funding decisions within a cycle
  grant_calls:            Donor calls
  grant_call_allocations: Per-state decisions within a call
  projects:               Applications (drafts and submissions share rows)
  project_feedback:       Numbered reviewer feedback rounds
  reports:                Financial/program reports
  audit_log:              Append-only lifecycle trail

UNIQUENESS CONSTRAINTS:
  - (cycle_id, state_name, decision_no): no ambiguous "latest decision"
  - (grant_call_id, state_name, decision_no): same for calls
  - (project_id, iteration): a lost feedback race surfaces as a conflict,
    never as a duplicate iteration number

MONEY:
  Amounts are stored as TEXT and parsed with shopspring/decimal; REAL
  columns would reintroduce the float drift the engine exists to avoid.

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  single writer at a time, better crash recovery.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a versioned
  migration tool instead.

SEE ALSO:
  - grants/store.go: interface definitions
  - grants/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/reliefops/grant-engine/grants"
)

// querier is the subset of *sql.DB and *sql.Tx the store needs.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements grants.TxStore and grants.AuditLog using SQLite.
type Store struct {
	conn
	db *sql.DB
}

// conn carries the actual query implementations so they run unchanged
// against either the pooled connection or an open transaction.
type conn struct {
	q querier
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{conn: conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS funding_cycles (
		id TEXT PRIMARY KEY,
		cycle_number INTEGER NOT NULL,
		year INTEGER NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS state_allocations (
		id TEXT PRIMARY KEY,
		cycle_id TEXT NOT NULL REFERENCES funding_cycles(id),
		state_name TEXT NOT NULL,
		amount TEXT NOT NULL,
		decision_no INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_state_decision
		ON state_allocations(cycle_id, state_name, decision_no);
	CREATE INDEX IF NOT EXISTS idx_state_allocations_state
		ON state_allocations(state_name);

	CREATE TABLE IF NOT EXISTS grant_calls (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		shortname TEXT,
		status TEXT NOT NULL,
		amount TEXT NOT NULL,
		donor_name TEXT,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS grant_call_allocations (
		id TEXT PRIMARY KEY,
		grant_call_id TEXT NOT NULL REFERENCES grant_calls(id),
		state_name TEXT NOT NULL,
		amount TEXT NOT NULL,
		decision_no INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_call_decision
		ON grant_call_allocations(grant_call_id, state_name, decision_no);
	CREATE INDEX IF NOT EXISTS idx_call_allocations_state
		ON grant_call_allocations(state_name);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		state TEXT,
		locality TEXT,
		objectives TEXT,
		created_by TEXT NOT NULL,
		is_draft INTEGER NOT NULL,
		status TEXT NOT NULL,
		funding_status TEXT NOT NULL,
		allocation_id TEXT,
		expenses_json TEXT NOT NULL DEFAULT '[]',
		fields_json TEXT NOT NULL DEFAULT '{}',
		version INTEGER NOT NULL DEFAULT 0,
		current_feedback_id TEXT,
		submitted_at TEXT,
		created_at TEXT NOT NULL,
		last_modified TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_projects_allocation
		ON projects(allocation_id);
	CREATE INDEX IF NOT EXISTS idx_projects_owner
		ON projects(created_by);

	CREATE TABLE IF NOT EXISTS project_feedback (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id),
		feedback_text TEXT NOT NULL,
		feedback_status TEXT,
		iteration INTEGER NOT NULL,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_feedback_iteration
		ON project_feedback(project_id, iteration);

	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		project_id TEXT,
		kind TEXT,
		created_by TEXT NOT NULL,
		is_draft INTEGER NOT NULL,
		status TEXT NOT NULL,
		items_json TEXT NOT NULL DEFAULT '[]',
		fields_json TEXT NOT NULL DEFAULT '{}',
		submitted_at TEXT,
		created_at TEXT NOT NULL,
		last_modified TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reports_project
		ON reports(project_id);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		entity TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail_json TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_audit_entity
		ON audit_log(entity_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(grants.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&conn{q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// =============================================================================
// CYCLES AND STATE ALLOCATIONS
// =============================================================================

// SaveCycle upserts a funding cycle (admin surface).
func (c *conn) SaveCycle(ctx context.Context, fc grants.FundingCycle) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO funding_cycles (id, cycle_number, year, name, status, start_date, end_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cycle_number = excluded.cycle_number,
			year = excluded.year,
			name = excluded.name,
			status = excluded.status,
			start_date = excluded.start_date,
			end_date = excluded.end_date`,
		string(fc.ID), fc.CycleNumber, fc.Year, fc.Name, string(fc.Status),
		fc.StartDate.Format(time.RFC3339), fc.EndDate.Format(time.RFC3339))
	return err
}

// SaveStateAllocation inserts a new allocation decision. A decision number
// that already exists for (cycle, state) is rejected with a conflict.
func (c *conn) SaveStateAllocation(ctx context.Context, a grants.StateAllocation) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO state_allocations (id, cycle_id, state_name, amount, decision_no)
		VALUES (?, ?, ?, ?, ?)`,
		string(a.ID), string(a.CycleID), a.StateName, a.Amount.String(), a.DecisionNo)
	if isUniqueViolation(err) {
		return &grants.ConflictError{Entity: "state allocation", ID: string(a.ID), Detail: "decision number already exists"}
	}
	return err
}

func (c *conn) ListOpenCycles(ctx context.Context) ([]grants.FundingCycle, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, cycle_number, year, name, status, start_date, end_date
		FROM funding_cycles WHERE status = ? ORDER BY id`, string(grants.CycleOpen))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []grants.FundingCycle
	for rows.Next() {
		var fc grants.FundingCycle
		var id, status, start, end string
		if err := rows.Scan(&id, &fc.CycleNumber, &fc.Year, &fc.Name, &status, &start, &end); err != nil {
			return nil, err
		}
		fc.ID = grants.CycleID(id)
		fc.Status = grants.CycleStatus(status)
		fc.StartDate, _ = time.Parse(time.RFC3339, start)
		fc.EndDate, _ = time.Parse(time.RFC3339, end)
		out = append(out, fc)
	}
	return out, rows.Err()
}

func (c *conn) ListStateAllocations(ctx context.Context, stateName string, cycleIDs []grants.CycleID) ([]grants.StateAllocation, error) {
	if len(cycleIDs) == 0 {
		return nil, nil
	}
	args := []any{stateName}
	placeholders := make([]string, len(cycleIDs))
	for i, id := range cycleIDs {
		placeholders[i] = "?"
		args = append(args, string(id))
	}
	rows, err := c.q.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, cycle_id, state_name, amount, decision_no
		FROM state_allocations
		WHERE state_name = ? AND cycle_id IN (%s)
		ORDER BY id`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []grants.StateAllocation
	for rows.Next() {
		var a grants.StateAllocation
		var id, cycleID, amount string
		if err := rows.Scan(&id, &cycleID, &a.StateName, &amount, &a.DecisionNo); err != nil {
			return nil, err
		}
		a.ID = grants.AllocationID(id)
		a.CycleID = grants.CycleID(cycleID)
		a.Amount = parseAmount(amount)
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// GRANT CALLS
// =============================================================================

// SaveCall upserts a grant call (admin surface).
func (c *conn) SaveCall(ctx context.Context, gc grants.GrantCall) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO grant_calls (id, name, shortname, status, amount, donor_name, start_date, end_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			shortname = excluded.shortname,
			status = excluded.status,
			amount = excluded.amount,
			donor_name = excluded.donor_name,
			start_date = excluded.start_date,
			end_date = excluded.end_date`,
		string(gc.ID), gc.Name, gc.Shortname, string(gc.Status), gc.Amount.String(),
		gc.DonorName, gc.StartDate.Format(time.RFC3339), gc.EndDate.Format(time.RFC3339))
	return err
}

// SaveCallAllocation inserts a new call allocation decision.
func (c *conn) SaveCallAllocation(ctx context.Context, a grants.GrantCallStateAllocation) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO grant_call_allocations (id, grant_call_id, state_name, amount, decision_no)
		VALUES (?, ?, ?, ?, ?)`,
		string(a.ID), string(a.GrantCallID), a.StateName, a.Amount.String(), a.DecisionNo)
	if isUniqueViolation(err) {
		return &grants.ConflictError{Entity: "call allocation", ID: string(a.ID), Detail: "decision number already exists"}
	}
	return err
}

func (c *conn) ListCallAllocations(ctx context.Context, stateName string) ([]grants.GrantCallStateAllocation, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, grant_call_id, state_name, amount, decision_no
		FROM grant_call_allocations WHERE state_name = ? ORDER BY id`, stateName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []grants.GrantCallStateAllocation
	for rows.Next() {
		var a grants.GrantCallStateAllocation
		var id, callID, amount string
		if err := rows.Scan(&id, &callID, &a.StateName, &amount, &a.DecisionNo); err != nil {
			return nil, err
		}
		a.ID = grants.CallAllocationID(id)
		a.GrantCallID = grants.CallID(callID)
		a.Amount = parseAmount(amount)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (c *conn) ListOpenCalls(ctx context.Context) ([]grants.GrantCall, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, name, shortname, status, amount, donor_name, start_date, end_date
		FROM grant_calls WHERE status = ? ORDER BY id`, string(grants.CallOpen))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []grants.GrantCall
	for rows.Next() {
		var gc grants.GrantCall
		var id, status, amount, start, end string
		var shortname, donor sql.NullString
		if err := rows.Scan(&id, &gc.Name, &shortname, &status, &amount, &donor, &start, &end); err != nil {
			return nil, err
		}
		gc.ID = grants.CallID(id)
		gc.Shortname = shortname.String
		gc.Status = grants.CallStatus(status)
		gc.Amount = parseAmount(amount)
		gc.DonorName = donor.String
		gc.StartDate, _ = time.Parse(time.RFC3339, start)
		gc.EndDate, _ = time.Parse(time.RFC3339, end)
		out = append(out, gc)
	}
	return out, rows.Err()
}

// =============================================================================
// PROJECTS
// =============================================================================

func (c *conn) GetProject(ctx context.Context, id grants.ProjectID) (*grants.Project, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT id, state, locality, objectives, created_by, is_draft, status,
		       funding_status, allocation_id, expenses_json, fields_json,
		       version, current_feedback_id, submitted_at, created_at, last_modified
		FROM projects WHERE id = ?`, string(id))
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (c *conn) SaveProject(ctx context.Context, p grants.Project) error {
	expenses, err := json.Marshal(p.Expenses)
	if err != nil {
		return err
	}
	fields, err := json.Marshal(p.Fields)
	if err != nil {
		return err
	}
	var submittedAt any
	if p.SubmittedAt != nil {
		submittedAt = p.SubmittedAt.Format(time.RFC3339)
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO projects (id, state, locality, objectives, created_by, is_draft,
			status, funding_status, allocation_id, expenses_json, fields_json,
			version, current_feedback_id, submitted_at, created_at, last_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			locality = excluded.locality,
			objectives = excluded.objectives,
			is_draft = excluded.is_draft,
			status = excluded.status,
			funding_status = excluded.funding_status,
			allocation_id = excluded.allocation_id,
			expenses_json = excluded.expenses_json,
			fields_json = excluded.fields_json,
			version = excluded.version,
			current_feedback_id = excluded.current_feedback_id,
			submitted_at = excluded.submitted_at,
			last_modified = excluded.last_modified`,
		string(p.ID), p.State, p.Locality, p.Objectives, p.CreatedBy, boolToInt(p.IsDraft),
		string(p.Status), string(p.FundingStatus), string(p.AllocationID),
		string(expenses), string(fields), p.Version, string(p.CurrentFeedbackID),
		submittedAt, p.CreatedAt.Format(time.RFC3339), p.LastModified.Format(time.RFC3339))
	return err
}

func (c *conn) DeleteProject(ctx context.Context, id grants.ProjectID) error {
	_, err := c.q.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, string(id))
	return err
}

func (c *conn) ListProjectsByAllocation(ctx context.Context, allocationIDs []grants.AllocationID) ([]grants.Project, error) {
	if len(allocationIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(allocationIDs))
	placeholders := make([]string, len(allocationIDs))
	for i, id := range allocationIDs {
		placeholders[i] = "?"
		args[i] = string(id)
	}
	rows, err := c.q.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, state, locality, objectives, created_by, is_draft, status,
		       funding_status, allocation_id, expenses_json, fields_json,
		       version, current_feedback_id, submitted_at, created_at, last_modified
		FROM projects WHERE allocation_id IN (%s) ORDER BY id`,
		strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []grants.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*grants.Project, error) {
	var p grants.Project
	var id, status, fundingStatus, expensesJSON, fieldsJSON, createdAt, lastModified string
	var state, locality, objectives, allocationID, feedbackID, submittedAt sql.NullString
	var isDraft int
	err := row.Scan(&id, &state, &locality, &objectives, &p.CreatedBy, &isDraft,
		&status, &fundingStatus, &allocationID, &expensesJSON, &fieldsJSON,
		&p.Version, &feedbackID, &submittedAt, &createdAt, &lastModified)
	if err != nil {
		return nil, err
	}
	p.ID = grants.ProjectID(id)
	p.State = state.String
	p.Locality = locality.String
	p.Objectives = objectives.String
	p.IsDraft = isDraft != 0
	p.Status = grants.ProjectStatus(status)
	p.FundingStatus = grants.FundingStatus(fundingStatus)
	p.AllocationID = grants.AllocationID(allocationID.String)
	p.CurrentFeedbackID = grants.FeedbackID(feedbackID.String)
	// Malformed JSON degrades to an empty set rather than failing the read.
	_ = json.Unmarshal([]byte(expensesJSON), &p.Expenses)
	_ = json.Unmarshal([]byte(fieldsJSON), &p.Fields)
	if submittedAt.Valid {
		if t, err := time.Parse(time.RFC3339, submittedAt.String); err == nil {
			p.SubmittedAt = &t
		}
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.LastModified, _ = time.Parse(time.RFC3339, lastModified)
	return &p, nil
}

// =============================================================================
// FEEDBACK
// =============================================================================

func (c *conn) MaxFeedbackIteration(ctx context.Context, projectID grants.ProjectID) (int, error) {
	var max int
	err := c.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(iteration), 0) FROM project_feedback WHERE project_id = ?`,
		string(projectID)).Scan(&max)
	return max, err
}

func (c *conn) AppendFeedback(ctx context.Context, fb grants.ProjectFeedback) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO project_feedback (id, project_id, feedback_text, feedback_status, iteration, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(fb.ID), string(fb.ProjectID), fb.Text, fb.Status, fb.Iteration,
		fb.CreatedBy, fb.CreatedAt.Format(time.RFC3339))
	if isUniqueViolation(err) {
		return &grants.ConflictError{
			Entity: "feedback",
			ID:     string(fb.ProjectID),
			Detail: "duplicate iteration number",
		}
	}
	return err
}

func (c *conn) ListFeedback(ctx context.Context, projectID grants.ProjectID) ([]grants.ProjectFeedback, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, project_id, feedback_text, feedback_status, iteration, created_by, created_at
		FROM project_feedback WHERE project_id = ? ORDER BY iteration`, string(projectID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []grants.ProjectFeedback
	for rows.Next() {
		var fb grants.ProjectFeedback
		var id, pid, createdAt string
		var status sql.NullString
		if err := rows.Scan(&id, &pid, &fb.Text, &status, &fb.Iteration, &fb.CreatedBy, &createdAt); err != nil {
			return nil, err
		}
		fb.ID = grants.FeedbackID(id)
		fb.ProjectID = grants.ProjectID(pid)
		fb.Status = status.String
		fb.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, fb)
	}
	return out, rows.Err()
}

// =============================================================================
// REPORTS
// =============================================================================

func (c *conn) GetReport(ctx context.Context, id grants.ReportID) (*grants.Report, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT id, project_id, kind, created_by, is_draft, status, items_json,
		       fields_json, submitted_at, created_at, last_modified
		FROM reports WHERE id = ?`, string(id))

	var r grants.Report
	var rid, status, itemsJSON, fieldsJSON, createdAt, lastModified string
	var projectID, kind, submittedAt sql.NullString
	var isDraft int
	err := row.Scan(&rid, &projectID, &kind, &r.CreatedBy, &isDraft, &status,
		&itemsJSON, &fieldsJSON, &submittedAt, &createdAt, &lastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.ID = grants.ReportID(rid)
	r.ProjectID = grants.ProjectID(projectID.String)
	r.Kind = grants.ReportKind(kind.String)
	r.IsDraft = isDraft != 0
	r.Status = grants.ProjectStatus(status)
	_ = json.Unmarshal([]byte(itemsJSON), &r.Items)
	_ = json.Unmarshal([]byte(fieldsJSON), &r.Fields)
	if submittedAt.Valid {
		if t, err := time.Parse(time.RFC3339, submittedAt.String); err == nil {
			r.SubmittedAt = &t
		}
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.LastModified, _ = time.Parse(time.RFC3339, lastModified)
	return &r, nil
}

func (c *conn) SaveReport(ctx context.Context, r grants.Report) error {
	items, err := json.Marshal(r.Items)
	if err != nil {
		return err
	}
	fields, err := json.Marshal(r.Fields)
	if err != nil {
		return err
	}
	var submittedAt any
	if r.SubmittedAt != nil {
		submittedAt = r.SubmittedAt.Format(time.RFC3339)
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO reports (id, project_id, kind, created_by, is_draft, status,
			items_json, fields_json, submitted_at, created_at, last_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id,
			kind = excluded.kind,
			is_draft = excluded.is_draft,
			status = excluded.status,
			items_json = excluded.items_json,
			fields_json = excluded.fields_json,
			submitted_at = excluded.submitted_at,
			last_modified = excluded.last_modified`,
		string(r.ID), string(r.ProjectID), string(r.Kind), r.CreatedBy,
		boolToInt(r.IsDraft), string(r.Status), string(items), string(fields),
		submittedAt, r.CreatedAt.Format(time.RFC3339), r.LastModified.Format(time.RFC3339))
	return err
}

func (c *conn) DeleteReport(ctx context.Context, id grants.ReportID) error {
	_, err := c.q.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, string(id))
	return err
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (c *conn) AppendAudit(ctx context.Context, entry grants.AuditEntry) error {
	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return err
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, ts, actor_id, action, entity, entity_id, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp.Format(time.RFC3339), entry.ActorID,
		string(entry.Action), entry.Entity, entry.EntityID, string(detail))
	return err
}

func (c *conn) QueryAudit(ctx context.Context, entityID string) ([]grants.AuditEntry, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, ts, actor_id, action, entity, entity_id, detail_json
		FROM audit_log WHERE entity_id = ? ORDER BY ts`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []grants.AuditEntry
	for rows.Next() {
		var e grants.AuditEntry
		var ts, action, detailJSON string
		if err := rows.Scan(&e.ID, &ts, &e.ActorID, &action, &e.Entity, &e.EntityID, &detailJSON); err != nil {
			return nil, err
		}
		e.Action = grants.AuditAction(action)
		e.Timestamp, _ = time.Parse(time.RFC3339, ts)
		_ = json.Unmarshal([]byte(detailJSON), &e.Detail)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseAmount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
