/*
lifecycle.go - Draft/submit/feedback state machine

PURPOSE:
  Governs the lifecycle of project applications and reports:

    draft -> pending -> approved | feedback | rejected
    feedback -> draft (resume for edit) -> pending (resubmit)

  At most one canonical record exists per logical entity; drafts are
  mutable scratch copies under the same ID. Submitted records are never
  physically deleted, only transitioned.

STATE RULES:
  - saveDraft upserts by ID and strips blank payload fields first, so a
    partial save never overwrites existing values with blanks
  - a record in feedback status re-enters draft with its version and
    current feedback pointer intact - that is how the revision trail
    survives the edit cycle
  - version counts feedback revisions: first submissions carry version 0,
    each resubmit after feedback increments it
  - approved and rejected are terminal; rejected is reachable only from
    pending
  - funding status follows project status: committed requires approved,
    allocated requires pending

CONCURRENCY:
  Two concurrent saveDraft calls for the same ID race and the last write
  wins - acceptable for single-owner drafts. attachFeedback's max+1 read
  is NOT safe that way, so it runs inside a store transaction, and the
  store's (project_id, iteration) uniqueness constraint converts a lost
  race into ErrConflict instead of a duplicate iteration.

SEE ALSO:
  - store.go: TxStore and AuditLog contracts
  - pool.go: where committed/pending projects are summed
*/
package grants

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// VALIDATOR - External required-field policy
// =============================================================================

// Validator decides whether an entity's fields are complete enough to
// submit. The required-field set depends on entity type and lives outside
// this engine; implementations return a *ValidationError on failure.
type Validator interface {
	ValidateSubmission(entity string, fields map[string]any) error
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(entity string, fields map[string]any) error

func (f ValidatorFunc) ValidateSubmission(entity string, fields map[string]any) error {
	return f(entity, fields)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Lifecycle enforces the draft/submit/feedback state machine.
type Lifecycle struct {
	Store     TxStore
	Audit     AuditLog // optional; nil disables audit writes
	Validator Validator

	// Now and NewID are injectable for tests.
	Now   func() time.Time
	NewID func() string
}

func NewLifecycle(store TxStore, audit AuditLog, validator Validator) *Lifecycle {
	return &Lifecycle{
		Store:     store,
		Audit:     audit,
		Validator: validator,
		Now:       time.Now,
		NewID:     uuid.NewString,
	}
}

// =============================================================================
// PROJECT DRAFTS
// =============================================================================

// SaveDraft upserts a project draft from a raw form payload. Blank fields
// are stripped before merging. Records in feedback status re-enter draft
// with version and current feedback pointer preserved.
func (l *Lifecycle) SaveDraft(ctx context.Context, ownerID string, payload map[string]any) (*Project, error) {
	if ownerID == "" {
		return nil, &ValidationError{Entity: "project", Field: "owner", Message: "must not be empty"}
	}
	payload = stripBlank(payload)

	now := l.Now()
	id, _ := payload["id"].(string)

	var p *Project
	if id != "" {
		existing, err := l.Store.GetProject(ctx, ProjectID(id))
		if err != nil {
			return nil, &StorageError{Op: "get project", Err: err}
		}
		if existing != nil {
			if existing.CreatedBy != ownerID {
				return nil, &NotFoundError{Entity: "project", ID: id}
			}
			if !existing.IsDraft && existing.Status != StatusFeedback {
				return nil, &ConflictError{Entity: "project", ID: id, Detail: "submitted record is not editable"}
			}
			p = existing
		}
	}
	if p == nil {
		if id == "" {
			id = l.NewID()
		}
		p = &Project{
			ID:            ProjectID(id),
			CreatedBy:     ownerID,
			FundingStatus: FundingUnassigned,
			Fields:        map[string]any{},
			CreatedAt:     now,
		}
	}

	applyProjectPayload(p, payload)

	// Re-entering from feedback keeps Version and CurrentFeedbackID as-is;
	// everything else becomes an ordinary editable draft.
	p.IsDraft = true
	p.Status = StatusDraft
	p.LastModified = now

	if err := l.Store.SaveProject(ctx, *p); err != nil {
		return nil, &StorageError{Op: "save project draft", Err: err}
	}
	if err := l.audit(ctx, ownerID, AuditDraftSaved, "project", string(p.ID), nil); err != nil {
		return nil, err
	}
	return p, nil
}

// Submit turns a draft into a pending submission. Validation is delegated
// to the configured Validator; its required-field set is not this engine's
// concern.
func (l *Lifecycle) Submit(ctx context.Context, ownerID string, id ProjectID) (*Project, error) {
	p, err := l.ownedProject(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !p.IsDraft {
		return nil, &ConflictError{Entity: "project", ID: string(id), Detail: "already submitted"}
	}

	if l.Validator != nil {
		if err := l.Validator.ValidateSubmission("project", submissionFields(p)); err != nil {
			return nil, err
		}
	}

	now := l.Now()
	p.IsDraft = false
	p.Status = StatusPending
	p.SubmittedAt = &now
	p.LastModified = now
	if p.AllocationID != "" {
		p.FundingStatus = FundingAllocated
	} else {
		p.FundingStatus = FundingUnassigned
	}
	// A resubmit after feedback counts as one more revision.
	if p.CurrentFeedbackID != "" {
		p.Version++
	}

	if err := l.Store.SaveProject(ctx, *p); err != nil {
		return nil, &StorageError{Op: "submit project", Err: err}
	}
	if err := l.audit(ctx, ownerID, AuditSubmitted, "project", string(id), map[string]any{"version": p.Version}); err != nil {
		return nil, err
	}
	return p, nil
}

// DeleteDraft removes a draft owned by the caller. Anything else - missing
// record, foreign record, submitted record - reads as not found, so the
// existence of other users' records never leaks.
func (l *Lifecycle) DeleteDraft(ctx context.Context, ownerID string, id ProjectID) error {
	p, err := l.Store.GetProject(ctx, id)
	if err != nil {
		return &StorageError{Op: "get project", Err: err}
	}
	if p == nil || p.CreatedBy != ownerID || !p.IsDraft {
		return &NotFoundError{Entity: "project draft", ID: string(id)}
	}
	if err := l.Store.DeleteProject(ctx, id); err != nil {
		return &StorageError{Op: "delete project draft", Err: err}
	}
	return l.audit(ctx, ownerID, AuditDraftDeleted, "project", string(id), nil)
}

// =============================================================================
// REVIEW TRANSITIONS
// =============================================================================

// AttachFeedback records the next feedback iteration and moves the project
// into feedback status. The iteration read and the insert run in one store
// transaction; a lost race surfaces as ErrConflict, never as a duplicate
// iteration number.
func (l *Lifecycle) AttachFeedback(ctx context.Context, projectID ProjectID, text, createdBy string) (*ProjectFeedback, error) {
	if text == "" {
		return nil, &ValidationError{Entity: "feedback", Field: "feedback_text", Message: "must not be empty"}
	}

	var fb ProjectFeedback
	err := l.Store.WithTx(ctx, func(tx Store) error {
		p, err := tx.GetProject(ctx, projectID)
		if err != nil {
			return &StorageError{Op: "get project", Err: err}
		}
		if p == nil {
			return &NotFoundError{Entity: "project", ID: string(projectID)}
		}
		if p.IsDraft {
			return &ConflictError{Entity: "project", ID: string(projectID), Detail: "cannot attach feedback to a draft"}
		}

		max, err := tx.MaxFeedbackIteration(ctx, projectID)
		if err != nil {
			return &StorageError{Op: "max feedback iteration", Err: err}
		}

		fb = ProjectFeedback{
			ID:        FeedbackID(l.NewID()),
			ProjectID: projectID,
			Text:      text,
			Status:    "issued",
			Iteration: max + 1,
			CreatedBy: createdBy,
			CreatedAt: l.Now(),
		}
		if err := tx.AppendFeedback(ctx, fb); err != nil {
			return err
		}

		p.Status = StatusFeedback
		p.CurrentFeedbackID = fb.ID
		p.LastModified = fb.CreatedAt
		if err := tx.SaveProject(ctx, *p); err != nil {
			return &StorageError{Op: "save project", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := l.audit(ctx, createdBy, AuditFeedbackAttached, "project", string(projectID), map[string]any{"iteration": fb.Iteration}); err != nil {
		return nil, err
	}
	return &fb, nil
}

// Approve moves a pending submission to approved.
func (l *Lifecycle) Approve(ctx context.Context, reviewerID string, id ProjectID) (*Project, error) {
	return l.review(ctx, reviewerID, id, StatusApproved, AuditApproved)
}

// Reject moves a pending submission to rejected. Terminal: a rejected
// project does not return to draft.
func (l *Lifecycle) Reject(ctx context.Context, reviewerID string, id ProjectID) (*Project, error) {
	return l.review(ctx, reviewerID, id, StatusRejected, AuditRejected)
}

func (l *Lifecycle) review(ctx context.Context, reviewerID string, id ProjectID, to ProjectStatus, action AuditAction) (*Project, error) {
	p, err := l.Store.GetProject(ctx, id)
	if err != nil {
		return nil, &StorageError{Op: "get project", Err: err}
	}
	if p == nil {
		return nil, &NotFoundError{Entity: "project", ID: string(id)}
	}
	if p.IsDraft || p.Status != StatusPending {
		return nil, &ConflictError{Entity: "project", ID: string(id), Detail: "only pending submissions can be reviewed"}
	}

	p.Status = to
	p.LastModified = l.Now()
	if err := l.Store.SaveProject(ctx, *p); err != nil {
		return nil, &StorageError{Op: "review project", Err: err}
	}
	if err := l.audit(ctx, reviewerID, action, "project", string(id), nil); err != nil {
		return nil, err
	}
	return p, nil
}

// CommitFunding marks an approved, allocated project's funds as committed.
// Enforces the invariant that committed implies approved.
func (l *Lifecycle) CommitFunding(ctx context.Context, actorID string, id ProjectID) (*Project, error) {
	p, err := l.Store.GetProject(ctx, id)
	if err != nil {
		return nil, &StorageError{Op: "get project", Err: err}
	}
	if p == nil {
		return nil, &NotFoundError{Entity: "project", ID: string(id)}
	}
	if p.Status != StatusApproved || p.FundingStatus != FundingAllocated {
		return nil, &ConflictError{Entity: "project", ID: string(id), Detail: "only approved projects with an allocation can be committed"}
	}

	p.FundingStatus = FundingCommitted
	p.LastModified = l.Now()
	if err := l.Store.SaveProject(ctx, *p); err != nil {
		return nil, &StorageError{Op: "commit funding", Err: err}
	}
	if err := l.audit(ctx, actorID, AuditFundingCommitted, "project", string(id), nil); err != nil {
		return nil, err
	}
	return p, nil
}

// =============================================================================
// REPORT DRAFTS - Same mechanics, no feedback trail
// =============================================================================

// SaveReportDraft upserts a report draft from a raw form payload.
func (l *Lifecycle) SaveReportDraft(ctx context.Context, ownerID string, payload map[string]any) (*Report, error) {
	if ownerID == "" {
		return nil, &ValidationError{Entity: "report", Field: "owner", Message: "must not be empty"}
	}
	payload = stripBlank(payload)

	now := l.Now()
	id, _ := payload["id"].(string)

	var r *Report
	if id != "" {
		existing, err := l.Store.GetReport(ctx, ReportID(id))
		if err != nil {
			return nil, &StorageError{Op: "get report", Err: err}
		}
		if existing != nil {
			if existing.CreatedBy != ownerID {
				return nil, &NotFoundError{Entity: "report", ID: id}
			}
			if !existing.IsDraft {
				return nil, &ConflictError{Entity: "report", ID: id, Detail: "submitted report is not editable"}
			}
			r = existing
		}
	}
	if r == nil {
		if id == "" {
			id = l.NewID()
		}
		r = &Report{
			ID:        ReportID(id),
			CreatedBy: ownerID,
			Fields:    map[string]any{},
			CreatedAt: now,
		}
	}

	applyReportPayload(r, payload)
	r.IsDraft = true
	r.Status = StatusDraft
	r.LastModified = now

	if err := l.Store.SaveReport(ctx, *r); err != nil {
		return nil, &StorageError{Op: "save report draft", Err: err}
	}
	if err := l.audit(ctx, ownerID, AuditDraftSaved, "report", string(r.ID), nil); err != nil {
		return nil, err
	}
	return r, nil
}

// SubmitReport turns a report draft into a pending submission.
func (l *Lifecycle) SubmitReport(ctx context.Context, ownerID string, id ReportID) (*Report, error) {
	r, err := l.Store.GetReport(ctx, id)
	if err != nil {
		return nil, &StorageError{Op: "get report", Err: err}
	}
	if r == nil || r.CreatedBy != ownerID {
		return nil, &NotFoundError{Entity: "report", ID: string(id)}
	}
	if !r.IsDraft {
		return nil, &ConflictError{Entity: "report", ID: string(id), Detail: "already submitted"}
	}

	if l.Validator != nil {
		if err := l.Validator.ValidateSubmission("report", reportFields(r)); err != nil {
			return nil, err
		}
	}

	now := l.Now()
	r.IsDraft = false
	r.Status = StatusPending
	r.SubmittedAt = &now
	r.LastModified = now

	if err := l.Store.SaveReport(ctx, *r); err != nil {
		return nil, &StorageError{Op: "submit report", Err: err}
	}
	if err := l.audit(ctx, ownerID, AuditSubmitted, "report", string(id), nil); err != nil {
		return nil, err
	}
	return r, nil
}

// DeleteReportDraft removes a report draft owned by the caller.
func (l *Lifecycle) DeleteReportDraft(ctx context.Context, ownerID string, id ReportID) error {
	r, err := l.Store.GetReport(ctx, id)
	if err != nil {
		return &StorageError{Op: "get report", Err: err}
	}
	if r == nil || r.CreatedBy != ownerID || !r.IsDraft {
		return &NotFoundError{Entity: "report draft", ID: string(id)}
	}
	if err := l.Store.DeleteReport(ctx, id); err != nil {
		return &StorageError{Op: "delete report draft", Err: err}
	}
	return l.audit(ctx, ownerID, AuditDraftDeleted, "report", string(id), nil)
}

// =============================================================================
// HELPERS
// =============================================================================

func (l *Lifecycle) ownedProject(ctx context.Context, ownerID string, id ProjectID) (*Project, error) {
	p, err := l.Store.GetProject(ctx, id)
	if err != nil {
		return nil, &StorageError{Op: "get project", Err: err}
	}
	if p == nil || p.CreatedBy != ownerID {
		return nil, &NotFoundError{Entity: "project", ID: string(id)}
	}
	return p, nil
}

func (l *Lifecycle) audit(ctx context.Context, actor string, action AuditAction, entity, entityID string, detail map[string]any) error {
	if l.Audit == nil {
		return nil
	}
	entry := AuditEntry{
		ID:        l.NewID(),
		Timestamp: l.Now(),
		ActorID:   actor,
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		Detail:    detail,
	}
	if err := l.Audit.AppendAudit(ctx, entry); err != nil {
		return &StorageError{Op: "append audit", Err: err}
	}
	return nil
}

// stripBlank removes nil values, empty strings, and empty containers so a
// partial save cannot blank out previously saved fields.
func stripBlank(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch x := v.(type) {
		case nil:
			continue
		case string:
			if x == "" {
				continue
			}
		case []any:
			if len(x) == 0 {
				continue
			}
		case map[string]any:
			if len(x) == 0 {
				continue
			}
		}
		out[k] = v
	}
	return out
}

// applyProjectPayload merges stripped payload fields into the project.
// Keys the engine reasons about are lifted into struct fields; the rest
// land in Fields untouched.
func applyProjectPayload(p *Project, payload map[string]any) {
	if p.Fields == nil {
		p.Fields = map[string]any{}
	}
	for k, v := range payload {
		switch k {
		case "id":
			// Already resolved by the caller.
		case "state":
			p.State, _ = v.(string)
		case "locality":
			p.Locality, _ = v.(string)
		case "objectives":
			p.Objectives, _ = v.(string)
		case "cycle_state_allocation_id":
			s, _ := v.(string)
			p.AllocationID = AllocationID(s)
		case "expenses":
			p.Expenses = ParseExpenses(v)
		default:
			p.Fields[k] = v
		}
	}
}

// applyReportPayload merges stripped payload fields into the report.
func applyReportPayload(r *Report, payload map[string]any) {
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	for k, v := range payload {
		switch k {
		case "id":
			// Already resolved by the caller.
		case "project_id":
			s, _ := v.(string)
			r.ProjectID = ProjectID(s)
		case "report_type":
			s, _ := v.(string)
			if s == string(ReportProgram) {
				r.Kind = ReportProgram
			} else if s == string(ReportFinancial) {
				r.Kind = ReportFinancial
			}
		case "expenses", "activities":
			r.Items = ParseExpenses(v)
		default:
			r.Fields[k] = v
		}
	}
}

// submissionFields flattens a project for the external validator.
func submissionFields(p *Project) map[string]any {
	fields := make(map[string]any, len(p.Fields)+5)
	for k, v := range p.Fields {
		fields[k] = v
	}
	fields["state"] = p.State
	fields["locality"] = p.Locality
	fields["objectives"] = p.Objectives
	fields["expenses"] = p.Expenses
	if p.AllocationID != "" {
		fields["cycle_state_allocation_id"] = string(p.AllocationID)
	}
	return fields
}

// reportFields flattens a report for the external validator.
func reportFields(r *Report) map[string]any {
	fields := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		fields[k] = v
	}
	if r.ProjectID != "" {
		fields["project_id"] = string(r.ProjectID)
	}
	if r.Kind != "" {
		fields["report_type"] = string(r.Kind)
	}
	fields["items"] = r.Items
	return fields
}
