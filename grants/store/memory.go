// Package store provides an in-memory TxStore implementation for tests
// and local development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/reliefops/grant-engine/grants"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	cycles      map[grants.CycleID]grants.FundingCycle
	allocations map[grants.AllocationID]grants.StateAllocation
	calls       map[grants.CallID]grants.GrantCall
	callAllocs  map[grants.CallAllocationID]grants.GrantCallStateAllocation
	projects    map[grants.ProjectID]grants.Project
	feedback    map[grants.ProjectID][]grants.ProjectFeedback
	reports     map[grants.ReportID]grants.Report
	audit       []grants.AuditEntry
}

func NewMemory() *Memory {
	return &Memory{
		cycles:      make(map[grants.CycleID]grants.FundingCycle),
		allocations: make(map[grants.AllocationID]grants.StateAllocation),
		calls:       make(map[grants.CallID]grants.GrantCall),
		callAllocs:  make(map[grants.CallAllocationID]grants.GrantCallStateAllocation),
		projects:    make(map[grants.ProjectID]grants.Project),
		feedback:    make(map[grants.ProjectID][]grants.ProjectFeedback),
		reports:     make(map[grants.ReportID]grants.Report),
	}
}

// =============================================================================
// SEED HELPERS - Direct writes for fixtures and admin flows
// =============================================================================

func (m *Memory) PutCycle(c grants.FundingCycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles[c.ID] = c
}

func (m *Memory) PutStateAllocation(a grants.StateAllocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocations[a.ID] = a
}

func (m *Memory) PutCall(c grants.GrantCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[c.ID] = c
}

func (m *Memory) PutCallAllocation(a grants.GrantCallStateAllocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callAllocs[a.ID] = a
}

// =============================================================================
// READS
// =============================================================================

func (m *Memory) ListOpenCycles(_ context.Context) ([]grants.FundingCycle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []grants.FundingCycle
	for _, c := range m.cycles {
		if c.Status == grants.CycleOpen {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListStateAllocations(_ context.Context, stateName string, cycleIDs []grants.CycleID) ([]grants.StateAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wanted := make(map[grants.CycleID]bool, len(cycleIDs))
	for _, id := range cycleIDs {
		wanted[id] = true
	}
	var out []grants.StateAllocation
	for _, a := range m.allocations {
		if a.StateName == stateName && wanted[a.CycleID] {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListProjectsByAllocation(_ context.Context, allocationIDs []grants.AllocationID) ([]grants.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wanted := make(map[grants.AllocationID]bool, len(allocationIDs))
	for _, id := range allocationIDs {
		wanted[id] = true
	}
	var out []grants.Project
	for _, p := range m.projects {
		if p.AllocationID != "" && wanted[p.AllocationID] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListCallAllocations(_ context.Context, stateName string) ([]grants.GrantCallStateAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []grants.GrantCallStateAllocation
	for _, a := range m.callAllocs {
		if a.StateName == stateName {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListOpenCalls(_ context.Context) ([]grants.GrantCall, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []grants.GrantCall
	for _, c := range m.calls {
		if c.Status == grants.CallOpen {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// PROJECTS
// =============================================================================

func (m *Memory) GetProject(_ context.Context, id grants.ProjectID) (*grants.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (m *Memory) SaveProject(_ context.Context, p grants.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
	return nil
}

func (m *Memory) DeleteProject(_ context.Context, id grants.ProjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, id)
	return nil
}

// =============================================================================
// FEEDBACK
// =============================================================================

func (m *Memory) MaxFeedbackIteration(_ context.Context, projectID grants.ProjectID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	max := 0
	for _, fb := range m.feedback[projectID] {
		if fb.Iteration > max {
			max = fb.Iteration
		}
	}
	return max, nil
}

func (m *Memory) AppendFeedback(_ context.Context, fb grants.ProjectFeedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.feedback[fb.ProjectID] {
		if existing.Iteration == fb.Iteration {
			return &grants.ConflictError{
				Entity: "feedback",
				ID:     string(fb.ProjectID),
				Detail: "duplicate iteration number",
			}
		}
	}
	m.feedback[fb.ProjectID] = append(m.feedback[fb.ProjectID], fb)
	return nil
}

func (m *Memory) ListFeedback(_ context.Context, projectID grants.ProjectID) ([]grants.ProjectFeedback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]grants.ProjectFeedback(nil), m.feedback[projectID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Iteration < out[j].Iteration })
	return out, nil
}

// =============================================================================
// REPORTS
// =============================================================================

func (m *Memory) GetReport(_ context.Context, id grants.ReportID) (*grants.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, nil
	}
	cp := r
	return &cp, nil
}

func (m *Memory) SaveReport(_ context.Context, r grants.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.ID] = r
	return nil
}

func (m *Memory) DeleteReport(_ context.Context, id grants.ReportID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reports, id)
	return nil
}

// =============================================================================
// TRANSACTIONS AND AUDIT
// =============================================================================

// WithTx runs fn against the store directly. The memory store serializes
// writes with its mutex, which is enough isolation for tests; rollback is
// not simulated.
func (m *Memory) WithTx(_ context.Context, fn func(grants.Store) error) error {
	return fn(m)
}

func (m *Memory) AppendAudit(_ context.Context, entry grants.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, entityID string) ([]grants.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []grants.AuditEntry
	for _, e := range m.audit {
		if e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}
