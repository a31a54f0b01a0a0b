/*
pool.go - Funding pool aggregation

PURPOSE:
  Computes the Allocated / Committed / Pending / Remaining summary for a
  state across a set of open funding cycles. This is the one calculation
  every dashboard and submission screen needs, consolidated here so no
  endpoint carries its own copy.

ALGORITHM:
  1. Load all allocation decisions for the state in the given cycles
  2. Keep only the latest decision per cycle ("latest decision wins")
  3. Allocated = sum of active allocation amounts
  4. Load projects linked to the active allocations
  5. Committed += project expense total when approved + committed
     Pending   += project expense total when pending + allocated
     Any other status combination contributes to neither sum
  6. Remaining = Allocated - Committed - Pending (never clamped)

GUARANTEES:
  - Deterministic for a consistent store snapshot; no side effects
  - All-or-nothing: a store failure yields an error, never a partial pool
  - A malformed expense record contributes zero, it does not abort the run

OVERCOMMITMENT:
  Remaining may go negative. That is a signal for reviewers, not an
  enforced cap; nothing here blocks submissions against a drained pool.

SEE ALSO:
  - calls.go: same latest-decision grouping applied to grant calls
  - lifecycle.go: transitions that move projects between the sums
*/
package grants

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator computes funding pool summaries. Read-only over the store.
type Aggregator struct {
	Store Store
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{Store: store}
}

// ComputePool returns the funding summary for stateName across the given
// cycles. An empty cycle set yields an all-zero pool.
func (a *Aggregator) ComputePool(ctx context.Context, stateName string, openCycleIDs []CycleID) (Pool, error) {
	pool := Pool{
		StateName: stateName,
		Allocated: decimal.Zero,
		Committed: decimal.Zero,
		Pending:   decimal.Zero,
		Remaining: decimal.Zero,
	}
	if stateName == "" {
		return Pool{}, &ValidationError{Entity: "pool", Field: "state", Message: "must not be empty"}
	}
	if len(openCycleIDs) == 0 {
		return pool, nil
	}

	allocs, err := a.Store.ListStateAllocations(ctx, stateName, openCycleIDs)
	if err != nil {
		return Pool{}, &StorageError{Op: "list state allocations", Err: err}
	}

	active := activeStateAllocations(allocs)
	activeIDs := make([]AllocationID, 0, len(active))
	for _, alloc := range active {
		pool.Allocated = pool.Allocated.Add(alloc.Amount)
		activeIDs = append(activeIDs, alloc.ID)
	}

	if len(activeIDs) > 0 {
		projects, err := a.Store.ListProjectsByAllocation(ctx, activeIDs)
		if err != nil {
			return Pool{}, &StorageError{Op: "list projects by allocation", Err: err}
		}
		for i := range projects {
			p := &projects[i]
			total := p.TotalExpenses()
			switch {
			case p.Status == StatusApproved && p.FundingStatus == FundingCommitted:
				pool.Committed = pool.Committed.Add(total)
			case p.Status == StatusPending && p.FundingStatus == FundingAllocated:
				pool.Pending = pool.Pending.Add(total)
			}
		}
	}

	pool.Remaining = pool.Allocated.Sub(pool.Committed).Sub(pool.Pending)
	return pool, nil
}

// ComputeOpenPool resolves the open cycle set from the store, then computes
// the pool. This is the form the HTTP layer calls.
func (a *Aggregator) ComputeOpenPool(ctx context.Context, stateName string) (Pool, error) {
	cycles, err := a.Store.ListOpenCycles(ctx)
	if err != nil {
		return Pool{}, &StorageError{Op: "list open cycles", Err: err}
	}
	ids := make([]CycleID, len(cycles))
	for i, c := range cycles {
		ids[i] = c.ID
	}
	return a.ComputePool(ctx, stateName, ids)
}

// =============================================================================
// LATEST DECISION WINS
// =============================================================================

// activeStateAllocations keeps the allocation with the highest decision
// number per cycle. Comparison is strict, so on an (invalid) tie the first
// row encountered wins; the store schema makes ties impossible by enforcing
// uniqueness of (cycle_id, state_name, decision_no).
func activeStateAllocations(allocs []StateAllocation) []StateAllocation {
	latest := make(map[CycleID]StateAllocation)
	order := make([]CycleID, 0, len(allocs))
	for _, alloc := range allocs {
		current, seen := latest[alloc.CycleID]
		if !seen {
			order = append(order, alloc.CycleID)
			latest[alloc.CycleID] = alloc
			continue
		}
		if alloc.DecisionNo > current.DecisionNo {
			latest[alloc.CycleID] = alloc
		}
	}
	active := make([]StateAllocation, 0, len(latest))
	for _, id := range order {
		active = append(active, latest[id])
	}
	return active
}
