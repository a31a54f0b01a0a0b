/*
calls.go - Grant call selection

PURPOSE:
  Lists the open grant calls a state can apply to: one entry per call,
  carrying only the latest allocation decision for that state. Closed
  calls are dropped even when an allocation row exists for them.

ORDERING:
  Output order has no semantic weight; results are sorted by call ID so
  repeated requests render stably.

SEE ALSO:
  - pool.go: the same latest-decision rule for funding cycles
*/
package grants

import (
	"context"
	"sort"
)

// =============================================================================
// SELECTOR
// =============================================================================

// Selector lists grant calls available to a state. Read-only over the store.
type Selector struct {
	Store Store
}

func NewSelector(store Store) *Selector {
	return &Selector{Store: store}
}

// ListCallsForState returns one summary per open grant call that has an
// allocation for stateName. An empty result is valid, not an error.
func (s *Selector) ListCallsForState(ctx context.Context, stateName string) ([]CallSummary, error) {
	if stateName == "" {
		return nil, &ValidationError{Entity: "grant call", Field: "state", Message: "must not be empty"}
	}

	allocs, err := s.Store.ListCallAllocations(ctx, stateName)
	if err != nil {
		return nil, &StorageError{Op: "list call allocations", Err: err}
	}
	if len(allocs) == 0 {
		return []CallSummary{}, nil
	}

	// Latest decision per call. Strict comparison, same caveat as pool.go:
	// the schema's uniqueness constraint rules out ties.
	latest := make(map[CallID]GrantCallStateAllocation)
	for _, alloc := range allocs {
		current, seen := latest[alloc.GrantCallID]
		if !seen || alloc.DecisionNo > current.DecisionNo {
			latest[alloc.GrantCallID] = alloc
		}
	}

	calls, err := s.Store.ListOpenCalls(ctx)
	if err != nil {
		return nil, &StorageError{Op: "list open calls", Err: err}
	}

	summaries := make([]CallSummary, 0, len(latest))
	for _, call := range calls {
		alloc, ok := latest[call.ID]
		if !ok {
			continue
		}
		summaries = append(summaries, CallSummary{
			ID:           call.ID,
			AllocationID: alloc.ID,
			Name:         call.Name,
			Shortname:    call.Shortname,
			DonorName:    call.DonorName,
			StateAmount:  alloc.Amount,
			TotalAmount:  call.Amount,
			StartDate:    call.StartDate,
			EndDate:      call.EndDate,
		})
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries, nil
}
