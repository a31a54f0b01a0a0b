package grants_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reliefops/grant-engine/grants"
	memstore "github.com/reliefops/grant-engine/grants/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newPoolFixture() (*grants.Aggregator, *memstore.Memory) {
	mem := memstore.NewMemory()
	return grants.NewAggregator(mem), mem
}

func openCycle(id string) grants.FundingCycle {
	return grants.FundingCycle{
		ID:        grants.CycleID(id),
		Year:      2025,
		Name:      "Cycle " + id,
		Status:    grants.CycleOpen,
		StartDate: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC),
	}
}

func allocation(id, cycleID, state string, amount int, decisionNo int) grants.StateAllocation {
	return grants.StateAllocation{
		ID:         grants.AllocationID(id),
		CycleID:    grants.CycleID(cycleID),
		StateName:  state,
		Amount:     decimal.NewFromInt(int64(amount)),
		DecisionNo: decisionNo,
	}
}

func fundedProject(id, allocID string, status grants.ProjectStatus, funding grants.FundingStatus, costs ...int) grants.Project {
	var expenses []grants.Expense
	for _, c := range costs {
		expenses = append(expenses, grants.Expense{TotalCost: decimal.NewFromInt(int64(c))})
	}
	return grants.Project{
		ID:            grants.ProjectID(id),
		State:         "Khartoum",
		CreatedBy:     "user-1",
		Status:        status,
		FundingStatus: funding,
		AllocationID:  grants.AllocationID(allocID),
		Expenses:      expenses,
	}
}

// =============================================================================
// AGGREGATION TESTS
// =============================================================================

func TestComputePool_ExampleScenario(t *testing.T) {
	// GIVEN: Khartoum has two open cycles. Cycle A got decisions 500 (no.1)
	//        then 800 (no.2); cycle B a single decision of 300. Project X
	//        (approved/committed) spends 200 against A's active allocation,
	//        project Y (pending/allocated) spends 150.
	// WHEN:  computing the pool
	// THEN:  allocated=1100, committed=200, pending=150, remaining=750

	agg, mem := newPoolFixture()
	ctx := context.Background()

	mem.PutCycle(openCycle("cycle-a"))
	mem.PutCycle(openCycle("cycle-b"))
	mem.PutStateAllocation(allocation("alloc-a1", "cycle-a", "Khartoum", 500, 1))
	mem.PutStateAllocation(allocation("alloc-a2", "cycle-a", "Khartoum", 800, 2))
	mem.PutStateAllocation(allocation("alloc-b1", "cycle-b", "Khartoum", 300, 1))

	require.NoError(t, mem.SaveProject(ctx, fundedProject("proj-x", "alloc-a2", grants.StatusApproved, grants.FundingCommitted, 120, 80)))
	require.NoError(t, mem.SaveProject(ctx, fundedProject("proj-y", "alloc-a2", grants.StatusPending, grants.FundingAllocated, 150)))

	pool, err := agg.ComputePool(ctx, "Khartoum", []grants.CycleID{"cycle-a", "cycle-b"})
	require.NoError(t, err)

	assert.Equal(t, "1100", pool.Allocated.String())
	assert.Equal(t, "200", pool.Committed.String())
	assert.Equal(t, "150", pool.Pending.String())
	assert.Equal(t, "750", pool.Remaining.String())
	assert.False(t, pool.Overcommitted())
}

func TestComputePool_LatestDecisionWins(t *testing.T) {
	// GIVEN: three decisions {1, 2, 3} for the same (cycle, state)
	// WHEN:  computing the pool
	// THEN:  only the decision_no=3 amount counts

	agg, mem := newPoolFixture()
	mem.PutCycle(openCycle("cycle-a"))
	mem.PutStateAllocation(allocation("a1", "cycle-a", "Kassala", 100, 1))
	mem.PutStateAllocation(allocation("a2", "cycle-a", "Kassala", 250, 2))
	mem.PutStateAllocation(allocation("a3", "cycle-a", "Kassala", 400, 3))

	pool, err := agg.ComputePool(context.Background(), "Kassala", []grants.CycleID{"cycle-a"})
	require.NoError(t, err)
	assert.Equal(t, "400", pool.Allocated.String())
}

func TestComputePool_Deterministic(t *testing.T) {
	// Repeated calls over a fixed snapshot return identical results.

	agg, mem := newPoolFixture()
	ctx := context.Background()
	mem.PutCycle(openCycle("cycle-a"))
	mem.PutStateAllocation(allocation("a1", "cycle-a", "Gedaref", 900, 1))
	require.NoError(t, mem.SaveProject(ctx, fundedProject("p1", "a1", grants.StatusPending, grants.FundingAllocated, 75)))

	first, err := agg.ComputePool(ctx, "Gedaref", []grants.CycleID{"cycle-a"})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := agg.ComputePool(ctx, "Gedaref", []grants.CycleID{"cycle-a"})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestComputePool_MismatchedStatusCountsNowhere(t *testing.T) {
	// GIVEN: a project with status=pending but funding_status=committed
	// THEN:  it contributes to neither committed nor pending

	agg, mem := newPoolFixture()
	ctx := context.Background()
	mem.PutCycle(openCycle("cycle-a"))
	mem.PutStateAllocation(allocation("a1", "cycle-a", "Khartoum", 500, 1))
	require.NoError(t, mem.SaveProject(ctx, fundedProject("p1", "a1", grants.StatusPending, grants.FundingCommitted, 300)))

	pool, err := agg.ComputePool(ctx, "Khartoum", []grants.CycleID{"cycle-a"})
	require.NoError(t, err)
	assert.Equal(t, "0", pool.Committed.String())
	assert.Equal(t, "0", pool.Pending.String())
	assert.Equal(t, "500", pool.Remaining.String())
}

func TestComputePool_NegativeRemainingNotClamped(t *testing.T) {
	// Overcommitment is reported as-is, never clamped to zero.

	agg, mem := newPoolFixture()
	ctx := context.Background()
	mem.PutCycle(openCycle("cycle-a"))
	mem.PutStateAllocation(allocation("a1", "cycle-a", "Khartoum", 100, 1))
	require.NoError(t, mem.SaveProject(ctx, fundedProject("p1", "a1", grants.StatusApproved, grants.FundingCommitted, 90)))
	require.NoError(t, mem.SaveProject(ctx, fundedProject("p2", "a1", grants.StatusPending, grants.FundingAllocated, 60)))

	pool, err := agg.ComputePool(ctx, "Khartoum", []grants.CycleID{"cycle-a"})
	require.NoError(t, err)
	assert.Equal(t, "-50", pool.Remaining.String())
	assert.True(t, pool.Overcommitted())
	// Invariant: remaining == allocated - committed - pending
	assert.Equal(t, pool.Allocated.Sub(pool.Committed).Sub(pool.Pending).String(), pool.Remaining.String())
}

func TestComputePool_EmptyCycleSet(t *testing.T) {
	agg, _ := newPoolFixture()
	pool, err := agg.ComputePool(context.Background(), "Khartoum", nil)
	require.NoError(t, err)
	assert.Equal(t, "0", pool.Allocated.String())
	assert.Equal(t, "0", pool.Remaining.String())
}

func TestComputePool_EmptyStateRejected(t *testing.T) {
	agg, _ := newPoolFixture()
	_, err := agg.ComputePool(context.Background(), "", []grants.CycleID{"cycle-a"})
	assert.ErrorIs(t, err, grants.ErrValidation)
}

func TestComputeOpenPool_ResolvesOpenCycles(t *testing.T) {
	// Closed cycles must not contribute even when allocations exist.

	agg, mem := newPoolFixture()
	ctx := context.Background()
	mem.PutCycle(openCycle("cycle-a"))
	closed := openCycle("cycle-b")
	closed.Status = grants.CycleClosed
	mem.PutCycle(closed)
	mem.PutStateAllocation(allocation("a1", "cycle-a", "Khartoum", 500, 1))
	mem.PutStateAllocation(allocation("b1", "cycle-b", "Khartoum", 999, 1))

	pool, err := agg.ComputeOpenPool(ctx, "Khartoum")
	require.NoError(t, err)
	assert.Equal(t, "500", pool.Allocated.String())
}

// =============================================================================
// EXPENSE PARSING
// =============================================================================

func TestParseExpenses_MalformedPayload(t *testing.T) {
	// A payload that is not a list yields no expenses; bad lines degrade to
	// zero-cost entries instead of failing.

	assert.Nil(t, grants.ParseExpenses("not a list"))
	assert.Nil(t, grants.ParseExpenses(nil))

	expenses := grants.ParseExpenses([]any{
		map[string]any{"description": "tents", "total_cost": 120.0},
		map[string]any{"description": "fuel", "total_cost": "80"},
		map[string]any{"description": "broken", "total_cost": "not-a-number"},
		"garbage line",
	})
	require.Len(t, expenses, 4)
	assert.Equal(t, "120", expenses[0].TotalCost.String())
	assert.Equal(t, "80", expenses[1].TotalCost.String())
	assert.Equal(t, "0", expenses[2].TotalCost.String())
	assert.Equal(t, "0", expenses[3].TotalCost.String())

	p := grants.Project{Expenses: expenses}
	assert.Equal(t, "200", p.TotalExpenses().String())
}
