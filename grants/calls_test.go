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

func grantCall(id, name string, status grants.CallStatus, amount int) grants.GrantCall {
	return grants.GrantCall{
		ID:        grants.CallID(id),
		Name:      name,
		Shortname: id,
		Status:    status,
		Amount:    decimal.NewFromInt(int64(amount)),
		DonorName: "Donor Org",
		StartDate: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC),
	}
}

func callAllocation(id, callID, state string, amount, decisionNo int) grants.GrantCallStateAllocation {
	return grants.GrantCallStateAllocation{
		ID:          grants.CallAllocationID(id),
		GrantCallID: grants.CallID(callID),
		StateName:   state,
		Amount:      decimal.NewFromInt(int64(amount)),
		DecisionNo:  decisionNo,
	}
}

func TestListCallsForState_LatestDecisionPerCall(t *testing.T) {
	// GIVEN: call-1 has decisions 100 (no.1) and 180 (no.2) for Khartoum
	// WHEN:  listing calls
	// THEN:  one entry for call-1 carrying the no.2 amount

	mem := memstore.NewMemory()
	sel := grants.NewSelector(mem)

	mem.PutCall(grantCall("call-1", "Emergency Response", grants.CallOpen, 5000))
	mem.PutCallAllocation(callAllocation("ca-1", "call-1", "Khartoum", 100, 1))
	mem.PutCallAllocation(callAllocation("ca-2", "call-1", "Khartoum", 180, 2))

	summaries, err := sel.ListCallsForState(context.Background(), "Khartoum")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, grants.CallID("call-1"), summaries[0].ID)
	assert.Equal(t, grants.CallAllocationID("ca-2"), summaries[0].AllocationID)
	assert.Equal(t, "180", summaries[0].StateAmount.String())
	assert.Equal(t, "5000", summaries[0].TotalAmount.String())
	assert.Equal(t, "Donor Org", summaries[0].DonorName)
}

func TestListCallsForState_ClosedCallsDropped(t *testing.T) {
	// An allocation whose call is closed must not surface.

	mem := memstore.NewMemory()
	sel := grants.NewSelector(mem)

	mem.PutCall(grantCall("call-1", "Open Call", grants.CallOpen, 1000))
	mem.PutCall(grantCall("call-2", "Closed Call", grants.CallClosed, 2000))
	mem.PutCallAllocation(callAllocation("ca-1", "call-1", "Kassala", 100, 1))
	mem.PutCallAllocation(callAllocation("ca-2", "call-2", "Kassala", 200, 1))

	summaries, err := sel.ListCallsForState(context.Background(), "Kassala")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, grants.CallID("call-1"), summaries[0].ID)
}

func TestListCallsForState_StableOrderByCallID(t *testing.T) {
	mem := memstore.NewMemory()
	sel := grants.NewSelector(mem)

	mem.PutCall(grantCall("call-c", "C", grants.CallOpen, 1))
	mem.PutCall(grantCall("call-a", "A", grants.CallOpen, 1))
	mem.PutCall(grantCall("call-b", "B", grants.CallOpen, 1))
	mem.PutCallAllocation(callAllocation("ca-1", "call-c", "Nile", 10, 1))
	mem.PutCallAllocation(callAllocation("ca-2", "call-a", "Nile", 10, 1))
	mem.PutCallAllocation(callAllocation("ca-3", "call-b", "Nile", 10, 1))

	summaries, err := sel.ListCallsForState(context.Background(), "Nile")
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	assert.Equal(t, grants.CallID("call-a"), summaries[0].ID)
	assert.Equal(t, grants.CallID("call-b"), summaries[1].ID)
	assert.Equal(t, grants.CallID("call-c"), summaries[2].ID)
}

func TestListCallsForState_EmptyIsValid(t *testing.T) {
	mem := memstore.NewMemory()
	sel := grants.NewSelector(mem)

	summaries, err := sel.ListCallsForState(context.Background(), "Nowhere")
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestListCallsForState_OtherStatesInvisible(t *testing.T) {
	// Allocations for other states never leak into the result.

	mem := memstore.NewMemory()
	sel := grants.NewSelector(mem)

	mem.PutCall(grantCall("call-1", "Call", grants.CallOpen, 1000))
	mem.PutCallAllocation(callAllocation("ca-1", "call-1", "Khartoum", 100, 1))

	summaries, err := sel.ListCallsForState(context.Background(), "Kassala")
	require.NoError(t, err)
	assert.Empty(t, summaries)
}
