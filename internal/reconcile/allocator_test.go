package reconcile

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tpguard/internal/domain"
)

func TestAllocationsStagedEvenSplit(t *testing.T) {
	allocs, err := Allocations(domain.ApproachStaged, dec("1000"), dec("1"))
	require.NoError(t, err)
	require.Len(t, allocs, 4)

	want := []string{"850", "50", "50", "50"}
	for i, a := range allocs {
		assert.Equal(t, i+1, a.Rank)
		assert.True(t, a.Quantity.Equal(dec(want[i])), "rank %d: got %s want %s", a.Rank, a.Quantity, want[i])
	}
}

func TestAllocationsStagedRemainderFoldsIntoLargest(t *testing.T) {
	// 997 * 5% = 49.85 floors to 49 per small bucket; the shortfall lands on
	// rank 1 so the ladder still covers the whole floored size.
	allocs, err := Allocations(domain.ApproachStaged, dec("997"), dec("1"))
	require.NoError(t, err)

	total := decimal.Zero
	for _, a := range allocs {
		total = total.Add(a.Quantity)
	}
	assert.True(t, total.Equal(dec("997")), "total %s", total)
	assert.True(t, allocs[0].Quantity.GreaterThanOrEqual(dec("847")))
	for _, a := range allocs[1:] {
		assert.True(t, a.Quantity.Equal(dec("49")), "rank %d: %s", a.Rank, a.Quantity)
	}
}

func TestAllocationsStagedFractionalStep(t *testing.T) {
	allocs, err := Allocations(domain.ApproachStaged, dec("1.234"), dec("0.001"))
	require.NoError(t, err)

	total := decimal.Zero
	for _, a := range allocs {
		total = total.Add(a.Quantity)
		// Every bucket lands on the step grid.
		assert.True(t, a.Quantity.Mod(dec("0.001")).IsZero(), "rank %d off grid: %s", a.Rank, a.Quantity)
	}
	assert.True(t, total.Equal(dec("1.234")), "total %s", total)
}

func TestAllocationsSingleTarget(t *testing.T) {
	allocs, err := Allocations(domain.ApproachSingleTarget, dec("123.456"), dec("0.01"))
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, 1, allocs[0].Rank)
	assert.True(t, allocs[0].Quantity.Equal(dec("123.45")))
}

func TestAllocationsCoverageInvariant(t *testing.T) {
	// The ladder never over-covers and leaves less than one step uncovered.
	cases := []struct{ remaining, step string }{
		{"1000", "1"},
		{"999", "1"},
		{"17", "1"},
		{"0.105", "0.01"},
		{"3.9999", "0.001"},
		{"52.7", "0.5"},
	}
	for _, tc := range cases {
		remaining := dec(tc.remaining)
		step := dec(tc.step)

		allocs, err := Allocations(domain.ApproachStaged, remaining, step)
		require.NoError(t, err)

		total := decimal.Zero
		for _, a := range allocs {
			total = total.Add(a.Quantity)
		}
		uncovered := remaining.Sub(total)
		assert.True(t, uncovered.Sign() >= 0, "%s/%s over-covers by %s", tc.remaining, tc.step, uncovered.Neg())
		assert.True(t, uncovered.LessThan(step), "%s/%s leaves %s uncovered", tc.remaining, tc.step, uncovered)
	}
}

func TestAllocationsRejectsNegative(t *testing.T) {
	_, err := Allocations(domain.ApproachStaged, dec("-1"), dec("1"))
	assert.Error(t, err)
}

func TestAllocationsRejectsUnknownApproach(t *testing.T) {
	_, err := Allocations(domain.Approach("martingale"), dec("10"), dec("1"))
	assert.Error(t, err)
}

func TestAllocationsZeroRemaining(t *testing.T) {
	allocs, err := Allocations(domain.ApproachStaged, decimal.Zero, dec("1"))
	require.NoError(t, err)
	for _, a := range allocs {
		assert.True(t, a.Quantity.IsZero())
	}
}

func TestCapAllocationsShrinksLargestUnfilled(t *testing.T) {
	// The ladder was built against 950 units but only 100 remain on the
	// exchange: the position shrank outside the ladder. The unfilled buckets
	// must come down to cover exactly what is left.
	targets, err := Allocations(domain.ApproachStaged, dec("950"), dec("1"))
	require.NoError(t, err)

	capped := CapAllocations(targets, map[int]bool{1: true}, dec("100"), dec("1"))

	total := decimal.Zero
	for _, a := range capped {
		if a.Rank != 1 {
			total = total.Add(a.Quantity)
		}
		assert.True(t, a.Quantity.Sign() >= 0, "rank %d went negative: %s", a.Rank, a.Quantity)
	}
	assert.True(t, total.Equal(dec("100")), "unfilled buckets cover %s, want 100", total)
}

func TestCapAllocationsQuietWithinRemaining(t *testing.T) {
	targets, err := Allocations(domain.ApproachStaged, dec("1000"), dec("1"))
	require.NoError(t, err)

	// Rank 1 filled, 150 remaining: the surviving 50/50/50 already fit.
	capped := CapAllocations(targets, map[int]bool{1: true}, dec("150"), dec("1"))
	assert.Equal(t, targets, capped)
}

func TestFloorToStep(t *testing.T) {
	assert.True(t, FloorToStep(dec("10.7"), dec("0.5")).Equal(dec("10.5")))
	assert.True(t, FloorToStep(dec("10.7"), dec("1")).Equal(dec("10")))
	assert.True(t, FloorToStep(dec("10.7"), decimal.Zero).Equal(dec("10.7")))
}

func TestNeedsReplace(t *testing.T) {
	step := dec("1")
	assert.False(t, NeedsReplace(dec("850"), dec("850"), step))
	assert.False(t, NeedsReplace(dec("850"), dec("851"), step), "one step of drift is tolerated")
	assert.True(t, NeedsReplace(dec("850"), dec("852"), step))
	assert.True(t, NeedsReplace(dec("852"), dec("850"), step))
}

func TestDiffLadderQuietWhenAligned(t *testing.T) {
	targets := []Allocation{
		{Rank: 1, Quantity: dec("850")},
		{Rank: 2, Quantity: dec("50")},
	}
	ladder := []*domain.TakeProfit{
		{OrderID: "a", Rank: 1, Quantity: dec("850"), Price: dec("52000")},
		{OrderID: "b", Rank: 2, Quantity: dec("50"), Price: dec("53000")},
	}

	assert.Empty(t, DiffLadder(targets, ladder, dec("1")))
}

func TestDiffLadderReplacesDriftedRung(t *testing.T) {
	targets := []Allocation{
		{Rank: 1, Quantity: dec("425")},
		{Rank: 2, Quantity: dec("25")},
	}
	ladder := []*domain.TakeProfit{
		{OrderID: "a", Rank: 1, Quantity: dec("850"), Price: dec("52000")},
		{OrderID: "b", Rank: 2, Quantity: dec("25"), Price: dec("53000")},
	}

	adjs := DiffLadder(targets, ladder, dec("1"))
	require.Len(t, adjs, 1)
	assert.Equal(t, 1, adjs[0].Rank)
	assert.Equal(t, "a", adjs[0].CancelOrderID)
	assert.True(t, adjs[0].Quantity.Equal(dec("425")))
	assert.True(t, adjs[0].Price.Equal(dec("52000")), "replacement keeps the recorded price")
}

func TestDiffLadderSkipsFilledRungs(t *testing.T) {
	targets := []Allocation{
		{Rank: 2, Quantity: dec("50")},
	}
	ladder := []*domain.TakeProfit{
		{OrderID: "a", Rank: 1, Quantity: dec("850"), Filled: true},
		{OrderID: "b", Rank: 2, Quantity: dec("50")},
	}

	assert.Empty(t, DiffLadder(targets, ladder, dec("1")))
}

func TestDiffLadderCancelsZeroTargetAndOrphans(t *testing.T) {
	targets := []Allocation{
		{Rank: 1, Quantity: decimal.Zero},
	}
	ladder := []*domain.TakeProfit{
		{OrderID: "a", Rank: 1, Quantity: dec("850")},
		{OrderID: "b", Rank: 2, Quantity: dec("50")},
	}

	adjs := DiffLadder(targets, ladder, dec("1"))
	require.Len(t, adjs, 2)
	for _, adj := range adjs {
		assert.NotEmpty(t, adj.CancelOrderID)
		assert.True(t, adj.Quantity.IsZero(), "cancel-only adjustment carries no replacement quantity")
	}
}
