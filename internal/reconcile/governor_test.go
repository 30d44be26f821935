package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tpguard/internal/domain"
)

func stopRefs(base time.Time, tps int, withSL bool) []StopOrderRef {
	var refs []StopOrderRef
	if withSL {
		refs = append(refs, StopOrderRef{OrderID: "sl", IsStopLoss: true, CreatedAt: base})
	}
	for i := 0; i < tps; i++ {
		refs = append(refs, StopOrderRef{
			OrderID:   "tp" + string(rune('a'+i)),
			CreatedAt: base.Add(time.Duration(i+1) * time.Minute),
		})
	}
	return refs
}

func TestGovernEvictionsUnderCeiling(t *testing.T) {
	base := time.Now()
	evict, err := GovernEvictions(stopRefs(base, 5, true), 10, 2)
	require.NoError(t, err)
	assert.Empty(t, evict)
}

func TestGovernEvictionsEvictsOldestTakeProfit(t *testing.T) {
	// Nine take-profits plus the stop-loss fill the ceiling; placing one more
	// evicts the oldest take-profit, never the stop.
	base := time.Now()
	evict, err := GovernEvictions(stopRefs(base, 9, true), 10, 1)
	require.NoError(t, err)
	require.Len(t, evict, 1)
	assert.Equal(t, "tpa", evict[0])
}

func TestGovernEvictionsMultiplePending(t *testing.T) {
	base := time.Now()
	evict, err := GovernEvictions(stopRefs(base, 9, true), 10, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"tpa", "tpb", "tpc"}, evict)
}

func TestGovernEvictionsNeverEvictsStopLoss(t *testing.T) {
	// Even when the stop-loss is the oldest conditional order it survives.
	base := time.Now()
	refs := []StopOrderRef{
		{OrderID: "sl", IsStopLoss: true, CreatedAt: base},
		{OrderID: "tp1", CreatedAt: base.Add(time.Hour)},
	}
	evict, err := GovernEvictions(refs, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"tp1"}, evict)
}

func TestGovernEvictionsRefusesWhenOnlyStopLossesRemain(t *testing.T) {
	base := time.Now()
	refs := []StopOrderRef{
		{OrderID: "sl", IsStopLoss: true, CreatedAt: base},
	}
	evict, err := GovernEvictions(refs, 1, 1)
	assert.ErrorIs(t, err, domain.ErrOrderLimit)
	assert.Empty(t, evict, "a refused placement cancels nothing")
}

func TestGovernEvictionsNoPending(t *testing.T) {
	base := time.Now()
	evict, err := GovernEvictions(stopRefs(base, 12, true), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, evict)
}

func TestDuplicateStopLossesKeepsNewest(t *testing.T) {
	base := time.Now()
	stops := []domain.Order{
		{ID: "old", CreatedAt: base},
		{ID: "newest", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "mid", CreatedAt: base.Add(time.Minute)},
	}

	cancel := DuplicateStopLosses(stops)
	assert.ElementsMatch(t, []string{"old", "mid"}, cancel)
}

func TestDuplicateStopLossesSingleIsFine(t *testing.T) {
	assert.Nil(t, DuplicateStopLosses([]domain.Order{{ID: "sl"}}))
	assert.Nil(t, DuplicateStopLosses(nil))
}
