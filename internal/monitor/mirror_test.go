package monitor

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tpguard/internal/domain"
)

func mainPosition(size string) domain.Position {
	return domain.Position{
		Symbol:     "BTCUSDT",
		Side:       domain.SideLong,
		Size:       dec(size),
		EntryPrice: dec("50000"),
	}
}

func seedMirror(gw *fakeGateway, size string) {
	gw.positions["BTCUSDT"] = domain.Position{
		Symbol:     "BTCUSDT",
		Side:       domain.SideLong,
		Size:       dec(size),
		EntryPrice: dec("50100"),
	}
}

func TestMirrorSyncScalesProportionally(t *testing.T) {
	gw := newFakeGateway()
	seedMirror(gw, "300")
	mi := NewMirror(gw, testLogger())

	main := stagedState()
	err := mi.Sync(context.Background(), main, mainPosition("1000"))
	require.NoError(t, err)

	// Stop first, then the ladder ascending rank.
	require.Equal(t, 5, gw.placedCount())
	stop := gw.placed[0]
	assert.True(t, stop.TriggerPrice.Equal(dec("48000")), "stop is placed before any take profit")
	assert.True(t, stop.Quantity.Equal(dec("300")))
	assert.True(t, stop.ReduceOnly)

	wantQty := []string{"255", "15", "15", "15"}
	wantPrice := []string{"52000", "53000", "54000", "55000"}
	for i, req := range gw.placed[1:] {
		assert.True(t, req.Quantity.Equal(dec(wantQty[i])), "rung %d: got %s", i+1, req.Quantity)
		assert.True(t, req.TriggerPrice.Equal(dec(wantPrice[i])))
		assert.Equal(t, domain.OrderSideSell, req.Side)
	}
}

func TestMirrorSyncFoldsRoundingRemainder(t *testing.T) {
	gw := newFakeGateway()
	seedMirror(gw, "333")
	mi := NewMirror(gw, testLogger())

	err := mi.Sync(context.Background(), stagedState(), mainPosition("1000"))
	require.NoError(t, err)

	total := decimal.Zero
	var largest decimal.Decimal
	for _, req := range gw.placed[1:] {
		total = total.Add(req.Quantity)
		if req.Quantity.GreaterThan(largest) {
			largest = req.Quantity
		}
	}
	assert.True(t, total.Equal(dec("333")), "mirror ladder covers the mirror size, got %s", total)
	assert.True(t, largest.Equal(dec("285")), "shortfall folds into the largest rung, got %s", largest)
}

func TestMirrorSyncQuietWhenAligned(t *testing.T) {
	gw := newFakeGateway()
	seedMirror(gw, "300")
	mi := NewMirror(gw, testLogger())
	main := stagedState()

	require.NoError(t, mi.Sync(context.Background(), main, mainPosition("1000")))
	placed := gw.placedCount()

	require.NoError(t, mi.Sync(context.Background(), main, mainPosition("1000")))
	assert.Equal(t, placed, gw.placedCount(), "an aligned mirror re-sync places nothing")
	assert.Empty(t, gw.cancelledIDs())
}

func TestMirrorSyncSkipsFilledRungs(t *testing.T) {
	gw := newFakeGateway()
	seedMirror(gw, "45")
	mi := NewMirror(gw, testLogger())

	main := stagedState()
	main.TakeProfits["tp1"].Filled = true
	main.RemainingSize = dec("150")

	err := mi.Sync(context.Background(), main, mainPosition("150"))
	require.NoError(t, err)

	// ratio 0.3 over the three surviving rungs of 50: 15 each, with the
	// mirror size of 45 fully covered.
	require.Equal(t, 4, gw.placedCount())
	for _, req := range gw.placed[1:] {
		assert.True(t, req.Quantity.Equal(dec("15")))
		assert.False(t, req.TriggerPrice.Equal(dec("52000")), "the filled rung is not mirrored")
	}
}

func TestMirrorSyncCancelsStaleRungs(t *testing.T) {
	gw := newFakeGateway()
	seedMirror(gw, "300")
	mi := NewMirror(gw, testLogger())

	// A leftover mirror take-profit at a price the main ladder no longer has.
	gw.orders["BTCUSDT"] = []domain.Order{
		{ID: "stale", Symbol: "BTCUSDT", Side: domain.OrderSideSell, Type: domain.OrderTypeStopMarket, Quantity: dec("10"), TriggerPrice: dec("60000"), ReduceOnly: true, Status: domain.OrderStatusNew},
	}

	err := mi.Sync(context.Background(), stagedState(), mainPosition("1000"))
	require.NoError(t, err)
	assert.Contains(t, gw.cancelledIDs(), "stale")
}

func TestMirrorSyncReplacesDriftedStop(t *testing.T) {
	gw := newFakeGateway()
	seedMirror(gw, "300")
	mi := NewMirror(gw, testLogger())
	main := stagedState()

	require.NoError(t, mi.Sync(context.Background(), main, mainPosition("1000")))
	gw.placed = nil
	gw.cancelled = nil

	// The main stop moves to breakeven; the mirror stop must follow.
	main.StopLoss = &domain.StopLoss{OrderID: "sl-main", Price: dec("50000"), Quantity: dec("1000")}

	require.NoError(t, mi.Sync(context.Background(), main, mainPosition("1000")))
	require.GreaterOrEqual(t, gw.placedCount(), 1)
	assert.True(t, gw.placed[0].TriggerPrice.Equal(dec("50000")))
	assert.NotEmpty(t, gw.cancelledIDs(), "the old mirror stop was cancelled")
}

func TestMirrorSyncSkipsWhenNoMirrorPosition(t *testing.T) {
	gw := newFakeGateway()
	mi := NewMirror(gw, testLogger())

	err := mi.Sync(context.Background(), stagedState(), mainPosition("1000"))
	require.NoError(t, err)
	assert.Zero(t, gw.placedCount())
}

func TestMirrorSyncSkipsOnSideMismatch(t *testing.T) {
	gw := newFakeGateway()
	gw.positions["BTCUSDT"] = domain.Position{
		Symbol: "BTCUSDT",
		Side:   domain.SideShort,
		Size:   dec("300"),
	}
	mi := NewMirror(gw, testLogger())

	err := mi.Sync(context.Background(), stagedState(), mainPosition("1000"))
	require.NoError(t, err)
	assert.Zero(t, gw.placedCount())
	assert.Empty(t, gw.cancelledIDs())
}

func TestMirrorSyncSkipsWhenMainSizeZero(t *testing.T) {
	gw := newFakeGateway()
	seedMirror(gw, "300")
	mi := NewMirror(gw, testLogger())

	err := mi.Sync(context.Background(), stagedState(), mainPosition("0"))
	require.NoError(t, err)
	assert.Zero(t, gw.placedCount())
}
