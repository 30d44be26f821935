package reconcile

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tpguard/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func longPosition(entry string) domain.Position {
	return domain.Position{
		Symbol:     "BTCUSDT",
		Side:       domain.SideLong,
		Size:       dec("1000"),
		EntryPrice: dec(entry),
	}
}

func TestClassifyLongPosition(t *testing.T) {
	pos := longPosition("50000")

	orders := []domain.Order{
		{ID: "tp1", Side: domain.OrderSideSell, Type: domain.OrderTypeStopMarket, TriggerPrice: dec("52000"), Status: domain.OrderStatusNew},
		{ID: "sl1", Side: domain.OrderSideSell, Type: domain.OrderTypeStopMarket, TriggerPrice: dec("48000"), Status: domain.OrderStatusNew},
		{ID: "entry1", Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit, Price: dec("49500"), Status: domain.OrderStatusNew},
	}

	c := Classify(pos, orders)

	require.Len(t, c.TakeProfits, 1)
	assert.Equal(t, "tp1", c.TakeProfits[0].ID)
	require.Len(t, c.StopLosses, 1)
	assert.Equal(t, "sl1", c.StopLosses[0].ID)
	require.Len(t, c.EntryLimits, 1)
	assert.Equal(t, "entry1", c.EntryLimits[0].ID)
	assert.Empty(t, c.Unknown)
}

func TestClassifyShortPosition(t *testing.T) {
	pos := domain.Position{
		Symbol:     "ETHUSDT",
		Side:       domain.SideShort,
		Size:       dec("10"),
		EntryPrice: dec("3000"),
	}

	orders := []domain.Order{
		// For a short the profitable side is below entry.
		{ID: "tp1", Side: domain.OrderSideBuy, Type: domain.OrderTypeStopMarket, TriggerPrice: dec("2800"), Status: domain.OrderStatusNew},
		{ID: "sl1", Side: domain.OrderSideBuy, Type: domain.OrderTypeStopMarket, TriggerPrice: dec("3200"), Status: domain.OrderStatusNew},
		{ID: "entry1", Side: domain.OrderSideSell, Type: domain.OrderTypeLimit, Price: dec("3050"), Status: domain.OrderStatusNew},
	}

	c := Classify(pos, orders)

	require.Len(t, c.TakeProfits, 1)
	assert.Equal(t, "tp1", c.TakeProfits[0].ID)
	require.Len(t, c.StopLosses, 1)
	assert.Equal(t, "sl1", c.StopLosses[0].ID)
	require.Len(t, c.EntryLimits, 1)
}

func TestClassifyTriggerAtEntryIsStopLoss(t *testing.T) {
	pos := longPosition("50000")

	orders := []domain.Order{
		{ID: "be", Side: domain.OrderSideSell, Type: domain.OrderTypeStopMarket, TriggerPrice: dec("50000"), Status: domain.OrderStatusNew},
	}

	c := Classify(pos, orders)

	assert.Empty(t, c.TakeProfits)
	require.Len(t, c.StopLosses, 1)
	assert.Equal(t, "be", c.StopLosses[0].ID)
}

func TestClassifyDropsTerminalOrders(t *testing.T) {
	pos := longPosition("50000")

	orders := []domain.Order{
		{ID: "filled", Side: domain.OrderSideSell, TriggerPrice: dec("52000"), Status: domain.OrderStatusFilled},
		{ID: "cancelled", Side: domain.OrderSideSell, TriggerPrice: dec("48000"), Status: domain.OrderStatusCancelled},
		{ID: "rejected", Side: domain.OrderSideBuy, Price: dec("49000"), Status: domain.OrderStatusRejected},
	}

	c := Classify(pos, orders)

	assert.Empty(t, c.TakeProfits)
	assert.Empty(t, c.StopLosses)
	assert.Empty(t, c.EntryLimits)
	assert.Empty(t, c.Unknown)
}

func TestClassifyNoUsablePriceGoesUnknown(t *testing.T) {
	pos := longPosition("50000")

	orders := []domain.Order{
		{ID: "mkt", Side: domain.OrderSideSell, Type: domain.OrderTypeMarket, Status: domain.OrderStatusNew},
	}

	c := Classify(pos, orders)

	require.Len(t, c.Unknown, 1)
	assert.Equal(t, "mkt", c.Unknown[0].ID)
}

func TestClassifyPrefersTriggerOverLimitPrice(t *testing.T) {
	pos := longPosition("50000")

	// Stop-limit style order: trigger below entry decides classification even
	// though the limit price sits above it.
	orders := []domain.Order{
		{ID: "sl", Side: domain.OrderSideSell, TriggerPrice: dec("48000"), Price: dec("51000"), Status: domain.OrderStatusNew},
	}

	c := Classify(pos, orders)

	require.Len(t, c.StopLosses, 1)
	assert.Empty(t, c.TakeProfits)
}

func TestConditionalCount(t *testing.T) {
	c := Classification{
		TakeProfits: []domain.Order{
			{ID: "tp1", TriggerPrice: dec("52000")},
			{ID: "tp2", Price: dec("53000")}, // resting limit, not conditional
		},
		StopLosses: []domain.Order{
			{ID: "sl", TriggerPrice: dec("48000")},
		},
		Unknown: []domain.Order{
			{ID: "u", TriggerPrice: dec("47000")},
		},
	}

	assert.Equal(t, 3, c.ConditionalCount())
}

func TestClassificationStopLoss(t *testing.T) {
	one := Classification{StopLosses: []domain.Order{{ID: "sl"}}}
	sl, ok := one.StopLoss()
	require.True(t, ok)
	assert.Equal(t, "sl", sl.ID)

	two := Classification{StopLosses: []domain.Order{{ID: "a"}, {ID: "b"}}}
	_, ok = two.StopLoss()
	assert.False(t, ok)

	none := Classification{}
	_, ok = none.StopLoss()
	assert.False(t, ok)
}
