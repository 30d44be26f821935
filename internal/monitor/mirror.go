package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tpguard/internal/domain"
	"tpguard/internal/reconcile"
)

// Mirror replicates the main account's order structure onto the mirror
// account, scaled to the mirror's own position size. The mirror position
// itself is opened elsewhere; this component only manages its reduce orders.
type Mirror struct {
	gateway domain.ExchangeGateway
	logger  *slog.Logger
}

var _ Synchronizer = (*Mirror)(nil)

// NewMirror creates the synchronizer around the mirror account's gateway.
func NewMirror(gateway domain.ExchangeGateway, logger *slog.Logger) *Mirror {
	return &Mirror{
		gateway: gateway,
		logger:  logger.With(slog.String("component", "mirror")),
	}
}

// mirrorRung is one target reduce order on the mirror account.
type mirrorRung struct {
	rank     int
	price    decimal.Decimal
	quantity decimal.Decimal
}

// Sync reconciles the mirror account's reduce orders against the main
// account's ladder. Quantities are scaled by the ratio of the two position
// sizes and re-rounded against the mirror instrument's own step size; the
// rounding remainder folds into the largest rung so the mirror position stays
// covered within one step.
func (mi *Mirror) Sync(ctx context.Context, main *domain.MonitorState, mainPos domain.Position) error {
	if mainPos.Size.Sign() == 0 {
		return nil
	}

	pos, ok, err := mi.gateway.GetPosition(ctx, mainPos.Symbol)
	if err != nil {
		return fmt.Errorf("mirror: fetch position: %w", err)
	}
	if !ok || pos.Size.Sign() == 0 {
		return nil
	}
	if pos.Side != mainPos.Side {
		mi.logger.Warn("mirror position side differs from main, skipping",
			slog.String("symbol", mainPos.Symbol),
			slog.String("main_side", string(mainPos.Side)),
			slog.String("mirror_side", string(pos.Side)),
		)
		return nil
	}

	inst, err := mi.gateway.GetInstrument(ctx, mainPos.Symbol)
	if err != nil {
		return fmt.Errorf("mirror: fetch instrument: %w", err)
	}
	orders, err := mi.gateway.GetOpenOrders(ctx, mainPos.Symbol)
	if err != nil {
		return fmt.Errorf("mirror: fetch orders: %w", err)
	}
	cls := reconcile.Classify(pos, orders)

	ratio := pos.Size.Div(mainPos.Size)
	targets := scaleLadder(main.Ladder(), ratio, pos.Size, inst.StepSize)

	var stopTarget *mirrorRung
	if main.StopLoss != nil && !main.StopLoss.Price.IsZero() {
		stopTarget = &mirrorRung{
			price:    main.StopLoss.Price,
			quantity: reconcile.StopQuantity(pos.Size, inst.StepSize),
		}
	}

	mi.syncStop(ctx, pos, inst, cls, stopTarget)
	mi.syncLadder(ctx, pos, inst, cls, targets)
	return nil
}

// scaleLadder maps the main account's unfilled rungs onto mirror quantities.
// Each rung floors independently, then the shortfall against the floored
// mirror size folds into the largest rung.
func scaleLadder(mainLadder []*domain.TakeProfit, ratio, mirrorSize, step decimal.Decimal) []mirrorRung {
	var out []mirrorRung
	for _, tp := range mainLadder {
		if tp.Filled {
			continue
		}
		q := reconcile.FloorToStep(tp.Quantity.Mul(ratio), step)
		out = append(out, mirrorRung{rank: tp.Rank, price: tp.Price, quantity: q})
	}
	if len(out) == 0 {
		return nil
	}

	total := decimal.Zero
	largest := 0
	for i, r := range out {
		total = total.Add(r.quantity)
		if r.quantity.GreaterThan(out[largest].quantity) {
			largest = i
		}
	}
	if shortfall := reconcile.FloorToStep(mirrorSize, step).Sub(total); shortfall.Sign() > 0 {
		out[largest].quantity = out[largest].quantity.Add(shortfall)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].rank < out[j].rank })
	return out
}

// syncStop ensures the mirror's protective stop matches the main one. The
// stop is always reconciled before the ladder so the position is never left
// unprotected while take-profits churn.
func (mi *Mirror) syncStop(ctx context.Context, pos domain.Position, inst domain.Instrument, cls reconcile.Classification, target *mirrorRung) {
	if target == nil || target.quantity.Sign() == 0 {
		for _, o := range cls.StopLosses {
			mi.cancel(ctx, pos.Symbol, o.ID)
		}
		return
	}

	var live *domain.Order
	for i := range cls.StopLosses {
		o := cls.StopLosses[i]
		if live == nil || o.CreatedAt.After(live.CreatedAt) {
			live = &cls.StopLosses[i]
		}
	}
	for _, o := range cls.StopLosses {
		if live != nil && o.ID == live.ID {
			continue
		}
		mi.cancel(ctx, pos.Symbol, o.ID)
	}

	if live != nil {
		priceMatches := live.EffectivePrice().Equal(target.price)
		if priceMatches && !reconcile.NeedsReplace(live.Quantity, target.quantity, inst.StepSize) {
			return
		}
		mi.cancel(ctx, pos.Symbol, live.ID)
	}

	if err := mi.place(ctx, pos, target.price, target.quantity); err != nil {
		mi.logger.Error("mirror stop placement failed",
			slog.String("symbol", pos.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	mi.logger.Info("mirror stop placed",
		slog.String("symbol", pos.Symbol),
		slog.String("price", target.price.String()),
	)
}

// syncLadder matches live mirror take-profits to target rungs by trigger
// price and corrects drift by cancel-and-replace, ascending rank.
func (mi *Mirror) syncLadder(ctx context.Context, pos domain.Position, inst domain.Instrument, cls reconcile.Classification, targets []mirrorRung) {
	liveByPrice := make(map[string]domain.Order, len(cls.TakeProfits))
	for _, o := range cls.TakeProfits {
		liveByPrice[o.EffectivePrice().String()] = o
	}

	for _, target := range targets {
		key := target.price.String()
		live, ok := liveByPrice[key]
		if ok {
			delete(liveByPrice, key)
			if target.quantity.Sign() == 0 {
				mi.cancel(ctx, pos.Symbol, live.ID)
				continue
			}
			if !reconcile.NeedsReplace(live.Quantity, target.quantity, inst.StepSize) {
				continue
			}
			mi.cancel(ctx, pos.Symbol, live.ID)
		}
		if target.quantity.Sign() == 0 {
			continue
		}
		if err := mi.place(ctx, pos, target.price, target.quantity); err != nil {
			mi.logger.Warn("mirror take profit placement failed",
				slog.String("symbol", pos.Symbol),
				slog.Int("rank", target.rank),
				slog.String("error", err.Error()),
			)
			continue
		}
	}

	// Live rungs at prices the main ladder no longer has are stale.
	for _, o := range liveByPrice {
		mi.cancel(ctx, pos.Symbol, o.ID)
	}
}

func (mi *Mirror) place(ctx context.Context, pos domain.Position, price, qty decimal.Decimal) error {
	_, err := mi.gateway.PlaceOrder(ctx, domain.PlaceOrderRequest{
		Symbol:        pos.Symbol,
		Side:          pos.Side.CloseOrderSide(),
		Type:          domain.OrderTypeStopMarket,
		Quantity:      qty,
		TriggerPrice:  price,
		ReduceOnly:    true,
		ClientOrderID: uuid.NewString(),
	})
	return err
}

func (mi *Mirror) cancel(ctx context.Context, symbol, orderID string) {
	if err := mi.gateway.CancelOrder(ctx, symbol, orderID); err != nil {
		mi.logger.Warn("mirror cancel failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}
}
