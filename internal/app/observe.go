package app

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"tpguard/internal/domain"
)

// dryRunGateway passes reads through to the real gateway and logs writes
// instead of executing them. Observe mode wraps every account gateway in one
// so an operator can watch what the reconciler would do.
//
// Synthetic order IDs keep the monitor's bookkeeping coherent within a cycle;
// the next fetch simply does not find them, which reads as "order vanished"
// and keeps the observed plan visible every cycle.
type dryRunGateway struct {
	inner   domain.ExchangeGateway
	account domain.Account
	logger  *slog.Logger
}

var _ domain.ExchangeGateway = (*dryRunGateway)(nil)

func newDryRunGateway(inner domain.ExchangeGateway, account domain.Account, logger *slog.Logger) *dryRunGateway {
	return &dryRunGateway{
		inner:   inner,
		account: account,
		logger:  logger.With(slog.String("component", "dry_run_gateway"), slog.String("account", string(account))),
	}
}

func (g *dryRunGateway) GetPosition(ctx context.Context, symbol string) (domain.Position, bool, error) {
	return g.inner.GetPosition(ctx, symbol)
}

func (g *dryRunGateway) GetPositions(ctx context.Context) ([]domain.Position, error) {
	return g.inner.GetPositions(ctx)
}

func (g *dryRunGateway) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	return g.inner.GetOpenOrders(ctx, symbol)
}

func (g *dryRunGateway) GetInstrument(ctx context.Context, symbol string) (domain.Instrument, error) {
	return g.inner.GetInstrument(ctx, symbol)
}

func (g *dryRunGateway) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (string, error) {
	g.logger.InfoContext(ctx, "would place order",
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.String("type", string(req.Type)),
		slog.String("quantity", req.Quantity.String()),
		slog.String("price", req.Price.String()),
		slog.String("trigger_price", req.TriggerPrice.String()),
		slog.Bool("reduce_only", req.ReduceOnly),
	)
	return "dry-" + uuid.NewString(), nil
}

func (g *dryRunGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	g.logger.InfoContext(ctx, "would cancel order",
		slog.String("symbol", symbol),
		slog.String("order_id", orderID),
	)
	return nil
}
