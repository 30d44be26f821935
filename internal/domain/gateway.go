package domain

import "context"

// ExchangeGateway is the consumed capability set of the exchange's REST API.
// Implementations own per-call timeouts and bounded retry of transient
// failures; callers treat "exhausted retries" as a single failed-cycle
// outcome. Placement is idempotent with respect to the client order ID.
type ExchangeGateway interface {
	// GetPosition returns the live position for symbol. ok is false when no
	// position exists.
	GetPosition(ctx context.Context, symbol string) (pos Position, ok bool, err error)

	// GetPositions returns every open position on the account.
	GetPositions(ctx context.Context) ([]Position, error)

	// GetOpenOrders returns all non-terminal orders for symbol.
	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)

	// GetInstrument returns the trading constraints for symbol.
	GetInstrument(ctx context.Context, symbol string) (Instrument, error)

	// PlaceOrder submits an order and returns the exchange order ID.
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (string, error)

	// CancelOrder cancels an order by exchange ID. Cancelling an order that
	// no longer exists returns ErrNotFound.
	CancelOrder(ctx context.Context, symbol, orderID string) error
}
