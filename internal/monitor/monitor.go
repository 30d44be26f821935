// Package monitor implements the reconciliation loop: one Monitor per
// (symbol, side, account) owns that position's lifecycle, a Registry
// supervises the set of monitors, and a Synchronizer mirrors the main
// account's order structure onto the mirror account.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tpguard/internal/domain"
	"tpguard/internal/reconcile"
)

// Config carries the reconciliation loop tunables.
type Config struct {
	PollInterval     time.Duration
	FailureThreshold int
	StopOrderCeiling int
	CloseDebounce    int
}

// Synchronizer propagates the main account's order structure to the mirror
// account. Called after every successful main-account cycle.
type Synchronizer interface {
	Sync(ctx context.Context, main *domain.MonitorState, mainPos domain.Position) error
}

// Monitor reconciles one position against exchange truth. Cycles run strictly
// sequentially; a ticker or an execution-stream nudge triggers the next one.
type Monitor struct {
	gateway domain.ExchangeGateway
	alerts  domain.AlertDispatcher
	events  domain.EventStore
	closed  domain.ClosedPositionStore
	sync    Synchronizer
	logger  *slog.Logger
	cfg     Config

	// passive monitors track lifecycle without placing or cancelling orders.
	// Mirror-account monitors run passive: the Synchronizer owns mirror
	// orders.
	passive bool

	mu    sync.Mutex // serializes cycles and guards state
	state *domain.MonitorState

	// snap is the state as of the last completed cycle. Snapshot reads it so
	// persistence never waits on an in-flight exchange call.
	snapMu sync.Mutex
	snap   domain.MonitorState

	failures        int
	degradedAlerted bool
	zeroReads       int
	unprotected     bool

	nudgeCh  chan struct{}
	onClosed func(key domain.MonitorKey)
	persist  func(ctx context.Context)
}

// New creates a Monitor around an already populated state record.
func New(state *domain.MonitorState, gateway domain.ExchangeGateway, alerts domain.AlertDispatcher, events domain.EventStore, closed domain.ClosedPositionStore, sync Synchronizer, cfg Config, logger *slog.Logger) *Monitor {
	return &Monitor{
		gateway: gateway,
		alerts:  alerts,
		events:  events,
		closed:  closed,
		sync:    sync,
		logger: logger.With(
			slog.String("component", "monitor"),
			slog.String("monitor", state.Key.String()),
		),
		cfg:     cfg,
		passive: state.Key.Account == domain.AccountMirror,
		state:   state,
		snap:    state.Clone(),
		nudgeCh: make(chan struct{}, 1),
	}
}

// Key returns the monitor's composite identity.
func (m *Monitor) Key() domain.MonitorKey {
	return m.state.Key
}

// Snapshot returns a deep copy of the state as of the last completed cycle.
// It never blocks behind an in-flight cycle, so a stalled exchange call on
// one monitor cannot hold up snapshotting the rest.
func (m *Monitor) Snapshot() domain.MonitorState {
	m.snapMu.Lock()
	defer m.snapMu.Unlock()
	return m.snap.Clone()
}

// publishSnapshot copies the state into the slot Snapshot reads. Called with
// m.mu held.
func (m *Monitor) publishSnapshot() {
	m.snapMu.Lock()
	m.snap = m.state.Clone()
	m.snapMu.Unlock()
}

// Nudge requests an immediate cycle. Non-blocking; a pending nudge absorbs
// further ones.
func (m *Monitor) Nudge() {
	select {
	case m.nudgeCh <- struct{}{}:
	default:
	}
}

// Run drives the reconciliation loop until the context is cancelled or the
// position closes.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor started",
		slog.String("phase", string(m.state.Phase)),
		slog.String("approach", string(m.state.Approach)),
	)
	defer m.logger.Info("monitor stopped")

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		done, err := m.Cycle(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-m.nudgeCh:
		}
	}
}

// Cycle runs one reconciliation pass. done is true once the position has
// closed and the monitor should retire. A returned error is fatal to the
// monitor; transient exchange failures are absorbed into the degraded
// counter instead.
func (m *Monitor) Cycle(ctx context.Context) (done bool, err error) {
	done, dirty, err := m.cycle(ctx)
	// Persistence and retirement happen outside the state lock: the registry
	// snapshots every monitor, this one included.
	if dirty && m.persist != nil {
		m.persist(ctx)
	}
	if done && m.onClosed != nil {
		m.onClosed(m.state.Key)
	}
	return done, err
}

func (m *Monitor) cycle(ctx context.Context) (done, dirty bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() {
		if dirty || done {
			m.publishSnapshot()
		}
	}()

	key := m.state.Key

	pos, ok, ferr := m.gateway.GetPosition(ctx, key.Symbol)
	var orders []domain.Order
	if ferr == nil {
		orders, ferr = m.gateway.GetOpenOrders(ctx, key.Symbol)
	}
	if ferr != nil {
		if ctx.Err() != nil {
			return false, false, ctx.Err()
		}
		m.recordFailure(ctx, ferr)
		return false, false, nil
	}
	m.recordSuccess()

	// A missing position or a side flip means this position no longer
	// exists. Require consecutive confirmations before closing out so one
	// anomalous snapshot cannot retire a live monitor.
	if !ok || pos.Size.Sign() == 0 || pos.Side != key.Side {
		m.zeroReads++
		if m.zeroReads >= m.cfg.CloseDebounce {
			m.closeOut(ctx, orders)
			return true, false, nil
		}
		m.logger.Debug("position not found, awaiting confirmation",
			slog.Int("consecutive", m.zeroReads),
		)
		return false, false, nil
	}
	m.zeroReads = 0

	cls := reconcile.Classify(pos, orders)

	m.syncFromExchange(pos, cls)
	m.advanceLifecycle(ctx, cls)

	// A monitor adopted without a live stop has no price to place one at, so
	// it runs unprotected until the operator intervenes. Say so, once.
	if m.state.StopLoss == nil && m.state.RemainingSize.Sign() > 0 {
		if !m.unprotected {
			m.unprotected = true
			m.logger.Warn("no stop loss on record, position is unprotected")
		}
	} else {
		m.unprotected = false
	}

	if !m.passive {
		m.rebalance(ctx, pos, cls)
	}

	if m.sync != nil && key.Account == domain.AccountMain {
		if serr := m.sync.Sync(ctx, m.state, pos); serr != nil {
			m.logger.Warn("mirror sync failed", slog.String("error", serr.Error()))
		} else {
			m.journal(ctx, domain.EventMirrorSynced, nil)
		}
	}

	m.state.UpdatedAt = time.Now().UTC()
	return false, true, nil
}

func (m *Monitor) recordFailure(ctx context.Context, err error) {
	m.failures++
	m.logger.Warn("cycle skipped, exchange fetch failed",
		slog.Int("consecutive_failures", m.failures),
		slog.String("error", err.Error()),
	)
	if m.failures >= m.cfg.FailureThreshold && !m.degradedAlerted {
		m.degradedAlerted = true
		m.notify(ctx, domain.AlertReconciliationDegraded, map[string]string{
			"consecutive_failures": fmt.Sprintf("%d", m.failures),
			"error":                err.Error(),
		})
		m.journal(ctx, domain.EventDegraded, map[string]string{"error": err.Error()})
	}
}

func (m *Monitor) recordSuccess() {
	if m.failures > 0 {
		m.logger.Info("exchange fetch recovered", slog.Int("failed_cycles", m.failures))
	}
	m.failures = 0
	m.degradedAlerted = false
}

// syncFromExchange reconciles the recorded ladder and stop against the live
// order set. The exchange is authoritative: rungs whose orders vanished
// alongside a matching size reduction are marked filled, rungs whose orders
// vanished without one are re-placed, and live reduce orders the record does
// not know are adopted.
func (m *Monitor) syncFromExchange(pos domain.Position, cls reconcile.Classification) {
	s := m.state
	step := s.StepSize

	live := make(map[string]domain.Order, len(cls.TakeProfits))
	for _, o := range cls.TakeProfits {
		live[o.ID] = o
	}

	// Size shrinkage since the last cycle is the budget for attributing
	// vanished rungs to fills.
	shrink := s.RemainingSize.Sub(pos.Size)

	for _, tp := range s.Ladder() {
		if tp.Filled {
			continue
		}
		if o, ok := live[tp.OrderID]; ok {
			tp.Quantity = o.Quantity
			tp.Price = o.EffectivePrice()
			delete(live, tp.OrderID)
			continue
		}

		// Order gone. A matching size drop means it filled; otherwise the
		// exchange dropped it. Restoration happens in rebalance so the
		// placement runs under the stop-order ceiling.
		if shrink.GreaterThanOrEqual(tp.Quantity.Sub(step)) {
			tp.Filled = true
			shrink = shrink.Sub(tp.Quantity)
			m.logger.Info("take profit filled",
				slog.Int("rank", tp.Rank),
				slog.String("quantity", tp.Quantity.String()),
				slog.String("price", tp.Price.String()),
			)
			continue
		}
		if m.passive {
			// The synchronizer owns mirror orders; a vanished rung here is
			// simply forgotten and re-adopted once replaced.
			delete(s.TakeProfits, tp.OrderID)
			continue
		}
		m.logger.Warn("take profit order no longer live",
			slog.Int("rank", tp.Rank),
			slog.String("order_id", tp.OrderID),
		)
		tp.OrderID = ""
	}

	// Adopt live take-profits the record does not know about.
	for id, o := range live {
		rank := m.nextFreeRank()
		s.TakeProfits[id] = &domain.TakeProfit{
			OrderID:  id,
			Price:    o.EffectivePrice(),
			Quantity: o.Quantity,
			Rank:     rank,
		}
		m.logger.Info("adopted unmanaged take profit",
			slog.String("order_id", id),
			slog.Int("rank", rank),
		)
	}

	m.syncStopLoss(cls)
	m.syncEntryLimits(cls)

	s.RemainingSize = pos.Size
	if pos.Size.GreaterThan(s.PositionSize) {
		s.PositionSize = pos.Size
	}
	if s.EntryPrice.IsZero() {
		s.EntryPrice = pos.EntryPrice
	}
}

func (m *Monitor) syncStopLoss(cls reconcile.Classification) {
	s := m.state

	if len(cls.StopLosses) == 0 {
		// A vanished stop is restored by rebalance, which knows the target
		// price; here the record just reflects absence.
		if s.StopLoss != nil {
			m.logger.Warn("stop loss order no longer live",
				slog.String("order_id", s.StopLoss.OrderID),
			)
			s.StopLoss.OrderID = ""
		}
		return
	}

	// Newest live stop is authoritative; duplicates are handled by rebalance.
	newest := cls.StopLosses[0]
	for _, o := range cls.StopLosses[1:] {
		if o.CreatedAt.After(newest.CreatedAt) {
			newest = o
		}
	}
	s.StopLoss = &domain.StopLoss{
		OrderID:  newest.ID,
		Price:    newest.EffectivePrice(),
		Quantity: newest.Quantity,
	}
}

func (m *Monitor) syncEntryLimits(cls reconcile.Classification) {
	s := m.state
	s.EntryLimits = s.EntryLimits[:0]
	for _, o := range cls.EntryLimits {
		s.EntryLimits = append(s.EntryLimits, domain.EntryLimit{
			OrderID:  o.ID,
			Price:    o.EffectivePrice(),
			Quantity: o.Quantity,
		})
	}
}

func (m *Monitor) nextFreeRank() int {
	used := make(map[int]bool, len(m.state.TakeProfits))
	for _, tp := range m.state.TakeProfits {
		used[tp.Rank] = true
	}
	for r := 1; ; r++ {
		if !used[r] {
			return r
		}
	}
}

// advanceLifecycle handles the one-shot transition through first_target_hit.
func (m *Monitor) advanceLifecycle(ctx context.Context, cls reconcile.Classification) {
	s := m.state
	if s.Phase != domain.PhaseBuilding {
		return
	}
	first := s.TakeProfitByRank(1)
	if first == nil || !first.Filled {
		return
	}

	s.Phase = domain.PhaseFirstTargetHit
	s.FirstTargetHit = true

	if !m.passive {
		m.cancelEntryLimits(ctx, cls)
		m.moveStopToBreakeven(ctx)
	} else {
		s.EntryLimitsCancelled = true
		s.StopAtBreakeven = true
	}

	m.notify(ctx, domain.AlertFirstTargetHit, map[string]string{
		"price":    first.Price.String(),
		"quantity": first.Quantity.String(),
	})
	m.journal(ctx, domain.EventFirstTargetHit, map[string]string{
		"price": first.Price.String(),
	})

	// first_target_hit is transient: the side effects above run once and the
	// phase settles into profit_taking within the same cycle.
	s.Phase = domain.PhaseProfitTaking
	m.logger.Info("first target hit, profit taking",
		slog.String("price", first.Price.String()),
	)
}

func (m *Monitor) cancelEntryLimits(ctx context.Context, cls reconcile.Classification) {
	s := m.state
	for _, o := range cls.EntryLimits {
		if err := m.gateway.CancelOrder(ctx, s.Key.Symbol, o.ID); err != nil {
			m.logger.Warn("failed to cancel entry limit",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
	}
	s.EntryLimits = nil
	s.EntryLimitsCancelled = true
}

func (m *Monitor) moveStopToBreakeven(ctx context.Context) {
	s := m.state

	if s.StopLoss != nil && s.StopLoss.OrderID != "" {
		if err := m.gateway.CancelOrder(ctx, s.Key.Symbol, s.StopLoss.OrderID); err != nil {
			m.logger.Warn("failed to cancel stop loss for breakeven move",
				slog.String("order_id", s.StopLoss.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}

	qty := reconcile.StopQuantity(s.RemainingSize, s.StepSize)
	id, err := m.placeStopLoss(ctx, s.EntryPrice, qty)
	if err != nil {
		// The old stop may already be cancelled; rebalance retries next
		// cycle because StopAtBreakeven is set before the placement.
		m.logger.Error("failed to place breakeven stop",
			slog.String("error", err.Error()),
		)
		s.StopAtBreakeven = true
		if s.StopLoss != nil {
			s.StopLoss.OrderID = ""
		}
		return
	}

	s.StopLoss = &domain.StopLoss{OrderID: id, Price: s.EntryPrice, Quantity: qty}
	s.StopAtBreakeven = true

	m.notify(ctx, domain.AlertStopMovedToBreakeven, map[string]string{
		"price": s.EntryPrice.String(),
	})
	m.journal(ctx, domain.EventStopToBreakeven, map[string]string{
		"price": s.EntryPrice.String(),
	})
}

// rebalance brings live order quantities in line with the target allocation,
// evicting under the stop-order ceiling where needed.
func (m *Monitor) rebalance(ctx context.Context, pos domain.Position, cls reconcile.Classification) {
	s := m.state

	// The allocation base is the size the ladder was built against: what is
	// left plus what already exited through filled rungs. Splitting only the
	// remainder would shrink the surviving rungs every time one fills.
	filledQty := decimal.Zero
	filledRanks := make(map[int]bool, len(s.TakeProfits))
	for _, tp := range s.TakeProfits {
		if tp.Filled {
			filledQty = filledQty.Add(tp.Quantity)
			filledRanks[tp.Rank] = true
		}
	}
	base := s.RemainingSize.Add(filledQty)

	targets, err := reconcile.Allocations(s.Approach, base, s.StepSize)
	if err != nil {
		m.logger.Error("allocation failed", slog.String("error", err.Error()))
		return
	}
	// An external reduction (partial stop fill, manual close) shrinks the
	// position without a rung fill. Cap the unfilled targets so the active
	// ladder never covers more than what is actually left.
	targets = reconcile.CapAllocations(targets, filledRanks, s.RemainingSize, s.StepSize)
	adjustments := reconcile.DiffLadder(targets, s.Ladder(), s.StepSize)
	adjustedRanks := make(map[int]bool, len(adjustments))
	for _, adj := range adjustments {
		adjustedRanks[adj.Rank] = true
	}

	// Vanished rungs flagged by the ladder sync are restored at their
	// recorded price, unless a resize already replaces that rank.
	var restores []string
	for key, tp := range s.TakeProfits {
		if !tp.Filled && tp.OrderID == "" && !adjustedRanks[tp.Rank] {
			restores = append(restores, key)
		}
	}

	// Resolve duplicate protective stops before counting slots.
	keepStop := ""
	if s.StopLoss != nil {
		keepStop = s.StopLoss.OrderID
	}
	var dupCancels []string
	if len(cls.StopLosses) > 1 {
		for _, o := range cls.StopLosses {
			if o.ID != keepStop {
				dupCancels = append(dupCancels, o.ID)
			}
		}
	}

	cancelSet := make(map[string]bool, len(adjustments)+len(dupCancels))
	for _, adj := range adjustments {
		if adj.CancelOrderID != "" {
			cancelSet[adj.CancelOrderID] = true
		}
	}
	for _, id := range dupCancels {
		cancelSet[id] = true
	}

	pending := len(restores)
	for _, adj := range adjustments {
		if adj.Quantity.Sign() > 0 {
			pending++
		}
	}
	needStop := s.StopLoss != nil && s.StopLoss.OrderID == "" && s.RemainingSize.Sign() > 0
	if needStop {
		pending++
	}

	var refs []reconcile.StopOrderRef
	for _, o := range cls.TakeProfits {
		if o.Conditional() && !cancelSet[o.ID] {
			refs = append(refs, reconcile.StopOrderRef{OrderID: o.ID, CreatedAt: o.CreatedAt})
		}
	}
	for _, o := range cls.StopLosses {
		if o.Conditional() && !cancelSet[o.ID] {
			refs = append(refs, reconcile.StopOrderRef{OrderID: o.ID, IsStopLoss: true, CreatedAt: o.CreatedAt})
		}
	}

	evictions, err := reconcile.GovernEvictions(refs, m.cfg.StopOrderCeiling, pending)
	if err != nil {
		m.logger.Warn("placement blocked by stop order ceiling",
			slog.Int("active", len(refs)),
			slog.Int("pending", pending),
		)
		m.notify(ctx, domain.AlertOrderLimitBlocked, map[string]string{
			"active":  fmt.Sprintf("%d", len(refs)),
			"pending": fmt.Sprintf("%d", pending),
			"ceiling": fmt.Sprintf("%d", m.cfg.StopOrderCeiling),
		})
		return
	}

	for _, id := range append(dupCancels, evictions...) {
		if err := m.gateway.CancelOrder(ctx, s.Key.Symbol, id); err != nil {
			m.logger.Warn("cancel failed",
				slog.String("order_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
	}
	for _, id := range evictions {
		m.dropRung(id)
		m.journal(ctx, domain.EventOrderEvicted, map[string]string{"order_id": id})
		m.logger.Info("evicted take profit for ceiling headroom", slog.String("order_id", id))
	}

	for _, adj := range adjustments {
		if adj.CancelOrderID != "" {
			if err := m.gateway.CancelOrder(ctx, s.Key.Symbol, adj.CancelOrderID); err != nil {
				m.logger.Warn("cancel failed",
					slog.String("order_id", adj.CancelOrderID),
					slog.String("error", err.Error()),
				)
				continue
			}
			m.dropRung(adj.CancelOrderID)
		}
		if adj.Quantity.Sign() == 0 {
			continue
		}
		id, err := m.placeTakeProfit(ctx, adj.Price, adj.Quantity)
		if err != nil {
			m.logger.Warn("take profit placement failed",
				slog.Int("rank", adj.Rank),
				slog.String("error", err.Error()),
			)
			continue
		}
		m.dropRank(adj.Rank)
		s.TakeProfits[id] = &domain.TakeProfit{
			OrderID:  id,
			Price:    adj.Price,
			Quantity: adj.Quantity,
			Rank:     adj.Rank,
		}
		m.logger.Info("take profit resized",
			slog.Int("rank", adj.Rank),
			slog.String("quantity", adj.Quantity.String()),
		)
	}

	for _, key := range restores {
		tp := s.TakeProfits[key]
		id, err := m.placeTakeProfit(ctx, tp.Price, tp.Quantity)
		if err != nil {
			m.logger.Warn("take profit restore failed",
				slog.Int("rank", tp.Rank),
				slog.String("error", err.Error()),
			)
			continue
		}
		delete(s.TakeProfits, key)
		tp.OrderID = id
		s.TakeProfits[id] = tp
		m.logger.Info("restored vanished take profit", slog.Int("rank", tp.Rank))
	}

	if needStop {
		price := s.StopLoss.Price
		if s.StopAtBreakeven {
			price = s.EntryPrice
		}
		qty := reconcile.StopQuantity(s.RemainingSize, s.StepSize)
		id, err := m.placeStopLoss(ctx, price, qty)
		if err != nil {
			m.logger.Error("stop loss restore failed", slog.String("error", err.Error()))
		} else {
			s.StopLoss = &domain.StopLoss{OrderID: id, Price: price, Quantity: qty}
			m.logger.Info("restored stop loss", slog.String("price", price.String()))
		}
	} else if s.StopLoss != nil && s.StopLoss.OrderID != "" && s.RemainingSize.Sign() > 0 {
		m.resizeStopLoss(ctx)
	}
}

// resizeStopLoss keeps the protective stop covering the full remaining size
// as rungs fill. Conditional orders cannot be amended, so drift beyond one
// step is corrected by cancel-and-replace.
func (m *Monitor) resizeStopLoss(ctx context.Context) {
	s := m.state
	qty := reconcile.StopQuantity(s.RemainingSize, s.StepSize)
	if qty.Sign() <= 0 || !reconcile.NeedsReplace(s.StopLoss.Quantity, qty, s.StepSize) {
		return
	}
	price := s.StopLoss.Price
	if s.StopAtBreakeven {
		price = s.EntryPrice
	}
	if err := m.gateway.CancelOrder(ctx, s.Key.Symbol, s.StopLoss.OrderID); err != nil {
		m.logger.Warn("failed to cancel stop loss for resize",
			slog.String("order_id", s.StopLoss.OrderID),
			slog.String("error", err.Error()),
		)
		return
	}
	id, err := m.placeStopLoss(ctx, price, qty)
	if err != nil {
		// The old stop is already gone; the restore path re-places one next
		// cycle.
		m.logger.Error("stop loss resize failed", slog.String("error", err.Error()))
		s.StopLoss.OrderID = ""
		return
	}
	s.StopLoss = &domain.StopLoss{OrderID: id, Price: price, Quantity: qty}
	m.logger.Info("stop loss resized",
		slog.String("quantity", qty.String()),
		slog.String("price", price.String()),
	)
}

func (m *Monitor) dropRung(orderID string) {
	delete(m.state.TakeProfits, orderID)
}

// dropRank removes every rung at the given rank, including vanished entries
// still keyed by a dead order ID.
func (m *Monitor) dropRank(rank int) {
	for key, tp := range m.state.TakeProfits {
		if tp.Rank == rank && !tp.Filled {
			delete(m.state.TakeProfits, key)
		}
	}
}

func (m *Monitor) placeTakeProfit(ctx context.Context, price, qty decimal.Decimal) (string, error) {
	s := m.state
	return m.gateway.PlaceOrder(ctx, domain.PlaceOrderRequest{
		Symbol:        s.Key.Symbol,
		Side:          s.Key.Side.CloseOrderSide(),
		Type:          domain.OrderTypeStopMarket,
		Quantity:      qty,
		TriggerPrice:  price,
		ReduceOnly:    true,
		ClientOrderID: uuid.NewString(),
	})
}

func (m *Monitor) placeStopLoss(ctx context.Context, price, qty decimal.Decimal) (string, error) {
	s := m.state
	return m.gateway.PlaceOrder(ctx, domain.PlaceOrderRequest{
		Symbol:        s.Key.Symbol,
		Side:          s.Key.Side.CloseOrderSide(),
		Type:          domain.OrderTypeStopMarket,
		Quantity:      qty,
		TriggerPrice:  price,
		ReduceOnly:    true,
		ClientOrderID: uuid.NewString(),
	})
}

// closeOut retires the monitor: dangling reduce orders and the record's own
// resting entry limits are cancelled, the realized accounting record is
// written and the registry is told to drop the key. Entry limits must not
// survive a close: a stop-out during building would otherwise leave them to
// silently rebuild the position with no monitor and no stop.
func (m *Monitor) closeOut(ctx context.Context, orders []domain.Order) {
	s := m.state

	entryLimits := make(map[string]bool, len(s.EntryLimits))
	for _, el := range s.EntryLimits {
		entryLimits[el.OrderID] = true
	}

	slGone := s.StopLoss != nil
	for _, o := range orders {
		if o.Terminal() {
			continue
		}
		if !o.ReduceOnly && !entryLimits[o.ID] {
			continue
		}
		if s.StopLoss != nil && o.ID == s.StopLoss.OrderID {
			slGone = false
		}
		if err := m.gateway.CancelOrder(ctx, s.Key.Symbol, o.ID); err != nil {
			m.logger.Warn("failed to cancel dangling reduce order",
				slog.String("order_id", o.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	filled := s.FilledTakeProfitCount()
	stoppedOut := slGone && filled < len(s.TakeProfits)

	s.Phase = domain.PhaseClosed
	s.RemainingSize = decimal.Zero
	now := time.Now().UTC()
	s.UpdatedAt = now

	if m.closed != nil {
		rec := domain.ClosedPosition{
			ID:                uuid.NewString(),
			Symbol:            s.Key.Symbol,
			Side:              s.Key.Side,
			Account:           s.Key.Account,
			Approach:          s.Approach,
			EntryPrice:        s.EntryPrice.String(),
			PositionSize:      s.PositionSize.String(),
			FilledTakeProfits: filled,
			StoppedOut:        stoppedOut,
			OpenedAt:          s.OpenedAt,
			ClosedAt:          now,
		}
		if err := m.closed.Create(ctx, rec); err != nil {
			m.logger.Warn("failed to record closed position", slog.String("error", err.Error()))
		}
	}

	m.notify(ctx, domain.AlertPositionClosed, map[string]string{
		"filled_take_profits": fmt.Sprintf("%d", filled),
		"stopped_out":         fmt.Sprintf("%t", stoppedOut),
		"position_size":       s.PositionSize.String(),
	})
	m.journal(ctx, domain.EventPositionClosed, map[string]string{
		"filled_take_profits": fmt.Sprintf("%d", filled),
		"stopped_out":         fmt.Sprintf("%t", stoppedOut),
	})

	m.logger.Info("position closed",
		slog.Int("filled_take_profits", filled),
		slog.Bool("stopped_out", stoppedOut),
	)
}

func (m *Monitor) notify(ctx context.Context, kind domain.AlertKind, details map[string]string) {
	if m.alerts == nil {
		return
	}
	m.alerts.Notify(ctx, domain.AlertEvent{
		Kind:      kind,
		Symbol:    m.state.Key.Symbol,
		Side:      m.state.Key.Side,
		Account:   m.state.Key.Account,
		Recipient: m.state.NotifyTarget,
		Details:   details,
		At:        time.Now().UTC(),
	})
}

func (m *Monitor) journal(ctx context.Context, kind string, details map[string]string) {
	if m.events == nil {
		return
	}
	ev := domain.LifecycleEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		Symbol:    m.state.Key.Symbol,
		Side:      m.state.Key.Side,
		Account:   m.state.Key.Account,
		Phase:     m.state.Phase,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.events.Record(ctx, ev); err != nil {
		m.logger.Warn("journal write failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
}
