package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tpguard/internal/domain"
	"tpguard/internal/reconcile"
)

// RegistryConfig extends the per-monitor tunables with registry-level ones.
type RegistryConfig struct {
	Monitor           Config
	DiscoveryInterval time.Duration
	MirrorEnabled     bool
}

// Registry owns the monitor set. It is the only component that adds or
// removes monitors: discovery adopts unmanaged positions, restore rebuilds
// monitors from the snapshot store, and retiring monitors hand their key back
// through the close callback.
type Registry struct {
	gateways map[domain.Account]domain.ExchangeGateway
	alerts   domain.AlertDispatcher
	events   domain.EventStore
	closed   domain.ClosedPositionStore
	store    domain.MonitorStore
	syncer   Synchronizer
	cfg      RegistryConfig
	logger   *slog.Logger

	mu       sync.Mutex
	monitors map[domain.MonitorKey]*Monitor
	group    *errgroup.Group
}

// NewRegistry wires a Registry. syncer may be nil when mirroring is disabled.
func NewRegistry(gateways map[domain.Account]domain.ExchangeGateway, store domain.MonitorStore, alerts domain.AlertDispatcher, events domain.EventStore, closed domain.ClosedPositionStore, syncer Synchronizer, cfg RegistryConfig, logger *slog.Logger) *Registry {
	return &Registry{
		gateways: gateways,
		alerts:   alerts,
		events:   events,
		closed:   closed,
		store:    store,
		syncer:   syncer,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "registry")),
		monitors: make(map[domain.MonitorKey]*Monitor),
	}
}

// Run restores persisted monitors, then supervises them plus one discovery
// loop per account until the context is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	r.mu.Lock()
	r.group = g
	r.mu.Unlock()

	r.restore(gctx)

	for account := range r.gateways {
		account := account
		g.Go(func() error {
			return r.discoverLoop(gctx, account)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Nudge triggers an immediate cycle on every monitor for the symbol and
// account. Safe to call from stream handlers.
func (r *Registry) Nudge(symbol string, account domain.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, m := range r.monitors {
		if key.Symbol == symbol && key.Account == account {
			m.Nudge()
		}
	}
}

// Count returns the number of live monitors.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.monitors)
}

func (r *Registry) restore(ctx context.Context) {
	if r.store == nil {
		return
	}
	states, err := r.store.LoadMonitors(ctx)
	if err != nil {
		r.logger.Warn("failed to load persisted monitors, starting empty",
			slog.String("error", err.Error()),
		)
		return
	}
	for i := range states {
		s := states[i]
		if s.Phase == domain.PhaseClosed {
			continue
		}
		if _, ok := r.gateways[s.Key.Account]; !ok {
			r.logger.Warn("persisted monitor for unconfigured account dropped",
				slog.String("monitor", s.Key.String()),
			)
			continue
		}
		// Restored state is verified against exchange truth on the first
		// cycle; nothing is trusted blindly.
		r.startMonitor(ctx, &s, domain.EventMonitorRestored)
	}
	r.logger.Info("monitors restored", slog.Int("count", r.Count()))
}

func (r *Registry) discoverLoop(ctx context.Context, account domain.Account) error {
	ticker := time.NewTicker(r.cfg.DiscoveryInterval)
	defer ticker.Stop()

	for {
		r.discover(ctx, account)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// discover adopts open positions that no monitor manages yet.
func (r *Registry) discover(ctx context.Context, account domain.Account) {
	gw := r.gateways[account]
	positions, err := gw.GetPositions(ctx)
	if err != nil {
		r.logger.Warn("discovery fetch failed",
			slog.String("account", string(account)),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, pos := range positions {
		if pos.Size.Sign() == 0 {
			continue
		}
		key := domain.MonitorKey{Symbol: pos.Symbol, Side: pos.Side, Account: account}

		r.mu.Lock()
		_, managed := r.monitors[key]
		r.mu.Unlock()
		if managed {
			continue
		}

		state, err := r.adopt(ctx, gw, key, pos)
		if err != nil {
			r.logger.Warn("adoption failed",
				slog.String("monitor", key.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.startMonitor(ctx, state, domain.EventMonitorCreated)
		r.logger.Info("adopted position",
			slog.String("monitor", key.String()),
			slog.String("approach", string(state.Approach)),
			slog.String("size", pos.Size.String()),
		)
	}
}

// adopt builds a monitor record from a live position and its orders. The
// approach is inferred from the live ladder shape and ranks are assigned by
// descending quantity, matching the staged allocation's largest-first layout.
func (r *Registry) adopt(ctx context.Context, gw domain.ExchangeGateway, key domain.MonitorKey, pos domain.Position) (*domain.MonitorState, error) {
	orders, err := gw.GetOpenOrders(ctx, key.Symbol)
	if err != nil {
		return nil, err
	}
	inst, err := gw.GetInstrument(ctx, key.Symbol)
	if err != nil {
		return nil, err
	}

	cls := reconcile.Classify(pos, orders)

	approach := domain.ApproachSingleTarget
	if len(cls.TakeProfits) > 1 {
		approach = domain.ApproachStaged
	}

	tps := append([]domain.Order(nil), cls.TakeProfits...)
	sort.Slice(tps, func(i, j int) bool {
		return tps[i].Quantity.GreaterThan(tps[j].Quantity)
	})

	now := time.Now().UTC()
	state := &domain.MonitorState{
		Key:           key,
		Approach:      approach,
		PositionSize:  pos.Size,
		RemainingSize: pos.Size,
		EntryPrice:    pos.EntryPrice,
		StepSize:      inst.StepSize,
		Phase:         domain.PhaseBuilding,
		TakeProfits:   make(map[string]*domain.TakeProfit, len(tps)),
		OpenedAt:      now,
		UpdatedAt:     now,
	}
	for i, o := range tps {
		state.TakeProfits[o.ID] = &domain.TakeProfit{
			OrderID:  o.ID,
			Price:    o.EffectivePrice(),
			Quantity: o.Quantity,
			Rank:     i + 1,
		}
	}
	if sl, ok := cls.StopLoss(); ok {
		state.StopLoss = &domain.StopLoss{
			OrderID:  sl.ID,
			Price:    sl.EffectivePrice(),
			Quantity: sl.Quantity,
		}
	}
	for _, o := range cls.EntryLimits {
		state.EntryLimits = append(state.EntryLimits, domain.EntryLimit{
			OrderID:  o.ID,
			Price:    o.EffectivePrice(),
			Quantity: o.Quantity,
		})
	}
	return state, nil
}

func (r *Registry) startMonitor(ctx context.Context, state *domain.MonitorState, journalKind string) {
	gw := r.gateways[state.Key.Account]

	var syncer Synchronizer
	if state.Key.Account == domain.AccountMain && r.cfg.MirrorEnabled {
		syncer = r.syncer
	}

	m := New(state, gw, r.alerts, r.events, r.closed, syncer, r.cfg.Monitor, r.logger)
	m.onClosed = r.retire
	m.persist = r.saveAll

	r.mu.Lock()
	if _, exists := r.monitors[state.Key]; exists {
		r.mu.Unlock()
		return
	}
	r.monitors[state.Key] = m
	group := r.group
	r.mu.Unlock()

	r.journal(ctx, journalKind, state)
	r.saveAll(ctx)

	// group is nil when the registry is driven cycle by cycle instead of
	// supervised; the monitor then runs only when explicitly asked to.
	if group != nil {
		group.Go(func() error {
			return m.Run(ctx)
		})
	}
}

// retire removes a closed monitor from the set and rewrites the snapshot.
func (r *Registry) retire(key domain.MonitorKey) {
	r.mu.Lock()
	delete(r.monitors, key)
	r.mu.Unlock()

	r.logger.Info("monitor retired", slog.String("monitor", key.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.saveAll(ctx)
}

// saveAll rewrites the persisted snapshot from the live monitor set.
// Best-effort: a failed save is logged and trading continues on in-memory
// state.
func (r *Registry) saveAll(ctx context.Context) {
	if r.store == nil {
		return
	}
	r.mu.Lock()
	live := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		live = append(live, m)
	}
	r.mu.Unlock()

	// Snapshots are taken without the registry lock so a slow monitor cycle
	// cannot stall retirement of another.
	states := make([]domain.MonitorState, 0, len(live))
	for _, m := range live {
		states = append(states, m.Snapshot())
	}

	if err := r.store.SaveMonitors(ctx, states); err != nil {
		r.logger.Warn("snapshot save failed", slog.String("error", err.Error()))
	}
}

func (r *Registry) journal(ctx context.Context, kind string, state *domain.MonitorState) {
	if r.events == nil {
		return
	}
	ev := domain.LifecycleEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		Symbol:    state.Key.Symbol,
		Side:      state.Key.Side,
		Account:   state.Key.Account,
		Phase:     state.Phase,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.events.Record(ctx, ev); err != nil {
		r.logger.Warn("journal write failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
}
