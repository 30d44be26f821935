package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"tpguard/internal/domain"
	"tpguard/internal/monitor"
	"tpguard/internal/platform/bybit"
)

// leaderLockKey guards against two processes reconciling the same accounts.
const leaderLockKey = "tpguard:leader"

// RunMode acquires the leader lock and reconciles with live order placement.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting run mode")

	unlock, err := deps.LockManager.Acquire(ctx, leaderLockKey, a.cfg.Monitor.LockTTL.Duration)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.ErrorContext(ctx, "another instance holds the leader lock, refusing to start")
		}
		return err
	}
	defer unlock()

	return a.runReconciler(ctx, deps, deps.Gateways)
}

// ObserveMode reconciles with the same wiring as RunMode, but every gateway
// is wrapped in a read-only decorator that logs intended placements and
// cancels instead of executing them. No leader lock is taken: an observer
// never competes with the live reconciler.
func (a *App) ObserveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting observe mode, orders will not be placed")

	gateways := make(map[domain.Account]domain.ExchangeGateway, len(deps.Gateways))
	for account, gw := range deps.Gateways {
		gateways[account] = newDryRunGateway(gw, account, a.logger)
	}
	return a.runReconciler(ctx, deps, gateways)
}

// runReconciler builds the registry and supervises it together with the
// execution streams and the archive loop until the context is cancelled.
func (a *App) runReconciler(ctx context.Context, deps *Dependencies, gateways map[domain.Account]domain.ExchangeGateway) error {
	var syncer monitor.Synchronizer
	if mirrorGw, ok := gateways[domain.AccountMirror]; ok {
		syncer = monitor.NewMirror(mirrorGw, a.logger)
	}

	registry := monitor.NewRegistry(
		gateways,
		deps.MonitorStore,
		deps.Notifier,
		deps.EventStore,
		deps.ClosedStore,
		syncer,
		monitor.RegistryConfig{
			Monitor: monitor.Config{
				PollInterval:     a.cfg.Monitor.PollInterval.Duration,
				FailureThreshold: a.cfg.Monitor.FailureThreshold,
				StopOrderCeiling: a.cfg.Monitor.StopOrderCeiling,
				CloseDebounce:    a.cfg.Monitor.CloseDebounce,
			},
			DiscoveryInterval: a.cfg.Monitor.DiscoveryInterval.Duration,
			MirrorEnabled:     a.cfg.Exchange.MirrorEnabled,
		},
		a.logger,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return registry.Run(gctx)
	})

	// Execution streams accelerate the next cycle after a fill. They are
	// optional: correctness rests on polling.
	if a.cfg.Exchange.WsURL != "" {
		a.startStream(gctx, g, registry, domain.AccountMain, a.cfg.Exchange.Main.ApiKey, a.cfg.Exchange.Main.ApiSecret)
		if a.cfg.Exchange.MirrorEnabled {
			a.startStream(gctx, g, registry, domain.AccountMirror, a.cfg.Exchange.Mirror.ApiKey, a.cfg.Exchange.Mirror.ApiSecret)
		}
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(gctx, deps)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) startStream(ctx context.Context, g *errgroup.Group, registry *monitor.Registry, account domain.Account, apiKey, apiSecret string) {
	stream := bybit.NewStream(a.cfg.Exchange.WsURL, apiKey, apiSecret, func(symbol string) {
		registry.Nudge(symbol, account)
	}, a.logger)
	g.Go(func() error {
		return stream.Run(ctx)
	})
}

// runArchiveLoop periodically exports journal rows older than the retention
// window to blob storage, then deletes them. Deletion only happens after the
// upload succeeded.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	logger := a.logger.With(slog.String("component", "archive_loop"))
	ticker := time.NewTicker(a.cfg.S3.ArchiveInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -a.cfg.S3.RetentionDays)
			a.archiveOnce(ctx, deps, cutoff, logger)
		}
	}
}

func (a *App) archiveOnce(ctx context.Context, deps *Dependencies, cutoff time.Time, logger *slog.Logger) {
	if n, err := deps.Archiver.ArchiveEvents(ctx, cutoff); err != nil {
		logger.ErrorContext(ctx, "archive events failed", slog.String("error", err.Error()))
	} else if n > 0 {
		if _, err := deps.EventStore.DeleteBefore(ctx, cutoff); err != nil {
			logger.ErrorContext(ctx, "delete archived events failed", slog.String("error", err.Error()))
		}
		logger.InfoContext(ctx, "archived lifecycle events", slog.Int64("rows", n))
	}

	if n, err := deps.Archiver.ArchiveClosedPositions(ctx, cutoff); err != nil {
		logger.ErrorContext(ctx, "archive closed positions failed", slog.String("error", err.Error()))
	} else if n > 0 {
		if _, err := deps.ClosedStore.DeleteBefore(ctx, cutoff); err != nil {
			logger.ErrorContext(ctx, "delete archived closed positions failed", slog.String("error", err.Error()))
		}
		logger.InfoContext(ctx, "archived closed positions", slog.Int64("rows", n))
	}
}
