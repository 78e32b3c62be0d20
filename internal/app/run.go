package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/poolbet/poolbet/internal/crypto"
	"github.com/poolbet/poolbet/internal/pricefeed"
	"github.com/poolbet/poolbet/internal/scheduler"
	"github.com/poolbet/poolbet/internal/server"
	"github.com/poolbet/poolbet/internal/server/handler"
	"github.com/poolbet/poolbet/internal/server/ws"
	"github.com/poolbet/poolbet/internal/service"
)

// simStartPrice is the starting fixed-point price for every simulated asset,
// 100.0000 at the standard four-decimal scale.
const simStartPrice int64 = 1_000_000

// shutdownTimeout bounds graceful HTTP server shutdown.
const shutdownTimeout = 10 * time.Second

// run builds the service layer on top of the wired dependencies and starts
// every long-running component: price feed, round scheduler, WebSocket hub,
// HTTP server, and the optional archive loop. It blocks until the context is
// cancelled or a component fails.
func (a *App) run(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	// Price feed: one source pumping into the cache and the signal bus, one
	// staleness-aware reader serving the settlement path.
	source, err := a.buildFeedSource()
	if err != nil {
		return err
	}
	feed := pricefeed.NewFeed(source, deps.PriceCache, deps.SignalBus, a.logger)
	g.Go(func() error {
		return feed.Run(ctx)
	})
	prices := pricefeed.NewReader(deps.PriceCache, a.cfg.Feed.StaleAfter.Duration)

	// Services.
	settlementSvc := service.NewSettlementService(
		deps.SettlementStore,
		deps.LockManager,
		prices,
		deps.SignalBus,
		deps.AuditStore,
		deps.Notifier,
		service.SettlementConfig{
			RoundFeeBps: a.cfg.Rounds.FeeBps,
			EpsilonBps:  a.cfg.Rounds.EpsilonBps,
		},
		a.logger,
	)
	marketSvc := service.NewMarketService(
		deps.MarketStore, deps.StakeStore, deps.ResolutionStore,
		deps.SignalBus, deps.AuditStore, a.logger,
	)
	stakeSvc := service.NewStakeService(
		deps.StakeStore, deps.MarketStore, deps.SettlementStore,
		deps.RateLimiter, deps.SignalBus, deps.AuditStore,
		service.StakeConfig{
			MinStake:      a.cfg.Stakes.MinStake,
			MaxStake:      a.cfg.Stakes.MaxStake,
			PenaltyBps:    a.cfg.Stakes.PenaltyBps,
			CashoutFeeBps: a.cfg.Stakes.CashoutFeeBps,
			RatePerMinute: a.cfg.Stakes.RatePerMinute,
		},
		a.logger,
	)
	roundCfg := service.RoundConfig{
		Assets:        a.cfg.Rounds.Assets,
		Duration:      a.cfg.Rounds.Duration.Duration,
		LockWindow:    a.cfg.Rounds.LockWindow.Duration,
		RatePerMinute: a.cfg.Rounds.RatePerMinute,
	}
	if err := roundCfg.Validate(); err != nil {
		return fmt.Errorf("app: round config: %w", err)
	}
	roundSvc := service.NewRoundService(
		deps.RoundStore, settlementSvc, prices,
		deps.RateLimiter, deps.SignalBus, roundCfg, a.logger,
	)
	accountSvc := service.NewAccountService(deps.LedgerStore, deps.AuditStore, a.logger)

	// Round lifecycle driver: locks, resolves, and rolls over rounds.
	sched := scheduler.New(roundSvc, a.cfg.Rounds.TickInterval.Duration, a.logger)
	g.Go(func() error {
		return sched.Run(ctx)
	})

	// WebSocket hub.
	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	// HTTP server.
	apiKey, err := crypto.LoadAPIKey(crypto.SecretConfig{
		RawKey:           a.cfg.Server.APIKey,
		EncryptedKeyPath: a.cfg.Server.EncryptedKeyPath,
		Password:         a.cfg.Server.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("app: load api key: %w", err)
	}
	if apiKey == "" {
		a.logger.WarnContext(ctx, "no API key configured; authentication is disabled")
	}

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      apiKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
			RateLimiter: deps.RateLimiter,
		},
		server.Handlers{
			Health:   handler.NewHealthHandler(a.logger),
			Markets:  handler.NewMarketHandler(marketSvc, settlementSvc, a.logger),
			Stakes:   handler.NewStakeHandler(stakeSvc, a.logger),
			Rounds:   handler.NewRoundHandler(roundSvc, deps.ResolutionStore, a.logger),
			Accounts: handler.NewAccountHandler(accountSvc, a.logger),
		},
		hub,
		a.logger,
	)
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Archive loop.
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return a.archiveLoop(ctx, deps)
		})
	}

	err = g.Wait()
	if ctx.Err() != nil {
		// Cancellation is a clean shutdown, not a failure.
		return nil
	}
	return err
}

// buildFeedSource selects the configured price feed implementation.
func (a *App) buildFeedSource() (pricefeed.Source, error) {
	switch a.cfg.Feed.Source {
	case "ws":
		return pricefeed.NewWSSource(a.cfg.Feed.WSURL, a.cfg.Feed.Assets, a.logger), nil
	case "sim":
		assets := make(map[string]int64, len(a.cfg.Feed.Assets))
		for _, asset := range a.cfg.Feed.Assets {
			assets[asset] = simStartPrice
		}
		return pricefeed.NewSimSource(assets, time.Second, 0, a.logger), nil
	default:
		return nil, fmt.Errorf("app: unsupported feed source %q", a.cfg.Feed.Source)
	}
}

// archiveLoop periodically exports settlement history older than the
// retention window to blob storage.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			a.runArchive(ctx, deps, cutoff)
		}
	}
}

// runArchive executes one archival pass. Failures are logged, not fatal: the
// next tick retries with a fresh cutoff.
func (a *App) runArchive(ctx context.Context, deps *Dependencies, cutoff time.Time) {
	type job struct {
		name string
		run  func(context.Context, time.Time) (int64, error)
	}
	jobs := []job{
		{"resolutions", deps.Archiver.ArchiveResolutions},
		{"ledger", deps.Archiver.ArchiveLedger},
		{"rounds", deps.Archiver.ArchiveRounds},
	}

	for _, j := range jobs {
		count, err := j.run(ctx, cutoff)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive pass failed",
				slog.String("kind", j.name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if count > 0 {
			a.logger.InfoContext(ctx, "archived settlement history",
				slog.String("kind", j.name),
				slog.Int64("count", count),
				slog.Time("cutoff", cutoff),
			)
		}
	}
}
