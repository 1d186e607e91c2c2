package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/domalend/liquidator/internal/pipeline"
	"github.com/domalend/liquidator/internal/server"
	"github.com/domalend/liquidator/internal/server/handler"
	"github.com/domalend/liquidator/internal/server/ws"
	"github.com/domalend/liquidator/internal/service"
)

// FullMode runs every subsystem: event ingestion, the liquidation
// orchestrator, the scheduled cold-storage archiver, and the HTTP/WebSocket
// API server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	svc := a.buildLiquidationService(deps)
	g.Go(func() error {
		return svc.Run(ctx)
	})

	if err := a.startIngestion(ctx, g, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	a.startArchiver(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc)
	}

	return g.Wait()
}

// MonitorMode runs ingestion and the liquidation orchestrator without the
// HTTP surface. Useful when the API is served by a separate server-mode
// instance pointed at the same database.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	svc := a.buildLiquidationService(deps)
	g.Go(func() error {
		return svc.Run(ctx)
	})

	if err := a.startIngestion(ctx, g, deps); err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}

	return g.Wait()
}

// IngestMode runs only the indexer ingestion pipeline: events become pending
// tracking records but no chain calls or liquidations happen. The wallet and
// RPC endpoint are not required in this mode.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startIngestion(ctx, g, deps); err != nil {
		return fmt.Errorf("ingest mode: %w", err)
	}

	return g.Wait()
}

// ServerMode runs only the HTTP/WebSocket API on top of the shared database.
// Manual triggers still work (the liquidation service is wired to the ledger
// gateway); the scheduled orchestrator loop and ingestion do not run here.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	if !a.cfg.Server.Enabled {
		return fmt.Errorf("server mode: server.enabled must be true")
	}

	g, ctx := errgroup.WithContext(ctx)

	svc := a.buildLiquidationService(deps)
	a.startHTTPServer(ctx, g, deps, svc)

	return g.Wait()
}

// buildLiquidationService assembles the reconciliation engine from wired
// dependencies and the liquidation section of the config.
func (a *App) buildLiquidationService(deps *Dependencies) *service.LiquidationService {
	return service.NewLiquidationService(
		deps.TrackingStore,
		deps.Gateway,
		deps.LockManager,
		deps.RateLimiter,
		deps.AuditStore,
		deps.ChainStatusCache,
		deps.SignalBus,
		deps.Notifier,
		service.LiquidationConfig{
			Enabled:           a.cfg.Liquidation.Enabled,
			CheckInterval:     a.cfg.Liquidation.CheckInterval.Duration,
			BatchSize:         a.cfg.Liquidation.BatchSize,
			MaxAttempts:       a.cfg.Liquidation.MaxAttempts,
			RecordDelay:       a.cfg.Liquidation.RecordDelay.Duration,
			LockTTL:           a.cfg.Liquidation.LockTTL.Duration,
			TriggerRateLimit:  a.cfg.Liquidation.TriggerRateLimit,
			TriggerRateWindow: a.cfg.Liquidation.TriggerRateWindow.Duration,
		},
		a.logger,
	)
}

// startIngestion adds the loan scraper goroutine to the errgroup.
func (a *App) startIngestion(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Ponder == nil {
		return fmt.Errorf("ingestion requires ponder.graphql_url")
	}

	scraper := pipeline.NewLoanScraper(
		deps.Ponder,
		deps.TrackingStore,
		deps.SignalBus,
		deps.Notifier,
		a.cfg.Ingestion.PollInterval.Duration,
		a.cfg.Ingestion.PageSize,
		a.logger,
	)
	g.Go(func() error {
		return scraper.Run(ctx)
	})
	return nil
}

// startArchiver adds the cron-scheduled archive exporter when archival is
// enabled. A nil Archiver means the S3 client was not wired.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}

	arch := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	cron := a.cfg.Archive.Cron
	g.Go(func() error {
		return arch.RunCron(ctx, cron)
	})
}

// startHTTPServer adds the WebSocket hub and the HTTP server goroutines to
// the given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.LiquidationService) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:               a.cfg.Mode,
		LiquidationEnabled: a.cfg.Liquidation.Enabled,
		StartedAt:          time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	// deps.Ponder is a concrete pointer; assigning a nil pointer into the
	// interface would defeat the handler's nil check.
	var indexer handler.IndexerProber
	if deps.Ponder != nil {
		indexer = deps.Ponder
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Status: handler.NewStatusHandler(a.cfg.Mode, a.cfg.Liquidation.Enabled, deps.Gateway, indexer),
		Loans:  handler.NewLoanHandler(svc, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimiter:     deps.RateLimiter,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return err
		}
		return ctx.Err()
	})
}
