package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"chorus/internal/config"
	"chorus/internal/engine"
	"chorus/internal/ledger"
	"chorus/internal/logger"
	"chorus/internal/regime"
	"chorus/internal/scheduler"
	"chorus/internal/store/gormstore"
	"chorus/internal/store/journal"
	statushttp "chorus/internal/transport/http"
)

// App owns application-level orchestration: load config, build dependencies,
// run the aligned evaluation loop and the status server.
type App struct {
	cfg        *config.Config
	engine     *engine.Engine
	ledger     *ledger.Ledger
	store      *gormstore.GormStore
	journal    *journal.Journal
	profiles   *regime.ProfileStore
	httpServer *statushttp.Server

	interval       time.Duration
	offset         time.Duration
	runImmediately bool
}

// NewApp builds the application from config without starting it.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Engine exposes the evaluation pipeline (for test and replay harnesses).
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

// Run starts the status server and the candle-aligned evaluation loop,
// blocking until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	if a.httpServer != nil {
		group.Go(func() error {
			if err := a.httpServer.Start(ctx); err != nil {
				return fmt.Errorf("status http server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		defer a.Close()
		sched := scheduler.NewAlignedScheduler(ctx, a.interval, a.offset)
		sched.RunImmediately = a.runImmediately
		sched.Start(func() { a.cycle(ctx) })
		return nil
	})

	return group.Wait()
}

func (a *App) cycle(ctx context.Context) {
	start := time.Now()
	results, err := a.engine.EvaluateAll(ctx)
	if err != nil {
		logger.Errorf("evaluation cycle failed: %v", err)
		return
	}
	tradable := 0
	for _, ev := range results {
		if ev.Validation != nil && ev.Validation.ShouldEnter {
			tradable++
			logger.Infof("%s %s confidence=%.2f stop=%.6g target=%.6g rr=%.2f",
				ev.Symbol, ev.Decision.Verdict, ev.Validation.Confidence,
				ev.Validation.Targets.Stop, ev.Validation.Targets.Target,
				ev.Validation.Targets.RiskReward)
		}
	}
	logger.Infof("cycle done: %d evaluated, %d tradable, took %s",
		len(results), tradable, time.Since(start).Truncate(time.Millisecond))
}

// Close releases held resources. Safe to call more than once.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.profiles != nil {
		_ = a.profiles.Close()
	}
	if a.journal != nil {
		_ = a.journal.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
