package app

import (
	"context"
	"fmt"
	"time"

	"chorus/internal/config"
	"chorus/internal/engine"
	"chorus/internal/exclusion"
	"chorus/internal/fusion"
	"chorus/internal/gateway/binance"
	"chorus/internal/ledger"
	"chorus/internal/logger"
	"chorus/internal/market"
	"chorus/internal/regime"
	"chorus/internal/scheduler"
	"chorus/internal/signal"
	"chorus/internal/store/gormstore"
	"chorus/internal/store/journal"
	statushttp "chorus/internal/transport/http"
	"chorus/internal/validator"
)

// AppBuilder assembles the application from configuration. Build order
// matters: storage first, then the learners that load from it, then the
// pipeline that consumes them.
type AppBuilder struct {
	cfg *config.Config
}

func NewAppBuilder(cfg *config.Config) *AppBuilder {
	return &AppBuilder{cfg: cfg}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b == nil || b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	store, err := gormstore.NewGormStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}

	jnl, err := b.buildJournal(store)
	if err != nil {
		store.Close()
		return nil, err
	}

	led := ledger.New(cfg.Ledger, store)
	if err := led.Load(ctx); err != nil {
		store.Close()
		return nil, err
	}

	excluded := exclusion.New(cfg.Exclusion, store)
	if err := excluded.Load(ctx); err != nil {
		store.Close()
		return nil, err
	}

	var profiles *regime.ProfileStore
	if path := cfg.App.RegimeProfilePath; path != "" {
		profiles, err = regime.NewProfileStore(path)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("load regime profiles %s: %w", path, err)
		}
	}

	source, err := binance.New(cfg.Market.Binance)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("binance source: %w", err)
	}

	interval, ok := scheduler.ParseIntervalDuration(cfg.Market.Interval)
	if !ok {
		store.Close()
		return nil, fmt.Errorf("invalid market interval %q", cfg.Market.Interval)
	}

	// External estimates stay live for two cycles, then count as silence.
	intake := signal.NewIntake(2 * interval)
	producers := append(signal.DefaultProducers(), intake)

	candles := market.NewStore(cfg.Market.MaxCached)
	eng := engine.New(cfg.Engine, source, candles, producers,
		fusion.NewEngine(cfg.Fusion), led, excluded,
		validator.New(cfg.Validator), profiles, jnl)

	app := &App{
		cfg:      cfg,
		engine:   eng,
		ledger:   led,
		store:    store,
		journal:  jnl,
		profiles: profiles,
	}

	if cfg.HTTP.Enabled {
		srv, err := statushttp.NewServer(statushttp.ServerConfig{
			Addr:       cfg.HTTP.Addr,
			Engine:     eng,
			Ledger:     led,
			Exclusions: excluded,
			Journal:    jnl,
			Intake:     intake,
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("status http server: %w", err)
		}
		app.httpServer = srv
	}

	app.interval = interval
	app.offset = time.Duration(cfg.Market.OffsetSeconds) * time.Second
	app.runImmediately = cfg.Market.RunImmediately

	logger.Infof("built evaluation pipeline: %d symbols, interval %s, store %s",
		len(cfg.Engine.Symbols), cfg.Market.Interval, cfg.Store.Path)
	return app, nil
}

// buildJournal shares the main store's SQLite connection when configured,
// avoiding a second WAL writer on the same file.
func (b *AppBuilder) buildJournal(store *gormstore.GormStore) (*journal.Journal, error) {
	cfg := b.cfg
	if cfg.Store.ShareDB || cfg.Store.JournalPath == cfg.Store.Path {
		sqlDB, err := store.SQLDB()
		if err != nil {
			return nil, fmt.Errorf("journal db: %w", err)
		}
		jnl := &journal.Journal{}
		if err := jnl.UseExternalDB(sqlDB); err != nil {
			return nil, fmt.Errorf("journal schema: %w", err)
		}
		return jnl, nil
	}
	jnl, err := journal.New(cfg.Store.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", cfg.Store.JournalPath, err)
	}
	return jnl, nil
}
