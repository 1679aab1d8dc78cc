// Package app wires the engine, the event channel, the reconciliation loop
// and the dashboard together and owns their shutdown order.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nozo-moto/gnethogs/internal/collector"
	"github.com/nozo-moto/gnethogs/internal/config"
	"github.com/nozo-moto/gnethogs/internal/eventchan"
	"github.com/nozo-moto/gnethogs/internal/metrics"
	"github.com/nozo-moto/gnethogs/internal/reconcile"
	"github.com/nozo-moto/gnethogs/internal/ui"
	"github.com/nozo-moto/gnethogs/internal/users"
)

// UI is the presentation side of the application.
type UI interface {
	reconcile.Host
	Run() error
	Stop()
}

type App struct {
	cfg       config.AppConfig
	log       *zap.Logger
	metrics   *metrics.Metrics
	engine    collector.Engine
	ui        UI
	presenter reconcile.Presenter
	users     reconcile.UserResolver
}

// New assembles an App from already built parts.
func New(cfg config.AppConfig, log *zap.Logger, m *metrics.Metrics, engine collector.Engine, u UI, p reconcile.Presenter, resolver reconcile.UserResolver) *App {
	if log == nil {
		log = zap.NewNop()
	}
	return &App{
		cfg:       cfg,
		log:       log,
		metrics:   m,
		engine:    engine,
		ui:        u,
		presenter: p,
		users:     resolver,
	}
}

// Build creates the engine, dashboard and resolver described by cfg.
func Build(cfg *config.Config, log *zap.Logger) (*App, error) {
	c := cfg.GNethogs

	engine, err := NewEngine(c.Engine, log.Named("engine"))
	if err != nil {
		return nil, err
	}

	resolver, err := users.NewResolver(c.Users.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("user resolver: %w", err)
	}

	m := metrics.New()
	dash := ui.NewDashboard(c.UI.Title, m, log.Named("ui"))
	return New(c, log, m, engine, dash, dash.Table(), resolver), nil
}

// NewEngine returns the engine selected by cfg.Kind.
func NewEngine(cfg config.EngineConfig, log *zap.Logger) (collector.Engine, error) {
	switch cfg.Kind {
	case config.EnginePcap:
		return collector.NewPcapEngine(collector.PcapOptions{
			Devices:     cfg.Devices,
			Filter:      cfg.Filter,
			Snaplen:     int32(cfg.Snaplen),
			IdleTimeout: cfg.IdleTimeout,
		}, log)
	case config.EngineNethogs:
		return collector.NewNethogsEngine(log)
	default:
		return nil, fmt.Errorf("unknown engine kind %q", cfg.Kind)
	}
}

// Run blocks until the UI quits, the engine fails or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.metrics != nil {
		defer a.metrics.Stop()
	}

	tx, rx := eventchan.New()
	producer := collector.NewProducer(a.engine, tx, a.cfg.Engine.Interval, a.metrics, a.log.Named("producer"))
	loop := reconcile.New(a.presenter, a.users, a.metrics, a.log.Named("reconcile"))

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	var teardownOnce sync.Once
	teardown := func() {
		teardownOnce.Do(func() {
			a.log.Info("shutting down")
			producer.Stop()
			rx.Close()
			// the sender is closed by the producer once the engine loop returns
			a.ui.Stop()
		})
	}

	g.Go(func() error {
		defer cancel()
		return producer.Run()
	})
	g.Go(func() error {
		defer cancel()
		err := loop.Run(runCtx, rx, a.ui)
		if errors.Is(err, context.Canceled) || errors.Is(err, ui.ErrStopped) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer cancel()
		if err := a.ui.Run(); err != nil {
			return fmt.Errorf("ui: %w", err)
		}
		return nil
	})
	if a.metrics != nil && a.cfg.Metrics.Enabled {
		g.Go(func() error {
			a.log.Info("serving metrics",
				zap.String("addr", a.cfg.Metrics.Addr),
				zap.String("path", a.cfg.Metrics.Path))
			if err := a.metrics.Serve(runCtx, a.cfg.Metrics.Addr, a.cfg.Metrics.Path); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-runCtx.Done()
		teardown()
		return nil
	})

	err := g.Wait()
	if err != nil {
		a.log.Error("stopped with error", zap.Error(err))
		return err
	}
	a.log.Info("stopped")
	return nil
}
