// Package app assembles the query engine and its collaborators from a Config.
// Every binary builds its components through here so they are wired the same way.
package app

import (
	"context"
	"errors"
	"fmt"

	"faultscope/src/config"
	"faultscope/src/guide"
	"faultscope/src/locate"
	"faultscope/src/logger"
	"faultscope/src/metrics"
	"faultscope/src/pipeline"
	"faultscope/src/plan"
	"faultscope/src/store"
	"faultscope/src/transport"
)

// App holds the long-lived components of one process.
type App struct {
	Config    *config.Config
	Logger    logger.Logger
	Transport transport.Transport
	Metrics   *metrics.Metrics
	Cache     *plan.Cache
	Engine    *pipeline.Engine
	Store     store.Store
}

// New dials the transport, opens the store and builds the engine.
// The caller must Close the returned App.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	if log == nil {
		log = logger.NewSilentLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	t, err := dial(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:    cfg,
		Logger:    log,
		Transport: t,
		Metrics:   metrics.New(),
	}

	hints, err := guide.Load(cfg.Guide.Path)
	if err != nil {
		a.Close()
		return nil, err
	}
	if hints.Len() > 0 {
		log.Debug("loaded %d remediation hints from %s", hints.Len(), cfg.Guide.Path)
	}

	a.Cache, err = plan.NewCache(cfg.Cache.Dir, t, log, a.Metrics)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Store, err = store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open report store: %w", err)
	}

	a.Engine = pipeline.New(pipeline.Deps{
		Transport: t,
		Locator:   locate.New(t, cfg.Locator.SnapshotHost, log),
		Planner:   plan.New(t, a.Cache, cfg.Planner.SizeThreshold, log),
		Guide:     hints,
		Budget:    cfg.Budget(),
		Metrics:   a.Metrics,
		Logger:    log,
	})
	return a, nil
}

// dial opens SSH when a host is configured, otherwise reads the local filesystem.
func dial(ctx context.Context, cfg *config.Config, log logger.Logger) (transport.Transport, error) {
	if cfg.SSH.Host == "" {
		log.Debug("no ssh.host configured, reading artifacts locally")
		return transport.NewLocal(log), nil
	}
	t, err := transport.DialSSH(ctx, cfg.Transport(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.SSH.Host, err)
	}
	return t, nil
}

// Close releases the store and the transport.
func (a *App) Close() error {
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Transport != nil {
		errs = append(errs, a.Transport.Close())
	}
	return errors.Join(errs...)
}
