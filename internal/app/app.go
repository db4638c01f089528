// Package app wires configuration, logging, the store and the collector
// into one long-lived application.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/housedata-crawler/internal/api"
	"github.com/JakeFAU/housedata-crawler/internal/clock/system"
	"github.com/JakeFAU/housedata-crawler/internal/collector"
	"github.com/JakeFAU/housedata-crawler/internal/config"
	"github.com/JakeFAU/housedata-crawler/internal/crawler"
	"github.com/JakeFAU/housedata-crawler/internal/extract"
	"github.com/JakeFAU/housedata-crawler/internal/fetcher"
	"github.com/JakeFAU/housedata-crawler/internal/id/uuid"
	"github.com/JakeFAU/housedata-crawler/internal/store"
)

// Clock supplies run timestamps.
type Clock interface {
	Now() time.Time
}

// App holds the shared services of one collector process.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	store      *store.Store
	status     *collector.Status
	server     *api.Server
	ids        uuid.Generator
	clock      Clock
	registry   extract.Registry
	connector  store.Connector
	newFetcher collector.FetcherFactory
	storeOpts  []store.Option
}

// Option customizes App construction.
type Option func(*App)

// WithConnector overrides the connector derived from cfg.Store.
func WithConnector(c store.Connector) Option {
	return func(a *App) { a.connector = c }
}

// WithFetcherFactory overrides how workers build their fetchers.
func WithFetcherFactory(f collector.FetcherFactory) Option {
	return func(a *App) { a.newFetcher = f }
}

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithStoreOptions forwards options to store.Open.
func WithStoreOptions(opts ...store.Option) Option {
	return func(a *App) { a.storeOpts = append(a.storeOpts, opts...) }
}

// New connects the store and prepares the collector. It fails fast when the
// store cannot be reached within its retry budget.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		status:   &collector.Status{},
		ids:      uuid.NewGenerator(),
		clock:    system.New(),
		registry: extract.DefaultRegistry(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.newFetcher == nil {
		fetcherCfg := cfg.FetcherOptions()
		a.newFetcher = func() (crawler.Fetcher, error) {
			return fetcher.New(fetcherCfg, logger)
		}
	}
	if a.connector == nil {
		connector, err := cfg.Connector()
		if err != nil {
			return nil, err
		}
		a.connector = connector
	}
	a.server = api.NewServer(a.status, logger)

	logger.Info("initializing application services",
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("fetch_mode", cfg.Fetcher.Mode),
		zap.Int("jobs", len(cfg.Jobs)),
	)
	st, err := store.Open(ctx, cfg.StoreOptions(), a.connector, logger, a.storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st
	a.status.MarkReady()
	return a, nil
}

// Jobs builds collector jobs from the configured job list.
func (a *App) Jobs() ([]collector.Job, error) {
	jobs := make([]collector.Job, 0, len(a.cfg.Jobs))
	for i, jc := range a.cfg.Jobs {
		name := jc.Name
		if name == "" {
			name = fmt.Sprintf("job-%d", i)
		}
		ex, err := a.registry.Build(jc.Extractor.Type, extract.Params{
			RowTag:   jc.Extractor.RowTag,
			RowAttrs: jc.Extractor.RowAttrs,
			CellTag:  jc.Extractor.CellTag,
			Columns:  jc.Extractor.Columns,
			Static:   jc.Extractor.Static,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", name, err)
		}
		jobs = append(jobs, collector.Job{
			Name:      name,
			URL:       jc.URL,
			Table:     jc.Table,
			Extractor: ex,
		})
	}
	return jobs, nil
}

// RunOnce collects every configured job under a fresh run ID.
func (a *App) RunOnce(ctx context.Context) (collector.Summary, error) {
	jobs, err := a.Jobs()
	if err != nil {
		return collector.Summary{}, err
	}
	runID, err := a.ids.NewRunID()
	if err != nil {
		return collector.Summary{}, err
	}
	logger := a.logger.With(zap.String("run_id", runID))
	runner := collector.New(collector.Config{Workers: a.cfg.Collector.Workers}, a.newFetcher, a.store, logger)

	a.status.Begin(runID, a.clock.Now())
	summary, err := runner.Run(ctx, jobs)
	a.status.Finish(summary, err, a.clock.Now())
	if err != nil {
		return summary, fmt.Errorf("run %s: %w", runID, err)
	}
	return summary, nil
}

// Serve exposes the operator endpoints until ctx is done. It returns
// immediately when no metrics address is configured.
func (a *App) Serve(ctx context.Context) error {
	if a.cfg.Metrics.Addr == "" {
		return nil
	}
	return a.server.ListenAndServe(ctx, a.cfg.Metrics.Addr)
}

// Status exposes the run tracker.
func (a *App) Status() *collector.Status {
	return a.status
}

// Close shuts down the store.
func (a *App) Close() error {
	a.logger.Info("shutting down application services")
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
