package app

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/rewards_layer/internal/app/notify"
	"github.com/R3E-Network/rewards_layer/internal/app/services/evolution"
	"github.com/R3E-Network/rewards_layer/internal/app/storage"
	"github.com/R3E-Network/rewards_layer/internal/app/storage/memory"
	"github.com/R3E-Network/rewards_layer/internal/app/system"
	"github.com/R3E-Network/rewards_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Evolution storage.EvolutionStore
	// Catalog feeds the registry. When nil, Evolution is used if it can
	// serve the catalog.
	Catalog evolution.CatalogSource
}

// Settings are the engine tunables. Zero values fall back to defaults.
type Settings struct {
	ReloadSchedule  string
	StatsTimeout    time.Duration
	ClaimAttempts   int
	NotifyQueueSize int
}

// Option customises collaborators that have no persistence role.
type Option func(*options)

type options struct {
	settings  Settings
	stats     evolution.StatsSources
	locker    evolution.KeyLocker
	publisher notify.Publisher
	rng       evolution.RandomSource
	clock     func() time.Time
}

// WithSettings applies engine tunables.
func WithSettings(s Settings) Option {
	return func(o *options) { o.settings = s }
}

// WithStatsSources sets the activity ledgers. Unset sources report their
// dimensions as unavailable.
func WithStatsSources(s evolution.StatsSources) Option {
	return func(o *options) { o.stats = s }
}

// WithLocker replaces the in-process per-position lock.
func WithLocker(l evolution.KeyLocker) Option {
	return func(o *options) { o.locker = l }
}

// WithPublisher sets the event transport; logging is used otherwise.
func WithPublisher(p notify.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithRandomSource fixes the lottery random source, mainly for tests.
func WithRandomSource(rng evolution.RandomSource) Option {
	return func(o *options) { o.rng = rng }
}

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Evolution     *evolution.Service
	Catalog       *evolution.Registry
	Reloader      *evolution.Reloader
	Notifications *notify.Dispatcher
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, log *logger.Logger, opts ...Option) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if stores.Evolution == nil {
		stores.Evolution = memory.New()
	}
	if stores.Catalog == nil {
		src, ok := stores.Evolution.(evolution.CatalogSource)
		if !ok {
			return nil, fmt.Errorf("no catalog source configured and evolution store cannot serve one")
		}
		stores.Catalog = src
	}

	registry := evolution.NewRegistry()
	reloader := evolution.NewReloader(registry, stores.Catalog, o.settings.ReloadSchedule, log.Named("catalog-reloader"))
	dispatcher := notify.NewDispatcher(o.publisher, log.Named("notify"), notify.WithQueueSize(o.settings.NotifyQueueSize))
	collector := evolution.NewStatsCollector(o.stats, o.settings.StatsTimeout, log.Named("stats-collector"))

	svcOpts := []evolution.Option{evolution.WithNotifier(dispatcher)}
	if o.locker != nil {
		svcOpts = append(svcOpts, evolution.WithLocker(o.locker))
	}
	if o.rng != nil {
		svcOpts = append(svcOpts, evolution.WithRandomSource(o.rng))
	}
	if o.clock != nil {
		svcOpts = append(svcOpts, evolution.WithClock(o.clock))
	}
	if o.settings.ClaimAttempts > 0 {
		svcOpts = append(svcOpts, evolution.WithClaimAttempts(o.settings.ClaimAttempts))
	}
	service := evolution.New(stores.Evolution, registry, collector, log.Named("evolution"), svcOpts...)

	manager := system.NewManager()
	// dispatcher first so it is stopped last; the HTTP server has already
	// drained by then, so its queue holds every claim made during shutdown
	for _, svc := range []system.Service{dispatcher, reloader} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:       manager,
		log:           log,
		Evolution:     service,
		Catalog:       registry,
		Reloader:      reloader,
		Notifications: dispatcher,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
