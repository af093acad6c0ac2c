package evolution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/rewards_layer/internal/app/metrics"
	"github.com/R3E-Network/rewards_layer/internal/app/system"
	"github.com/R3E-Network/rewards_layer/pkg/logger"
	"github.com/robfig/cron/v3"
)

const defaultReloadSchedule = "@every 5m"

// Reloader refreshes a Registry from a CatalogSource on a cron schedule.
// A failed reload keeps the previous snapshot.
type Reloader struct {
	registry *Registry
	source   CatalogSource
	schedule string
	timeout  time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

var _ system.Service = (*Reloader)(nil)

// NewReloader wires a reloader. An empty schedule defaults to every five minutes.
func NewReloader(registry *Registry, source CatalogSource, schedule string, log *logger.Logger) *Reloader {
	if schedule == "" {
		schedule = defaultReloadSchedule
	}
	if log == nil {
		log = logger.NewDefault("catalog-reloader")
	}
	return &Reloader{
		registry: registry,
		source:   source,
		schedule: schedule,
		timeout:  30 * time.Second,
		log:      log,
	}
}

func (r *Reloader) Name() string { return "catalog-reloader" }

// Start loads the catalog once synchronously and then schedules refreshes.
// The initial load must succeed so the engine never serves an empty catalog
// by accident.
func (r *Reloader) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	if err := r.registry.Load(ctx, r.source); err != nil {
		metrics.RecordRegistryReload(false)
		return fmt.Errorf("initial catalog load: %w", err)
	}
	metrics.RecordRegistryReload(true)

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, r.reload); err != nil {
		return fmt.Errorf("schedule catalog reload %q: %w", r.schedule, err)
	}
	c.Start()
	r.cron = c
	r.running = true
	r.log.WithField("schedule", r.schedule).Info("catalog reloader started")
	return nil
}

func (r *Reloader) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.running = false
	r.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	r.log.Info("catalog reloader stopped")
	return nil
}

// ReloadNow runs one refresh outside the schedule.
func (r *Reloader) ReloadNow(ctx context.Context) error {
	err := r.registry.Load(ctx, r.source)
	metrics.RecordRegistryReload(err == nil)
	return err
}

func (r *Reloader) reload() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.ReloadNow(ctx); err != nil {
		r.log.WithError(err).Warn("catalog reload failed, keeping previous snapshot")
		return
	}
	r.log.Debug("catalog reloaded")
}
