// Package runtime builds the rewards-api process from configuration and
// manages the HTTP server lifecycle.
package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/rewards_layer/internal/app"
	"github.com/R3E-Network/rewards_layer/internal/app/httpapi"
	"github.com/R3E-Network/rewards_layer/internal/app/notify"
	"github.com/R3E-Network/rewards_layer/internal/app/storage/postgres"
	"github.com/R3E-Network/rewards_layer/internal/app/storage/redislock"
	"github.com/R3E-Network/rewards_layer/internal/config"
	"github.com/R3E-Network/rewards_layer/internal/middleware"
	"github.com/R3E-Network/rewards_layer/internal/platform/migrations"
	"github.com/R3E-Network/rewards_layer/internal/platform/supabase"
	"github.com/R3E-Network/rewards_layer/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg         *config.Config
	log         *logger.Logger
	app         *app.Application
	httpServer  *http.Server
	rateLimiter *middleware.RateLimiter
	db          *sql.DB
	redis       *redis.Client
}

// NewApplication constructs the application from the environment.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewApplicationWithConfig(cfg)
}

// NewApplicationWithConfig constructs the application from cfg. Optional
// backends (Postgres, Redis, Supabase) are only dialled when configured.
func NewApplicationWithConfig(cfg *config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	a := &Application{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.closeBackends()
		}
	}()

	stores, err := a.buildStores()
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	opts := []app.Option{app.WithSettings(app.Settings{
		ReloadSchedule:  cfg.Evolution.ReloadSchedule,
		StatsTimeout:    cfg.Evolution.StatsTimeout,
		ClaimAttempts:   cfg.Evolution.ClaimAttempts,
		NotifyQueueSize: cfg.Evolution.NotifyQueueSize,
	})}

	if cfg.Redis.Addr != "" {
		client, err := openRedis(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
		opts = append(opts,
			app.WithLocker(redislock.New(client, redislock.WithTTL(cfg.Redis.LockTTL), redislock.WithLogger(log))),
			app.WithPublisher(notify.NewRedisPublisher(client)),
		)
	} else {
		log.Warn("REDIS_ADDR not set; using in-process position locks and logging events")
	}

	if cfg.Supabase.URL != "" {
		client, err := supabase.New(supabase.Config{URL: cfg.Supabase.URL, APIKey: cfg.Supabase.ServiceKey})
		if err != nil {
			return nil, fmt.Errorf("configure supabase: %w", err)
		}
		src := supabase.NewStatsSource(client, supabase.Tables{
			Investments:  cfg.Supabase.InvestmentsTable,
			Stakes:       cfg.Supabase.StakesTable,
			Transactions: cfg.Supabase.TransactionsTable,
			Referrals:    cfg.Supabase.ReferralsTable,
		})
		opts = append(opts, app.WithStatsSources(src.Sources()))
	} else {
		log.Warn("SUPABASE_URL not set; every eligibility dimension will report unavailable")
	}

	application, err := app.New(stores, log.Named("app"), opts...)
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}
	a.app = application

	handlerOpts := httpapi.Options{
		Auth: middleware.NewAuthMiddleware(cfg.Auth.JWTSecret, cfg.Auth.Issuer, log.Named("auth"), nil),
		Log:  log.Named("http"),
	}
	if cfg.RateLimit.Enabled {
		a.rateLimiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log.Named("ratelimit"))
		handlerOpts.RateLimiter = a.rateLimiter
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		handlerOpts.CORS = middleware.NewCORSMiddleware(cfg.Server.CORSOrigins)
	}

	a.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           httpapi.NewHandler(application, handlerOpts),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	ok = true
	return a, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *Application) Handler() http.Handler {
	return a.httpServer.Handler
}

// App returns the composed application.
func (a *Application) App() *app.Application {
	return a.app
}

// Run starts background services and the HTTP server and blocks until ctx is
// cancelled or the server fails. Services outlive ctx: only Shutdown stops
// them, after in-flight requests have finished.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	if a.rateLimiter != nil {
		a.rateLimiter.StartCleanup(ctx, 10*time.Minute)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server first so no request is cut off mid-claim,
// then the background services, then closes backends.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop services: %w", err))
	}
	a.closeBackends()
	return errors.Join(errs...)
}

func (a *Application) buildStores() (app.Stores, error) {
	var stores app.Stores
	if a.cfg.Database.DSN != "" {
		db, err := openDatabase(a.cfg.Database)
		if err != nil {
			return stores, err
		}
		a.db = db
		if a.cfg.Database.MigrateOnStart {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := migrations.Apply(ctx, db); err != nil {
				return stores, err
			}
		}
		store := postgres.New(db)
		stores.Evolution = store
		stores.Catalog = store
	} else {
		a.log.Warn("DATABASE_URL not set; using in-memory storage")
	}

	if path := a.cfg.Evolution.CatalogPath; path != "" {
		stores.Catalog = config.FileCatalog{Path: path}
	}
	return stores, nil
}

func (a *Application) closeBackends() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
		a.redis = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
		a.db = nil
	}
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func openRedis(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
