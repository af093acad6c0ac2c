// Package config loads runtime configuration from the environment and the
// evolution catalog from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/R3E-Network/rewards_layer/pkg/logger"
)

// Config is the full rewards-api configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Logging   logger.LoggingConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Evolution EvolutionConfig
	Supabase  SupabaseConfig
}

type ServerConfig struct {
	Host            string        `env:"SERVER_HOST,default=0.0.0.0"`
	Port            int           `env:"SERVER_PORT,default=8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT,default=10s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT,default=15s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=10s"`
	// CORSOrigins is a semicolon separated list; empty disables CORS headers.
	CORSOrigins []string `env:"SERVER_CORS_ORIGINS"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig configures PostgreSQL. An empty DSN selects the in-memory store.
type DatabaseConfig struct {
	DSN             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS,default=25"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=30m"`
	MigrateOnStart  bool          `env:"DATABASE_MIGRATE_ON_START,default=true"`
}

// RedisConfig enables the distributed lock and event publishing when Addr is set.
type RedisConfig struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB,default=0"`
	LockTTL  time.Duration `env:"REDIS_LOCK_TTL,default=10s"`
}

type AuthConfig struct {
	JWTSecret string `env:"AUTH_JWT_SECRET"`
	Issuer    string `env:"AUTH_JWT_ISSUER"`
}

type RateLimitConfig struct {
	Enabled           bool    `env:"RATE_LIMIT_ENABLED,default=true"`
	RequestsPerSecond float64 `env:"RATE_LIMIT_RPS,default=5"`
	Burst             int     `env:"RATE_LIMIT_BURST,default=10"`
}

// EvolutionConfig tunes the engine. When CatalogPath is set the catalog is
// read from that YAML file instead of the database.
type EvolutionConfig struct {
	CatalogPath     string        `env:"EVOLUTION_CATALOG_PATH"`
	ReloadSchedule  string        `env:"EVOLUTION_RELOAD_SCHEDULE,default=@every 5m"`
	StatsTimeout    time.Duration `env:"EVOLUTION_STATS_TIMEOUT,default=3s"`
	ClaimAttempts   int           `env:"EVOLUTION_CLAIM_ATTEMPTS,default=3"`
	NotifyQueueSize int           `env:"EVOLUTION_NOTIFY_QUEUE_SIZE,default=256"`
}

// SupabaseConfig points the stats collector at the platform's PostgREST API.
// Without a URL every stats dimension reports unavailable.
type SupabaseConfig struct {
	URL               string `env:"SUPABASE_URL"`
	ServiceKey        string `env:"SUPABASE_SERVICE_KEY"`
	InvestmentsTable  string `env:"SUPABASE_INVESTMENTS_TABLE"`
	StakesTable       string `env:"SUPABASE_STAKES_TABLE"`
	TransactionsTable string `env:"SUPABASE_TRANSACTIONS_TABLE"`
	ReferralsTable    string `env:"SUPABASE_REFERRALS_TABLE"`
}

// Load reads an optional .env file (or the one named by ENV_FILE) and
// decodes the environment.
func Load() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	return FromEnv()
}

// FromEnv decodes the current environment without touching .env files.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid SERVER_PORT %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("AUTH_JWT_SECRET is required")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return errors.New("rate limit requires positive RATE_LIMIT_RPS and RATE_LIMIT_BURST")
	}
	if c.Evolution.ClaimAttempts <= 0 {
		return fmt.Errorf("invalid EVOLUTION_CLAIM_ATTEMPTS %d", c.Evolution.ClaimAttempts)
	}
	if (c.Supabase.URL == "") != (c.Supabase.ServiceKey == "") {
		return errors.New("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set together")
	}
	return nil
}
