package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/halcyon-ai/halcyon-sync/internal/model"
)

// Environment represents different deployment environments.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the sync service.
// Environment variables are parsed from the HALCYON_SYNC_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8085"`

	// Persistence collaborator. "auto" resolves to sqlite unless a Postgres
	// DSN is configured.
	DBDriver    string `envconfig:"DB_DRIVER" default:"auto"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"./data/halcyon-sync.db"`

	// Sync core tuning
	SkewTolerance   time.Duration `envconfig:"SKEW_TOLERANCE" default:"5m"`
	DefaultStrategy string        `envconfig:"DEFAULT_STRATEGY" default:"last_write_wins"`
	// StrategyOverrides is a comma-separated entity=strategy list, e.g.
	// "task=manual,idea=field_merge".
	StrategyOverrides string `envconfig:"STRATEGY_OVERRIDES" default:""`
	MaxUnresolved     int    `envconfig:"MAX_UNRESOLVED" default:"100"`

	// Transport tuning
	OfflineQueueCap  int           `envconfig:"OFFLINE_QUEUE_CAP" default:"500"`
	KeepAliveTimeout time.Duration `envconfig:"KEEPALIVE_TIMEOUT" default:"90s"`
	ReapInterval     time.Duration `envconfig:"REAP_INTERVAL" default:"30s"`
}

// ResolveDefaults validates the configuration and derives DBDriver when set
// to "auto" or empty.
func (c *Config) ResolveDefaults() error {
	if c.DBDriver == "" || c.DBDriver == "auto" {
		if c.PostgresDSN != "" {
			c.DBDriver = "postgres"
		} else {
			c.DBDriver = "sqlite"
		}
	}
	switch c.DBDriver {
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("DB_DRIVER=postgres requires POSTGRES_DSN")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("DB_DRIVER=sqlite requires SQLITE_PATH")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}

	if !model.KnownStrategy(model.ResolutionStrategy(c.DefaultStrategy)) {
		return fmt.Errorf("unsupported DEFAULT_STRATEGY: %s", c.DefaultStrategy)
	}
	if _, err := c.ParseStrategyOverrides(); err != nil {
		return err
	}
	return nil
}

// ParseStrategyOverrides turns the entity=strategy list into a typed map.
func (c *Config) ParseStrategyOverrides() (map[model.EntityType]model.ResolutionStrategy, error) {
	out := make(map[model.EntityType]model.ResolutionStrategy)
	if c.StrategyOverrides == "" {
		return out, nil
	}
	for _, pair := range strings.Split(c.StrategyOverrides, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed STRATEGY_OVERRIDES entry: %q", pair)
		}
		et := model.EntityType(strings.TrimSpace(kv[0]))
		st := model.ResolutionStrategy(strings.TrimSpace(kv[1]))
		if !model.KnownEntityType(et) {
			return nil, fmt.Errorf("STRATEGY_OVERRIDES: unknown entity type %q", kv[0])
		}
		if !model.KnownStrategy(st) {
			return nil, fmt.Errorf("STRATEGY_OVERRIDES: unknown strategy %q", kv[1])
		}
		out[et] = st
	}
	return out, nil
}

// New creates a Config by parsing environment variables prefixed with
// HALCYON_SYNC_, e.g. HALCYON_SYNC_HTTP_PORT.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("HALCYON_SYNC", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
