package domain

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config holds the complete Pantry configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Worker settings
	Worker WorkerConfig `json:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// WorkerConfig holds cache-invalidation worker settings.
type WorkerConfig struct {
	Enabled bool `json:"enabled"`

	// TenantIDs to subscribe to. Empty subscribes to the global stream only.
	TenantIDs []string `json:"tenantIds"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity is the single-node tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the multi-node tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./pantry.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			RecordTTL:    5 * time.Minute,
			LocalMaxSize: 10000,
			LocalTTL:     time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "pantry",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "pantry",
		MaxOpenConns: 20,
		MaxIdleConns: 5,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RecordTTL:      5 * time.Minute,
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       30 * time.Second,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	// Peers share Redis but each node keeps its own L1.
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}

// ApplyEnv overrides configuration fields from PANTRY_* environment
// variables. Malformed numeric values are logged and ignored.
func ApplyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("ignoring invalid integer environment value", "key", key, "value", v)
			return
		}
		*dst = n
	}

	setInt("PANTRY_PORT", &cfg.Server.Port)
	setString("PANTRY_HOST", &cfg.Server.Host)

	setString("PANTRY_DB_DRIVER", &cfg.Repository.Driver)
	setString("PANTRY_SQLITE_PATH", &cfg.Repository.SQLitePath)
	setString("PANTRY_PG_HOST", &cfg.Repository.PostgresHost)
	setInt("PANTRY_PG_PORT", &cfg.Repository.PostgresPort)
	setString("PANTRY_PG_USER", &cfg.Repository.PostgresUser)
	setString("PANTRY_PG_PASSWORD", &cfg.Repository.PostgresPassword)
	setString("PANTRY_PG_DB", &cfg.Repository.PostgresDB)
	setString("PANTRY_PG_SSLMODE", &cfg.Repository.PostgresSSLMode)

	setString("PANTRY_CACHE", &cfg.Cache.Type)
	setString("PANTRY_REDIS_ADDR", &cfg.Cache.RedisAddr)
	setString("PANTRY_REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	if v := os.Getenv("PANTRY_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("ignoring invalid duration environment value", "key", "PANTRY_CACHE_TTL", "value", v)
		} else {
			cfg.Cache.RecordTTL = d
		}
	}

	setString("PANTRY_BUS", &cfg.EventBus.Type)
	setString("PANTRY_NATS_URL", &cfg.EventBus.NATSUrl)
	setString("PANTRY_NATS_TOKEN", &cfg.EventBus.NATSToken)

	setString("PANTRY_LOG_LEVEL", &cfg.Logging.Level)
	setString("PANTRY_LOG_FORMAT", &cfg.Logging.Format)
}
