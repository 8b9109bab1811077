// Package config loads, validates and watches the service configuration.
//
// Configuration is layered: defaults in code, then base and
// environment-specific files (YAML, JSON or TOML), then environment
// variables. See Loader.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config holds all service configuration.
type Config struct {
	Environment Environment `yaml:"environment" json:"environment" toml:"environment" validate:"required,oneof=development staging production"`

	Server   Server   `yaml:"server" json:"server" toml:"server"`
	Storage  Storage  `yaml:"storage" json:"storage" toml:"storage"`
	Registry Registry `yaml:"registry" json:"registry" toml:"registry"`
	Logging  Logging  `yaml:"logging" json:"logging" toml:"logging"`
	Metrics  Metrics  `yaml:"metrics" json:"metrics" toml:"metrics"`
	Tracing  Tracing  `yaml:"tracing" json:"tracing" toml:"tracing"`
	Events   Events   `yaml:"events" json:"events" toml:"events"`

	// LoadedFrom lists the sources applied, lowest priority first.
	LoadedFrom []string `yaml:"-" json:"-" toml:"-"`
}

// Server configures the HTTP listener.
type Server struct {
	Host            string        `yaml:"host" json:"host" toml:"host"`
	Port            int           `yaml:"port" json:"port" toml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" toml:"read_timeout" validate:"min=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout" validate:"min=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout" toml:"idle_timeout" validate:"min=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" toml:"shutdown_timeout" validate:"min=0"`
	MaxRequestSize  int64         `yaml:"max_request_size" json:"max_request_size" toml:"max_request_size" validate:"min=1"`
	CORS            CORS          `yaml:"cors" json:"cors" toml:"cors"`
}

// Addr returns the listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CORS configures cross-origin access to the HTTP API.
type CORS struct {
	Enabled        bool     `yaml:"enabled" json:"enabled" toml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" toml:"allowed_origins"`
	MaxAge         int      `yaml:"max_age" json:"max_age" toml:"max_age" validate:"min=0"`
}

// Storage selects and configures the durable backend.
type Storage struct {
	Provider string `yaml:"provider" json:"provider" toml:"provider" validate:"required,oneof=memory sqlite postgres dynamodb"`

	// Timeout bounds every individual backend call made by the durability
	// pipeline. Zero means no per-call timeout.
	Timeout time.Duration `yaml:"timeout" json:"timeout" toml:"timeout" validate:"min=0"`

	SQLite   SQLite   `yaml:"sqlite" json:"sqlite" toml:"sqlite"`
	Postgres Postgres `yaml:"postgres" json:"postgres" toml:"postgres"`
	DynamoDB DynamoDB `yaml:"dynamodb" json:"dynamodb" toml:"dynamodb"`
}

type SQLite struct {
	Path string `yaml:"path" json:"path" toml:"path"`
}

type Postgres struct {
	DSN             string        `yaml:"dsn" json:"dsn" toml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" toml:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" toml:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" toml:"conn_max_lifetime" validate:"min=0"`
}

type DynamoDB struct {
	TableName string `yaml:"table_name" json:"table_name" toml:"table_name"`
	Region    string `yaml:"region" json:"region" toml:"region"`
	// Endpoint overrides the service endpoint, e.g. DynamoDB Local.
	Endpoint    string `yaml:"endpoint" json:"endpoint" toml:"endpoint"`
	CreateTable bool   `yaml:"create_table" json:"create_table" toml:"create_table"`
}

// Registry configures the cached graph registry.
type Registry struct {
	HashAlgorithm string     `yaml:"hash_algorithm" json:"hash_algorithm" toml:"hash_algorithm"`
	Durability    Durability `yaml:"durability" json:"durability" toml:"durability"`
	Compaction    Compaction `yaml:"compaction" json:"compaction" toml:"compaction"`

	// ResyncSchedule is an optional cron spec for periodic SyncWithStorage.
	ResyncSchedule string `yaml:"resync_schedule" json:"resync_schedule" toml:"resync_schedule"`
}

// Durability configures the background pipeline that mirrors registry
// mutations into the storage backend.
type Durability struct {
	Workers        int           `yaml:"workers" json:"workers" toml:"workers" validate:"min=1,max=256"`
	QueueSize      int           `yaml:"queue_size" json:"queue_size" toml:"queue_size" validate:"min=1"`
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts" validate:"min=1,max=100"`
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff" validate:"min=0"`
	MaxBackoff     time.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff" validate:"min=0"`
	BackoffFactor  float64       `yaml:"backoff_factor" json:"backoff_factor" toml:"backoff_factor" validate:"gte=1"`
	JitterFactor   float64       `yaml:"jitter_factor" json:"jitter_factor" toml:"jitter_factor" validate:"gte=0,lte=1"`

	// RateLimit caps backend writes per second across all workers; zero
	// disables the limiter.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit" toml:"rate_limit" validate:"gte=0"`
	Burst     int     `yaml:"burst" json:"burst" toml:"burst" validate:"min=0"`

	CircuitBreaker CircuitBreaker `yaml:"circuit_breaker" json:"circuit_breaker" toml:"circuit_breaker"`
}

type CircuitBreaker struct {
	Enabled             bool          `yaml:"enabled" json:"enabled" toml:"enabled"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" json:"consecutive_failures" toml:"consecutive_failures" validate:"min=1"`
	OpenTimeout         time.Duration `yaml:"open_timeout" json:"open_timeout" toml:"open_timeout" validate:"min=0"`
	HalfOpenRequests    uint32        `yaml:"half_open_requests" json:"half_open_requests" toml:"half_open_requests" validate:"min=1"`
}

// Compaction configures reclamation of deleted edge slots.
type Compaction struct {
	// Schedule is a cron spec; empty disables scheduled compaction.
	Schedule string `yaml:"schedule" json:"schedule" toml:"schedule"`

	// TombstoneRatio triggers compaction inline once deleted slots make up
	// this share of the edge table. Zero disables inline compaction.
	TombstoneRatio float64 `yaml:"tombstone_ratio" json:"tombstone_ratio" toml:"tombstone_ratio" validate:"gte=0,lte=1"`
	MinTombstones  int     `yaml:"min_tombstones" json:"min_tombstones" toml:"min_tombstones" validate:"min=0"`
}

type Logging struct {
	Level  string `yaml:"level" json:"level" toml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" toml:"format" validate:"oneof=json console"`
}

type Metrics struct {
	Enabled   bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace" toml:"namespace" validate:"required_if=Enabled true"`
	Path      string `yaml:"path" json:"path" toml:"path"`
}

type Tracing struct {
	Enabled     bool    `yaml:"enabled" json:"enabled" toml:"enabled"`
	ServiceName string  `yaml:"service_name" json:"service_name" toml:"service_name"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint" toml:"endpoint" validate:"required_if=Enabled true"`
	Insecure    bool    `yaml:"insecure" json:"insecure" toml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate" json:"sample_rate" toml:"sample_rate" validate:"gte=0,lte=1"`
}

// Events configures publication of committed graph changes.
type Events struct {
	Enabled      bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	EventBusName string `yaml:"event_bus_name" json:"event_bus_name" toml:"event_bus_name" validate:"required_if=Enabled true"`
	Source       string `yaml:"source" json:"source" toml:"source"`
}

var validate = validator.New()

// Validate checks struct constraints and the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch c.Storage.Provider {
	case "sqlite":
		if strings.TrimSpace(c.Storage.SQLite.Path) == "" {
			return fmt.Errorf("storage.sqlite.path is required for the sqlite provider")
		}
	case "postgres":
		if strings.TrimSpace(c.Storage.Postgres.DSN) == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres provider")
		}
	case "dynamodb":
		if c.Storage.DynamoDB.TableName == "" {
			return fmt.Errorf("storage.dynamodb.table_name is required for the dynamodb provider")
		}
	}

	d := c.Registry.Durability
	if d.MaxBackoff > 0 && d.MaxBackoff < d.InitialBackoff {
		return fmt.Errorf("registry.durability.max_backoff must not be below initial_backoff")
	}
	if d.RateLimit > 0 && d.Burst < 1 {
		return fmt.Errorf("registry.durability.burst must be at least 1 when rate_limit is set")
	}

	if c.Environment == Production && c.Storage.Provider == "memory" {
		return fmt.Errorf("the memory storage provider is not allowed in production")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// GetEnvironment reads the deployment environment from CODEX_ENVIRONMENT or
// ENVIRONMENT, defaulting to development.
func GetEnvironment() Environment {
	for _, key := range []string{"CODEX_ENVIRONMENT", "ENVIRONMENT"} {
		if val := strings.ToLower(strings.TrimSpace(os.Getenv(key))); val != "" {
			return Environment(val)
		}
	}
	return Development
}
