package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ============================================================================
// CONFIGURATION LOADER
// ============================================================================

// Loader builds a Config from layered sources.
type Loader struct {
	basePath    string
	environment Environment
	sources     []string

	// fileLoaders are tried in order; the first existing file wins for each
	// layer.
	fileLoaders []FileLoader
}

// FileLoader decodes one configuration file format.
type FileLoader interface {
	Load(reader io.Reader, target any) error
	Extensions() []string
}

// NewLoader creates a loader reading files from basePath.
func NewLoader(basePath string, env Environment) *Loader {
	if basePath == "" {
		basePath = "config"
	}
	if env == "" {
		env = Development
	}

	loader := &Loader{
		basePath:    basePath,
		environment: env,
	}
	loader.RegisterLoader(&YAMLLoader{})
	loader.RegisterLoader(&JSONLoader{})
	loader.RegisterLoader(&TOMLLoader{})
	return loader
}

// RegisterLoader appends a file format. Formats registered earlier take
// precedence when several files exist for the same layer.
func (l *Loader) RegisterLoader(loader FileLoader) {
	l.fileLoaders = append(l.fileLoaders, loader)
}

// BasePath returns the directory configuration files are read from.
func (l *Loader) BasePath() string {
	return l.basePath
}

// Load applies, lowest priority first:
//  1. defaults
//  2. base.{yaml,yml,json,toml}
//  3. <environment>.{yaml,yml,json,toml}
//  4. environment variables
//
// and validates the result.
func (l *Loader) Load() (*Config, error) {
	l.sources = []string{"defaults"}
	cfg := l.defaultConfig()

	for _, layer := range []string{"base", string(l.environment)} {
		if err := l.loadFile(layer, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s config: %w", layer, err)
		}
	}

	l.loadEnvironmentVariables(cfg)
	l.sources = append(l.sources, "environment")
	cfg.LoadedFrom = append([]string(nil), l.sources...)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) loadFile(name string, cfg *Config) error {
	for _, loader := range l.fileLoaders {
		for _, ext := range loader.Extensions() {
			path := filepath.Join(l.basePath, name+"."+ext)
			if err := l.decodeFile(path, loader, cfg); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				return err
			}
			l.sources = append(l.sources, path)
			return nil
		}
	}
	return os.ErrNotExist
}

func (l *Loader) decodeFile(path string, loader FileLoader, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := loader.Load(file, cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// loadEnvironmentVariables overlays environment variables, the highest
// priority source. Unparseable values are ignored.
func (l *Loader) loadEnvironmentVariables(cfg *Config) {
	setString("CODEX_SERVER_HOST", &cfg.Server.Host)
	setInt("CODEX_SERVER_PORT", &cfg.Server.Port)
	setBool("CODEX_CORS_ENABLED", &cfg.Server.CORS.Enabled)

	setString("CODEX_STORAGE_PROVIDER", &cfg.Storage.Provider)
	setDuration("CODEX_STORAGE_TIMEOUT", &cfg.Storage.Timeout)
	setString("CODEX_SQLITE_PATH", &cfg.Storage.SQLite.Path)
	setString("CODEX_POSTGRES_DSN", &cfg.Storage.Postgres.DSN)
	setString("TABLE_NAME", &cfg.Storage.DynamoDB.TableName)
	setString("AWS_REGION", &cfg.Storage.DynamoDB.Region)
	setString("CODEX_DYNAMODB_ENDPOINT", &cfg.Storage.DynamoDB.Endpoint)
	setBool("CODEX_DYNAMODB_CREATE_TABLE", &cfg.Storage.DynamoDB.CreateTable)

	setString("CODEX_HASH_ALGORITHM", &cfg.Registry.HashAlgorithm)
	setInt("CODEX_DURABILITY_WORKERS", &cfg.Registry.Durability.Workers)
	setInt("CODEX_DURABILITY_QUEUE_SIZE", &cfg.Registry.Durability.QueueSize)
	setInt("CODEX_DURABILITY_MAX_ATTEMPTS", &cfg.Registry.Durability.MaxAttempts)
	setFloat("CODEX_DURABILITY_RATE_LIMIT", &cfg.Registry.Durability.RateLimit)
	setString("CODEX_COMPACTION_SCHEDULE", &cfg.Registry.Compaction.Schedule)
	setString("CODEX_RESYNC_SCHEDULE", &cfg.Registry.ResyncSchedule)

	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("CODEX_LOG_FORMAT", &cfg.Logging.Format)

	setBool("CODEX_METRICS_ENABLED", &cfg.Metrics.Enabled)
	setBool("CODEX_TRACING_ENABLED", &cfg.Tracing.Enabled)
	setString("CODEX_TRACING_ENDPOINT", &cfg.Tracing.Endpoint)
	setFloat("CODEX_TRACING_SAMPLE_RATE", &cfg.Tracing.SampleRate)

	setBool("CODEX_EVENTS_ENABLED", &cfg.Events.Enabled)
	setString("EVENT_BUS_NAME", &cfg.Events.EventBusName)
}

// defaultConfig returns a configuration the service can run with without
// any files: in-memory storage, JSON logs, metrics on.
func (l *Loader) defaultConfig() *Config {
	cfg := &Config{
		Environment: l.environment,
		Server: Server{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxRequestSize:  10 * 1024 * 1024,
			CORS: CORS{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				MaxAge:         300,
			},
		},
		Storage: Storage{
			Provider: "memory",
			Timeout:  10 * time.Second,
			SQLite:   SQLite{Path: "data/codex.db"},
			Postgres: Postgres{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: 30 * time.Minute,
			},
			DynamoDB: DynamoDB{
				TableName: "codex-" + string(l.environment),
				Region:    "us-east-1",
			},
		},
		Registry: Registry{
			HashAlgorithm: "SHA256",
			Durability: Durability{
				Workers:        4,
				QueueSize:      1024,
				MaxAttempts:    5,
				InitialBackoff: 100 * time.Millisecond,
				MaxBackoff:     5 * time.Second,
				BackoffFactor:  2.0,
				JitterFactor:   0.1,
				CircuitBreaker: CircuitBreaker{
					Enabled:             true,
					ConsecutiveFailures: 5,
					OpenTimeout:         30 * time.Second,
					HalfOpenRequests:    1,
				},
			},
			Compaction: Compaction{
				Schedule:       "@every 10m",
				TombstoneRatio: 0.5,
				MinTombstones:  1024,
			},
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Metrics: Metrics{
			Enabled:   true,
			Namespace: "codex",
			Path:      "/metrics",
		},
		Tracing: Tracing{
			ServiceName: "codex-backend",
			SampleRate:  0.1,
		},
		Events: Events{
			Source: "codex.graph",
		},
	}
	if l.environment == Development {
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "console"
	}
	return cfg
}

// ============================================================================
// FILE LOADERS
// ============================================================================

// YAMLLoader loads configuration from YAML files.
type YAMLLoader struct{}

func (y *YAMLLoader) Load(reader io.Reader, target any) error {
	return yaml.NewDecoder(reader).Decode(target)
}

func (y *YAMLLoader) Extensions() []string {
	return []string{"yaml", "yml"}
}

// JSONLoader loads configuration from JSON files. Durations are integer
// nanoseconds in JSON.
type JSONLoader struct{}

func (j *JSONLoader) Load(reader io.Reader, target any) error {
	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func (j *JSONLoader) Extensions() []string {
	return []string{"json"}
}

// TOMLLoader loads configuration from TOML files.
type TOMLLoader struct{}

func (t *TOMLLoader) Load(reader io.Reader, target any) error {
	_, err := toml.NewDecoder(reader).Decode(target)
	return err
}

func (t *TOMLLoader) Extensions() []string {
	return []string{"toml"}
}

// ============================================================================
// HELPER FUNCTIONS
// ============================================================================

func setString(key string, target *string) {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		*target = val
	}
}

func setInt(key string, target *int) {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			*target = parsed
		}
	}
}

func setFloat(key string, target *float64) {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			*target = parsed
		}
	}
}

func setBool(key string, target *bool) {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			*target = parsed
		}
	}
}

func setDuration(key string, target *time.Duration) {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			*target = parsed
		}
	}
}

// Load reads configuration from the directory named by CODEX_CONFIG_DIR
// (default "config") for the current environment.
func Load() (*Config, error) {
	return NewLoader(ConfigDir(), GetEnvironment()).Load()
}

// ConfigDir returns the configuration directory.
func ConfigDir() string {
	if dir := os.Getenv("CODEX_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "config"
}
