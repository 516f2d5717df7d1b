// Package config loads the process configuration for a memkit engine
// instance: YAML file, overridden by environment variables, overridden by
// nothing else. Precedence: defaults -> YAML file -> environment.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("memkit.yaml").
//	    WithEnvPrefix("MEMKIT").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration surface of spec.md §6.
type Config struct {
	Backend   BackendConfig   `yaml:"backend" env:"BACKEND"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`
	Batch     BatchConfig     `yaml:"batch" env:"BATCH"`
	Index     IndexConfig     `yaml:"index" env:"INDEX"`
	Link      LinkConfig      `yaml:"link" env:"LINK"`
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`
	Graph     GraphConfig     `yaml:"graph" env:"GRAPH"`
	Reduce    ReduceConfig    `yaml:"reduce" env:"REDUCE"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// BackendConfig selects the storage backend implementation.
type BackendConfig struct {
	// Kind is "memory" or "relational".
	Kind string `yaml:"kind" env:"KIND"`
}

// DatabaseConfig configures the relational backend's connection pool.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// EmbeddingConfig configures the embedding adapter (spec.md §4.2, §6).
type EmbeddingConfig struct {
	// Provider is "ollama" or "openai".
	Provider   string        `yaml:"provider" env:"PROVIDER"`
	Endpoint   string        `yaml:"endpoint" env:"ENDPOINT"`
	Model      string        `yaml:"model" env:"MODEL"`
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	Dimensions int           `yaml:"dimensions" env:"DIMENSIONS"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries int           `yaml:"max_retries" env:"MAX_RETRIES"`
}

// BatchConfig configures the embedding request batcher (spec.md §4.3).
type BatchConfig struct {
	Size       int           `yaml:"size" env:"SIZE"`
	TimeoutMS  time.Duration `yaml:"timeout_ms" env:"TIMEOUT_MS"`
	QueueDepth int           `yaml:"queue_depth" env:"QUEUE_DEPTH"`
}

// IndexConfig configures the Indexer (spec.md §4.4).
type IndexConfig struct {
	// Mode is "ephemeral" or "durable".
	Mode        string        `yaml:"mode" env:"MODE"`
	Workers     int           `yaml:"workers" env:"WORKERS"`
	DedupWindow time.Duration `yaml:"dedup_window" env:"DEDUP_WINDOW"`
}

// LinkConfig configures the auto-linker (spec.md §4.5).
type LinkConfig struct {
	Threshold     float64 `yaml:"threshold" env:"THRESHOLD"`
	MaxCandidates int     `yaml:"max_candidates" env:"MAX_CANDIDATES"`
	MaxLinks      int     `yaml:"max_links" env:"MAX_LINKS"`
}

// RetrievalConfig configures the Retrieval service (spec.md §4.7).
type RetrievalConfig struct {
	DefaultLimit     int     `yaml:"default_limit" env:"DEFAULT_LIMIT"`
	DefaultThreshold float64 `yaml:"default_threshold" env:"DEFAULT_THRESHOLD"`
}

// GraphConfig configures graph expansion defaults (spec.md §4.9).
type GraphConfig struct {
	DefaultDepth int `yaml:"default_depth" env:"DEFAULT_DEPTH"`
	MaxDepth     int `yaml:"max_depth" env:"MAX_DEPTH"`
}

// ReduceConfig configures the Reduction service (spec.md §4.8).
type ReduceConfig struct {
	DefaultMaxTokens int    `yaml:"default_max_tokens" env:"DEFAULT_MAX_TOKENS"`
	TokenModel       string `yaml:"token_model" env:"TOKEN_MODEL"` // encoding lookup for internal/tokencount
}

// RedisConfig configures the durable idempotency backend.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// LogConfig configures the zap logger shared by every service.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures OpenTelemetry tracing of the write/recall paths.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader builds a Config from defaults, an optional YAML file, and the
// environment.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the default env prefix "MEMKIT".
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "MEMKIT",
		validators: make([]func(*Config) error, 0),
	}
}

func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load returns a Config built in the order: defaults, YAML file, env.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads the config at path, panicking on error.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads config from defaults and the environment only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	var errs []string

	switch c.Backend.Kind {
	case "memory", "relational":
	default:
		errs = append(errs, "backend.kind must be memory or relational")
	}

	if c.Link.Threshold < 0 || c.Link.Threshold > 1 {
		errs = append(errs, "link.threshold must be in [0,1]")
	}
	if c.Retrieval.DefaultThreshold < 0 || c.Retrieval.DefaultThreshold > 1 {
		errs = append(errs, "retrieval.default_threshold must be in [0,1]")
	}
	if c.Graph.MaxDepth < c.Graph.DefaultDepth {
		errs = append(errs, "graph.max_depth must be >= graph.default_depth")
	}
	if c.Embedding.Dimensions < 0 {
		errs = append(errs, "embedding.dimensions must be non-negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN returns the relational backend's connection string.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	default:
		return ""
	}
}
