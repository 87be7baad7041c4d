// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// FetchConfig configures outbound requests.
type FetchConfig struct {
	TimeoutSeconds     int      `mapstructure:"timeout_seconds"`
	MaxRedirects       int      `mapstructure:"max_redirects"`
	MaxBodyBytes       int      `mapstructure:"max_body_bytes"`
	InsecureSkipVerify bool     `mapstructure:"insecure_skip_verify"`
	ForwardHeaders     []string `mapstructure:"forward_headers"`
	MaxAttempts        int      `mapstructure:"max_attempts"`
	PerHostRPS         float64  `mapstructure:"per_host_rps"`
	PerHostBurst       int      `mapstructure:"per_host_burst"`
}

// ResolverConfig tunes the fallback walk.
type ResolverConfig struct {
	ValidateParallelism int `mapstructure:"validate_parallelism"`
	MaxImageDimension   int `mapstructure:"max_image_dimension"`
}

// CacheConfig controls the resolution cache.
type CacheConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}

// StorageConfig selects where winning icons are archived.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem blob store.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DatabaseConfig controls access to the resolution table.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for resolution event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// Storage backends.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GETICON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Container platforms hand the listen port over as PORT.
	if err := v.BindEnv("server.port", "PORT", "GETICON_SERVER_PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("fetch.timeout_seconds", 10)
	v.SetDefault("fetch.max_redirects", 5)
	v.SetDefault("fetch.max_body_bytes", 5<<20)
	v.SetDefault("fetch.insecure_skip_verify", true)
	v.SetDefault("fetch.forward_headers", []string{"Accept-Language", "Sec-Ch-Ua", "Sec-Ch-Ua-Mobile", "Sec-Ch-Ua-Platform"})
	v.SetDefault("fetch.max_attempts", 2)
	v.SetDefault("fetch.per_host_rps", 0)
	v.SetDefault("fetch.per_host_burst", 4)
	v.SetDefault("resolver.validate_parallelism", 1)
	v.SetDefault("resolver.max_image_dimension", 8192)
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.prefix", "icons")
	v.SetDefault("storage.local.base_dir", "data/icons")
	v.SetDefault("database.table", "icon_resolutions")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("telemetry.service_name", "geticon")
	v.SetDefault("telemetry.service_version", "dev")
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.sample_ratio", 0.1)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxRedirects < 0 {
		return fmt.Errorf("fetch.max_redirects must be >= 0")
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	if c.Fetch.PerHostRPS < 0 {
		return fmt.Errorf("fetch.per_host_rps must be >= 0")
	}
	if c.Resolver.ValidateParallelism <= 0 {
		return fmt.Errorf("resolver.validate_parallelism must be > 0")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be > 0")
	}
	backends := []string{StorageNone, StorageMemory, StorageLocal, StorageGCS}
	if !slices.Contains(backends, c.Storage.Backend) {
		return fmt.Errorf("storage.backend must be one of %s", strings.Join(backends, ", "))
	}
	if c.Storage.Backend == StorageGCS && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket must be set when storage.backend is gcs")
	}
	if c.Storage.Backend == StorageLocal && c.Storage.Local.BaseDir == "" {
		return fmt.Errorf("storage.local.base_dir must be set when storage.backend is local")
	}
	if c.Database.DSN != "" && c.Database.Table == "" {
		return fmt.Errorf("database.table must be set when database.dsn is set")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be in 0..1")
	}
	return nil
}

// FetchTimeout is the per-request outbound timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds one inbound API request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
