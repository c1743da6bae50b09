// Package config provides configuration management for cohort.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultWorkerPort      = 37710
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMaxConns        = 8
	DefaultLockTTL         = 600 * time.Second
	DefaultEmbeddingModel  = "text-embedding-3-small"
	DefaultDimensions      = 768
	DefaultMode            = "batch"
	DefaultStrategy        = "agglomerative"
	DefaultSimThreshold    = 0.72
	DefaultMinClusterSize  = 2
	DefaultNeighborTop     = 20

	DefaultMaintenanceInterval   = 6 * time.Hour
	DefaultArchivedRetentionDays = 90
)

// Config holds the application configuration.
type Config struct {
	Worker      WorkerConfig      `yaml:"worker"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Redis       RedisConfig       `yaml:"redis"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Clustering  ClusteringConfig  `yaml:"clustering"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	LogLevel    string            `yaml:"log_level"`
}

// MaintenanceConfig holds the offline maintenance loop settings.
type MaintenanceConfig struct {
	Enabled bool `yaml:"enabled"`
	// Interval between maintenance runs.
	Interval time.Duration `yaml:"interval"`
	// ArchivedRetentionDays is how long archived clusters are kept before
	// their records and vectors are removed. Zero disables cleanup.
	ArchivedRetentionDays int `yaml:"archived_retention_days"`
}

// WorkerConfig holds HTTP service settings.
type WorkerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// PostgresConfig holds database settings.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns"`
}

// RedisConfig holds coordination-store settings.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// ClusteringConfig holds run-mode settings.
type ClusteringConfig struct {
	// Mode is "batch" or "online".
	Mode string `yaml:"mode"`
	// Strategy is "agglomerative", "centroid", or "firstmatch".
	Strategy       string  `yaml:"strategy"`
	SimThreshold   float64 `yaml:"sim_threshold"`
	MinClusterSize int     `yaml:"min_cluster_size"`
	NeighborTop    int     `yaml:"neighbor_top"`
}

// Default returns a Config with default values. Required connection
// settings (postgres DSN, redis addr, embedding API key) stay empty and
// must come from the settings file or environment.
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			Port:            DefaultWorkerPort,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Postgres: PostgresConfig{
			MaxConns: DefaultMaxConns,
		},
		Redis: RedisConfig{
			LockTTL: DefaultLockTTL,
		},
		Embedding: EmbeddingConfig{
			Model:      DefaultEmbeddingModel,
			Dimensions: DefaultDimensions,
		},
		Clustering: ClusteringConfig{
			Mode:           DefaultMode,
			Strategy:       DefaultStrategy,
			SimThreshold:   DefaultSimThreshold,
			MinClusterSize: DefaultMinClusterSize,
			NeighborTop:    DefaultNeighborTop,
		},
		Maintenance: MaintenanceConfig{
			Enabled:               true,
			Interval:              DefaultMaintenanceInterval,
			ArchivedRetentionDays: DefaultArchivedRetentionDays,
		},
		LogLevel: "info",
	}
}

// Load reads configuration from the given YAML file, merging with defaults
// and applying COHORT_* environment overrides last. A missing file is not
// an error; the environment alone can carry the required settings.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	envString("COHORT_LOG_LEVEL", &c.LogLevel)
	envInt("COHORT_WORKER_PORT", &c.Worker.Port)
	envString("COHORT_POSTGRES_DSN", &c.Postgres.DSN)
	envInt("COHORT_POSTGRES_MAX_CONNS", &c.Postgres.MaxConns)
	envString("COHORT_REDIS_ADDR", &c.Redis.Addr)
	envString("COHORT_REDIS_PASSWORD", &c.Redis.Password)
	envInt("COHORT_REDIS_DB", &c.Redis.DB)
	envString("COHORT_EMBEDDING_BASE_URL", &c.Embedding.BaseURL)
	envString("COHORT_EMBEDDING_API_KEY", &c.Embedding.APIKey)
	envString("COHORT_EMBEDDING_MODEL", &c.Embedding.Model)
	envInt("COHORT_EMBEDDING_DIMENSIONS", &c.Embedding.Dimensions)
	envString("COHORT_CLUSTERING_MODE", &c.Clustering.Mode)
	envString("COHORT_CLUSTERING_STRATEGY", &c.Clustering.Strategy)
	envFloat("COHORT_CLUSTERING_SIM_THRESHOLD", &c.Clustering.SimThreshold)
	envInt("COHORT_CLUSTERING_MIN_CLUSTER_SIZE", &c.Clustering.MinClusterSize)
	envInt("COHORT_CLUSTERING_NEIGHBOR_TOP", &c.Clustering.NeighborTop)
	envBool("COHORT_MAINTENANCE_ENABLED", &c.Maintenance.Enabled)
	envInt("COHORT_MAINTENANCE_RETENTION_DAYS", &c.Maintenance.ArchivedRetentionDays)
}

// Validate checks that required settings are present and consistent.
func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres DSN is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	if c.Embedding.APIKey == "" {
		return fmt.Errorf("embedding API key is required")
	}
	switch c.Clustering.Mode {
	case "batch", "online":
	default:
		return fmt.Errorf("invalid clustering mode %q", c.Clustering.Mode)
	}
	switch c.Clustering.Strategy {
	case "agglomerative", "centroid", "firstmatch":
	default:
		return fmt.Errorf("invalid clustering strategy %q", c.Clustering.Strategy)
	}
	if c.Clustering.SimThreshold <= 0 || c.Clustering.SimThreshold > 1 {
		return fmt.Errorf("clustering sim_threshold must be in (0, 1], got %v", c.Clustering.SimThreshold)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive")
	}
	if c.Worker.Port <= 0 || c.Worker.Port > 65535 {
		return fmt.Errorf("invalid worker port %d", c.Worker.Port)
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
