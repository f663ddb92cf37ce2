// Package config loads and validates process configuration from an optional
// YAML file overlaid with environment variables.
package config

import (
	"strings"
	"time"

	"github.com/brgmlab/hydropipe/internal/faults"
)

// Config holds all configuration for the pipeline process.
type Config struct {
	// LogLevel is the global logging level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// PackageLogLevels overrides levels per component, wildcard patterns
	// allowed (e.g. "gold.*": "debug").
	PackageLogLevels map[string]string `yaml:"package_log_levels"`

	// AdminPort serves /metrics and health endpoints.
	AdminPort int `yaml:"admin_port"`

	// RunTimezone is the timezone schedules fire in and daily partition
	// keys are derived in.
	RunTimezone string `yaml:"run_timezone"`

	// MaxConcurrent caps parallel asset runs within one materialization.
	MaxConcurrent int `yaml:"max_concurrent"`

	Warehouse WarehouseConfig `yaml:"warehouse"`
	Graph     GraphConfig     `yaml:"graph"`
	Cache     CacheConfig     `yaml:"cache"`
	Object    ObjectConfig    `yaml:"object"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Harvest   HarvestConfig   `yaml:"harvest"`
}

// WarehouseConfig points at the TimescaleDB/PostGIS warehouse.
type WarehouseConfig struct {
	DSN string `yaml:"dsn"`
}

// GraphConfig points at FalkorDB.
type GraphConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	GraphName string `yaml:"graph_name"`
}

// CacheConfig points at the redis run-state store.
type CacheConfig struct {
	URI string `yaml:"uri"`
}

// ObjectConfig points at the MinIO bronze store.
type ObjectConfig struct {
	Endpoint  string   `yaml:"endpoint"`
	AccessKey string   `yaml:"access_key"`
	SecretKey string   `yaml:"secret_key"`
	UseSSL    bool     `yaml:"use_ssl"`
	Buckets   []string `yaml:"buckets"`
}

// Bucket returns the primary (bronze) bucket.
func (o ObjectConfig) Bucket() string {
	if len(o.Buckets) == 0 {
		return ""
	}
	return o.Buckets[0]
}

// TracingConfig controls OTLP span export.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// HarvestConfig tunes the HTTP harvester.
type HarvestConfig struct {
	BackoffFactor       float64 `yaml:"backoff_factor"`
	EndpointConcurrency int     `yaml:"endpoint_concurrency"`
	CoordCacheSize      int     `yaml:"coord_cache_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:      "info",
		AdminPort:     9090,
		RunTimezone:   "Europe/Paris",
		MaxConcurrent: 3,
		Graph: GraphConfig{
			Host:      "localhost",
			Port:      6379,
			GraphName: "hydropipe",
		},
		Cache: CacheConfig{
			URI: "redis://localhost:6379/1",
		},
		Object: ObjectConfig{
			Endpoint: "localhost:9000",
			Buckets:  []string{"hydro-bronze"},
		},
		Harvest: HarvestConfig{
			BackoffFactor:       2.0,
			EndpointConcurrency: 4,
			CoordCacheSize:      4096,
		},
	}
}

// Location resolves the run timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.RunTimezone)
	if err != nil {
		return nil, faults.Config("invalid run_timezone %q: %v", c.RunTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		return faults.Config("admin_port must be between 1 and 65535, got %d", c.AdminPort)
	}
	if c.MaxConcurrent < 1 {
		return faults.Config("max_concurrent must be at least 1, got %d", c.MaxConcurrent)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if len(c.Object.Buckets) == 0 {
		return faults.Config("object.buckets must name at least one bucket")
	}
	for _, bucket := range c.Object.Buckets {
		if strings.TrimSpace(bucket) == "" {
			return faults.Config("object.buckets must not contain empty names")
		}
	}
	if c.Graph.Port < 1 || c.Graph.Port > 65535 {
		return faults.Config("graph.port must be between 1 and 65535, got %d", c.Graph.Port)
	}
	if c.Harvest.BackoffFactor < 1 {
		return faults.Config("harvest.backoff_factor must be >= 1, got %g", c.Harvest.BackoffFactor)
	}
	if c.Harvest.EndpointConcurrency < 1 {
		return faults.Config("harvest.endpoint_concurrency must be at least 1, got %d", c.Harvest.EndpointConcurrency)
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return faults.Config("tracing.endpoint required when tracing is enabled")
	}
	return nil
}
