// Package config loads the demo configuration from YAML with environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/n-r-w/swrcache"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SWRCACHE_"

// Config holds all demo configuration.
type Config struct {
	Cache      Cache      `yaml:"cache" envPrefix:"CACHE_"`
	Origin     Origin     `yaml:"origin" envPrefix:"ORIGIN_"`
	Simulation Simulation `yaml:"simulation" envPrefix:"SIMULATION_"`
	Log        Log        `yaml:"log" envPrefix:"LOG_"`
	Telemetry  Telemetry  `yaml:"telemetry" envPrefix:"OTEL_"`
}

// Cache holds the cache windows and limits.
type Cache struct {
	FreshTime  time.Duration `yaml:"fresh_time" env:"FRESH_TIME"`
	GCTime     time.Duration `yaml:"gc_time" env:"GC_TIME"`
	MaxEntries int           `yaml:"max_entries" env:"MAX_ENTRIES"` // 0 is unbounded
	BatchSize  int           `yaml:"batch_size" env:"BATCH_SIZE"`
}

// Origin holds the simulated remote source settings.
type Origin struct {
	Items       int           `yaml:"items" env:"ITEMS"`
	Latency     time.Duration `yaml:"latency" env:"LATENCY"`
	FailureRate float64       `yaml:"failure_rate" env:"FAILURE_RATE"`
}

// Simulation holds the workload settings.
type Simulation struct {
	Duration         time.Duration `yaml:"duration" env:"DURATION"`
	Readers          int           `yaml:"readers" env:"READERS"`
	ReadInterval     time.Duration `yaml:"read_interval" env:"READ_INTERVAL"`
	MutationInterval time.Duration `yaml:"mutation_interval" env:"MUTATION_INTERVAL"`
	WaitTimeout      time.Duration `yaml:"wait_timeout" env:"WAIT_TIMEOUT"`
}

// Log holds logging settings.
type Log struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Pretty bool   `yaml:"pretty" env:"PRETTY"`
}

// Telemetry holds the opt-in tracing exporter settings.
type Telemetry struct {
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Cache: Cache{
			FreshTime:  30 * time.Second,
			GCTime:     5 * time.Minute,
			MaxEntries: 0,
			BatchSize:  3,
		},
		Origin: Origin{
			Items:       12,
			Latency:     50 * time.Millisecond,
			FailureRate: 0.05,
		},
		Simulation: Simulation{
			Duration:         10 * time.Second,
			Readers:          4,
			ReadInterval:     300 * time.Millisecond,
			MutationInterval: 2 * time.Second,
			WaitTimeout:      time.Second,
		},
		Log: Log{
			Level:  "info",
			Pretty: true,
		},
		Telemetry: Telemetry{Endpoint: ""},
	}
}

// Load reads the YAML file at path over the defaults, then applies environment overrides.
// An empty path or a missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil { //nolint:exhaustruct // defaults
		return nil, fmt.Errorf("config: parse env: %w", err)
	}

	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return nil
}

// CacheConfig returns the cache windows.
func (c *Config) CacheConfig() swrcache.Config {
	return swrcache.Config{FreshTime: c.Cache.FreshTime, GCTime: c.Cache.GCTime}
}

// Validate checks that config values are usable.
func (c *Config) Validate() error {
	if err := c.CacheConfig().Validate(); err != nil {
		return fmt.Errorf("config: cache: %w", err)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("config: cache.max_entries must not be negative, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.BatchSize <= 0 {
		return fmt.Errorf("config: cache.batch_size must be positive, got %d", c.Cache.BatchSize)
	}
	if c.Origin.Items <= 0 {
		return fmt.Errorf("config: origin.items must be positive, got %d", c.Origin.Items)
	}
	if c.Origin.FailureRate < 0 || c.Origin.FailureRate > 1 {
		return fmt.Errorf("config: origin.failure_rate must be within [0, 1], got %v", c.Origin.FailureRate)
	}
	if c.Simulation.Readers <= 0 {
		return fmt.Errorf("config: simulation.readers must be positive, got %d", c.Simulation.Readers)
	}
	if c.Simulation.Duration <= 0 || c.Simulation.ReadInterval <= 0 || c.Simulation.MutationInterval <= 0 {
		return errors.New("config: simulation intervals must be positive")
	}
	if c.Simulation.WaitTimeout <= 0 {
		return fmt.Errorf("config: simulation.wait_timeout must be positive, got %v", c.Simulation.WaitTimeout)
	}

	return nil
}
