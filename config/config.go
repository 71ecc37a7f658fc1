// Package config loads the flame-conf.toml shared by the session manager and
// the executor manager.
package config

import (
	"time"

	"github.com/BurntSushi/toml"

	"github.com/k82cn/flame/pkg/errors"
)

const (
	DefaultEndpoint = "127.0.0.1:8080"
	DefaultStorage  = "sqlite://flame.db"
	DefaultPolicy   = "proportion"
	DefaultShim     = "host"
)

type Config struct {
	Name     string `toml:"name"`
	Endpoint string `toml:"endpoint"`
	// BackendEndpoint defaults to the frontend port plus one.
	BackendEndpoint string `toml:"backend_endpoint"`

	Storage string `toml:"storage"`
	Policy  string `toml:"policy"`

	TickIntervalMs         int64 `toml:"tick_interval_ms"`
	BindWaitMs             int64 `toml:"bind_wait_ms"`
	StarvationThresholdMs  int64 `toml:"starvation_threshold_ms"`
	ExecutorLeaseExpiryMs  int64 `toml:"lease_expiry_ms"`

	Default   DefaultConfig   `toml:"default"`
	Executors ExecutorsConfig `toml:"executors"`
}

type DefaultConfig struct {
	// Slot is the slot cost assigned to sessions that do not set one.
	Slot int `toml:"slot"`
}

type ExecutorsConfig struct {
	MaxExecutors int    `toml:"max_executors"`
	Shim         string `toml:"shim"`
	// Slots is the capacity each local executor offers.
	Slots int `toml:"slots"`
	// WorkDir hosts shim sockets and scratch space.
	WorkDir string `toml:"work_dir"`
}

// Load reads the TOML file at path; an empty path yields pure defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, errors.ErrInvalidArgument.Wrap(err).GenWithStackByArgs(
				"decode config " + path)
		}
	}
	return cfg.Adjust(), nil
}

// Adjust fills defaults in place and returns the config.
func (c *Config) Adjust() *Config {
	if c.Name == "" {
		c.Name = "flame"
	}
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Storage == "" {
		c.Storage = DefaultStorage
	}
	if c.Policy == "" {
		c.Policy = DefaultPolicy
	}
	if c.TickIntervalMs <= 0 {
		c.TickIntervalMs = 100
	}
	if c.BindWaitMs <= 0 {
		c.BindWaitMs = 10_000
	}
	if c.StarvationThresholdMs <= 0 {
		c.StarvationThresholdMs = 5_000
	}
	if c.ExecutorLeaseExpiryMs <= 0 {
		c.ExecutorLeaseExpiryMs = 30_000
	}
	if c.Default.Slot <= 0 {
		c.Default.Slot = 1
	}
	if c.Executors.MaxExecutors <= 0 {
		c.Executors.MaxExecutors = 128
	}
	if c.Executors.Shim == "" {
		c.Executors.Shim = DefaultShim
	}
	if c.Executors.Slots <= 0 {
		c.Executors.Slots = 1
	}
	if c.Executors.WorkDir == "" {
		c.Executors.WorkDir = "/tmp/flame"
	}
	return c
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

func (c *Config) BindWait() time.Duration {
	return time.Duration(c.BindWaitMs) * time.Millisecond
}

func (c *Config) StarvationThreshold() time.Duration {
	return time.Duration(c.StarvationThresholdMs) * time.Millisecond
}

func (c *Config) LeaseExpiry() time.Duration {
	return time.Duration(c.ExecutorLeaseExpiryMs) * time.Millisecond
}
