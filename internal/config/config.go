// Package config loads ledgerd's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ReplayConfig bounds the event-replay fallback.
type ReplayConfig struct {
	ChunkSize     int `yaml:"chunk_size"`
	MaxRetries    int `yaml:"max_retries"`
	BackoffBaseMS int `yaml:"backoff_base_ms"`
	BackoffMaxMS  int `yaml:"backoff_max_ms"`
}

// Config is the full ledgerd configuration. Durations are expressed in
// explicit units so the file stays unambiguous.
type Config struct {
	Listen    string `yaml:"listen"`
	DBPath    string `yaml:"db_path"`
	Authority string `yaml:"authority"`

	MinRecordingIntervalSec   int `yaml:"min_recording_interval_sec"`
	MinInteractionIntervalSec int `yaml:"min_interaction_interval_sec"`
	CorrelationWindowSec      int `yaml:"correlation_window_sec"`
	MonitorDebounceMS         int `yaml:"monitor_debounce_ms"`

	Replay ReplayConfig `yaml:"replay"`
}

func (c *Config) defaults() {
	if c.Listen == "" {
		c.Listen = ":8480"
	}
	if c.DBPath == "" {
		c.DBPath = "consciousness.db"
	}
	if c.Authority == "" {
		c.Authority = "ledger-authority"
	}
	if c.MinRecordingIntervalSec <= 0 {
		c.MinRecordingIntervalSec = 60
	}
	if c.MinInteractionIntervalSec <= 0 {
		c.MinInteractionIntervalSec = 30
	}
	if c.CorrelationWindowSec <= 0 {
		c.CorrelationWindowSec = 300
	}
	if c.MonitorDebounceMS <= 0 {
		c.MonitorDebounceMS = 500
	}
	if c.Replay.ChunkSize <= 0 {
		c.Replay.ChunkSize = 256
	}
	if c.Replay.MaxRetries <= 0 {
		c.Replay.MaxRetries = 3
	}
	if c.Replay.BackoffBaseMS <= 0 {
		c.Replay.BackoffBaseMS = 200
	}
	if c.Replay.BackoffMaxMS <= 0 {
		c.Replay.BackoffMaxMS = 5000
	}
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var c Config
	c.defaults()
	return c
}

// Load reads and validates a YAML config file. Missing fields fall back to
// defaults; an unreadable or malformed file is an error.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	c.defaults()
	return c, nil
}

// #region accessors

func (c Config) MinRecordingInterval() time.Duration {
	return time.Duration(c.MinRecordingIntervalSec) * time.Second
}

func (c Config) MinInteractionInterval() time.Duration {
	return time.Duration(c.MinInteractionIntervalSec) * time.Second
}

func (c Config) CorrelationWindow() time.Duration {
	return time.Duration(c.CorrelationWindowSec) * time.Second
}

func (c Config) MonitorDebounce() time.Duration {
	return time.Duration(c.MonitorDebounceMS) * time.Millisecond
}

func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.Replay.BackoffBaseMS) * time.Millisecond
}

func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.Replay.BackoffMaxMS) * time.Millisecond
}

// #endregion accessors
