package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "switchboard.yaml"

// Config is the explicit value object handed to the store, engine and
// server at construction. Nothing reads these settings ambiently.
type Config struct {
	Addr       string `yaml:"addr"`
	SocketPath string `yaml:"socket_path"`
	DBPath     string `yaml:"db_path"`

	// OfferTTL bounds how long an expert may sit on an offer before the
	// sweep reverts it to queued.
	OfferTTL time.Duration `yaml:"offer_ttl"`

	// DispatchInterval is the fixed-interval fallback trigger; wake
	// signals are advisory and may be lost.
	DispatchInterval time.Duration `yaml:"dispatch_interval"`

	// MaxAttemptsPerCycle bounds one dispatch batch.
	MaxAttemptsPerCycle int `yaml:"max_attempts_per_cycle"`

	// SweepLimit bounds how many expired offers one sweep reverts.
	SweepLimit int `yaml:"sweep_limit"`

	// AverageSessionSeconds feeds the coarse wave-based wait estimate.
	AverageSessionSeconds int `yaml:"average_session_seconds"`

	// MaxQueueWait, when set, times out requests that have sat queued
	// longer than this. Zero disables queue timeouts entirely.
	MaxQueueWait time.Duration `yaml:"max_queue_wait"`

	// RejectionStatsWindow scopes the overview's rejection counts and
	// average-assignment-wait aggregates.
	RejectionStatsWindow time.Duration `yaml:"rejection_stats_window"`
}

// yamlConfig mirrors Config on disk. Durations are written in Go's
// duration syntax ("30s", "15m"); yaml.v3 has no native decoding for
// time.Duration.
type yamlConfig struct {
	Addr       string `yaml:"addr"`
	SocketPath string `yaml:"socket_path,omitempty"`
	DBPath     string `yaml:"db_path"`

	OfferTTL              string `yaml:"offer_ttl"`
	DispatchInterval      string `yaml:"dispatch_interval"`
	MaxAttemptsPerCycle   int    `yaml:"max_attempts_per_cycle"`
	SweepLimit            int    `yaml:"sweep_limit"`
	AverageSessionSeconds int    `yaml:"average_session_seconds"`
	MaxQueueWait          string `yaml:"max_queue_wait,omitempty"`
	RejectionStatsWindow  string `yaml:"rejection_stats_window"`
}

func (c Config) MarshalYAML() (any, error) {
	out := yamlConfig{
		Addr:                  c.Addr,
		SocketPath:            c.SocketPath,
		DBPath:                c.DBPath,
		OfferTTL:              c.OfferTTL.String(),
		DispatchInterval:      c.DispatchInterval.String(),
		MaxAttemptsPerCycle:   c.MaxAttemptsPerCycle,
		SweepLimit:            c.SweepLimit,
		AverageSessionSeconds: c.AverageSessionSeconds,
		RejectionStatsWindow:  c.RejectionStatsWindow.String(),
	}
	if c.MaxQueueWait != 0 {
		out.MaxQueueWait = c.MaxQueueWait.String()
	}
	return out, nil
}

func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw yamlConfig
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Addr = raw.Addr
	c.SocketPath = raw.SocketPath
	c.DBPath = raw.DBPath
	c.MaxAttemptsPerCycle = raw.MaxAttemptsPerCycle
	c.SweepLimit = raw.SweepLimit
	c.AverageSessionSeconds = raw.AverageSessionSeconds
	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"offer_ttl", raw.OfferTTL, &c.OfferTTL},
		{"dispatch_interval", raw.DispatchInterval, &c.DispatchInterval},
		{"max_queue_wait", raw.MaxQueueWait, &c.MaxQueueWait},
		{"rejection_stats_window", raw.RejectionStatsWindow, &c.RejectionStatsWindow},
	} {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = d
	}
	return nil
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Addr:                  ":7430",
		DBPath:                "switchboard.db",
		OfferTTL:              30 * time.Second,
		DispatchInterval:      2 * time.Second,
		MaxAttemptsPerCycle:   16,
		SweepLimit:            64,
		AverageSessionSeconds: 600,
		RejectionStatsWindow:  24 * time.Hour,
	}
}

// ResolvePath returns the config file path, honoring SWITCHBOARD_CONFIG.
func ResolvePath() string {
	if v := strings.TrimSpace(os.Getenv("SWITCHBOARD_CONFIG")); v != "" {
		return v
	}
	return defaultConfigFile
}

// Load reads the YAML config at path, filling unset fields from Default().
// A missing file is not an error: defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg.normalized()
}

func (c Config) normalized() (Config, error) {
	d := Default()
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = d.Addr
	}
	if strings.TrimSpace(c.DBPath) == "" {
		c.DBPath = d.DBPath
	}
	if c.OfferTTL <= 0 {
		c.OfferTTL = d.OfferTTL
	}
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = d.DispatchInterval
	}
	if c.MaxAttemptsPerCycle <= 0 {
		c.MaxAttemptsPerCycle = d.MaxAttemptsPerCycle
	}
	if c.SweepLimit <= 0 {
		c.SweepLimit = d.SweepLimit
	}
	if c.AverageSessionSeconds <= 0 {
		c.AverageSessionSeconds = d.AverageSessionSeconds
	}
	if c.RejectionStatsWindow <= 0 {
		c.RejectionStatsWindow = d.RejectionStatsWindow
	}
	if c.MaxQueueWait < 0 {
		return Config{}, fmt.Errorf("max_queue_wait must not be negative")
	}
	return c, nil
}
