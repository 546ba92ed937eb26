// Package config loads and validates the engine configuration from YAML.
// Missing files and missing fields fall back to defaults, and out-of-range
// values are clamped rather than rejected so a bad config never stops the
// engine from starting.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Seed  int64 `yaml:"seed"`
	Noise Noise `yaml:"noise"`

	Streaming Streaming `yaml:"streaming"`
	Scheduler Scheduler `yaml:"scheduler"`

	Persistence Persistence `yaml:"persistence"`

	Brush Brush `yaml:"brush"`
}

type Noise struct {
	// Backend selects the noise implementation: "opensimplex" or "perlin".
	Backend string `yaml:"backend"`
	// Wavelengths lists one octave per entry, in world units.
	Wavelengths      []float64 `yaml:"wavelengths"`
	BaseHeight       float64   `yaml:"base_height"`
	GradientStrength float64   `yaml:"gradient_strength"`
}

type Streaming struct {
	LoadRadius          int `yaml:"load_radius"`
	UnloadRadius        int `yaml:"unload_radius"`
	RadiusBelow         int `yaml:"radius_below"`
	RadiusAbove         int `yaml:"radius_above"`
	MaxRequestsPerCycle int `yaml:"max_requests_per_cycle"`
	UpdateIntervalMs    int `yaml:"update_interval_ms"`
	EvictIntervalMs     int `yaml:"evict_interval_ms"`
}

type Scheduler struct {
	Workers            int `yaml:"workers"`
	DispatchIntervalMs int `yaml:"dispatch_interval_ms"`
	HealthIntervalMs   int `yaml:"health_interval_ms"`
	StuckTimeoutMs     int `yaml:"stuck_timeout_ms"`
	FailureThreshold   int `yaml:"failure_threshold"`
	BatchMultiplier    int `yaml:"batch_multiplier"`
}

type Persistence struct {
	// Path to the chunk snapshot database. Empty disables persistence.
	Path string `yaml:"path"`
}

type Brush struct {
	Radius      float64 `yaml:"radius"`
	Strength    float64 `yaml:"strength"`
	Shape       string  `yaml:"shape"`
	Verticality float64 `yaml:"verticality"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Seed: 1337,
		Noise: Noise{
			Backend:          "opensimplex",
			Wavelengths:      []float64{96, 48, 24},
			BaseHeight:       24,
			GradientStrength: 20,
		},
		Streaming: Streaming{
			LoadRadius:          4,
			UnloadRadius:        6,
			RadiusBelow:         3,
			RadiusAbove:         1,
			MaxRequestsPerCycle: 24,
			UpdateIntervalMs:    100,
			EvictIntervalMs:     750,
		},
		Scheduler: Scheduler{
			DispatchIntervalMs: 50,
			HealthIntervalMs:   1000,
			StuckTimeoutMs:     10000,
			FailureThreshold:   5,
			BatchMultiplier:    3,
		},
		Brush: Brush{
			Radius:      3,
			Strength:    4,
			Shape:       "sphere",
			Verticality: 1,
		},
	}
}

// Load reads the config at path, layered over Default. A missing file is not
// an error; the defaults are returned. The result is always clamped.
func Load(path string) (Config, error) {
	c := Default()
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		c.Clamp()
		return c, nil
	}
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", path, err)
	}
	c.Clamp()
	return c, nil
}

// Clamp forces every tunable into its working range.
func (c *Config) Clamp() {
	if c.Noise.Backend == "" {
		c.Noise.Backend = "opensimplex"
	}
	// Wavelengths divide noise coordinates, so zero and negative entries are
	// dropped rather than passed through.
	valid := c.Noise.Wavelengths[:0]
	for _, wl := range c.Noise.Wavelengths {
		if wl > 0 {
			valid = append(valid, wl)
		}
	}
	c.Noise.Wavelengths = valid
	if len(c.Noise.Wavelengths) == 0 {
		c.Noise.Wavelengths = []float64{96, 48, 24}
	}
	if c.Noise.GradientStrength == 0 {
		c.Noise.GradientStrength = 20
	}

	c.Streaming.LoadRadius = clampInt(c.Streaming.LoadRadius, 1, 16)
	if c.Streaming.UnloadRadius < c.Streaming.LoadRadius+2 {
		c.Streaming.UnloadRadius = c.Streaming.LoadRadius + 2
	}
	c.Streaming.RadiusBelow = clampInt(c.Streaming.RadiusBelow, 1, 8)
	c.Streaming.RadiusAbove = clampInt(c.Streaming.RadiusAbove, 1, 8)
	c.Streaming.MaxRequestsPerCycle = clampInt(c.Streaming.MaxRequestsPerCycle, 1, 256)
	c.Streaming.UpdateIntervalMs = clampInt(c.Streaming.UpdateIntervalMs, 10, 5000)
	if c.Streaming.EvictIntervalMs < c.Streaming.UpdateIntervalMs {
		c.Streaming.EvictIntervalMs = c.Streaming.UpdateIntervalMs * 5
	}

	if c.Scheduler.Workers < 0 {
		c.Scheduler.Workers = 0 // auto-size
	}
	c.Scheduler.DispatchIntervalMs = clampInt(c.Scheduler.DispatchIntervalMs, 5, 1000)
	c.Scheduler.HealthIntervalMs = clampInt(c.Scheduler.HealthIntervalMs, 100, 60000)
	c.Scheduler.StuckTimeoutMs = clampInt(c.Scheduler.StuckTimeoutMs, 1000, 120000)
	c.Scheduler.FailureThreshold = clampInt(c.Scheduler.FailureThreshold, 1, 100)
	c.Scheduler.BatchMultiplier = clampInt(c.Scheduler.BatchMultiplier, 1, 16)

	if c.Brush.Radius <= 0 {
		c.Brush.Radius = 3
	}
	if c.Brush.Strength <= 0 {
		c.Brush.Strength = 4
	}
	if c.Brush.Verticality <= 0 {
		c.Brush.Verticality = 1
	}
}

// UpdateInterval returns the streaming update cadence as a duration.
func (s Streaming) UpdateInterval() time.Duration {
	return time.Duration(s.UpdateIntervalMs) * time.Millisecond
}

// EvictInterval returns the eviction cadence as a duration.
func (s Streaming) EvictInterval() time.Duration {
	return time.Duration(s.EvictIntervalMs) * time.Millisecond
}

// DispatchInterval returns the dispatch cadence as a duration.
func (s Scheduler) DispatchInterval() time.Duration {
	return time.Duration(s.DispatchIntervalMs) * time.Millisecond
}

// HealthInterval returns the worker health check cadence as a duration.
func (s Scheduler) HealthInterval() time.Duration {
	return time.Duration(s.HealthIntervalMs) * time.Millisecond
}

// StuckTimeout returns how long a worker may hold one task before it is
// considered stuck.
func (s Scheduler) StuckTimeout() time.Duration {
	return time.Duration(s.StuckTimeoutMs) * time.Millisecond
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
