package playout

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/channel-io/go-jitter/pkg/jitter"
)

// FileConfig is the on-disk configuration of a playout session.
type FileConfig struct {
	Listen        string       `yaml:"listen"`
	Output        string       `yaml:"output"`
	MetricsAddr   string       `yaml:"metrics_addr"`
	LogLevel      string       `yaml:"log_level"`
	ReadTimeoutMs int          `yaml:"read_timeout_ms"` // bounded network wait (default: 100)
	Jitter        JitterConfig `yaml:"jitter"`
}

// JitterConfig mirrors jitter.Config with plain millisecond fields.
type JitterConfig struct {
	MinDelayMs      int    `yaml:"min_delay_ms"`
	MaxDelayMs      int    `yaml:"max_delay_ms"`
	ClockRate       uint32 `yaml:"clock_rate"` // ticks per millisecond, 8 for 8 kHz
	FrameMs         int    `yaml:"frame_ms"`
	MarkerThreshold int    `yaml:"marker_threshold"`
	OverrunLimit    int    `yaml:"overrun_limit"`
	DecayWindowMs   int    `yaml:"decay_window_ms"`
	MinSamples      int    `yaml:"min_samples"`
}

func DefaultFileConfig() FileConfig {
	d := jitter.DefaultConfig()
	return FileConfig{
		Listen:        ":5004",
		Output:        "-",
		LogLevel:      "info",
		ReadTimeoutMs: 100,
		Jitter: JitterConfig{
			MinDelayMs:      int(d.MinDelay / time.Millisecond),
			MaxDelayMs:      int(d.MaxDelay / time.Millisecond),
			ClockRate:       d.ClockRate,
			FrameMs:         int(d.FrameDuration / time.Millisecond),
			MarkerThreshold: d.MarkerThreshold,
			OverrunLimit:    d.OverrunLimit,
			DecayWindowMs:   int(d.DecayWindow / time.Millisecond),
			MinSamples:      d.MinSamples,
		},
	}
}

// LoadConfig reads a YAML file on top of the defaults.
func LoadConfig(path string) (FileConfig, error) {
	cfg := DefaultFileConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.JitterConfig().Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c FileConfig) JitterConfig() jitter.Config {
	return jitter.Config{
		MinDelay:        time.Duration(c.Jitter.MinDelayMs) * time.Millisecond,
		MaxDelay:        time.Duration(c.Jitter.MaxDelayMs) * time.Millisecond,
		ClockRate:       c.Jitter.ClockRate,
		FrameDuration:   time.Duration(c.Jitter.FrameMs) * time.Millisecond,
		MarkerThreshold: c.Jitter.MarkerThreshold,
		OverrunLimit:    c.Jitter.OverrunLimit,
		DecayWindow:     time.Duration(c.Jitter.DecayWindowMs) * time.Millisecond,
		MinSamples:      c.Jitter.MinSamples,
	}
}

func (c FileConfig) ReadTimeout() time.Duration {
	if c.ReadTimeoutMs <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

// Tick is the playout period, one frame.
func (c FileConfig) Tick() time.Duration {
	if c.Jitter.FrameMs <= 0 {
		return 20 * time.Millisecond
	}
	return time.Duration(c.Jitter.FrameMs) * time.Millisecond
}

// FrameTicks is the media-clock length of one frame.
func (c FileConfig) FrameTicks() uint32 {
	return uint32(c.Tick()/time.Millisecond) * c.Jitter.ClockRate
}
