package jitter

import (
	"fmt"
	"time"
)

const (
	defaultMarkerThreshold = 10
	defaultOverrunLimit    = 20
	defaultDecayWindow     = 5 * time.Second
	defaultMinSamples      = 50
)

// Config describes a buffer. Delays are wall-clock durations; internally they
// are carried in media-clock ticks (ClockRate ticks per millisecond).
type Config struct {
	MinDelay time.Duration
	MaxDelay time.Duration

	// ClockRate is the media clock in ticks per millisecond, e.g. 8 for 8 kHz audio.
	ClockRate uint32

	// FrameDuration is the shortest frame the stream may carry. Capacity is
	// MaxDelay / FrameDuration.
	FrameDuration time.Duration

	// MarkerThreshold is the number of consecutive marked frames after which
	// markers are considered bogus and stripped.
	MarkerThreshold int

	// OverrunLimit is the number of ingests without a drain after which an
	// overrun flushes the whole queue instead of evicting one frame.
	OverrunLimit int

	DecayWindow time.Duration
	MinSamples  int
}

func DefaultConfig() Config {
	return Config{
		MinDelay:        20 * time.Millisecond,
		MaxDelay:        200 * time.Millisecond,
		ClockRate:       8,
		FrameDuration:   20 * time.Millisecond,
		MarkerThreshold: defaultMarkerThreshold,
		OverrunLimit:    defaultOverrunLimit,
		DecayWindow:     defaultDecayWindow,
		MinSamples:      defaultMinSamples,
	}
}

// withDefaults fills zero tuning knobs. Delay bounds and clock rate are left
// to Validate.
func (c Config) withDefaults() Config {
	if c.FrameDuration <= 0 {
		c.FrameDuration = 20 * time.Millisecond
	}
	if c.MarkerThreshold <= 0 {
		c.MarkerThreshold = defaultMarkerThreshold
	}
	if c.OverrunLimit <= 0 {
		c.OverrunLimit = defaultOverrunLimit
	}
	if c.DecayWindow <= 0 {
		c.DecayWindow = defaultDecayWindow
	}
	if c.MinSamples <= 0 {
		c.MinSamples = defaultMinSamples
	}
	return c
}

func (c Config) Validate() error {
	if c.ClockRate == 0 {
		return fmt.Errorf("%w: clock rate must be positive", ErrInvalidConfig)
	}
	return validateDelays(c.MinDelay, c.MaxDelay)
}

func validateDelays(minDelay, maxDelay time.Duration) error {
	if minDelay <= 0 {
		return fmt.Errorf("%w: min delay %v must be positive", ErrInvalidConfig, minDelay)
	}
	if maxDelay < minDelay {
		return fmt.Errorf("%w: max delay %v below min delay %v", ErrInvalidConfig, maxDelay, minDelay)
	}
	return nil
}

// Capacity is the number of frame slots needed to hold MaxDelay worth of the
// shortest frames.
func (c Config) Capacity() int {
	c = c.withDefaults()
	n := int(c.MaxDelay / c.FrameDuration)
	if n < 1 {
		n = 1
	}
	return n
}

// ticks converts a wall-clock duration to media-clock ticks.
func (c Config) ticks(d time.Duration) int64 {
	return int64(d) * int64(c.ClockRate) / int64(time.Millisecond)
}

// duration converts media-clock ticks back to wall-clock time.
func (c Config) duration(ticks int64) time.Duration {
	if c.ClockRate == 0 {
		return 0
	}
	return time.Duration(ticks * int64(time.Millisecond) / int64(c.ClockRate))
}
