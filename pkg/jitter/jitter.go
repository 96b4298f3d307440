package jitter

import (
	"time"

	"github.com/samber/lo"
)

type Factory struct {
	config Config
	opts   []Option
}

func NewFactory(config Config, opts ...Option) *Factory {
	return &Factory{
		config: config,
		opts:   opts,
	}
}

func (f *Factory) CreateBuffer() (*Buffer, error) {
	return NewBuffer(f.config, f.opts...)
}

// Estimator turns per-frame jitter measurements into a target delay. It grows
// the target as soon as a sample asks for it and only shrinks it once a whole
// decay window has gone by with enough samples. All values are media ticks.
type Estimator struct {
	minDelay int64
	maxDelay int64

	window     time.Duration
	minSamples int

	accum       int64 // largest sample in the current window
	samples     int
	windowStart time.Time
}

func NewEstimator(minDelay, maxDelay int64, window time.Duration, minSamples int) *Estimator {
	return &Estimator{
		minDelay:   minDelay,
		maxDelay:   maxDelay,
		window:     window,
		minSamples: minSamples,
	}
}

// Reset drops the collected samples and starts a new window at now.
func (e *Estimator) Reset(now time.Time) {
	e.accum = 0
	e.samples = 0
	e.windowStart = now
}

// Observe feeds one measured jitter value and returns the new target.
func (e *Estimator) Observe(measured, current, target int64, now time.Time) int64 {
	// measured > 0.8 * current: the estimate is stale, stop shrinking
	if measured*5 > current*4 {
		e.Reset(now)
		return lo.Max([]int64{target, current})
	}

	e.accum = lo.Max([]int64{e.accum, measured})
	e.samples++

	candidate := lo.Clamp(measured*5/4, e.minDelay, e.maxDelay)
	if candidate > target {
		return candidate
	}
	return target
}

// Decay applies the slow shrink rule and returns the new target.
func (e *Estimator) Decay(target int64, now time.Time) int64 {
	if e.windowStart.IsZero() {
		e.windowStart = now
		return target
	}
	if now.Sub(e.windowStart) < e.window || e.samples < e.minSamples {
		return target
	}

	next := lo.Max([]int64{e.accum * 5 / 4, target / 2, e.minDelay})
	e.Reset(now)
	return lo.Clamp(next, e.minDelay, e.maxDelay)
}

func (e *Estimator) Samples() int {
	return e.samples
}
