package jitter

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports Stats of any number of named buffers as Prometheus
// metrics. Values are read at scrape time.
type Collector struct {
	mu      sync.RWMutex
	buffers map[string]StatsProvider

	depth        *prometheus.Desc
	capacity     *prometheus.Desc
	currentDelay *prometheus.Desc
	targetDelay  *prometheus.Desc
	tooLate      *prometheus.Desc
	overrun      *prometheus.Desc
	underrun     *prometheus.Desc
	flushes      *prometheus.Desc
	framesIn     *prometheus.Desc
	framesOut    *prometheus.Desc
}

func NewCollector(namespace string) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "jitter", name), help, []string{"stream"}, nil)
	}
	return &Collector{
		buffers:      make(map[string]StatsProvider),
		depth:        desc("depth_frames", "Frames currently queued"),
		capacity:     desc("capacity_frames", "Frame slots in the arena"),
		currentDelay: desc("current_delay_seconds", "Playout delay currently enforced"),
		targetDelay:  desc("target_delay_seconds", "Playout delay the estimator is moving toward"),
		tooLate:      desc("too_late_total", "Frames dropped for arriving outside the playout window"),
		overrun:      desc("overrun_total", "Frames evicted because the arena was full"),
		underrun:     desc("underrun_total", "Times the queue ran dry and pre-buffering restarted"),
		flushes:      desc("flushes_total", "Full flushes after a sustained overrun"),
		framesIn:     desc("frames_in_total", "Frames offered to the buffer"),
		framesOut:    desc("frames_out_total", "Frames delivered to playout"),
	}
}

func (c *Collector) Register(stream string, s StatsProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffers[stream] = s
}

func (c *Collector) Unregister(stream string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.buffers, stream)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.depth
	ch <- c.capacity
	ch <- c.currentDelay
	ch <- c.targetDelay
	ch <- c.tooLate
	ch <- c.overrun
	ch <- c.underrun
	ch <- c.flushes
	ch <- c.framesIn
	ch <- c.framesOut
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for stream, b := range c.buffers {
		s := b.Stats()
		gauge := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, stream)
		}
		counter := func(d *prometheus.Desc, v uint64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), stream)
		}

		gauge(c.depth, float64(s.Depth))
		gauge(c.capacity, float64(s.Capacity))
		gauge(c.currentDelay, s.CurrentDelay.Seconds())
		gauge(c.targetDelay, s.TargetDelay.Seconds())
		counter(c.tooLate, s.TooLate)
		counter(c.overrun, s.Overrun)
		counter(c.underrun, s.Underrun)
		counter(c.flushes, s.Flushes)
		counter(c.framesIn, s.FramesIn)
		counter(c.framesOut, s.FramesOut)
	}
}
