package jitter

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	clock := newFakeClock()
	b := newTestBuffer(t, clock)
	for i := 0; i < 11; i++ {
		require.NoError(t, b.Put(frame(i)))
	}

	c := NewCollector("test")
	c.Register("rx", b)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	require.Equal(t, 10, testutil.CollectAndCount(c))

	expected := `
# HELP test_jitter_depth_frames Frames currently queued
# TYPE test_jitter_depth_frames gauge
test_jitter_depth_frames{stream="rx"} 10
# HELP test_jitter_overrun_total Frames evicted because the arena was full
# TYPE test_jitter_overrun_total counter
test_jitter_overrun_total{stream="rx"} 1
# HELP test_jitter_current_delay_seconds Playout delay currently enforced
# TYPE test_jitter_current_delay_seconds gauge
test_jitter_current_delay_seconds{stream="rx"} 0.02
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"test_jitter_depth_frames", "test_jitter_overrun_total", "test_jitter_current_delay_seconds"))

	c.Unregister("rx")
	require.Equal(t, 0, testutil.CollectAndCount(c))
}

func TestCollectorMultipleStreams(t *testing.T) {
	c := NewCollector("")
	for _, name := range []string{"a", "b", "c"} {
		c.Register(name, newTestBuffer(t, newFakeClock()))
	}

	require.Equal(t, 30, testutil.CollectAndCount(c))
	require.Equal(t, 6, testutil.CollectAndCount(c, "jitter_depth_frames", "jitter_too_late_total"))
}
