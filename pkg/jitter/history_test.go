package jitter

import (
	"testing"
	"time"

	"github.com/huandu/go-assert"
)

func TestUnwrap(t *testing.T) {
	var u unwrapper

	assert.Equal(t, u.unwrap(1<<32-160), int64(1<<32-160))
	assert.Equal(t, u.unwrap(0), int64(1<<32))
	assert.Equal(t, u.unwrap(160), int64(1<<32+160))

	// late frame from before the overflow
	assert.Equal(t, u.unwrap(1<<32-320), int64(1<<32-320))
	// late frame after it
	assert.Equal(t, u.unwrap(80), int64(1<<32+80))
}

func TestHistoryWindow(t *testing.T) {
	h := NewHistory(time.Second, 8)

	for i := 0; i < 10; i++ {
		f := frame(i)
		h.OnFrameDequeue(&f, 0)
	}
	late := frame(3)
	h.OnFrameDropped(&late, DropTooLate)

	s := h.Snapshot()
	assert.Equal(t, s.Delivered, 10)
	assert.Equal(t, s.TooLate, 1)
	assert.Equal(t, s.LossRatio, 1.0/11)
	// 1440 - 480 ticks
	assert.Equal(t, s.MaxLateness, 120*time.Millisecond)

	// one second of media later only the newest frames remain
	for i := 51; i <= 60; i++ {
		f := frame(i)
		h.OnFrameDequeue(&f, 0)
	}
	s = h.Snapshot()
	assert.Equal(t, s.Delivered, 10)
	assert.Equal(t, s.TooLate, 0)
	assert.Equal(t, s.LossRatio, 0.0)
}

func TestHistoryAsListener(t *testing.T) {
	clock := newFakeClock()
	h := NewHistory(2*time.Second, 8)
	b := newTestBuffer(t, clock, WithListener(h))

	for i := 0; i < 12; i++ {
		b.Put(frame(i))
	}
	clock.Advance(10 * time.Millisecond)
	b.Get(0)

	s := h.Snapshot()
	assert.Equal(t, s.Overrun, 2)
	assert.Equal(t, s.Delivered, 1)
	assert.Assert(t, s.Skipped > 0)

	b.SetDelay(20*time.Millisecond, 200*time.Millisecond)
	assert.Equal(t, h.Snapshot(), HistorySnapshot{})
}

func TestHistoryFollowsStreamChange(t *testing.T) {
	clock := newFakeClock()
	h := NewHistory(2*time.Second, 8)
	factory := NewFactory(DefaultConfig(), WithClock(clock), WithLogger(quietLogger()), WithListener(h))
	packetBuffer := NewPacketBuffer(factory)

	packetBuffer.Put(rtpPacket(1, 0, 800000))
	clock.Advance(10 * time.Millisecond)
	_, err := packetBuffer.Get(0)
	assert.Assert(t, err == nil)
	assert.Equal(t, h.Snapshot().Delivered, 1)

	// the new stream starts far behind the old one
	packetBuffer.Put(rtpPacket(2, 0, 0))
	assert.Equal(t, h.Snapshot(), HistorySnapshot{})

	clock.Advance(10 * time.Millisecond)
	_, err = packetBuffer.Get(0)
	assert.Assert(t, err == nil)

	packetBuffer.Put(rtpPacket(2, 1, 20000))
	pkt, err := packetBuffer.Get(0)
	assert.Assert(t, err == nil)
	assert.Equal(t, pkt.Timestamp, uint32(20000))

	// 20000 ticks later the first frame of the new stream left the window
	assert.Equal(t, h.Snapshot().Delivered, 1)
}
