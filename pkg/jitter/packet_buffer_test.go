package jitter

import (
	"errors"
	"testing"

	"github.com/huandu/go-assert"
	"github.com/pion/rtp"
)

func rtpPacket(ssrc uint32, seq uint16, ts uint32) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    0,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           ssrc,
		},
		Payload: []byte{byte(seq)},
	}
}

func newTestPacketBuffer() *PacketBuffer {
	factory := NewFactory(DefaultConfig(), WithClock(newFakeClock()), WithLogger(quietLogger()))
	return NewPacketBuffer(factory)
}

func TestOverflow(t *testing.T) {
	packetBuffer := newTestPacketBuffer()

	packetBuffer.Put(rtpPacket(1, 65535, 1<<32-20))
	packetBuffer.Put(rtpPacket(1, 1, 20))
	packetBuffer.Put(rtpPacket(1, 0, 0))
	packetBuffer.Close()

	for _, want := range []uint32{1<<32 - 20, 0, 20} {
		pkt, err := packetBuffer.Get(0)
		assert.Assert(t, err == nil)
		assert.Equal(t, pkt.Timestamp, want)
		assert.Equal(t, pkt.SSRC, uint32(1))
	}

	_, err := packetBuffer.Get(0)
	assert.Assert(t, errors.Is(err, ErrClosed))
}

func TestSSRCChangeResetsBuffer(t *testing.T) {
	packetBuffer := newTestPacketBuffer()

	_, err := packetBuffer.Get(0)
	assert.Assert(t, errors.Is(err, ErrSilence))

	packetBuffer.Put(rtpPacket(1, 0, 0))
	packetBuffer.Put(rtpPacket(1, 1, 160))
	assert.Equal(t, packetBuffer.Stats().Depth, 2)
	first := packetBuffer.current()

	packetBuffer.Put(rtpPacket(2, 500, 90000))
	assert.Equal(t, packetBuffer.SSRC(), uint32(2))
	assert.Equal(t, packetBuffer.Stats().Depth, 1)
	assert.Equal(t, packetBuffer.Stats().FramesIn, uint64(1))
	assert.Assert(t, errors.Is(first.Put(Frame{Payload: []byte{1}}), ErrClosed))
}

func TestPacketBufferClosed(t *testing.T) {
	packetBuffer := newTestPacketBuffer()
	packetBuffer.Close()

	assert.Assert(t, errors.Is(packetBuffer.Put(rtpPacket(1, 0, 0)), ErrClosed))
	_, err := packetBuffer.GetInto(0, nil)
	assert.Assert(t, errors.Is(err, ErrClosed))
}

func TestGetCarriesStreamIdentity(t *testing.T) {
	packetBuffer := newTestPacketBuffer()

	pkt := rtpPacket(7, 3, 480)
	pkt.PayloadType = 8
	pkt.Marker = true
	packetBuffer.Put(pkt)
	packetBuffer.Close()

	got, err := packetBuffer.Get(0)
	assert.Assert(t, err == nil)
	assert.Equal(t, got.SSRC, uint32(7))
	assert.Equal(t, got.PayloadType, uint8(8))
	assert.Equal(t, got.SequenceNumber, uint16(3))
	assert.Equal(t, got.Marker, true)
	assert.Equal(t, got.Payload, []byte{3})
}
