package jitter

import (
	"sync"

	"github.com/pion/rtp"
)

// PacketBuffer feeds RTP packets of a single stream into a Buffer. A new SSRC
// means a new timing baseline, so the buffer is recreated from the factory.
type PacketBuffer struct {
	sync.Mutex

	factory BufferFactory
	buffer  *Buffer
	closed  bool

	ssrc        uint32
	payloadType uint8
}

func NewPacketBuffer(factory BufferFactory) *PacketBuffer {
	return &PacketBuffer{
		factory: factory,
	}
}

func (p *PacketBuffer) init(packet *rtp.Packet) error {
	buffer, err := p.factory.CreateBuffer()
	if err != nil {
		return err
	}
	if p.buffer != nil {
		p.buffer.discard()
	}
	p.buffer = buffer
	p.ssrc = packet.SSRC
	p.payloadType = packet.PayloadType
	return nil
}

func (p *PacketBuffer) Put(packet *rtp.Packet) error {
	p.Lock()
	if p.closed {
		p.Unlock()
		return ErrClosed
	}
	if p.buffer == nil || p.ssrc != packet.SSRC {
		if err := p.init(packet); err != nil {
			p.Unlock()
			return err
		}
	}
	buffer := p.buffer
	p.Unlock()

	return buffer.Put(Frame{
		Timestamp:      packet.Timestamp,
		SequenceNumber: packet.SequenceNumber,
		Marker:         packet.Marker,
		Payload:        packet.Payload,
	})
}

func (p *PacketBuffer) current() *Buffer {
	p.Lock()
	defer p.Unlock()
	return p.buffer
}

// GetInto extracts the next frame of the current stream. Before the first
// packet it reports silence, or ErrClosed once closed.
func (p *PacketBuffer) GetInto(playout uint32, dst []byte) (Frame, error) {
	p.Lock()
	buffer, closed := p.buffer, p.closed
	p.Unlock()

	return p.extract(buffer, closed, playout, dst)
}

func (p *PacketBuffer) extract(buffer *Buffer, closed bool, playout uint32, dst []byte) (Frame, error) {
	if buffer == nil {
		if closed {
			return Frame{}, ErrClosed
		}
		return Frame{}, ErrSilence
	}
	return buffer.GetInto(playout, dst)
}

// Get returns the next frame as an RTP packet carrying the SSRC and payload
// type of the stream it was extracted from.
func (p *PacketBuffer) Get(playout uint32) (*rtp.Packet, error) {
	p.Lock()
	buffer, closed := p.buffer, p.closed
	ssrc, payloadType := p.ssrc, p.payloadType
	p.Unlock()

	f, err := p.extract(buffer, closed, playout, nil)
	if err != nil {
		return nil, err
	}

	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         f.Marker,
			PayloadType:    payloadType,
			SequenceNumber: f.SequenceNumber,
			Timestamp:      f.Timestamp,
			SSRC:           ssrc,
		},
		Payload: f.Payload,
	}, nil
}

func (p *PacketBuffer) Close() {
	p.Lock()
	defer p.Unlock()
	p.closed = true
	if p.buffer != nil {
		p.buffer.Close()
	}
}

func (p *PacketBuffer) SSRC() uint32 {
	p.Lock()
	defer p.Unlock()
	return p.ssrc
}

func (p *PacketBuffer) Stats() Stats {
	if b := p.current(); b != nil {
		return b.Stats()
	}
	return Stats{State: StatePreBuffering}
}
