package playout

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/channel-io/go-jitter/pkg/jitter"
)

const maxDatagramSize = 1500

// UDPSource reads RTP packets from a datagram socket. Every read waits at
// most timeout so the caller can observe shutdown.
type UDPSource struct {
	conn    net.PacketConn
	timeout time.Duration
	buf     []byte
	log     logrus.FieldLogger
}

func NewUDPSource(conn net.PacketConn, timeout time.Duration, log logrus.FieldLogger) *UDPSource {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &UDPSource{
		conn:    conn,
		timeout: timeout,
		buf:     make([]byte, maxDatagramSize),
		log:     log,
	}
}

// ReadPacket returns the next packet. The payload aliases an internal buffer
// and is only valid until the next call; jitter.Buffer copies it on Put.
func (s *UDPSource) ReadPacket(ctx context.Context) (*rtp.Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, context.Canceled
		}
		return nil, err
	}

	n, addr, err := s.conn.ReadFrom(s.buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrNoData
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, context.Canceled
		}
		return nil, err
	}

	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(s.buf[:n]); err != nil {
		s.log.WithFields(logrus.Fields{
			"from": addr,
			"size": n,
		}).WithError(err).Warn("dropping malformed rtp packet")
		return nil, ErrNoData
	}
	return pkt, nil
}

// WriterSink writes frame payloads to w and silence as zero bytes, one byte
// per tick.
type WriterSink struct {
	w       io.Writer
	silence []byte
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) WriteFrame(f jitter.Frame) error {
	_, err := s.w.Write(f.Payload)
	return err
}

func (s *WriterSink) WriteSilence(ticks uint32) error {
	if cap(s.silence) < int(ticks) {
		s.silence = make([]byte, ticks)
	}
	_, err := s.w.Write(s.silence[:ticks])
	return err
}
