// Package playout runs the two actors around a jitter buffer: one reads
// packets from the network and ingests them, the other extracts a frame on
// every playout tick and hands it to the sink. Neither holds the buffer lock
// while doing I/O.
package playout

import (
	"context"
	"errors"
	"time"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/channel-io/go-jitter/pkg/jitter"
)

// ErrNoData is returned by a Source when its bounded wait expired without a
// packet. The ingest loop simply tries again.
var ErrNoData = errors.New("playout: no data")

type Source interface {
	// ReadPacket must return within a bounded time so shutdown is noticed.
	ReadPacket(ctx context.Context) (*rtp.Packet, error)
}

// Sink receives the playout stream. The frame payload is only valid during
// the call.
type Sink interface {
	WriteFrame(f jitter.Frame) error
	WriteSilence(ticks uint32) error
}

type Buffer interface {
	Put(packet *rtp.Packet) error
	GetInto(playout uint32, dst []byte) (jitter.Frame, error)
	Close()
}

type Session struct {
	buffer     Buffer
	source     Source
	sink       Sink
	tick       time.Duration
	frameTicks uint32
	log        logrus.FieldLogger
}

func NewSession(buffer Buffer, source Source, sink Sink, tick time.Duration, frameTicks uint32, log logrus.FieldLogger) *Session {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Session{
		buffer:     buffer,
		source:     source,
		sink:       sink,
		tick:       tick,
		frameTicks: frameTicks,
		log:        log,
	}
}

// Run blocks until ctx is cancelled and the buffer is drained, or one of the
// actors fails.
func (s *Session) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.ingest(gctx)
	})
	g.Go(func() error {
		return s.playout(gctx)
	})

	return g.Wait()
}

func (s *Session) ingest(ctx context.Context) error {
	defer s.buffer.Close()

	for ctx.Err() == nil {
		pkt, err := s.source.ReadPacket(ctx)
		switch {
		case errors.Is(err, ErrNoData):
			continue
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		case err != nil:
			s.log.WithError(err).Error("packet source failed")
			return err
		}

		if err := s.buffer.Put(pkt); err != nil {
			if errors.Is(err, jitter.ErrClosed) {
				return nil
			}
			return err
		}
	}

	s.log.Debug("ingest stopped")
	return nil
}

// playout keeps ticking after ctx is done until the buffer reports closed,
// so frames already queued are still played.
func (s *Session) playout(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	var (
		buf     []byte
		next    uint32
		started bool
	)

	for {
		<-ticker.C

		f, err := s.buffer.GetInto(next, buf)
		switch {
		case err == nil:
			buf = f.Payload
			next = f.Timestamp + s.frameTicks
			started = true
			if err := s.sink.WriteFrame(f); err != nil {
				s.log.WithError(err).Error("sink write failed")
				s.buffer.Close()
				return err
			}
		case errors.Is(err, jitter.ErrSilence):
			if started {
				next += s.frameTicks
			}
			if err := s.sink.WriteSilence(s.frameTicks); err != nil {
				s.log.WithError(err).Error("sink write failed")
				s.buffer.Close()
				return err
			}
		case errors.Is(err, jitter.ErrClosed):
			s.log.WithField("cancelled", ctx.Err() != nil).Debug("playout drained")
			return nil
		default:
			return err
		}
	}
}
