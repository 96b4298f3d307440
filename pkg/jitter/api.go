package jitter

import (
	"errors"
	"time"
)

var (
	// ErrSilence is returned by Get when no frame is due yet. It is the normal
	// answer while pre-buffering or during gaps and is not a failure.
	ErrSilence = errors.New("jitter: no frame ready")
	// ErrClosed is returned by Put after Close, and by Get once the buffer is
	// closed and drained.
	ErrClosed = errors.New("jitter: buffer closed")
	// ErrInvalidConfig wraps every Config validation failure.
	ErrInvalidConfig = errors.New("jitter: invalid config")
)

// Frame is one media packet as seen by the buffer.
type Frame struct {
	Timestamp      uint32
	SequenceNumber uint16
	Marker         bool
	Payload        []byte

	// Arrival is stamped by Put; any value set by the caller is overwritten.
	Arrival time.Time
}

type StatsProvider interface {
	Stats() Stats
}

type BufferFactory interface {
	CreateBuffer() (*Buffer, error)
}

// Clock is the monotonic time source used for arrival ticks and decay windows.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// tsBefore reports whether timestamp a precedes b on the 32 bit media clock.
func tsBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// tsDiff returns a-b as a signed distance, valid across wraparound.
func tsDiff(a, b uint32) int64 {
	return int64(int32(a - b))
}

func seqBefore(a, b uint16) bool {
	return int16(a-b) < 0
}

// frameBefore orders frames by timestamp, then by sequence number.
func frameBefore(aTs uint32, aSeq uint16, bTs uint32, bSeq uint16) bool {
	if aTs != bTs {
		return tsBefore(aTs, bTs)
	}
	return seqBefore(aSeq, bSeq)
}
