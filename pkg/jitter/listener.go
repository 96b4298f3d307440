package jitter

import (
	"time"

	"github.com/sirupsen/logrus"
)

type DropReason int

const (
	// DropTooLate marks a frame older than the playout window.
	DropTooLate DropReason = iota
	// DropOverrun marks a frame evicted to make room for a newer one.
	DropOverrun
	// DropFastForward marks a frame skipped on the first extraction.
	DropFastForward
)

func (r DropReason) String() string {
	switch r {
	case DropTooLate:
		return "too_late"
	case DropOverrun:
		return "overrun"
	case DropFastForward:
		return "fast_forward"
	}
	return "unknown"
}

// Listener observes buffer activity. Callbacks run with the buffer lock held,
// so they must be quick and must not call back into the buffer. Frames passed
// in are only valid for the duration of the call.
type Listener interface {
	OnFrameEnqueue(f *Frame, depth int)
	OnFrameDequeue(f *Frame, depth int)
	OnFrameDropped(f *Frame, reason DropReason)
	OnFlush(dropped int)
	OnDelayChanged(current, target time.Duration)
	OnStateChanged(from, to State)
}

type NullListener struct {
}

func (n NullListener) OnFrameEnqueue(f *Frame, depth int)           {}
func (n NullListener) OnFrameDequeue(f *Frame, depth int)           {}
func (n NullListener) OnFrameDropped(f *Frame, reason DropReason)   {}
func (n NullListener) OnFlush(dropped int)                          {}
func (n NullListener) OnDelayChanged(current, target time.Duration) {}
func (n NullListener) OnStateChanged(from, to State)                {}

type multiListener []Listener

func (m multiListener) OnFrameEnqueue(f *Frame, depth int) {
	for _, l := range m {
		l.OnFrameEnqueue(f, depth)
	}
}

func (m multiListener) OnFrameDequeue(f *Frame, depth int) {
	for _, l := range m {
		l.OnFrameDequeue(f, depth)
	}
}

func (m multiListener) OnFrameDropped(f *Frame, reason DropReason) {
	for _, l := range m {
		l.OnFrameDropped(f, reason)
	}
}

func (m multiListener) OnFlush(dropped int) {
	for _, l := range m {
		l.OnFlush(dropped)
	}
}

func (m multiListener) OnDelayChanged(current, target time.Duration) {
	for _, l := range m {
		l.OnDelayChanged(current, target)
	}
}

func (m multiListener) OnStateChanged(from, to State) {
	for _, l := range m {
		l.OnStateChanged(from, to)
	}
}

// LogListener traces buffer activity through logrus. Per-frame events go to
// Trace, everything else to Debug.
type LogListener struct {
	Logger logrus.FieldLogger
}

func NewLogListener(logger logrus.FieldLogger) *LogListener {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogListener{Logger: logger}
}

func (l *LogListener) OnFrameEnqueue(f *Frame, depth int) {
	l.Logger.WithFields(logrus.Fields{
		"ts":    f.Timestamp,
		"seq":   f.SequenceNumber,
		"depth": depth,
	}).Trace("frame enqueued")
}

func (l *LogListener) OnFrameDequeue(f *Frame, depth int) {
	l.Logger.WithFields(logrus.Fields{
		"ts":    f.Timestamp,
		"seq":   f.SequenceNumber,
		"depth": depth,
	}).Trace("frame dequeued")
}

func (l *LogListener) OnFrameDropped(f *Frame, reason DropReason) {
	l.Logger.WithFields(logrus.Fields{
		"ts":     f.Timestamp,
		"seq":    f.SequenceNumber,
		"reason": reason.String(),
	}).Debug("frame dropped")
}

func (l *LogListener) OnFlush(dropped int) {
	l.Logger.WithField("dropped", dropped).Debug("buffer flushed")
}

func (l *LogListener) OnDelayChanged(current, target time.Duration) {
	l.Logger.WithFields(logrus.Fields{
		"current": current,
		"target":  target,
	}).Debug("delay changed")
}

func (l *LogListener) OnStateChanged(from, to State) {
	l.Logger.WithFields(logrus.Fields{
		"from": from,
		"to":   to,
	}).Debug("state changed")
}
