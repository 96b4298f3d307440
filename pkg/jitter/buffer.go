package jitter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

type State string

const (
	StateEmpty        State = "empty"
	StatePreBuffering State = "prebuffering"
	StateNormal       State = "normal"
)

const (
	eventPlay     = "play"
	eventResume   = "resume"
	eventDrain    = "drain"
	eventUnderrun = "underrun"
	eventReset    = "reset"
)

// resyncSeconds is the backward timestamp jump, in seconds of media, that is
// taken as a new stream rather than late data.
const resyncSeconds = 10

type Option func(b *Buffer)

func WithClock(c Clock) Option {
	return func(b *Buffer) {
		b.clock = c
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(b *Buffer) {
		b.log = l
	}
}

// WithListener adds an observer; it may be given more than once.
func WithListener(l Listener) Option {
	return func(b *Buffer) {
		b.listeners = append(b.listeners, l)
	}
}

type Stats struct {
	State    State
	Depth    int
	Capacity int

	MinDelay     time.Duration
	MaxDelay     time.Duration
	CurrentDelay time.Duration
	TargetDelay  time.Duration
	CurrentTicks int64
	TargetTicks  int64

	TooLate            uint64
	Overrun            uint64
	Underrun           uint64
	Flushes            uint64
	ConsecutiveOverrun int
	ConsecutiveMarker  int

	FramesIn  uint64
	FramesOut uint64
}

// Buffer is an adaptive jitter buffer. Put is called by the network side for
// every arriving frame, Get by the playout side once per tick. Both only hold
// the lock for bookkeeping; payload bytes are copied with the lock released.
type Buffer struct {
	sync.Mutex

	config    Config
	clock     Clock
	log       logrus.FieldLogger
	listeners []Listener
	listener  Listener

	list  *frameList
	gen   uint64
	state *fsm.FSM

	minDelay     int64
	maxDelay     int64
	currentDelay int64
	targetDelay  int64
	estimator    *Estimator

	// jitter baseline: the previously extracted frame
	prevTs      uint32
	prevArrival time.Time
	hasPrev     bool

	lastOut    uint32
	hasLastOut bool

	extracted bool // a frame was delivered since construction or SetDelay
	playing   bool // a frame was delivered since the last pre-buffering
	closed    bool

	tooLate            uint64
	overrun            uint64
	underrun           uint64
	flushes            uint64
	consecutiveOverrun int
	consecutiveMarker  int
	framesIn           uint64
	framesOut          uint64
}

func NewBuffer(config Config, opts ...Option) (*Buffer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config = config.withDefaults()

	b := &Buffer{
		config: config,
		clock:  systemClock{},
		log:    logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(b)
	}

	switch len(b.listeners) {
	case 0:
		b.listener = NullListener{}
	case 1:
		b.listener = b.listeners[0]
	default:
		b.listener = multiListener(b.listeners)
	}

	b.state = fsm.NewFSM(
		string(StatePreBuffering),
		fsm.Events{
			{Name: eventPlay, Src: []string{string(StatePreBuffering)}, Dst: string(StateNormal)},
			{Name: eventResume, Src: []string{string(StateEmpty)}, Dst: string(StateNormal)},
			{Name: eventDrain, Src: []string{string(StateNormal)}, Dst: string(StateEmpty)},
			{Name: eventUnderrun, Src: []string{string(StateEmpty), string(StateNormal)}, Dst: string(StatePreBuffering)},
			{Name: eventReset, Src: []string{string(StateEmpty), string(StateNormal)}, Dst: string(StatePreBuffering)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				b.listener.OnStateChanged(State(e.Src), State(e.Dst))
			},
		},
	)

	b.resetLocked()
	return b, nil
}

// resetLocked reallocates the arena and restores the initial delays. Slots
// parked by an actor belong to the old arena and are dropped on return.
func (b *Buffer) resetLocked() {
	b.list = newFrameList(b.config.Capacity())
	b.gen++

	b.minDelay = b.config.ticks(b.config.MinDelay)
	b.maxDelay = b.config.ticks(b.config.MaxDelay)
	b.currentDelay = b.minDelay
	b.targetDelay = b.minDelay
	b.estimator = NewEstimator(b.minDelay, b.maxDelay, b.config.DecayWindow, b.config.MinSamples)

	b.hasPrev = false
	b.hasLastOut = false
	b.extracted = false
	b.playing = false
	b.consecutiveOverrun = 0
	b.consecutiveMarker = 0
}

func (b *Buffer) transition(event string) {
	if !b.state.Can(event) {
		return
	}
	if err := b.state.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			b.log.WithError(err).WithField("event", event).Warn("jitter state transition failed")
		}
	}
}

func (b *Buffer) currentState() State {
	return State(b.state.Current())
}

func (b *Buffer) State() State {
	b.Lock()
	defer b.Unlock()
	return b.currentState()
}

func (b *Buffer) setDelays(current, target int64) {
	if current == b.currentDelay && target == b.targetDelay {
		return
	}
	b.log.WithFields(logrus.Fields{
		"current": b.config.duration(current),
		"target":  b.config.duration(target),
	}).Debug("jitter delay changed")
	b.currentDelay, b.targetDelay = current, target
	b.listener.OnDelayChanged(b.config.duration(current), b.config.duration(target))
}

func (b *Buffer) markersTrusted() bool {
	return b.consecutiveMarker <= b.config.MarkerThreshold
}

// Put ingests one frame. It never waits for the consumer. Reordered,
// duplicated, late and excess frames are absorbed and counted; the only
// error is ErrClosed.
func (b *Buffer) Put(f Frame) error {
	b.Lock()
	if b.closed {
		b.Unlock()
		return ErrClosed
	}

	f.Arrival = b.clock.Now()
	b.framesIn++
	b.consecutiveOverrun++

	if f.Marker {
		b.consecutiveMarker++
		if !b.markersTrusted() {
			if b.consecutiveMarker == b.config.MarkerThreshold+1 {
				b.log.WithField("threshold", b.config.MarkerThreshold).Warn("too many consecutive marker bits, ignoring markers")
			}
			f.Marker = false
		}
	} else {
		b.consecutiveMarker = 0
	}

	if len(f.Payload) == 0 {
		b.Unlock()
		return nil
	}

	if b.hasLastOut && tsBefore(f.Timestamp, b.lastOut) {
		if tsDiff(b.lastOut, f.Timestamp) > resyncSeconds*1000*int64(b.config.ClockRate) {
			// the source restarted its clock; forget the old playout point
			b.hasLastOut = false
			b.hasPrev = false
		} else {
			b.tooLate++
			b.listener.OnFrameDropped(&f, DropTooLate)
			b.Unlock()
			return nil
		}
	}

	i, evicted := b.list.acquire()
	if i == nilIndex {
		b.overrun++
		b.listener.OnFrameDropped(&f, DropOverrun)
		b.Unlock()
		return nil
	}
	if evicted {
		b.overrun++
		if b.consecutiveOverrun > b.config.OverrunLimit {
			b.list.release(i)
			b.flushLocked()
			b.Unlock()
			return nil
		}
		b.listener.OnFrameDropped(b.list.frame(i), DropOverrun)
	}

	gen := b.gen
	s := b.list.frame(i)
	s.Timestamp = f.Timestamp
	s.SequenceNumber = f.SequenceNumber
	s.Marker = f.Marker
	s.Arrival = f.Arrival
	b.Unlock()

	s.Payload = append(s.Payload[:0], f.Payload...)

	b.Lock()
	defer b.Unlock()
	if gen != b.gen {
		return nil
	}
	b.list.insert(i)
	b.listener.OnFrameEnqueue(s, b.list.depth)
	return nil
}

// flushLocked drops every queued frame after a sustained overrun and goes
// back to pre-buffering.
func (b *Buffer) flushLocked() {
	dropped := b.list.flush(nil)
	b.flushes++
	b.consecutiveOverrun = 0
	b.hasPrev = false
	b.playing = false
	b.setDelays(b.targetDelay, b.targetDelay)
	b.log.WithFields(logrus.Fields{
		"dropped": dropped,
		"limit":   b.config.OverrunLimit,
	}).Warn("jitter buffer overrun persisted, flushing")
	b.listener.OnFlush(dropped)
	b.transition(eventReset)
}

// Get is GetInto with a freshly allocated payload.
func (b *Buffer) Get(playout uint32) (Frame, error) {
	return b.GetInto(playout, nil)
}

// GetInto extracts the next frame for the playout timestamp, copying the
// payload into dst. It returns ErrSilence when nothing should be played yet
// and ErrClosed once the buffer is closed and drained.
func (b *Buffer) GetInto(playout uint32, dst []byte) (Frame, error) {
	b.Lock()
	i, err := b.next(playout)
	if err != nil {
		b.Unlock()
		return Frame{}, err
	}
	gen := b.gen
	s := b.list.frame(i)
	out := *s
	b.Unlock()

	out.Payload = append(dst[:0], s.Payload...)

	b.Lock()
	if gen == b.gen {
		b.list.release(i)
	}
	b.Unlock()
	return out, nil
}

// next runs the extraction policy and returns the parked slot to deliver.
func (b *Buffer) next(playout uint32) (int32, error) {
	now := b.clock.Now()

	if target := b.estimator.Decay(b.targetDelay, now); target != b.targetDelay {
		b.setDelays(b.currentDelay, target)
	}

	if b.list.depth == 0 {
		if b.closed {
			return nilIndex, ErrClosed
		}
		if b.currentState() != StatePreBuffering {
			b.underrun++
			b.hasPrev = false
			b.playing = false
			b.transition(eventUnderrun)
		}
		b.setDelays(b.targetDelay, b.targetDelay)
		return nilIndex, ErrSilence
	}

	if !b.closed {
		oldest := b.list.oldest()
		age := b.config.ticks(now.Sub(oldest.Arrival))
		half := b.currentDelay / 2

		switch b.currentState() {
		case StatePreBuffering:
			if age < half {
				return nilIndex, ErrSilence
			}
			b.transition(eventPlay)
		case StateEmpty:
			b.transition(eventResume)
		}

		if b.markersTrusted() {
			if oldest.Marker && age < half {
				return nilIndex, ErrSilence
			}
		} else if b.playing && tsBefore(playout, oldest.Timestamp) && tsDiff(oldest.Timestamp, playout) < b.currentDelay {
			return nilIndex, ErrSilence
		}
	}

	i := b.list.popOldest()
	cur := b.list.frame(i)

	if newest := b.list.newest(); newest != nil && tsDiff(newest.Timestamp, cur.Timestamp) > b.currentDelay {
		if !b.extracted && !b.closed {
			for b.list.depth > 0 && tsDiff(newest.Timestamp, cur.Timestamp) > b.currentDelay {
				b.listener.OnFrameDropped(cur, DropFastForward)
				b.list.release(i)
				i = b.list.popOldest()
				cur = b.list.frame(i)
			}
			b.hasPrev = false
		} else {
			for b.list.depth > 0 && tsDiff(newest.Timestamp, cur.Timestamp) > b.maxDelay {
				b.tooLate++
				b.listener.OnFrameDropped(cur, DropTooLate)
				b.list.release(i)
				i = b.list.popOldest()
				cur = b.list.frame(i)
			}
			if span := tsDiff(newest.Timestamp, cur.Timestamp); !b.closed && span > b.currentDelay {
				current := lo.Min([]int64{span, b.maxDelay})
				b.setDelays(current, lo.Max([]int64{b.targetDelay, current}))
			}
		}
	}

	if !cur.Marker && b.hasPrev {
		wall := b.config.ticks(cur.Arrival.Sub(b.prevArrival))
		measured := 2 * lo.Max([]int64{wall - tsDiff(cur.Timestamp, b.prevTs), tsDiff(cur.Timestamp, b.prevTs) - wall})
		if target := b.estimator.Observe(measured, b.currentDelay, b.targetDelay, now); target != b.targetDelay {
			b.setDelays(b.currentDelay, target)
		}
	}
	b.prevTs, b.prevArrival, b.hasPrev = cur.Timestamp, cur.Arrival, true

	if b.targetDelay < b.currentDelay {
		if oldest, newest := b.list.oldest(), b.list.newest(); oldest != nil {
			if gap := tsDiff(newest.Timestamp, oldest.Timestamp); gap < b.currentDelay {
				b.setDelays(lo.Max([]int64{gap, b.targetDelay}), b.targetDelay)
			}
		}
	}

	b.extracted = true
	b.playing = true
	b.lastOut, b.hasLastOut = cur.Timestamp, true
	b.framesOut++
	b.consecutiveOverrun = 0
	b.listener.OnFrameDequeue(cur, b.list.depth)
	if b.list.depth == 0 {
		b.transition(eventDrain)
	}
	return i, nil
}

// SetDelay changes the delay bounds. The queue is flushed and the buffer
// starts over in pre-buffering.
func (b *Buffer) SetDelay(minDelay, maxDelay time.Duration) error {
	if err := validateDelays(minDelay, maxDelay); err != nil {
		return err
	}

	b.Lock()
	defer b.Unlock()

	dropped := b.list.depth
	b.config.MinDelay, b.config.MaxDelay = minDelay, maxDelay
	b.resetLocked()
	b.listener.OnFlush(dropped)
	b.listener.OnDelayChanged(minDelay, minDelay)
	b.transition(eventReset)

	b.log.WithFields(logrus.Fields{
		"min":      minDelay,
		"max":      maxDelay,
		"capacity": b.list.capacity(),
		"dropped":  dropped,
	}).Info("jitter delay reconfigured")
	return nil
}

// Close stops ingestion. Frames already queued can still be extracted; after
// that Get reports ErrClosed.
func (b *Buffer) Close() {
	b.Lock()
	defer b.Unlock()
	b.closed = true
}

// discard closes the buffer and drops whatever is still queued. It is used
// when the stream behind the buffer is replaced.
func (b *Buffer) discard() {
	b.Lock()
	defer b.Unlock()
	b.closed = true
	dropped := b.list.flush(nil)
	b.listener.OnFlush(dropped)
}

func (b *Buffer) Stats() Stats {
	b.Lock()
	defer b.Unlock()

	return Stats{
		State:              b.currentState(),
		Depth:              b.list.depth,
		Capacity:           b.list.capacity(),
		MinDelay:           b.config.MinDelay,
		MaxDelay:           b.config.MaxDelay,
		CurrentDelay:       b.config.duration(b.currentDelay),
		TargetDelay:        b.config.duration(b.targetDelay),
		CurrentTicks:       b.currentDelay,
		TargetTicks:        b.targetDelay,
		TooLate:            b.tooLate,
		Overrun:            b.overrun,
		Underrun:           b.underrun,
		Flushes:            b.flushes,
		ConsecutiveOverrun: b.consecutiveOverrun,
		ConsecutiveMarker:  b.consecutiveMarker,
		FramesIn:           b.framesIn,
		FramesOut:          b.framesOut,
	}
}
