package jitter

import (
	"math"
	"sync"
	"time"

	"github.com/huandu/skiplist"
	"github.com/samber/lo"
)

// unwrapper extends 32 bit media timestamps to 64 bits so they can be used as
// ordered keys across wraparound.
type unwrapper struct {
	last   uint32
	cycles int64
	init   bool
}

func (u *unwrapper) unwrap(ts uint32) int64 {
	if !u.init {
		u.last, u.init = ts, true
		return int64(ts)
	}
	if ts < u.last && tsBefore(u.last, ts) {
		u.cycles++ // overflow
	} else if ts > u.last && tsBefore(ts, u.last) && u.cycles > 0 {
		// late frame from before the last overflow
		return (u.cycles-1)<<32 + int64(ts)
	}
	if tsBefore(u.last, ts) {
		u.last = ts
	}
	return u.cycles<<32 + int64(ts)
}

type HistorySnapshot struct {
	Delivered   int
	TooLate     int
	Overrun     int
	Skipped     int
	LossRatio   float64
	MaxLateness time.Duration
}

// History keeps a sliding window of delivered and dropped frames, keyed by
// media timestamp, so recent loss can be reported without keeping every
// counter forever.
type History struct {
	NullListener
	sync.Mutex

	clockRate uint32
	window    int64

	delivered *skiplist.SkipList
	late      *skiplist.SkipList
	overrun   *skiplist.SkipList
	skipped   *skiplist.SkipList

	unwrap unwrapper
	head   int64
}

func NewHistory(window time.Duration, clockRate uint32) *History {
	return &History{
		clockRate: clockRate,
		window:    int64(window) * int64(clockRate) / int64(time.Millisecond),
		delivered: skiplist.New(skiplist.Int64),
		late:      skiplist.New(skiplist.Int64),
		overrun:   skiplist.New(skiplist.Int64),
		skipped:   skiplist.New(skiplist.Int64),
	}
}

func (h *History) advance(ts int64) {
	if ts <= h.head {
		return
	}
	h.head = ts
	removeLessThan(h.delivered, h.head-h.window)
	removeLessThan(h.late, h.head-h.window)
	removeLessThan(h.overrun, h.head-h.window)
	removeLessThan(h.skipped, h.head-h.window)
}

func (h *History) OnFrameDequeue(f *Frame, depth int) {
	h.Lock()
	defer h.Unlock()

	ts := h.unwrap.unwrap(f.Timestamp)
	h.advance(ts)
	h.delivered.Set(ts, int64(0))
}

func (h *History) OnFrameDropped(f *Frame, reason DropReason) {
	h.Lock()
	defer h.Unlock()

	ts := h.unwrap.unwrap(f.Timestamp)
	lateness := lo.Max([]int64{h.head - ts, 0})
	switch reason {
	case DropTooLate:
		h.late.Set(ts, lateness)
	case DropOverrun:
		h.overrun.Set(ts, lateness)
	case DropFastForward:
		h.skipped.Set(ts, lateness)
	}
}

// OnFlush starts a new window. The next frame sets a new timestamp baseline,
// so a replaced stream may start anywhere on the media clock.
func (h *History) OnFlush(dropped int) {
	h.Lock()
	defer h.Unlock()

	h.delivered.Init()
	h.late.Init()
	h.overrun.Init()
	h.skipped.Init()
	h.unwrap = unwrapper{}
	h.head = 0
}

func (h *History) Snapshot() HistorySnapshot {
	h.Lock()
	defer h.Unlock()

	s := HistorySnapshot{
		Delivered: h.delivered.Len(),
		TooLate:   h.late.Len(),
		Overrun:   h.overrun.Len(),
		Skipped:   h.skipped.Len(),
	}
	if total := s.Delivered + s.TooLate + s.Overrun; total > 0 {
		s.LossRatio = float64(s.TooLate+s.Overrun) / float64(total)
	}
	if h.late.Len() > 0 && h.clockRate > 0 {
		s.MaxLateness = time.Duration(maxInList(h.late) * int64(time.Millisecond) / int64(h.clockRate))
	}
	return s
}

func maxInList(list *skiplist.SkipList) int64 {
	var res int64 = math.MinInt64
	for el := list.Front(); el != nil; el = el.Next() {
		res = lo.Max([]int64{res, el.Value.(int64)})
	}
	return res
}

func removeLessThan(list *skiplist.SkipList, ts int64) {
	for {
		front := list.Front()
		if front == nil || front.Key() == nil || front.Key().(int64) >= ts {
			break
		}
		list.RemoveFront()
	}
}
