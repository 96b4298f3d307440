package jitter

const nilIndex int32 = -1

// parkingSlots are the slots beyond the queue bound, one for each actor that
// may hold a slot outside the lock.
const parkingSlots = 2

type slot struct {
	frame      Frame
	prev, next int32
}

// frameList is a fixed arena of frame slots. Every slot is either on the free
// stack, linked into the ordered queue, or parked by one of the actors while
// its payload is copied outside the lock. Links are arena indices. The queue
// never holds more than limit frames.
type frameList struct {
	slots      []slot
	head, tail int32
	free       int32
	depth      int
	limit      int
}

func newFrameList(capacity int) *frameList {
	n := capacity + parkingSlots
	l := &frameList{slots: make([]slot, n), limit: capacity}
	l.head, l.tail, l.free = nilIndex, nilIndex, nilIndex
	for i := n - 1; i >= 0; i-- {
		l.release(int32(i))
	}
	return l
}

func (l *frameList) capacity() int {
	return l.limit
}

func (l *frameList) frame(i int32) *Frame {
	return &l.slots[i].frame
}

// release returns a detached slot to the free stack.
func (l *frameList) release(i int32) {
	s := &l.slots[i]
	s.prev = nilIndex
	s.next = l.free
	l.free = i
}

// acquire hands out a free slot. When the queue is at its limit, or no slot
// is free, it reclaims the oldest queued frame and reports the eviction. It
// returns nilIndex if every slot is parked.
func (l *frameList) acquire() (i int32, evicted bool) {
	if l.depth < l.limit && l.free != nilIndex {
		i = l.free
		l.free = l.slots[i].next
		l.slots[i].next = nilIndex
		return i, false
	}
	return l.popOldest(), true
}

func (l *frameList) oldest() *Frame {
	if l.head == nilIndex {
		return nil
	}
	return &l.slots[l.head].frame
}

func (l *frameList) newest() *Frame {
	if l.tail == nilIndex {
		return nil
	}
	return &l.slots[l.tail].frame
}

// popOldest detaches the head of the queue, or returns nilIndex when empty.
func (l *frameList) popOldest() int32 {
	i := l.head
	if i == nilIndex {
		return nilIndex
	}
	l.head = l.slots[i].next
	if l.head == nilIndex {
		l.tail = nilIndex
	} else {
		l.slots[l.head].prev = nilIndex
	}
	l.slots[i].prev, l.slots[i].next = nilIndex, nilIndex
	l.depth--
	return i
}

func (l *frameList) before(a, b int32) bool {
	fa, fb := &l.slots[a].frame, &l.slots[b].frame
	return frameBefore(fa.Timestamp, fa.SequenceNumber, fb.Timestamp, fb.SequenceNumber)
}

// insert links slot i so the queue stays sorted by (timestamp, sequence).
// The scan starts from whichever end is closer in timestamp; equal keys keep
// arrival order.
func (l *frameList) insert(i int32) {
	l.depth++
	if l.head == nilIndex {
		l.slots[i].prev, l.slots[i].next = nilIndex, nilIndex
		l.head, l.tail = i, i
		return
	}

	ts := l.slots[i].frame.Timestamp
	fromHead := tsDiff(ts, l.slots[l.head].frame.Timestamp) < tsDiff(l.slots[l.tail].frame.Timestamp, ts)

	if fromHead {
		n := l.head
		for n != nilIndex && !l.before(i, n) {
			n = l.slots[n].next
		}
		l.linkBefore(i, n)
		return
	}

	p := l.tail
	for p != nilIndex && l.before(i, p) {
		p = l.slots[p].prev
	}
	l.linkAfter(i, p)
}

// linkBefore places i in front of n; n == nilIndex appends at the tail.
func (l *frameList) linkBefore(i, n int32) {
	if n == nilIndex {
		l.linkAfter(i, l.tail)
		return
	}
	p := l.slots[n].prev
	l.slots[i].prev, l.slots[i].next = p, n
	l.slots[n].prev = i
	if p == nilIndex {
		l.head = i
	} else {
		l.slots[p].next = i
	}
}

// linkAfter places i behind p; p == nilIndex prepends at the head.
func (l *frameList) linkAfter(i, p int32) {
	var n int32
	if p == nilIndex {
		n = l.head
	} else {
		n = l.slots[p].next
	}
	l.slots[i].prev, l.slots[i].next = p, n
	if p == nilIndex {
		l.head = i
	} else {
		l.slots[p].next = i
	}
	if n == nilIndex {
		l.tail = i
	} else {
		l.slots[n].prev = i
	}
}

// flush moves every queued frame back to the free stack. Parked slots are
// not touched.
func (l *frameList) flush(visit func(f *Frame)) int {
	n := 0
	for i := l.popOldest(); i != nilIndex; i = l.popOldest() {
		if visit != nil {
			visit(&l.slots[i].frame)
		}
		l.release(i)
		n++
	}
	return n
}
