// Package jit implements the per-RF-chain transmit scheduler. Each queue
// keeps its entries ordered by target counter and rejects anything that
// would collide with an already-scheduled transmission or arrive too late
// or too early to be honoured.
//
// The queue shape (construct once, mutate under its own lock, drain
// through a dedicated accessor) follows the same call pattern the
// concentrator's downlink manager used against its own JIT queue, widened
// here to implement the collision and lead-time rules a real scheduler
// needs.
package jit

import (
	"sync"

	"github.com/loraforge/pktfwd/internal/counter"
	"github.com/loraforge/pktfwd/internal/lorapkt"
)

// Rejection reasons returned by Enqueue.
const (
	ErrTooLate      = errStr("TOO_LATE")
	ErrTooEarly     = errStr("TOO_EARLY")
	ErrCollisionPkt = errStr("COLLISION_PACKET")
	ErrCollisionBcn = errStr("COLLISION_BEACON")
	ErrFull         = errStr("QUEUE_FULL")
	ErrEmpty        = errStr("QUEUE_EMPTY")
	// ErrNotDue is returned by Peek when the head entry's target is
	// still further out than DispatchLead.
	ErrNotDue = errStr("NOT_DUE")
)

type errStr string

func (e errStr) Error() string { return string(e) }

const (
	// QueueMax is the maximum number of entries held by a single chain's
	// queue at once.
	QueueMax = 32
	// MaxBeaconReserved bounds how many beacon slots may occupy the
	// queue simultaneously, leaving room for downlink traffic.
	MaxBeaconReserved = 8
	// GuardTime is added after a transmission's computed end when
	// checking for collisions with the next scheduled entry.
	GuardTime = 1000 // µs
	// DispatchLead is how far ahead of an entry's target counter Peek
	// starts surfacing it, giving the dispatcher time to program the
	// concentrator before the deadline arrives.
	DispatchLead = 10000 // µs
)

// Entry is one scheduled transmission.
type Entry struct {
	Packet      lorapkt.TXPacket
	Target      uint32 // concentrator counter this entry must fire at
	TOA         uint32 // time on air, µs
	IsBeacon    bool
	IsImmediate bool // TX mode 'immediate': only admitted into an empty queue
}

// preWindow is the start of the entry's protected transmission window:
// TOA microseconds before the target, since the concentrator begins
// sending ahead of the target counter to have the packet on air exactly
// at Target.
func (e Entry) preWindow() uint32  { return e.Target - e.TOA }
func (e Entry) postWindow() uint32 { return e.Target + e.TOA + GuardTime }

// Queue is the ordered, collision-checked transmit queue for a single RF
// chain.
type Queue struct {
	mu       sync.Mutex
	entries  []Entry
	nBeacons int
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{entries: make([]Entry, 0, QueueMax)}
}

// Enqueue attempts to insert e in the queue, in target-counter order,
// checking against the invariants of the scheduler:
//   - the queue must not be full,
//   - a beacon may not exceed MaxBeaconReserved concurrently reserved slots,
//   - an immediate-mode entry is only admitted into an empty queue, since
//     it has no window of its own to check for contention against,
//   - the entry's transmission window must not overlap any already queued
//     entry's window (collision); if either side of the collision is a
//     beacon, the queue refuses with COLLISION_BEACON,
//   - the entry must not already be in the past relative to now, nor be
//     scheduled beyond the queue's practical lead time.
func (q *Queue) Enqueue(e Entry, now uint32, minLeadUS, maxLeadUS uint32) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= QueueMax {
		return ErrFull
	}
	if e.IsBeacon && q.nBeacons >= MaxBeaconReserved {
		return ErrFull
	}
	if e.IsImmediate && len(q.entries) > 0 {
		return ErrCollisionPkt
	}

	delta := counter.Sub(e.Target, now)
	if delta < int32(minLeadUS) {
		return ErrTooLate
	}
	if uint32(delta) > maxLeadUS {
		return ErrTooEarly
	}

	for _, other := range q.entries {
		if windowsOverlap(e, other) {
			if e.IsBeacon || other.IsBeacon {
				return ErrCollisionBcn
			}
			return ErrCollisionPkt
		}
	}

	idx := len(q.entries)
	for i, other := range q.entries {
		if counter.LessRecent(e.Target, other.Target) {
			idx = i
			break
		}
	}
	q.entries = append(q.entries, Entry{})
	copy(q.entries[idx+1:], q.entries[idx:])
	q.entries[idx] = e

	if e.IsBeacon {
		q.nBeacons++
	}
	return nil
}

// windowsOverlap reports whether a and b's protected windows intersect,
// using counter.Sub throughout so the comparison stays correct across
// the 32-bit counter's wraparound.
func windowsOverlap(a, b Entry) bool {
	return counter.Sub(a.preWindow(), b.postWindow()) <= 0 &&
		counter.Sub(b.preWindow(), a.postWindow()) <= 0
}

// Peek returns the earliest scheduled entry without removing it, once
// its target is within DispatchLead of now. An entry whose target has
// already passed is still returned so the caller can evict it and
// record a failure; ErrNotDue means the head entry isn't ready yet and
// ErrEmpty means the queue holds nothing at all.
func (q *Queue) Peek(now uint32) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Entry{}, ErrEmpty
	}
	head := q.entries[0]
	if counter.Sub(head.Target, now) > int32(DispatchLead) {
		return Entry{}, ErrNotDue
	}
	return head, nil
}

// Dequeue removes and returns the earliest scheduled entry.
func (q *Queue) Dequeue() (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Entry{}, ErrEmpty
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	if e.IsBeacon {
		q.nBeacons--
	}
	return e, nil
}

// Len reports how many entries are currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// BeaconCount reports how many of the currently queued entries are
// beacons, letting a caller refill the lookahead window up to
// MaxBeaconReserved without overshooting it.
func (q *Queue) BeaconCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nBeacons
}
