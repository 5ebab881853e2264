package jit

import "testing"

func TestEnqueueOrdersByTarget(t *testing.T) {
	q := NewQueue()
	if err := q.Enqueue(Entry{Target: 5000, TOA: 100}, 0, 0, 1<<20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Enqueue(Entry{Target: 3000, TOA: 100}, 0, 0, 1<<20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first, err := q.Peek(3000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Target != 3000 {
		t.Fatalf("expected earliest entry first, got target %d", first.Target)
	}
}

func TestEnqueueRejectsCollision(t *testing.T) {
	q := NewQueue()
	if err := q.Enqueue(Entry{Target: 1000, TOA: 500}, 0, 0, 1<<20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := q.Enqueue(Entry{Target: 1200, TOA: 500}, 0, 0, 1<<20)
	if err != ErrCollisionPkt {
		t.Fatalf("expected collision rejection, got %v", err)
	}
}

func TestEnqueueRejectsTooLate(t *testing.T) {
	q := NewQueue()
	err := q.Enqueue(Entry{Target: 100}, 1000, 500, 1<<20)
	if err != ErrTooLate {
		t.Fatalf("expected TOO_LATE, got %v", err)
	}
}

func TestEnqueueRejectsTooEarly(t *testing.T) {
	q := NewQueue()
	err := q.Enqueue(Entry{Target: 1 << 21}, 0, 0, 1<<20)
	if err != ErrTooEarly {
		t.Fatalf("expected TOO_EARLY, got %v", err)
	}
}

func TestEnqueueRejectsFull(t *testing.T) {
	q := NewQueue()
	for i := 0; i < QueueMax; i++ {
		target := uint32(i * 100000)
		if err := q.Enqueue(Entry{Target: target, TOA: 10}, 0, 0, 1<<30); err != nil {
			t.Fatalf("unexpected error filling queue at %d: %v", i, err)
		}
	}
	err := q.Enqueue(Entry{Target: uint32(QueueMax * 100000), TOA: 10}, 0, 0, 1<<30)
	if err != ErrFull {
		t.Fatalf("expected QUEUE_FULL, got %v", err)
	}
}

func TestDequeueEmpty(t *testing.T) {
	q := NewQueue()
	_, err := q.Dequeue()
	if err != ErrEmpty {
		t.Fatalf("expected QUEUE_EMPTY, got %v", err)
	}
}

func TestWrapSafeOrdering(t *testing.T) {
	q := NewQueue()
	near := uint32(0xFFFFFFF0)
	far := uint32(5000)
	if err := q.Enqueue(Entry{Target: far, TOA: 10}, near, 0, 1<<20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Enqueue(Entry{Target: near, TOA: 10}, near, 0, 1<<20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first, err := q.Peek(near)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Target != near {
		t.Fatalf("expected wrap-aware ordering to put %d first, got %d", near, first.Target)
	}
}

func TestWindowsOverlapAcrossWraparound(t *testing.T) {
	q := NewQueue()
	// near's guard extends past the 2^32 boundary into low counter
	// values; a second entry whose window starts there collides even
	// though its raw Target is numerically far from near's Target.
	near := uint32(0xFFFFFFF0)
	if err := q.Enqueue(Entry{Target: near, TOA: 10}, near, 0, 1<<20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := q.Enqueue(Entry{Target: 500, TOA: 10}, near, 0, 1<<20)
	if err != ErrCollisionPkt {
		t.Fatalf("expected collision across wraparound, got %v", err)
	}
}

func TestPeekNotDue(t *testing.T) {
	q := NewQueue()
	if err := q.Enqueue(Entry{Target: 1_000_000, TOA: 10}, 0, 0, 1<<30); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := q.Peek(0); err != ErrNotDue {
		t.Fatalf("expected NOT_DUE, got %v", err)
	}
	if _, err := q.Peek(1_000_000 - DispatchLead); err != nil {
		t.Fatalf("expected entry to become due at the dispatch lead boundary, got %v", err)
	}
}

func TestEnqueueImmediateRejectedWhenQueueNotEmpty(t *testing.T) {
	q := NewQueue()
	if err := q.Enqueue(Entry{Target: 500000, TOA: 10}, 0, 0, 1<<30); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := q.Enqueue(Entry{IsImmediate: true, Target: 0, TOA: 10}, 0, 0, 1<<30)
	if err != ErrCollisionPkt {
		t.Fatalf("expected immediate entry to be refused against a non-empty queue, got %v", err)
	}
}

func TestEnqueueImmediateAdmittedWhenQueueEmpty(t *testing.T) {
	q := NewQueue()
	if err := q.Enqueue(Entry{IsImmediate: true, Target: 0, TOA: 10}, 0, 0, 1<<30); err != nil {
		t.Fatalf("expected immediate entry into an empty queue to succeed, got %v", err)
	}
}

func TestEnqueueBeaconCollisionWithOrdinaryEntryReportsCollisionBeacon(t *testing.T) {
	q := NewQueue()
	if err := q.Enqueue(Entry{Target: 1000, TOA: 500}, 0, 0, 1<<20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := q.Enqueue(Entry{IsBeacon: true, Target: 1200, TOA: 500}, 0, 0, 1<<20)
	if err != ErrCollisionBcn {
		t.Fatalf("expected COLLISION_BEACON when the entering entry is a beacon, got %v", err)
	}
}

func TestPeekReturnsOverdueEntry(t *testing.T) {
	q := NewQueue()
	if err := q.Enqueue(Entry{Target: 1000, TOA: 10}, 0, 0, 1<<30); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry, err := q.Peek(5000)
	if err != nil {
		t.Fatalf("expected an overdue entry to still be returned, got %v", err)
	}
	if entry.Target != 1000 {
		t.Fatalf("expected overdue entry, got target %d", entry.Target)
	}
}
