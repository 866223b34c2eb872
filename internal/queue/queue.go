package queue

import (
	"errors"
	"fmt"

	"github.com/sluiceio/sluice/internal/event"
)

// ErrFull is returned by Push when the queue is at capacity.
var ErrFull = errors.New("event queue full")

// Queue is a bounded FIFO hand-off between publishers and the single
// consumer. Push and Pop never block: a full push and an empty pop both
// fail fast. Share one queue by pointer; all holders see the same ring.
type Queue struct {
	ch chan *event.Event
}

// New creates a queue with a fixed capacity, never resized afterward.
func New(capacity int) (*Queue, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("queue capacity must be >= 1, got %d", capacity)
	}
	return &Queue{ch: make(chan *event.Event, capacity)}, nil
}

// Push enqueues an event or fails with ErrFull. On success ownership of
// the event transfers to whoever pops it.
func (q *Queue) Push(evt *event.Event) error {
	select {
	case q.ch <- evt:
		return nil
	default:
		return ErrFull
	}
}

// Pop dequeues the oldest event, or reports false when empty.
func (q *Queue) Pop() (*event.Event, bool) {
	select {
	case evt := <-q.ch:
		return evt, true
	default:
		return nil, false
	}
}

// Len reports the number of queued events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap reports the fixed capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// IsEmpty reports whether nothing is queued.
func (q *Queue) IsEmpty() bool {
	return len(q.ch) == 0
}

// Drain pops everything currently queued and releases it. Used on
// shutdown so abandoned payloads do not leak. Returns the drained count.
func (q *Queue) Drain() int {
	n := 0
	for {
		evt, ok := q.Pop()
		if !ok {
			return n
		}
		evt.Release()
		n++
	}
}
