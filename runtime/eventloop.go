package runtime

import (
	"context"

	"go.uber.org/atomic"
)

// EventLoop is the single domain-mutation thread. Every controller
// update that originates on a kernel's IO thread crosses into the
// domain by calling EventLoop.Call, which queues a closure and runs it
// in the order it was queued (spec.md §5's FIFO ordering guarantee).
//
// This is the explicit replacement for the C++ source's global
// EventLoop::call (spec.md §9 design notes): one instance lives on the
// Runtime and is threaded into every constructor that needs it.
type EventLoop struct {
	queue   chan func()
	depth   atomic.Int64
	started atomic.Bool
}

// NewEventLoop builds an EventLoop with the given queue depth. Queue
// depth only bounds how many pending posts may be buffered before Call
// blocks the poster; it never drops a closure.
func NewEventLoop(queueSize int) *EventLoop {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &EventLoop{queue: make(chan func(), queueSize)}
}

// Run drains the queue until ctx is cancelled. Exactly one goroutine
// should call Run; it is the "event-loop thread" every domain-mutation
// assertion in this module checks against.
func (e *EventLoop) Run(ctx context.Context) {
	e.started.Store(true)
	defer e.started.Store(false)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-e.queue:
			e.depth.Dec()
			fn()
		}
	}
}

// Call queues fn to run on the event-loop thread. Safe from any
// goroutine, including the caller's own event-loop thread (in which
// case fn runs after everything already queued).
func (e *EventLoop) Call(fn func()) {
	e.depth.Inc()
	e.queue <- fn
}

// QueueDepth reports the number of closures currently queued,
// primarily for tests asserting ordering/backpressure.
func (e *EventLoop) QueueDepth() int64 { return e.depth.Load() }

// IsRunning reports whether Run is currently active. Go has no
// portable, race-free way to identify "the current goroutine" short
// of a runtime hack, so this flag is the only event-loop check this
// package offers; it is enough to catch "called before Run" logic
// errors.
func (e *EventLoop) IsRunning() bool { return e.started.Load() }
