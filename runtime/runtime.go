// Package runtime provides the explicit, constructor-injected
// replacement for the C++ source's process-wide singletons
// (Traintastic::instance, EventLoop::call — spec.md §9 design notes).
// Every component that needs to log or cross from a kernel's IO thread
// to the domain thread takes a *Runtime.
package runtime

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Config configures the Runtime's ambient services.
type Config struct {
	MemoryLogSize  int
	EventQueueSize int
}

// Runtime bundles the EventLoop, the Logger and a group that tracks
// every kernel IO-thread goroutine so Wait can join them all and
// report the first error, the way the teacher's services run under a
// shared context and the rest of the pack's aistore-style transport
// layer tracks worker goroutines under an errgroup.
type Runtime struct {
	Log   *Logger
	Loop  *EventLoop
	group *errgroup.Group
	gctx  context.Context
}

// New builds a Runtime. Call Run to start the event loop before
// constructing any Interface.
func New(cfg Config) *Runtime {
	g, gctx := errgroup.WithContext(context.Background())
	return &Runtime{
		Log:   NewLogger(cfg.MemoryLogSize),
		Loop:  NewEventLoop(cfg.EventQueueSize),
		group: g,
		gctx:  gctx,
	}
}

// Run starts the event loop and blocks until ctx is cancelled.
func (r *Runtime) Run(ctx context.Context) { r.Loop.Run(ctx) }

// Go tracks fn as a managed background goroutine (a kernel's IO
// thread, typically). The first error any tracked goroutine returns is
// reported by Wait.
func (r *Runtime) Go(fn func() error) { r.group.Go(fn) }

// Wait blocks until every goroutine started via Go has returned and
// reports the first non-nil error, if any.
func (r *Runtime) Wait() error { return r.group.Wait() }
