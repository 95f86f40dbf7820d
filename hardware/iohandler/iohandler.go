// Package iohandler implements the replaceable transport shim spec.md
// §4.1 names: one serial port, one TCP connection, one UDP socket, or
// a simulator, each handing complete frames to a Sink.
//
// The concrete Handlers are StreamHandler (serial and TCP), UDPHandler
// and SimHandler. StreamHandler and UDPHandler each run a reader
// goroutine and a writer goroutine: a send queue channel feeds the
// writer, a context cancels both, and a blocked read never blocks the
// sender.
package iohandler

// Sink is the kernel side of the contract: the IO handler calls these
// as frames arrive. All three methods may be called concurrently with
// Handler.Send from the kernel's own I/O-thread goroutine, since the
// handler's reader runs on a separate goroutine from the handler's
// writer; Sink implementations must be safe for that.
type Sink interface {
	// Receive is called once per complete frame extracted from the
	// transport.
	Receive(frame []byte)
	// Started reports that the transport is open and usable (err nil)
	// or that opening it failed (err non-nil), per spec.md §4.1.
	Started(err error)
	// Dropped reports n bytes skipped by the frame extractor due to
	// unrecognized/malformed data (spec.md §4.1, §7).
	Dropped(n int)
}

// Handler is the transport-shim contract every variant implements.
type Handler interface {
	// Start opens the transport and begins reading. Must not block
	// past the point where it has kicked off its reader goroutine.
	Start() error
	// Stop cancels the handler and closes the transport. Frames still
	// in the send queue are discarded, not flushed. Idempotent.
	Stop() error
	// Send queues one frame for transmission. Returns false if the
	// send queue is full; never blocks.
	Send(frame []byte) bool
}

// DefaultSendQueueSize bounds every handler's outbound queue so a
// stalled transport applies backpressure instead of growing memory
// without bound.
const DefaultSendQueueSize = 256

// DeferredSink breaks the construction cycle between a Handler (which
// needs a Sink) and a Kernel (which needs an already-built Handler):
// build a DeferredSink, pass it to the Handler constructor, construct
// the Kernel with that Handler, then set Target to the Kernel. Safe
// because Handler.Start is never called before wiring is complete.
type DeferredSink struct {
	Target Sink
}

func (d *DeferredSink) Started(err error) { d.Target.Started(err) }
func (d *DeferredSink) Dropped(n int)     { d.Target.Dropped(n) }
func (d *DeferredSink) Receive(f []byte)  { d.Target.Receive(f) }

// FrameSplitter extracts one frame at a time from a growing byte
// buffer: it returns how many bytes to advance, the frame found (nil
// if none yet), and how many leading bytes it skipped as unrecognized
// (reported to Sink.Dropped). One call may both skip bytes and return
// a frame. A FrameSplitter never blocks and is a pure
// function of its input buffer, per spec.md §4.2's "pure functions
// over byte buffers" requirement — every protocol package owns its
// own splitter (loconet.Split, xpressnet.Split, dccex.Split, ...).
type FrameSplitter func(buf []byte) (advance int, frame []byte, dropped int)
