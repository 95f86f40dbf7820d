package iohandler

import (
	"context"
	"sync"
)

// Responder is what a protocol package implements to answer the wire
// protocol well enough to exercise its Kernel offline (spec.md §4.6):
// given an outgoing frame, it updates its own local mirror and returns
// zero or more reply frames. Repeat lets a protocol mimic a device's
// retransmit behaviour (XpressNet's N=3 broadcast replay, spec.md
// §4.6 point 2).
type Responder interface {
	Respond(out []byte) (replies [][]byte, repeat int)
	// Startup returns any frames the device would emit unprompted at
	// connect time (Z21's unsolicited status broadcasts, for
	// instance); most protocols return nil.
	Startup() [][]byte
}

// SimHandler is the SimulationIOHandler spec.md §4.6 names: a Handler
// that never touches real hardware, instead looping every outgoing
// frame through a Responder and feeding the replies back through the
// same Sink.Receive path production code uses, so tests exercise
// identical kernel logic in both modes.
type SimHandler struct {
	resp   Responder
	sink   Sink
	sendQ  chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSimHandler builds a SimHandler around resp.
func NewSimHandler(resp Responder, sink Sink, sendQueueSize int) *SimHandler {
	if sendQueueSize <= 0 {
		sendQueueSize = DefaultSendQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SimHandler{resp: resp, sink: sink, sendQ: make(chan []byte, sendQueueSize), ctx: ctx, cancel: cancel}
}

func (h *SimHandler) Start() error {
	h.wg.Add(1)
	go h.loop()
	h.sink.Started(nil)
	for _, f := range h.resp.Startup() {
		h.sink.Receive(f)
	}
	return nil
}

func (h *SimHandler) Stop() error {
	h.cancel()
	h.wg.Wait()
	return nil
}

func (h *SimHandler) Send(frame []byte) bool {
	cp := append([]byte(nil), frame...)
	select {
	case h.sendQ <- cp:
		return true
	default:
		return false
	}
}

func (h *SimHandler) loop() {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case f := <-h.sendQ:
			replies, repeat := h.resp.Respond(f)
			if repeat < 1 {
				repeat = 1
			}
			for i := 0; i < repeat; i++ {
				for _, r := range replies {
					h.sink.Receive(r)
				}
			}
		}
	}
}
