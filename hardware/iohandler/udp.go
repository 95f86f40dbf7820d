package iohandler

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// UDPConfig names a UDP endpoint transport: host:port, used by Z21.
type UDPConfig struct {
	Host string
	Port int
}

func (c UDPConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// UDPHandler implements Handler for a single UDP peer. Per spec.md
// §4.1, "UDP (Z21) is one datagram per frame" — there is no
// FrameSplitter here because a datagram boundary already is the frame
// boundary; the first two little-endian bytes carrying a redundant
// self-length are validated in the Z21 codec, not here.
type UDPHandler struct {
	conn   *net.UDPConn
	sink   Sink
	sendQ  chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// OpenUDP resolves and connects a UDP socket to cfg.
func OpenUDP(cfg UDPConfig, sink Sink, sendQueueSize int) (*UDPHandler, error) {
	raddr, err := net.ResolveUDPAddr("udp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("resolve udp %s: %w", cfg.Addr(), err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial udp %s: %w", cfg.Addr(), err)
	}
	if sendQueueSize <= 0 {
		sendQueueSize = DefaultSendQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &UDPHandler{conn: conn, sink: sink, sendQ: make(chan []byte, sendQueueSize), ctx: ctx, cancel: cancel}, nil
}

func (h *UDPHandler) Start() error {
	h.wg.Add(2)
	go h.readLoop()
	go h.writeLoop()
	h.sink.Started(nil)
	return nil
}

func (h *UDPHandler) Stop() error {
	h.cancel()
	err := h.conn.Close()
	h.wg.Wait()
	return err
}

func (h *UDPHandler) Send(frame []byte) bool {
	cp := append([]byte(nil), frame...)
	select {
	case h.sendQ <- cp:
		return true
	default:
		return false
	}
}

func (h *UDPHandler) writeLoop() {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case f := <-h.sendQ:
			if _, err := h.conn.Write(f); err != nil {
				return
			}
		}
	}
}

func (h *UDPHandler) readLoop() {
	defer h.wg.Done()
	buf := make([]byte, 2048)
	for {
		n, err := h.conn.Read(buf)
		if err != nil {
			select {
			case <-h.ctx.Done():
				return
			default:
			}
			return
		}
		frame := append([]byte(nil), buf[:n]...)
		h.sink.Receive(frame)
	}
}
