package simserver

import (
	"encoding/binary"
	"net"
	"sync"

	"github.com/google/uuid"
)

// Server is the minimal TCP listener side of the internal simulator
// protocol: every connected peer represents one interface's kernel
// dialing in, and every decoded message is echoed to every other peer
// so multiple interfaces can share one simulated layout (spec.md
// §4.6 point 3). Each peer is tagged with a random id at accept time
// purely so onMessage/logging can tell overlapping connections apart;
// it never crosses the wire.
type Server struct {
	ln net.Listener

	mu    sync.Mutex
	conns map[net.Conn]uuid.UUID

	onMessage func(peer uuid.UUID, msg Message)
}

// Listen starts accepting connections on addr. onMessage, if non-nil,
// is called (from an internal goroutine, one per connection) for
// every decoded message before it is fanned out to the other peers.
func Listen(addr string, onMessage func(peer uuid.UUID, msg Message)) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{ln: ln, conns: map[net.Conn]uuid.UUID{}, onMessage: onMessage}
	go s.acceptLoop()
	return s, nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

func (s *Server) Close() error { return s.ln.Close() }

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		peer := uuid.New()
		s.mu.Lock()
		s.conns[conn] = peer
		s.mu.Unlock()
		go s.readLoop(conn, peer)
	}
}

func (s *Server) readLoop(conn net.Conn, peer uuid.UUID) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, err := conn.Read(tmp)
		if err != nil {
			return
		}
		buf = append(buf, tmp[:n]...)
		for {
			advance, frame, _ := Split(buf)
			if advance == 0 {
				break
			}
			buf = buf[advance:]
			if frame == nil {
				continue
			}
			if msg, err := DecodeFrame(frame); err == nil && s.onMessage != nil {
				s.onMessage(peer, msg)
			}
			s.broadcast(frame, conn)
		}
	}
}

func (s *Server) broadcast(frame []byte, except net.Conn) {
	wire := wrapFrame(frame)
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		if c == except {
			continue
		}
		c.Write(wire)
	}
}

// Broadcast pushes an already-encoded message (EncodePower and
// friends) to every connected peer, for a kernel-side component that
// wants to drive the shared layout directly rather than through a
// peer connection.
func (s *Server) Broadcast(encoded []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Write(encoded)
	}
}

func wrapFrame(frame []byte) []byte {
	buf := make([]byte, headerLen+len(frame))
	binary.LittleEndian.PutUint32(buf[:headerLen], uint32(len(frame)))
	copy(buf[headerLen:], frame)
	return buf
}
