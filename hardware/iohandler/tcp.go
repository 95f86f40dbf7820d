package iohandler

import (
	"fmt"
	"net"
)

// TCPConfig names a TCP client transport: host:port, exactly
// spec.md §3's "host+port" Interface transport config.
type TCPConfig struct {
	Host string
	Port int
}

func (c TCPConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// OpenTCP dials cfg and returns a Handler that frames reads with
// split (ECoS's bracketed frames, DCC-EX/WiThrottle's newline frames,
// Traintastic-DIY's own line framing).
func OpenTCP(cfg TCPConfig, split FrameSplitter, sink Sink, sendQueueSize int) (Handler, error) {
	conn, err := net.Dial("tcp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", cfg.Addr(), err)
	}
	return NewStreamHandler(conn, split, sink, sendQueueSize), nil
}
