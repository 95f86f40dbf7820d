package traintasticdiy

import (
	"strings"

	"github.com/traintastic-go/hwcore/hardware/iohandler"
)

// Simulator answers the Traintastic-DIY ASCII protocol offline
// (spec.md §4.6), including replying to heartbeats so the kernel's
// timeout watchdog never fires in simulation mode.
type Simulator struct {
	power bool
}

var _ iohandler.Responder = (*Simulator)(nil)

func NewSimulator() *Simulator { return &Simulator{} }

func (s *Simulator) Startup() [][]byte { return [][]byte{BuildHello()} }

func (s *Simulator) Respond(out []byte) ([][]byte, int) {
	line := strings.TrimSuffix(string(out), "\n")
	fields := strings.Split(line, ",")
	if len(fields) == 0 {
		return nil, 1
	}
	switch fields[0] {
	case "HI":
		return [][]byte{BuildHello()}, 1
	case "HB":
		return [][]byte{BuildHeartbeat()}, 1
	case "PW":
		s.power = len(fields) > 1 && fields[1] == "1"
		return [][]byte{out}, 1
	}
	return nil, 1
}
