package xpressnet

import "github.com/traintastic-go/hwcore/hardware/iohandler"

// retransmitCount mimics XpressNet's own bus-level retransmit
// behaviour for broadcasts (spec.md §4.6 point 2: "N=3 for XpressNet
// mimicking its retransmit behaviour").
const retransmitCount = 3

// Simulator answers the XpressNet wire protocol offline.
type Simulator struct {
	power bool
}

var _ iohandler.Responder = (*Simulator)(nil)

func NewSimulator() *Simulator { return &Simulator{} }

func (s *Simulator) Startup() [][]byte { return nil }

func (s *Simulator) Respond(out []byte) ([][]byte, int) {
	if len(out) == 0 {
		return nil, 1
	}
	switch out[0] {
	case 0x21:
		if len(out) >= 2 && out[1] == 0x81 {
			s.power = true
			return [][]byte{{0x61, 0x01, 0x60}}, retransmitCount
		}
		if len(out) >= 2 && out[1] == 0x80 {
			s.power = false
			return [][]byte{{0x61, 0x00, 0x61}}, retransmitCount
		}
	}
	return [][]byte{out}, 1
}
