package loconet

import "github.com/traintastic-go/hwcore/hardware/iohandler"

// Simulator answers the LocoNet wire protocol well enough to exercise
// this kernel offline (spec.md §4.6): it tracks power/e-stop state and
// echoes every outgoing frame back as its own acknowledgement, the way
// real LocoNet hardware's bus-level echo works.
type Simulator struct {
	power bool
	estop bool
}

var _ iohandler.Responder = (*Simulator)(nil)

func NewSimulator() *Simulator { return &Simulator{} }

func (s *Simulator) Startup() [][]byte { return nil }

// Respond mirrors the outgoing frame's effect locally and echoes it
// back once — LocoNet is a shared bus, so every transmitter also
// receives its own frame.
func (s *Simulator) Respond(out []byte) ([][]byte, int) {
	if len(out) == 0 {
		return nil, 1
	}
	switch out[0] {
	case OpGPOn:
		s.power = true
	case OpGPOff:
		s.power = false
	case OpIdle:
		s.estop = true
	}
	return [][]byte{out}, 1
}
