package marklincan

import "github.com/traintastic-go/hwcore/hardware/iohandler"

// Simulator answers the Marklin-CAN wire protocol offline (spec.md
// §4.6), tracking just system power state.
type Simulator struct {
	power bool
}

var _ iohandler.Responder = (*Simulator)(nil)

func NewSimulator() *Simulator { return &Simulator{} }

func (s *Simulator) Startup() [][]byte { return nil }

func (s *Simulator) Respond(out []byte) ([][]byte, int) {
	f, ok := Decode(out)
	if !ok {
		return nil, 1
	}
	switch f.Command {
	case CmdSystem:
		if f.DLC >= 5 {
			switch f.Data[4] {
			case SystemGo:
				s.power = true
			case SystemStop, SystemHalt:
				s.power = false
			}
		}
		f.Response = true
		return [][]byte{Encode(f)}, 1
	case CmdLocoSpeed, CmdLocoDirection, CmdLocoFunction, CmdAccessory:
		f.Response = true
		return [][]byte{Encode(f)}, 1
	}
	return nil, 1
}
