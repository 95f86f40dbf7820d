package selectrix

import "github.com/traintastic-go/hwcore/hardware/iohandler"

// Simulator answers the Selectrix/Rautenhaus channel protocol offline
// (spec.md §4.6), holding the full 112-channel bus state.
type Simulator struct {
	channels [ChannelCount]byte
}

var _ iohandler.Responder = (*Simulator)(nil)

func NewSimulator() *Simulator { return &Simulator{} }

func (s *Simulator) Startup() [][]byte { return nil }

func (s *Simulator) Respond(out []byte) ([][]byte, int) {
	if len(out) != 3 {
		return nil, 1
	}
	switch out[0] {
	case opWriteChannel:
		ch, value := out[1], out[2]
		if int(ch) < ChannelCount {
			s.channels[ch] = value
		}
		return [][]byte{BuildChannelData(ch, value)}, 1
	case opReadChannel:
		ch := out[1]
		if int(ch) >= ChannelCount {
			return nil, 1
		}
		return [][]byte{BuildChannelData(ch, s.channels[ch])}, 1
	}
	return nil, 1
}
