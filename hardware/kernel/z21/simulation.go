package z21

import (
	"encoding/binary"

	"github.com/traintastic-go/hwcore/hardware/iohandler"
)

// Simulator answers the Z21 UDP wire protocol offline (spec.md §4.6).
type Simulator struct {
	power bool
}

var _ iohandler.Responder = (*Simulator)(nil)

func NewSimulator() *Simulator { return &Simulator{} }

func (s *Simulator) Startup() [][]byte { return nil }

func (s *Simulator) Respond(out []byte) ([][]byte, int) {
	msgType, payload, ok := ParseEnvelope(out)
	if !ok {
		return nil, 1
	}
	switch msgType {
	case LanGetSerialNumber:
		data := make([]byte, 4)
		binary.LittleEndian.PutUint32(data, 123456)
		return [][]byte{wrapLAN(LanGetSerialNumber, data)}, 1
	case LanGetHardwareInfo:
		data := make([]byte, 8)
		return [][]byte{wrapLAN(LanGetHardwareInfo, data)}, 1
	case LanSystemStateGetData:
		return [][]byte{wrapLAN(LanSystemStateDataChanged, make([]byte, 16))}, 1
	case LanSetBroadcastFlags:
		return nil, 1
	case LanX:
		return s.respondXBus(payload), 1
	}
	return nil, 1
}

func (s *Simulator) respondXBus(xbus []byte) [][]byte {
	if len(xbus) == 0 {
		return nil
	}
	switch xbus[0] {
	case 0x21:
		if len(xbus) >= 2 && xbus[1] == 0x81 {
			s.power = true
			return [][]byte{finishXBus([]byte{0x61, 0x01})}
		}
		if len(xbus) >= 2 && xbus[1] == 0x80 {
			s.power = false
			return [][]byte{finishXBus([]byte{0x61, 0x00})}
		}
	case XHeaderLocoDrive:
		// optimistic echo: Z21 LOCO_DRIVE does not itself reply;
		// LAN_X_LOCO_INFO would follow a subsequent GET_LOCO_INFO.
		return nil
	case XHeaderGetLocoInfo:
		return [][]byte{finishXBus([]byte{XHeaderLocoInfo, xbus[2], xbus[3], 0x13, 0x00, 0x00, 0x00, 0x00})}
	}
	return nil
}
