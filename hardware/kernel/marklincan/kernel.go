package marklincan

import (
	"github.com/traintastic-go/hwcore/hardware/decoder"
	"github.com/traintastic-go/hwcore/hardware/iohandler"
	"github.com/traintastic-go/hwcore/hardware/input"
	"github.com/traintastic-go/hwcore/hardware/output"
	base "github.com/traintastic-go/hwcore/hardware/kernel"
	"github.com/traintastic-go/hwcore/runtime"
	"github.com/traintastic-go/hwcore/worldstate"
)

// dccUIDBase is the offset CS2/CS3 add to a plain DCC address to form
// a locomotive UID (spec.md §4.3 Marklin-CAN addressing).
const dccUIDBase = 0xC000

type Config struct {
	base.Config
	StationUID uint32
}

type Hooks struct {
	InputChanged func(address uint32, value input.TriState)
}

type Kernel struct {
	*base.Base
	cfg   Config
	hooks Hooks
	hash  uint16

	inputMirror map[uint32]bool
}

func New(cfg Config, rt *runtime.Runtime, world *worldstate.World, cb base.Callbacks, hooks Hooks, io iohandler.Handler) *Kernel {
	k := &Kernel{cfg: cfg, hooks: hooks, hash: Hash(cfg.StationUID), inputMirror: map[uint32]bool{}}
	k.Base = base.NewBase(cfg.Config, rt, world, cb, io)
	return k
}

func (k *Kernel) Start() {
	k.Base.Start(func(err error) {
		if k.CB.OnStarted != nil {
			k.CB.OnStarted(err)
		}
	})
	k.ArmStartupDelay(k.onReady)
}

func (k *Kernel) onReady() {
	if k.CB.OnStarted != nil {
		k.CB.OnStarted(nil)
	}
	snap := k.World.Snapshot()
	for _, action := range base.Reconcile(snap) {
		switch action {
		case base.ActionStopAllLocomotives:
			k.send(BuildLocoEmergencyStop(k.cfg.StationUID))
			k.NoteEmergencyStop(true)
		case base.ActionTrackPowerOff:
			k.send(BuildSystemStop(k.cfg.StationUID))
			k.NotePowerOn(false)
		case base.ActionTrackPowerOn:
			k.send(BuildSystemGo(k.cfg.StationUID))
			k.NotePowerOn(true)
		case base.ActionClearEmergencyStop:
			k.NoteEmergencyStop(false)
		case base.ActionRestoreDecoderSpeed:
			base.RestoreDecoderSpeed(k.Decoders, func(d *decoder.Decoder) {
				k.DecoderChanged(d, decoder.ChangeThrottle, 0)
			})
		}
	}
}

func (k *Kernel) send(frame []byte) {
	if !k.IO.Send(frame) {
		k.RT.Log.Warn(k.cfg.LogID, "send_queue_full")
	}
}

func (k *Kernel) Started(err error) {
	if err != nil && k.CB.OnStarted != nil {
		k.CB.OnStarted(err)
	}
}

func (k *Kernel) Dropped(n int) { k.RT.Log.Warn(k.cfg.LogID, "malformed_data_dropped", n) }

func (k *Kernel) Receive(frame []byte) { k.Post(func() { k.receive(frame) }) }

func (k *Kernel) receive(frame []byte) {
	if k.cfg.DebugLogRXTX {
		k.RT.Log.Debug(k.cfg.LogID, "rx", Dump(frame))
	}
	f, ok := Decode(frame)
	if !ok {
		return
	}
	switch f.Command {
	case CmdSystem:
		if len(f.Data) >= 5 {
			switch f.Data[4] {
			case SystemGo:
				k.NotePowerOn(true)
			case SystemStop, SystemHalt:
				k.NotePowerOn(false)
			}
		}
	case CmdS88Event:
		if addr, v, ok := ParseS88Event(f); ok {
			if prev, known := k.inputMirror[addr]; known && prev == v {
				return
			}
			k.inputMirror[addr] = v
			if k.hooks.InputChanged != nil {
				ts := input.False
				if v {
					ts = input.True
				}
				k.RT.Loop.Call(func() { k.hooks.InputChanged(addr, ts) })
			}
		}
	}
}

func (k *Kernel) PowerOn() {
	k.Post(func() {
		if k.PowerOnMirror() == base.Yes {
			return
		}
		k.send(BuildSystemGo(k.cfg.StationUID))
		k.NotePowerOn(true)
	})
}

func (k *Kernel) PowerOff() {
	k.Post(func() {
		if k.PowerOnMirror() == base.No {
			return
		}
		k.send(BuildSystemStop(k.cfg.StationUID))
		k.NotePowerOn(false)
	})
}

func (k *Kernel) EmergencyStop() {
	k.Post(func() {
		if k.EmergencyStopMirror() == base.Yes {
			return
		}
		k.send(BuildLocoEmergencyStop(k.cfg.StationUID))
		k.NoteEmergencyStop(true)
	})
}

func (k *Kernel) ClearEmergencyStop() { k.Post(func() { k.NoteEmergencyStop(false) }) }

func locoUID(d *decoder.Decoder) uint32 {
	return dccUIDBase + uint32(d.Key.Address)
}

// DecoderChanged implements spec.md §4.3's decoderChanged contract.
func (k *Kernel) DecoderChanged(d *decoder.Decoder, flags decoder.ChangeFlags, functionNumber int) {
	k.Post(func() {
		uid := locoUID(d)
		if flags.Has(decoder.ChangeThrottle) || flags.Has(decoder.ChangeEmergencyStop) {
			speed := uint16(0)
			if !d.EmergencyStop() && d.Throttle() > 0 {
				speed = uint16(d.Throttle() * 1000)
			}
			k.send(BuildLocoSpeed(k.hash, uid, speed))
		}
		if flags.Has(decoder.ChangeDirection) {
			dir := byte(2)
			if d.Direction() == decoder.DirectionForward {
				dir = 1
			}
			k.send(BuildLocoDirection(k.hash, uid, dir))
		}
		if flags.Has(decoder.ChangeFunctionValue) {
			f := d.Function(functionNumber)
			val := byte(0)
			if f != nil && f.Value {
				val = 1
			}
			k.send(BuildLocoFunction(k.hash, uid, byte(functionNumber), val))
		}
	})
}

func (k *Kernel) SetOutput(uid uint32, v output.Value) {
	k.Post(func() {
		position := byte(0)
		if v.Bool {
			position = 1
		}
		k.send(BuildAccessory(k.hash, uid, position, 1))
	})
}

// SimulateInputChange routes a synthesized S88 event frame back
// through receive (spec.md §4.3 simulateInputChange).
func (k *Kernel) SimulateInputChange(address uint32, setTrue bool) {
	if !k.Cfg.Simulation {
		return
	}
	k.Post(func() {
		var d [8]byte
		copy(d[0:4], encodeAddr(address))
		if setTrue {
			d[7] = 1
		}
		k.receive(Encode(Frame{Command: CmdS88Event, Hash: k.hash, DLC: 8, Data: d}))
	})
}

func encodeAddr(addr uint32) []byte {
	return []byte{byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr)}
}

// RestoreDecoderSpeed re-fires decoderChanged(Throttle) for every
// decoder with a non-zero throttle and no active emergency stop
// (spec.md §4.5, world "Run" event).
func (k *Kernel) RestoreDecoderSpeed() { k.Base.RestoreDecoderSpeedVia(k.DecoderChanged) }
