package dccex

import (
	"strconv"

	"github.com/traintastic-go/hwcore/hardware/decoder"
	"github.com/traintastic-go/hwcore/hardware/iohandler"
	"github.com/traintastic-go/hwcore/hardware/input"
	"github.com/traintastic-go/hwcore/hardware/output"
	base "github.com/traintastic-go/hwcore/hardware/kernel"
	"github.com/traintastic-go/hwcore/runtime"
	"github.com/traintastic-go/hwcore/worldstate"
)

const DefaultInputChannel = 0

// Config holds DCC-EX's own options (spec.md §6 speedSteps).
type Config struct {
	base.Config
	SpeedSteps int
}

type Hooks struct {
	InputChanged func(channel uint32, address int64, value input.TriState)
}

type Kernel struct {
	*base.Base
	cfg   Config
	hooks Hooks

	nextRegister int
	registerOf   map[*decoder.Decoder]int
	inputMirror  map[int64]bool
	outputMirror map[int64]output.Value
}

func New(cfg Config, rt *runtime.Runtime, world *worldstate.World, cb base.Callbacks, hooks Hooks, io iohandler.Handler) *Kernel {
	if cfg.SpeedSteps == 0 {
		cfg.SpeedSteps = 128
	}
	k := &Kernel{cfg: cfg, hooks: hooks, registerOf: map[*decoder.Decoder]int{}, inputMirror: map[int64]bool{}, outputMirror: map[int64]output.Value{}}
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
	k.send(BuildSpeedStepConfig(k.cfg.SpeedSteps))
	if k.CB.OnStarted != nil {
		k.CB.OnStarted(nil)
	}
	snap := k.World.Snapshot()
	for _, action := range base.Reconcile(snap) {
		switch action {
		case base.ActionStopAllLocomotives:
			k.send(BuildEStop())
			k.NoteEmergencyStop(true)
		case base.ActionTrackPowerOff:
			k.send(BuildPowerOff())
			k.NotePowerOn(false)
		case base.ActionTrackPowerOn:
			k.send(BuildPowerOn())
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

func (k *Kernel) Receive(line []byte) { k.Post(func() { k.receive(line) }) }

func (k *Kernel) receive(line []byte) {
	if k.cfg.DebugLogRXTX {
		k.RT.Log.Debug(k.cfg.LogID, "rx", Dump(line))
	}
	p, ok := Parse(line)
	if !ok {
		return
	}
	switch p.Kind {
	case "power":
		k.NotePowerOn(p.Power)
	case "sensor":
		if prev, known := k.inputMirror[p.ID]; known && prev == p.Value {
			return
		}
		k.inputMirror[p.ID] = p.Value
		if k.hooks.InputChanged != nil {
			ts := input.False
			if p.Value {
				ts = input.True
			}
			k.RT.Loop.Call(func() { k.hooks.InputChanged(DefaultInputChannel, p.ID, ts) })
		}
	case "turnout_ack":
		// acknowledged set: the domain-visible value was already
		// applied optimistically by SetOutput below.
	}
}

func (k *Kernel) PowerOn() {
	k.Post(func() {
		if k.PowerOnMirror() == base.Yes {
			return
		}
		k.send(BuildPowerOn())
		k.NotePowerOn(true)
	})
}

func (k *Kernel) PowerOff() {
	k.Post(func() {
		if k.PowerOnMirror() == base.No {
			return
		}
		k.send(BuildPowerOff())
		k.NotePowerOn(false)
	})
}

func (k *Kernel) EmergencyStop() {
	k.Post(func() {
		if k.EmergencyStopMirror() == base.Yes {
			return
		}
		k.send(BuildEStop())
		k.NoteEmergencyStop(true)
	})
}

func (k *Kernel) ClearEmergencyStop() { k.Post(func() { k.NoteEmergencyStop(false) }) }

func (k *Kernel) registerFor(d *decoder.Decoder) int {
	if r, ok := k.registerOf[d]; ok {
		return r
	}
	k.nextRegister++
	k.registerOf[d] = k.nextRegister
	return k.nextRegister
}

// DecoderChanged implements spec.md §4.3's decoderChanged contract.
func (k *Kernel) DecoderChanged(d *decoder.Decoder, flags decoder.ChangeFlags, functionNumber int) {
	k.Post(func() {
		reg := k.registerFor(d)
		if flags.Has(decoder.ChangeEmergencyStop) || flags.Has(decoder.ChangeDirection) ||
			flags.Has(decoder.ChangeThrottle) || flags.Has(decoder.ChangeSpeedSteps) {
			speed := -1
			if d.EmergencyStop() {
				speed = -1
			} else if d.Throttle() <= 0 {
				speed = 0
			} else {
				speed = int(d.Throttle()*126 + 0.5)
			}
			k.send(BuildThrottle(reg, int(d.Key.Address), speed, d.Direction() == decoder.DirectionForward))
		}
		if flags.Has(decoder.ChangeFunctionValue) {
			f := d.Function(functionNumber)
			k.send(BuildFunction(int(d.Key.Address), functionNumber, f != nil && f.Value))
		}
	})
}

// SetOutput optimistically updates the mirror before the device
// acknowledges (spec.md §9: "<a ...> is fire-and-forget").
func (k *Kernel) SetOutput(address int64, v output.Value) {
	k.Post(func() {
		if prev, ok := k.outputMirror[address]; ok && prev == v {
			return
		}
		k.outputMirror[address] = v
		val := 0
		if v.Bool {
			val = 1
		}
		k.send(BuildAccessory(address, val))
	})
}

// SimulateInputChange routes a synthesized <Q id>/<q id> line back
// through receive (spec.md §4.3 simulateInputChange).
func (k *Kernel) SimulateInputChange(address int64, setTrue bool) {
	if !k.Cfg.Simulation {
		return
	}
	k.Post(func() {
		id := strconv.FormatInt(address, 10)
		if setTrue {
			k.receive([]byte("<Q " + id + ">"))
		} else {
			k.receive([]byte("<q " + id + ">"))
		}
	})
}

// RestoreDecoderSpeed re-fires decoderChanged(Throttle) for every
// decoder with a non-zero throttle and no active emergency stop
// (spec.md §4.5, world "Run" event).
func (k *Kernel) RestoreDecoderSpeed() { k.Base.RestoreDecoderSpeedVia(k.DecoderChanged) }
