package xpressnet

import (
	"github.com/traintastic-go/hwcore/hardware/decoder"
	"github.com/traintastic-go/hwcore/hardware/iohandler"
	"github.com/traintastic-go/hwcore/hardware/input"
	"github.com/traintastic-go/hwcore/hardware/output"
	"github.com/traintastic-go/hwcore/hwerr"
	base "github.com/traintastic-go/hwcore/hardware/kernel"
	"github.com/traintastic-go/hwcore/runtime"
	"github.com/traintastic-go/hwcore/worldstate"
)

// Config holds XpressNet's own options (spec.md §6).
type Config struct {
	base.Config
	UseEmergencyStopLocomotiveCommand bool
	UseRocoF13F20Command               bool
	RoSoftS88                          bool
	S88StartAddress                    byte
	S88ModuleCount                     byte
}

// Hooks delivers device-initiated changes to the domain.
type Hooks struct {
	InputChanged  func(address int64, value input.TriState)
	OutputChanged func(address int64, value output.Value)
}

// Kernel is the XpressNet protocol engine.
type Kernel struct {
	*base.Base
	cfg   Config
	hooks Hooks

	inputMirror  map[int64]input.TriState
	outputMirror map[int64]bool
}

func New(cfg Config, rt *runtime.Runtime, world *worldstate.World, cb base.Callbacks, hooks Hooks, io iohandler.Handler) *Kernel {
	k := &Kernel{cfg: cfg, hooks: hooks, inputMirror: map[int64]input.TriState{}, outputMirror: map[int64]bool{}}
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
	if k.cfg.RoSoftS88 {
		k.send(BuildS88StartAddress(k.cfg.S88StartAddress))
		k.send(BuildS88ModuleCount(k.cfg.S88ModuleCount))
	}
	if k.CB.OnStarted != nil {
		k.CB.OnStarted(nil)
	}
	snap := k.World.Snapshot()
	for _, action := range base.Reconcile(snap) {
		switch action {
		case base.ActionStopAllLocomotives:
			k.send(BuildStopAll())
			k.NoteEmergencyStop(true)
		case base.ActionTrackPowerOff:
			k.send(BuildTrackPowerOff())
			k.NotePowerOn(false)
		case base.ActionTrackPowerOn:
			k.send(BuildTrackPowerOn())
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

func (k *Kernel) Dropped(n int) {
	k.RT.Log.Warn(k.cfg.LogID, "malformed_data_dropped", n)
}

func (k *Kernel) Receive(frame []byte) { k.Post(func() { k.receive(frame) }) }

func (k *Kernel) receive(frame []byte) {
	if k.cfg.DebugLogRXTX {
		k.RT.Log.Debug(k.cfg.LogID, "rx", Dump(frame))
	}
	if len(frame) == 0 {
		return
	}
	switch frame[0] {
	case 0x61:
		if len(frame) >= 2 && frame[1] == 0x00 {
			k.NotePowerOn(false)
		} else if len(frame) >= 2 && frame[1] == 0x01 {
			k.NotePowerOn(true)
		}
	case HeaderFeedbackBroadcast:
		pairs, ok := ParseFeedbackBroadcast(frame)
		if !ok {
			return
		}
		for _, p := range pairs {
			base := int64(p.GroupAddress) * 4
			for i := 0; i < 4; i++ {
				addr := base + int64(i) + 1
				v := p.Nibble&(1<<uint(i)) != 0
				ts := input.False
				if v {
					ts = input.True
				}
				if prev, known := k.inputMirror[addr]; known && prev == ts {
					continue
				}
				k.inputMirror[addr] = ts
				if k.hooks.InputChanged != nil {
					k.RT.Loop.Call(func(addr int64, ts input.TriState) func() {
						return func() { k.hooks.InputChanged(addr, ts) }
					}(addr, ts))
				}
			}
		}
	}
}

func (k *Kernel) PowerOn() {
	k.Post(func() {
		if k.PowerOnMirror() == base.Yes {
			return
		}
		k.send(BuildTrackPowerOn())
		k.NotePowerOn(true)
	})
}

func (k *Kernel) PowerOff() {
	k.Post(func() {
		if k.PowerOnMirror() == base.No {
			return
		}
		k.send(BuildTrackPowerOff())
		k.NotePowerOn(false)
	})
}

func (k *Kernel) EmergencyStop() {
	k.Post(func() {
		if k.EmergencyStopMirror() == base.Yes {
			return
		}
		k.send(BuildStopAll())
		k.NoteEmergencyStop(true)
	})
}

func (k *Kernel) ClearEmergencyStop() { k.Post(func() { k.NoteEmergencyStop(false) }) }

// DecoderChanged implements spec.md §4.3's decoderChanged contract.
func (k *Kernel) DecoderChanged(d *decoder.Decoder, flags decoder.ChangeFlags, functionNumber int) {
	k.Post(func() {
		addr := int(d.Key.Address)
		if flags.Has(decoder.ChangeEmergencyStop) && k.cfg.UseEmergencyStopLocomotiveCommand {
			k.send(BuildEmergencyStopLoco(addr))
			return
		}
		if flags.Has(decoder.ChangeEmergencyStop) || flags.Has(decoder.ChangeDirection) ||
			flags.Has(decoder.ChangeThrottle) || flags.Has(decoder.ChangeSpeedSteps) {
			sb := SpeedByte128(d.Throttle(), d.Direction() == decoder.DirectionForward, d.EmergencyStop())
			k.send(BuildSetSpeedDir128(addr, sb))
		}
		if flags.Has(decoder.ChangeFunctionValue) {
			g := GroupOf(functionNumber)
			k.send(BuildFunctionGroup(addr, g, func(n int) bool {
				f := d.Function(n)
				return f != nil && f.Value
			}, k.cfg.UseRocoF13F20Command))
		}
	})
}

// SetOutput commands an accessory/turnout (spec.md §4.4).
func (k *Kernel) SetOutput(address int64, v output.Value) {
	k.Post(func() {
		if prev, ok := k.outputMirror[address]; ok && prev == v.Bool {
			return
		}
		k.outputMirror[address] = v.Bool
		group := byte(address / 4)
		nibble := byte(0)
		if v.Bool {
			nibble = 1 << uint((address-1)%4)
		}
		k.send(BuildFeedbackBroadcast([]FeedbackPair{{GroupAddress: group, IsAccessory: true, Nibble: nibble}}))
	})
}

// SimulateInputChange routes a synthesized FeedbackBroadcast back
// through receive (spec.md §4.3 simulateInputChange).
func (k *Kernel) SimulateInputChange(address int64, setTrue bool) {
	if !k.Cfg.Simulation {
		return
	}
	k.Post(func() {
		group := byte((address - 1) / 4)
		nibble := byte(0)
		if setTrue {
			nibble = 1 << uint((address-1)%4)
		}
		k.receive(BuildFeedbackBroadcast([]FeedbackPair{{GroupAddress: group, Nibble: nibble}}))
	})
}

// OutOfRangeInput validates XpressNet's feedback address space
// (1..2040, 4 inputs per group address across 0..509 groups).
func OutOfRangeInput(address int64) error {
	if address < 1 || address > 2040 {
		return hwerr.OutOfRange("xpressnet.GetInput", address, 1, 2040)
	}
	return nil
}

// RestoreDecoderSpeed re-fires decoderChanged(Throttle) for every
// decoder with a non-zero throttle and no active emergency stop
// (spec.md §4.5, world "Run" event).
func (k *Kernel) RestoreDecoderSpeed() { k.Base.RestoreDecoderSpeedVia(k.DecoderChanged) }
