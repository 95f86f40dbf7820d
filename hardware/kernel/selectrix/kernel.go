package selectrix

import (
	"github.com/traintastic-go/hwcore/hardware/decoder"
	"github.com/traintastic-go/hwcore/hardware/iohandler"
	"github.com/traintastic-go/hwcore/hardware/input"
	"github.com/traintastic-go/hwcore/hardware/output"
	base "github.com/traintastic-go/hwcore/hardware/kernel"
	"github.com/traintastic-go/hwcore/runtime"
	"github.com/traintastic-go/hwcore/worldstate"
)

// powerChannel is the conventional Selectrix channel used by
// Rautenhaus interfaces to carry the track-power/emergency-stop bits.
const powerChannel = 0

const (
	powerBit = 0
	stopBit  = 1
)

type Config struct {
	base.Config
}

type Hooks struct {
	InputChanged func(channel byte, bit uint, value input.TriState)
}

type Kernel struct {
	*base.Base
	cfg   Config
	hooks Hooks

	channels    [ChannelCount]byte
	channelSeen [ChannelCount]bool
}

func New(cfg Config, rt *runtime.Runtime, world *worldstate.World, cb base.Callbacks, hooks Hooks, io iohandler.Handler) *Kernel {
	k := &Kernel{cfg: cfg, hooks: hooks}
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
	for ch := byte(0); ch < ChannelCount; ch++ {
		k.send(BuildReadChannel(ch))
	}
	if k.CB.OnStarted != nil {
		k.CB.OnStarted(nil)
	}
	snap := k.World.Snapshot()
	for _, action := range base.Reconcile(snap) {
		switch action {
		case base.ActionStopAllLocomotives:
			k.setPowerBit(stopBit, true)
			k.NoteEmergencyStop(true)
		case base.ActionTrackPowerOff:
			k.setPowerBit(powerBit, false)
			k.NotePowerOn(false)
		case base.ActionTrackPowerOn:
			k.setPowerBit(powerBit, true)
			k.NotePowerOn(true)
		case base.ActionClearEmergencyStop:
			k.setPowerBit(stopBit, false)
			k.NoteEmergencyStop(false)
		case base.ActionRestoreDecoderSpeed:
			base.RestoreDecoderSpeed(k.Decoders, func(d *decoder.Decoder) {
				k.DecoderChanged(d, decoder.ChangeThrottle, 0)
			})
		}
	}
}

func (k *Kernel) setPowerBit(bit uint, set bool) {
	v := k.channels[powerChannel]
	if set {
		v |= 1 << bit
	} else {
		v &^= 1 << bit
	}
	k.channels[powerChannel] = v
	k.send(BuildWriteChannel(powerChannel, v))
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
	ch, value, ok := ParseChannelData(frame)
	if !ok || int(ch) >= ChannelCount {
		return
	}
	prev := k.channels[ch]
	seen := k.channelSeen[ch]
	k.channels[ch] = value
	k.channelSeen[ch] = true
	if ch == powerChannel {
		k.NotePowerOn(value&(1<<powerBit) != 0)
	}
	if seen && prev == value {
		return
	}
	if k.hooks.InputChanged == nil {
		return
	}
	changed := prev ^ value
	for bit := uint(0); bit < 8; bit++ {
		if changed&(1<<bit) == 0 {
			continue
		}
		bit := bit
		ts := input.False
		if value&(1<<bit) != 0 {
			ts = input.True
		}
		k.RT.Loop.Call(func() { k.hooks.InputChanged(ch, bit, ts) })
	}
}

func (k *Kernel) PowerOn() {
	k.Post(func() {
		if k.PowerOnMirror() == base.Yes {
			return
		}
		k.setPowerBit(powerBit, true)
		k.NotePowerOn(true)
	})
}

func (k *Kernel) PowerOff() {
	k.Post(func() {
		if k.PowerOnMirror() == base.No {
			return
		}
		k.setPowerBit(powerBit, false)
		k.NotePowerOn(false)
	})
}

func (k *Kernel) EmergencyStop() {
	k.Post(func() {
		if k.EmergencyStopMirror() == base.Yes {
			return
		}
		k.setPowerBit(stopBit, true)
		k.NoteEmergencyStop(true)
	})
}

func (k *Kernel) ClearEmergencyStop() {
	k.Post(func() {
		k.setPowerBit(stopBit, false)
		k.NoteEmergencyStop(false)
	})
}

// DecoderChanged implements spec.md §4.3's decoderChanged contract.
// Selectrix trinary-step locomotive control is bus-specific (SX1 vs
// SX2/SX-Bus) and is left for a later extension; this kernel currently
// exercises only the feedback and power/e-stop channels.
func (k *Kernel) DecoderChanged(d *decoder.Decoder, flags decoder.ChangeFlags, functionNumber int) {
	_ = d
	_ = flags
	_ = functionNumber
}

func (k *Kernel) SetOutput(address int64, v output.Value) {
	k.Post(func() {
		ch, bit := AddressBit(address)
		if int(ch) >= ChannelCount {
			return
		}
		cur := k.channels[ch]
		if v.Bool {
			cur |= 1 << bit
		} else {
			cur &^= 1 << bit
		}
		k.channels[ch] = cur
		k.send(BuildWriteChannel(ch, cur))
	})
}

// SimulateInputChange routes a synthesized channel-data frame back
// through receive (spec.md §4.3 simulateInputChange).
func (k *Kernel) SimulateInputChange(address int64, setTrue bool) {
	if !k.Cfg.Simulation {
		return
	}
	k.Post(func() {
		ch, bit := AddressBit(address)
		if int(ch) >= ChannelCount {
			return
		}
		cur := k.channels[ch]
		if setTrue {
			cur |= 1 << bit
		} else {
			cur &^= 1 << bit
		}
		k.receive(BuildChannelData(ch, cur))
	})
}

// RestoreDecoderSpeed re-fires decoderChanged(Throttle) for every
// decoder with a non-zero throttle and no active emergency stop
// (spec.md §4.5, world "Run" event).
func (k *Kernel) RestoreDecoderSpeed() { k.Base.RestoreDecoderSpeedVia(k.DecoderChanged) }
