package withrottle

import (
	"github.com/traintastic-go/hwcore/hardware/decoder"
	"github.com/traintastic-go/hwcore/hardware/iohandler"
	base "github.com/traintastic-go/hwcore/hardware/kernel"
	"github.com/traintastic-go/hwcore/runtime"
	"github.com/traintastic-go/hwcore/worldstate"
)

type Config struct {
	base.Config
}

type Hooks struct{}

type Kernel struct {
	*base.Base
	cfg     Config
	hooks   Hooks
	known   map[int64]bool
	lastDir map[int64]bool
}

func New(cfg Config, rt *runtime.Runtime, world *worldstate.World, cb base.Callbacks, hooks Hooks, io iohandler.Handler) *Kernel {
	k := &Kernel{cfg: cfg, hooks: hooks, known: map[int64]bool{}, lastDir: map[int64]bool{}}
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
			for addr := range k.known {
				k.send(BuildEStop(addr))
			}
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

func (k *Kernel) Receive(l []byte) { k.Post(func() { k.receive(l) }) }

func (k *Kernel) receive(l []byte) {
	if k.cfg.DebugLogRXTX {
		k.RT.Log.Debug(k.cfg.LogID, "rx", Dump(l))
	}
	p, ok := Parse(l)
	if !ok {
		return
	}
	if p.Kind == "power" {
		k.NotePowerOn(p.Power)
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
		for addr := range k.known {
			k.send(BuildEStop(addr))
		}
		k.NoteEmergencyStop(true)
	})
}

func (k *Kernel) ClearEmergencyStop() { k.Post(func() { k.NoteEmergencyStop(false) }) }

func (k *Kernel) acquireIfNeeded(address int64) {
	if k.known[address] {
		return
	}
	k.known[address] = true
	k.send(BuildAcquire(address))
}

// DecoderChanged implements spec.md §4.3's decoderChanged contract.
func (k *Kernel) DecoderChanged(d *decoder.Decoder, flags decoder.ChangeFlags, functionNumber int) {
	k.Post(func() {
		addr := int64(d.Key.Address)
		k.acquireIfNeeded(addr)
		if flags.Has(decoder.ChangeEmergencyStop) && d.EmergencyStop() {
			k.send(BuildEStop(addr))
			return
		}
		if flags.Has(decoder.ChangeDirection) {
			forward := d.Direction() == decoder.DirectionForward
			if prev, ok := k.lastDir[addr]; !ok || prev != forward {
				k.lastDir[addr] = forward
				k.send(BuildDirection(addr, forward))
			}
		}
		if flags.Has(decoder.ChangeThrottle) {
			speed := int(d.Throttle()*126 + 0.5)
			if speed < 0 {
				speed = 0
			}
			k.send(BuildSpeed(addr, speed))
		}
		if flags.Has(decoder.ChangeFunctionValue) {
			f := d.Function(functionNumber)
			k.send(BuildFunction(addr, functionNumber, f != nil && f.Value))
		}
	})
}

// RestoreDecoderSpeed re-fires decoderChanged(Throttle) for every
// decoder with a non-zero throttle and no active emergency stop
// (spec.md §4.5, world "Run" event).
func (k *Kernel) RestoreDecoderSpeed() { k.Base.RestoreDecoderSpeedVia(k.DecoderChanged) }
