package traintasticdiy

import (
	"time"

	"github.com/traintastic-go/hwcore/hardware/decoder"
	"github.com/traintastic-go/hwcore/hardware/iohandler"
	"github.com/traintastic-go/hwcore/hardware/input"
	"github.com/traintastic-go/hwcore/hardware/output"
	base "github.com/traintastic-go/hwcore/hardware/kernel"
	"github.com/traintastic-go/hwcore/hwerr"
	"github.com/traintastic-go/hwcore/runtime"
	"github.com/traintastic-go/hwcore/worldstate"
)

// errHeartbeatTimeout fires OnError when no frame at all (not even a
// peer heartbeat) has been seen for Cfg.HeartbeatTimeout.
var errHeartbeatTimeout = hwerr.New(hwerr.KindTransport, hwerr.CodeHeartbeatTimeout, "traintasticdiy.heartbeat", "")

const DefaultHeartbeatInterval = time.Second
const DefaultHeartbeatTimeout = 5 * time.Second

// Config holds Traintastic-DIY's own options (spec.md §6
// heartbeatTimeout).
type Config struct {
	base.Config
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

type Hooks struct {
	InputChanged func(address int64, value input.TriState)
}

type Kernel struct {
	*base.Base
	cfg   Config
	hooks Hooks

	inputMirror map[int64]bool
	hbTicker    *time.Ticker
	hbTimer     *time.Timer
	stopHB      chan struct{}
}

func New(cfg Config, rt *runtime.Runtime, world *worldstate.World, cb base.Callbacks, hooks Hooks, io iohandler.Handler) *Kernel {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	k := &Kernel{cfg: cfg, hooks: hooks, inputMirror: map[int64]bool{}, stopHB: make(chan struct{})}
	k.Base = base.NewBase(cfg.Config, rt, world, cb, io)
	return k
}

func (k *Kernel) Start() {
	k.Base.Start(func(err error) {
		if k.CB.OnStarted != nil {
			k.CB.OnStarted(err)
		}
	})
	k.Post(func() { k.send(BuildHello()) })
	k.ArmStartupDelay(k.onReady)
}

func (k *Kernel) onReady() {
	k.armHeartbeat()
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

// armHeartbeat sends HB on Cfg.HeartbeatInterval and escalates to
// OnError if no data at all is seen for Cfg.HeartbeatTimeout (spec.md
// §6 heartbeatTimeout).
func (k *Kernel) armHeartbeat() {
	k.hbTicker = time.NewTicker(k.cfg.HeartbeatInterval)
	k.hbTimer = time.NewTimer(k.cfg.HeartbeatTimeout)
	go func() {
		for {
			select {
			case <-k.stopHB:
				k.hbTicker.Stop()
				k.hbTimer.Stop()
				return
			case <-k.hbTicker.C:
				k.Post(func() { k.send(BuildHeartbeat()) })
			case <-k.hbTimer.C:
				k.Post(func() {
					if k.CB.OnError != nil {
						k.CB.OnError(errHeartbeatTimeout)
					}
				})
			}
		}
	}()
}

func (k *Kernel) resetHeartbeatTimeout() {
	if k.hbTimer != nil {
		k.hbTimer.Reset(k.cfg.HeartbeatTimeout)
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
	k.resetHeartbeatTimeout()
	p, ok := Parse(line)
	if !ok {
		return
	}
	switch p.Kind {
	case "power":
		k.NotePowerOn(p.Power)
	case "sensor":
		if prev, known := k.inputMirror[p.Address]; known && prev == p.Value {
			return
		}
		k.inputMirror[p.Address] = p.Value
		if k.hooks.InputChanged != nil {
			ts := input.False
			if p.Value {
				ts = input.True
			}
			k.RT.Loop.Call(func() { k.hooks.InputChanged(p.Address, ts) })
		}
	}
}

func (k *Kernel) Stop() {
	close(k.stopHB)
	k.Base.Stop()
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

// DecoderChanged implements spec.md §4.3's decoderChanged contract.
func (k *Kernel) DecoderChanged(d *decoder.Decoder, flags decoder.ChangeFlags, functionNumber int) {
	k.Post(func() {
		if flags.Has(decoder.ChangeThrottle) || flags.Has(decoder.ChangeDirection) || flags.Has(decoder.ChangeEmergencyStop) {
			speed := 0
			if !d.EmergencyStop() && d.Throttle() > 0 {
				speed = int(d.Throttle()*1000 + 0.5)
			}
			k.send(BuildThrottle(int64(d.Key.Address), speed, d.Direction() == decoder.DirectionForward))
		}
		if flags.Has(decoder.ChangeFunctionValue) {
			f := d.Function(functionNumber)
			k.send(BuildFunction(int64(d.Key.Address), functionNumber, f != nil && f.Value))
		}
	})
}

func (k *Kernel) SetOutput(address int64, v output.Value) {
	k.Post(func() { k.send(BuildOutput(address, v.Bool)) })
}

// SimulateInputChange routes a synthesized "INP,..." line back through
// receive (spec.md §4.3 simulateInputChange).
func (k *Kernel) SimulateInputChange(address int64, setTrue bool) {
	if !k.Cfg.Simulation {
		return
	}
	k.Post(func() { k.receive(BuildSensor(address, setTrue)) })
}

// RestoreDecoderSpeed re-fires decoderChanged(Throttle) for every
// decoder with a non-zero throttle and no active emergency stop
// (spec.md §4.5, world "Run" event).
func (k *Kernel) RestoreDecoderSpeed() { k.Base.RestoreDecoderSpeedVia(k.DecoderChanged) }
