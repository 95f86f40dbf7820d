package ecos

import (
	"strconv"
	"strings"

	"github.com/traintastic-go/hwcore/hardware/decoder"
	"github.com/traintastic-go/hwcore/hardware/iohandler"
	"github.com/traintastic-go/hwcore/hardware/input"
	"github.com/traintastic-go/hwcore/hardware/output"
	base "github.com/traintastic-go/hwcore/hardware/kernel"
	"github.com/traintastic-go/hwcore/runtime"
	"github.com/traintastic-go/hwcore/worldstate"
)

type Config struct {
	base.Config
}

type Hooks struct {
	InputChanged func(address int64, value input.TriState)
	// BoosterChanged surfaces the ECoS booster object's current/temperature
	// fields (spec.md's Booster module); nil disables the subscription.
	BoosterChanged func(currentMA int, temperatureC int)
}

// locoObject tracks the dynamic object id ECoS assigned a decoder once
// it has been seen in a LocomotiveManager queryObjects reply.
type locoObject struct {
	id int
}

type Kernel struct {
	*base.Base
	cfg   Config
	hooks Hooks

	locoIDs      map[*decoder.Decoder]*locoObject
	locoByID     map[int]*decoder.Decoder
	feedbackByID map[int]int64 // ECoS feedback object id -> address
	outputByID   map[int64]int // output address -> ECoS switch object id

	boosterCurrentMA    int
	boosterTemperatureC int
}

func New(cfg Config, rt *runtime.Runtime, world *worldstate.World, cb base.Callbacks, hooks Hooks, io iohandler.Handler) *Kernel {
	k := &Kernel{
		cfg:          cfg,
		hooks:        hooks,
		locoIDs:      map[*decoder.Decoder]*locoObject{},
		locoByID:     map[int]*decoder.Decoder{},
		feedbackByID: map[int]int64{},
		outputByID:   map[int64]int{},
	}
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
	k.send(BuildRequest(ObjectEcos, "view"))
	k.send(BuildRequest(ObjectFeedbackManager, "view"))
	k.send(BuildQueryObjects(ObjectFeedbackManager, "addr", "state"))
	if k.hooks.BoosterChanged != nil {
		k.send(BuildRequest(ObjectBoosterManager, "view"))
		k.send(BuildGet(ObjectBoosterManager, "current"))
	}
	if k.CB.OnStarted != nil {
		k.CB.OnStarted(nil)
	}
	snap := k.World.Snapshot()
	for _, action := range base.Reconcile(snap) {
		switch action {
		case base.ActionStopAllLocomotives:
			k.send(BuildSet(ObjectEcos, "stop", ""))
			k.NoteEmergencyStop(true)
		case base.ActionTrackPowerOff:
			k.send(BuildSet(ObjectEcos, "stop", ""))
			k.NotePowerOn(false)
		case base.ActionTrackPowerOn:
			k.send(BuildSet(ObjectEcos, "go", ""))
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

// receive dispatches one full <REPLY ...>...<END n (text)> or
// <EVENT ...>...<END n (text)> frame (spec.md §4.3 ECoS).
func (k *Kernel) receive(frame []byte) {
	if k.cfg.DebugLogRXTX {
		k.RT.Log.Debug(k.cfg.LogID, "rx", Dump(frame))
	}
	lines := strings.Split(strings.TrimRight(string(frame), "\n"), "\n")
	if len(lines) == 0 {
		return
	}
	header := lines[0]
	body := lines[1 : len(lines)-1]
	isEvent := strings.HasPrefix(header, "<EVENT")
	for _, line := range body {
		id, rest, ok := ParseObjectLine(line)
		if !ok {
			continue
		}
		opts := ParseOptions(rest)
		if id == ObjectBoosterManager && k.hooks.BoosterChanged != nil {
			k.reportBooster(opts)
			continue
		}
		if addr, ok := k.feedbackByID[id]; ok {
			for _, o := range opts {
				if o.Key == "state" && len(o.Values) == 1 {
					ts := input.False
					if o.Values[0] == "1" {
						ts = input.True
					}
					if k.hooks.InputChanged != nil {
						k.RT.Loop.Call(func() { k.hooks.InputChanged(addr, ts) })
					}
				}
			}
			continue
		}
		if addr, proto, ok := ParseAddrProtocol(opts); ok && !isEvent {
			_ = proto
			for d, obj := range k.locoIDs {
				if int64(d.Key.Address) == addr && obj.id == 0 {
					obj.id = id
					k.locoByID[id] = d
				}
			}
		}
		for _, o := range opts {
			if o.Key == "addr" && len(o.Values) == 1 {
				// feedback object discovery via queryObjects(26, addr, state)
				if _, exists := k.feedbackByID[id]; !exists {
					if addrVal, err := strconv.ParseInt(o.Values[0], 10, 64); err == nil {
						k.feedbackByID[id] = addrVal
					}
				}
			}
		}
	}
}

// reportBooster handles an ObjectBoosterManager reply/event line
// (spec.md's Booster module: ECoS carries current in mA and, on some
// firmware, a temperature field; both are reported if present, the
// other reused from the last known value).
func (k *Kernel) reportBooster(opts []Option) {
	changed := false
	for _, o := range opts {
		if len(o.Values) != 1 {
			continue
		}
		switch o.Key {
		case "current":
			if v, err := strconv.Atoi(o.Values[0]); err == nil {
				k.boosterCurrentMA = v
				changed = true
			}
		case "temp":
			if v, err := strconv.Atoi(o.Values[0]); err == nil {
				k.boosterTemperatureC = v
				changed = true
			}
		}
	}
	if changed {
		current, temp := k.boosterCurrentMA, k.boosterTemperatureC
		k.RT.Loop.Call(func() { k.hooks.BoosterChanged(current, temp) })
	}
}

func (k *Kernel) PowerOn() {
	k.Post(func() {
		if k.PowerOnMirror() == base.Yes {
			return
		}
		k.send(BuildSet(ObjectEcos, "go", ""))
		k.NotePowerOn(true)
	})
}

func (k *Kernel) PowerOff() {
	k.Post(func() {
		if k.PowerOnMirror() == base.No {
			return
		}
		k.send(BuildSet(ObjectEcos, "stop", ""))
		k.NotePowerOn(false)
	})
}

func (k *Kernel) EmergencyStop() {
	k.Post(func() {
		if k.EmergencyStopMirror() == base.Yes {
			return
		}
		k.send(BuildSet(ObjectEcos, "stop", ""))
		k.NoteEmergencyStop(true)
	})
}

func (k *Kernel) ClearEmergencyStop() { k.Post(func() { k.NoteEmergencyStop(false) }) }

func (k *Kernel) objectFor(d *decoder.Decoder) *locoObject {
	obj, ok := k.locoIDs[d]
	if !ok {
		obj = &locoObject{}
		k.locoIDs[d] = obj
		k.send(BuildQueryObjects(ObjectLocomotiveManager, "addr", "protocol"))
	}
	return obj
}

// DecoderChanged implements spec.md §4.3's decoderChanged contract.
func (k *Kernel) DecoderChanged(d *decoder.Decoder, flags decoder.ChangeFlags, functionNumber int) {
	k.Post(func() {
		obj := k.objectFor(d)
		if obj.id == 0 {
			return // object id not yet resolved: this change is not sent, and a later queryObjects reply only records the id
		}
		if flags.Has(decoder.ChangeThrottle) || flags.Has(decoder.ChangeDirection) || flags.Has(decoder.ChangeEmergencyStop) {
			speed := int(d.Throttle() * 1000)
			if d.EmergencyStop() {
				speed = -1
			}
			dir := "0"
			if d.Direction() == decoder.DirectionForward {
				dir = "1"
			}
			k.send(BuildSet(obj.id, "speed", strconv.Itoa(speed)))
			k.send(BuildSet(obj.id, "direction", dir))
		}
		if flags.Has(decoder.ChangeFunctionValue) {
			f := d.Function(functionNumber)
			v := "0"
			if f != nil && f.Value {
				v = "1"
			}
			k.send(BuildSet(obj.id, "function", strconv.Itoa(functionNumber)+","+v))
		}
	})
}

func (k *Kernel) SetOutput(address int64, v output.Value) {
	k.Post(func() {
		id, ok := k.outputByID[address]
		if !ok {
			return
		}
		val := "0"
		if v.Bool {
			val = "1"
		}
		k.send(BuildSet(id, "state", val))
	})
}

// SimulateInputChange is routed through the same feedback path a real
// FeedbackManager event would take (spec.md §4.3 simulateInputChange).
func (k *Kernel) SimulateInputChange(id int, address int64, setTrue bool) {
	if !k.Cfg.Simulation {
		return
	}
	k.Post(func() {
		k.feedbackByID[id] = address
		v := "0"
		if setTrue {
			v = "1"
		}
		idStr := strconv.Itoa(id)
		k.receive([]byte("<EVENT " + idStr + ">\n" + idStr + " state[" + v + "]\n<END 0 (OK)>\n"))
	})
}

// RestoreDecoderSpeed re-fires decoderChanged(Throttle) for every
// decoder with a non-zero throttle and no active emergency stop
// (spec.md §4.5, world "Run" event).
func (k *Kernel) RestoreDecoderSpeed() { k.Base.RestoreDecoderSpeedVia(k.DecoderChanged) }
