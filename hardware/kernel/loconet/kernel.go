package loconet

import (
	"time"

	"github.com/traintastic-go/hwcore/hardware/decoder"
	"github.com/traintastic-go/hwcore/hardware/iohandler"
	"github.com/traintastic-go/hwcore/hardware/input"
	"github.com/traintastic-go/hwcore/hardware/output"
	"github.com/traintastic-go/hwcore/hwerr"
	base "github.com/traintastic-go/hwcore/hardware/kernel"
	"github.com/traintastic-go/hwcore/runtime"
	"github.com/traintastic-go/hwcore/worldstate"
)

// Config holds LocoNet's own options (spec.md §6): slot table size,
// fast-clock sync, listen-only, and (for the DIY pcap option, unused
// by this implementation) nothing.
type Config struct {
	base.Config
	LocomotiveSlots       int
	FastClockSyncEnabled  bool
	FastClockSyncInterval time.Duration
	ListenOnly            bool
}

// Hooks is how this kernel tells the domain about device-initiated
// changes (spec.md §4.3 receive path: "posts a closure onto the
// event-loop thread").
type Hooks struct {
	InputChanged func(address int64, value input.TriState)

	// LNCVChanged reports a CV value within the open LNCV session
	// (spec.md §4.3 LocoNet specialisation), for LNCVProgrammingController
	// to relay to whichever client opened the session.
	LNCVChanged func(cv, value uint16)
}

// slot is one entry in the LocoNet locomotive slot table (spec.md
// §4.3 "LocoNet" specialisation).
type slot struct {
	inUse bool
	dec   *decoder.Decoder
}

// Kernel is the LocoNet protocol engine.
type Kernel struct {
	*base.Base
	cfg   Config
	hooks Hooks

	slots       []slot
	slotBySlot  map[*decoder.Decoder]int
	inputMirror map[int64]input.TriState
	outputMirror map[int64]bool

	lncv *lncvSession

	fastClockCancel func()
	fastClockRate   byte
}

// New builds a LocoNet kernel. io must already be constructed (a
// serial handler for hardware, or an iohandler.SimHandler around a
// *Simulator for simulation).
func New(cfg Config, rt *runtime.Runtime, world *worldstate.World, cb base.Callbacks, hooks Hooks, io iohandler.Handler) *Kernel {
	if cfg.LocomotiveSlots <= 0 {
		cfg.LocomotiveSlots = 120
	}
	k := &Kernel{
		cfg: cfg, hooks: hooks,
		slots:       make([]slot, cfg.LocomotiveSlots),
		slotBySlot:  map[*decoder.Decoder]int{},
		inputMirror: map[int64]input.TriState{},
		outputMirror: map[int64]bool{},
		fastClockRate: 1,
	}
	k.Base = base.NewBase(cfg.Config, rt, world, cb, io)
	return k
}

// Start launches the kernel: IO thread, startup-delay timer, and (once
// ready) post-started reconciliation.
func (k *Kernel) Start() {
	k.Base.Start(func(err error) {
		if k.CB.OnStarted != nil {
			k.CB.OnStarted(err)
		}
	})
	cancel := k.ArmStartupDelay(k.onReady)
	_ = cancel
}

func (k *Kernel) onReady() {
	if k.CB.OnStarted != nil {
		k.CB.OnStarted(nil)
	}
	snap := k.World.Snapshot()
	for _, action := range base.Reconcile(snap) {
		switch action {
		case base.ActionStopAllLocomotives:
			k.send(BuildIdle())
			k.NoteEmergencyStop(true)
		case base.ActionTrackPowerOff:
			k.send(BuildGPOff())
			k.NotePowerOn(false)
		case base.ActionTrackPowerOn:
			k.send(BuildGPOn())
			k.NotePowerOn(true)
		case base.ActionClearEmergencyStop:
			k.NoteEmergencyStop(false)
		case base.ActionRestoreDecoderSpeed:
			base.RestoreDecoderSpeed(k.Decoders, func(d *decoder.Decoder) {
				k.DecoderChanged(d, decoder.ChangeThrottle, 0)
			})
		}
	}
	if k.cfg.FastClockSyncEnabled {
		k.armFastClock()
	}
}

func (k *Kernel) armFastClock() {
	if k.fastClockCancel != nil {
		k.fastClockCancel()
	}
	interval := k.cfg.FastClockSyncInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	var t *time.Timer
	var tick func()
	tick = func() {
		k.send(FastClockFrame(k.fastClockRate, 0, 0, 0))
		t = time.AfterFunc(interval, func() { k.Post(tick) })
	}
	k.Post(tick)
	k.fastClockCancel = func() {
		if t != nil {
			t.Stop()
		}
	}
}

// send suppresses nothing by itself; callers check mirrors first.
func (k *Kernel) send(frame []byte) {
	if k.cfg.ListenOnly {
		k.RT.Log.Warn(k.cfg.LogID, "listen_only_drop")
		return
	}
	if !k.IO.Send(frame) {
		k.RT.Log.Warn(k.cfg.LogID, "send_queue_full")
	}
}

// --- iohandler.Sink ---

func (k *Kernel) Started(err error) {
	if err != nil && k.CB.OnStarted != nil {
		k.CB.OnStarted(err)
	}
}

func (k *Kernel) Dropped(n int) {
	k.RT.Log.Warn(k.cfg.LogID, "malformed_data_dropped", n)
}

func (k *Kernel) Receive(frame []byte) {
	k.Post(func() { k.receive(frame) })
}

func (k *Kernel) receive(frame []byte) {
	if k.cfg.DebugLogRXTX {
		k.RT.Log.Debug(k.cfg.LogID, "rx", Dump(frame))
	}
	if len(frame) == 0 {
		return
	}
	if k.lncv != nil && k.lncv.handle(k, frame) {
		return
	}
	switch frame[0] {
	case OpGPOn:
		k.NotePowerOn(true)
	case OpGPOff:
		k.NotePowerOn(false)
	case OpIdle:
		k.NoteEmergencyStop(true)
	case OpInputRep:
		addr, value, ok := ParseInputRep(frame)
		if !ok {
			return
		}
		prev, known := k.inputMirror[int64(addr)]
		ts := input.False
		if value {
			ts = input.True
		}
		if known && prev == ts {
			return
		}
		k.inputMirror[int64(addr)] = ts
		if k.hooks.InputChanged != nil {
			k.RT.Loop.Call(func() { k.hooks.InputChanged(int64(addr), ts) })
		}
	}
}

// --- send path (spec.md §4.3) ---

func (k *Kernel) PowerOn() {
	k.Post(func() {
		if k.PowerOnMirror() == base.Yes {
			return
		}
		k.send(BuildGPOn())
		k.NotePowerOn(true)
	})
}

func (k *Kernel) PowerOff() {
	k.Post(func() {
		if k.PowerOnMirror() == base.No {
			return
		}
		k.send(BuildGPOff())
		k.NotePowerOn(false)
	})
}

func (k *Kernel) EmergencyStop() {
	k.Post(func() {
		if k.EmergencyStopMirror() == base.Yes {
			return
		}
		k.send(BuildIdle())
		k.NoteEmergencyStop(true)
	})
}

func (k *Kernel) ClearEmergencyStop() {
	k.Post(func() { k.NoteEmergencyStop(false) })
}

// DecoderChanged implements spec.md §4.3's decoderChanged contract for
// LocoNet: speed/direction changes emit OPC_LOCO_SPD / OPC_LOCO_DIRF;
// function changes emit the bundle (F0-F4 in DIRF, F5-F8 in SND)
// containing functionNumber.
func (k *Kernel) DecoderChanged(d *decoder.Decoder, flags decoder.ChangeFlags, functionNumber int) {
	k.Post(func() {
		sl := k.slotFor(d)
		if flags.Has(decoder.ChangeEmergencyStop) || flags.Has(decoder.ChangeDirection) || flags.Has(decoder.ChangeThrottle) {
			k.send(BuildLocoSpd(byte(sl), SpeedByte(d.Throttle(), d.EmergencyStop())))
			k.send(BuildLocoDirF(byte(sl), DirFByte(d.Direction() == decoder.DirectionForward,
				fnVal(d, 0), fnVal(d, 1), fnVal(d, 2), fnVal(d, 3), fnVal(d, 4))))
		}
		if flags.Has(decoder.ChangeFunctionValue) {
			if functionNumber <= 4 {
				k.send(BuildLocoDirF(byte(sl), DirFByte(d.Direction() == decoder.DirectionForward,
					fnVal(d, 0), fnVal(d, 1), fnVal(d, 2), fnVal(d, 3), fnVal(d, 4))))
			} else if functionNumber <= 8 {
				k.send(BuildLocoSnd(byte(sl), SndByte(fnVal(d, 5), fnVal(d, 6), fnVal(d, 7), fnVal(d, 8))))
			}
		}
	})
}

func fnVal(d *decoder.Decoder, n int) bool {
	f := d.Function(n)
	return f != nil && f.Value
}

// slotFor allocates a slot on first use (spec.md §4.3: "Acquiring a
// decoder allocates a slot; releasing frees it").
func (k *Kernel) slotFor(d *decoder.Decoder) int {
	if s, ok := k.slotBySlot[d]; ok {
		return s
	}
	for i := range k.slots {
		if !k.slots[i].inUse {
			k.slots[i] = slot{inUse: true, dec: d}
			k.slotBySlot[d] = i
			return i
		}
	}
	return 0
}

// ReleaseSlot frees the slot bound to d, if any.
func (k *Kernel) ReleaseSlot(d *decoder.Decoder) {
	k.Post(func() {
		if s, ok := k.slotBySlot[d]; ok {
			k.slots[s] = slot{}
			delete(k.slotBySlot, d)
		}
	})
}

// SetOutput commands a turnout/accessory (spec.md §4.4 OutputController).
func (k *Kernel) SetOutput(address int64, v output.Value) {
	k.Post(func() {
		if prev, ok := k.outputMirror[address]; ok && prev == v.Bool {
			return
		}
		k.outputMirror[address] = v.Bool
		k.send(BuildSwReq(int(address), v.Bool, true))
	})
}

// SimulateInputChange mutates the mirror and routes a synthesized
// OPC_INPUT_REP back through receive (spec.md §4.3 simulateInputChange)
// — only meaningful when Cfg.Simulation is true.
func (k *Kernel) SimulateInputChange(address int64, setTrue bool) {
	if !k.Cfg.Simulation {
		return
	}
	k.Post(func() {
		a := int(address) - 1
		in1 := byte((a >> 1) & 0x7F)
		in2 := byte((a>>8)&0x0F) | byte(boolBit(a&1 != 0))<<5
		if setTrue {
			in2 |= 0x10
		}
		frame := finish([]byte{OpInputRep, in1, in2})
		k.receive(frame)
	})
}

// OutOfRangeOutput is the address-space validation sentinel (spec.md
// §8.6): LocoNet turnout addresses run 1..2048.
func OutOfRangeOutput(address int64) error {
	if address < 1 || address > 2048 {
		return hwerr.OutOfRange("loconet.SetOutput", address, 1, 2048)
	}
	return nil
}

// StartLNCV opens an LNCV programming session (spec.md §4.3 "LNCV
// programming is a sub-state").
func (k *Kernel) StartLNCV(moduleID, moduleAddress uint16) {
	k.Post(func() {
		k.lncv = &lncvSession{moduleID: moduleID, moduleAddress: moduleAddress}
	})
}

func (k *Kernel) StopLNCV() {
	k.Post(func() { k.lncv = nil })
}

// ReadLNCV requests a CV's value inside the open LNCV session. It is a
// warning, not an error, to call this outside a session — spec.md §4.3
// says only that "read/write(lncv) are only valid inside a session",
// not what should happen otherwise, so this kernel logs and drops
// rather than guessing at session auto-open semantics.
func (k *Kernel) ReadLNCV(cv uint16) {
	k.Post(func() {
		if k.lncv == nil {
			k.RT.Log.Warn(k.cfg.LogID, "lncv_read_no_session")
			return
		}
		k.send(BuildLNCVRead(k.lncv.moduleID, cv))
	})
}

// WriteLNCV writes a CV's value inside the open LNCV session. LocoNet
// LNCV writes are fire-and-forget on the wire (no dedicated ack this
// kernel distinguishes from a write echo), so the session shadow and
// the LNCVChanged hook fire optimistically, the same non-echoing
// fire-and-forget style DCC-EX's accessory writes use.
func (k *Kernel) WriteLNCV(cv, value uint16) {
	k.Post(func() {
		if k.lncv == nil {
			k.RT.Log.Warn(k.cfg.LogID, "lncv_write_no_session")
			return
		}
		k.send(BuildLNCVWrite(k.lncv.moduleID, cv, value))
		if k.lncv.values == nil {
			k.lncv.values = map[uint16]uint16{}
		}
		k.lncv.values[cv] = value
		if hook := k.hooks.LNCVChanged; hook != nil {
			k.RT.Loop.Call(func() { hook(cv, value) })
		}
	})
}

// RestoreDecoderSpeed re-fires decoderChanged(Throttle) for every
// decoder with a non-zero throttle and no active emergency stop
// (spec.md §4.5, world "Run" event).
func (k *Kernel) RestoreDecoderSpeed() { k.Base.RestoreDecoderSpeedVia(k.DecoderChanged) }
