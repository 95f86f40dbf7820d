// Package kernel provides the shared engine every per-protocol kernel
// (spec.md §4.3) embeds: a one-goroutine I/O-thread executor, a
// startup-delay timer, the power/emergency-stop mirrors, and the
// post-started reconciliation sequence that is identical across every
// protocol that can do it. Protocol packages (loconet, xpressnet, z21,
// dccex, ecos, marklincan, selectrix, traintasticdiy, withrottle)
// embed *Base and add their own per-address mirrors and wire codec.
package kernel

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/traintastic-go/hwcore/hardware/decoder"
	"github.com/traintastic-go/hwcore/hardware/iohandler"
	"github.com/traintastic-go/hwcore/runtime"
	"github.com/traintastic-go/hwcore/worldstate"
)

// TriState mirrors spec.md §4.3's powerOn/emergencyStop mirrors, which
// start life undefined until the device (or simulation) reports a
// concrete value.
type TriState int

const (
	Unknown TriState = iota
	No
	Yes
)

// Callbacks is the set of domain-supplied hooks an Interface wires
// into its Kernel at construction (spec.md §4.5).
type Callbacks struct {
	OnStarted               func(err error)
	OnError                 func(err error)
	OnPowerOnChanged         func(on bool)
	OnNormalOperationResumed func()
	OnTrackPowerOff          func()
	OnEmergencyStop          func()
}

// DecoderSource is the minimal view of a DecoderController a Kernel
// needs for restoreDecoderSpeed (spec.md §4.3 point 4, §4.4
// restoreDecoderSpeed).
type DecoderSource interface {
	EachDecoder(fn func(*decoder.Decoder))
}

// Config holds the options every kernel shares (spec.md §6).
type Config struct {
	LogID        string
	StartupDelay time.Duration
	DebugLogRXTX bool
	Simulation   bool
}

// Base is embedded by every protocol-specific kernel. It owns the
// executor goroutine ("the kernel's I/O thread"), the startup timer,
// the power/e-stop mirrors, and the post-started reconciliation that
// spec.md §4.3 mandates for every kernel that supports it.
type Base struct {
	Cfg   Config
	RT    *runtime.Runtime
	World *worldstate.World
	CB    Callbacks
	IO    iohandler.Handler

	Decoders DecoderSource

	post    chan func()
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool

	mu            sync.Mutex
	powerOn       TriState
	emergencyStop TriState
}

// NewBase builds a Base. io must already be constructed (hardware or
// simulation variant) but not yet Start()ed.
func NewBase(cfg Config, rt *runtime.Runtime, world *worldstate.World, cb Callbacks, io iohandler.Handler) *Base {
	ctx, cancel := context.WithCancel(context.Background())
	return &Base{
		Cfg: cfg, RT: rt, World: world, CB: cb, IO: io,
		post: make(chan func(), 256), ctx: ctx, cancel: cancel,
		powerOn: Unknown, emergencyStop: Unknown,
	}
}

// Post moves a closure from any thread onto the kernel's I/O thread
// (spec.md §4.7 Kernel::post).
func (b *Base) Post(fn func()) {
	select {
	case b.post <- fn:
	case <-b.ctx.Done():
	}
}

// PowerOn/EmergencyStop expose the mirrors read-only; protocol kernels
// read them to suppress redundant commands (spec.md §4.3 send path).
func (b *Base) PowerOnMirror() TriState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.powerOn
}

func (b *Base) EmergencyStopMirror() TriState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.emergencyStop
}

func (b *Base) setPowerOn(v TriState) (changed bool) {
	b.mu.Lock()
	changed = b.powerOn != v
	b.powerOn = v
	b.mu.Unlock()
	return changed
}

func (b *Base) setEmergencyStop(v TriState) (changed bool) {
	b.mu.Lock()
	changed = b.emergencyStop != v
	b.emergencyStop = v
	b.mu.Unlock()
	return changed
}

// Start launches the I/O-thread executor and posts io.Start to it;
// onIOError receives a non-nil error from io.Start. Start does not arm
// the startup-delay timer: each protocol kernel calls ArmStartupDelay
// itself, and the onReady it passes runs once the delay has elapsed,
// without waiting for the handler to report Started(nil). Reconcile is
// called from that onReady by the embedding protocol kernel.
func (b *Base) Start(onIOError func(error)) {
	b.RT.Go(func() error {
		b.runExecutor()
		return nil
	})
	b.Post(func() {
		if err := b.IO.Start(); err != nil {
			if onIOError != nil {
				onIOError(err)
			}
		}
	})
}

// Stop cancels the executor and stops io. Closures still queued are
// not drained (the executor returns once it sees the cancellation), and
// Stop does not wait for the executor goroutine to return. Idempotent.
func (b *Base) Stop() {
	if !b.started.CompareAndSwap(true, true) {
		// not started is fine; still attempt IO shutdown below
	}
	b.cancel()
	if b.IO != nil {
		b.IO.Stop()
	}
}

func (b *Base) runExecutor() {
	b.started.Store(true)
	defer b.started.Store(false)
	for {
		select {
		case <-b.ctx.Done():
			return
		case fn := <-b.post:
			fn()
		}
	}
}

// ArmStartupDelay runs fire after Cfg.StartupDelay (or immediately if
// zero), cancellable via the returned function.
func (b *Base) ArmStartupDelay(fire func()) (cancel func()) {
	d := b.Cfg.StartupDelay
	timer := time.AfterFunc(d, func() {
		b.Post(fire)
	})
	return func() { timer.Stop() }
}

// ReconcileActions is the ordered command list spec.md §4.3's
// post-started reconciliation produces, expressed as data so protocol
// kernels can turn each action into their own wire frame(s) and so
// tests can assert on the sequence directly (spec.md §8.5).
type ReconcileAction int

const (
	ActionStopAllLocomotives ReconcileAction = iota
	ActionTrackPowerOff
	ActionTrackPowerOn
	ActionClearEmergencyStop
	ActionRestoreDecoderSpeed
)

// Reconcile computes the ordered reconciliation sequence for the given
// world snapshot, per spec.md §4.3:
//  1. if !run: stop-all-locomotives, mirror emergencyStop := true
//  2. if !powerOn: track power off
//  3. if powerOn: track power on
//  4. if run: clear e-stop, restore decoder speed
func Reconcile(world worldstate.State) []ReconcileAction {
	var actions []ReconcileAction
	if !world.Run {
		actions = append(actions, ActionStopAllLocomotives)
	}
	if !world.PowerOn {
		actions = append(actions, ActionTrackPowerOff)
	} else {
		actions = append(actions, ActionTrackPowerOn)
	}
	if world.Run {
		actions = append(actions, ActionClearEmergencyStop, ActionRestoreDecoderSpeed)
	}
	return actions
}

// RestoreDecoderSpeed re-fires decoderChanged(Throttle) for every
// decoder whose throttle is non-zero and whose emergencyStop is false
// (spec.md §4.4), via emit.
func RestoreDecoderSpeed(src DecoderSource, emit func(*decoder.Decoder)) {
	if src == nil {
		return
	}
	src.EachDecoder(func(d *decoder.Decoder) {
		if d.Throttle() != 0 && !d.EmergencyStop() {
			emit(d)
		}
	})
}

// RestoreDecoderSpeedVia re-fires decoderChanged on the kernel's I/O
// thread for every decoder with a non-zero throttle and no active
// emergency stop, using the embedding kernel's own DecoderChanged
// method — this is what the Interface layer calls on a world "Run"
// event (spec.md §4.5), distinct from the same sequence step that
// already runs inside onReady's reconciliation.
func (b *Base) RestoreDecoderSpeedVia(decoderChanged func(*decoder.Decoder, decoder.ChangeFlags, int)) {
	b.Post(func() {
		RestoreDecoderSpeed(b.Decoders, func(d *decoder.Decoder) {
			decoderChanged(d, decoder.ChangeThrottle, 0)
		})
	})
}

// NotePowerOn updates the mirror and, iff changed, calls OnPowerOnChanged.
func (b *Base) NotePowerOn(on bool) {
	v := No
	if on {
		v = Yes
	}
	if b.setPowerOn(v) && b.CB.OnPowerOnChanged != nil {
		b.CB.OnPowerOnChanged(on)
	}
	if !on && b.CB.OnTrackPowerOff != nil {
		b.CB.OnTrackPowerOff()
	}
}

// NoteEmergencyStop updates the mirror and, iff it transitions to
// true, calls OnEmergencyStop; transitioning to false (normal
// operation resumed) calls OnNormalOperationResumed.
func (b *Base) NoteEmergencyStop(stop bool) {
	v := No
	if stop {
		v = Yes
	}
	changed := b.setEmergencyStop(v)
	if !changed {
		return
	}
	if stop && b.CB.OnEmergencyStop != nil {
		b.CB.OnEmergencyStop()
	}
	if !stop && b.CB.OnNormalOperationResumed != nil {
		b.CB.OnNormalOperationResumed()
	}
}
