// Package iface implements the Interface lifecycle state machine
// spec.md §4.5 describes: offline/initializing/online/error, wired to
// a protocol kernel's start/stop and to world-state events. It is
// deliberately protocol-agnostic — Z21Interface, LocoNetInterface, and
// so on are thin factories that hand this package a KernelHandle.
package iface

import (
	"sync"

	base "github.com/traintastic-go/hwcore/hardware/kernel"
	"github.com/traintastic-go/hwcore/hwerr"
	"github.com/traintastic-go/hwcore/runtime"
	"github.com/traintastic-go/hwcore/worldstate"
)

// Status is the lifecycle state spec.md §3's Interface type names.
type Status int

const (
	Offline Status = iota
	Initializing
	Online
	Error
)

func (s Status) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Online:
		return "online"
	case Error:
		return "error"
	default:
		return "offline"
	}
}

// KernelHandle is the subset of a protocol Kernel the lifecycle state
// machine drives directly; every protocol kernel (loconet, xpressnet,
// z21, dccex, ecos, marklincan, selectrix, traintasticdiy, withrottle)
// satisfies it.
type KernelHandle interface {
	Start()
	Stop()
	PowerOn()
	PowerOff()
	EmergencyStop()
	ClearEmergencyStop()
	RestoreDecoderSpeed()
}

// Factory builds a fresh, not-yet-started kernel for one setOnline
// attempt. simulation selects a SimulationIOHandler-backed kernel
// instead of the real transport (spec.md §4.6). cb is pre-wired by
// Interface so OnStarted/OnError drive the status transition.
type Factory func(simulation bool, cb base.Callbacks) (KernelHandle, error)

// Interface is the composition spec.md §4.5 names: "Interface +
// DecoderController + InputController + OutputController + protocol
// Settings". This package owns only the lifecycle/status/world-wiring
// slice; the controllers are constructed alongside the kernel by the
// concrete protocol interface (e.g. cmd/hwserver's Z21 wiring) and
// wired to the kernel there; Interface holds no controller references
// and has no method for attaching them.
type Interface struct {
	ID      string
	LogID   string
	rt      *runtime.Runtime
	world   *worldstate.World
	factory Factory

	mu          sync.Mutex
	status      Status
	kernel      KernelHandle
	lastError   error
	onStatus    func(Status)
	transportRO bool
}

func New(id, logID string, rt *runtime.Runtime, world *worldstate.World, factory Factory) *Interface {
	i := &Interface{ID: id, LogID: logID, rt: rt, world: world, factory: factory, status: Offline}
	world.Subscribe(i.onWorldEvent)
	return i
}

// OnStatusChange registers a callback fired (synchronously, from
// whichever thread drove the transition) whenever Status changes.
func (i *Interface) OnStatusChange(fn func(Status)) {
	i.mu.Lock()
	i.onStatus = fn
	i.mu.Unlock()
}

func (i *Interface) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

func (i *Interface) LastError() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastError
}

// TransportLocked reports whether transport settings are currently
// read-only (spec.md §4.5: "Transport settings become read-only").
func (i *Interface) TransportLocked() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.transportRO
}

func (i *Interface) setStatus(s Status) {
	i.mu.Lock()
	i.status = s
	fn := i.onStatus
	i.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// SetOnline implements spec.md §4.5's setOnline(value, simulation).
func (i *Interface) SetOnline(value bool, simulation bool) error {
	if value {
		return i.goOnline(simulation)
	}
	i.goOffline()
	return nil
}

func (i *Interface) goOnline(simulation bool) error {
	i.mu.Lock()
	if i.status == Online || i.status == Initializing {
		i.mu.Unlock()
		return nil
	}
	i.mu.Unlock()
	i.setStatus(Initializing)

	cb := base.Callbacks{
		OnStarted: func(err error) {
			if err != nil {
				i.rt.Log.Error(i.LogID, "start_failed", err)
				i.mu.Lock()
				i.lastError = err
				i.mu.Unlock()
				i.setStatus(Offline)
				return
			}
			i.mu.Lock()
			i.transportRO = true
			i.mu.Unlock()
			i.setStatus(Online)
		},
		OnError: func(err error) {
			i.rt.Log.Error(i.LogID, "kernel_error", err)
			i.mu.Lock()
			i.lastError = err
			i.mu.Unlock()
			if hwerr.KindOf(err) == hwerr.KindProtocolFatal {
				i.setStatus(Error)
			}
		},
	}

	k, err := i.factory(simulation, cb)
	if err != nil {
		i.rt.Log.Error(i.LogID, "construct_failed", err)
		i.mu.Lock()
		i.lastError = err
		i.mu.Unlock()
		i.setStatus(Offline)
		return err
	}
	i.mu.Lock()
	i.kernel = k
	i.mu.Unlock()
	k.Start()
	return nil
}

func (i *Interface) goOffline() {
	i.mu.Lock()
	k := i.kernel
	i.kernel = nil
	i.transportRO = false
	i.mu.Unlock()
	if k != nil {
		k.Stop()
	}
	i.setStatus(Offline)
}

// onWorldEvent forwards the actionable world events to the live
// kernel, per spec.md §4.5's list.
func (i *Interface) onWorldEvent(ev worldstate.Event, state worldstate.State) {
	i.mu.Lock()
	k := i.kernel
	i.mu.Unlock()
	if k == nil {
		return
	}
	switch ev {
	case worldstate.EventPowerOn:
		k.PowerOn()
	case worldstate.EventPowerOff:
		k.PowerOff()
	case worldstate.EventStop:
		k.EmergencyStop()
	case worldstate.EventRun:
		k.ClearEmergencyStop()
		k.RestoreDecoderSpeed()
	}
}
