package iface

import (
	"testing"

	base "github.com/traintastic-go/hwcore/hardware/kernel"
	"github.com/traintastic-go/hwcore/hwerr"
	"github.com/traintastic-go/hwcore/runtime"
	"github.com/traintastic-go/hwcore/worldstate"
)

type fakeKernel struct {
	started, stopped                              int
	poweredOn, poweredOff, estopped, estopCleared int
	restored                                       int
}

func (f *fakeKernel) Start()               { f.started++ }
func (f *fakeKernel) Stop()                { f.stopped++ }
func (f *fakeKernel) PowerOn()             { f.poweredOn++ }
func (f *fakeKernel) PowerOff()            { f.poweredOff++ }
func (f *fakeKernel) EmergencyStop()       { f.estopped++ }
func (f *fakeKernel) ClearEmergencyStop()  { f.estopCleared++ }
func (f *fakeKernel) RestoreDecoderSpeed() { f.restored++ }

func newTestInterface(t *testing.T, fk *fakeKernel) (*Interface, *worldstate.World) {
	t.Helper()
	rt := runtime.New(runtime.Config{MemoryLogSize: 16, EventQueueSize: 16})
	world := worldstate.New()
	i := New("test0", "test0", rt, world, func(simulation bool, cb base.Callbacks) (KernelHandle, error) {
		if cb.OnStarted != nil {
			cb.OnStarted(nil)
		}
		return fk, nil
	})
	return i, world
}

func TestSetOnlineTrueStartsKernelAndGoesOnline(t *testing.T) {
	fk := &fakeKernel{}
	i, _ := newTestInterface(t, fk)

	if err := i.SetOnline(true, false); err != nil {
		t.Fatalf("SetOnline(true): %v", err)
	}
	if fk.started != 1 {
		t.Fatalf("expected kernel Start to be called once, got %d", fk.started)
	}
	if i.Status() != Online {
		t.Fatalf("expected status Online, got %v", i.Status())
	}
	if !i.TransportLocked() {
		t.Fatal("expected transport settings to be locked while online")
	}
}

func TestSetOnlineFalseStopsKernelAndUnlocksTransport(t *testing.T) {
	fk := &fakeKernel{}
	i, _ := newTestInterface(t, fk)
	_ = i.SetOnline(true, false)

	if err := i.SetOnline(false, false); err != nil {
		t.Fatalf("SetOnline(false): %v", err)
	}
	if fk.stopped != 1 {
		t.Fatalf("expected kernel Stop to be called once, got %d", fk.stopped)
	}
	if i.Status() != Offline {
		t.Fatalf("expected status Offline, got %v", i.Status())
	}
	if i.TransportLocked() {
		t.Fatal("expected transport settings to unlock after going offline")
	}
}

func TestConstructFailureRevertsToOffline(t *testing.T) {
	rt := runtime.New(runtime.Config{MemoryLogSize: 16, EventQueueSize: 16})
	world := worldstate.New()
	wantErr := hwerr.New(hwerr.KindConfig, hwerr.CodeBadHostname, "test.construct", "bad config")
	i := New("test0", "test0", rt, world, func(simulation bool, cb base.Callbacks) (KernelHandle, error) {
		return nil, wantErr
	})

	err := i.SetOnline(true, false)
	if err == nil {
		t.Fatal("expected error from failed construction")
	}
	if i.Status() != Offline {
		t.Fatalf("expected status to revert to Offline, got %v", i.Status())
	}
}

// TestWorldEventsForwardToKernel exercises spec.md §4.5's event
// forwarding: Run clears the e-stop mirror and restores decoder speed,
// the others map one-to-one onto the kernel handle.
func TestWorldEventsForwardToKernel(t *testing.T) {
	fk := &fakeKernel{}
	i, world := newTestInterface(t, fk)
	_ = i.SetOnline(true, false)

	world.Apply(worldstate.EventPowerOn)
	world.Apply(worldstate.EventStop)
	world.Apply(worldstate.EventRun)
	world.Apply(worldstate.EventPowerOff)

	if fk.poweredOn != 1 || fk.poweredOff != 1 || fk.estopped != 1 {
		t.Fatalf("unexpected forwarding counts: %+v", fk)
	}
	if fk.estopCleared != 1 || fk.restored != 1 {
		t.Fatalf("expected Run to clear e-stop and restore decoder speed, got %+v", fk)
	}
}

// TestWorldEventsIgnoredWhileOffline confirms events are dropped
// silently when no kernel is attached (before the first SetOnline, or
// after going offline again).
func TestWorldEventsIgnoredWhileOffline(t *testing.T) {
	fk := &fakeKernel{}
	_, world := newTestInterface(t, fk)

	world.Apply(worldstate.EventPowerOn)

	if fk.poweredOn != 0 {
		t.Fatalf("expected no forwarding while offline, got %+v", fk)
	}
}
