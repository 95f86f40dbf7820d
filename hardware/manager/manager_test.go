package manager

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	base "github.com/traintastic-go/hwcore/hardware/kernel"
	"github.com/traintastic-go/hwcore/hardware/iface"
	"github.com/traintastic-go/hwcore/hwerr"
	"github.com/traintastic-go/hwcore/runtime"
	"github.com/traintastic-go/hwcore/worldstate"
)

type fakeKernel struct{}

func (f *fakeKernel) Start()               {}
func (f *fakeKernel) Stop()                {}
func (f *fakeKernel) PowerOn()             {}
func (f *fakeKernel) PowerOff()            {}
func (f *fakeKernel) EmergencyStop()       {}
func (f *fakeKernel) ClearEmergencyStop()  {}
func (f *fakeKernel) RestoreDecoderSpeed() {}

func newTestInterface(factory iface.Factory) (*iface.Interface, context.Context, context.CancelFunc) {
	rt := runtime.New(runtime.Config{MemoryLogSize: 16, EventQueueSize: 16})
	world := worldstate.New()
	i := iface.New("test0", "test0", rt, world, factory)
	ctx, cancel := context.WithCancel(context.Background())
	return i, ctx, cancel
}

func TestSupervisorBringsInterfaceOnlineAndOfflineOnCancel(t *testing.T) {
	i, ctx, cancel := newTestInterface(func(simulation bool, cb base.Callbacks) (iface.KernelHandle, error) {
		if cb.OnStarted != nil {
			cb.OnStarted(nil)
		}
		return &fakeKernel{}, nil
	})

	sup := NewSupervisor(i, true)
	states := make(chan iface.Status, 8)
	sup.OnState(func(s iface.Status, err error) { states <- s })

	done := make(chan struct{})
	go func() { sup.Run(ctx); close(done) }()

	waitForStatus(t, states, iface.Online)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if i.Status() != iface.Offline {
		t.Fatalf("expected Offline after cancel, got %v", i.Status())
	}
}

func TestSupervisorRetriesAfterConstructFailure(t *testing.T) {
	var attempts int32
	i, ctx, cancel := newTestInterface(func(simulation bool, cb base.Callbacks) (iface.KernelHandle, error) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return nil, hwerr.New(hwerr.KindTransport, hwerr.CodeOpenFailed, "test.construct", "first attempt fails")
		}
		if cb.OnStarted != nil {
			cb.OnStarted(nil)
		}
		return &fakeKernel{}, nil
	})
	defer cancel()

	sup := NewSupervisor(i, true)
	sup.minBackoff = time.Millisecond
	sup.maxBackoff = 5 * time.Millisecond
	states := make(chan iface.Status, 8)
	sup.OnState(func(s iface.Status, err error) { states <- s })

	go sup.Run(ctx)

	waitForStatus(t, states, iface.Online)
	if atomic.LoadInt32(&attempts) < 2 {
		t.Fatalf("expected at least 2 construction attempts, got %d", attempts)
	}
}

func waitForStatus(t *testing.T, states <-chan iface.Status, want iface.Status) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %v", want)
		}
	}
}
