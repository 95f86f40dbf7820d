package dccex

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/traintastic-go/hwcore/hardware/input"
	"github.com/traintastic-go/hwcore/hardware/iohandler"
	"github.com/traintastic-go/hwcore/hardware/output"
	base "github.com/traintastic-go/hwcore/hardware/kernel"
	"github.com/traintastic-go/hwcore/runtime"
	"github.com/traintastic-go/hwcore/worldstate"
)

// TestSimulatorRoundTripsPowerOn is the Simulator/SimHandler
// end-to-end scenario spec.md §8 property 6 ("simulation mode parity")
// asks for: PowerOn's "1" command travels through the real
// iohandler.SimHandler into dccex.Simulator, whose "<p1>" reply comes
// back through the same Sink.Receive path production traffic uses,
// and lands as an OnPowerOnChanged(true) callback.
func TestSimulatorRoundTripsPowerOn(t *testing.T) {
	rt := runtime.New(runtime.Config{})
	world := worldstate.New()
	sink := &iohandler.DeferredSink{}
	io := iohandler.NewSimHandler(NewSimulator(), sink, iohandler.DefaultSendQueueSize)

	changed := make(chan bool, 1)
	cb := base.Callbacks{OnPowerOnChanged: func(on bool) { changed <- on }}
	k := New(Config{Config: base.Config{StartupDelay: time.Hour}}, rt, world, cb, Hooks{}, io)
	sink.Target = k
	k.Start()
	defer k.Stop()

	k.PowerOn()

	select {
	case on := <-changed:
		if !on {
			t.Fatalf("got OnPowerOnChanged(%v), want true", on)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for <p1> to round-trip through the simulator")
	}
}

// TestSimulatorInputBroadcastMatchesCodecParity runs the same <Q
// 42>/<q 42> sequence TestDCCEXInputBroadcast checks at the codec
// level through a full Kernel wired to the Simulator/SimHandler
// (spec.md §9: "implement SimulationIOHandler... so tests cover the
// same path as production from day one"), asserting the resulting
// InputChanged hook sequence is true then false, in order.
func TestSimulatorInputBroadcastMatchesCodecParity(t *testing.T) {
	rt := runtime.New(runtime.Config{EventQueueSize: 16})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Loop.Run(ctx)

	world := worldstate.New()
	sink := &iohandler.DeferredSink{}
	io := iohandler.NewSimHandler(NewSimulator(), sink, iohandler.DefaultSendQueueSize)

	events := make(chan input.TriState, 4)
	hooks := Hooks{InputChanged: func(channel uint32, address int64, value input.TriState) {
		events <- value
	}}
	k := New(Config{Config: base.Config{Simulation: true, StartupDelay: time.Hour}}, rt, world, base.Callbacks{}, hooks, io)
	sink.Target = k
	k.Start()
	defer k.Stop()

	k.SimulateInputChange(42, true)
	select {
	case v := <-events:
		if v != input.True {
			t.Fatalf("got %v, want True", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the simulated <Q 42> broadcast")
	}

	k.SimulateInputChange(42, false)
	select {
	case v := <-events:
		if v != input.False {
			t.Fatalf("got %v, want False", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the simulated <q 42> broadcast")
	}
}

// fakeHandler is a minimal iohandler.Handler that only records sent
// frames, for asserting exact wire-command counts without a
// Responder's reply logic in the way.
type fakeHandler struct {
	mu   sync.Mutex
	sent [][]byte
}

func (f *fakeHandler) Start() error { return nil }
func (f *fakeHandler) Stop() error  { return nil }

func (f *fakeHandler) Send(frame []byte) bool {
	f.mu.Lock()
	f.sent = append(f.sent, append([]byte(nil), frame...))
	f.mu.Unlock()
	return true
}

func (f *fakeHandler) frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

// flush blocks until every closure already Post()ed to k has run,
// so assertions after a burst of kernel calls see a stable result.
func flush(k *Kernel) {
	done := make(chan struct{})
	k.Post(func() { close(done) })
	<-done
}

// TestPowerOnMirrorSuppressesRepeat is spec.md §8 property 3's mirror
// idempotence at the kernel's send-suppression layer: two identical
// PowerOn calls produce exactly one wire frame, the thing
// TestInputControllerUpdateValueIdempotent (registry-level only)
// doesn't cover.
func TestPowerOnMirrorSuppressesRepeat(t *testing.T) {
	rt := runtime.New(runtime.Config{})
	world := worldstate.New()
	io := &fakeHandler{}
	k := New(Config{Config: base.Config{StartupDelay: time.Hour}}, rt, world, base.Callbacks{}, Hooks{}, io)
	k.Start()
	defer k.Stop()

	k.PowerOn()
	k.PowerOn()
	flush(k)

	frames := io.frames()
	if len(frames) != 1 || string(frames[0]) != string(BuildPowerOn()) {
		t.Fatalf("got %d frame(s): %q", len(frames), frames)
	}
}

// TestSetOutputMirrorSuppressesRepeat is the same property for
// accessory commands: two identical SetOutput calls produce one
// "<a addr v>" frame, not two.
func TestSetOutputMirrorSuppressesRepeat(t *testing.T) {
	rt := runtime.New(runtime.Config{})
	world := worldstate.New()
	io := &fakeHandler{}
	k := New(Config{Config: base.Config{StartupDelay: time.Hour}}, rt, world, base.Callbacks{}, Hooks{}, io)
	k.Start()
	defer k.Stop()

	v := output.Value{Type: output.TypeSingle, Bool: true}
	k.SetOutput(7, v)
	k.SetOutput(7, v)
	flush(k)

	frames := io.frames()
	if len(frames) != 1 || string(frames[0]) != string(BuildAccessory(7, 1)) {
		t.Fatalf("got %d frame(s): %q", len(frames), frames)
	}
}
