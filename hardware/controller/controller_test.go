package controller

import (
	"math"
	"testing"

	"github.com/traintastic-go/hwcore/hardware/decoder"
	"github.com/traintastic-go/hwcore/hardware/input"
	"github.com/traintastic-go/hwcore/hardware/output"
	"github.com/traintastic-go/hwcore/hwerr"
)

var testProtocols = []DecoderProtocolSupport{
	{Protocol: decoder.ProtocolDCCShort, MinAddr: 1, MaxAddr: 127, SpeedSteps: []decoder.SpeedSteps{14, 28, 128}},
	{Protocol: decoder.ProtocolDCCLong, MinAddr: 128, MaxAddr: 9999, SpeedSteps: []decoder.SpeedSteps{28, 128}},
}

type fakeDecoderKernel struct {
	calls []decoder.ChangeFlags
}

func (f *fakeDecoderKernel) DecoderChanged(d *decoder.Decoder, flags decoder.ChangeFlags, fn int) {
	f.calls = append(f.calls, flags)
}

func TestAddDecoderOutOfRangeRejected(t *testing.T) {
	c := NewDecoderController(&fakeDecoderKernel{}, testProtocols)
	_, err := c.AddDecoder(decoder.Key{Protocol: decoder.ProtocolDCCShort, Address: 0}, 128)
	if hwerr.KindOf(err) != hwerr.KindOutOfRange {
		t.Fatalf("got %v", err)
	}
}

func TestAddDecoderUnsupportedProtocolRejected(t *testing.T) {
	c := NewDecoderController(&fakeDecoderKernel{}, testProtocols)
	_, err := c.AddDecoder(decoder.Key{Protocol: decoder.ProtocolMotorola, Address: 3}, 28)
	if hwerr.CodeOf(err) != hwerr.CodeUnsupported {
		t.Fatalf("got %v", err)
	}
}

func TestAddDecoderBadSpeedStepsRejected(t *testing.T) {
	c := NewDecoderController(&fakeDecoderKernel{}, testProtocols)
	_, err := c.AddDecoder(decoder.Key{Protocol: decoder.ProtocolDCCLong, Address: 200}, 14)
	if hwerr.CodeOf(err) != hwerr.CodeUnsupported {
		t.Fatalf("expected speed-steps-not-allowed rejection, got %v", err)
	}
}

// TestDecoderChangedForwardsToKernel is the address-space validation +
// decoderChanged wiring scenario (spec.md §8): setting a throttle on a
// decoder added through the controller reaches the kernel exactly once.
func TestDecoderChangedForwardsToKernel(t *testing.T) {
	k := &fakeDecoderKernel{}
	c := NewDecoderController(k, testProtocols)
	d, err := c.AddDecoder(decoder.Key{Protocol: decoder.ProtocolDCCShort, Address: 3}, 128)
	if err != nil {
		t.Fatalf("AddDecoder: %v", err)
	}
	d.SetThrottle(0.5)
	if len(k.calls) != 1 || !k.calls[0].Has(decoder.ChangeThrottle) {
		t.Fatalf("got %+v", k.calls)
	}
}

func TestDecoderProtocolsAndRanges(t *testing.T) {
	c := NewDecoderController(&fakeDecoderKernel{}, testProtocols)
	got := c.DecoderProtocols()
	if len(got) != 2 || got[0] != decoder.ProtocolDCCShort || got[1] != decoder.ProtocolDCCLong {
		t.Fatalf("got %+v", got)
	}
	if min, max := c.DecoderAddressMinMax(decoder.ProtocolDCCShort); min != 1 || max != 127 {
		t.Fatalf("got min=%d max=%d", min, max)
	}
	if min, max := c.DecoderAddressMinMax(decoder.ProtocolMFX); min != math.MaxInt64 || max != 0 {
		t.Fatalf("expected MFX sentinel, got min=%d max=%d", min, max)
	}
	steps := c.DecoderSpeedSteps(decoder.ProtocolDCCLong)
	if len(steps) != 2 || steps[0] != 28 || steps[1] != 128 {
		t.Fatalf("got %+v", steps)
	}
}

func TestSetSpeedStepsValidatesAgainstProtocol(t *testing.T) {
	c := NewDecoderController(&fakeDecoderKernel{}, testProtocols)
	d, err := c.AddDecoder(decoder.Key{Protocol: decoder.ProtocolDCCLong, Address: 200}, 28)
	if err != nil {
		t.Fatalf("AddDecoder: %v", err)
	}
	if c.SetSpeedSteps(d, 14) {
		t.Fatal("14 isn't allowed for dcc_long in this table")
	}
	if d.SpeedSteps != 28 {
		t.Fatalf("rejected SetSpeedSteps must not mutate, got %v", d.SpeedSteps)
	}
	if !c.SetSpeedSteps(d, 128) {
		t.Fatal("128 is allowed for dcc_long")
	}
	if d.SpeedSteps != 128 {
		t.Fatalf("got %v", d.SpeedSteps)
	}
}

type fakeOutputKernel struct {
	lastAddr int64
	lastVal  output.Value
}

func (f *fakeOutputKernel) SetOutput(address int64, v output.Value) {
	f.lastAddr = address
	f.lastVal = v
}

func TestOutputControllerValidatesTypeBeforeForwarding(t *testing.T) {
	k := &fakeOutputKernel{}
	c := NewOutputController(k, 1, 100)
	key := output.Key{Channel: 0, Address: 5}
	if _, err := c.GetOutput(key, output.TypeSingle, "consumer"); err != nil {
		t.Fatalf("GetOutput: %v", err)
	}
	if c.SetOutput(key, output.Value{Type: output.TypePair, Pair: 1}) {
		t.Fatalf("type mismatch should be rejected")
	}
	if !c.SetOutput(key, output.Value{Type: output.TypeSingle, Bool: true}) {
		t.Fatalf("matching type should be accepted")
	}
	if k.lastAddr != 5 || !k.lastVal.Bool {
		t.Fatalf("got addr=%d val=%+v", k.lastAddr, k.lastVal)
	}
}

func TestOutputKeyboardReplaysSnapshot(t *testing.T) {
	k := &fakeOutputKernel{}
	c := NewOutputController(k, 1, 100)
	key := output.Key{Channel: 7, Address: 5}
	if _, err := c.GetOutput(key, output.TypeSingle, "consumer"); err != nil {
		t.Fatalf("GetOutput: %v", err)
	}
	c.Registry.SetValue(key, output.Value{Type: output.TypeSingle, Bool: true})

	kb := c.OutputKeyboard(7)
	select {
	case ev := <-kb.Events():
		if ev.Key != key || !ev.Value.Bool {
			t.Fatalf("got %+v", ev)
		}
	default:
		t.Fatal("expected snapshot replay event")
	}
}

var testChannels = []InputChannel{{Channel: 0, MinAddr: 0, MaxAddr: 1000}}

func TestInputControllerUpdateValueIdempotent(t *testing.T) {
	c := NewInputController(nil, testChannels)
	key := input.Key{Channel: 0, Address: 42}
	in, err := c.GetInput(key, "consumer")
	if err != nil {
		t.Fatalf("GetInput: %v", err)
	}
	c.UpdateInputValue(key, input.True)
	c.UpdateInputValue(key, input.True)
	if in.Value() != input.True {
		t.Fatalf("got %v", in.Value())
	}
}

func TestIsInputChannelAndAddressRange(t *testing.T) {
	c := NewInputController(nil, testChannels)
	if !c.IsInputChannel(0) {
		t.Fatal("channel 0 should be supported")
	}
	if c.IsInputChannel(1) {
		t.Fatal("channel 1 was never declared")
	}
	if min, max := c.InputAddressMinMax(0); min != 0 || max != 1000 {
		t.Fatalf("got min=%d max=%d", min, max)
	}
}

func TestInputMonitorReplaysSnapshot(t *testing.T) {
	c := NewInputController(nil, testChannels)
	key := input.Key{Channel: 0, Address: 42}
	if _, err := c.GetInput(key, "consumer"); err != nil {
		t.Fatalf("GetInput: %v", err)
	}
	c.UpdateInputValue(key, input.True)

	mon := c.InputMonitor(0)
	select {
	case ev := <-mon.Events():
		if ev.Key != key || ev.Value != input.True {
			t.Fatalf("got %+v", ev)
		}
	default:
		t.Fatal("expected snapshot replay event")
	}
}

type fakeInputKernel struct {
	lastAddr    int64
	lastSetTrue bool
	calls       int
}

func (f *fakeInputKernel) SimulateInputChange(address int64, setTrue bool) {
	f.lastAddr, f.lastSetTrue = address, setTrue
	f.calls++
}

func TestSimulateInputChangeForwardsAndToggles(t *testing.T) {
	k := &fakeInputKernel{}
	c := NewInputController(k, testChannels)
	key := input.Key{Channel: 0, Address: 42}
	if _, err := c.GetInput(key, "consumer"); err != nil {
		t.Fatalf("GetInput: %v", err)
	}

	if !c.SimulateInputChange(key, SimulateSetTrue) || !k.lastSetTrue {
		t.Fatalf("expected setTrue forwarded, got %+v", k)
	}
	c.UpdateInputValue(key, input.True)

	if !c.SimulateInputChange(key, SimulateToggle) || k.lastSetTrue {
		t.Fatalf("expected toggle from true to false, got %+v", k)
	}
}

func TestSimulateInputChangeNoKernelIsNoop(t *testing.T) {
	c := NewInputController(nil, testChannels)
	if c.SimulateInputChange(input.Key{Channel: 0, Address: 1}, SimulateSetTrue) {
		t.Fatal("expected false with no InputKernel wired")
	}
}

type fakeLNCVKernel struct {
	started, stopped       int
	reads, writes          []uint16
	lastModuleID, lastAddr uint16
}

func (f *fakeLNCVKernel) StartLNCV(moduleID, moduleAddress uint16) {
	f.started++
	f.lastModuleID, f.lastAddr = moduleID, moduleAddress
}
func (f *fakeLNCVKernel) StopLNCV()              { f.stopped++ }
func (f *fakeLNCVKernel) ReadLNCV(cv uint16)     { f.reads = append(f.reads, cv) }
func (f *fakeLNCVKernel) WriteLNCV(cv, v uint16) { f.writes = append(f.writes, cv) }

func TestLNCVProgrammingControllerSessionExclusive(t *testing.T) {
	k := &fakeLNCVKernel{}
	c := NewLNCVProgrammingController(k)

	if !c.Start(12, 34) {
		t.Fatal("expected first Start to succeed")
	}
	if c.Start(99, 1) {
		t.Fatal("expected second Start to fail while a session is open")
	}
	if k.started != 1 || k.lastModuleID != 12 || k.lastAddr != 34 {
		t.Fatalf("got %+v", k)
	}

	if !c.Read(5) || len(k.reads) != 1 || k.reads[0] != 5 {
		t.Fatalf("Read not forwarded: %+v", k)
	}
	if !c.Write(5, 77) || len(k.writes) != 1 || k.writes[0] != 5 {
		t.Fatalf("Write not forwarded: %+v", k)
	}

	c.Stop()
	if k.stopped != 1 {
		t.Fatalf("expected Stop forwarded once, got %d", k.stopped)
	}
	if c.Read(5) || c.Write(5, 1) {
		t.Fatal("expected Read/Write to no-op once the session is closed")
	}

	if !c.Start(1, 2) {
		t.Fatal("expected Start to succeed again after Stop")
	}
}
