package withrottle

import "testing"

func TestSplitNewline(t *testing.T) {
	buf := []byte("*\nPPA1\n")
	advance, frame, _ := Split(buf)
	if string(frame) != "*" {
		t.Fatalf("got %q", frame)
	}
	_, frame2, _ := Split(buf[advance:])
	if string(frame2) != "PPA1" {
		t.Fatalf("got %q", frame2)
	}
}

// TestWiThrottleSpeedScenario is the WiThrottle throttle-control
// scenario (spec.md §8): an MTA speed line round-trips through
// BuildSpeed/Parse for the same address and value.
func TestWiThrottleSpeedScenario(t *testing.T) {
	frame := BuildSpeed(3, 64)
	p, ok := Parse(frame[:len(frame)-1])
	if !ok || p.Kind != "speed" || p.Address != 3 || p.Speed != 64 {
		t.Fatalf("got %+v ok=%v", p, ok)
	}
}

func TestParseFunction(t *testing.T) {
	frame := BuildFunction(5, 3, true)
	p, ok := Parse(frame[:len(frame)-1])
	if !ok || p.Kind != "function" || p.Address != 5 || p.Number != 3 || !p.Value {
		t.Fatalf("got %+v ok=%v", p, ok)
	}
}

func TestParsePowerAck(t *testing.T) {
	p, ok := Parse([]byte("PPA0"))
	if !ok || p.Kind != "power" || p.Power {
		t.Fatalf("got %+v ok=%v", p, ok)
	}
}
