package traintasticdiy

import "testing"

func TestSplitNewline(t *testing.T) {
	buf := []byte("HB\nPW,1\n")
	advance, frame, _ := Split(buf)
	if string(frame) != "HB" {
		t.Fatalf("got %q", frame)
	}
	_, frame2, _ := Split(buf[advance:])
	if string(frame2) != "PW,1" {
		t.Fatalf("got %q", frame2)
	}
}

// TestHeartbeatRoundTrip is the Traintastic-DIY keep-alive scenario
// (spec.md §8): a received HB line parses distinctly from a power
// frame, proving the two are not conflated on the receive path.
func TestHeartbeatRoundTrip(t *testing.T) {
	p, ok := Parse([]byte("HB"))
	if !ok || p.Kind != "heartbeat" {
		t.Fatalf("got %+v ok=%v", p, ok)
	}
}

func TestParseSensor(t *testing.T) {
	p, ok := Parse([]byte("INP,12,1"))
	if !ok || p.Kind != "sensor" || p.Address != 12 || !p.Value {
		t.Fatalf("got %+v ok=%v", p, ok)
	}
}

func TestParsePower(t *testing.T) {
	p, ok := Parse([]byte("PW,0"))
	if !ok || p.Kind != "power" || p.Power {
		t.Fatalf("got %+v ok=%v", p, ok)
	}
}
