package dccex

import "testing"

func TestSplitNewlineFraming(t *testing.T) {
	buf := []byte("<Q 42>\n<q 42>\n")
	advance, frame, dropped := Split(buf)
	if dropped != 0 || string(frame) != "<Q 42>" {
		t.Fatalf("got frame=%q dropped=%d", frame, dropped)
	}
	buf = buf[advance:]
	_, frame2, _ := Split(buf)
	if string(frame2) != "<q 42>" {
		t.Fatalf("got %q", frame2)
	}
}

// TestDCCEXInputBroadcast is the "DCC-EX input broadcast" scenario
// (spec.md §8): <Q 42> then <q 42> parse to true then false.
func TestDCCEXInputBroadcast(t *testing.T) {
	p1, ok := Parse([]byte("<Q 42>"))
	if !ok || p1.Kind != "sensor" || p1.ID != 42 || !p1.Value {
		t.Fatalf("got %+v ok=%v", p1, ok)
	}
	p2, ok := Parse([]byte("<q 42>"))
	if !ok || p2.Kind != "sensor" || p2.ID != 42 || p2.Value {
		t.Fatalf("got %+v ok=%v", p2, ok)
	}
}

func TestParsePower(t *testing.T) {
	p, ok := Parse([]byte("<p1>"))
	if !ok || p.Kind != "power" || !p.Power {
		t.Fatalf("got %+v ok=%v", p, ok)
	}
}
