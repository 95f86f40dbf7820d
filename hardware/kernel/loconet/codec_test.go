package loconet

import "testing"

func TestChecksumValid(t *testing.T) {
	frame := BuildGPOn()
	if !ChecksumValid(frame) {
		t.Fatalf("expected valid checksum for %x", frame)
	}
	for i := range frame {
		mutated := append([]byte(nil), frame...)
		mutated[i] ^= 0x01
		if ChecksumValid(mutated) {
			t.Fatalf("byte %d mutation should invalidate checksum: %x", i, mutated)
		}
	}
}

func TestSplitRoundTrip(t *testing.T) {
	frame := BuildLocoSpd(3, 66)
	buf := append(append([]byte(nil), frame...), BuildGPOn()...)
	advance, got, dropped := Split(buf)
	if dropped != 0 {
		t.Fatalf("unexpected drop: %d", dropped)
	}
	if advance != len(frame) {
		t.Fatalf("advance = %d, want %d", advance, len(frame))
	}
	if string(got) != string(frame) {
		t.Fatalf("got %x want %x", got, frame)
	}
}

func TestSplitDropsMalformedBytes(t *testing.T) {
	junk := []byte{0x01, 0x02, 0x03}
	buf := append(append([]byte(nil), junk...), BuildGPOn()...)
	advance, frame, dropped := Split(buf)
	if dropped != len(junk) {
		t.Fatalf("dropped = %d, want %d", dropped, len(junk))
	}
	if string(frame) != string(BuildGPOn()) {
		t.Fatalf("expected GPOn frame after the dropped bytes, got %x", frame)
	}
	if advance != len(buf) {
		t.Fatalf("expected advance past junk and frame, got advance=%d of %d", advance, len(buf))
	}
}

func TestSpeedByteEncoding(t *testing.T) {
	if SpeedByte(0, false) != 0 {
		t.Fatalf("speed 0 should be stop byte 0")
	}
	if SpeedByte(0.5, true) != 1 {
		t.Fatalf("emergency stop should always encode as 1")
	}
	if v := SpeedByte(1.0, false); v != 127 {
		t.Fatalf("full throttle should clamp to 127, got %d", v)
	}
}

func TestParseInputRep(t *testing.T) {
	frame := finish([]byte{OpInputRep, 0x00, 0x10})
	addr, value, ok := ParseInputRep(frame)
	if !ok {
		t.Fatalf("expected parse ok")
	}
	if !value {
		t.Fatalf("expected true value")
	}
	if addr <= 0 {
		t.Fatalf("expected positive address, got %d", addr)
	}
}
