package xpressnet

import "testing"

func TestChecksumMutation(t *testing.T) {
	frame := BuildTrackPowerOn()
	if !ChecksumValid(frame) {
		t.Fatalf("expected valid checksum")
	}
	for i := range frame {
		mutated := append([]byte(nil), frame...)
		mutated[i] ^= 0x01
		if ChecksumValid(mutated) {
			t.Fatalf("byte %d mutation should invalidate checksum", i)
		}
	}
}

func TestFunctionGroupF9F12(t *testing.T) {
	values := map[int]bool{10: true}
	frame := BuildFunctionGroup(5, GroupF9F12, func(n int) bool { return values[n] }, false)
	if !ChecksumValid(frame) {
		t.Fatalf("invalid checksum: % X", frame)
	}
	if frame[1] != 0x22 {
		t.Fatalf("expected F9-F12 ident 0x22, got 0x%02X", frame[1])
	}
	bits := frame[4]
	if bits&(1<<1) == 0 {
		t.Fatalf("expected F10 bit set in bitmap 0x%02X", bits)
	}
}

func TestFeedbackBroadcastRoundTrip(t *testing.T) {
	pairs := []FeedbackPair{{GroupAddress: 3, IsAccessory: false, Nibble: 0x05}}
	frame := BuildFeedbackBroadcast(pairs)
	got, ok := ParseFeedbackBroadcast(frame)
	if !ok || len(got) != 1 {
		t.Fatalf("parse failed: %v ok=%v", got, ok)
	}
	if got[0] != pairs[0] {
		t.Fatalf("got %+v want %+v", got[0], pairs[0])
	}
}

func TestSplitFrameLength(t *testing.T) {
	frame := BuildFunctionGroup(5, GroupF9F12, func(int) bool { return false }, false)
	advance, got, dropped := Split(frame)
	if dropped != 0 || advance != len(frame) || string(got) != string(frame) {
		t.Fatalf("split mismatch: advance=%d dropped=%d got=%x", advance, dropped, got)
	}
}
