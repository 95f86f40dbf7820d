package selectrix

import "testing"

func TestSplitSkipsNoise(t *testing.T) {
	buf := append([]byte{0x00, 0x00}, BuildChannelData(5, 0x80)...)
	advance, frame, dropped := Split(buf)
	if dropped != 2 {
		t.Fatalf("dropped=%d", dropped)
	}
	if advance != 5 {
		t.Fatalf("advance=%d", advance)
	}
	ch, v, ok := ParseChannelData(frame)
	if !ok || ch != 5 || v != 0x80 {
		t.Fatalf("got ch=%d v=%d ok=%v", ch, v, ok)
	}
}

func TestAddressBit(t *testing.T) {
	ch, bit := AddressBit(13)
	if ch != 1 || bit != 5 {
		t.Fatalf("got ch=%d bit=%d", ch, bit)
	}
}

// TestSelectrixFeedbackBit is the Selectrix feedback scenario
// (spec.md §8): a channel-data frame decodes to its channel with the
// set feedback bit present in the value.
func TestSelectrixFeedbackBit(t *testing.T) {
	frame := BuildChannelData(2, 0b0000_0100)
	ch, v, ok := ParseChannelData(frame)
	if !ok || ch != 2 || v&(1<<2) == 0 {
		t.Fatalf("got ch=%d v=%08b ok=%v", ch, v, ok)
	}
}
