package z21

import "testing"

func TestXBusChecksumMutation(t *testing.T) {
	datagram := BuildTrackPowerOn()
	_, payload, ok := ParseEnvelope(datagram)
	if !ok {
		t.Fatalf("bad envelope")
	}
	if !XBusValid(payload) {
		t.Fatalf("expected valid checksum")
	}
	for i := range payload {
		mutated := append([]byte(nil), payload...)
		mutated[i] ^= 0x01
		if XBusValid(mutated) {
			t.Fatalf("byte %d mutation should invalidate checksum", i)
		}
	}
}

func TestEnvelopeLengthMismatchRejected(t *testing.T) {
	datagram := BuildGetSerialNumber()
	datagram[0] ^= 0xFF
	if _, _, ok := ParseEnvelope(datagram); ok {
		t.Fatalf("expected length mismatch to be rejected")
	}
}

// TestZ21DecoderDrive is the "Z21 decoder drive" scenario (spec.md
// §8): a 128-step long-address decoder at address 3, throttle 0.5,
// forward, produces a LAN_X_SET_LOCO_DRIVE datagram with 128-step mode
// (DB0=0x13), long-address encoding, and a forward speed byte with the
// direction bit set.
func TestZ21DecoderDrive(t *testing.T) {
	speed := SpeedByte128(0.5, true, false)
	if speed&0x80 == 0 {
		t.Fatalf("expected forward bit set, got 0x%02X", speed)
	}
	datagram := BuildLocoDrive128(3, true, speed)
	msgType, payload, ok := ParseEnvelope(datagram)
	if !ok || msgType != LanX {
		t.Fatalf("expected LAN_X envelope, got type=0x%04X ok=%v", msgType, ok)
	}
	if !XBusValid(payload) {
		t.Fatalf("invalid checksum in %x", datagram)
	}
	if payload[0] != XHeaderLocoDrive || payload[1] != 0x13 {
		t.Fatalf("expected LOCO_DRIVE/128-step header, got % X", payload[:2])
	}
	if payload[2]&0xC0 != 0xC0 {
		t.Fatalf("expected long-address flag bits set in 0x%02X", payload[2])
	}
	if payload[3] != 0x03 {
		t.Fatalf("expected address low byte 0x03, got 0x%02X", payload[3])
	}
}
