package simserver

import (
	"net"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		frame []byte
		check func(t *testing.T, m Message)
	}{
		{"power", EncodePower(Power{On: true}), func(t *testing.T, m Message) {
			if m.Power == nil || !m.Power.On {
				t.Fatalf("expected Power{On:true}, got %+v", m)
			}
		}},
		{"loco", EncodeLocomotiveSpeedDirection(LocomotiveSpeedDirection{Address: 3, Protocol: 1, Speed: 500, Forward: true}), func(t *testing.T, m Message) {
			if m.LocomotiveSpeedDirection == nil || m.LocomotiveSpeedDirection.Address != 3 || m.LocomotiveSpeedDirection.Speed != 500 || !m.LocomotiveSpeedDirection.Forward {
				t.Fatalf("unexpected decode: %+v", m)
			}
		}},
		{"sensor", EncodeSensorChanged(SensorChanged{Channel: 2, Address: 10, Value: true}), func(t *testing.T, m Message) {
			if m.SensorChanged == nil || m.SensorChanged.Channel != 2 || m.SensorChanged.Address != 10 || !m.SensorChanged.Value {
				t.Fatalf("unexpected decode: %+v", m)
			}
		}},
		{"accessory", EncodeAccessorySetState(AccessorySetState{Channel: 1, Address: 7, State: 2}), func(t *testing.T, m Message) {
			if m.AccessorySetState == nil || m.AccessorySetState.Address != 7 || m.AccessorySetState.State != 2 {
				t.Fatalf("unexpected decode: %+v", m)
			}
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			advance, frame, dropped := Split(c.frame)
			if dropped != 0 || advance != len(c.frame) || frame == nil {
				t.Fatalf("Split: advance=%d dropped=%d frame=%v", advance, dropped, frame)
			}
			msg, err := DecodeFrame(frame)
			if err != nil {
				t.Fatalf("DecodeFrame: %v", err)
			}
			c.check(t, msg)
		})
	}
}

func TestSplitWaitsForFullFrame(t *testing.T) {
	full := EncodePower(Power{On: true})
	advance, frame, _ := Split(full[:len(full)-1])
	if advance != 0 || frame != nil {
		t.Fatalf("expected Split to wait for the rest of the frame, got advance=%d frame=%v", advance, frame)
	}
}

// TestServerFansOutToOtherPeers mirrors spec.md §4.6 point 3: a message
// from one connected interface reaches every other connected interface
// sharing the same simulated layout.
func TestServerFansOutToOtherPeers(t *testing.T) {
	s, err := Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer s.Close()

	a, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial a: %v", err)
	}
	defer a.Close()
	b, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial b: %v", err)
	}
	defer b.Close()

	time.Sleep(20 * time.Millisecond) // let the server register both conns

	msg := wrapFrame(EncodeAccessorySetState(AccessorySetState{Channel: 0, Address: 4, State: 1})[headerLen:])
	if _, err := a.Write(msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	b.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 64)
	n, err := b.Read(buf)
	if err != nil {
		t.Fatalf("read on b: %v", err)
	}
	got, err := DecodeFrame(buf[headerLen:n])
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if got.AccessorySetState == nil || got.AccessorySetState.Address != 4 || got.AccessorySetState.State != 1 {
		t.Fatalf("unexpected fan-out message: %+v", got)
	}
}
