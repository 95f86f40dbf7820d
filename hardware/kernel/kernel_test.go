package kernel

import (
	"reflect"
	"testing"

	"github.com/traintastic-go/hwcore/hardware/decoder"
	"github.com/traintastic-go/hwcore/worldstate"
)

func TestReconcileSequence(t *testing.T) {
	cases := []struct {
		name  string
		world worldstate.State
		want  []ReconcileAction
	}{
		{
			name:  "stopped, power off",
			world: worldstate.State{Run: false, PowerOn: false},
			want:  []ReconcileAction{ActionStopAllLocomotives, ActionTrackPowerOff},
		},
		{
			name:  "stopped, power on",
			world: worldstate.State{Run: false, PowerOn: true},
			want:  []ReconcileAction{ActionStopAllLocomotives, ActionTrackPowerOn},
		},
		{
			name:  "running",
			world: worldstate.State{Run: true, PowerOn: true},
			want:  []ReconcileAction{ActionTrackPowerOn, ActionClearEmergencyStop, ActionRestoreDecoderSpeed},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Reconcile(c.world)
			if !reflect.DeepEqual(got, c.want) {
				t.Fatalf("got %v, want %v", got, c.want)
			}
		})
	}
}

type decoderList []*decoder.Decoder

func (l decoderList) EachDecoder(fn func(*decoder.Decoder)) {
	for _, d := range l {
		fn(d)
	}
}

// TestReconcileRestoresOnlyRunningDecoders is spec.md §8 property 5's
// concrete scenario: of two decoders with a non-zero throttle, one
// with an active emergency stop, a "running" world reconciliation
// emits exactly one power-on, one clear-e-stop, and a restore-speed
// emit for the decoder that isn't e-stopped — in that order, and the
// e-stopped decoder is skipped.
func TestReconcileRestoresOnlyRunningDecoders(t *testing.T) {
	running := decoder.New(decoder.Key{Protocol: decoder.ProtocolDCCShort, Address: 3}, 128, nil)
	running.SetThrottle(0.5)

	stopped := decoder.New(decoder.Key{Protocol: decoder.ProtocolDCCShort, Address: 4}, 128, nil)
	stopped.SetThrottle(0.5)
	stopped.SetEmergencyStop(true)

	idle := decoder.New(decoder.Key{Protocol: decoder.ProtocolDCCShort, Address: 5}, 128, nil)

	world := worldstate.State{Run: true, PowerOn: true}
	actions := Reconcile(world)
	want := []ReconcileAction{ActionTrackPowerOn, ActionClearEmergencyStop, ActionRestoreDecoderSpeed}
	if !reflect.DeepEqual(actions, want) {
		t.Fatalf("got %v, want %v", actions, want)
	}

	src := decoderList{running, stopped, idle}
	var restored []*decoder.Decoder
	for _, action := range actions {
		if action == ActionRestoreDecoderSpeed {
			RestoreDecoderSpeed(src, func(d *decoder.Decoder) {
				restored = append(restored, d)
			})
		}
	}
	if len(restored) != 1 || restored[0] != running {
		t.Fatalf("got %+v, want exactly [running]", restored)
	}
}

func TestRestoreDecoderSpeedSkipsZeroThrottle(t *testing.T) {
	zero := decoder.New(decoder.Key{Protocol: decoder.ProtocolDCCShort, Address: 1}, 128, nil)
	var calls int
	RestoreDecoderSpeed(decoderList{zero}, func(*decoder.Decoder) { calls++ })
	if calls != 0 {
		t.Fatalf("got %d calls, want 0", calls)
	}
}
