// Package decoder models one locomotive decoder and the bit-packed
// change-flags a Kernel uses to decide which wire commands to emit
// (spec.md §3 Decoder, §4.3 decoderChanged contract).
package decoder

import (
	"sync"

	"github.com/traintastic-go/hwcore/x/mathx"
)

// Protocol enumerates the decoder protocol families spec.md names.
type Protocol int

const (
	ProtocolAuto Protocol = iota
	ProtocolDCCShort
	ProtocolDCCLong
	ProtocolMotorola
	ProtocolSelectrix
	ProtocolMFX
)

func (p Protocol) String() string {
	switch p {
	case ProtocolDCCShort:
		return "dcc_short"
	case ProtocolDCCLong:
		return "dcc_long"
	case ProtocolMotorola:
		return "motorola"
	case ProtocolSelectrix:
		return "selectrix"
	case ProtocolMFX:
		return "mfx"
	default:
		return "auto"
	}
}

// Direction is the decoder's direction of travel.
type Direction int

const (
	DirectionForward Direction = iota
	DirectionReverse
)

// SpeedSteps is an allowed step count for a protocol (14/27/28/128 for
// DCC, protocol-specific elsewhere).
type SpeedSteps int

// ChangeFlags is the bitmask decoderChanged uses to pick which wire
// command(s) to emit, per spec.md §4.3.
type ChangeFlags uint8

const (
	ChangeEmergencyStop ChangeFlags = 1 << iota
	ChangeDirection
	ChangeThrottle
	ChangeSpeedSteps
	ChangeFunctionValue
)

func (f ChangeFlags) Has(bit ChangeFlags) bool { return f&bit != 0 }

// FunctionType controls how a function's value behaves when toggled.
type FunctionType int

const (
	FunctionHold FunctionType = iota
	FunctionMomentary
	FunctionOnOff
	FunctionAlwaysOn
	FunctionAlwaysOff
)

// FunctionRole names the well-known roles a function can be tagged
// with, independent of its wire number.
type FunctionRole string

const (
	FunctionRoleNone  FunctionRole = ""
	FunctionRoleMute  FunctionRole = "mute"
	FunctionRoleSound FunctionRole = "sound"
	FunctionRoleSmoke FunctionRole = "smoke"
	FunctionRoleLight FunctionRole = "light"
)

// Function is one decoder output (light/sound/smoke/...).
type Function struct {
	Number int
	Name   string
	Type   FunctionType
	Role   FunctionRole
	Value  bool
}

// Key uniquely identifies a decoder within a controller: either
// (Protocol, Address) or, for MFX, (ProtocolMFX, 0) with UID set.
type Key struct {
	Protocol Protocol
	Address  int32
	UID      uint32
}

// Decoder is one locomotive decoder, shared between its owning
// controller and any number of domain consumers (trains, scripts).
// Mutation methods are meant to be called from the event-loop thread;
// this package does not itself enforce that — the controllers that
// wrap a Decoder do, per spec.md §5.
type Decoder struct {
	mu sync.Mutex

	Key        Key
	SpeedSteps SpeedSteps

	throttle      float64 // [0,1]
	direction     Direction
	emergencyStop bool
	functions     []*Function

	onChange func(ChangeFlags, int)
}

// New builds a Decoder. onChange is invoked (by SetThrottle etc.)
// whenever a mutator actually changes state, with the function number
// set only for function changes.
func New(key Key, steps SpeedSteps, onChange func(ChangeFlags, int)) *Decoder {
	return &Decoder{Key: key, SpeedSteps: steps, onChange: onChange}
}

func (d *Decoder) Throttle() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.throttle
}

func (d *Decoder) Direction() Direction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.direction
}

func (d *Decoder) EmergencyStop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.emergencyStop
}

// SetThrottle clamps to [0,1] and fires onChange(ChangeThrottle) iff
// the value actually changed.
func (d *Decoder) SetThrottle(v float64) {
	v = mathx.Clamp(v, 0, 1)
	d.mu.Lock()
	changed := d.throttle != v
	d.throttle = v
	d.mu.Unlock()
	if changed {
		d.fire(ChangeThrottle, 0)
	}
}

func (d *Decoder) SetDirection(dir Direction) {
	d.mu.Lock()
	changed := d.direction != dir
	d.direction = dir
	d.mu.Unlock()
	if changed {
		d.fire(ChangeDirection, 0)
	}
}

func (d *Decoder) SetEmergencyStop(v bool) {
	d.mu.Lock()
	changed := d.emergencyStop != v
	d.emergencyStop = v
	d.mu.Unlock()
	if changed {
		d.fire(ChangeEmergencyStop, 0)
	}
}

// SetSpeedSteps changes the step count in place. It performs no
// validation itself; controller.DecoderController.SetSpeedSteps is the
// validating entry point that checks the new value against the
// decoder's protocol's allowed set (spec.md §3 invariant: "speedSteps
// ∈ allowed set for protocol") before calling this.
func (d *Decoder) SetSpeedSteps(steps SpeedSteps) {
	d.mu.Lock()
	changed := d.SpeedSteps != steps
	d.SpeedSteps = steps
	d.mu.Unlock()
	if changed {
		d.fire(ChangeSpeedSteps, 0)
	}
}

// AddFunction appends a function; number must be unique per decoder
// (spec.md invariant), which callers enforce before calling this.
func (d *Decoder) AddFunction(f *Function) {
	d.mu.Lock()
	d.functions = append(d.functions, f)
	d.mu.Unlock()
}

func (d *Decoder) Functions() []*Function {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Function, len(d.functions))
	copy(out, d.functions)
	return out
}

func (d *Decoder) Function(number int) *Function {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range d.functions {
		if f.Number == number {
			return f
		}
	}
	return nil
}

// SetFunctionValue sets function `number`'s value and fires
// onChange(ChangeFunctionValue, number) iff it changed.
func (d *Decoder) SetFunctionValue(number int, v bool) bool {
	d.mu.Lock()
	var f *Function
	for _, fn := range d.functions {
		if fn.Number == number {
			f = fn
			break
		}
	}
	if f == nil {
		d.mu.Unlock()
		return false
	}
	changed := f.Value != v
	f.Value = v
	d.mu.Unlock()
	if changed {
		d.fire(ChangeFunctionValue, number)
	}
	return true
}

func (d *Decoder) fire(flags ChangeFlags, fn int) {
	if d.onChange != nil {
		d.onChange(flags, fn)
	}
}
