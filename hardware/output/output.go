// Package output models one commandable accessory and the registry
// that owns every output address a controller has materialized
// (spec.md §3 Output, §4.4 OutputController).
package output

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Type is the output's value lattice (spec.md §3 OutputType).
type Type int

const (
	TypeSingle Type = iota
	TypePair
	TypeAspect
	TypeECoS
	TypeRawDCC
)

// Value is a type-tagged output value. Only the field matching Type
// is meaningful; SetValue on Registry validates this.
type Value struct {
	Type    Type
	Bool    bool    // single
	Pair    uint8   // pair: 0/1
	Aspect  uint16  // aspect: arbitrary signal aspect number
	ECoS    uint16  // ECoS: device-defined state id
	RawDCC  uint8   // raw-DCC: coil/output byte
}

// Key identifies one output within a controller's address space.
type Key struct {
	Channel uint32
	Address int64
}

// Output is a single commandable accessory, created on first consumer
// and destroyed when the last one releases it (spec.md §3 lifecycle).
type Output struct {
	mu      sync.Mutex
	key     Key
	typ     Type
	value   Value
	usedBy  map[any]struct{}
	onValue func(Key, Value)
}

func newOutput(key Key, typ Type, onValue func(Key, Value)) *Output {
	return &Output{key: key, typ: typ, usedBy: map[any]struct{}{}, onValue: onValue}
}

func (o *Output) Key() Key   { return o.key }
func (o *Output) Type() Type { return o.typ }

func (o *Output) Value() Value {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

// valid reports whether v typechecks against o's Type (spec.md §4.4
// "invalid combinations return false without side effects").
func valid(typ Type, v Value) bool { return v.Type == typ }

// setValue pushes a new value iff it typechecks, firing onValue iff it
// actually changed. Returns false without side effects on type
// mismatch (out-of-range/invalid value, spec.md §7).
func (o *Output) setValue(v Value) bool {
	o.mu.Lock()
	if !valid(o.typ, v) {
		o.mu.Unlock()
		return false
	}
	changed := o.value != v
	o.value = v
	o.mu.Unlock()
	if changed && o.onValue != nil {
		o.onValue(o.key, v)
	}
	return true
}

func (o *Output) addConsumer(consumer any) {
	o.mu.Lock()
	o.usedBy[consumer] = struct{}{}
	o.mu.Unlock()
}

func (o *Output) release(consumer any) bool {
	o.mu.Lock()
	delete(o.usedBy, consumer)
	empty := len(o.usedBy) == 0
	o.mu.Unlock()
	return empty
}

// Registry is the per-controller address-space-validated table of
// materialized Outputs, keyed by (channel, address).
type Registry struct {
	mu      sync.Mutex
	entries map[Key]*Output
	monitor map[uint32][]func(Key, Value, bool)
}

func NewRegistry() *Registry {
	return &Registry{entries: map[Key]*Output{}, monitor: map[uint32][]func(Key, Value, bool){}}
}

// Get materializes (or returns the existing) Output for key at typ,
// binding consumer to it.
func (r *Registry) Get(key Key, typ Type, consumer any) *Output {
	r.mu.Lock()
	defer r.mu.Unlock()
	out, ok := r.entries[key]
	if !ok {
		out = newOutput(key, typ, r.notifyValue)
		r.entries[key] = out
	}
	out.addConsumer(consumer)
	r.notifyUsed(key, true)
	return out
}

func (r *Registry) Release(key Key, consumer any) {
	r.mu.Lock()
	out, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	empty := out.release(consumer)
	if empty {
		delete(r.entries, key)
	}
	r.mu.Unlock()
	if empty {
		r.notifyUsed(key, false)
	}
}

// SetValue is the controller-facing mutator a Kernel command handler
// calls after a device acknowledges (or, for non-echoing protocols,
// optimistically) — it never originates from the kernel's IO thread
// directly, only via EventLoop.Call.
func (r *Registry) SetValue(key Key, v Value) bool {
	r.mu.Lock()
	out, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return out.setValue(v)
}

func (r *Registry) Lookup(key Key) (*Output, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out, ok := r.entries[key]
	return out, ok
}

func (r *Registry) Snapshot(channel uint32) map[Key]Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[Key]Value{}
	for k, o := range r.entries {
		if k.Channel == channel {
			out[k] = o.Value()
		}
	}
	return out
}

func (r *Registry) Subscribe(channel uint32, fn func(Key, Value, bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitor[channel] = append(r.monitor[channel], fn)
}

func (r *Registry) notifyValue(key Key, v Value) {
	r.mu.Lock()
	fns := append([]func(Key, Value, bool){}, r.monitor[key.Channel]...)
	r.mu.Unlock()
	for _, fn := range fns {
		fn(key, v, true)
	}
}

func (r *Registry) notifyUsed(key Key, used bool) {
	r.mu.Lock()
	fns := append([]func(Key, Value, bool){}, r.monitor[key.Channel]...)
	r.mu.Unlock()
	for _, fn := range fns {
		fn(key, Value{}, used)
	}
}

// Keyboard is an ephemeral read-only view of one channel's output
// address space, the OutputController analogue of input.Monitor
// (spec.md §3 OutputKeyboard).
type Keyboard struct {
	channel uint32
	events  chan KeyboardEvent
}

type KeyboardEvent struct {
	Key   Key
	Value Value
	Used  bool
}

// NewKeyboard replays the current snapshot in ascending-address order
// (map iteration order is unspecified) and then streams live changes —
// the OutputController analogue of input.NewMonitor's replay ordering.
func NewKeyboard(reg *Registry, channel uint32) *Keyboard {
	k := &Keyboard{channel: channel, events: make(chan KeyboardEvent, 256)}
	snap := reg.Snapshot(channel)
	byAddr := make(map[int64]Key, len(snap))
	for _, key := range maps.Keys(snap) {
		byAddr[key.Address] = key
	}
	addrs := maps.Keys(byAddr)
	slices.Sort(addrs)
	for _, a := range addrs {
		key := byAddr[a]
		k.events <- KeyboardEvent{Key: key, Value: snap[key], Used: true}
	}
	reg.Subscribe(channel, func(key Key, v Value, used bool) {
		select {
		case k.events <- KeyboardEvent{Key: key, Value: v, Used: used}:
		default:
		}
	})
	return k
}

func (k *Keyboard) Events() <-chan KeyboardEvent { return k.events }
