// Package input models one reported-sensor bit and the registry that
// owns every input address a controller has materialized (spec.md §3
// Input, §4.4 InputController).
package input

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// TriState is a sensor reading: spec.md's {undefined,false,true}.
type TriState int

const (
	Undefined TriState = iota
	False
	True
)

// Key identifies one input within a controller's address space.
type Key struct {
	Channel uint32
	Address int64
}

// Input is a single sensor bit, created on first consumer and
// destroyed when the last one releases it (spec.md §3 lifecycle).
type Input struct {
	mu       sync.Mutex
	key      Key
	value    TriState
	usedBy   map[any]struct{}
	onValue  func(Key, TriState)
	onUnused func(Key)
}

func newInput(key Key, onValue func(Key, TriState), onUnused func(Key)) *Input {
	return &Input{key: key, value: Undefined, usedBy: map[any]struct{}{}, onValue: onValue, onUnused: onUnused}
}

func (in *Input) Key() Key { return in.key }

func (in *Input) Value() TriState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.value
}

// setValue pushes a new reading, firing onValue iff it actually
// changed (spec.md §4.4 updateInputValue).
func (in *Input) setValue(v TriState) bool {
	in.mu.Lock()
	changed := in.value != v
	in.value = v
	in.mu.Unlock()
	if changed && in.onValue != nil {
		in.onValue(in.key, v)
	}
	return changed
}

func (in *Input) addConsumer(consumer any) {
	in.mu.Lock()
	in.usedBy[consumer] = struct{}{}
	in.mu.Unlock()
}

// release removes consumer and reports whether the input is now
// unused (no remaining consumers).
func (in *Input) release(consumer any) bool {
	in.mu.Lock()
	delete(in.usedBy, consumer)
	empty := len(in.usedBy) == 0
	in.mu.Unlock()
	return empty
}

func (in *Input) consumerCount() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.usedBy)
}

// Registry is the per-controller address-space-validated table of
// materialized Inputs, keyed by (channel, address) (spec.md §3
// uniqueness invariant).
type Registry struct {
	mu      sync.Mutex
	entries map[Key]*Input
	monitor map[uint32][]func(Key, TriState, bool)
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[Key]*Input{}, monitor: map[uint32][]func(Key, TriState, bool){}}
}

// Get materializes (or returns the existing) Input for key, binding
// consumer to it. The caller is responsible for address-range
// validation before calling Get (spec.md §8.6 — out-of-range requests
// never reach the registry).
func (r *Registry) Get(key Key, consumer any) *Input {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.entries[key]
	if !ok {
		in = newInput(key, r.notifyValue, r.notifyDestroyed)
		r.entries[key] = in
	}
	in.addConsumer(consumer)
	r.notifyUsed(key, true)
	return in
}

// Release removes consumer's binding to key; if no consumer remains
// the Input is destroyed and monitors are told the address is unused.
func (r *Registry) Release(key Key, consumer any) {
	r.mu.Lock()
	in, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	empty := in.release(consumer)
	if empty {
		delete(r.entries, key)
	}
	r.mu.Unlock()
	if empty {
		r.notifyUsed(key, false)
	}
}

// Lookup returns key's current value without materializing it,
// reporting false if no consumer currently holds it — used by
// InputController.SimulateInputChange's toggle action to read the
// value it's about to flip.
func (r *Registry) Lookup(key Key) (TriState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.entries[key]
	if !ok {
		return Undefined, false
	}
	return in.Value(), true
}

// UpdateValue is called by a Kernel (already on the event-loop thread)
// to push a sensor reading into the domain (spec.md §4.4).
func (r *Registry) UpdateValue(key Key, v TriState) {
	r.mu.Lock()
	in, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return
	}
	in.setValue(v)
}

// Snapshot returns every currently-materialized (key, value) pair on
// channel, for InputMonitor replay.
func (r *Registry) Snapshot(channel uint32) map[Key]TriState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[Key]TriState{}
	for k, in := range r.entries {
		if k.Channel == channel {
			out[k] = in.Value()
		}
	}
	return out
}

// Subscribe registers fn to receive (key, value, used) notifications
// for channel; this is the backing mechanism for an ephemeral
// InputMonitor (spec.md §3).
func (r *Registry) Subscribe(channel uint32, fn func(Key, TriState, bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitor[channel] = append(r.monitor[channel], fn)
}

func (r *Registry) notifyValue(key Key, v TriState) {
	r.mu.Lock()
	fns := append([]func(Key, TriState, bool){}, r.monitor[key.Channel]...)
	r.mu.Unlock()
	for _, fn := range fns {
		fn(key, v, true)
	}
}

func (r *Registry) notifyDestroyed(key Key) {
	r.notifyUsed(key, false)
}

func (r *Registry) notifyUsed(key Key, used bool) {
	r.mu.Lock()
	fns := append([]func(Key, TriState, bool){}, r.monitor[key.Channel]...)
	r.mu.Unlock()
	v := Undefined
	for _, fn := range fns {
		fn(key, v, used)
	}
}

// Monitor is an ephemeral read-only view of one channel's address
// space, held by at most one session at a time (spec.md §3
// InputMonitor).
type Monitor struct {
	channel uint32
	reg     *Registry
	events  chan Event
}

// Event is one live notification delivered to a Monitor.
type Event struct {
	Key   Key
	Value TriState
	Used  bool
}

// NewMonitor replays the current snapshot onto the returned channel's
// buffer (as Used events), in ascending-address order, and then
// streams live changes. Map iteration order is unspecified, so the
// replay sorts the snapshot's addresses before emitting.
func NewMonitor(reg *Registry, channel uint32) *Monitor {
	m := &Monitor{channel: channel, reg: reg, events: make(chan Event, 256)}
	snap := reg.Snapshot(channel)
	byAddr := make(map[int64]Key, len(snap))
	for _, k := range maps.Keys(snap) {
		byAddr[k.Address] = k
	}
	addrs := maps.Keys(byAddr)
	slices.Sort(addrs)
	for _, a := range addrs {
		k := byAddr[a]
		m.events <- Event{Key: k, Value: snap[k], Used: true}
	}
	reg.Subscribe(channel, func(k Key, v TriState, used bool) {
		select {
		case m.events <- Event{Key: k, Value: v, Used: used}:
		default:
		}
	})
	return m
}

func (m *Monitor) Events() <-chan Event { return m.events }
