// Package controller implements the five controller mixins spec.md
// §4.4 names: DecoderController, InputController, OutputController,
// IdentificationController, and LNCVProgrammingController. Each wraps
// the matching hardware/* registry and forwards domain mutations to a
// kernel-supplied sink, and kernel-reported readings back into the
// registry — the single seam where cross-thread hand-off (I/O thread
// -> event-loop thread, and back) happens for every protocol
// (spec.md §5).
package controller

import (
	"fmt"
	"math"

	"github.com/traintastic-go/hwcore/hardware/decoder"
	"github.com/traintastic-go/hwcore/hardware/identification"
	"github.com/traintastic-go/hwcore/hardware/input"
	"github.com/traintastic-go/hwcore/hardware/output"
	"github.com/traintastic-go/hwcore/hwerr"
)

// DecoderKernel is the subset of a protocol Kernel a DecoderController
// needs: every kernel (loconet, xpressnet, z21, dccex, ecos,
// marklincan, selectrix, traintasticdiy, withrottle) implements this.
type DecoderKernel interface {
	DecoderChanged(d *decoder.Decoder, flags decoder.ChangeFlags, functionNumber int)
}

// OutputKernel is the subset of a protocol Kernel an OutputController
// needs. loconet, xpressnet, z21, dccex, ecos, selectrix and
// traintasticdiy share this exact shape; marklincan and withrottle use
// protocol-native addressing (UID / no accessory model respectively)
// and are wired directly by the Interface layer instead (DESIGN.md).
type OutputKernel interface {
	SetOutput(address int64, v output.Value)
}

// InputKernel is the subset of a protocol Kernel an InputController
// needs to forward simulateInputChange to. loconet, xpressnet, dccex,
// selectrix and traintasticdiy share this exact (address int64,
// setTrue bool) shape; ecos (object-id addressed feedback) and
// marklincan (uint32 addressing) don't, and are wired directly by the
// Interface layer instead, same scoping rule as OutputKernel above.
type InputKernel interface {
	SimulateInputChange(address int64, setTrue bool)
}

// DecoderProtocolSupport names one decoder protocol a controller's
// underlying hardware supports: its inclusive address range and its
// allowed speed-step counts (spec.md §4.4 decoderAddressMinMax /
// decoderSpeedSteps). ProtocolMFX (and any protocol without an address
// space) should omit MinAddr/MaxAddr — DecoderAddressMinMax always
// returns the {max,0} sentinel spec.md names for those regardless of
// what's set here.
type DecoderProtocolSupport struct {
	Protocol   decoder.Protocol
	MinAddr    int64
	MaxAddr    int64
	SpeedSteps []decoder.SpeedSteps
}

// DecoderController owns the address-space of locomotive decoders for
// one Interface (spec.md §4.4). AddDecoder validates protocol support,
// address range and speed-step count before touching the kernel.
type DecoderController struct {
	kernel    DecoderKernel
	decoders  map[decoder.Key]*decoder.Decoder
	protocols map[decoder.Protocol]DecoderProtocolSupport
	order     []decoder.Protocol
}

// NewDecoderController builds a DecoderController that supports
// exactly the protocols listed, each with its own address range and
// allowed speed-step set.
func NewDecoderController(kernel DecoderKernel, protocols []DecoderProtocolSupport) *DecoderController {
	byProtocol := make(map[decoder.Protocol]DecoderProtocolSupport, len(protocols))
	order := make([]decoder.Protocol, 0, len(protocols))
	for _, p := range protocols {
		byProtocol[p.Protocol] = p
		order = append(order, p.Protocol)
	}
	return &DecoderController{
		kernel:    kernel,
		decoders:  map[decoder.Key]*decoder.Decoder{},
		protocols: byProtocol,
		order:     order,
	}
}

// DecoderProtocols enumerates which protocols this controller's
// underlying hardware supports (spec.md §4.4 decoderProtocols).
func (c *DecoderController) DecoderProtocols() []decoder.Protocol {
	out := make([]decoder.Protocol, len(c.order))
	copy(out, c.order)
	return out
}

// DecoderAddressMinMax returns the inclusive valid address range for
// protocol. MFX, and any protocol this controller doesn't support,
// return {max, 0} (spec.md §4.4: "MFX/None return {max, 0} to signal
// 'no address, use UID'").
func (c *DecoderController) DecoderAddressMinMax(protocol decoder.Protocol) (min, max int64) {
	if protocol == decoder.ProtocolMFX {
		return math.MaxInt64, 0
	}
	p, ok := c.protocols[protocol]
	if !ok {
		return math.MaxInt64, 0
	}
	return p.MinAddr, p.MaxAddr
}

// DecoderSpeedSteps returns the allowed step counts for protocol
// (spec.md §4.4 decoderSpeedSteps); nil for an unsupported protocol.
func (c *DecoderController) DecoderSpeedSteps(protocol decoder.Protocol) []decoder.SpeedSteps {
	steps := c.protocols[protocol].SpeedSteps
	out := make([]decoder.SpeedSteps, len(steps))
	copy(out, steps)
	return out
}

func (c *DecoderController) supportsSteps(protocol decoder.Protocol, steps decoder.SpeedSteps) bool {
	for _, s := range c.protocols[protocol].SpeedSteps {
		if s == steps {
			return true
		}
	}
	return false
}

// AddDecoder materializes a Decoder for key, wiring its onChange
// callback straight to the kernel (spec.md §8.6 out-of-range check;
// spec.md §3 invariant "speedSteps ∈ allowed set for protocol").
func (c *DecoderController) AddDecoder(key decoder.Key, steps decoder.SpeedSteps) (*decoder.Decoder, error) {
	p, supported := c.protocols[key.Protocol]
	if !supported {
		return nil, hwerr.New(hwerr.KindConfig, hwerr.CodeUnsupported, "decoder_controller.add_decoder",
			fmt.Sprintf("protocol %s not supported", key.Protocol))
	}
	if key.Protocol != decoder.ProtocolMFX {
		addr := int64(key.Address)
		if addr < p.MinAddr || addr > p.MaxAddr {
			return nil, hwerr.OutOfRange("decoder_controller.add_decoder", addr, p.MinAddr, p.MaxAddr)
		}
	}
	if !c.supportsSteps(key.Protocol, steps) {
		return nil, hwerr.New(hwerr.KindConfig, hwerr.CodeUnsupported, "decoder_controller.add_decoder",
			fmt.Sprintf("speed steps %d not supported for %s", steps, key.Protocol))
	}
	if d, ok := c.decoders[key]; ok {
		return d, nil
	}
	var d *decoder.Decoder
	d = decoder.New(key, steps, func(flags decoder.ChangeFlags, fn int) {
		c.kernel.DecoderChanged(d, flags, fn)
	})
	c.decoders[key] = d
	return d, nil
}

// SetSpeedSteps validates steps against DecoderSpeedSteps(d's
// protocol) before applying it (spec.md §3 invariant: "speedSteps ∈
// allowed set for protocol"). Returns false without mutating d if
// steps isn't in the allowed set.
func (c *DecoderController) SetSpeedSteps(d *decoder.Decoder, steps decoder.SpeedSteps) bool {
	if !c.supportsSteps(d.Key.Protocol, steps) {
		return false
	}
	d.SetSpeedSteps(steps)
	return true
}

func (c *DecoderController) GetDecoder(key decoder.Key) (*decoder.Decoder, bool) {
	d, ok := c.decoders[key]
	return d, ok
}

func (c *DecoderController) RemoveDecoder(key decoder.Key) {
	delete(c.decoders, key)
}

// EachDecoder implements kernel.DecoderSource (spec.md §4.3 point 4).
func (c *DecoderController) EachDecoder(fn func(*decoder.Decoder)) {
	for _, d := range c.decoders {
		fn(d)
	}
}

// InputChannel names one channel of an InputController's address
// space (spec.md §4.4 isInputChannel / inputAddressMinMax).
type InputChannel struct {
	Channel uint32
	MinAddr int64
	MaxAddr int64
}

// InputController owns the address-space of reported sensors for one
// Interface (spec.md §4.4). UpdateInputValue is the kernel-facing
// entry point, called after the kernel has already hopped onto the
// event-loop thread via runtime.EventLoop.Call.
type InputController struct {
	Registry *input.Registry
	kernel   InputKernel
	channels map[uint32]InputChannel
}

// NewInputController builds an InputController supporting exactly the
// channels listed. kernel may be nil for protocols whose simulated
// input injection is wired directly by the Interface layer instead
// (InputKernel's doc comment).
func NewInputController(kernel InputKernel, channels []InputChannel) *InputController {
	byChannel := make(map[uint32]InputChannel, len(channels))
	for _, ch := range channels {
		byChannel[ch.Channel] = ch
	}
	return &InputController{Registry: input.NewRegistry(), kernel: kernel, channels: byChannel}
}

// IsInputChannel reports whether channel is one of this controller's
// supported channels (spec.md §4.4 isInputChannel).
func (c *InputController) IsInputChannel(channel uint32) bool {
	_, ok := c.channels[channel]
	return ok
}

// InputAddressMinMax returns the inclusive valid address range for
// channel (spec.md §4.4 inputAddressMinMax); an unsupported channel
// returns an empty range (min > max).
func (c *InputController) InputAddressMinMax(channel uint32) (min, max int64) {
	ch, ok := c.channels[channel]
	if !ok {
		return 0, -1
	}
	return ch.MinAddr, ch.MaxAddr
}

func (c *InputController) GetInput(key input.Key, consumer any) (*input.Input, error) {
	ch, ok := c.channels[key.Channel]
	if !ok || key.Address < ch.MinAddr || key.Address > ch.MaxAddr {
		return nil, hwerr.OutOfRange("input_controller.get_input", key.Address, ch.MinAddr, ch.MaxAddr)
	}
	return c.Registry.Get(key, consumer), nil
}

func (c *InputController) ReleaseInput(key input.Key, consumer any) { c.Registry.Release(key, consumer) }

// UpdateInputValue is the kernel->domain path (spec.md §4.4
// updateInputValue): idempotent, only notifies on an actual change.
func (c *InputController) UpdateInputValue(key input.Key, v input.TriState) {
	c.Registry.UpdateValue(key, v)
}

// InputMonitor returns an ephemeral view of channel's address space
// (spec.md §3 InputMonitor, §4.4 inputMonitor): it replays the current
// snapshot, then streams live used/value-changed events. spec.md calls
// this "weak-cached"; this controller returns a fresh Monitor per call
// rather than caching an identity-shared instance keyed by channel —
// every caller still observes the same registry state and the "held
// by at most one session at a time" invariant is the session layer's
// (out of scope here) to enforce, not this package's.
func (c *InputController) InputMonitor(channel uint32) *input.Monitor {
	return input.NewMonitor(c.Registry, channel)
}

// SimulateAction selects how SimulateInputChange flips an address
// (spec.md §4.4: "action∈{setTrue,setFalse,toggle}").
type SimulateAction int

const (
	SimulateSetTrue SimulateAction = iota
	SimulateSetFalse
	SimulateToggle
)

// SimulateInputChange forwards a simulated sensor change to the
// kernel (spec.md §4.4 simulateInputChange), allowed only when a
// kernel capable of it is wired (i.e. the interface is in simulation
// mode). SimulateToggle reads the input's current registry value to
// decide which way to flip it; an address with no materialized Input
// yet toggles to true. Returns false if no InputKernel is wired.
func (c *InputController) SimulateInputChange(key input.Key, action SimulateAction) bool {
	if c.kernel == nil {
		return false
	}
	setTrue := action == SimulateSetTrue
	if action == SimulateToggle {
		cur, _ := c.Registry.Lookup(key)
		setTrue = cur != input.True
	}
	c.kernel.SimulateInputChange(key.Address, setTrue)
	return true
}

// OutputController owns the address-space of commandable accessories
// for one Interface (spec.md §4.4).
type OutputController struct {
	Registry *output.Registry
	kernel   OutputKernel
	minAddr  int64
	maxAddr  int64
}

func NewOutputController(kernel OutputKernel, minAddr, maxAddr int64) *OutputController {
	return &OutputController{Registry: output.NewRegistry(), kernel: kernel, minAddr: minAddr, maxAddr: maxAddr}
}

func (c *OutputController) GetOutput(key output.Key, typ output.Type, consumer any) (*output.Output, error) {
	if key.Address < c.minAddr || key.Address > c.maxAddr {
		return nil, hwerr.OutOfRange("output_controller.get_output", key.Address, c.minAddr, c.maxAddr)
	}
	return c.Registry.Get(key, typ, consumer), nil
}

func (c *OutputController) ReleaseOutput(key output.Key, consumer any) {
	c.Registry.Release(key, consumer)
}

// SetOutput validates the value against the output's declared Type,
// then forwards it to the kernel — the domain never writes Registry
// state directly; the kernel's own SetValue call (after it decides the
// command "took", optimistically or on acknowledgement) is what
// actually mutates it (spec.md §4.4).
func (c *OutputController) SetOutput(key output.Key, v output.Value) bool {
	out, ok := c.Registry.Lookup(key)
	if !ok || out.Type() != v.Type {
		return false
	}
	c.kernel.SetOutput(key.Address, v)
	return true
}

// OutputKeyboard returns an ephemeral view of channel's output address
// space (spec.md §3 OutputKeyboard, §4.4 outputKeyboard) — the
// OutputController analogue of InputController.InputMonitor, same
// fresh-instance-per-call scoping note.
func (c *OutputController) OutputKeyboard(channel uint32) *output.Keyboard {
	return output.NewKeyboard(c.Registry, channel)
}

// IdentificationController owns the address-space of RFID/RailCom
// sources for one Interface (spec.md §4.4).
type IdentificationController struct {
	Registry *identification.Registry
	minAddr  int64
	maxAddr  int64
}

func NewIdentificationController(minAddr, maxAddr int64) *IdentificationController {
	return &IdentificationController{Registry: identification.NewRegistry(), minAddr: minAddr, maxAddr: maxAddr}
}

func (c *IdentificationController) GetIdentification(key identification.Key, consumer any) (*identification.Identification, error) {
	if key.Address < c.minAddr || key.Address > c.maxAddr {
		return nil, hwerr.OutOfRange("identification_controller.get_identification", key.Address, c.minAddr, c.maxAddr)
	}
	return c.Registry.Get(key, consumer), nil
}

func (c *IdentificationController) ReleaseIdentification(key identification.Key, consumer any) {
	c.Registry.Release(key, consumer)
}

// ReportIdentification is the kernel->domain path for a tag read or
// removal, called after the kernel has hopped onto the event-loop
// thread.
func (c *IdentificationController) ReportIdentification(e identification.Event) {
	c.Registry.Report(e)
}

// LNCVKernel is the subset of a protocol Kernel an
// LNCVProgrammingController needs. Only loconet implements this today
// (spec.md §4.3: "LNCV programming is a sub-state" of the LocoNet
// kernel); no other protocol in this module has an LNCV concept.
type LNCVKernel interface {
	StartLNCV(moduleID, moduleAddress uint16)
	StopLNCV()
	ReadLNCV(cv uint16)
	WriteLNCV(cv, value uint16)
}

// LNCVProgrammingController is spec.md §4.4's "same shape [as
// IdentificationController], scoped to their domain" mixin for LocoNet
// CV programming. Unlike the address-space controllers above it has no
// registry of its own: a programming session is exclusive (spec.md §3
// "held by at most one session at a time", the same rule
// InputMonitor/OutputKeyboard follow), so the controller just tracks
// whether a session is currently open and forwards read/write calls.
type LNCVProgrammingController struct {
	kernel LNCVKernel
	open   bool
}

func NewLNCVProgrammingController(kernel LNCVKernel) *LNCVProgrammingController {
	return &LNCVProgrammingController{kernel: kernel}
}

// Start opens a programming session for one module. Returns false if a
// session is already open — the caller must Stop it first.
func (c *LNCVProgrammingController) Start(moduleID, moduleAddress uint16) bool {
	if c.open {
		return false
	}
	c.open = true
	c.kernel.StartLNCV(moduleID, moduleAddress)
	return true
}

// Stop closes the current session, if any. Idempotent.
func (c *LNCVProgrammingController) Stop() {
	if !c.open {
		return
	}
	c.open = false
	c.kernel.StopLNCV()
}

// Read/Write are only meaningful while a session is open (spec.md
// §4.3); both silently no-op otherwise, reporting false so a caller
// knows the command was not sent.
func (c *LNCVProgrammingController) Read(cv uint16) bool {
	if !c.open {
		return false
	}
	c.kernel.ReadLNCV(cv)
	return true
}

func (c *LNCVProgrammingController) Write(cv, value uint16) bool {
	if !c.open {
		return false
	}
	c.kernel.WriteLNCV(cv, value)
	return true
}
