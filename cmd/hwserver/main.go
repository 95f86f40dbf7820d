// Command hwserver is a thin demonstration host: it builds a Runtime,
// loads a small, literal set of Interfaces, brings them online in
// simulation mode, and blocks until it receives a termination signal.
// It is deliberately not a CLI (spec.md's Non-goals) — configuration
// lives in this file, not in flags or a config format.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/traintastic-go/hwcore/hardware/booster"
	"github.com/traintastic-go/hwcore/hardware/controller"
	"github.com/traintastic-go/hwcore/hardware/decoder"
	"github.com/traintastic-go/hwcore/hardware/iface"
	"github.com/traintastic-go/hwcore/hardware/iohandler"
	base "github.com/traintastic-go/hwcore/hardware/kernel"
	"github.com/traintastic-go/hwcore/hardware/kernel/z21"
	"github.com/traintastic-go/hwcore/hardware/manager"
	"github.com/traintastic-go/hwcore/hardware/output"
	"github.com/traintastic-go/hwcore/runtime"
	"github.com/traintastic-go/hwcore/worldstate"
)

// Z21 address-space limits this demonstration host applies (spec.md
// §8.6): loco addresses 1-10239, turnout addresses 1-2047.
const (
	z21MinLocoAddr = 1
	z21MaxLocoAddr = 10239
	z21MinOutAddr  = 1
	z21MaxOutAddr  = 2047
)

// z21DecoderProtocols is the Z21 demonstration host's decoder address
// plan: short DCC addresses below 128, long DCC addresses up to
// z21MaxLocoAddr, each allowing the three step counts Z21 supports.
var z21DecoderProtocols = []controller.DecoderProtocolSupport{
	{Protocol: decoder.ProtocolDCCShort, MinAddr: z21MinLocoAddr, MaxAddr: 127, SpeedSteps: []decoder.SpeedSteps{14, 28, 128}},
	{Protocol: decoder.ProtocolDCCLong, MinAddr: 128, MaxAddr: z21MaxLocoAddr, SpeedSteps: []decoder.SpeedSteps{14, 28, 128}},
}

// z21InputChannels is the Z21 demonstration host's single feedback
// channel, spanning the same address range as its turnout outputs.
var z21InputChannels = []controller.InputChannel{
	{Channel: 0, MinAddr: z21MinOutAddr, MaxAddr: z21MaxOutAddr},
}

// decoderKernelFunc adapts a closure to controller.DecoderKernel, so
// the DecoderController can be built before the concrete *z21.Kernel
// it eventually forwards to exists.
type decoderKernelFunc func(*decoder.Decoder, decoder.ChangeFlags, int)

func (f decoderKernelFunc) DecoderChanged(d *decoder.Decoder, flags decoder.ChangeFlags, fn int) {
	f(d, flags, fn)
}

// outputKernelFunc is the same adapter for controller.OutputKernel.
type outputKernelFunc func(int64, output.Value)

func (f outputKernelFunc) SetOutput(address int64, v output.Value) { f(address, v) }

func main() {
	rt := runtime.New(runtime.Config{MemoryLogSize: 4096, EventQueueSize: 1024})
	world := worldstate.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Go(func() error { rt.Loop.Run(ctx); return nil })

	boost := booster.New()
	boost.Subscribe(func(v booster.Value) {
		rt.Log.Info("z21-0", "booster_telemetry", v.CurrentMA, v.TemperatureC)
	})

	// z21Kernel is resolved once z21Factory runs; the controllers are
	// built first and close over it indirectly through the adapters
	// above (spec.md §4.5: "setting the three controllers" happens as
	// part of bringing an Interface online).
	var z21Kernel *z21.Kernel
	decoders := controller.NewDecoderController(decoderKernelFunc(func(d *decoder.Decoder, flags decoder.ChangeFlags, fn int) {
		z21Kernel.DecoderChanged(d, flags, fn)
	}), z21DecoderProtocols)
	outputs := controller.NewOutputController(outputKernelFunc(func(address int64, v output.Value) {
		z21Kernel.SetOutput(address, v)
	}), z21MinOutAddr, z21MaxOutAddr)

	z21Factory := func(simulation bool, cb base.Callbacks) (iface.KernelHandle, error) {
		sink := &iohandler.DeferredSink{}
		var io iohandler.Handler
		if simulation {
			io = iohandler.NewSimHandler(z21.NewSimulator(), sink, iohandler.DefaultSendQueueSize)
		} else {
			var err error
			io, err = iohandler.OpenUDP(iohandler.UDPConfig{Host: "192.168.0.111", Port: 21105}, sink, iohandler.DefaultSendQueueSize)
			if err != nil {
				return nil, err
			}
		}
		cfg := z21.Config{Config: base.Config{LogID: "z21-0", Simulation: simulation}, SurfaceMainCurrent: true, SurfaceTemperature: true}
		k := z21.New(cfg, rt, world, cb, z21.Hooks{
			OutputChanged: func(address int64, v output.Value) {
				if out, ok := outputs.Registry.Lookup(output.Key{Address: address}); ok {
					outputs.Registry.SetValue(out.Key(), v)
				}
			},
			SystemState: booster.AttachZ21(boost),
		}, io, nil)
		k.Decoders = decoders
		sink.Target = k
		z21Kernel = k
		return k, nil
	}

	z21Interface := iface.New("z21-0", "z21-0", rt, world, z21Factory)

	// Supervisor keeps the interface online across transient failures,
	// retrying with backoff instead of leaving it stuck in Error
	// (spec.md's reconciliation-on-restart expectation).
	sup := manager.NewSupervisor(z21Interface, true)
	sup.OnState(func(s iface.Status, err error) {
		if err != nil {
			rt.Log.Error("z21-0", "status", s.String(), err)
			return
		}
		rt.Log.Info("z21-0", "status", s.String())
	})
	rt.Go(func() error { sup.Run(ctx); return nil })

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
	_ = rt.Wait()
}
