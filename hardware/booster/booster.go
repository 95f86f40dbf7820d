// Package booster implements the small telemetry object
// original_source/server/src/hardware/booster/drivers/* models: a
// booster's reported load and temperature, surfaced only over the
// protocols that actually carry it in this module (Z21
// LAN_SYSTEMSTATE_DATACHANGED and ECoS's BoosterManager object); no
// other kernel has an attach function here.
package booster

import (
	"sync"

	"github.com/traintastic-go/hwcore/hwerr"
)

// Value is the telemetry snapshot a booster reports.
type Value struct {
	CurrentMA    int
	TemperatureC int
}

// ErrUnsupported is the error value for a protocol that does not carry
// booster telemetry in this module. No function in this package
// returns it; only AttachZ21 and AttachECoS exist.
var ErrUnsupported = hwerr.New(hwerr.KindLogic, hwerr.CodeUnsupported, "booster.attach", "protocol does not report booster telemetry")

// Controller is the domain object a protocol's telemetry hook reports
// into and application code reads/subscribes to, mirroring the
// sink/source split the rest of hardware/ uses for input and output.
type Controller struct {
	mu        sync.Mutex
	value     Value
	listeners []func(Value)
}

func New() *Controller { return &Controller{} }

// Value returns the last reported telemetry snapshot.
func (c *Controller) Value() Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Subscribe registers fn to be called on every Report.
func (c *Controller) Subscribe(fn func(Value)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Report is called by a protocol kernel's telemetry hook.
func (c *Controller) Report(v Value) {
	c.mu.Lock()
	c.value = v
	listeners := append([]func(Value){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(v)
	}
}

// AttachZ21 returns the func Z21's Hooks.SystemState should be set to,
// routing LAN_SYSTEMSTATE_DATACHANGED fields into c.
func AttachZ21(c *Controller) func(mainCurrentMA int, temperatureC int) {
	return func(mainCurrentMA, temperatureC int) {
		c.Report(Value{CurrentMA: mainCurrentMA, TemperatureC: temperatureC})
	}
}

// AttachECoS returns the func ECoS's Hooks.BoosterChanged should be
// set to, routing BoosterManager object fields into c.
func AttachECoS(c *Controller) func(currentMA int, temperatureC int) {
	return func(currentMA, temperatureC int) {
		c.Report(Value{CurrentMA: currentMA, TemperatureC: temperatureC})
	}
}
