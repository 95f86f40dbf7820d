package iohandler

import (
	"fmt"

	serial "github.com/daedaluz/goserial"
)

// FlowControl selects the serial line's hardware flow control, per
// spec.md §6's serial device+baud+flow transport config.
type FlowControl int

const (
	FlowNone FlowControl = iota
	FlowRTSCTS
)

// SerialConfig names a physical serial transport: device path, baud
// rate, and flow control, exactly the tuple spec.md §3's Interface
// "transport config" names for serial interfaces.
type SerialConfig struct {
	Device string
	Baud   int
	Flow   FlowControl
}

// OpenSerial opens cfg.Device with goserial, configures raw mode and
// baud via Termios2/SetAttr2 (the only way to set arbitrary baud rates
// on Linux), and returns a Handler that frames reads with split.
func OpenSerial(cfg SerialConfig, split FrameSplitter, sink Sink, sendQueueSize int) (Handler, error) {
	opts := serial.NewOptions()
	port, err := serial.Open(cfg.Device, opts)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Device, err)
	}
	attrs, err := port.GetAttr2()
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("get termios2 %s: %w", cfg.Device, err)
	}
	attrs.MakeRaw()
	attrs.SetCustomSpeed(uint32(cfg.Baud))
	if cfg.Flow == FlowRTSCTS {
		attrs.Cflag |= serial.CRTSCTS
	}
	if err := port.SetAttr2(serial.TCSANOW, attrs); err != nil {
		port.Close()
		return nil, fmt.Errorf("set termios2 %s: %w", cfg.Device, err)
	}
	return NewStreamHandler(port, split, sink, sendQueueSize), nil
}
