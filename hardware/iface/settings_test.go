package iface

import (
	"testing"

	"github.com/traintastic-go/hwcore/hardware/iohandler"
	"github.com/traintastic-go/hwcore/hwerr"
)

func TestParseTransportDSNSerial(t *testing.T) {
	cfg, err := ParseTransportDSN("serial path=/dev/ttyUSB0 baud=19200 flow=rtscts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := iohandler.SerialConfig{Device: "/dev/ttyUSB0", Baud: 19200, Flow: iohandler.FlowRTSCTS}
	if cfg.Serial == nil || *cfg.Serial != want {
		t.Fatalf("got %+v, want %+v", cfg.Serial, want)
	}
	if cfg.TCP != nil || cfg.UDP != nil {
		t.Fatalf("expected only Serial set, got %+v", cfg)
	}
}

func TestParseTransportDSNSerialDefaultFlow(t *testing.T) {
	cfg, err := ParseTransportDSN("serial path=/dev/ttyS0 baud=9600")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Serial.Flow != iohandler.FlowNone {
		t.Fatalf("expected default flow none, got %v", cfg.Serial.Flow)
	}
}

func TestParseTransportDSNQuotedPath(t *testing.T) {
	cfg, err := ParseTransportDSN(`serial "path=/dev/tty with space" baud=19200`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Serial.Device != "/dev/tty with space" {
		t.Fatalf("got device %q", cfg.Serial.Device)
	}
}

func TestParseTransportDSNTCP(t *testing.T) {
	cfg, err := ParseTransportDSN("tcp host=192.168.0.111 port=5550")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := iohandler.TCPConfig{Host: "192.168.0.111", Port: 5550}
	if cfg.TCP == nil || *cfg.TCP != want {
		t.Fatalf("got %+v, want %+v", cfg.TCP, want)
	}
}

func TestParseTransportDSNUDP(t *testing.T) {
	cfg, err := ParseTransportDSN("udp host=192.168.0.111 port=21105")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := iohandler.UDPConfig{Host: "192.168.0.111", Port: 21105}
	if cfg.UDP == nil || *cfg.UDP != want {
		t.Fatalf("got %+v, want %+v", cfg.UDP, want)
	}
}

func TestParseTransportDSNErrors(t *testing.T) {
	cases := []string{
		"",
		"serial path=/dev/ttyUSB0",       // missing baud
		"serial baud=19200",              // missing path
		"tcp host=192.168.0.111",         // missing port
		"tcp port=5550",                  // missing host
		"serial path=/dev/ttyUSB0 baud=fast",
		"rs485 host=192.168.0.111 port=1", // unknown kind
		"serial path_without_equals",
	}
	for _, dsn := range cases {
		if _, err := ParseTransportDSN(dsn); err == nil {
			t.Errorf("ParseTransportDSN(%q): expected error, got nil", dsn)
		} else if hwerr.KindOf(err) != hwerr.KindConfig {
			t.Errorf("ParseTransportDSN(%q): expected KindConfig, got %v", dsn, hwerr.KindOf(err))
		}
	}
}
