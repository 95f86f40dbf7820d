package iface

import (
	"fmt"
	"strconv"

	"github.com/google/shlex"

	"github.com/traintastic-go/hwcore/hardware/iohandler"
	"github.com/traintastic-go/hwcore/hwerr"
)

// TransportConfig is the parsed, typed result of a transport DSN
// string — spec.md §3's "transport config (serial device+baud+flow /
// host+port / bus)" tuple, before it becomes a concrete
// iohandler.SerialConfig/TCPConfig/UDPConfig. Exactly one of Serial,
// TCP, UDP is non-nil.
type TransportConfig struct {
	Serial *iohandler.SerialConfig
	TCP    *iohandler.TCPConfig
	UDP    *iohandler.UDPConfig
}

// ParseTransportDSN tokenizes a shell-like transport descriptor with
// github.com/google/shlex (so a device path or host can be quoted if
// it contains whitespace) and decodes it into a TransportConfig.
//
// Supported forms:
//
//	serial path=/dev/ttyUSB0 baud=19200 [flow=rtscts]
//	tcp host=192.168.0.111 port=5550
//	udp host=192.168.0.111 port=21105
//
// This is the one place in the module that parses a human-authored
// transport string; cmd/hwserver's literal Go config bypasses it
// entirely (spec.md's Non-goals exclude a config-file surface), but
// any future settings UI/persistence layer (out of scope here) would
// call this to turn a stored DSN into a concrete handler config.
func ParseTransportDSN(dsn string) (TransportConfig, error) {
	const op = "ParseTransportDSN"

	tokens, err := shlex.Split(dsn)
	if err != nil {
		return TransportConfig{}, hwerr.Wrap(hwerr.KindConfig, hwerr.CodeBadHostname, op, fmt.Errorf("tokenize %q: %w", dsn, err))
	}
	if len(tokens) == 0 {
		return TransportConfig{}, hwerr.New(hwerr.KindConfig, hwerr.CodeBadHostname, op, "empty transport config")
	}

	kind := tokens[0]
	fields := map[string]string{}
	for _, tok := range tokens[1:] {
		k, v, ok := splitKV(tok)
		if !ok {
			return TransportConfig{}, hwerr.New(hwerr.KindConfig, hwerr.CodeBadHostname, op, fmt.Sprintf("malformed field %q (want key=value)", tok))
		}
		fields[k] = v
	}

	switch kind {
	case "serial":
		path, ok := fields["path"]
		if !ok {
			return TransportConfig{}, missingField(op, "serial", "path")
		}
		baudStr, ok := fields["baud"]
		if !ok {
			return TransportConfig{}, missingField(op, "serial", "baud")
		}
		baud, err := strconv.Atoi(baudStr)
		if err != nil {
			return TransportConfig{}, hwerr.New(hwerr.KindConfig, hwerr.CodeBadBaudRate, op, fmt.Sprintf("baud %q: %s", baudStr, err))
		}
		flow := iohandler.FlowNone
		if fields["flow"] == "rtscts" {
			flow = iohandler.FlowRTSCTS
		}
		return TransportConfig{Serial: &iohandler.SerialConfig{Device: path, Baud: baud, Flow: flow}}, nil

	case "tcp":
		host, port, err := hostPort(op, fields)
		if err != nil {
			return TransportConfig{}, err
		}
		return TransportConfig{TCP: &iohandler.TCPConfig{Host: host, Port: port}}, nil

	case "udp":
		host, port, err := hostPort(op, fields)
		if err != nil {
			return TransportConfig{}, err
		}
		return TransportConfig{UDP: &iohandler.UDPConfig{Host: host, Port: port}}, nil

	default:
		return TransportConfig{}, hwerr.New(hwerr.KindConfig, hwerr.CodeBadHostname, op, fmt.Sprintf("unknown transport kind %q", kind))
	}
}

func hostPort(op string, fields map[string]string) (string, int, error) {
	host, ok := fields["host"]
	if !ok {
		return "", 0, missingField(op, "tcp/udp", "host")
	}
	portStr, ok := fields["port"]
	if !ok {
		return "", 0, missingField(op, "tcp/udp", "port")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, hwerr.New(hwerr.KindConfig, hwerr.CodeBadHostname, op, fmt.Sprintf("port %q: %s", portStr, err))
	}
	return host, port, nil
}

func missingField(op, kind, field string) error {
	return hwerr.New(hwerr.KindConfig, hwerr.CodeBadHostname, op, fmt.Sprintf("%s transport missing %q", kind, field))
}

func splitKV(tok string) (key, value string, ok bool) {
	for i := 0; i < len(tok); i++ {
		if tok[i] == '=' {
			return tok[:i], tok[i+1:], true
		}
	}
	return "", "", false
}
