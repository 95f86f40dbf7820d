// Package z21 implements the Roco/Fleischmann Z21 kernel: a
// little-endian LAN header wrapping LAN_X (Lenz X-Bus) payloads over
// UDP, one datagram per frame (spec.md §4.3 "Z21" specialisation).
package z21

import (
	"encoding/binary"
	"fmt"
)

// LAN message type ids (little-endian on the wire).
const (
	LanGetSerialNumber      = 0x0010
	LanGetHardwareInfo      = 0x001A
	LanLogoff               = 0x0030
	LanX                    = 0x0040
	LanSetBroadcastFlags    = 0x0050
	LanSystemStateGetData   = 0x0085
	LanSystemStateDataChanged = 0x0084
)

// LAN_X X-Bus header bytes this kernel speaks.
const (
	XHeaderLocoDrive     = 0xE4
	XHeaderLocoInfo      = 0xEF
	XHeaderTurnoutInfo   = 0x43
	XHeaderSetTurnout    = 0x53
	XHeaderSetStop       = 0x80
	XHeaderBCStopped     = 0x81
	XHeaderGetVersion    = 0x21
	XHeaderTrackPowerOn  = 0x21 // data[0]==0x81
	XHeaderTrackPowerOff = 0x21 // data[0]==0x80
	XHeaderGetLocoInfo   = 0xE3
)

// BroadcastFlags is the constant bitmask Z21 requires at start to
// receive power/loco/turnout/system-state broadcasts (spec.md §4.3).
const BroadcastFlags uint32 = 0x00000001 | 0x00010000 | 0x00000100 | 0x00000001<<2

// XORChecksum computes LAN_X's trailing XOR byte over the X-Bus
// payload (header + data, not including the 4-byte LAN header).
func XORChecksum(xbus []byte) byte {
	var x byte
	for _, b := range xbus {
		x ^= b
	}
	return x
}

// wrapLANX wraps an X-Bus payload (header+data+checksum already
// appended) in the 4-byte little-endian LAN envelope.
func wrapLANX(xbus []byte) []byte {
	total := 4 + len(xbus)
	out := make([]byte, 4, total)
	binary.LittleEndian.PutUint16(out[0:2], uint16(total))
	binary.LittleEndian.PutUint16(out[2:4], LanX)
	return append(out, xbus...)
}

func finishXBus(b []byte) []byte { return wrapLANX(append(b, XORChecksum(b))) }

// wrapLAN wraps a non-X-Bus LAN message (no inner checksum) of type t.
func wrapLAN(t uint16, data []byte) []byte {
	total := 4 + len(data)
	out := make([]byte, 4, total)
	binary.LittleEndian.PutUint16(out[0:2], uint16(total))
	binary.LittleEndian.PutUint16(out[2:4], t)
	return append(out, data...)
}

// ParseEnvelope reads a datagram's self-declared length and type; ok
// is false if the declared length doesn't match the datagram's actual
// size (spec.md §4.1's "first two little-endian bytes carry its own
// length").
func ParseEnvelope(datagram []byte) (msgType uint16, payload []byte, ok bool) {
	if len(datagram) < 4 {
		return 0, nil, false
	}
	declared := binary.LittleEndian.Uint16(datagram[0:2])
	if int(declared) != len(datagram) {
		return 0, nil, false
	}
	return binary.LittleEndian.Uint16(datagram[2:4]), datagram[4:], true
}

// XBusValid verifies a LAN_X payload's trailing XOR checksum.
func XBusValid(xbus []byte) bool {
	if len(xbus) < 2 {
		return false
	}
	return XORChecksum(xbus[:len(xbus)-1]) == xbus[len(xbus)-1]
}

func Dump(datagram []byte) string { return fmt.Sprintf("% X", datagram) }

// BuildSetBroadcastFlags/BuildGetSerialNumber/BuildGetHardwareInfo/
// BuildSystemStateGetData are the priming requests a Z21 kernel issues
// at start (spec.md §4.3).
func BuildSetBroadcastFlags(flags uint32) []byte {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, flags)
	return wrapLAN(LanSetBroadcastFlags, data)
}

func BuildGetSerialNumber() []byte    { return wrapLAN(LanGetSerialNumber, nil) }
func BuildGetHardwareInfo() []byte    { return wrapLAN(LanGetHardwareInfo, nil) }
func BuildSystemStateGetData() []byte { return wrapLAN(LanSystemStateGetData, nil) }

func BuildTrackPowerOn() []byte  { return finishXBus([]byte{0x21, 0x81}) }
func BuildTrackPowerOff() []byte { return finishXBus([]byte{0x21, 0x80}) }
func BuildStopAll() []byte       { return finishXBus([]byte{XHeaderSetStop}) }

// addressBytes encodes a decoder address the Lenz way: long addresses
// get their top two bits set in the high byte.
func addressBytes(address int, long bool) (hi, lo byte) {
	if !long {
		return 0, byte(address)
	}
	return byte(0xC0 | (address>>8)&0x3F), byte(address)
}

// SpeedByte128 encodes 128-step speed+direction: bit7=1 means
// forward (spec.md §4.3: "direction mapping is inverted from the wire
// bit ((bit7=1) = forward)" — stated here for the domain's internal
// convention, not a transform applied to the wire byte itself).
func SpeedByte128(throttle float64, forward, emergencyStop bool) byte {
	var v byte
	switch {
	case emergencyStop:
		v = 1
	case throttle <= 0:
		v = 0
	default:
		s := int(throttle*125+0.5) + 2
		if s > 127 {
			s = 127
		}
		v = byte(s)
	}
	if forward {
		v |= 0x80
	}
	return v
}

// BuildLocoDrive128 builds a LAN_X_SET_LOCO_DRIVE frame for 128 speed
// steps (DB0=0x13).
func BuildLocoDrive128(address int, long bool, speedByte byte) []byte {
	hi, lo := addressBytes(address, long)
	return finishXBus([]byte{XHeaderLocoDrive, 0x13, hi, lo, speedByte})
}

// BuildGetLocoInfo builds one LAN_X_GET_LOCO_INFO request, issued once
// per owned decoder at start to prime the kernel's mirror (spec.md
// §4.3).
func BuildGetLocoInfo(address int, long bool) []byte {
	hi, lo := addressBytes(address, long)
	return finishXBus([]byte{XHeaderGetLocoInfo, 0xF0, hi, lo})
}

// BuildSetTurnout builds a LAN_X_SET_TURNOUT command.
func BuildSetTurnout(address int64, thrown, activate bool) []byte {
	hi := byte((address - 1) >> 8)
	lo := byte((address - 1) & 0xFF)
	data := byte(0x80)
	if thrown {
		data |= 0x01
	}
	if activate {
		data |= 0x08
	}
	return finishXBus([]byte{XHeaderSetTurnout, hi, lo, data})
}

// ParseTurnoutInfo decodes a LAN_X_TURNOUT_INFO broadcast into
// (address, thrown).
func ParseTurnoutInfo(xbus []byte) (address int64, thrown bool, ok bool) {
	if len(xbus) < 5 || xbus[0] != XHeaderTurnoutInfo {
		return 0, false, false
	}
	addr := int64(xbus[1])<<8 | int64(xbus[2])
	return addr + 1, xbus[3]&0x03 == 0x02, true
}
