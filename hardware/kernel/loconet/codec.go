// Package loconet implements the LocoNet protocol kernel: framing,
// checksum, slot table, fast-clock sync, and LNCV programming
// (spec.md §4.3 "LocoNet" specialisation).
package loconet

import "fmt"

// Dump is the debug toString(message) spec.md §4.2 names: a hex dump
// with the opcode named, the only place hex formatting lives for this
// protocol.
func Dump(frame []byte) string {
	return fmt.Sprintf("opcode=0x%02X % X", frame[0], frame)
}

// Opcodes this kernel speaks. Unrecognized opcodes are treated as
// unknown-but-framed and dropped after length-based extraction.
const (
	OpGPOn       = 0x83 // global power on
	OpGPOff      = 0x82 // global power off
	OpIdle       = 0x85 // emergency stop all locomotives
	OpLocoSpd    = 0xA0
	OpLocoDirF   = 0xA1 // direction + F0-F4
	OpLocoSnd    = 0xA2 // F5-F8
	OpSwReq      = 0xB0 // turnout/output request
	OpInputRep   = 0xB2 // sensor report
	OpLongAck    = 0xB4
	OpSlotStat1  = 0xB5
	OpMoveSlots  = 0xBA
	OpRqSlData   = 0xBB
	OpSlotDataRet = 0xE7
	OpImmPacket  = 0xED // extended immediate packet; not sent by this kernel (LNCV uses OpLNCV)
	OpFastClock  = 0xEF // wraps a fast-clock slot-read payload (OPC_SL_RD with slot 0x7B)
)

// frameLength returns the total wire length (including opcode and
// checksum) for a LocoNet opcode, per the standard length-class table
// keyed on the opcode's top bits (spec.md §4.1: "the first byte's high
// nibble encodes the total length"). Class 3 (0xE0-0xFF) carries its
// own length in the second byte.
func frameLength(opcode byte) (length int, variable bool) {
	switch opcode & 0xE0 {
	case 0x80:
		return 2, false
	case 0xA0:
		return 4, false
	case 0xC0:
		return 6, false
	case 0xE0:
		return 0, true
	default:
		return 2, false
	}
}

// Checksum computes LocoNet's trailing XOR byte: XOR of every
// preceding byte, inverted, so that XOR-ing the whole frame
// (including the checksum) yields 0xFF.
func Checksum(frame []byte) byte {
	var x byte = 0xFF
	for _, b := range frame {
		x ^= b
	}
	return x
}

// ChecksumValid reports whether frame's trailing byte is a correct
// LocoNet checksum (spec.md §8.2).
func ChecksumValid(frame []byte) bool {
	if len(frame) < 2 {
		return false
	}
	var x byte
	for _, b := range frame {
		x ^= b
	}
	return x == 0xFF
}

// Split is the iohandler.FrameSplitter for LocoNet: length-class based
// extraction, checksum-verified. Malformed data is dropped byte by
// byte until a byte with the high bit set (a valid opcode start) is
// seen again.
func Split(buf []byte) (advance int, frame []byte, dropped int) {
	for len(buf) > 0 && buf[0]&0x80 == 0 {
		buf = buf[1:]
		dropped++
	}
	if len(buf) == 0 {
		return dropped, nil, dropped
	}
	length, variable := frameLength(buf[0])
	if variable {
		if len(buf) < 2 {
			return dropped, nil, dropped
		}
		length = int(buf[1])
		if length < 2 {
			// malformed length byte; drop the opcode and resync
			return dropped + 1, nil, dropped + 1
		}
	}
	if len(buf) < length {
		return dropped, nil, dropped
	}
	frame = append([]byte(nil), buf[:length]...)
	if !ChecksumValid(frame) {
		// drop just the opcode byte and resync on the next candidate
		return dropped + 1, nil, dropped + 1
	}
	return dropped + length, frame, dropped
}

// BuildGPOn/BuildGPOff build the 2-byte global power frames.
func BuildGPOn() []byte  { return finish([]byte{OpGPOn}) }
func BuildGPOff() []byte { return finish([]byte{OpGPOff}) }

// BuildIdle builds the global emergency-stop-all frame.
func BuildIdle() []byte { return finish([]byte{OpIdle}) }

func finish(b []byte) []byte {
	return append(b, Checksum(b))
}

// SpeedByte encodes a LocoNet 0-127 speed byte: 0=stop, 1=estop,
// 2-127=running, per spec.md's "speedStep 0 is stop, 1 is emergency
// stop" rule generalised to LocoNet's 7-bit speed field.
func SpeedByte(throttle float64, emergencyStop bool) byte {
	if emergencyStop {
		return 1
	}
	if throttle <= 0 {
		return 0
	}
	v := int(throttle*125 + 0.5) + 2
	if v > 127 {
		v = 127
	}
	return byte(v)
}

// BuildLocoSpd builds an OPC_LOCO_SPD frame for slot with speed byte v.
func BuildLocoSpd(slot byte, v byte) []byte {
	return finish([]byte{OpLocoSpd, slot, v})
}

// DirFByte packs direction (bit5) and F0 (bit4), F1-F4 (bits 0-3) into
// the OPC_LOCO_DIRF data byte.
func DirFByte(forward bool, f0, f1, f2, f3, f4 bool) byte {
	var b byte
	if !forward {
		b |= 1 << 5
	}
	if f0 {
		b |= 1 << 4
	}
	if f1 {
		b |= 1 << 0
	}
	if f2 {
		b |= 1 << 1
	}
	if f3 {
		b |= 1 << 2
	}
	if f4 {
		b |= 1 << 3
	}
	return b
}

func BuildLocoDirF(slot, dirf byte) []byte {
	return finish([]byte{OpLocoDirF, slot, dirf})
}

// SndByte packs F5-F8 into the OPC_LOCO_SND data byte (bits 0-3).
func SndByte(f5, f6, f7, f8 bool) byte {
	var b byte
	if f5 {
		b |= 1 << 0
	}
	if f6 {
		b |= 1 << 1
	}
	if f7 {
		b |= 1 << 2
	}
	if f8 {
		b |= 1 << 3
	}
	return b
}

func BuildLocoSnd(slot, snd byte) []byte {
	return finish([]byte{OpLocoSnd, slot, snd})
}

// BuildSwReq builds a turnout/output request: address is 11-bit,
// split across two 7-bit data bytes per the LocoNet switch-request
// layout; thrown/closed maps to the output's two-state value.
func BuildSwReq(address int, thrown bool, on bool) []byte {
	a := address - 1
	b1 := byte(a & 0x7F)
	b2 := byte((a >> 7) & 0x0F)
	if thrown {
		b2 |= 0x20
	}
	if on {
		b2 |= 0x10
	}
	return finish([]byte{OpSwReq, b1, b2})
}

// ParseInputRep decodes an OPC_INPUT_REP frame into (address, value).
// LocoNet input addresses are 1-based across a 10-bit space with the
// "aux/switch" bit distinguishing the two inputs sharing one wire pair.
func ParseInputRep(frame []byte) (address int, value bool, ok bool) {
	if len(frame) != 4 || frame[0] != OpInputRep {
		return 0, false, false
	}
	in1, in2 := frame[1], frame[2]
	addr := (int(in1) & 0x7F) | ((int(in2) & 0x0F) << 7)
	addr = addr<<1 | boolBit(in2&0x20 != 0)
	value = in2&0x10 != 0
	return addr + 1, value, true
}

func boolBit(b bool) int {
	if b {
		return 1
	}
	return 0
}

// FastClockFrame builds the periodic fast-clock broadcast (spec.md §6
// fastClockSyncEnabled/Interval), a variable-length (class 0xE0) frame
// wrapping a simplified clock-slot record: rate, minutes, hours,
// day-of-week.
func FastClockFrame(rate, minutes, hours, dow byte) []byte {
	body := []byte{OpFastClock, 0, 0x7B, 0, minutes, 0xFF, hours, dow, rate, 0, 0, 0}
	body[1] = byte(len(body) + 1) // + checksum byte
	return finish(body)
}
