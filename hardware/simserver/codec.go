// Package simserver implements the standalone Traintastic Simulator
// wire protocol (spec.md §4.6 point 3 / §6): a tiny fixed-record
// opcode stream over plain TCP, so a kernel's SimulationIOHandler can
// optionally dial a real shared peer instead of only crafting canned
// in-process replies.
package simserver

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Opcodes spec.md §6 names: Power, LocomotiveSpeedDirection,
// SensorChanged, AccessorySetState.
const (
	OpPower                    = 1
	OpLocomotiveSpeedDirection = 2
	OpSensorChanged            = 3
	OpAccessorySetState        = 4
)

// headerLen is the size-prefix width; each message on the wire is
// [uint32 size][opcode][payload], size counting opcode+payload.
const headerLen = 4

type Power struct {
	On bool
}

type LocomotiveSpeedDirection struct {
	Address       int32
	Protocol      uint8
	Speed         uint16
	Forward       bool
	EmergencyStop bool
}

type SensorChanged struct {
	Channel uint8
	Address int32
	Value   bool
}

type AccessorySetState struct {
	Channel uint8
	Address int32
	State   uint8
}

// Split is the iohandler.FrameSplitter for this protocol: a
// size-prefixed binary record.
func Split(buf []byte) (advance int, frame []byte, dropped int) {
	if len(buf) < headerLen {
		return 0, nil, 0
	}
	size := binary.LittleEndian.Uint32(buf[:headerLen])
	total := headerLen + int(size)
	if len(buf) < total {
		return 0, nil, 0
	}
	return total, append([]byte(nil), buf[headerLen:total]...), 0
}

func encode(opCode byte, payload []byte) []byte {
	buf := make([]byte, headerLen+1+len(payload))
	binary.LittleEndian.PutUint32(buf[:headerLen], uint32(1+len(payload)))
	buf[headerLen] = opCode
	copy(buf[headerLen+1:], payload)
	return buf
}

func EncodePower(p Power) []byte {
	v := byte(0)
	if p.On {
		v = 1
	}
	return encode(OpPower, []byte{v})
}

func EncodeLocomotiveSpeedDirection(m LocomotiveSpeedDirection) []byte {
	b := make([]byte, 9)
	binary.LittleEndian.PutUint32(b[0:4], uint32(m.Address))
	b[4] = m.Protocol
	binary.LittleEndian.PutUint16(b[5:7], m.Speed)
	b[7] = boolByte(m.Forward)
	b[8] = boolByte(m.EmergencyStop)
	return encode(OpLocomotiveSpeedDirection, b)
}

func EncodeSensorChanged(m SensorChanged) []byte {
	b := make([]byte, 6)
	b[0] = m.Channel
	binary.LittleEndian.PutUint32(b[1:5], uint32(m.Address))
	b[5] = boolByte(m.Value)
	return encode(OpSensorChanged, b)
}

func EncodeAccessorySetState(m AccessorySetState) []byte {
	b := make([]byte, 6)
	b[0] = m.Channel
	binary.LittleEndian.PutUint32(b[1:5], uint32(m.Address))
	b[5] = m.State
	return encode(OpAccessorySetState, b)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Message is the parsed union Decode returns; exactly one of the
// pointer fields is non-nil.
type Message struct {
	Power                    *Power
	LocomotiveSpeedDirection *LocomotiveSpeedDirection
	SensorChanged            *SensorChanged
	AccessorySetState        *AccessorySetState
}

// Decode parses one payload (as returned by Split, opcode stripped)
// given its opcode.
func Decode(opCode byte, payload []byte) (Message, error) {
	switch opCode {
	case OpPower:
		if len(payload) < 1 {
			return Message{}, fmt.Errorf("simserver: short Power payload")
		}
		return Message{Power: &Power{On: payload[0] != 0}}, nil
	case OpLocomotiveSpeedDirection:
		if len(payload) < 9 {
			return Message{}, fmt.Errorf("simserver: short LocomotiveSpeedDirection payload")
		}
		return Message{LocomotiveSpeedDirection: &LocomotiveSpeedDirection{
			Address:       int32(binary.LittleEndian.Uint32(payload[0:4])),
			Protocol:      payload[4],
			Speed:         binary.LittleEndian.Uint16(payload[5:7]),
			Forward:       payload[7] != 0,
			EmergencyStop: payload[8] != 0,
		}}, nil
	case OpSensorChanged:
		if len(payload) < 6 {
			return Message{}, fmt.Errorf("simserver: short SensorChanged payload")
		}
		return Message{SensorChanged: &SensorChanged{
			Channel: payload[0],
			Address: int32(binary.LittleEndian.Uint32(payload[1:5])),
			Value:   payload[5] != 0,
		}}, nil
	case OpAccessorySetState:
		if len(payload) < 6 {
			return Message{}, fmt.Errorf("simserver: short AccessorySetState payload")
		}
		return Message{AccessorySetState: &AccessorySetState{
			Channel: payload[0],
			Address: int32(binary.LittleEndian.Uint32(payload[1:5])),
			State:   payload[5],
		}}, nil
	default:
		return Message{}, fmt.Errorf("simserver: unknown opcode %d", opCode)
	}
}

// DecodeFrame splits a Split-delivered frame into opcode+payload and
// decodes it in one step.
func DecodeFrame(frame []byte) (Message, error) {
	if len(frame) < 1 {
		return Message{}, fmt.Errorf("simserver: empty frame")
	}
	return Decode(frame[0], frame[1:])
}

func Dump(frame []byte) string { return fmt.Sprintf("% x", bytes.TrimRight(frame, "\x00")) }
