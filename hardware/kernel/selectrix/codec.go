// Package selectrix implements the Selectrix kernel: a fixed-size
// channel bus (112 8-bit channels per side, addresses 0-111) accessed
// through a Rautenhaus-style interface (SLX824/SLX825) using a simple
// 3-byte request/response framing (spec.md §4.3 "Selectrix"
// specialisation).
package selectrix

import "fmt"

const ChannelCount = 112

const (
	opWriteChannel = 0xFF
	opReadChannel  = 0xFE
	opChannelData  = 0xFD
)

// Split is the iohandler.FrameSplitter for the fixed 3-byte Selectrix
// interface framing (spec.md §4.1).
func Split(buf []byte) (advance int, frame []byte, dropped int) {
	for len(buf) > 0 {
		switch buf[0] {
		case opWriteChannel, opReadChannel, opChannelData:
			if len(buf) < 3 {
				return dropped, nil, dropped
			}
			return dropped + 3, append([]byte(nil), buf[:3]...), dropped
		default:
			buf = buf[1:]
			dropped++
		}
	}
	return dropped, nil, dropped
}

func Dump(frame []byte) string { return fmt.Sprintf("%x", frame) }

// BuildWriteChannel builds a write request for one channel (0-111).
func BuildWriteChannel(channel, value byte) []byte {
	return []byte{opWriteChannel, channel, value}
}

// BuildReadChannel builds a read-poll request for one channel.
func BuildReadChannel(channel byte) []byte {
	return []byte{opReadChannel, channel, 0}
}

// ParseChannelData decodes a channel-data response frame.
func ParseChannelData(frame []byte) (channel, value byte, ok bool) {
	if len(frame) != 3 || frame[0] != opChannelData {
		return 0, 0, false
	}
	return frame[1], frame[2], true
}

// BuildChannelData builds a channel-data response (used by the
// simulator and by test fixtures).
func BuildChannelData(channel, value byte) []byte {
	return []byte{opChannelData, channel, value}
}

// AddressBit splits a Selectrix decoder address (0-895, 8 functions
// per channel) into its channel and bit index.
func AddressBit(address int64) (channel byte, bit uint) {
	return byte(address / 8), uint(address % 8)
}
