package dccex

import (
	"strings"

	"github.com/traintastic-go/hwcore/hardware/iohandler"
)

// Simulator answers the DCC-EX ASCII protocol offline (spec.md §4.6).
type Simulator struct {
	power bool
}

var _ iohandler.Responder = (*Simulator)(nil)

func NewSimulator() *Simulator { return &Simulator{} }

func (s *Simulator) Startup() [][]byte { return nil }

func (s *Simulator) Respond(out []byte) ([][]byte, int) {
	line := strings.TrimSuffix(strings.TrimPrefix(string(out), "<"), ">\n")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, 1
	}
	switch fields[0] {
	case "1":
		s.power = true
		return [][]byte{[]byte("<p1>")}, 1
	case "0":
		s.power = false
		return [][]byte{[]byte("<p0>")}, 1
	case "T":
		if len(fields) < 3 {
			return nil, 1
		}
		return [][]byte{[]byte("<H " + fields[1] + " " + fields[2] + ">")}, 1
	case "a":
		return nil, 1 // fire-and-forget, no reply
	}
	return nil, 1
}
