package ecos

import (
	"strconv"
	"strings"

	"github.com/traintastic-go/hwcore/hardware/iohandler"
)

// Simulator answers the ECoS command-station protocol offline,
// tracking just enough object state to answer request()/queryObjects()
// the way a real ECoS would (spec.md §4.6).
type Simulator struct {
	power    bool
	nextLoco int
}

var _ iohandler.Responder = (*Simulator)(nil)

func NewSimulator() *Simulator { return &Simulator{nextLoco: FirstDynamicObjectID} }

func (s *Simulator) Startup() [][]byte { return nil }

func (s *Simulator) Respond(out []byte) ([][]byte, int) {
	line := strings.TrimSuffix(string(out), "\n")
	switch {
	case strings.HasPrefix(line, "set(1, go"):
		s.power = true
		return [][]byte{[]byte("<REPLY set(1, go)>\n1 status[GO]\n<END 0 (OK)>\n")}, 1
	case strings.HasPrefix(line, "set(1, stop"):
		s.power = false
		return [][]byte{[]byte("<REPLY set(1, stop)>\n1 status[STOP]\n<END 0 (OK)>\n")}, 1
	case strings.HasPrefix(line, "request("):
		return [][]byte{[]byte("<REPLY " + line + ">\n<END 0 (OK)>\n")}, 1
	case strings.HasPrefix(line, "queryObjects(10"):
		return [][]byte{[]byte("<REPLY " + line + ">\n<END 0 (OK)>\n")}, 1
	case strings.HasPrefix(line, "set("):
		id, rest := extractID(line)
		return [][]byte{[]byte("<REPLY set(" + strconv.Itoa(id) + rest + ")>\n<END 0 (OK)>\n")}, 1
	}
	return [][]byte{[]byte("<REPLY " + line + ">\n<END 0 (OK)>\n")}, 1
}

func extractID(line string) (int, string) {
	open := strings.IndexByte(line, '(')
	close := strings.IndexByte(line, ',')
	if open < 0 || close < 0 {
		return 0, ""
	}
	id, err := strconv.Atoi(strings.TrimSpace(line[open+1 : close]))
	if err != nil {
		return 0, ""
	}
	return id, line[close:]
}
