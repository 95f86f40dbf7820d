package withrottle

import (
	"strings"

	"github.com/traintastic-go/hwcore/hardware/iohandler"
)

// Simulator answers the WiThrottle ASCII protocol offline (spec.md
// §4.6).
type Simulator struct {
	power bool
}

var _ iohandler.Responder = (*Simulator)(nil)

func NewSimulator() *Simulator { return &Simulator{} }

func (s *Simulator) Startup() [][]byte { return nil }

func (s *Simulator) Respond(out []byte) ([][]byte, int) {
	text := strings.TrimSuffix(string(out), "\n")
	switch {
	case text == "*":
		return [][]byte{[]byte("*\n")}, 1
	case strings.HasPrefix(text, "PPA"):
		s.power = strings.TrimPrefix(text, "PPA") == "1"
		return [][]byte{out}, 1
	case strings.HasPrefix(text, "MT"):
		return [][]byte{out}, 1
	}
	return nil, 1
}
