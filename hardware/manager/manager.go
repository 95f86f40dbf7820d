// Package manager supervises an Interface's online state the way
// services/bridge supervised a flaky UART link: bring it up, and if
// it lands in iface.Error retry with an exponential backoff instead of
// giving up or busy-looping.
package manager

import (
	"context"
	"time"

	"github.com/traintastic-go/hwcore/hardware/iface"
)

// Supervisor keeps one Interface online for the lifetime of a
// context, retrying construction/connection failures with backoff.
type Supervisor struct {
	iface      *iface.Interface
	simulation bool
	minBackoff time.Duration
	maxBackoff time.Duration
	onState    func(iface.Status, error)
}

// NewSupervisor builds a Supervisor for i. Backoff starts at 250ms and
// doubles up to a 5s ceiling, the same bounds services/bridge used for
// its link dial retries.
func NewSupervisor(i *iface.Interface, simulation bool) *Supervisor {
	return &Supervisor{
		iface:      i,
		simulation: simulation,
		minBackoff: 250 * time.Millisecond,
		maxBackoff: 5 * time.Second,
	}
}

// OnState registers a callback invoked on every status transition,
// with the interface's last error attached (nil outside iface.Error).
func (s *Supervisor) OnState(fn func(iface.Status, error)) { s.onState = fn }

// Run brings the interface online and keeps it there until ctx is
// cancelled, retrying with backoff whenever it lands in iface.Error.
// It blocks until ctx is cancelled. A cancel while the interface is up
// takes it offline before Run returns; a cancel during a backoff wait
// returns without calling SetOnline(false).
func (s *Supervisor) Run(ctx context.Context) {
	errCh := make(chan struct{}, 1)
	s.iface.OnStatusChange(func(st iface.Status) {
		if s.onState != nil {
			s.onState(st, s.iface.LastError())
		}
		if st == iface.Error {
			select {
			case errCh <- struct{}{}:
			default:
			}
		}
	})

	next := backoffSeq(s.minBackoff, s.maxBackoff)
	for {
		if err := s.iface.SetOnline(true, s.simulation); err != nil {
			if !sleepCtx(ctx, next()) {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			_ = s.iface.SetOnline(false, s.simulation)
			return
		case <-errCh:
			if !sleepCtx(ctx, next()) {
				return
			}
		}
	}
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	cur := min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
