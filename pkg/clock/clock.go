// Package clock re-exports a mockable clock so time-driven components
// (scheduler tick, lease checker, delay-release timers) are testable.
package clock

import (
	"time"

	bclock "github.com/benbjohnson/clock"
)

type (
	Clock  = bclock.Clock
	Mock   = bclock.Mock
	Ticker = bclock.Ticker
	Timer  = bclock.Timer
)

// New returns a Clock backed by the wall clock.
func New() Clock {
	return bclock.New()
}

// NewMock returns a manually-advanced Clock for tests.
func NewMock() *Mock {
	return bclock.NewMock()
}

// ToMono converts a wall time to a monotonic-friendly duration since the unix
// epoch. Used for coarse comparisons only.
func ToMono(t time.Time) time.Duration {
	return time.Duration(t.UnixNano())
}
