// Package clock provides the time source the scheduler uses for
// vruntime accounting.
package clock

import "time"

// Clock is the time source threaded through every subsystem so tests can
// swap a SimulatedClock in for deterministic vruntime accounting.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

var _ Clock = RealClock{}
var _ Clock = (*SimulatedClock)(nil)
