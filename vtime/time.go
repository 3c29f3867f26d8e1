// Package vtime defines the simulator's virtual-time value types.
//
// SimulationTime is the only clock the engine ever advances; the host
// wall-clock is consulted exactly once, at bootstrap, to seed the
// EmulatedTime epoch so that emulated time-reading syscalls return stable,
// reproducible values across runs.
package vtime

import (
	"fmt"
	"math"
	"time"
)

// SimulationTime is a monotonic count of nanoseconds since simulation
// start. It is never negative and never runs backwards.
type SimulationTime uint64

// Duration is a span of virtual time, also in nanoseconds.
type Duration uint64

// Zero is the simulation's start time.
const Zero SimulationTime = 0

// Max is the largest representable SimulationTime, used as the queue's
// "no event" sentinel (spec: peek_min_time -> SimulationTime or infinity).
const Max SimulationTime = math.MaxUint64

// Common durations, named the way the teacher names its generation-count
// constants in simulation.go.
const (
	Nanosecond  Duration = 1
	Microsecond          = 1000 * Nanosecond
	Millisecond          = 1000 * Microsecond
	Second               = 1000 * Millisecond
)

// Add returns t+d, saturating at end rather than wrapping. A simulation
// with no declared end time passes vtime.Max.
func (t SimulationTime) Add(d Duration, end SimulationTime) SimulationTime {
	sum := uint64(t) + uint64(d)
	if sum < uint64(t) || sum > uint64(end) { // overflow or past the horizon
		return end
	}
	return SimulationTime(sum)
}

// Sub returns the duration between two times, or 0 if t is before u.
func (t SimulationTime) Sub(u SimulationTime) Duration {
	if t <= u {
		return 0
	}
	return Duration(t - u)
}

// Before reports whether t is strictly earlier than u.
func (t SimulationTime) Before(u SimulationTime) bool { return t < u }

// String renders the time as a duration since simulation start.
func (t SimulationTime) String() string {
	return time.Duration(t).String()
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// FromDuration converts a time.Duration (a host-side convenience, used only
// by config parsing and tests) into a virtual Duration.
func FromDuration(d time.Duration) Duration {
	if d < 0 {
		return 0
	}
	return Duration(d.Nanoseconds())
}

// Epoch anchors EmulatedTime to a real wall-clock instant. It is captured
// exactly once, at bootstrap.
type Epoch struct {
	origin time.Time
}

// NewEpoch captures the current wall-clock time as the simulation's epoch.
// This is the single sanctioned host wall-clock read in the whole engine.
func NewEpoch() Epoch {
	return Epoch{origin: time.Now()}
}

// NewEpochAt builds a deterministic epoch for tests, bypassing the
// wall-clock read entirely.
func NewEpochAt(t time.Time) Epoch {
	return Epoch{origin: t}
}

// EmulatedTime is SimulationTime plus the epoch origin, the value returned
// to managed processes from emulated clock_gettime/gettimeofday calls.
type EmulatedTime uint64

// Emulate converts a SimulationTime into the EmulatedTime a process would
// observe under this epoch.
func (e Epoch) Emulate(t SimulationTime) EmulatedTime {
	return EmulatedTime(uint64(e.origin.UnixNano()) + uint64(t))
}

// WallClock converts back to a concrete time.Time for logging/diagnostics.
func (e EmulatedTime) WallClock() time.Time {
	return time.Unix(0, int64(e))
}

func (e EmulatedTime) String() string {
	return fmt.Sprintf("%s (emulated)", e.WallClock().Format(time.RFC3339Nano))
}
