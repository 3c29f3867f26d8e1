package descriptor

import (
	"github.com/shadow/shadow-sub012/event"
	"github.com/shadow/shadow-sub012/vtime"
)

// fakeHost is a minimal HostHandle that records locally-scheduled tasks
// instead of running them, so tests can fire them deterministically.
type fakeHost struct {
	id      event.HostId
	now     vtime.SimulationTime
	pending []event.Event
}

func (f *fakeHost) ID() event.HostId              { return f.id }
func (f *fakeHost) Now() vtime.SimulationTime     { return f.now }
func (f *fakeHost) ScheduleLocal(task event.Task, delay vtime.Duration) event.Event {
	ev := event.New(task, f.now+vtime.SimulationTime(delay), f.id, f.id)
	f.pending = append(f.pending, ev)
	return ev
}

// step pops and executes exactly one pending event — the earliest by
// time, since every caller in this package's tests only ever has a single
// descriptor self-scheduling sequentially — and reports whether one ran.
// It deliberately does not drain events newly scheduled by that
// execution, so callers fully control how many virtual "rounds" elapse.
func (f *fakeHost) step() bool {
	if len(f.pending) == 0 {
		return false
	}
	minIdx := 0
	for i, ev := range f.pending {
		if ev.Time < f.pending[minIdx].Time {
			minIdx = i
		}
	}
	ev := f.pending[minIdx]
	f.pending = append(f.pending[:minIdx], f.pending[minIdx+1:]...)
	f.now = ev.Time
	event.Execute(f, ev)
	return true
}
