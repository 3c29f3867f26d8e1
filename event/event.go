// Package event defines the simulator's deferred unit of work: the Event
// and the Task it carries. Events are produced by any component and are
// owned by the destination host's queue until executed, then discarded.
package event

import (
	"fmt"

	"github.com/shadow/shadow-sub012/vtime"
)

// HostId is the stable, opaque identifier of a virtual host. It keys every
// cross-component lookup in the engine (spec.md §3).
type HostId uint32

func (h HostId) String() string { return fmt.Sprintf("host#%d", uint32(h)) }

// Kind labels what a Task represents, purely for logging and the
// determinism trace recorder — dispatch itself never switches on Kind.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindPacketDelivery
	KindTimerExpiry
	KindDescriptorReady
	KindProcessResume
	KindSignalDelivery
	KindHeartbeat
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindPacketDelivery:
		return "packet-delivery"
	case KindTimerExpiry:
		return "timer-expiry"
	case KindDescriptorReady:
		return "descriptor-ready"
	case KindProcessResume:
		return "process-resume"
	case KindSignalDelivery:
		return "signal-delivery"
	case KindHeartbeat:
		return "heartbeat"
	case KindCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Task is a bound operation with an opaque argument and a target-host
// context. Tasks are one-shot: Run executes the task exactly once and may
// return further events to enqueue (on any host), but must never block on
// I/O and must never call back into the scheduler directly.
type Task struct {
	Kind Kind
	Arg  interface{}
	Run  func(ctx Context, ev Event) []Event
}

// Context is the minimal execution context a Task needs, supplied by the
// worker that dispatches the event. It is an interface (rather than a
// concrete *host.Host) purely to avoid an import cycle between event and
// host; host.Host satisfies it.
type Context interface {
	ID() HostId
	Now() vtime.SimulationTime
}

// Event is the tuple (time, sequence, src-host, dst-host, task) described
// by spec.md §3. Sequence is assigned by the owning queue at enqueue time
// and is immutable afterwards, like every other field.
type Event struct {
	Time     vtime.SimulationTime
	Sequence uint64
	SrcHost  HostId
	DstHost  HostId
	Task     Task
}

// New builds an event bound for dstHost at time t. Sequence is left zero;
// the destination queue's Push assigns it atomically on enqueue.
func New(task Task, t vtime.SimulationTime, srcHost, dstHost HostId) Event {
	return Event{
		Time:    t,
		SrcHost: srcHost,
		DstHost: dstHost,
		Task:    task,
	}
}

// Less implements the total ordering rule of spec.md §4.2: lexicographic
// on (time, sequence, src-host-id). This is independent of which worker
// produced the event, which is what makes execution order deterministic.
func Less(a, b Event) bool {
	if a.Time != b.Time {
		return a.Time < b.Time
	}
	if a.Sequence != b.Sequence {
		return a.Sequence < b.Sequence
	}
	return a.SrcHost < b.SrcHost
}

// Execute runs the event's task in the destination host's execution
// context and returns any events the task produced. It must not be called
// recursively from within another Execute on the same worker.
func Execute(ctx Context, ev Event) []Event {
	if ev.Task.Run == nil {
		return nil
	}
	return ev.Task.Run(ctx, ev)
}
