// Package host implements the virtual host aggregate spec.md §3/§4.5
// describes: a host owns exactly one event queue, one descriptor table,
// and the managed processes running on it, and is touched by at most one
// scheduler worker per round (the single-writer discipline over its queue
// and descriptor table).
package host

import (
	"context"
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/shadow/shadow-sub012/descriptor"
	"github.com/shadow/shadow-sub012/event"
	"github.com/shadow/shadow-sub012/schedq"
	"github.com/shadow/shadow-sub012/shim"
	"github.com/shadow/shadow-sub012/vtime"
)

// ErrCausalityViolation is returned by Schedule when a cross-host event
// would arrive before the sender's minimum possible latency has elapsed,
// the direct Go expression of spec.md §4.5 and Testable Property #3.
var ErrCausalityViolation = errors.New("host: event scheduled before the minimum cross-host latency has elapsed")

// Interface is the minimal view of a host's network attachment this
// package needs: bandwidth caps on the link a host uses to send/receive,
// kept here rather than importing network (network.Fabric owns the
// topology graph; a host only needs to know its own interface limits).
type Interface struct {
	Name     string
	UpKbps   uint64
	DownKbps uint64
}

// Host is one virtual machine: its due-event queue, its open descriptors,
// its managed processes, its local pseudo-random stream, and its current
// position on the simulation clock.
type Host struct {
	id          event.HostId
	now         vtime.SimulationTime
	minLatency  vtime.Duration
	Queue       *schedq.Queue
	Descriptors *descriptor.Table
	Processes   []*shim.Process
	Interfaces  []*Interface
	rng         *rand.Rand
}

// New constructs a host identified by id, seeded deterministically from
// the simulation's global seed XORed with the host id — the Go-idiomatic
// reading of spec.md §3's "a host-local PRNG": every host's random stream
// is reproducible independent of which worker happens to run it, and
// independent of every other host's stream (spec.md §4.1 determinism).
func New(id event.HostId, globalSeed uint64, minLatency vtime.Duration) *Host {
	h := &Host{
		id:         id,
		minLatency: minLatency,
	}
	seed := globalSeed ^ uint64(id)
	h.rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	h.Queue = schedq.New()
	h.Descriptors = descriptor.NewTable(h)
	return h
}

// ID implements event.Context and descriptor.HostHandle.
func (h *Host) ID() event.HostId { return h.id }

// Now implements event.Context and descriptor.HostHandle.
func (h *Host) Now() vtime.SimulationTime { return h.now }

// Rand returns the host's local PRNG, consumed by
// network.Fabric.Deliver's loss sampling — never the fabric's
// own stream, so determinism survives regardless of delivery order across
// hosts (spec.md §4.7).
func (h *Host) Rand() *rand.Rand { return h.rng }

// Advance sets the host's current time, called by the scheduler's worker
// immediately before executing an event at that time (spec.md §4.4 step
// 3: "advance the host's local clock to the event's time").
func (h *Host) Advance(t vtime.SimulationTime) {
	if t > h.now {
		h.now = t
	}
}

// Schedule enqueues ev on this host's queue (it does not check
// ev.DstHost), rejecting any cross-host event that would violate the
// safe-time horizon invariant: an event from another host may not land
// earlier than this host's own clock plus the topology's minimum latency
// (spec.md §4.5, Testable Property #3). Same-host ("local") scheduling
// via ScheduleLocal bypasses this check entirely, since a host always
// causally precedes its own future.
func (h *Host) Schedule(ev event.Event) error {
	if ev.SrcHost != h.id && ev.Time < h.now.Add(h.minLatency, vtime.Max) {
		return errors.Wrapf(ErrCausalityViolation, "host %s: event at %s from %s before floor %s",
			h.id, ev.Time, ev.SrcHost, h.now.Add(h.minLatency, vtime.Max))
	}
	h.Queue.Push(ev)
	return nil
}

// ScheduleLocal builds and enqueues a same-host event at Now()+delay,
// bypassing the cross-host causality check, for descriptors (timers, TCP
// retransmissions) that self-schedule future work on their own host
// (descriptor.HostHandle).
func (h *Host) ScheduleLocal(task event.Task, delay vtime.Duration) event.Event {
	ev := event.New(task, h.now.Add(delay, vtime.Max), h.id, h.id)
	return h.Queue.Push(ev)
}

// AddProcess registers a managed process as running on this host.
func (h *Host) AddProcess(p *shim.Process) {
	h.Processes = append(h.Processes, p)
}

// Process looks up a managed process running on this host by its virtual
// pid.
func (h *Host) Process(pid int32) (*shim.Process, bool) {
	for _, p := range h.Processes {
		if p.PID() == pid {
			return p, true
		}
	}
	return nil, false
}

// RaiseSignal schedules a signal-delivery event against pid on this host
// (spec.md §4.8 "Signals", event.KindSignalDelivery), the engine's
// producer for that event kind: the host's own worker delivers it on the
// next round by invoking shim.Process.Signal, rather than any component
// calling Signal directly outside the event pipeline. Used for the
// SIGSEGV-class crash scenario (§8 S6) since this engine has no real
// process memory to fault.
func (h *Host) RaiseSignal(pid int32, sig shim.Signal) event.Event {
	return h.ScheduleLocal(event.Task{
		Kind: event.KindSignalDelivery,
		Run: func(ctx event.Context, ev event.Event) []event.Event {
			if p, ok := h.Process(pid); ok {
				p.Signal(sig)
			}
			return nil
		},
	}, 0)
}

// AddInterface attaches a network interface descriptor to this host.
func (h *Host) AddInterface(i *Interface) {
	h.Interfaces = append(h.Interfaces, i)
}

// DefaultEmulatedHandler builds an emulated-syscall handler bound to h's
// descriptor table, the handler a launched process's shim.Process is given
// when nothing more specific is supplied (config.Build wires every launched
// process through this by default). It answers the minimal read/write/close
// slice shim.SyscallRead/Write/Close name directly against h.Descriptors,
// and ErrnoInvalid for anything else.
func DefaultEmulatedHandler(h *Host) shim.EmulatedHandler {
	return func(ctx context.Context, req shim.Request) shim.Response {
		if req.Category != shim.CategoryIO {
			return shim.Response{Result: -1, Err: shim.ErrnoInvalid}
		}
		d, err := h.Descriptors.Lookup(descriptor.Handle(req.Descriptor))
		if err != nil {
			return shim.Response{Result: -1, Err: shim.ErrnoBadFd}
		}
		switch req.Number {
		case shim.SyscallRead:
			buf := make([]byte, len(req.Buffer))
			n, err := d.Read(buf)
			if err != nil {
				return shim.Response{Result: -1, Err: shim.ErrnoAgain}
			}
			return shim.Response{Result: int64(n), Data: buf[:n]}
		case shim.SyscallWrite:
			n, err := d.Write(req.Buffer)
			if err != nil {
				return shim.Response{Result: -1, Err: shim.ErrnoAgain}
			}
			return shim.Response{Result: int64(n)}
		case shim.SyscallClose:
			if err := h.Descriptors.Close(descriptor.Handle(req.Descriptor)); err != nil {
				return shim.Response{Result: -1, Err: shim.ErrnoBadFd}
			}
			return shim.Response{Result: 0}
		default:
			return shim.Response{Result: -1, Err: shim.ErrnoInvalid}
		}
	}
}

// Idle reports whether the host has no pending events, no open
// descriptors, and no running processes: the state in which its queue
// stays empty unless something, such as the supplemented heartbeat
// runnable (SPEC_FULL §6), schedules work on it. The scheduler does not
// consult Idle.
func (h *Host) Idle() bool {
	if h.Queue.Len() > 0 || h.Descriptors.Len() > 0 {
		return false
	}
	for _, p := range h.Processes {
		if p.State() == shim.StateRunning {
			return false
		}
	}
	return true
}
