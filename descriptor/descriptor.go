// Package descriptor implements the virtual-host descriptor table and the
// file-descriptor-like objects it owns: sockets, timers, eventfds, futexes
// and epoll sets (spec.md §4.6). A descriptor's state changes are the only
// legal side effects a managed process may produce against the simulated
// world (spec.md §1).
package descriptor

import (
	"sync"

	"github.com/shadow/shadow-sub012/event"
	"github.com/shadow/shadow-sub012/vtime"
)

// Handle is the integer a managed process uses to refer to a descriptor,
// unique within its owning host.
type Handle int32

// Status is a bitset describing a descriptor's readiness.
type Status uint8

const (
	Readable Status = 1 << iota
	Writable
	Closed
	Err
)

func (s Status) Readable() bool { return s&Readable != 0 }
func (s Status) Writable() bool { return s&Writable != 0 }
func (s Status) Closed() bool   { return s&Closed != 0 }
func (s Status) Err() bool      { return s&Err != 0 }

// Listener is notified synchronously, within the event that caused a
// status change, whenever a descriptor it is subscribed to changes state.
// EpollSet is the only built-in implementation, but the interface is kept
// separate so tests can assert "every listener was notified exactly once"
// (Testable Property #4) without constructing a full epoll set.
type Listener interface {
	OnStatusChange(h Handle, s Status)
}

// Descriptor is the capability set every virtual file-descriptor-like
// object exposes, per spec.md §4.6.
type Descriptor interface {
	Handle() Handle
	Status() Status
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Close() error
	AddListener(l Listener)
	RemoveListener(l Listener)
}

// HostHandle is the minimal view of the owning host a descriptor needs in
// order to self-schedule future events (timer expiries, TCP
// retransmissions) without the descriptor package importing host and
// creating an import cycle.
type HostHandle interface {
	ID() event.HostId
	Now() vtime.SimulationTime
	ScheduleLocal(task event.Task, delay vtime.Duration) event.Event
}

// base is embedded by every concrete descriptor and centralizes listener
// bookkeeping and status-change notification so that the "recompute then
// notify, synchronously, before yielding control" invariant (spec.md §4.6)
// is enforced in exactly one place.
type base struct {
	mu        sync.Mutex
	handle    Handle
	status    Status
	listeners map[Listener]struct{}
}

func newBase(h Handle) base {
	return base{handle: h, listeners: make(map[Listener]struct{})}
}

func (b *base) Handle() Handle { return b.handle }

func (b *base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *base) AddListener(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[l] = struct{}{}
}

func (b *base) RemoveListener(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, l)
}

// setStatus stores the status a subclass just recomputed from its own
// fields and notifies every listener exactly once, synchronously, before
// returning control to the caller (spec.md §4.6 status invariants).
func (b *base) setStatus(s Status) {
	b.mu.Lock()
	b.status = s
	listeners := make([]Listener, 0, len(b.listeners))
	for l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()
	for _, l := range listeners {
		l.OnStatusChange(b.handle, s)
	}
}
