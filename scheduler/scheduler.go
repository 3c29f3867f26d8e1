// Package scheduler implements the five-step, bulk-synchronous round
// protocol spec.md §4.4 describes: a fixed pool of worker goroutines
// repeatedly computes a safe-time horizon Δ, drains each host's due
// events up to that horizon (at most one worker touching any given host
// per round), and advances until no host has a pending event at or before
// the simulation's declared end time.
//
// This generalizes the teacher's per-generation "one goroutine per host,
// sync.WaitGroup barrier" pattern (epidemic_si.go Update, si_simulator.go)
// into a bounded worker pool, because spec.md requires "a fixed pool of
// worker threads" rather than unbounded per-host fan-out.
package scheduler

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shadow/shadow-sub012/event"
	"github.com/shadow/shadow-sub012/host"
	"github.com/shadow/shadow-sub012/network"
	"github.com/shadow/shadow-sub012/vtime"
)

// BootstrapGraph is the fully wired simulation a config.Config builds
// (config.Build), separating "what external collaborators assemble" from
// "what the scheduler runs" — the boundary spec.md draws around config
// parsing, topology loading, and CLI/plugin wiring as external
// collaborators consumed only through this value and a logging sink.
type BootstrapGraph struct {
	Hosts      []*host.Host
	Fabric     *network.Fabric
	NumWorkers int
	EndTime    vtime.SimulationTime
}

// NewFromBootstrap constructs a Scheduler over a fully assembled
// BootstrapGraph, deriving Δ's minimum-latency term from the topology's
// Fabric rather than requiring the caller to recompute it.
func NewFromBootstrap(bg *BootstrapGraph) *Scheduler {
	return New(bg.Hosts, bg.NumWorkers, bg.EndTime, bg.Fabric.MinLatency())
}

// InstrumentationHook is an optional, narrow observation seam: a caller
// may supply one to be notified as each event dispatches, without the
// engine guessing at any richer semantics. Generalizes
// original_source/src/main/bleep/{shd-bleep.h,shd-bleep-object.h} per
// SPEC_FULL §6 / spec.md's own Design Notes "Open question": no default
// implementation is provided, and a nil hook is always valid.
type InstrumentationHook interface {
	OnEventDispatched(ev event.Event)
}

// Command names a control-plane action (launch, kill-engine) — the
// engine's analogue of original_source/src/main/core/work/shd-command.h,
// kept distinct from time-ordered Events per shd-event.h's own
// event/command split. BootstrapGraph carries no Commands, and Run does
// not process any.
type Command struct {
	Kind   CommandKind
	Target event.HostId
}

// CommandKind enumerates the control-plane actions a bootstrap graph may
// request.
type CommandKind uint8

const (
	CommandLaunch CommandKind = iota
	CommandKillEngine
)

// Heartbeat is a periodic no-op event a host can self-schedule to keep
// its queue non-empty near the simulation's end time, guaranteeing round
// progress on an otherwise idle host rather than relying solely on other
// hosts' traffic (SPEC_FULL §6, original_source/src/runnable/event/shd-heartbeat.h).
func Heartbeat(h *host.Host, interval vtime.Duration) {
	var tick func()
	tick = func() {
		h.ScheduleLocal(event.Task{
			Kind: event.KindHeartbeat,
			Run: func(ctx event.Context, ev event.Event) []event.Event {
				tick()
				return nil
			},
		}, interval)
	}
	tick()
}

// Scheduler runs the round protocol over a fixed set of hosts.
type Scheduler struct {
	hosts      []*host.Host
	numWorkers int
	end        vtime.SimulationTime
	minLink    vtime.Duration
	hook       InstrumentationHook
}

// New constructs a Scheduler over hosts with a fixed worker-pool size,
// ending the simulation at end, with Δ bootstrapped from minLink (the
// topology's minimum edge latency, network.Fabric.MinLatency()).
func New(hosts []*host.Host, numWorkers int, end vtime.SimulationTime, minLink vtime.Duration) *Scheduler {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Scheduler{hosts: hosts, numWorkers: numWorkers, end: end, minLink: minLink}
}

// SetInstrumentationHook installs an optional observation hook, replacing
// any previously installed one. A nil hook (the default) disables
// instrumentation entirely.
func (s *Scheduler) SetInstrumentationHook(hook InstrumentationHook) {
	s.hook = hook
}

// Run drives rounds until no host has a pending event at or before the
// simulation's end time (every queue is empty, or every pending event lies
// past end), implementing spec.md §4.4's
// five steps each round:
//  1. compute the safe-time horizon Δ = min(end, min over hosts of
//     (host's earliest pending event time) + the topology's minimum
//     cross-host latency);
//  2. claim hosts across the fixed worker pool;
//  3. each worker drains its claimed host's due events up to the
//     horizon, advancing the host's clock before each one;
//  4. outbox events (produced by a task's Run) are delivered through
//     Host.Schedule, which itself enforces the causality floor;
//  5. barrier: wait for every worker to finish the round before
//     recomputing the next horizon.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		horizon, more := s.horizon()
		if !more {
			return nil
		}

		if err := s.runRound(ctx, horizon); err != nil {
			return err
		}
	}
}

// horizon computes Δ for the next round: the smallest "earliest pending
// event time" across all hosts, plus the topology's minimum cross-host
// latency, capped at the simulation's declared end. It reports false once
// no host has any pending work left at or before end.
func (s *Scheduler) horizon() (vtime.SimulationTime, bool) {
	earliest := vtime.Max
	for _, h := range s.hosts {
		if t := h.Queue.PeekMinTime(); t < earliest {
			earliest = t
		}
	}
	if earliest == vtime.Max || earliest > s.end {
		return 0, false
	}
	return earliest.Add(s.minLink, s.end), true
}

// runRound claims every host across the fixed worker pool and drains each
// one's due events up to horizon, barrier-synchronizing on completion via
// an errgroup (the bounded generalization of the teacher's per-generation
// sync.WaitGroup).
func (s *Scheduler) runRound(ctx context.Context, horizon vtime.SimulationTime) error {
	jobs := make(chan *host.Host, len(s.hosts))
	for _, h := range s.hosts {
		jobs <- h
	}
	close(jobs)

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var outbox []event.Event

	for i := 0; i < s.numWorkers; i++ {
		g.Go(func() error {
			for h := range jobs {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				produced := s.drainHost(h, horizon)
				if len(produced) > 0 {
					mu.Lock()
					outbox = append(outbox, produced...)
					mu.Unlock()
				}
			}
			return nil
		})
	}
	// The outbox is flushed even when the round was cut short by
	// cancellation, so events produced by completed tasks are not lost.
	err := g.Wait()
	if derr := s.deliver(outbox); err == nil {
		err = derr
	}
	return err
}

// drainHost runs every event due on h at or before horizon, single-writer
// (this worker is the only one touching h this round), and collects the
// events those tasks produced for cross-host delivery once the round's
// barrier has passed.
func (s *Scheduler) drainHost(h *host.Host, horizon vtime.SimulationTime) []event.Event {
	var produced []event.Event
	for {
		ev, ok := h.Queue.PopDue(horizon)
		if !ok {
			return produced
		}
		h.Advance(ev.Time)
		if s.hook != nil {
			s.hook.OnEventDispatched(ev)
		}
		out := event.Execute(h, ev)
		for _, next := range out {
			if next.DstHost == h.ID() {
				if err := h.Schedule(next); err == nil {
					continue
				}
			}
			produced = append(produced, next)
		}
	}
}

// deliver routes cross-host events produced during the round to their
// destination host's queue, after the round's barrier — never during
// drainHost itself, since a host other than the one executing the
// producing task may not be touched except through its own Schedule.
func (s *Scheduler) deliver(outbox []event.Event) error {
	byHost := make(map[event.HostId]*host.Host, len(s.hosts))
	for _, h := range s.hosts {
		byHost[h.ID()] = h
	}
	for _, ev := range outbox {
		dst, ok := byHost[ev.DstHost]
		if !ok {
			continue
		}
		if err := dst.Schedule(ev); err != nil {
			return err
		}
	}
	return nil
}
