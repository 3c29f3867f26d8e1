package shim

import (
	"context"
	"sync"

	"github.com/shadow/shadow-sub012/event"
)

// State is a managed process's lifecycle stage, generalizing
// original_source/src/runnable/event/shd-stop-application.h's exit paths
// alongside spec.md §3 ManagedProcess.
type State uint8

const (
	StateRunning State = iota
	StateStopped
	StateExited
	StateKilled
)

// EmulatedHandler answers one emulated Request on behalf of the engine —
// typically a closure over the owning host's descriptor.Table — and is
// supplied by whatever wires a Process into a host, keeping this package
// free of a descriptor import (mirroring descriptor.HostHandle's
// avoidance of an import cycle with host).
type EmulatedHandler func(ctx context.Context, req Request) Response

// Process is one managed process: its control block, host, and lifecycle
// state (spec.md §3 ManagedProcess; §4.8 control transfer).
type Process struct {
	mu         sync.Mutex
	pid        int32
	host       event.HostId
	cb         *ControlBlock
	state      State
	handler    EmulatedHandler
	exitStatus int32
}

// NewProcess constructs a process on host, bound to a fresh control
// block, with emulated requests answered by handler.
func NewProcess(pid int32, host event.HostId, handler EmulatedHandler) *Process {
	return &Process{
		pid:     pid,
		host:    host,
		cb:      NewControlBlock(),
		state:   StateRunning,
		handler: handler,
	}
}

// PID returns the process's virtual pid.
func (p *Process) PID() int32 { return p.pid }

// ControlBlock returns the process's shared control block, the seam a
// Transport uses to exchange Request/Response values with it.
func (p *Process) ControlBlock() *ControlBlock { return p.cb }

// State reports the process's current lifecycle stage.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ServeOne answers exactly one pending request on the process's control
// block, dispatching it to the emulated handler if Dispatch says it must
// be emulated (native syscalls never reach this path — the real engine
// never sees them, exactly as spec.md §4.8 intends). Intended to be
// called from the host's worker once per round for each process with a
// request outstanding.
func (p *Process) ServeOne(ctx context.Context) error {
	req, err := p.cb.ReceiveRequest(ctx)
	if err != nil {
		return err
	}
	resp := p.handler(ctx, req)
	p.cb.SendResponse(resp)
	return nil
}

// Signal applies sig to the process; it is called by the host's worker
// acting on a scheduled signal-delivery event. Fatal signals (SIGKILL,
// SIGSEGV) transition the process to StateKilled; any other signal number
// leaves the process unchanged and is not stored. This is the Go-native
// analogue of
// original_source/src/test/exit/test_exit_sigsegv.c's "Shadow should
// detect that the process has exited and clean it up": this engine has no
// real memory to fault, so a crash is modeled as a SIGSEGV Signal raised
// against the process's pid (see host.RaiseSignal) rather than an actual
// SIGSEGV delivered to an OS process.
func (p *Process) Signal(sig Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch sig.Number {
	case sigKill, sigSegv:
		p.state = StateKilled
	}
}

const (
	sigKill int32 = 9
	sigSegv int32 = 11
)

// SigKill and SigSegv are the fatal signal numbers Process.Signal
// recognizes, exported for callers raising a signal-delivery event (e.g.
// host.RaiseSignal) without reaching into this package's unexported
// constants.
const (
	SigKill = sigKill
	SigSegv = sigSegv
)

// Stop transitions a running process to Stopped without a full exit,
// supplementing spec.md's exit/signal/simulation-end lifecycle with the
// original engine's stop-application action (shd-stop-application.h): a
// clean way to end one application before global shutdown.
func (p *Process) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateRunning {
		p.state = StateStopped
	}
}

// Exit transitions the process to Exited with the given status, the
// terminal state spec.md's ManagedProcess lifecycle describes for a
// process that runs its course rather than being killed or stopped.
func (p *Process) Exit(status int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateExited
	p.exitStatus = status
}

// ExitStatus returns the status passed to Exit, valid once State() ==
// StateExited.
func (p *Process) ExitStatus() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitStatus
}
