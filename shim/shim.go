// Package shim models the syscall interception boundary spec.md §4.8
// describes: a managed process issues a syscall, the shim decides whether
// it is safe to run natively or must be emulated against the simulated
// world, and emulated calls cross into the engine through a control block
// modeled on a shared-memory region with two semaphores handing control
// back and forth (spec.md §6 "Shared memory layout", generalizing
// original_source/src/lib/shim/shim_syscall.h and src/main/ipc/ipc.h).
package shim

import (
	"context"

	"github.com/pkg/errors"
	"github.com/segmentio/ksuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"

	"github.com/shadow/shadow-sub012/event"
)

// Errno is the error-return channel for emulated syscalls: it never
// escapes the shim boundary as a Go error value (spec.md §7(b)), so a
// caller on the managed-process side of the boundary gets exactly the
// POSIX errno space a real syscall would return.
type Errno int32

// Common errno values emulated syscalls return, drawn from
// golang.org/x/sys/unix rather than reinventing the POSIX errno space.
const (
	ErrnoNone          Errno = 0
	ErrnoAgain         Errno = Errno(unix.EAGAIN)
	ErrnoConnRefused   Errno = Errno(unix.ECONNREFUSED)
	ErrnoBadFd         Errno = Errno(unix.EBADF)
	ErrnoInvalid       Errno = Errno(unix.EINVAL)
	ErrnoNotConnected  Errno = Errno(unix.ENOTCONN)
	ErrnoConnReset     Errno = Errno(unix.ECONNRESET)
	ErrnoInterrupted   Errno = Errno(unix.EINTR)
)

func (e Errno) Error() string {
	if e == ErrnoNone {
		return "no error"
	}
	return unix.Errno(e).Error()
}

// Category classifies a syscall number for the dispatch table spec.md
// §4.8 describes: "local/pure -> native; time/I/O/IPC -> emulated".
type Category uint8

const (
	CategoryPure Category = iota
	CategoryTime
	CategoryIO
	CategoryIPC
)

// Syscall numbers the default emulated handler (host.DefaultEmulatedHandler)
// recognizes for CategoryIO requests. Not an exhaustive syscall table —
// just enough of one to demonstrate the shim boundary against a real
// descriptor, the same minimal slice original_source/src/lib/shim/shim_syscall.h
// singles out as the syscalls that must cross into the simulated world.
const (
	SyscallRead int64 = iota
	SyscallWrite
	SyscallClose
)

// Request is one syscall crossing the shim boundary, modeled on the
// variadic `shim_syscall(ucontext_t*, long n, ...)` signature: a syscall
// number plus its arguments, already decoded into Go values by the
// transport.
type Request struct {
	Number     int64
	Category   Category
	Args       [6]uintptr
	Descriptor int32  // fd argument, when Category == CategoryIO
	Buffer     []byte // write payload, or the read capacity requested
}

// Response is the emulated result handed back across the boundary. Data
// carries bytes returned by an emulated read; Result mirrors a real
// syscall's return value (bytes transferred, or -1 on error with Err set).
type Response struct {
	Result int64
	Err    Errno
	Data   []byte
}

// Dispatch implements the native/emulated decision table: pure,
// process-local operations run on the real OS without engine
// involvement; anything touching time, I/O, or inter-process state must
// be emulated so the engine's virtual clock and descriptor table stay
// authoritative (spec.md §4.8).
func Dispatch(req Request) (native bool) {
	return req.Category == CategoryPure
}

// ControlBlock is the shared-memory rendezvous point between a managed
// process and the engine for one in-flight emulated syscall, modeled
// after spec.md §6's shared-memory control block with two semaphores.
// This engine represents the process side as a goroutine rather than a
// ptrace-intercepted OS process (see Transport), so the "semaphores" here
// are golang.org/x/sync/semaphore.Weighted instances guarding a request
// and a response slot rather than literal POSIX sem_t objects.
type ControlBlock struct {
	id       ksuid.KSUID
	toEngine *semaphore.Weighted
	toProc   *semaphore.Weighted
	req      Request
	resp     Response
}

// NewControlBlock creates a control block with both semaphores held by
// the engine (i.e. empty of any pending request), matching the real
// engine's startup state.
func NewControlBlock() *ControlBlock {
	cb := &ControlBlock{
		id:       ksuid.New(),
		toEngine: semaphore.NewWeighted(1),
		toProc:   semaphore.NewWeighted(1),
	}
	_ = cb.toEngine.Acquire(context.Background(), 1)
	_ = cb.toProc.Acquire(context.Background(), 1)
	return cb
}

// ID returns the control block's ksuid identity. No shared-memory region
// backs a ControlBlock, and shmem.Name draws its own nonce rather than
// using this ID.
func (cb *ControlBlock) ID() ksuid.KSUID { return cb.id }

// SendRequest hands req to the engine side and blocks the calling
// goroutine (the managed process's emulated-syscall path) until a
// response is posted.
func (cb *ControlBlock) SendRequest(ctx context.Context, req Request) (Response, error) {
	cb.req = req
	cb.toEngine.Release(1)
	if err := cb.toProc.Acquire(ctx, 1); err != nil {
		return Response{}, errors.Wrap(err, "shim: waiting for engine response")
	}
	return cb.resp, nil
}

// ReceiveRequest blocks the engine-side worker until a request has been
// posted, then returns it.
func (cb *ControlBlock) ReceiveRequest(ctx context.Context) (Request, error) {
	if err := cb.toEngine.Acquire(ctx, 1); err != nil {
		return Request{}, errors.Wrap(err, "shim: waiting for process request")
	}
	return cb.req, nil
}

// SendResponse posts resp and wakes the process side blocked in
// SendRequest.
func (cb *ControlBlock) SendResponse(resp Response) {
	cb.resp = resp
	cb.toProc.Release(1)
}

// Transport is the seam between this engine's Request/Response values and
// however a real process is actually intercepted (ptrace, LD_PRELOAD, a
// VDSO patch — see original_source/src/lib/shim/shim_insn_emu.h and
// patch_vdso.h for what a faithful OS-level transport would need to do).
// The built-in GoroutineTransport below is the only implementation this
// engine ships, modeling "managed processes" as goroutines that call
// ControlBlock.SendRequest directly.
type Transport interface {
	Syscall(ctx context.Context, req Request) (Response, error)
}

// GoroutineTransport implements Transport directly over a ControlBlock,
// for managed "processes" that are themselves goroutines rather than
// ptrace-intercepted OS processes.
type GoroutineTransport struct {
	cb *ControlBlock
}

// NewGoroutineTransport wraps cb.
func NewGoroutineTransport(cb *ControlBlock) *GoroutineTransport {
	return &GoroutineTransport{cb: cb}
}

func (t *GoroutineTransport) Syscall(ctx context.Context, req Request) (Response, error) {
	if Dispatch(req) {
		return Response{}, errors.New("shim: native syscalls are not routed through the transport")
	}
	return t.cb.SendRequest(ctx, req)
}

// Signal is delivered to a process by scheduling a signal-delivery event
// on its host, exactly as spec.md §4.8 "Signals" describes, rather than
// ever crossing as a Go panic or direct function call between hosts.
type Signal struct {
	Number int32
	Target event.HostId
}
