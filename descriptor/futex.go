package descriptor

import (
	"sync"

	"github.com/shadow/shadow-sub012/event"
)

// FutexAddr identifies a futex word: a host plus a process-local memory
// address. Waiters only rendezvous if both fields match (spec.md §3
// Descriptor: "Futex: maps a memory address + host to a wait-list of
// process continuations").
type FutexAddr struct {
	Host event.HostId
	Addr uintptr
}

// Continuation is an opaque, resumable suspension point — a managed
// process parked on a futex, eventfd, or epoll wait. The scheduler
// resumes it by invoking Resume once the event that woke it fires.
type Continuation interface {
	Resume()
}

// Futex is a host-local wait-list keyed by FutexAddr. It does not itself
// implement Descriptor (a real futex word isn't a file descriptor); it is
// owned and indexed by the Table's sibling FutexSet.
type Futex struct {
	mu      sync.Mutex
	addr    FutexAddr
	waiters []Continuation
}

// NewFutex creates an empty wait-list for addr.
func NewFutex(addr FutexAddr) *Futex {
	return &Futex{addr: addr}
}

// Wait parks c on this futex's wait-list.
func (f *Futex) Wait(c Continuation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waiters = append(f.waiters, c)
}

// WaiterCount reports how many continuations are currently parked.
func (f *Futex) WaiterCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

// Wake resumes up to n waiters, FIFO, and returns how many were woken —
// the direct analogue of FUTEX_WAKE's return value.
func (f *Futex) Wake(n int) int {
	f.mu.Lock()
	if n > len(f.waiters) {
		n = len(f.waiters)
	}
	woken := f.waiters[:n]
	f.waiters = f.waiters[n:]
	f.mu.Unlock()
	for _, c := range woken {
		c.Resume()
	}
	return len(woken)
}

// FutexSet is the per-host registry of futex wait-lists, keyed by address.
type FutexSet struct {
	mu    sync.Mutex
	byKey map[FutexAddr]*Futex
}

// NewFutexSet creates an empty registry.
func NewFutexSet() *FutexSet {
	return &FutexSet{byKey: make(map[FutexAddr]*Futex)}
}

// Get returns the Futex for addr, creating it on first use.
func (s *FutexSet) Get(addr FutexAddr) *Futex {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.byKey[addr]
	if !ok {
		f = NewFutex(addr)
		s.byKey[addr] = f
	}
	return f
}
