package descriptor

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Lookup/Close when the handle is unknown.
var ErrNotFound = errors.New("descriptor: handle not found")

// Table is the per-host mapping of integer handles to descriptor objects.
// A descriptor's handle is unique within its owning host and a descriptor
// is owned by exactly one host (spec.md §3 Descriptor invariants). Every
// Table method serializes on an internal mutex; in addition, the
// scheduler's single-writer-per-round discipline keeps a host's table in
// the hands of one worker per round (spec.md §4.5).
type Table struct {
	mu     sync.Mutex
	host   HostHandle
	next   Handle
	byHand map[Handle]Descriptor
}

// NewTable creates an empty descriptor table owned by host.
func NewTable(host HostHandle) *Table {
	return &Table{
		host:   host,
		byHand: make(map[Handle]Descriptor),
	}
}

// Host returns the table's owning host handle, used by descriptor
// constructors (timerfd, TCP) that need to self-schedule events.
func (t *Table) Host() HostHandle { return t.host }

// Register assigns a fresh handle to d and returns it.
func (t *Table) Register(makeDescriptor func(h Handle) Descriptor) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.next
	t.next++
	t.byHand[h] = makeDescriptor(h)
	return h
}

// Lookup returns the descriptor registered under handle, or ErrNotFound.
func (t *Table) Lookup(h Handle) (Descriptor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.byHand[h]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

// Close closes and deregisters the descriptor at handle h.
func (t *Table) Close(h Handle) error {
	t.mu.Lock()
	d, ok := t.byHand[h]
	if ok {
		delete(t.byHand, h)
	}
	t.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return d.Close()
}

// Len reports the number of open descriptors, used by tests and by the
// engine's idle-host detection.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byHand)
}
