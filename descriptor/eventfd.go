package descriptor

import "github.com/pkg/errors"

// MaxEventFDCounter is the saturation ceiling for EventFD.Write, matching
// the real eventfd(2) semantics spec.md §4.6 calls out: "write adds,
// saturating at (2^64 - 2)".
const MaxEventFDCounter uint64 = (1 << 64) - 2

// ErrWouldBlock is returned by Read/Write when the caller must park
// instead of proceeding. The scheduler turns this into a descriptor
// listener registration rather than a blocking OS call (spec.md §4.4
// "Suspension / blocking").
var ErrWouldBlock = errors.New("descriptor: operation would block")

// EventFD is a 64-bit saturating counter, modeled on Linux eventfd(2) and
// spec.md §4.6.
type EventFD struct {
	base
	counter uint64
}

// NewEventFD constructs an EventFD registered at handle h with an initial
// counter value (normally 0).
func NewEventFD(h Handle, initial uint64) *EventFD {
	e := &EventFD{base: newBase(h), counter: initial}
	e.recompute()
	return e
}

// Read drains and returns the current counter value, resetting it to 0.
// If the counter is currently 0, it returns ErrWouldBlock: spec.md §4.6
// "read... blocks until > 0".
func (e *EventFD) Read(buf []byte) (int, error) {
	e.mu.Lock()
	if e.counter == 0 {
		e.mu.Unlock()
		return 0, ErrWouldBlock
	}
	v := e.counter
	e.counter = 0
	e.mu.Unlock()
	e.recompute()
	return encodeUint64(buf, v), nil
}

// Write adds the 8-byte little-endian value encoded in buf to the
// counter, saturating at MaxEventFDCounter. If the addition would push an
// already-positive counter past the maximum it returns ErrWouldBlock,
// matching Testable Property #6 ("write of 2^64-1 after counter already
// positive blocks until a reader drains").
func (e *EventFD) Write(buf []byte) (int, error) {
	add, n, err := decodeUint64(buf)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	if e.counter > 0 && add > MaxEventFDCounter-e.counter {
		e.mu.Unlock()
		return 0, ErrWouldBlock
	}
	sum := e.counter + add
	if sum > MaxEventFDCounter {
		sum = MaxEventFDCounter
	}
	e.counter = sum
	e.mu.Unlock()
	e.recompute()
	return n, nil
}

// Close sets the Closed status bit and notifies listeners. Read and Write
// do not check it: a later successful Read or Write recomputes the status
// from the counter alone, without the Closed bit.
func (e *EventFD) Close() error {
	e.mu.Lock()
	e.mu.Unlock()
	e.setStatus(Closed)
	return nil
}

// Value returns the current counter without draining it, for tests and
// diagnostics.
func (e *EventFD) Value() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counter
}

func (e *EventFD) recompute() {
	e.mu.Lock()
	s := Status(0)
	if e.counter > 0 {
		s |= Readable
	}
	if e.counter < MaxEventFDCounter {
		s |= Writable
	}
	e.mu.Unlock()
	e.setStatus(s)
}

func encodeUint64(buf []byte, v uint64) int {
	for i := 0; i < 8 && i < len(buf); i++ {
		buf[i] = byte(v >> (8 * uint(i)))
	}
	if len(buf) < 8 {
		return len(buf)
	}
	return 8
}

func decodeUint64(buf []byte) (uint64, int, error) {
	if len(buf) < 8 {
		return 0, 0, errors.New("descriptor: eventfd write requires 8 bytes")
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * uint(i))
	}
	return v, 8, nil
}
