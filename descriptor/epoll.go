package descriptor

import "sync"

// InterestMask selects which status bits an epoll registration cares
// about, mirroring EPOLLIN/EPOLLOUT.
type InterestMask uint8

const (
	InterestReadable InterestMask = 1 << iota
	InterestWritable
)

// EpollSet maps descriptor -> interest mask and maintains a ready set
// updated synchronously by OnStatusChange as subscribed descriptors
// change state (spec.md §4.6).
type EpollSet struct {
	base

	mu       sync.Mutex
	interest map[Handle]InterestMask
	ready    map[Handle]Status
	waiters  []Continuation
}

// NewEpollSet constructs an empty epoll set registered at handle h.
func NewEpollSet(h Handle) *EpollSet {
	return &EpollSet{
		base:     newBase(h),
		interest: make(map[Handle]InterestMask),
		ready:    make(map[Handle]Status),
	}
}

// Register subscribes d's status changes to this set with the given
// interest mask, and immediately evaluates d's current status in case it
// is already ready.
func (e *EpollSet) Register(d Descriptor, mask InterestMask) {
	e.mu.Lock()
	e.interest[d.Handle()] = mask
	e.mu.Unlock()
	d.AddListener(e)
	e.OnStatusChange(d.Handle(), d.Status())
}

// Deregister removes d from this set.
func (e *EpollSet) Deregister(d Descriptor) {
	d.RemoveListener(e)
	e.mu.Lock()
	delete(e.interest, d.Handle())
	delete(e.ready, d.Handle())
	e.mu.Unlock()
}

// OnStatusChange implements Listener: it recomputes whether h is "ready"
// against its registered interest mask, updates the ready set, and wakes
// any continuation parked in Wait if a ready descriptor appeared.
func (e *EpollSet) OnStatusChange(h Handle, s Status) {
	e.mu.Lock()
	mask, tracked := e.interest[h]
	if !tracked {
		e.mu.Unlock()
		return
	}
	interested := (mask&InterestReadable != 0 && s.Readable()) ||
		(mask&InterestWritable != 0 && s.Writable()) ||
		s.Err() || s.Closed()
	if interested {
		e.ready[h] = s
	} else {
		delete(e.ready, h)
	}
	var woken []Continuation
	if len(e.ready) > 0 && len(e.waiters) > 0 {
		woken = e.waiters
		e.waiters = nil
	}
	e.mu.Unlock()
	for _, c := range woken {
		c.Resume()
	}
}

// ReadyEvent is one entry of an epoll_wait result.
type ReadyEvent struct {
	Handle Handle
	Status Status
}

// Poll returns the current ready set without blocking, draining it.
// ErrWouldBlock is returned if nothing is ready; the caller should then
// park a Continuation via Wait.
func (e *EpollSet) Poll() ([]ReadyEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.ready) == 0 {
		return nil, ErrWouldBlock
	}
	out := make([]ReadyEvent, 0, len(e.ready))
	for h, s := range e.ready {
		out = append(out, ReadyEvent{Handle: h, Status: s})
	}
	e.ready = make(map[Handle]Status)
	return out, nil
}

// Wait parks c until at least one registered descriptor becomes ready.
func (e *EpollSet) Wait(c Continuation) {
	e.mu.Lock()
	e.waiters = append(e.waiters, c)
	e.mu.Unlock()
}

func (e *EpollSet) Read(buf []byte) (int, error)  { return 0, ErrNotFound }
func (e *EpollSet) Write(buf []byte) (int, error) { return 0, ErrNotFound }
func (e *EpollSet) Close() error {
	e.setStatus(Closed)
	return nil
}
