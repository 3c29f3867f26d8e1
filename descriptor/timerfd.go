package descriptor

import (
	"github.com/shadow/shadow-sub012/event"
	"github.com/shadow/shadow-sub012/vtime"
)

// TimerFD is armed with an initial expiration and a repeat interval.
// Expirations are generated by self-scheduled events and accumulate an
// expiration count that Read returns and resets (spec.md §4.6).
type TimerFD struct {
	base
	host        HostHandle
	interval    vtime.Duration
	expirations uint64
}

// NewTimerFD constructs a disarmed TimerFD. Call Arm to start it.
func NewTimerFD(h Handle, host HostHandle) *TimerFD {
	return &TimerFD{base: newBase(h), host: host}
}

// Arm schedules the first expiration after `initial` and, if interval > 0,
// every `interval` thereafter, exactly as timerfd_settime(2) behaves.
func (t *TimerFD) Arm(initial vtime.Duration, interval vtime.Duration) {
	t.interval = interval
	t.scheduleNext(initial)
}

func (t *TimerFD) scheduleNext(delay vtime.Duration) {
	t.host.ScheduleLocal(event.Task{
		Kind: event.KindTimerExpiry,
		Run: func(ctx event.Context, ev event.Event) []event.Event {
			t.fire()
			return nil
		},
	}, delay)
}

// fire is invoked by the scheduled expiry event: increments the
// accumulated count, re-arms for the next interval if repeating, and
// republishes Readable status to listeners.
func (t *TimerFD) fire() {
	t.mu.Lock()
	t.expirations++
	interval := t.interval
	t.mu.Unlock()
	t.setStatus(Readable)
	if interval > 0 {
		t.scheduleNext(interval)
	}
}

// Read returns the accumulated expiration count and resets it to 0. If no
// expirations have occurred it returns ErrWouldBlock.
func (t *TimerFD) Read(buf []byte) (int, error) {
	t.mu.Lock()
	if t.expirations == 0 {
		t.mu.Unlock()
		return 0, ErrWouldBlock
	}
	n := t.expirations
	t.expirations = 0
	t.mu.Unlock()
	t.setStatus(0)
	return encodeUint64(buf, n), nil
}

// Write is not a valid operation on a timerfd.
func (t *TimerFD) Write(buf []byte) (int, error) {
	return 0, ErrNotFound
}

func (t *TimerFD) Close() error {
	t.setStatus(Closed)
	return nil
}

// ExpirationCount reports the accumulated, undrained expiration count,
// used by the single-host-timer scenario (spec.md §8 S1) and tests.
func (t *TimerFD) ExpirationCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expirations
}
