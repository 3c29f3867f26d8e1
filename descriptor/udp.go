package descriptor

import "sync"

// DatagramMaxQueue bounds a UDP socket's receive queue. Datagrams that
// arrive once the queue is full are dropped (spec.md §4.6: "datagram
// queue with drop-on-overflow").
const DatagramMaxQueue = 256

// Datagram is one queued UDP payload plus the address it arrived from.
type Datagram struct {
	From    Addr
	Payload []byte
}

// Addr is a simulated socket address: a host plus a port, since real IP
// addresses have no meaning inside the simulation.
type Addr struct {
	Host uint32
	Port uint16
}

// UDPSocket is a datagram queue with drop-on-overflow (spec.md §4.6).
type UDPSocket struct {
	base
	mu      sync.Mutex
	local   Addr
	queue   []Datagram
	dropped uint64
}

// NewUDPSocket constructs a UDP socket bound to local.
func NewUDPSocket(h Handle, local Addr) *UDPSocket {
	u := &UDPSocket{base: newBase(h), local: local}
	u.recompute()
	return u
}

// Local returns the socket's bound address.
func (u *UDPSocket) Local() Addr { return u.local }

// Enqueue is called by the network fabric's interface-received path to
// deliver one datagram. It drops silently (bumping Dropped) if the queue
// is at capacity.
func (u *UDPSocket) Enqueue(from Addr, payload []byte) bool {
	u.mu.Lock()
	if len(u.queue) >= DatagramMaxQueue {
		u.dropped++
		u.mu.Unlock()
		return false
	}
	u.queue = append(u.queue, Datagram{From: from, Payload: payload})
	u.mu.Unlock()
	u.recompute()
	return true
}

// Dropped reports the number of datagrams discarded for overflow.
func (u *UDPSocket) Dropped() uint64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.dropped
}

// Read pops the oldest queued datagram's payload into buf. Returns
// ErrWouldBlock if the queue is empty.
func (u *UDPSocket) Read(buf []byte) (int, error) {
	u.mu.Lock()
	if len(u.queue) == 0 {
		u.mu.Unlock()
		return 0, ErrWouldBlock
	}
	dg := u.queue[0]
	u.queue = u.queue[1:]
	u.mu.Unlock()
	n := copy(buf, dg.Payload)
	u.recompute()
	return n, nil
}

// Write always succeeds from the local socket's point of view: delivery
// semantics (loss, latency) belong to the network fabric, not the socket,
// so Write here only validates the socket is open and returns len(buf).
// The fabric is invoked by the caller (the emulated sendto syscall path)
// with the same payload.
func (u *UDPSocket) Write(buf []byte) (int, error) {
	if u.Status().Closed() {
		return 0, ErrNotFound
	}
	return len(buf), nil
}

func (u *UDPSocket) Close() error {
	u.setStatus(Closed)
	return nil
}

func (u *UDPSocket) recompute() {
	u.mu.Lock()
	s := Writable
	if len(u.queue) > 0 {
		s |= Readable
	}
	u.mu.Unlock()
	u.setStatus(s)
}
