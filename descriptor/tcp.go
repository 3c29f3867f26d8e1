package descriptor

import (
	"sync"

	"github.com/shadow/shadow-sub012/event"
	"github.com/shadow/shadow-sub012/vtime"
)

// TCPState is one node of the connection state machine spec.md §4.6
// requires: "CLOSED, LISTEN, SYN_SENT, SYN_RCVD, ESTABLISHED, FIN_WAIT_1/2,
// CLOSE_WAIT, CLOSING, LAST_ACK, TIME_WAIT".
type TCPState uint8

const (
	StateClosed TCPState = iota
	StateListen
	StateSynSent
	StateSynRcvd
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateClosing
	StateLastAck
	StateTimeWait
)

func (s TCPState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynRcvd:
		return "SYN_RCVD"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN_WAIT_1"
	case StateFinWait2:
		return "FIN_WAIT_2"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateClosing:
		return "CLOSING"
	case StateLastAck:
		return "LAST_ACK"
	case StateTimeWait:
		return "TIME_WAIT"
	default:
		return "UNKNOWN"
	}
}

// SendBufferCapacity and RecvBufferCapacity bound how much unacknowledged
// or unread data a socket will hold before Write returns ErrWouldBlock
// (spec.md §4.6: "writes above capacity either return a would-block
// signal... or block the caller").
const (
	SendBufferCapacity = 64 * 1024
	RecvBufferCapacity = 64 * 1024
)

// congestion implements a Reno-style window: slow start followed by
// additive-increase/multiplicative-decrease, per spec.md §4.6.
type congestion struct {
	cwnd     float64 // segments
	ssthresh float64
}

func newCongestion() congestion {
	return congestion{cwnd: 1, ssthresh: 64}
}

// onAck grows the window: exponentially below ssthresh (slow start),
// linearly above it (congestion avoidance).
func (c *congestion) onAck() {
	if c.cwnd < c.ssthresh {
		c.cwnd++
	} else {
		c.cwnd += 1 / c.cwnd
	}
}

// onLoss halves ssthresh and collapses cwnd to 1, the Reno multiplicative
// decrease triggered by a retransmission timeout.
func (c *congestion) onLoss() {
	c.ssthresh = c.cwnd / 2
	if c.ssthresh < 2 {
		c.ssthresh = 2
	}
	c.cwnd = 1
}

func (c *congestion) window() int {
	return int(c.cwnd)
}

// Segment is one in-flight, unacknowledged TCP segment tracked for
// retransmission.
type Segment struct {
	Seq       uint32
	Payload   []byte
	SentAt    vtime.SimulationTime
	retransAt event.Event
}

// TCPSocket is a full connection state machine over a Reno-style
// congestion window (spec.md §4.6). Retransmissions are scheduled as
// future events rather than real timers.
type TCPSocket struct {
	base

	mu        sync.Mutex
	host      HostHandle
	local     Addr
	remote    Addr
	state     TCPState
	cong      congestion
	sendBuf   []byte
	recvBuf   []byte
	nextSeq   uint32
	unacked   []Segment
	rtt       vtime.Duration
	onSegment func(remote Addr, payload []byte, seq uint32) // injected send path to the network fabric
}

// NewTCPSocket constructs a TCP socket bound to local, initially CLOSED.
// onSegment is invoked whenever the socket has data ready to hand to the
// network fabric (the emulated send path); it is nil-safe for tests that
// only exercise buffering/state-machine behavior.
func NewTCPSocket(h Handle, host HostHandle, local Addr, onSegment func(Addr, []byte, uint32)) *TCPSocket {
	t := &TCPSocket{
		base:      newBase(h),
		host:      host,
		local:     local,
		state:     StateClosed,
		cong:      newCongestion(),
		rtt:       100 * vtime.Millisecond,
		onSegment: onSegment,
	}
	t.recompute()
	return t
}

func (t *TCPSocket) State() TCPState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Listen transitions CLOSED -> LISTEN.
func (t *TCPSocket) Listen() {
	t.mu.Lock()
	t.state = StateListen
	t.mu.Unlock()
	t.recompute()
}

// Connect transitions CLOSED -> SYN_SENT toward remote.
func (t *TCPSocket) Connect(remote Addr) {
	t.mu.Lock()
	t.remote = remote
	t.state = StateSynSent
	t.mu.Unlock()
	t.recompute()
}

// HandleSynAck transitions SYN_SENT -> ESTABLISHED on receipt of the
// peer's SYN-ACK.
func (t *TCPSocket) HandleSynAck() {
	t.mu.Lock()
	t.state = StateEstablished
	t.mu.Unlock()
	t.recompute()
}

// HandleSyn transitions LISTEN -> SYN_RCVD on receipt of a peer SYN, then
// to ESTABLISHED once the handshake's final ACK arrives (AcceptFinalAck).
func (t *TCPSocket) HandleSyn(remote Addr) {
	t.mu.Lock()
	t.remote = remote
	t.state = StateSynRcvd
	t.mu.Unlock()
	t.recompute()
}

func (t *TCPSocket) AcceptFinalAck() {
	t.mu.Lock()
	t.state = StateEstablished
	t.mu.Unlock()
	t.recompute()
}

// Write appends to the send buffer and transmits as much as the
// congestion window currently allows. Returns ErrWouldBlock, buffering
// nothing, if appending buf would push the send buffer past its capacity
// (spec.md: "writes above capacity... return a would-block signal").
func (t *TCPSocket) Write(buf []byte) (int, error) {
	t.mu.Lock()
	if t.state != StateEstablished {
		t.mu.Unlock()
		return 0, ErrNotFound
	}
	if len(t.sendBuf)+len(buf) > SendBufferCapacity {
		t.mu.Unlock()
		return 0, ErrWouldBlock
	}
	t.sendBuf = append(t.sendBuf, buf...)
	n := len(buf)
	t.mu.Unlock()
	t.pump()
	return n, nil
}

// pump transmits segments up to the current congestion window, scheduling
// a retransmission timeout for each one at now + 2*RTT.
func (t *TCPSocket) pump() {
	t.mu.Lock()
	window := t.cong.window() * 1460
	inFlight := 0
	for _, s := range t.unacked {
		inFlight += len(s.Payload)
	}
	var toSend []byte
	if inFlight < window && len(t.sendBuf) > 0 {
		room := window - inFlight
		if room > len(t.sendBuf) {
			room = len(t.sendBuf)
		}
		toSend = t.sendBuf[:room]
		t.sendBuf = t.sendBuf[room:]
	}
	var seq uint32
	remote := t.remote
	if len(toSend) > 0 {
		seq = t.nextSeq
		t.nextSeq += uint32(len(toSend))
		t.unacked = append(t.unacked, Segment{Seq: seq, Payload: toSend, SentAt: t.host.Now()})
	}
	rtt := t.rtt
	t.mu.Unlock()
	if len(toSend) == 0 {
		return
	}
	if t.onSegment != nil {
		t.onSegment(remote, toSend, seq)
	}
	t.host.ScheduleLocal(event.Task{
		Kind: event.KindTimerExpiry,
		Run: func(ctx event.Context, ev event.Event) []event.Event {
			t.onRetransmitTimeout(seq)
			return nil
		},
	}, 2*rtt)
	t.recompute()
}

// HandleAck acknowledges bytes up to ackSeq: removes matching unacked
// segments, grows the congestion window, and resumes pumping any
// remaining buffered data.
func (t *TCPSocket) HandleAck(ackSeq uint32) {
	t.mu.Lock()
	kept := t.unacked[:0]
	acked := false
	for _, s := range t.unacked {
		if s.Seq+uint32(len(s.Payload)) <= ackSeq {
			acked = true
			continue
		}
		kept = append(kept, s)
	}
	t.unacked = kept
	if acked {
		t.cong.onAck()
	}
	t.mu.Unlock()
	t.recompute()
	if acked {
		t.pump()
	}
}

// onRetransmitTimeout fires when a scheduled RTO elapses with the segment
// still unacknowledged: Reno multiplicative decrease, then resend.
func (t *TCPSocket) onRetransmitTimeout(seq uint32) {
	t.mu.Lock()
	var still *Segment
	for i := range t.unacked {
		if t.unacked[i].Seq == seq {
			still = &t.unacked[i]
			break
		}
	}
	if still == nil {
		t.mu.Unlock()
		return
	}
	t.cong.onLoss()
	payload := still.Payload
	remote := t.remote
	t.mu.Unlock()
	if t.onSegment != nil {
		t.onSegment(remote, payload, seq)
	}
	t.recompute()
}

// Read pops up to len(buf) bytes from the receive buffer. Returns
// ErrWouldBlock if empty.
func (t *TCPSocket) Read(buf []byte) (int, error) {
	t.mu.Lock()
	if len(t.recvBuf) == 0 {
		t.mu.Unlock()
		return 0, ErrWouldBlock
	}
	n := copy(buf, t.recvBuf)
	t.recvBuf = t.recvBuf[n:]
	t.mu.Unlock()
	t.recompute()
	return n, nil
}

// Deliver is called by the network fabric's interface-received path with
// an in-order payload already stripped of the wire header.
func (t *TCPSocket) Deliver(payload []byte) {
	t.mu.Lock()
	if len(t.recvBuf) < RecvBufferCapacity {
		room := RecvBufferCapacity - len(t.recvBuf)
		if room > len(payload) {
			room = len(payload)
		}
		t.recvBuf = append(t.recvBuf, payload[:room]...)
	}
	t.mu.Unlock()
	t.recompute()
}

// Close initiates the 4-way close handshake from ESTABLISHED.
func (t *TCPSocket) Close() error {
	t.mu.Lock()
	switch t.state {
	case StateEstablished:
		t.state = StateFinWait1
	case StateCloseWait:
		t.state = StateLastAck
	default:
		t.state = StateClosed
	}
	t.mu.Unlock()
	t.recompute()
	return nil
}

func (t *TCPSocket) recompute() {
	t.mu.Lock()
	s := Status(0)
	if t.state == StateEstablished || t.state == StateCloseWait {
		if len(t.recvBuf) > 0 {
			s |= Readable
		}
		if len(t.sendBuf) < SendBufferCapacity {
			s |= Writable
		}
	}
	if t.state == StateClosed {
		s |= Closed
	}
	t.mu.Unlock()
	t.setStatus(s)
}

// CongestionWindow reports the current window in segments, for tests and
// diagnostics.
func (t *TCPSocket) CongestionWindow() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cong.window()
}
