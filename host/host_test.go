package host

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shadow/shadow-sub012/descriptor"
	"github.com/shadow/shadow-sub012/event"
	"github.com/shadow/shadow-sub012/shim"
	"github.com/shadow/shadow-sub012/vtime"
)

func TestHostScheduleLocalIgnoresCausalityFloor(t *testing.T) {
	h := New(1, 42, 10*vtime.Millisecond)
	ev := h.ScheduleLocal(event.Task{Kind: event.KindTimerExpiry}, 0)
	require.Equal(t, vtime.Zero, ev.Time)
	require.Equal(t, 1, h.Queue.Len())
}

func TestHostScheduleRejectsCrossHostBeforeFloor(t *testing.T) {
	h := New(1, 42, 10*vtime.Millisecond)
	ev := event.New(event.Task{}, 5*vtime.SimulationTime(vtime.Millisecond), 2, 1)

	err := h.Schedule(ev)
	require.ErrorIs(t, err, ErrCausalityViolation)
	require.Equal(t, 0, h.Queue.Len())
}

func TestHostScheduleAcceptsCrossHostAtOrAfterFloor(t *testing.T) {
	h := New(1, 42, 10*vtime.Millisecond)
	ev := event.New(event.Task{}, 10*vtime.SimulationTime(vtime.Millisecond), 2, 1)

	err := h.Schedule(ev)
	require.NoError(t, err)
	require.Equal(t, 1, h.Queue.Len())
}

func TestHostScheduleAcceptsSameHostRegardlessOfFloor(t *testing.T) {
	h := New(1, 42, 10*vtime.Millisecond)
	ev := event.New(event.Task{}, vtime.Zero, 1, 1)

	err := h.Schedule(ev)
	require.NoError(t, err)
}

func TestHostAdvanceNeverMovesBackwards(t *testing.T) {
	h := New(1, 42, vtime.Duration(0))
	h.Advance(100)
	h.Advance(50)
	require.Equal(t, vtime.SimulationTime(100), h.Now())
}

func TestHostRandIsDeterministicPerSeedAndId(t *testing.T) {
	a := New(5, 7, 0)
	b := New(5, 7, 0)
	require.Equal(t, a.Rand().Uint64(), b.Rand().Uint64())
}

func TestHostRandDiffersAcrossHostsWithSameSeed(t *testing.T) {
	a := New(1, 7, 0)
	b := New(2, 7, 0)
	require.NotEqual(t, a.Rand().Uint64(), b.Rand().Uint64())
}

func TestHostIdleReflectsQueueDescriptorsAndProcesses(t *testing.T) {
	h := New(1, 1, 0)
	require.True(t, h.Idle())

	h.ScheduleLocal(event.Task{}, 0)
	require.False(t, h.Idle())

	h2 := New(2, 1, 0)
	p := shim.NewProcess(1, 2, nil)
	h2.AddProcess(p)
	require.False(t, h2.Idle())

	p.Stop()
	require.True(t, h2.Idle())
}

func TestDefaultEmulatedHandlerWriteThenRead(t *testing.T) {
	h := New(1, 1, 0)
	handle := h.Descriptors.Register(func(hd descriptor.Handle) descriptor.Descriptor {
		return descriptor.NewEventFD(hd, 0)
	})
	handler := DefaultEmulatedHandler(h)

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, 5)
	resp := handler(context.Background(), shim.Request{
		Number:     shim.SyscallWrite,
		Category:   shim.CategoryIO,
		Descriptor: int32(handle),
		Buffer:     buf,
	})
	require.Equal(t, shim.ErrnoNone, resp.Err)
	require.Equal(t, int64(8), resp.Result)

	resp = handler(context.Background(), shim.Request{
		Number:     shim.SyscallRead,
		Category:   shim.CategoryIO,
		Descriptor: int32(handle),
		Buffer:     make([]byte, 8),
	})
	require.Equal(t, shim.ErrnoNone, resp.Err)
	require.Equal(t, uint64(5), binary.LittleEndian.Uint64(resp.Data))
}

func TestDefaultEmulatedHandlerUnknownDescriptorIsBadFd(t *testing.T) {
	h := New(1, 1, 0)
	handler := DefaultEmulatedHandler(h)
	resp := handler(context.Background(), shim.Request{Category: shim.CategoryIO, Descriptor: 99})
	require.Equal(t, shim.ErrnoBadFd, resp.Err)
}

func TestDefaultEmulatedHandlerRejectsNonIOCategory(t *testing.T) {
	h := New(1, 1, 0)
	handler := DefaultEmulatedHandler(h)
	resp := handler(context.Background(), shim.Request{Category: shim.CategoryTime})
	require.Equal(t, shim.ErrnoInvalid, resp.Err)
}

func TestHostProcessLooksUpByPid(t *testing.T) {
	h := New(1, 1, 0)
	p := shim.NewProcess(7, h.ID(), nil)
	h.AddProcess(p)

	got, ok := h.Process(7)
	require.True(t, ok)
	require.Same(t, p, got)

	_, ok = h.Process(99)
	require.False(t, ok)
}

func TestHostRaiseSignalSchedulesSignalDeliveryEvent(t *testing.T) {
	h := New(1, 1, 0)
	p := shim.NewProcess(7, h.ID(), nil)
	h.AddProcess(p)

	ev := h.RaiseSignal(7, shim.Signal{Number: shim.SigSegv, Target: h.ID()})
	require.Equal(t, event.KindSignalDelivery, ev.Task.Kind)
	require.Equal(t, 1, h.Queue.Len())

	due, ok := h.Queue.PopDue(h.Now())
	require.True(t, ok)
	event.Execute(h, due)

	require.Equal(t, shim.StateKilled, p.State())
}
