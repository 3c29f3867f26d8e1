package descriptor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shadow/shadow-sub012/vtime"
)

func TestTimerFDSingleHostFiveSeconds(t *testing.T) {
	// Mirrors spec.md §8 scenario S1: arm at t=0 for 1s repeating every
	// 1s, simulation ends at 5s -> 5 expirations accumulated.
	host := &fakeHost{id: 1}
	tf := NewTimerFD(1, host)
	tf.Arm(vtime.Second, vtime.Second)

	for i := 0; i < 5; i++ {
		require.True(t, host.step())
	}
	require.Equal(t, 5*vtime.SimulationTime(vtime.Second), host.now)

	require.Equal(t, uint64(5), tf.ExpirationCount())
	buf := make([]byte, 8)
	n, err := tf.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	got, _, _ := decodeUint64(buf)
	require.Equal(t, uint64(5), got)
	require.Equal(t, uint64(0), tf.ExpirationCount())
}

func TestTimerFDReadEmptyWouldBlock(t *testing.T) {
	host := &fakeHost{id: 1}
	tf := NewTimerFD(1, host)
	_, err := tf.Read(make([]byte, 8))
	require.ErrorIs(t, err, ErrWouldBlock)
}

func TestTimerFDOneShotDoesNotRearm(t *testing.T) {
	host := &fakeHost{id: 1}
	tf := NewTimerFD(1, host)
	tf.Arm(vtime.Second, 0)
	require.True(t, host.step())
	require.Equal(t, uint64(1), tf.ExpirationCount())
	require.Empty(t, host.pending)
}
