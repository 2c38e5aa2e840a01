package netio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendRecvLoopback(t *testing.T) {
	a, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer a.Close()
	b, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer b.Close()

	err = a.Send(context.Background(), b.LocalAddr(), []byte("hello"))
	require.NoError(t, err)

	var got []Datagram
	require.Eventually(t, func() bool {
		bufs := [][]byte{make([]byte, 1500)}
		out, err := b.RecvBatch(bufs)
		require.NoError(t, err)
		got = append(got, out...)
		return len(got) > 0
	}, time.Second, time.Millisecond)

	require.Equal(t, "hello", string(got[0].Body))
	require.Equal(t, uint64(1), a.Stats().PacketsSent)
	require.Equal(t, uint64(1), b.Stats().PacketsReceived)
}

func TestEmulatorDropsAllWithFullLoss(t *testing.T) {
	a, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer a.Close()
	b, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer b.Close()

	b.ConfigEmulator(1.0, 0)
	err = a.Send(context.Background(), b.LocalAddr(), []byte("dropped"))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	bufs := [][]byte{make([]byte, 1500)}
	out, err := b.RecvBatch(bufs)
	require.NoError(t, err)
	require.Empty(t, out)
}
