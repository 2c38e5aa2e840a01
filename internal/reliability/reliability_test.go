package reliability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReplayProtectionRejectsDuplicatesAndOld(t *testing.T) {
	var rp ReplayProtection
	require.True(t, rp.Accept(10))
	require.False(t, rp.Accept(10)) // duplicate
	require.True(t, rp.Accept(11))
	require.True(t, rp.Accept(15))
	require.True(t, rp.Accept(12)) // out of order but within window
	require.False(t, rp.Accept(12)) // now a duplicate
	require.False(t, rp.Accept(15)) // duplicate of highest
}

func TestReplayProtectionWindowSlides(t *testing.T) {
	var rp ReplayProtection
	require.True(t, rp.Accept(1000))
	require.True(t, rp.Accept(1000+replayWindow+1))
	// The original highest (1000) should now have fallen far enough
	// behind the new highest to be rejected as too old.
	require.False(t, rp.Accept(1000))
}

func TestAckSenderBatchesAndRepeats(t *testing.T) {
	var a AckSender
	now := time.Now()
	a.Record(5, now)
	a.Record(6, now)

	ack, due := a.Due(now)
	require.True(t, due)
	require.Equal(t, uint64(5), ack.BaseFrameID)
	require.True(t, ack.Has(6))
	a.MarkSent(now)

	_, due = a.Due(now)
	require.False(t, due) // too soon, within AckInterval

	later := now.Add(AckInterval + time.Millisecond)
	_, due = a.Due(later)
	require.True(t, due)
	a.MarkSent(later)

	evenLater := later.Add(AckInterval + time.Millisecond)
	_, due = a.Due(evenLater)
	require.True(t, due)
	a.MarkSent(evenLater) // third copy: batch now exhausted

	_, due = a.Due(evenLater.Add(time.Hour))
	require.False(t, due)
}

func TestRetransmitterTracksAndExpires(t *testing.T) {
	r := NewRetransmitter()
	now := time.Now()
	r.Track(1, []byte("body"), now)
	require.Equal(t, 1, r.Len())

	due := r.Due(now.Add(time.Millisecond), 10*time.Millisecond)
	require.Empty(t, due)

	due = r.Due(now.Add(100*time.Millisecond), 10*time.Millisecond)
	require.Equal(t, []uint64{1}, due)

	body, cnt, ok := r.MarkResent(1, now.Add(100*time.Millisecond))
	require.True(t, ok)
	require.Equal(t, []byte("body"), body)
	require.Equal(t, uint8(1), cnt)

	r.Ack(1)
	require.Equal(t, 0, r.Len())
}

func TestRetransmitterDisconnectsAfterLimit(t *testing.T) {
	r := NewRetransmitter()
	now := time.Now()
	r.Track(1, []byte("x"), now)
	for i := 0; i < RetransmitLimit; i++ {
		_, _, ok := r.MarkResent(1, now)
		require.True(t, ok)
	}
	_, _, ok := r.MarkResent(1, now)
	require.False(t, ok)
}

func TestEstimatorConverges(t *testing.T) {
	e := NewEstimator()
	require.Equal(t, DefaultRTT, e.Estimate())
	e.Sample(50 * time.Millisecond)
	require.Equal(t, 50*time.Millisecond, e.Estimate())
	e.Sample(50 * time.Millisecond)
	require.Equal(t, 50*time.Millisecond, e.Estimate())
}

func TestLivenessWatcher(t *testing.T) {
	now := time.Now()
	l := NewLivenessWatcher(now)
	require.False(t, l.NeedsKeepAlive(now))
	require.False(t, l.TimedOut(now))

	later := now.Add(KeepAliveInterval + time.Millisecond)
	require.True(t, l.NeedsKeepAlive(later))

	l.OnReceived(later)
	require.False(t, l.TimedOut(later.Add(DisconnectTimeout-time.Millisecond)))
	require.True(t, l.TimedOut(later.Add(DisconnectTimeout+time.Millisecond)))
}
