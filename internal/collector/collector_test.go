package collector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gameroom/relay/internal/channelid"
	"github.com/gameroom/relay/internal/command"
)

func obj(id uint32) command.ObjectID {
	return command.ObjectID{ID: id, Owner: command.RoomOwner()}
}

func envOn(chType channelid.Type, group channelid.Group, seq channelid.Sequence, id uint32) command.Envelope {
	return command.Envelope{
		Channel: channelid.Channel{Type: chType, Group: group, Seq: seq},
		Creator: 1,
		Cmd:     command.Delete{ID: obj(id)},
	}
}

func TestInboundReliableUnorderedDedup(t *testing.T) {
	in := NewInbound()
	e := envOn(channelid.ReliableUnordered, 0, 0, 1)
	in.Feed(10, 0, e)
	in.Feed(10, 0, e) // retransmitted copy, same source frame + index
	require.Len(t, in.Drain(), 1)
}

func TestInboundOrderedDropsOldAndAdvances(t *testing.T) {
	in := NewInbound()
	in.Feed(1, 0, envOn(channelid.ReliableOrdered, 5, 2, 1))
	in.Feed(2, 0, envOn(channelid.ReliableOrdered, 5, 1, 2)) // older: dropped
	in.Feed(3, 0, envOn(channelid.ReliableOrdered, 5, 3, 3))
	got := in.Drain()
	require.Len(t, got, 2)
	require.Equal(t, uint32(1), got[0].Cmd.(command.Delete).ID.ID)
	require.Equal(t, uint32(3), got[1].Cmd.(command.Delete).ID.ID)
}

func TestInboundSequenceBuffersOutOfOrder(t *testing.T) {
	in := NewInbound()
	in.Feed(1, 0, envOn(channelid.ReliableSequence, 0, 2, 30))
	require.Empty(t, in.Drain()) // seq 2 buffered, waiting on seq 0 and 1

	in.Feed(2, 0, envOn(channelid.ReliableSequence, 0, 0, 10))
	got := in.Drain()
	require.Len(t, got, 1)
	require.Equal(t, uint32(10), got[0].Cmd.(command.Delete).ID.ID)

	in.Feed(3, 0, envOn(channelid.ReliableSequence, 0, 1, 20))
	got = in.Drain()
	require.Len(t, got, 2) // releases seq 1 then the already-buffered seq 2
	require.Equal(t, uint32(20), got[0].Cmd.(command.Delete).ID.ID)
	require.Equal(t, uint32(30), got[1].Cmd.(command.Delete).ID.ID)
}

func TestInboundSequenceDropsOlderThanReleased(t *testing.T) {
	in := NewInbound()
	in.Feed(1, 0, envOn(channelid.ReliableSequence, 0, 0, 1))
	in.Drain()
	in.Feed(2, 0, envOn(channelid.ReliableSequence, 0, 0, 1)) // already released
	require.Empty(t, in.Drain())
}

func TestOutboundAllocatesMonotonicSequence(t *testing.T) {
	o := NewOutbound(1)
	o.Enqueue(channelid.ReliableOrdered, 5, 1, command.Delete{ID: obj(1)})
	o.Enqueue(channelid.ReliableOrdered, 5, 1, command.Delete{ID: obj(2)})
	require.Equal(t, channelid.Sequence(0), o.queue[0].Channel.Seq)
	require.Equal(t, channelid.Sequence(1), o.queue[1].Channel.Seq)
}

func TestOutboundPackRespectsFrameLimit(t *testing.T) {
	o := NewOutbound(1)
	for i := 0; i < 500; i++ {
		o.Enqueue(channelid.ReliableUnordered, 0, 1, command.Delete{ID: obj(uint32(i))})
	}
	body, ok, err := o.Pack()
	require.NoError(t, err)
	require.True(t, ok)
	require.LessOrEqual(t, len(body), MaxFrameBody)
	require.Greater(t, o.Pending(), 0) // back-pressure: not everything fit

	for o.HasData() {
		_, ok, err := o.Pack()
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Equal(t, 0, o.Pending())
}

func TestOutboundPackEmpty(t *testing.T) {
	o := NewOutbound(1)
	_, ok, err := o.Pack()
	require.NoError(t, err)
	require.False(t, ok)
}
