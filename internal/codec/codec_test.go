package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gameroom/relay/internal/channelid"
	"github.com/gameroom/relay/internal/command"
)

func unordered() channelid.Channel {
	return channelid.Channel{Type: channelid.ReliableUnordered}
}

func TestRoundTripMixedCommands(t *testing.T) {
	const localMember = uint16(7)
	obj1 := command.ObjectID{ID: 1, Owner: command.MemberOwner(localMember)}
	obj2 := command.ObjectID{ID: 2, Owner: command.RoomOwner()}

	envs := []command.Envelope{
		{Channel: unordered(), Creator: localMember, Cmd: command.CreateObject{ID: obj1, Template: 3, AccessGroups: 0xFF}},
		{Channel: unordered(), Creator: localMember, Cmd: command.SetLong{ID: obj1, Field: 10, Value: -42}},
		{Channel: unordered(), Creator: localMember, Cmd: command.SetDouble{ID: obj1, Field: 11, Value: 3.5}},
		{Channel: unordered(), Creator: localMember, Cmd: command.SetStructure{ID: obj1, Field: 12, Value: []byte{1, 2, 3}}},
		{Channel: unordered(), Creator: localMember, Cmd: command.IncrementLong{ID: obj1, Field: 10, Increment: 5}},
		{Channel: unordered(), Creator: localMember, Cmd: command.AddItem{ID: obj1, Field: 13, Value: []byte("item")}},
		{Channel: unordered(), Creator: localMember, Cmd: command.Event{ID: obj2, Field: 1, Value: []byte("ev")}},
		{Channel: unordered(), Creator: localMember, Cmd: command.TargetEvent{ID: obj2, Field: 1, Value: []byte("te"), Target: 9}},
		{Channel: unordered(), Creator: localMember, Cmd: command.DeleteField{ID: obj1, Field: 12, Kind: command.FieldStructure}},
		{Channel: unordered(), Creator: localMember, Cmd: command.Delete{ID: obj2}},
		{Channel: unordered(), Creator: localMember, Cmd: command.AttachToRoom{}},
		{Channel: unordered(), Creator: localMember, Cmd: command.DetachFromRoom{}},
	}

	body, err := Encode(envs, localMember)
	require.NoError(t, err)

	got, err := Decode(body, localMember)
	require.NoError(t, err)
	require.Equal(t, envs, got)
}

func TestRoundTripOrderedChannelSequence(t *testing.T) {
	const localMember = uint16(1)
	obj := command.ObjectID{ID: 5, Owner: command.RoomOwner()}
	ch := func(seq channelid.Sequence) channelid.Channel {
		return channelid.Channel{Type: channelid.ReliableSequence, Group: 4, Seq: seq}
	}

	envs := []command.Envelope{
		{Channel: ch(1), Creator: localMember, Cmd: command.SetLong{ID: obj, Field: 1, Value: 1}},
		{Channel: ch(2), Creator: localMember, Cmd: command.SetLong{ID: obj, Field: 1, Value: 2}},
		{Channel: ch(3), Creator: localMember, Cmd: command.SetLong{ID: obj, Field: 1, Value: 3}},
	}

	body, err := Encode(envs, localMember)
	require.NoError(t, err)

	got, err := Decode(body, localMember)
	require.NoError(t, err)
	require.Equal(t, envs, got)
}

func TestRoundTripForwardedCommand(t *testing.T) {
	const localMember = uint16(2) // the super-member receiving the notification
	const originalCreator = uint16(99)
	obj := command.ObjectID{ID: 1, Owner: command.RoomOwner()} // distinct from originalCreator: forces creatorExplicit

	envs := []command.Envelope{
		{
			Channel: unordered(),
			Creator: originalCreator,
			Cmd: command.Forwarded{
				Creator: originalCreator,
				Inner:   command.SetLong{ID: obj, Field: 4, Value: 77},
			},
		},
	}

	body, err := Encode(envs, localMember)
	require.NoError(t, err)

	got, err := Decode(body, localMember)
	require.NoError(t, err)
	require.Equal(t, envs, got)
}

func TestRoundTripCreatorObjectOwner(t *testing.T) {
	const localMember = uint16(1) // the frame's own member, distinct from the object's owner
	const owner = uint16(55)
	obj := command.ObjectID{ID: 1, Owner: command.MemberOwner(owner)}

	envs := []command.Envelope{
		{Channel: unordered(), Creator: owner, Cmd: command.SetLong{ID: obj, Field: 1, Value: 1}},
	}

	body, err := Encode(envs, localMember)
	require.NoError(t, err)

	got, err := Decode(body, localMember)
	require.NoError(t, err)
	require.Equal(t, envs, got)
}

func TestEmptyBody(t *testing.T) {
	body, err := Encode(nil, 1)
	require.NoError(t, err)
	got, err := Decode(body, 1)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestTrailingBytesRejected(t *testing.T) {
	body, err := Encode([]command.Envelope{
		{Channel: unordered(), Creator: 1, Cmd: command.Delete{ID: command.ObjectID{ID: 1, Owner: command.RoomOwner()}}},
	}, 1)
	require.NoError(t, err)
	body = append(body, 0xFF)
	_, err = Decode(body, 1)
	require.Error(t, err)
}
