package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey() [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = byte(i + 1)
	}
	return k
}

func TestFrameRoundTrip(t *testing.T) {
	key := testKey()
	f := &Frame{
		ConnectionID: 42,
		FrameID:      7,
		Reliable:     true,
		Headers: []Header{
			MemberAndRoomID{RoomID: 1, MemberID: 2},
			RttRequest{SelfTimeMicros: 123456},
			OriginalFrameID{OriginalFrameID: 5, RetransmitCount: 1},
		},
		Body: []byte("hello game object commands"),
	}
	buf, err := Encode(f, key)
	require.NoError(t, err)

	lookup := func(roomID, memberID uint64) ([32]byte, bool) {
		if roomID == 1 && memberID == 2 {
			return key, true
		}
		return [32]byte{}, false
	}

	got, err := Decode(buf, lookup)
	require.NoError(t, err)
	require.Equal(t, f.ConnectionID, got.ConnectionID)
	require.Equal(t, f.FrameID, got.FrameID)
	require.Equal(t, f.Reliable, got.Reliable)
	require.Equal(t, f.Body, got.Body)
	require.Len(t, got.Headers, 3)
}

func TestFrameAuthFailureOnWrongKey(t *testing.T) {
	key := testKey()
	wrong := testKey()
	wrong[0] ^= 0xFF

	f := &Frame{
		ConnectionID: 1,
		FrameID:      1,
		Headers:      []Header{MemberAndRoomID{RoomID: 9, MemberID: 9}},
		Body:         []byte("x"),
	}
	buf, err := Encode(f, key)
	require.NoError(t, err)

	lookup := func(roomID, memberID uint64) ([32]byte, bool) { return wrong, true }
	_, err = Decode(buf, lookup)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestFrameUnknownHeaderTagRejected(t *testing.T) {
	key := testKey()
	f := &Frame{ConnectionID: 1, FrameID: 1, Headers: []Header{MemberAndRoomID{RoomID: 1, MemberID: 1}}}
	buf, err := Encode(f, key)
	require.NoError(t, err)

	// Layout for ConnectionID=1, FrameID=1, Reliable=false, 1 header:
	// [connID=1][frameID=1][reliability=0][header_count=1][tag][...]
	const tagIdx = 4
	require.Equal(t, byte(TagMemberAndRoomID), buf[tagIdx])
	buf[tagIdx] = 9 // undefined tag

	lookup := func(roomID, memberID uint64) ([32]byte, bool) { return key, true }
	_, err = Decode(buf, lookup)
	require.Error(t, err)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
}

func TestAckBitsetSetAndHas(t *testing.T) {
	var ack Ack
	ack.BaseFrameID = 100
	require.True(t, ack.Has(100))
	require.False(t, ack.Has(101))
	require.True(t, ack.Set(101))
	require.True(t, ack.Has(101))
	require.False(t, ack.Has(99))
	require.False(t, ack.Set(100-1-1)) // below base: ignored
}
