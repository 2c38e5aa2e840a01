package varint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, MaxLiteral, MaxLiteral + 1,
		0xFF - 1, 0xFF,
		0xFFFF - 1, 0xFFFF,
		0xFFFFFF - 1, 0xFFFFFF,
		0xFFFFFFFF - 1, 0xFFFFFFFF,
		0xFFFFFFFFFFFF - 1, 0xFFFFFFFFFFFF,
		^uint64(0) - 1, ^uint64(0),
	}
	for _, v := range values {
		buf := Append(nil, v)
		require.Equal(t, Len(v), len(buf), "len mismatch for %d", v)
		r := NewReader(buf)
		got, err := r.Read()
		require.NoError(t, err)
		require.Equal(t, v, got, "round trip mismatch for %d", v)
		require.Equal(t, len(buf), r.Pos())
	}
}

func TestBoundaryTags(t *testing.T) {
	cases := []struct {
		v       uint64
		tag     byte
		encLen  int
	}{
		{0, 0, 1},
		{MaxLiteral, MaxLiteral, 1},
		{MaxLiteral + 1, tagU8, 2},
		{0xFFFF, tagU16, 3},
		{0xFFFFFF, tagU24, 4},
		{0xFFFFFFFF, tagU32, 5},
		{0xFFFFFFFFFFFF, tagU48, 7},
		{^uint64(0), tagU64, 9},
	}
	for _, c := range cases {
		buf := Append(nil, c.v)
		require.Len(t, buf, c.encLen)
		require.Equal(t, c.tag, buf[0])
	}
}

func TestTruncated(t *testing.T) {
	r := NewReader([]byte{tagU32, 1, 2})
	_, err := r.Read()
	require.ErrorIs(t, err, ErrTruncated)
}

func TestTagWithoutPayloadTruncated(t *testing.T) {
	// 255 is a valid tag (tagU64); a buffer that ends right after the
	// tag byte, with none of its eight trailing bytes, must fail.
	r := NewReader([]byte{tagU64})
	_, err := r.Read()
	require.ErrorIs(t, err, ErrTruncated)
}
