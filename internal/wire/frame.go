// Package wire implements the bit-exact frame codec: a varint-prefixed
// header list followed by an AEAD-sealed, snappy-compressed command
// body, with a per-member HKDF-derived sub-key used before sealing.
package wire

import (
	"crypto/sha256"
	"errors"
	"io"

	"github.com/golang/snappy"
	"github.com/katzenpost/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/gameroom/relay/internal/varint"
)

// ErrAuthFailed is returned when AEAD authentication fails. The caller
// must drop the frame silently and must not distinguish this from a
// malformed frame in anything observable to the peer.
var ErrAuthFailed = errors.New("wire: authentication failed")

// sealInfo is the HKDF context label separating the frame-seal sub-key
// from any other key derived from the same member master key.
var sealInfo = []byte("relay-frame-seal-v1")

// DeriveSealKey expands a member's 32-byte shared master key into the
// AEAD key actually used to seal frames.
func DeriveSealKey(masterKey [32]byte) ([32]byte, error) {
	var out [32]byte
	kdf := hkdf.New(sha256.New, masterKey[:], nil, sealInfo)
	if _, err := io.ReadFull(kdf, out[:]); err != nil {
		return out, err
	}
	return out, nil
}

// Frame is one UDP datagram payload.
type Frame struct {
	ConnectionID uint64
	FrameID      uint64
	Reliable     bool
	Headers      []Header
	// Body is the plaintext command-stream payload: a varint command
	// count followed by the command codec's byte stream. Encode
	// compresses+seals it; Decode decompresses+opens it but does not
	// itself interpret the command stream.
	Body []byte
}

// MemberAndRoomID returns the frame's routing header, if present.
func (f *Frame) MemberAndRoomID() (MemberAndRoomID, bool) {
	for _, h := range f.Headers {
		if m, ok := h.(MemberAndRoomID); ok {
			return m, true
		}
	}
	return MemberAndRoomID{}, false
}

// HeaderByTag returns the first header with the given tag, if present.
func (f *Frame) HeaderByTag(tag Tag) (Header, bool) {
	for _, h := range f.Headers {
		if h.Tag() == tag {
			return h, true
		}
	}
	return nil, false
}

func nonceFromFrameID(frameID uint64, size int) []byte {
	nonce := make([]byte, size)
	// Big-endian frame id right-justified in the nonce.
	for i := 0; i < 8 && i < size; i++ {
		nonce[size-1-i] = byte(frameID >> (8 * i))
	}
	return nonce
}

func appendPrefixAndHeaders(dst []byte, f *Frame) []byte {
	dst = varint.Append(dst, f.ConnectionID)
	dst = varint.Append(dst, f.FrameID)
	if f.Reliable {
		dst = append(dst, 1)
	} else {
		dst = append(dst, 0)
	}
	dst = varint.Append(dst, uint64(len(f.Headers)))
	for _, h := range f.Headers {
		dst = append(dst, byte(h.Tag()))
		dst = h.appendTo(dst)
	}
	return dst
}

// Encode serialises f, compressing and AEAD-sealing the body under the
// key derived from masterKey. Associated data is the already-written
// prefix+headers bytes.
func Encode(f *Frame, masterKey [32]byte) ([]byte, error) {
	key, err := DeriveSealKey(masterKey)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	prefix := appendPrefixAndHeaders(nil, f)
	nonce := nonceFromFrameID(f.FrameID, aead.NonceSize())
	compressed := snappy.Encode(nil, f.Body)
	sealed := aead.Seal(nil, nonce, compressed, prefix)
	return append(prefix, sealed...), nil
}

// KeyLookup resolves the AEAD master key for a given (room, member) pair
// carried in the MemberAndRoomId header.
type KeyLookup func(roomID, memberID uint64) (masterKey [32]byte, ok bool)

// Decode parses and opens a wire frame. Wire-format errors yield
// *FormatError (drop, log); a failed AEAD open yields ErrAuthFailed
// (drop silently, no distinguishing log).
func Decode(buf []byte, lookup KeyLookup) (*Frame, error) {
	r := varint.NewReader(buf)
	connID, err := r.Read()
	if err != nil {
		return nil, &FormatError{"connection_id: " + err.Error()}
	}
	frameID, err := r.Read()
	if err != nil {
		return nil, &FormatError{"frame_id: " + err.Error()}
	}
	relByte, err := r.ReadByte()
	if err != nil {
		return nil, &FormatError{"reliability: " + err.Error()}
	}
	if relByte != 0 && relByte != 1 {
		return nil, &FormatError{"reliability: not 0 or 1"}
	}
	headerCount, err := r.Read()
	if err != nil {
		return nil, &FormatError{"header_count: " + err.Error()}
	}
	const maxHeaders = 64
	if headerCount > maxHeaders {
		return nil, &FormatError{"header_count: too large"}
	}
	headers := make([]Header, 0, headerCount)
	for i := uint64(0); i < headerCount; i++ {
		tagByte, err := r.ReadByte()
		if err != nil {
			return nil, &FormatError{"header tag: " + err.Error()}
		}
		h, err := decodeHeader(Tag(tagByte), r)
		if err != nil {
			return nil, err
		}
		headers = append(headers, h)
	}
	prefixLen := r.Pos()
	prefix := buf[:prefixLen]
	sealed := buf[prefixLen:]

	f := &Frame{
		ConnectionID: connID,
		FrameID:      frameID,
		Reliable:     relByte == 1,
		Headers:      headers,
	}

	m, ok := f.MemberAndRoomID()
	if !ok {
		return nil, &FormatError{"missing MemberAndRoomId header"}
	}
	masterKey, ok := lookup(m.RoomID, m.MemberID)
	if !ok {
		return nil, &FormatError{"unknown room/member"}
	}
	key, err := DeriveSealKey(masterKey)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	nonce := nonceFromFrameID(frameID, aead.NonceSize())
	compressed, err := aead.Open(nil, nonce, sealed, prefix)
	if err != nil {
		return nil, ErrAuthFailed
	}
	body, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, &FormatError{"body decompression: " + err.Error()}
	}
	f.Body = body
	return f, nil
}
