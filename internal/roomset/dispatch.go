package roomset

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/dchest/siphash"

	"github.com/gameroom/relay/internal/protocol"
)

// peer pairs a bound protocol state with the room/member it belongs
// to, the unit the dispatch table routes inbound frames to.
type peer struct {
	roomID   uint64
	memberID uint16
	state    *protocol.State
}

type peerKey struct {
	roomID   uint64
	memberID uint16
}

func (k peerKey) bytes() []byte {
	var b [10]byte
	binary.BigEndian.PutUint64(b[0:8], k.roomID)
	binary.BigEndian.PutUint16(b[8:10], k.memberID)
	return b[:]
}

// dispatchTable routes a (room_id, member_id) pair from a
// MemberAndRoomId header to the peer's protocol state. It hashes with
// a per-process random siphash key rather than a plain map so that a
// peer who can choose its own room_id/member_id (an attacker probing
// for hash-flooding) can't predict which bucket it lands in.
type dispatchTable struct {
	k0, k1  uint64
	buckets map[uint64][]*peer
}

func newDispatchTable() *dispatchTable {
	var seed [16]byte
	if _, err := rand.Read(seed[:]); err != nil {
		// crypto/rand failing means the platform's entropy source is
		// broken; fall back to a fixed key rather than panic the
		// server loop.
	}
	return &dispatchTable{
		k0:      binary.LittleEndian.Uint64(seed[0:8]),
		k1:      binary.LittleEndian.Uint64(seed[8:16]),
		buckets: make(map[uint64][]*peer),
	}
}

func (d *dispatchTable) hash(k peerKey) uint64 {
	return siphash.Hash(d.k0, d.k1, k.bytes())
}

// put registers or replaces the peer for (roomID, memberID).
func (d *dispatchTable) put(roomID uint64, memberID uint16, state *protocol.State) {
	k := peerKey{roomID: roomID, memberID: memberID}
	h := d.hash(k)
	bucket := d.buckets[h]
	for i, p := range bucket {
		if p.roomID == roomID && p.memberID == memberID {
			bucket[i] = &peer{roomID: roomID, memberID: memberID, state: state}
			return
		}
	}
	d.buckets[h] = append(bucket, &peer{roomID: roomID, memberID: memberID, state: state})
}

// get looks up the protocol state bound to (roomID, memberID).
func (d *dispatchTable) get(roomID uint64, memberID uint16) (*protocol.State, bool) {
	k := peerKey{roomID: roomID, memberID: memberID}
	h := d.hash(k)
	for _, p := range d.buckets[h] {
		if p.roomID == roomID && p.memberID == memberID {
			return p.state, true
		}
	}
	return nil, false
}

// remove drops the peer at (roomID, memberID), if present.
func (d *dispatchTable) remove(roomID uint64, memberID uint16) {
	k := peerKey{roomID: roomID, memberID: memberID}
	h := d.hash(k)
	bucket := d.buckets[h]
	for i, p := range bucket {
		if p.roomID == roomID && p.memberID == memberID {
			d.buckets[h] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

// removeRoom drops every peer belonging to roomID, used when a room
// is torn down.
func (d *dispatchTable) removeRoom(roomID uint64) {
	for h, bucket := range d.buckets {
		kept := bucket[:0]
		for _, p := range bucket {
			if p.roomID != roomID {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(d.buckets, h)
		} else {
			d.buckets[h] = kept
		}
	}
}
