package reliability

import (
	"time"

	"github.com/gameroom/relay/internal/wire"
)

// MaxAckPerFrame is the number of spaced repeat copies of a pending ack
// sent before it is considered delivered, guarding against the ack
// datagram itself being lost.
const MaxAckPerFrame = 3

// AckInterval is the spacing between repeat copies of the same ack.
const AckInterval = 10 * time.Millisecond

// AckSender batches acknowledgements of received frame ids into Ack
// headers and resends each batch a bounded number of times.
type AckSender struct {
	base     uint64
	hasBase  bool
	bitset   wire.Ack
	sentAt   time.Time
	sendCnt  int
	pending  bool
}

// Record marks frameID as received, folding it into the current batch.
func (a *AckSender) Record(frameID uint64, now time.Time) {
	if !a.hasBase {
		a.hasBase = true
		a.base = frameID
		a.bitset = wire.Ack{BaseFrameID: frameID}
		a.pending = true
		a.sentAt = time.Time{}
		a.sendCnt = 0
		return
	}
	if frameID < a.base {
		// Older than the current batch's base: still useful information
		// for the peer's own retransmit bookkeeping, but our batch's
		// base never moves backward; it is the highest contiguous floor
		// we have actually reset against.
		return
	}
	a.bitset.Set(frameID)
	a.pending = true
}

// Due reports whether a header should be emitted now, returning it if
// so. Call MarkSent after actually placing it on the wire.
func (a *AckSender) Due(now time.Time) (wire.Ack, bool) {
	if !a.pending {
		return wire.Ack{}, false
	}
	if a.sendCnt > 0 && now.Sub(a.sentAt) < AckInterval {
		return wire.Ack{}, false
	}
	return a.bitset, true
}

// MarkSent records that the current batch was just placed on the wire.
func (a *AckSender) MarkSent(now time.Time) {
	a.sentAt = now
	a.sendCnt++
	if a.sendCnt >= MaxAckPerFrame {
		a.pending = false
		a.hasBase = false
		a.sendCnt = 0
	}
}

// Reset starts a fresh batch, e.g. after the base has been fully acked
// by the peer's own frames advancing past it.
func (a *AckSender) Reset() {
	*a = AckSender{}
}
