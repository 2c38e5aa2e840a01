package reliability

import "time"

// RetransmitLimit is the number of unacknowledged retransmissions of
// the same frame before the peer is considered unreachable and
// disconnected.
const RetransmitLimit = 12

// RetransmitFloor is the minimum retransmit interval regardless of how
// low the measured RTT is, avoiding a runaway resend loop against a
// peer with a near-zero but jittery RTT.
const RetransmitFloor = 50 * time.Millisecond

// rtoMultiplier scales the measured RTT into a retransmit timeout;
// k=2 so one missed ack doesn't immediately trigger a resend storm
// under normal jitter.
const rtoMultiplier = 2

type pendingFrame struct {
	body            []byte
	firstSentAt     time.Time
	lastSentAt      time.Time
	retransmitCount uint8
}

// Retransmitter tracks reliable frames awaiting acknowledgement and
// decides when each is due for resend, driven synchronously from a
// tick rather than a timer-queue goroutine: no locking on the hot path
// since the whole server loop is single-threaded.
type Retransmitter struct {
	pending map[uint64]*pendingFrame
}

// NewRetransmitter returns an empty retransmitter.
func NewRetransmitter() *Retransmitter {
	return &Retransmitter{pending: make(map[uint64]*pendingFrame)}
}

// Track registers frameID as just sent reliably with the given body.
func (r *Retransmitter) Track(frameID uint64, body []byte, now time.Time) {
	r.pending[frameID] = &pendingFrame{
		body:        body,
		firstSentAt: now,
		lastSentAt:  now,
	}
}

// Ack removes frameID (and, transitively, nothing else: each
// retransmission is tracked under the original frame id via
// OriginalFrameId, so a single Ack call clears the whole chain).
func (r *Retransmitter) Ack(frameID uint64) {
	delete(r.pending, frameID)
}

// Due returns the frame ids whose retransmit timeout has elapsed,
// given the current retransmit-timeout estimate (already scaled by
// congestion). Call MarkResent for each before resending, or the next
// Due call will return the same ids again.
func (r *Retransmitter) Due(now time.Time, rto time.Duration) []uint64 {
	if rto < RetransmitFloor {
		rto = RetransmitFloor
	}
	var due []uint64
	for id, pf := range r.pending {
		if now.Sub(pf.lastSentAt) >= rto {
			due = append(due, id)
		}
	}
	return due
}

// MarkResent records a resend of frameID, returning the frame's body
// and incremented retransmit count. It returns ok=false if frameID is
// no longer pending (already acked), or if this resend pushes the count
// past RetransmitLimit, in which case the entry is dropped and the
// caller treats the peer as disconnected.
func (r *Retransmitter) MarkResent(frameID uint64, now time.Time) (body []byte, retransmitCount uint8, ok bool) {
	pf, found := r.pending[frameID]
	if !found {
		return nil, 0, false
	}
	pf.lastSentAt = now
	pf.retransmitCount++
	if pf.retransmitCount > RetransmitLimit {
		delete(r.pending, frameID)
		return pf.body, pf.retransmitCount, false
	}
	return pf.body, pf.retransmitCount, true
}

// Exceeded reports whether frameID is still pending with a retransmit
// count past RetransmitLimit. MarkResent drops an entry as soon as its
// count passes the limit, so for entries it manages this is false.
func (r *Retransmitter) Exceeded(frameID uint64) bool {
	pf, ok := r.pending[frameID]
	return ok && pf.retransmitCount > RetransmitLimit
}

// Len reports the number of frames currently awaiting acknowledgement.
func (r *Retransmitter) Len() int { return len(r.pending) }
