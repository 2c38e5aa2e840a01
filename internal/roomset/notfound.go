package roomset

import (
	"encoding/binary"
	"time"

	"github.com/yawning/bloom"
)

// notFoundEstimate bounds the expected number of distinct not-found
// room ids logged within one minute; the filter resets every minute
// regardless, since only "once per (room_id, minute)" is required,
// not a durable count.
const notFoundEstimate = 1024

// notFoundThrottle answers "have I already logged a room-not-found
// for this room this minute" without keeping an ever-growing exact
// set. A false positive just costs a missed log line, never a wrong
// drop.
type notFoundThrottle struct {
	epoch  int64
	filter *bloom.BloomFilter
}

func newNotFoundThrottle() *notFoundThrottle {
	return &notFoundThrottle{filter: bloom.NewWithEstimates(notFoundEstimate, 0.01)}
}

// ShouldLog reports whether this is the first time roomID has been
// seen missing in now's one-minute bucket, recording it if so.
func (t *notFoundThrottle) ShouldLog(roomID uint64, now time.Time) bool {
	epoch := now.Unix() / 60
	if epoch != t.epoch {
		t.epoch = epoch
		t.filter = bloom.NewWithEstimates(notFoundEstimate, 0.01)
	}
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], roomID)
	if t.filter.Test(key[:]) {
		return false
	}
	t.filter.Add(key[:])
	return true
}
