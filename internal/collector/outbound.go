package collector

import (
	"github.com/gameroom/relay/internal/channelid"
	"github.com/gameroom/relay/internal/codec"
	"github.com/gameroom/relay/internal/command"
)

// MaxFrameBody is the largest encoded command-stream body the outbound
// collector will pack into a single frame before leaving the remainder
// queued for the next cycle.
const MaxFrameBody = 1200

// nextSeq is the per-(channel-type,group) monotonic sequence allocator
// shared by every ordered/sequence channel an outbound collector
// emits on.
type nextSeq struct {
	counters map[channelid.Key]channelid.Sequence
}

func newNextSeq() *nextSeq {
	return &nextSeq{counters: make(map[channelid.Key]channelid.Sequence)}
}

func (n *nextSeq) allocate(key channelid.Key) channelid.Sequence {
	next := n.counters[key]
	n.counters[key] = next + 1
	return next
}

// Outbound queues commands for one peer and packs them into
// MAX_FRAME_SIZE-bounded bodies FIFO.
type Outbound struct {
	seq         *nextSeq
	localMember uint16
	queue       []command.Envelope
}

// NewOutbound returns an empty outbound collector. localMember is the
// peer this collector serves, used by the codec to pick the most
// compact creator_source per command.
func NewOutbound(localMember uint16) *Outbound {
	return &Outbound{seq: newNextSeq(), localMember: localMember, queue: nil}
}

// Enqueue appends cmd for delivery on the given channel type/group,
// allocating the next sequence number if the channel is ordered.
func (o *Outbound) Enqueue(chType channelid.Type, group channelid.Group, creator uint16, cmd command.Command) {
	ch := channelid.Channel{Type: chType, Group: group}
	if chType.Ordered() {
		ch.Seq = o.seq.allocate(ch.Key())
	}
	o.queue = append(o.queue, command.Envelope{Channel: ch, Creator: creator, Cmd: cmd})
}

// HasData reports whether any command is queued.
func (o *Outbound) HasData() bool { return len(o.queue) > 0 }

// Pack pops commands FIFO and encodes as many as fit within
// MaxFrameBody, leaving the remainder queued for the next call.
// It returns nil, false if nothing was queued.
func (o *Outbound) Pack() ([]byte, bool, error) {
	if len(o.queue) == 0 {
		return nil, false, nil
	}
	lo, hi := 0, len(o.queue)
	bestLen := 0
	var bestBody []byte
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		body, err := codec.Encode(o.queue[:mid], o.localMember)
		if err != nil {
			return nil, false, err
		}
		if len(body) <= MaxFrameBody {
			bestLen, bestBody = mid, body
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if bestLen == 0 {
		// Even a single command doesn't fit: send it alone anyway
		// rather than stalling forever. This only happens for a
		// pathologically large SetStructure payload.
		body, err := codec.Encode(o.queue[:1], o.localMember)
		if err != nil {
			return nil, false, err
		}
		o.queue = o.queue[1:]
		return body, true, nil
	}
	o.queue = o.queue[bestLen:]
	return bestBody, true, nil
}

// Pending reports how many commands remain queued.
func (o *Outbound) Pending() int { return len(o.queue) }
