// Package collector implements the per-peer inbound and outbound
// command collectors: the glue between the frame-level reliability
// layer and the command-level room engine.
package collector

import (
	"github.com/gameroom/relay/internal/channelid"
	"github.com/gameroom/relay/internal/command"
)

// dedupWindow bounds how many (channel, source frame, index) triples
// the reliable-unordered dedup set remembers before evicting the
// oldest, so a long-lived connection's memory stays bounded.
const dedupWindow = 4096

// sequenceReorderWindow is how far ahead of last_released a
// ReliableSequence channel will buffer an out-of-order arrival before
// giving up on it ever filling the gap.
const sequenceReorderWindow = 64

type dedupKey struct {
	Type    channelid.Type
	FrameID uint64
	Index   int
}

type seqBuffer struct {
	hasLast bool
	last    channelid.Sequence
	pending map[channelid.Sequence]command.Envelope
}

// Inbound reassembles per-channel command order for one peer.
type Inbound struct {
	lastAcceptedSeq map[channelid.Key]channelid.Sequence
	seqBuffers      map[channelid.Key]*seqBuffer

	dedupSeen  map[dedupKey]struct{}
	dedupOrder []dedupKey

	ready []command.Envelope
}

// NewInbound returns an empty inbound collector.
func NewInbound() *Inbound {
	return &Inbound{
		lastAcceptedSeq: make(map[channelid.Key]channelid.Sequence),
		seqBuffers:      make(map[channelid.Key]*seqBuffer),
		dedupSeen:       make(map[dedupKey]struct{}),
	}
}

// Feed offers one command decoded from a frame. sourceFrameID is the
// frame's own id, or the original frame's id if this copy arrived via
// an OriginalFrameId header (a retransmission carries a new frame_id
// but the same original commands, so dedup must key off the original
// to catch it). index is the command's position within that frame's
// body.
func (in *Inbound) Feed(sourceFrameID uint64, index int, env command.Envelope) {
	switch env.Channel.Type {
	case channelid.ReliableUnordered:
		key := dedupKey{channelid.ReliableUnordered, sourceFrameID, index}
		if _, dup := in.dedupSeen[key]; dup {
			return
		}
		in.remember(key)
		in.ready = append(in.ready, env)

	case channelid.UnreliableUnordered:
		in.ready = append(in.ready, env)

	case channelid.ReliableOrdered, channelid.UnreliableOrdered:
		k := env.Channel.Key()
		last, ok := in.lastAcceptedSeq[k]
		if ok && env.Channel.Seq <= last {
			return
		}
		in.lastAcceptedSeq[k] = env.Channel.Seq
		in.ready = append(in.ready, env)

	case channelid.ReliableSequence:
		in.feedSequence(env)
	}
}

func (in *Inbound) remember(key dedupKey) {
	in.dedupSeen[key] = struct{}{}
	in.dedupOrder = append(in.dedupOrder, key)
	if len(in.dedupOrder) > dedupWindow {
		oldest := in.dedupOrder[0]
		in.dedupOrder = in.dedupOrder[1:]
		delete(in.dedupSeen, oldest)
	}
}

func (in *Inbound) feedSequence(env command.Envelope) {
	k := env.Channel.Key()
	buf, ok := in.seqBuffers[k]
	if !ok {
		buf = &seqBuffer{pending: make(map[channelid.Sequence]command.Envelope)}
		in.seqBuffers[k] = buf
	}
	if buf.hasLast && env.Channel.Seq <= buf.last {
		return // older than last_released: drop
	}
	buf.pending[env.Channel.Seq] = env
	if uint32(env.Channel.Seq) > uint32(nextWanted(buf))+sequenceReorderWindow {
		// Arrived too far ahead of the gap to ever be usefully
		// buffered; drop the farthest-ahead pending entry to bound memory.
		in.evictFarthest(buf)
	}
	in.releaseContiguous(buf)
}

func nextWanted(buf *seqBuffer) channelid.Sequence {
	if !buf.hasLast {
		return 0
	}
	return buf.last + 1
}

func (in *Inbound) releaseContiguous(buf *seqBuffer) {
	for {
		want := nextWanted(buf)
		env, ok := buf.pending[want]
		if !ok {
			return
		}
		delete(buf.pending, want)
		buf.hasLast = true
		buf.last = want
		in.ready = append(in.ready, env)
	}
}

func (in *Inbound) evictFarthest(buf *seqBuffer) {
	var farthest channelid.Sequence
	found := false
	for seq := range buf.pending {
		if !found || seq > farthest {
			farthest = seq
			found = true
		}
	}
	if found {
		delete(buf.pending, farthest)
	}
}

// Drain returns and clears the commands ready for room-engine
// execution this cycle, in the order they became ready.
func (in *Inbound) Drain() []command.Envelope {
	out := in.ready
	in.ready = nil
	return out
}
