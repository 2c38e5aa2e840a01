// Package protocol composes the frame codec, reliability layer,
// congestion controller and command collectors into one per-peer
// state machine, with Go's explicit error returns and no interior
// mutability tricks.
package protocol

import (
	"time"

	"github.com/gameroom/relay/internal/channelid"
	"github.com/gameroom/relay/internal/codec"
	"github.com/gameroom/relay/internal/collector"
	"github.com/gameroom/relay/internal/command"
	"github.com/gameroom/relay/internal/congestion"
	"github.com/gameroom/relay/internal/reliability"
	"github.com/gameroom/relay/internal/wire"
)

// Config is the identity/keying material a State needs to seal and
// open frames for one member.
type Config struct {
	ConnectionID uint64
	RoomID       uint64
	MemberID     uint64
	LocalMember  uint16
	MasterKey    [32]byte
}

// State is the per-peer protocol aggregate.
type State struct {
	cfg Config

	nextFrameID uint64

	replay      reliability.ReplayProtection
	acks        reliability.AckSender
	retransmit  *reliability.Retransmitter
	rtt         *reliability.Estimator
	congestion  *congestion.Controller
	liveness    *reliability.LivenessWatcher

	in  *collector.Inbound
	out *collector.Outbound

	disconnected     bool
	disconnectReason wire.DisconnectReason
	everReceived     bool

	// pendingEcho holds self_time_micros values received via
	// RttRequest that must be echoed back as RttResponse on the next
	// outgoing frame.
	pendingEcho []uint64
}

// NewState returns a fresh per-peer state, as if a frame had just been
// exchanged at now (so keep-alive/timeout clocks start from here).
func NewState(cfg Config, now time.Time) *State {
	return &State{
		cfg:        cfg,
		retransmit: reliability.NewRetransmitter(),
		rtt:        reliability.NewEstimator(),
		congestion: congestion.NewController(),
		liveness:   reliability.NewLivenessWatcher(now),
		in:         collector.NewInbound(),
		out:        collector.NewOutbound(cfg.LocalMember),
	}
}

// Disconnect marks the state locally disconnected, as if a Disconnect
// header were about to be sent with reason.
func (s *State) Disconnect(reason wire.DisconnectReason) {
	s.disconnected = true
	s.disconnectReason = reason
}

// IsDisconnected is the logical OR of this state's three disconnect
// triggers.
func (s *State) IsDisconnected(now time.Time) bool {
	if s.disconnected {
		return true
	}
	if s.liveness.TimedOut(now) {
		s.disconnected = true
		s.disconnectReason = wire.DisconnectReasonTimeout
		return true
	}
	return false
}

// IsConnected requires at least one received frame and no disconnect.
func (s *State) IsConnected(now time.Time) bool {
	return s.everReceived && !s.IsDisconnected(now)
}

// MasterKey returns the peer's AEAD master key, for a server's
// wire.KeyLookup to resolve an inbound datagram's sender before a
// *State for it has even been found.
func (s *State) MasterKey() [32]byte { return s.cfg.MasterKey }

// Enqueue queues an S2C (or C2S, for a client-side State) command for
// delivery to this peer on the given channel.
func (s *State) Enqueue(chType channelid.Type, group channelid.Group, creator uint16, cmd command.Command) {
	s.out.Enqueue(chType, group, creator, cmd)
}

// OnFrameReceived runs disconnect-watcher bookkeeping, replay
// protection, and feeds accepted headers/body into the reliability
// layer and inbound collector. The caller is responsible for having
// already authenticated and decompressed f via wire.Decode.
func (s *State) OnFrameReceived(f *wire.Frame, now time.Time) error {
	s.liveness.OnReceived(now)
	s.everReceived = true

	if d, ok := f.HeaderByTag(wire.TagDisconnect); ok {
		s.disconnected = true
		s.disconnectReason = d.(wire.Disconnect).Reason
		return nil
	}

	if !s.replay.Accept(f.FrameID) {
		return nil // a replayed frame is dropped silently
	}

	// A retransmission carries a new frame_id but the same original
	// commands; acks and command dedup both key off the original id
	// so the sender's pending-frame entry actually clears.
	sourceFrameID := f.FrameID
	if orig, ok := f.HeaderByTag(wire.TagOriginalFrameID); ok {
		sourceFrameID = orig.(wire.OriginalFrameID).OriginalFrameID
	}

	if f.Reliable {
		s.acks.Record(sourceFrameID, now)
	}

	if ack, ok := f.HeaderByTag(wire.TagAck); ok {
		s.handleAck(ack.(wire.Ack), now)
	}
	if req, ok := f.HeaderByTag(wire.TagRttRequest); ok {
		s.pendingEcho = append(s.pendingEcho, req.(wire.RttRequest).SelfTimeMicros)
	}
	if resp, ok := f.HeaderByTag(wire.TagRttResponse); ok {
		s.handleRttResponse(resp.(wire.RttResponse), now)
	}

	if len(f.Body) == 0 {
		return nil
	}
	envs, err := codec.Decode(f.Body, s.cfg.LocalMember)
	if err != nil {
		return err // wire-format error, caller logs and drops
	}
	for i, env := range envs {
		s.in.Feed(sourceFrameID, i, env)
	}
	return nil
}

func (s *State) handleAck(ack wire.Ack, now time.Time) {
	s.retransmit.Ack(ack.BaseFrameID)
	for delta := 0; delta < wire.AckBitsetFollowing; delta++ {
		if ack.Has(ack.BaseFrameID + 1 + uint64(delta)) {
			s.retransmit.Ack(ack.BaseFrameID + 1 + uint64(delta))
		}
	}
}

// handleRttResponse computes rtt directly from the echoed timestamp,
// since self_time is itself the sender's own clock reading rather than
// an opaque id.
func (s *State) handleRttResponse(resp wire.RttResponse, now time.Time) {
	sentAt := time.UnixMicro(int64(resp.SelfTimeMicros))
	rtt := now.Sub(sentAt)
	if rtt < 0 {
		return // clock skew or corrupted echo: ignore rather than poison the estimate
	}
	s.rtt.Sample(rtt)
	s.congestion.Sample(rtt)
}

// Drain returns the commands the inbound collector released this
// cycle, ready for room-engine execution.
func (s *State) Drain() []command.Envelope { return s.in.Drain() }
