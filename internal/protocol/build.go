package protocol

import (
	"time"

	"github.com/gameroom/relay/internal/reliability"
	"github.com/gameroom/relay/internal/wire"
)

// BuildNextFrame first tries to pull a due retransmission (reusing its
// already-allocated frame_id is wrong per the wire invariant that
// frame_id strictly increases per sender, so a retransmission gets a
// fresh frame_id and an OriginalFrameId header instead); otherwise, if
// any sub-component has data, build a new frame from scratch. Returns
// nil, false if there is nothing to send this cycle.
func (s *State) BuildNextFrame(now time.Time) (*wire.Frame, bool) {
	if f, ok := s.buildRetransmission(now); ok {
		return f, true
	}
	if !s.hasData(now) {
		return nil, false
	}
	return s.buildFresh(now), true
}

func (s *State) hasData(now time.Time) bool {
	if _, due := s.acks.Due(now); due {
		return true
	}
	if len(s.pendingEcho) > 0 {
		return true
	}
	if s.out.HasData() {
		return true
	}
	if s.liveness.NeedsKeepAlive(now) {
		return true
	}
	if s.disconnected {
		return true
	}
	return false
}

func (s *State) buildRetransmission(now time.Time) (*wire.Frame, bool) {
	rto := s.rtt.RTO()
	if rto < reliability.RetransmitFloor {
		rto = reliability.RetransmitFloor
	}
	due := s.retransmit.Due(now, s.congestion.Scale(rto))
	if len(due) == 0 {
		return nil, false
	}
	originalID := due[0]
	body, retransmitCount, ok := s.retransmit.MarkResent(originalID, now)
	if !ok {
		// Retransmit limit exceeded: the caller's next IsDisconnected
		// check will observe this and tear the peer down.
		s.disconnected = true
		s.disconnectReason = wire.DisconnectReasonRetransmitLimit
		return nil, false
	}
	frameID := s.allocateFrameID()
	headers := []wire.Header{
		wire.MemberAndRoomID{RoomID: s.cfg.RoomID, MemberID: s.cfg.MemberID},
		wire.OriginalFrameID{OriginalFrameID: originalID, RetransmitCount: retransmitCount},
	}
	headers = s.appendAmbientHeaders(headers, now)
	f := &wire.Frame{
		ConnectionID: s.cfg.ConnectionID,
		FrameID:      frameID,
		Reliable:     true,
		Headers:      headers,
		Body:         body,
	}
	s.liveness.OnSent(now)
	return f, true
}

func (s *State) buildFresh(now time.Time) *wire.Frame {
	frameID := s.allocateFrameID()

	var body []byte
	reliable := false
	if s.out.HasData() {
		if b, ok, _ := s.out.Pack(); ok {
			body = b
			reliable = true
		}
	}

	headers := []wire.Header{
		wire.MemberAndRoomID{RoomID: s.cfg.RoomID, MemberID: s.cfg.MemberID},
	}
	headers = s.appendAmbientHeaders(headers, now)
	if s.disconnected {
		headers = append(headers, wire.Disconnect{Reason: s.disconnectReason})
	}

	f := &wire.Frame{
		ConnectionID: s.cfg.ConnectionID,
		FrameID:      frameID,
		Reliable:     reliable,
		Headers:      headers,
		Body:         body,
	}
	if reliable {
		s.retransmit.Track(frameID, body, now)
	}
	s.liveness.OnSent(now)
	return f
}

// appendAmbientHeaders attaches ack batches, RTT echo/probe headers
// and a keep-alive RttRequest, shared by both the retransmission and
// fresh-frame build paths.
func (s *State) appendAmbientHeaders(headers []wire.Header, now time.Time) []wire.Header {
	if ack, due := s.acks.Due(now); due {
		headers = append(headers, ack)
		s.acks.MarkSent(now)
	}
	for _, echo := range s.pendingEcho {
		headers = append(headers, wire.RttResponse{SelfTimeMicros: echo})
	}
	s.pendingEcho = nil

	if s.liveness.NeedsKeepAlive(now) {
		headers = append(headers, wire.RttRequest{SelfTimeMicros: uint64(now.UnixMicro())})
	}
	return headers
}

func (s *State) allocateFrameID() uint64 {
	s.nextFrameID++
	return s.nextFrameID
}
