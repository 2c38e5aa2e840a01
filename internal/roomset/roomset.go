// Package roomset owns every room hosted by one server process: the
// room registry, the datagram dispatch table routing an inbound frame
// to its bound protocol state, and the management-task queue the admin
// surface feeds.
package roomset

import (
	"fmt"
	"time"

	"gopkg.in/eapache/channels.v1"

	"github.com/charmbracelet/log"

	"github.com/gameroom/relay/internal/logctx"
	"github.com/gameroom/relay/internal/protocol"
	"github.com/gameroom/relay/internal/room"
	"github.com/gameroom/relay/internal/wire"
)

// RoomSet is the single-threaded server loop's view of every hosted
// room. None of its methods are safe for concurrent use except
// SubmitTask, which the admin surface calls from its own goroutine.
type RoomSet struct {
	rooms      map[uint64]*room.Room
	roomOrder  []uint64
	nextRoomID uint64

	dispatch *dispatchTable
	notFound *notFoundThrottle
	tasks    *channels.InfiniteChannel

	dump func(*room.Room) ([]byte, error)

	log *log.Logger
}

// New returns an empty room set with its management queue ready to
// accept tasks.
func New() *RoomSet {
	return &RoomSet{
		rooms:    make(map[uint64]*room.Room),
		dispatch: newDispatchTable(),
		notFound: newNotFoundThrottle(),
		tasks:    channels.NewInfiniteChannel(),
		log:      logctx.New("roomset"),
	}
}

// GetRoom looks up a hosted room, recording a throttled not-found log
// line on miss: a dropped datagram for an unknown room logs at most
// once per (room_id, minute).
func (rs *RoomSet) GetRoom(roomID uint64, now time.Time) (*room.Room, bool) {
	r, ok := rs.rooms[roomID]
	if !ok {
		if rs.notFound.ShouldLog(roomID, now) {
			rs.log.Warn("room not found", "room_id", roomID)
		}
		return nil, false
	}
	return r, true
}

// createRoom allocates and registers a new room.
func (rs *RoomSet) createRoom(tpl room.RoomTemplate) uint64 {
	rs.nextRoomID++
	id := rs.nextRoomID
	rs.rooms[id] = room.NewRoom(id, tpl)
	rs.roomOrder = append(rs.roomOrder, id)
	return id
}

// destroyRoom tears a room down: every bound peer is dropped from the
// dispatch table and the room itself is forgotten. There is no S2C
// notification; a server-initiated room teardown is an administrative
// act, not a protocol event.
func (rs *RoomSet) destroyRoom(roomID uint64) {
	delete(rs.rooms, roomID)
	for i, id := range rs.roomOrder {
		if id == roomID {
			rs.roomOrder = append(rs.roomOrder[:i], rs.roomOrder[i+1:]...)
			break
		}
	}
	rs.dispatch.removeRoom(roomID)
}

// BindPeer registers state as the protocol bound to (roomID,
// memberID), so the server loop's dispatch table can route inbound
// frames to it.
func (rs *RoomSet) BindPeer(roomID uint64, memberID uint16, state *protocol.State) {
	rs.dispatch.put(roomID, memberID, state)
}

// UnbindPeer removes a peer from the dispatch table, called once its
// member has been disconnected from the room.
func (rs *RoomSet) UnbindPeer(roomID uint64, memberID uint16) {
	rs.dispatch.remove(roomID, memberID)
}

// Route returns the protocol state bound to (roomID, memberID), for
// the server loop to hand a decoded frame to.
func (rs *RoomSet) Route(roomID uint64, memberID uint16) (*protocol.State, bool) {
	return rs.dispatch.get(roomID, memberID)
}

// KeyLookup returns a wire.KeyLookup resolving a bound peer's AEAD
// master key from its own MemberAndRoomId header, so wire.Decode can
// open an inbound datagram before the server loop knows anything else
// about its sender. A member id outside uint16's range can never match
// a bound peer and simply misses.
func (rs *RoomSet) KeyLookup() wire.KeyLookup {
	return func(roomID, memberID uint64) ([32]byte, bool) {
		if memberID > 0xffff {
			return [32]byte{}, false
		}
		state, ok := rs.dispatch.get(roomID, uint16(memberID))
		if !ok {
			return [32]byte{}, false
		}
		return state.MasterKey(), true
	}
}

// RunInbound drains every bound member's protocol state and replays
// its accumulated commands through the room engine. Errors are
// dropped and logged: permission/not-found/validation failures never
// abort the sweep.
func (rs *RoomSet) RunInbound(roomID uint64) {
	r, ok := rs.rooms[roomID]
	if !ok {
		return
	}
	for _, m := range r.Members() {
		state, ok := rs.dispatch.get(roomID, m.ID)
		if !ok {
			continue
		}
		for _, env := range state.Drain() {
			if err := r.Execute(m, env); err != nil {
				rs.log.Warn("command dropped", "room_id", roomID, "member_id", m.ID, "err", err)
			}
		}
	}
}

// CollectOutbound moves every room member's fanned-out S2C envelopes
// into its bound protocol state's outbound collector. A member with no
// bound peer (registered but never connected) simply has its queue
// discarded; nothing else is observing it.
func (rs *RoomSet) CollectOutbound(roomID uint64) {
	r, ok := rs.rooms[roomID]
	if !ok {
		return
	}
	for _, m := range r.Members() {
		state, ok := rs.dispatch.get(roomID, m.ID)
		if !ok {
			m.Drain()
			continue
		}
		for _, env := range m.Drain() {
			state.Enqueue(env.Channel.Type, env.Channel.Group, env.Creator, env.Cmd)
		}
	}
}

// SetDumpEncoder installs the function TaskDump uses to serialise a
// room's snapshot (internal/snapshotio.Encode), kept out of this
// package's own import graph so roomset need not depend on the wire
// format it merely invokes.
func (rs *RoomSet) SetDumpEncoder(encode func(*room.Room) ([]byte, error)) {
	rs.dump = encode
}

// Rooms returns every hosted room id, in creation order, for the
// server loop to iterate each cycle.
func (rs *RoomSet) Rooms() []uint64 {
	out := make([]uint64, len(rs.roomOrder))
	copy(out, rs.roomOrder)
	return out
}

// SubmitTask enqueues a management task for the server loop to drain;
// safe to call from the admin surface's own goroutine since the
// underlying channel is an unbounded, thread-safe FIFO.
func (rs *RoomSet) SubmitTask(t ManagementTask) {
	rs.tasks.In() <- t
}

// DrainOneTask pops and executes at most one queued management task,
// polled at most once per server cycle. It reports whether a task was
// found.
func (rs *RoomSet) DrainOneTask() bool {
	select {
	case v, ok := <-rs.tasks.Out():
		if !ok {
			return false
		}
		rs.executeTask(v.(ManagementTask))
		return true
	default:
		return false
	}
}

func (rs *RoomSet) executeTask(t ManagementTask) {
	switch t.Kind {
	case TaskCreateRoom:
		id := rs.createRoom(t.RoomTemplate)
		t.reply(ManagementResult{RoomID: id})
	case TaskRegisterMember:
		r, ok := rs.rooms[t.RoomID]
		if !ok {
			t.reply(ManagementResult{Err: &room.NotFoundError{Kind: "room", What: fmt.Sprintf("%d", t.RoomID)}})
			return
		}
		memberID, err := r.RegisterMember(t.MemberTemplate)
		if err != nil {
			t.reply(ManagementResult{Err: err})
			return
		}
		t.reply(ManagementResult{RoomID: t.RoomID, MemberID: memberID, PrivateKey: t.MemberTemplate.PrivateKey})
	case TaskDisconnectMember:
		r, ok := rs.rooms[t.RoomID]
		if !ok {
			t.reply(ManagementResult{Err: &room.NotFoundError{Kind: "room", What: fmt.Sprintf("%d", t.RoomID)}})
			return
		}
		err := r.DisconnectMember(t.MemberID)
		rs.dispatch.remove(t.RoomID, t.MemberID)
		t.reply(ManagementResult{Err: err})
	case TaskDump:
		r, ok := rs.rooms[t.RoomID]
		if !ok {
			t.reply(ManagementResult{Err: &room.NotFoundError{Kind: "room", What: fmt.Sprintf("%d", t.RoomID)}})
			return
		}
		if rs.dump == nil {
			t.reply(ManagementResult{RoomID: t.RoomID, Err: fmt.Errorf("roomset: no dump encoder installed")})
			return
		}
		snapshot, err := rs.dump(r)
		t.reply(ManagementResult{RoomID: t.RoomID, Snapshot: snapshot, Err: err})
	case TaskShutdown:
		for _, id := range append([]uint64(nil), rs.roomOrder...) {
			rs.destroyRoom(id)
		}
		t.reply(ManagementResult{})
	}
}
