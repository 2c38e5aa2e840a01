package roomset

import "github.com/gameroom/relay/internal/room"

// TaskKind discriminates the control surface's five calls, each
// carried as one ManagementTask through the server loop's management
// channel.
type TaskKind uint8

const (
	TaskCreateRoom TaskKind = iota
	TaskRegisterMember
	TaskDisconnectMember
	TaskDump
	TaskShutdown
)

// ManagementTask is one control-surface request, queued by the
// (out-of-scope) admin surface and drained at most once per server
// cycle. Reply, if non-nil, receives exactly one ManagementResult.
type ManagementTask struct {
	Kind TaskKind

	RoomTemplate   room.RoomTemplate  // TaskCreateRoom
	RoomID         uint64             // TaskRegisterMember, TaskDisconnectMember, TaskDump
	MemberTemplate room.MemberTemplate // TaskRegisterMember
	MemberID       uint16             // TaskDisconnectMember

	Reply chan<- ManagementResult
}

// ManagementResult carries a ManagementTask's outcome back to its
// caller. Control calls are synchronous from the admin surface's
// point of view even though they cross the management channel.
type ManagementResult struct {
	RoomID     uint64
	MemberID   uint16
	PrivateKey [32]byte
	Snapshot   []byte
	Err        error
}

func (t ManagementTask) reply(r ManagementResult) {
	if t.Reply == nil {
		return
	}
	t.Reply <- r
}
