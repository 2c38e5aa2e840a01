package room

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gameroom/relay/internal/command"
)

func newTestRoom(tpl RoomTemplate) *Room {
	return NewRoom(1, tpl)
}

func mustRegister(t *testing.T, r *Room, groups uint64) uint16 {
	t.Helper()
	id, err := r.RegisterMember(MemberTemplate{Groups: groups})
	require.NoError(t, err)
	return id
}

func TestCreateObjectRejectsZeroID(t *testing.T) {
	r := newTestRoom(RoomTemplate{})
	a := mustRegister(t, r, 0b11)
	member, _ := r.GetMember(a)

	err := r.Execute(member, command.Envelope{Cmd: command.CreateObject{
		ID:           command.ObjectID{ID: 0, Owner: command.MemberOwner(a)},
		Template:     100,
		AccessGroups: 0b10,
	}})
	require.Error(t, err)
}

func TestCreateObjectRejectsWrongOwner(t *testing.T) {
	r := newTestRoom(RoomTemplate{})
	a := mustRegister(t, r, 0b11)
	member, _ := r.GetMember(a)

	err := r.Execute(member, command.Envelope{Cmd: command.CreateObject{
		ID:           command.ObjectID{ID: 1, Owner: command.MemberOwner(1000)},
		Template:     100,
		AccessGroups: 0b10,
	}})
	require.Error(t, err)
	require.False(t, r.ContainsObject(command.ObjectID{ID: 1, Owner: command.MemberOwner(1000)}))
}

func TestCreateObjectRejectsGroupsOutsideSender(t *testing.T) {
	r := newTestRoom(RoomTemplate{})
	a := mustRegister(t, r, 0b01)
	member, _ := r.GetMember(a)

	err := r.Execute(member, command.Envelope{Cmd: command.CreateObject{
		ID:           command.ObjectID{ID: 1, Owner: command.MemberOwner(a)},
		Template:     100,
		AccessGroups: 0b10,
	}})
	require.Error(t, err)
}

func TestCreateObjectSucceeds(t *testing.T) {
	r := newTestRoom(RoomTemplate{})
	a := mustRegister(t, r, 0b11)
	member, _ := r.GetMember(a)

	id := command.ObjectID{ID: 1, Owner: command.MemberOwner(a)}
	err := r.Execute(member, command.Envelope{Cmd: command.CreateObject{ID: id, Template: 100, AccessGroups: 0b10}})
	require.NoError(t, err)

	obj, err := r.GetObject(id)
	require.NoError(t, err)
	require.Equal(t, uint16(100), obj.TemplateID)
	require.Equal(t, uint64(0b10), obj.AccessGroups)
	require.False(t, obj.Created)
}

func TestSetStructureDefaultPermissionAllowsWrite(t *testing.T) {
	r := newTestRoom(RoomTemplate{})
	a := mustRegister(t, r, 0b1010)
	member, _ := r.GetMember(a)

	id := command.ObjectID{ID: 1, Owner: command.MemberOwner(a)}
	require.NoError(t, r.Execute(member, command.Envelope{Cmd: command.CreateObject{ID: id, Template: 0, AccessGroups: 0b1010}}))
	require.NoError(t, r.Execute(member, command.Envelope{Cmd: command.Created{ID: id}}))

	err := r.Execute(member, command.Envelope{Cmd: command.SetStructure{ID: id, Field: 100, Value: []byte{1, 2, 3, 4, 5}}})
	require.NoError(t, err)

	obj, _ := r.GetObject(id)
	v, ok := obj.Structure(100)
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3, 4, 5}, v)
}

func TestPermissionEnforcementSuppressesReadOnlyWrite(t *testing.T) {
	const fieldID = 100
	groups := uint64(0b10)
	tpl := RoomTemplate{
		Permissions: Permissions{Templates: []GameObjectTemplatePermission{
			{
				Template: 100,
				Fields: []PermissionField{{
					Field: FieldRef{ID: fieldID, Kind: KindLong},
					Rules: []GroupsPermissionRule{{Groups: groups, Permission: Ro}},
				}},
			},
		}},
	}
	r := newTestRoom(tpl)
	a := mustRegister(t, r, groups)
	member, _ := r.GetMember(a)

	id := command.ObjectID{ID: 1, Owner: command.MemberOwner(a)}
	require.NoError(t, r.Execute(member, command.Envelope{Cmd: command.CreateObject{ID: id, Template: 100, AccessGroups: groups}}))

	err := r.Execute(member, command.Envelope{Cmd: command.SetLong{ID: id, Field: fieldID, Value: 7}})
	require.Error(t, err)

	obj, _ := r.GetObject(id)
	_, ok := obj.Long(fieldID)
	require.False(t, ok)
}

func TestIncrementLongSaturatesOnOverflow(t *testing.T) {
	r := newTestRoom(RoomTemplate{})
	a := mustRegister(t, r, 0b1)
	member, _ := r.GetMember(a)
	id := command.ObjectID{ID: 1, Owner: command.MemberOwner(a)}
	require.NoError(t, r.Execute(member, command.Envelope{Cmd: command.CreateObject{ID: id, Template: 0, AccessGroups: 0b1}}))
	require.NoError(t, r.Execute(member, command.Envelope{Cmd: command.SetLong{ID: id, Field: 1, Value: math.MaxInt64}}))

	err := r.Execute(member, command.Envelope{Cmd: command.IncrementLong{ID: id, Field: 1, Increment: 1}})
	require.NoError(t, err)

	obj, _ := r.GetObject(id)
	v, _ := obj.Long(1)
	require.Equal(t, int64(math.MaxInt64), v)
}

func TestIncrementDoubleSaturatesOnOverflow(t *testing.T) {
	r := newTestRoom(RoomTemplate{})
	a := mustRegister(t, r, 0b1)
	member, _ := r.GetMember(a)
	id := command.ObjectID{ID: 1, Owner: command.MemberOwner(a)}
	require.NoError(t, r.Execute(member, command.Envelope{Cmd: command.CreateObject{ID: id, Template: 0, AccessGroups: 0b1}}))
	require.NoError(t, r.Execute(member, command.Envelope{Cmd: command.SetDouble{ID: id, Field: 1, Value: math.MaxFloat64}}))

	err := r.Execute(member, command.Envelope{Cmd: command.IncrementDouble{ID: id, Field: 1, Increment: math.MaxFloat64}})
	require.NoError(t, err)

	obj, _ := r.GetObject(id)
	v, _ := obj.Double(1)
	require.Equal(t, math.MaxFloat64, v)
}

func TestItemsCapacityEvictsOldest(t *testing.T) {
	const field = 5
	tpl := RoomTemplate{ItemConfigs: map[uint16]map[uint16]ItemConfig{
		10: {field: {Capacity: 1}},
	}}
	r := newTestRoom(tpl)
	a := mustRegister(t, r, 0b1)
	member, _ := r.GetMember(a)
	id := command.ObjectID{ID: 1, Owner: command.MemberOwner(a)}
	require.NoError(t, r.Execute(member, command.Envelope{Cmd: command.CreateObject{ID: id, Template: 10, AccessGroups: 0b1}}))

	require.NoError(t, r.Execute(member, command.Envelope{Cmd: command.AddItem{ID: id, Field: field, Value: []byte{1, 2, 3}}}))
	require.NoError(t, r.Execute(member, command.Envelope{Cmd: command.AddItem{ID: id, Field: field, Value: []byte{4, 5, 6}}}))

	obj, _ := r.GetObject(id)
	items, ok := obj.Items(field)
	require.True(t, ok)
	require.Equal(t, [][]byte{{4, 5, 6}}, items)
}

func TestAttachToRoomMaterialisesInOrder(t *testing.T) {
	r := newTestRoom(RoomTemplate{})
	a := mustRegister(t, r, 0b01)
	b := mustRegister(t, r, 0b11)
	memberA, _ := r.GetMember(a)
	memberB, _ := r.GetMember(b)

	id := command.ObjectID{ID: 1, Owner: command.MemberOwner(a)}
	require.NoError(t, r.Execute(memberA, command.Envelope{Cmd: command.CreateObject{ID: id, Template: 7, AccessGroups: 0b11}}))
	require.NoError(t, r.Execute(memberA, command.Envelope{Cmd: command.SetLong{ID: id, Field: 10, Value: 42}}))
	require.NoError(t, r.Execute(memberA, command.Envelope{Cmd: command.AddItem{ID: id, Field: 20, Value: []byte{1, 2}}}))
	require.NoError(t, r.Execute(memberA, command.Envelope{Cmd: command.AddItem{ID: id, Field: 20, Value: []byte{3}}}))
	require.NoError(t, r.Execute(memberA, command.Envelope{Cmd: command.Created{ID: id}}))

	require.NoError(t, r.Execute(memberB, command.Envelope{Cmd: command.AttachToRoom{}}))

	out := memberB.Drain()
	require.Len(t, out, 5)
	require.Equal(t, command.CreateObject{ID: id, Template: 7, AccessGroups: 0b11}, out[0].Cmd)
	require.Equal(t, command.SetLong{ID: id, Field: 10, Value: 42}, out[1].Cmd)
	require.Equal(t, command.AddItem{ID: id, Field: 20, Value: []byte{1, 2}}, out[2].Cmd)
	require.Equal(t, command.AddItem{ID: id, Field: 20, Value: []byte{3}}, out[3].Cmd)
	require.Equal(t, command.Created{ID: id}, out[4].Cmd)
}

func TestAttachToRoomSkipsInvisibleAndUncreated(t *testing.T) {
	r := newTestRoom(RoomTemplate{})
	a := mustRegister(t, r, 0b100)
	b := mustRegister(t, r, 0b010)
	memberA, _ := r.GetMember(a)
	memberB, _ := r.GetMember(b)

	visible := command.ObjectID{ID: 1, Owner: command.MemberOwner(a)}
	invisible := command.ObjectID{ID: 2, Owner: command.MemberOwner(a)}
	uncreated := command.ObjectID{ID: 3, Owner: command.MemberOwner(a)}
	require.NoError(t, r.Execute(memberA, command.Envelope{Cmd: command.CreateObject{ID: visible, Template: 1, AccessGroups: 0b110}}))
	require.NoError(t, r.Execute(memberA, command.Envelope{Cmd: command.Created{ID: visible}}))
	require.NoError(t, r.Execute(memberA, command.Envelope{Cmd: command.CreateObject{ID: invisible, Template: 1, AccessGroups: 0b100}}))
	require.NoError(t, r.Execute(memberA, command.Envelope{Cmd: command.Created{ID: invisible}}))
	require.NoError(t, r.Execute(memberA, command.Envelope{Cmd: command.CreateObject{ID: uncreated, Template: 1, AccessGroups: 0b110}}))

	require.NoError(t, r.Execute(memberB, command.Envelope{Cmd: command.AttachToRoom{}}))
	out := memberB.Drain()
	require.Len(t, out, 2)
	require.Equal(t, command.CreateObject{ID: visible, Template: 1, AccessGroups: 0b110}, out[0].Cmd)
	require.Equal(t, command.Created{ID: visible}, out[1].Cmd)
}

func TestDisconnectMemberSweepsOwnedObjects(t *testing.T) {
	r := newTestRoom(RoomTemplate{})
	a := mustRegister(t, r, 0b1)
	b := mustRegister(t, r, 0b1)
	memberA, _ := r.GetMember(a)
	memberB, _ := r.GetMember(b)
	require.NoError(t, r.Execute(memberB, command.Envelope{Cmd: command.AttachToRoom{}}))

	id := command.ObjectID{ID: 1, Owner: command.MemberOwner(a)}
	require.NoError(t, r.Execute(memberA, command.Envelope{Cmd: command.CreateObject{ID: id, Template: 1, AccessGroups: 0b1}}))
	require.NoError(t, r.Execute(memberA, command.Envelope{Cmd: command.Created{ID: id}}))
	memberB.Drain()

	require.NoError(t, r.DisconnectMember(a))
	require.False(t, r.ContainsObject(id))

	out := memberB.Drain()
	require.Len(t, out, 1)
	require.Equal(t, command.Delete{ID: id}, out[0].Cmd)

	_, err := r.GetMember(a)
	require.Error(t, err)
}

func TestForwardedRequiresSuperMemberSender(t *testing.T) {
	r := newTestRoom(RoomTemplate{})
	a := mustRegister(t, r, 0b1)
	memberA, _ := r.GetMember(a)

	err := r.Execute(memberA, command.Envelope{Cmd: command.Forwarded{Creator: 0, Inner: command.AttachToRoom{}}})
	require.Error(t, err)
}

func TestForwardedRejectsSameSenderAndCreator(t *testing.T) {
	r := newTestRoom(RoomTemplate{})
	super, _ := r.RegisterMember(NewSuperMemberTemplate([32]byte{}))
	memberSuper, _ := r.GetMember(super)

	err := r.Execute(memberSuper, command.Envelope{Cmd: command.Forwarded{Creator: super, Inner: command.AttachToRoom{}}})
	require.Error(t, err)
}

func TestForwardedRejectsSuperCreator(t *testing.T) {
	r := newTestRoom(RoomTemplate{})
	super1, _ := r.RegisterMember(NewSuperMemberTemplate([32]byte{}))
	super2, _ := r.RegisterMember(NewSuperMemberTemplate([32]byte{}))
	memberSuper1, _ := r.GetMember(super1)

	err := r.Execute(memberSuper1, command.Envelope{Cmd: command.Forwarded{Creator: super2, Inner: command.AttachToRoom{}}})
	require.Error(t, err)
}

func TestForwardedReplaysOnBehalfOfCreator(t *testing.T) {
	r := newTestRoom(RoomTemplate{})
	a := mustRegister(t, r, 0b1)
	super, _ := r.RegisterMember(NewSuperMemberTemplate([32]byte{}))
	memberA, _ := r.GetMember(a)
	memberSuper, _ := r.GetMember(super)
	require.NoError(t, r.Execute(memberA, command.Envelope{Cmd: command.AttachToRoom{}}))
	require.True(t, memberA.Attached)

	err := r.Execute(memberSuper, command.Envelope{Cmd: command.Forwarded{Creator: a, Inner: command.DetachFromRoom{}}})
	require.NoError(t, err)
	require.False(t, memberA.Attached)
}

func TestForwardingSelectivityWrapsForSuperMembersOnce(t *testing.T) {
	tpl := RoomTemplate{Forwards: []ForwardConfig{{CommandType: command.TypeAttachToRoom}}}
	r := newTestRoom(tpl)
	a := mustRegister(t, r, 0b1)
	super, _ := r.RegisterMember(NewSuperMemberTemplate([32]byte{}))
	other, _ := r.RegisterMember(NewSuperMemberTemplate([32]byte{}))
	memberA, _ := r.GetMember(a)

	require.NoError(t, r.Execute(memberA, command.Envelope{Cmd: command.AttachToRoom{}}))

	superOut := mustGetMember(t, r, super).Drain()
	require.Len(t, superOut, 1)
	fwd, ok := superOut[0].Cmd.(command.Forwarded)
	require.True(t, ok)
	require.Equal(t, a, fwd.Creator)

	otherOut := mustGetMember(t, r, other).Drain()
	require.Len(t, otherOut, 1)

	// a super member's own AttachToRoom is never wrapped.
	superMember, _ := r.GetMember(super)
	require.NoError(t, r.Execute(superMember, command.Envelope{Cmd: command.AttachToRoom{}}))
	require.Empty(t, mustGetMember(t, r, other).Drain())
}

func mustGetMember(t *testing.T, r *Room, id uint16) *Member {
	t.Helper()
	m, err := r.GetMember(id)
	require.NoError(t, err)
	return m
}
