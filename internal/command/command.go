// Package command defines the room-engine command vocabulary: the
// mutations members send and the notifications the room fans back
// out. The same Go types serve both directions (a CreateObject C2S
// intent and its Created S2C notification are the same ObjectID +
// template + groups triple, just travelling opposite ways).
package command

import (
	"fmt"

	"github.com/gameroom/relay/internal/channelid"
)

// Owner tags a GameObjectId as room-owned or member-owned.
type Owner struct {
	IsRoom bool
	Member uint16
}

// RoomOwner returns the room-owned tag.
func RoomOwner() Owner { return Owner{IsRoom: true} }

// MemberOwner returns the member-owned tag for the given member.
func MemberOwner(id uint16) Owner { return Owner{Member: id} }

func (o Owner) String() string {
	if o.IsRoom {
		return "room"
	}
	return fmt.Sprintf("member(%d)", o.Member)
}

// ObjectID identifies one GameObject.
type ObjectID struct {
	ID    uint32
	Owner Owner
}

func (id ObjectID) String() string { return fmt.Sprintf("%d@%s", id.ID, id.Owner) }

// FieldID is the u16 key into a GameObject's typed field maps.
type FieldID uint16

// FieldType tags which of the four parallel field maps a FieldID lives
// in.
type FieldType uint8

const (
	FieldLong FieldType = iota
	FieldDouble
	FieldStructure
	FieldItem
)

func (t FieldType) String() string {
	switch t {
	case FieldLong:
		return "long"
	case FieldDouble:
		return "double"
	case FieldStructure:
		return "structure"
	case FieldItem:
		return "item"
	default:
		return "unknown"
	}
}

// TypeID is the 6-bit command type discriminant carried on the wire.
type TypeID uint8

const (
	TypeCreateObject TypeID = iota
	TypeCreated
	TypeSetLong
	TypeSetDouble
	TypeSetStructure
	TypeIncrementLong
	TypeIncrementDouble
	TypeAddItem
	TypeEvent
	TypeTargetEvent
	TypeDelete
	TypeDeleteField
	TypeAttachToRoom
	TypeDetachFromRoom
	TypeForwarded
)

// Command is the sum type of every command class the room engine
// understands.
type Command interface {
	Type() TypeID
	// ObjectID reports the target object, if the command class has one.
	ObjectID() (ObjectID, bool)
}

type CreateObject struct {
	ID           ObjectID
	Template     uint16
	AccessGroups uint64
}

func (CreateObject) Type() TypeID                 { return TypeCreateObject }
func (c CreateObject) ObjectID() (ObjectID, bool) { return c.ID, true }

type Created struct{ ID ObjectID }

func (Created) Type() TypeID                 { return TypeCreated }
func (c Created) ObjectID() (ObjectID, bool) { return c.ID, true }

type SetLong struct {
	ID      ObjectID
	Field   FieldID
	Value   int64
}

func (SetLong) Type() TypeID                 { return TypeSetLong }
func (c SetLong) ObjectID() (ObjectID, bool) { return c.ID, true }

type SetDouble struct {
	ID    ObjectID
	Field FieldID
	Value float64
}

func (SetDouble) Type() TypeID                 { return TypeSetDouble }
func (c SetDouble) ObjectID() (ObjectID, bool) { return c.ID, true }

type SetStructure struct {
	ID    ObjectID
	Field FieldID
	Value []byte
}

func (SetStructure) Type() TypeID                 { return TypeSetStructure }
func (c SetStructure) ObjectID() (ObjectID, bool) { return c.ID, true }

type IncrementLong struct {
	ID        ObjectID
	Field     FieldID
	Increment int64
}

func (IncrementLong) Type() TypeID                 { return TypeIncrementLong }
func (c IncrementLong) ObjectID() (ObjectID, bool) { return c.ID, true }

type IncrementDouble struct {
	ID        ObjectID
	Field     FieldID
	Increment float64
}

func (IncrementDouble) Type() TypeID                 { return TypeIncrementDouble }
func (c IncrementDouble) ObjectID() (ObjectID, bool) { return c.ID, true }

type AddItem struct {
	ID    ObjectID
	Field FieldID
	Value []byte
}

func (AddItem) Type() TypeID                 { return TypeAddItem }
func (c AddItem) ObjectID() (ObjectID, bool) { return c.ID, true }

type Event struct {
	ID    ObjectID
	Field FieldID
	Value []byte
}

func (Event) Type() TypeID                 { return TypeEvent }
func (c Event) ObjectID() (ObjectID, bool) { return c.ID, true }

type TargetEvent struct {
	ID     ObjectID
	Field  FieldID
	Value  []byte
	Target uint16
}

func (TargetEvent) Type() TypeID                 { return TypeTargetEvent }
func (c TargetEvent) ObjectID() (ObjectID, bool) { return c.ID, true }

type Delete struct{ ID ObjectID }

func (Delete) Type() TypeID                 { return TypeDelete }
func (c Delete) ObjectID() (ObjectID, bool) { return c.ID, true }

type DeleteField struct {
	ID    ObjectID
	Field FieldID
	Kind  FieldType
}

func (DeleteField) Type() TypeID                 { return TypeDeleteField }
func (c DeleteField) ObjectID() (ObjectID, bool) { return c.ID, true }

// AttachToRoom requests retrospective fan-out of visible created
// objects.
type AttachToRoom struct{}

func (AttachToRoom) Type() TypeID               { return TypeAttachToRoom }
func (AttachToRoom) ObjectID() (ObjectID, bool) { return ObjectID{}, false }

// DetachFromRoom stops fan-out to the sender without disconnecting it.
type DetachFromRoom struct{}

func (DetachFromRoom) Type() TypeID               { return TypeDetachFromRoom }
func (DetachFromRoom) ObjectID() (ObjectID, bool) { return ObjectID{}, false }

// Forwarded replays Inner on behalf of Creator or, in the S2C
// direction, notifies a super-member that Creator sent Inner.
type Forwarded struct {
	Creator uint16
	Inner   Command
}

func (Forwarded) Type() TypeID { return TypeForwarded }
func (c Forwarded) ObjectID() (ObjectID, bool) {
	if c.Inner == nil {
		return ObjectID{}, false
	}
	return c.Inner.ObjectID()
}

// Envelope pairs one Command with the channel it travels on and the
// member id it is attributed to. Creator is the sending member for an
// ordinary command, and the original author for a Forwarded command
// replayed on a super-member's behalf; the codec chooses how compactly
// to spell it out relative to a frame's own sender (its
// creator_source).
type Envelope struct {
	Channel channelid.Channel
	Creator uint16
	Cmd     Command
}

// HasField reports whether cmd targets a single field, and if so its id
// and type, for commands where the field type is implied by the command
// itself rather than carried on the wire.
func HasField(cmd Command) (FieldID, FieldType, bool) {
	switch c := cmd.(type) {
	case SetLong:
		return c.Field, FieldLong, true
	case SetDouble:
		return c.Field, FieldDouble, true
	case SetStructure:
		return c.Field, FieldStructure, true
	case IncrementLong:
		return c.Field, FieldLong, true
	case IncrementDouble:
		return c.Field, FieldDouble, true
	case AddItem:
		return c.Field, FieldItem, true
	case Event:
		return c.Field, FieldItem, true
	case TargetEvent:
		return c.Field, FieldItem, true
	case DeleteField:
		return c.Field, c.Kind, true
	default:
		return 0, 0, false
	}
}
