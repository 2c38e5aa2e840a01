// Package snapshotio encodes the dump(room_id) → snapshot control
// response and the Forwarded super-member observability envelope, via
// github.com/fxamacker/cbor/v2.
package snapshotio

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/gameroom/relay/internal/command"
	"github.com/gameroom/relay/internal/room"
)

// FieldSnapshot is one typed field's current value, tagged with its
// kind so a single flat slice can carry the long, double and structure
// field types; items fields travel separately in ItemsSnapshot.
type FieldSnapshot struct {
	ID     uint16
	Kind   string // "long", "double", "structure"
	Long   int64   `cbor:",omitempty"`
	Double float64 `cbor:",omitempty"`
	Bytes  []byte  `cbor:",omitempty"`
}

// ItemsSnapshot is one items field's full deque, oldest first.
type ItemsSnapshot struct {
	ID     uint16
	Values [][]byte
}

// ObjectSnapshot is one game object's full visible state.
type ObjectSnapshot struct {
	ID           uint32
	OwnerIsRoom  bool
	OwnerMember  uint16
	Template     uint16
	AccessGroups uint64
	Created      bool
	Fields       []FieldSnapshot
	Items        []ItemsSnapshot
}

// MemberSnapshot is one member's registration state, without its
// private key: dump is an observability surface, not a credential
// leak.
type MemberSnapshot struct {
	ID          uint16
	SuperMember bool
	Groups      uint64
	Attached    bool
}

// RoomSnapshot is the full dump response for one room.
type RoomSnapshot struct {
	RoomID  uint64
	Name    string
	Objects []ObjectSnapshot
	Members []MemberSnapshot
}

// Encode builds and CBOR-encodes a snapshot of r.
func Encode(r *room.Room) ([]byte, error) {
	return cbor.Marshal(Build(r))
}

// Decode parses a CBOR-encoded snapshot produced by Encode.
func Decode(b []byte) (RoomSnapshot, error) {
	var s RoomSnapshot
	err := cbor.Unmarshal(b, &s)
	return s, err
}

// Build captures r's current state without encoding it, exported so
// callers that already hold a decoded snapshot structure (e.g. a test)
// need not round-trip through CBOR to compare.
func Build(r *room.Room) RoomSnapshot {
	objects := make([]ObjectSnapshot, 0)
	for _, o := range r.Objects() {
		objects = append(objects, objectSnapshot(o))
	}
	members := make([]MemberSnapshot, 0)
	for _, m := range r.Members() {
		members = append(members, MemberSnapshot{
			ID:          m.ID,
			SuperMember: m.SuperMember,
			Groups:      m.Groups(),
			Attached:    m.Attached,
		})
	}
	return RoomSnapshot{RoomID: r.ID, Name: r.Name, Objects: objects, Members: members}
}

func objectSnapshot(o *room.GameObject) ObjectSnapshot {
	var fields []FieldSnapshot
	for _, f := range o.LongFieldOrder() {
		v, _ := o.Long(f)
		fields = append(fields, FieldSnapshot{ID: uint16(f), Kind: "long", Long: v})
	}
	for _, f := range o.DoubleFieldOrder() {
		v, _ := o.Double(f)
		fields = append(fields, FieldSnapshot{ID: uint16(f), Kind: "double", Double: v})
	}
	for _, f := range o.StructFieldOrder() {
		v, _ := o.Structure(f)
		fields = append(fields, FieldSnapshot{ID: uint16(f), Kind: "structure", Bytes: v})
	}
	var items []ItemsSnapshot
	for _, f := range o.ItemFieldOrder() {
		v, _ := o.Items(f)
		items = append(items, ItemsSnapshot{ID: uint16(f), Values: v})
	}
	return ObjectSnapshot{
		ID:           o.ID.ID,
		OwnerIsRoom:  o.ID.Owner.IsRoom,
		OwnerMember:  o.ID.Owner.Member,
		Template:     o.TemplateID,
		AccessGroups: o.AccessGroups,
		Created:      o.Created,
		Fields:       fields,
		Items:        items,
	}
}

// ForwardedEnvelope is the on-wire shape a super-member observability
// reader sees for one Forwarded(creator, inner) notification, encoded
// the same way a RoomSnapshot is. Inner is re-expressed as its
// command.TypeID plus its own encoded body rather than the
// command.Command interface directly, since CBOR has no notion of a Go
// interface's dynamic type without a registered tag per concrete
// type.
type ForwardedEnvelope struct {
	Creator      uint16
	InnerType    command.TypeID
	InnerEncoded []byte
}

// EncodeForwarded wraps one Forwarded command for an observability
// reader, encoding its inner command as an opaque nested CBOR value.
func EncodeForwarded(f command.Forwarded) ([]byte, error) {
	inner, err := cbor.Marshal(f.Inner)
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(ForwardedEnvelope{Creator: f.Creator, InnerType: f.Inner.Type(), InnerEncoded: inner})
}
