// Package codec implements the context-compressed command stream: a
// frame body is a varint command count followed by, for each command,
// a 16-bit flag/type header and only the fields that changed since the
// previous command in the same body. No third-party library implements
// this delta scheme, so it is hand-written.
package codec

import (
	"fmt"

	"github.com/gameroom/relay/internal/channelid"
	"github.com/gameroom/relay/internal/command"
	"github.com/gameroom/relay/internal/varint"
)

// creatorSource is the 2-bit creator_source field of a command header.
type creatorSource uint8

const (
	creatorNotSupported creatorSource = iota
	creatorExplicit
	creatorCurrentMember
	creatorObjectOwner
)

const maxCommandsPerBody = 1 << 16

// context is the running state a frame body's commands are compressed
// against. Both sender and receiver start with an identical zero value
// and advance it identically, command by command, so they always agree
// on what each command's delta is relative to.
type context struct {
	hasObject bool
	object    command.ObjectID
	hasField  bool
	field     command.FieldID
	hasGroup  bool
	group     channelid.Group
	hasSeq    map[channelid.Key]bool
	lastSeq   map[channelid.Key]channelid.Sequence
}

func newContext() *context {
	return &context{
		hasSeq:  make(map[channelid.Key]bool),
		lastSeq: make(map[channelid.Key]channelid.Sequence),
	}
}

func zigzagEncode(n int64) uint64 { return uint64((n << 1) ^ (n >> 63)) }
func zigzagDecode(u uint64) int64 { return int64(u>>1) ^ -int64(u&1) }

// Encode serialises envs into a frame body, compressing each command
// against the others in the same slice. localMemberID is the member
// this body's frame is addressed to/from, used to pick the most
// compact creator_source for each envelope.
func Encode(envs []command.Envelope, localMemberID uint16) ([]byte, error) {
	if len(envs) > maxCommandsPerBody {
		return nil, fmt.Errorf("codec: %d commands exceeds per-body limit", len(envs))
	}
	ctx := newContext()
	dst := varint.Append(nil, uint64(len(envs)))
	for i, env := range envs {
		var err error
		dst, err = encodeOne(dst, ctx, env, localMemberID)
		if err != nil {
			return nil, fmt.Errorf("codec: command %d: %w", i, err)
		}
	}
	return dst, nil
}

// Decode parses a frame body produced by Encode.
func Decode(body []byte, localMemberID uint16) ([]command.Envelope, error) {
	r := varint.NewReader(body)
	count, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("codec: command_count: %w", err)
	}
	if count > maxCommandsPerBody {
		return nil, fmt.Errorf("codec: command_count %d exceeds per-body limit", count)
	}
	ctx := newContext()
	envs := make([]command.Envelope, 0, count)
	for i := uint64(0); i < count; i++ {
		env, err := decodeOne(r, ctx, localMemberID)
		if err != nil {
			return nil, fmt.Errorf("codec: command %d: %w", i, err)
		}
		envs = append(envs, env)
	}
	if len(r.Remaining()) != 0 {
		return nil, fmt.Errorf("codec: %d trailing bytes after last command", len(r.Remaining()))
	}
	return envs, nil
}

func creatorApplicable(cmd command.Command) bool {
	switch cmd.(type) {
	case command.AttachToRoom, command.DetachFromRoom:
		return false
	default:
		return true
	}
}

func encodeOne(dst []byte, ctx *context, env command.Envelope, localMemberID uint16) ([]byte, error) {
	cmd := env.Cmd
	objID, hasObj := cmd.ObjectID()
	newObject := hasObj && (!ctx.hasObject || ctx.object != objID)

	fieldID, _, hasField := command.HasField(cmd)
	newField := hasField && (!ctx.hasField || ctx.field != fieldID)

	newGroup := false
	if env.Channel.Type.Ordered() {
		newGroup = !ctx.hasGroup || ctx.group != env.Channel.Group
	}

	var csrc creatorSource
	if !creatorApplicable(cmd) {
		csrc = creatorNotSupported
	} else if env.Creator == localMemberID {
		csrc = creatorCurrentMember
	} else if hasObj && !objID.Owner.IsRoom && objID.Owner.Member == env.Creator {
		csrc = creatorObjectOwner
	} else {
		csrc = creatorExplicit
	}

	header := uint16(0)
	if newObject {
		header |= 1 << 15
	}
	if newField {
		header |= 1 << 14
	}
	if newGroup {
		header |= 1 << 13
	}
	header |= uint16(csrc) << 11
	header |= uint16(env.Channel.Type) << 8
	header |= uint16(cmd.Type()) << 2

	dst = append(dst, byte(header>>8), byte(header))

	if hasObj {
		if newObject {
			dst = appendObjectID(dst, objID)
		}
		ctx.hasObject, ctx.object = true, objID
	}
	if hasField {
		if newField {
			dst = varint.Append(dst, uint64(fieldID))
		}
		ctx.hasField, ctx.field = true, fieldID
	}
	if env.Channel.Type.Ordered() {
		if newGroup {
			dst = varint.Append(dst, uint64(env.Channel.Group))
		}
		ctx.hasGroup, ctx.group = true, env.Channel.Group
		key := env.Channel.Key()
		var delta int64
		if ctx.hasSeq[key] {
			delta = int64(env.Channel.Seq) - int64(ctx.lastSeq[key])
		} else {
			delta = int64(env.Channel.Seq)
		}
		dst = varint.Append(dst, zigzagEncode(delta))
		ctx.hasSeq[key] = true
		ctx.lastSeq[key] = env.Channel.Seq
	}
	if csrc == creatorExplicit {
		dst = varint.Append(dst, uint64(env.Creator))
	}

	return appendPayload(dst, cmd)
}

func appendObjectID(dst []byte, id command.ObjectID) []byte {
	if id.Owner.IsRoom {
		dst = append(dst, 0)
	} else {
		dst = append(dst, 1)
		dst = varint.Append(dst, uint64(id.Owner.Member))
	}
	return varint.Append(dst, uint64(id.ID))
}

func readObjectID(r *varint.Reader) (command.ObjectID, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return command.ObjectID{}, fmt.Errorf("object_id.owner_tag: %w", err)
	}
	var owner command.Owner
	switch tag {
	case 0:
		owner = command.RoomOwner()
	case 1:
		member, err := r.Read()
		if err != nil {
			return command.ObjectID{}, fmt.Errorf("object_id.owner_member: %w", err)
		}
		owner = command.MemberOwner(uint16(member))
	default:
		return command.ObjectID{}, fmt.Errorf("object_id.owner_tag: unknown value %d", tag)
	}
	id, err := r.Read()
	if err != nil {
		return command.ObjectID{}, fmt.Errorf("object_id.id: %w", err)
	}
	return command.ObjectID{ID: uint32(id), Owner: owner}, nil
}

func decodeOne(r *varint.Reader, ctx *context, localMemberID uint16) (command.Envelope, error) {
	hi, err := r.ReadByte()
	if err != nil {
		return command.Envelope{}, fmt.Errorf("header: %w", err)
	}
	lo, err := r.ReadByte()
	if err != nil {
		return command.Envelope{}, fmt.Errorf("header: %w", err)
	}
	header := uint16(hi)<<8 | uint16(lo)

	newObject := header&(1<<15) != 0
	newField := header&(1<<14) != 0
	newGroup := header&(1<<13) != 0
	csrc := creatorSource((header >> 11) & 0x3)
	chType := channelid.Type((header >> 8) & 0x7)
	typeID := command.TypeID((header >> 2) & 0x3F)

	var objID command.ObjectID
	hasObj := typeID != command.TypeAttachToRoom && typeID != command.TypeDetachFromRoom
	if hasObj {
		if newObject {
			objID, err = readObjectID(r)
			if err != nil {
				return command.Envelope{}, err
			}
			ctx.hasObject, ctx.object = true, objID
		} else {
			if !ctx.hasObject {
				return command.Envelope{}, fmt.Errorf("object_id: omitted with no prior context")
			}
			objID = ctx.object
		}
	}

	fieldID, fieldType, hasField := typeHasField(typeID)
	if hasField {
		if newField {
			v, err := r.Read()
			if err != nil {
				return command.Envelope{}, fmt.Errorf("field_id: %w", err)
			}
			fieldID = command.FieldID(v)
			ctx.hasField, ctx.field = true, fieldID
		} else {
			if !ctx.hasField {
				return command.Envelope{}, fmt.Errorf("field_id: omitted with no prior context")
			}
			fieldID = ctx.field
		}
	}

	var channel channelid.Channel
	channel.Type = chType
	if chType.Ordered() {
		if newGroup {
			v, err := r.Read()
			if err != nil {
				return command.Envelope{}, fmt.Errorf("channel_group: %w", err)
			}
			channel.Group = channelid.Group(v)
			ctx.hasGroup, ctx.group = true, channel.Group
		} else {
			if !ctx.hasGroup {
				return command.Envelope{}, fmt.Errorf("channel_group: omitted with no prior context")
			}
			channel.Group = ctx.group
		}
		key := channel.Key()
		deltaRaw, err := r.Read()
		if err != nil {
			return command.Envelope{}, fmt.Errorf("channel_seq: %w", err)
		}
		delta := zigzagDecode(deltaRaw)
		var seq int64
		if ctx.hasSeq[key] {
			seq = int64(ctx.lastSeq[key]) + delta
		} else {
			seq = delta
		}
		channel.Seq = channelid.Sequence(seq)
		ctx.hasSeq[key] = true
		ctx.lastSeq[key] = channel.Seq
	}

	var creator uint16
	switch csrc {
	case creatorNotSupported:
		creator = localMemberID
	case creatorCurrentMember:
		creator = localMemberID
	case creatorObjectOwner:
		if !hasObj || objID.Owner.IsRoom {
			return command.Envelope{}, fmt.Errorf("creator_source: object_owner with no member-owned object")
		}
		creator = objID.Owner.Member
	case creatorExplicit:
		v, err := r.Read()
		if err != nil {
			return command.Envelope{}, fmt.Errorf("creator: %w", err)
		}
		creator = uint16(v)
	default:
		return command.Envelope{}, fmt.Errorf("creator_source: unknown value %d", csrc)
	}

	cmd, err := readPayload(r, typeID, objID, fieldID, fieldType, creator)
	if err != nil {
		return command.Envelope{}, err
	}

	return command.Envelope{Channel: channel, Creator: creator, Cmd: cmd}, nil
}

// typeHasField reports whether typeID's command class carries a single
// field, mirroring command.HasField without requiring a constructed
// Command value.
func typeHasField(typeID command.TypeID) (command.FieldID, command.FieldType, bool) {
	switch typeID {
	case command.TypeSetLong, command.TypeIncrementLong:
		return 0, command.FieldLong, true
	case command.TypeSetDouble, command.TypeIncrementDouble:
		return 0, command.FieldDouble, true
	case command.TypeSetStructure:
		return 0, command.FieldStructure, true
	case command.TypeAddItem, command.TypeEvent, command.TypeTargetEvent:
		return 0, command.FieldItem, true
	case command.TypeDeleteField:
		// Kind travels in the payload, not inferred from the type.
		return 0, 0, true
	default:
		return 0, 0, false
	}
}
