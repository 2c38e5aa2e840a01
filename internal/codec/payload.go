package codec

import (
	"fmt"
	"math"

	"github.com/gameroom/relay/internal/command"
	"github.com/gameroom/relay/internal/varint"
)

func appendF64(dst []byte, v float64) []byte {
	bits := math.Float64bits(v)
	var buf [8]byte
	for i := 7; i >= 0; i-- {
		buf[i] = byte(bits)
		bits >>= 8
	}
	return append(dst, buf[:]...)
}

func readF64(r *varint.Reader) (float64, error) {
	raw, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	var bits uint64
	for _, b := range raw {
		bits = bits<<8 | uint64(b)
	}
	return math.Float64frombits(bits), nil
}

func appendBytes(dst []byte, v []byte) []byte {
	dst = varint.Append(dst, uint64(len(v)))
	return append(dst, v...)
}

func readBytes(r *varint.Reader) ([]byte, error) {
	n, err := r.Read()
	if err != nil {
		return nil, err
	}
	const maxPayload = 1 << 16
	if n > maxPayload {
		return nil, fmt.Errorf("payload length %d exceeds limit", n)
	}
	return r.ReadBytes(int(n))
}

// appendPayload writes the command-specific value bytes of cmd: not its
// object id, field id, channel or creator, which the caller has already
// written at the envelope level.
func appendPayload(dst []byte, cmd command.Command) ([]byte, error) {
	switch c := cmd.(type) {
	case command.CreateObject:
		dst = varint.Append(dst, uint64(c.Template))
		dst = varint.Append(dst, c.AccessGroups)
	case command.Created:
	case command.SetLong:
		dst = varint.Append(dst, zigzagEncode(c.Value))
	case command.SetDouble:
		dst = appendF64(dst, c.Value)
	case command.SetStructure:
		dst = appendBytes(dst, c.Value)
	case command.IncrementLong:
		dst = varint.Append(dst, zigzagEncode(c.Increment))
	case command.IncrementDouble:
		dst = appendF64(dst, c.Increment)
	case command.AddItem:
		dst = appendBytes(dst, c.Value)
	case command.Event:
		dst = appendBytes(dst, c.Value)
	case command.TargetEvent:
		dst = appendBytes(dst, c.Value)
		dst = varint.Append(dst, uint64(c.Target))
	case command.Delete:
	case command.DeleteField:
		dst = append(dst, byte(c.Kind))
	case command.AttachToRoom:
	case command.DetachFromRoom:
	case command.Forwarded:
		if c.Inner == nil {
			return nil, fmt.Errorf("forwarded command has nil inner")
		}
		if _, ok := c.Inner.ObjectID(); !ok {
			return nil, fmt.Errorf("forwarded command cannot wrap a command with no object id")
		}
		dst = append(dst, byte(c.Inner.Type()))
		if fieldID, _, ok := command.HasField(c.Inner); ok {
			dst = varint.Append(dst, uint64(fieldID))
		}
		var err error
		dst, err = appendPayload(dst, c.Inner)
		if err != nil {
			return nil, fmt.Errorf("forwarded inner: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown command type %T", cmd)
	}
	return dst, nil
}

// readPayload reconstructs the full Command value for typeID, given the
// object id, field id/type and creator already resolved at the envelope
// level.
func readPayload(r *varint.Reader, typeID command.TypeID, objID command.ObjectID, fieldID command.FieldID, fieldType command.FieldType, creator uint16) (command.Command, error) {
	switch typeID {
	case command.TypeCreateObject:
		tmpl, err := r.Read()
		if err != nil {
			return nil, fmt.Errorf("create_object.template: %w", err)
		}
		groups, err := r.Read()
		if err != nil {
			return nil, fmt.Errorf("create_object.access_groups: %w", err)
		}
		return command.CreateObject{ID: objID, Template: uint16(tmpl), AccessGroups: groups}, nil
	case command.TypeCreated:
		return command.Created{ID: objID}, nil
	case command.TypeSetLong:
		v, err := r.Read()
		if err != nil {
			return nil, fmt.Errorf("set_long.value: %w", err)
		}
		return command.SetLong{ID: objID, Field: fieldID, Value: zigzagDecode(v)}, nil
	case command.TypeSetDouble:
		v, err := readF64(r)
		if err != nil {
			return nil, fmt.Errorf("set_double.value: %w", err)
		}
		return command.SetDouble{ID: objID, Field: fieldID, Value: v}, nil
	case command.TypeSetStructure:
		v, err := readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("set_structure.value: %w", err)
		}
		return command.SetStructure{ID: objID, Field: fieldID, Value: v}, nil
	case command.TypeIncrementLong:
		v, err := r.Read()
		if err != nil {
			return nil, fmt.Errorf("increment_long.increment: %w", err)
		}
		return command.IncrementLong{ID: objID, Field: fieldID, Increment: zigzagDecode(v)}, nil
	case command.TypeIncrementDouble:
		v, err := readF64(r)
		if err != nil {
			return nil, fmt.Errorf("increment_double.increment: %w", err)
		}
		return command.IncrementDouble{ID: objID, Field: fieldID, Increment: v}, nil
	case command.TypeAddItem:
		v, err := readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("add_item.value: %w", err)
		}
		return command.AddItem{ID: objID, Field: fieldID, Value: v}, nil
	case command.TypeEvent:
		v, err := readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("event.value: %w", err)
		}
		return command.Event{ID: objID, Field: fieldID, Value: v}, nil
	case command.TypeTargetEvent:
		v, err := readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("target_event.value: %w", err)
		}
		target, err := r.Read()
		if err != nil {
			return nil, fmt.Errorf("target_event.target: %w", err)
		}
		return command.TargetEvent{ID: objID, Field: fieldID, Value: v, Target: uint16(target)}, nil
	case command.TypeDelete:
		return command.Delete{ID: objID}, nil
	case command.TypeDeleteField:
		kind, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("delete_field.kind: %w", err)
		}
		return command.DeleteField{ID: objID, Field: fieldID, Kind: command.FieldType(kind)}, nil
	case command.TypeAttachToRoom:
		return command.AttachToRoom{}, nil
	case command.TypeDetachFromRoom:
		return command.DetachFromRoom{}, nil
	case command.TypeForwarded:
		innerTypeByte, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("forwarded.inner_type: %w", err)
		}
		innerType := command.TypeID(innerTypeByte)
		innerFieldID, innerFieldType, hasField := typeHasField(innerType)
		if hasField {
			v, err := r.Read()
			if err != nil {
				return nil, fmt.Errorf("forwarded.inner_field_id: %w", err)
			}
			innerFieldID = command.FieldID(v)
		}
		inner, err := readPayload(r, innerType, objID, innerFieldID, innerFieldType, creator)
		if err != nil {
			return nil, fmt.Errorf("forwarded.inner: %w", err)
		}
		return command.Forwarded{Creator: creator, Inner: inner}, nil
	default:
		return nil, fmt.Errorf("unknown command type id %d", typeID)
	}
}
