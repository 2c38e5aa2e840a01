package room

import (
	"golang.org/x/exp/slices"

	"github.com/gameroom/relay/internal/command"
)

// itemsDeque is a bounded FIFO of binary values for one AddItem field
// (rust/Server's Items VecDeque, capacity-bounded by ItemConfig).
type itemsDeque struct {
	capacity int
	values   [][]byte
}

func newItemsDeque(capacity int) *itemsDeque {
	if capacity <= 0 {
		capacity = DefaultItemCapacity
	}
	return &itemsDeque{capacity: capacity}
}

// push appends value, evicting the oldest entry once at capacity
// (items.rs: "if deque.len() >= item_config.capacity { deque.pop_front() }").
func (d *itemsDeque) push(value []byte) {
	if len(d.values) >= d.capacity {
		d.values = slices.Delete(d.values, 0, 1)
	}
	d.values = append(d.values, value)
}

// GameObject is one replicated game object: a template id, visibility
// groups, a created flag, and four parallel typed field stores.
// Field insertion order is tracked alongside each map so
// AttachToRoom materialisation can replay a deterministic,
// stable field order instead of Go's randomized map iteration.
type GameObject struct {
	ID           command.ObjectID
	TemplateID   uint16
	AccessGroups uint64
	Created      bool

	longOrder []command.FieldID
	long      map[command.FieldID]int64

	doubleOrder []command.FieldID
	double      map[command.FieldID]float64

	structOrder []command.FieldID
	structure   map[command.FieldID][]byte

	itemOrder []command.FieldID
	items     map[command.FieldID]*itemsDeque

	itemCapacity map[command.FieldID]int
}

// NewGameObject constructs an object in the not-created state, as
// CreateGameObjectCommand::execute does before the client sends
// CreatedGameObject.
func NewGameObject(id command.ObjectID, templateID uint16, groups uint64) *GameObject {
	return &GameObject{
		ID:           id,
		TemplateID:   templateID,
		AccessGroups: groups,
		long:         make(map[command.FieldID]int64),
		double:       make(map[command.FieldID]float64),
		structure:    make(map[command.FieldID][]byte),
		items:        make(map[command.FieldID]*itemsDeque),
		itemCapacity: make(map[command.FieldID]int),
	}
}

// Visible reports whether an object is visible to a member carrying
// memberGroups: their access groups must share at least one bit.
func (o *GameObject) Visible(memberGroups uint64) bool {
	return o.AccessGroups&memberGroups != 0
}

func (o *GameObject) Long(field command.FieldID) (int64, bool) {
	v, ok := o.long[field]
	return v, ok
}

func (o *GameObject) SetLong(field command.FieldID, value int64) {
	if _, exists := o.long[field]; !exists {
		o.longOrder = append(o.longOrder, field)
	}
	o.long[field] = value
}

func (o *GameObject) Double(field command.FieldID) (float64, bool) {
	v, ok := o.double[field]
	return v, ok
}

func (o *GameObject) SetDouble(field command.FieldID, value float64) {
	if _, exists := o.double[field]; !exists {
		o.doubleOrder = append(o.doubleOrder, field)
	}
	o.double[field] = value
}

func (o *GameObject) Structure(field command.FieldID) ([]byte, bool) {
	v, ok := o.structure[field]
	return v, ok
}

func (o *GameObject) SetStructure(field command.FieldID, value []byte) {
	if _, exists := o.structure[field]; !exists {
		o.structOrder = append(o.structOrder, field)
	}
	o.structure[field] = value
}

// SetItemCapacity records the bound for an items field, read from the
// room template's ItemConfigs the first time the field is touched.
func (o *GameObject) SetItemCapacity(field command.FieldID, capacity int) {
	o.itemCapacity[field] = capacity
}

// AddItem pushes value onto field's deque, creating it (with the
// recorded or default capacity) on first use, and returns the deque's
// contents after the push for callers that need to inspect it.
func (o *GameObject) AddItem(field command.FieldID, value []byte) [][]byte {
	d, ok := o.items[field]
	if !ok {
		d = newItemsDeque(o.itemCapacity[field])
		o.items[field] = d
		o.itemOrder = append(o.itemOrder, field)
	}
	d.push(value)
	return d.values
}

func (o *GameObject) Items(field command.FieldID) ([][]byte, bool) {
	d, ok := o.items[field]
	if !ok {
		return nil, false
	}
	return d.values, true
}

// DeleteField erases one field from the store named by kind.
func (o *GameObject) DeleteField(field command.FieldID, kind command.FieldType) {
	switch kind {
	case command.FieldLong:
		delete(o.long, field)
		o.longOrder = removeField(o.longOrder, field)
	case command.FieldDouble:
		delete(o.double, field)
		o.doubleOrder = removeField(o.doubleOrder, field)
	case command.FieldStructure:
		delete(o.structure, field)
		o.structOrder = removeField(o.structOrder, field)
	case command.FieldItem:
		delete(o.items, field)
		o.itemOrder = removeField(o.itemOrder, field)
	}
}

func removeField(order []command.FieldID, field command.FieldID) []command.FieldID {
	idx := slices.Index(order, field)
	if idx < 0 {
		return order
	}
	return slices.Delete(order, idx, idx+1)
}

// LongFieldOrder, DoubleFieldOrder, StructFieldOrder and ItemFieldOrder
// return each typed field store's field ids in insertion order, for
// callers (snapshotio) that need to walk an object's fields
// deterministically without replaying it as commands.
func (o *GameObject) LongFieldOrder() []command.FieldID {
	return append([]command.FieldID(nil), o.longOrder...)
}

func (o *GameObject) DoubleFieldOrder() []command.FieldID {
	return append([]command.FieldID(nil), o.doubleOrder...)
}

func (o *GameObject) StructFieldOrder() []command.FieldID {
	return append([]command.FieldID(nil), o.structOrder...)
}

func (o *GameObject) ItemFieldOrder() []command.FieldID {
	return append([]command.FieldID(nil), o.itemOrder...)
}

// CollectCreateCommands emits the materialisation sequence AttachToRoom
// replays for one visible created object, in order: Create, then every
// SetLong, SetDouble, SetStructure, then every AddItem (per field, in
// deque order), then Created.
func (o *GameObject) CollectCreateCommands() []command.Command {
	out := []command.Command{
		command.CreateObject{ID: o.ID, Template: o.TemplateID, AccessGroups: o.AccessGroups},
	}
	for _, f := range o.longOrder {
		out = append(out, command.SetLong{ID: o.ID, Field: f, Value: o.long[f]})
	}
	for _, f := range o.doubleOrder {
		out = append(out, command.SetDouble{ID: o.ID, Field: f, Value: o.double[f]})
	}
	for _, f := range o.structOrder {
		out = append(out, command.SetStructure{ID: o.ID, Field: f, Value: o.structure[f]})
	}
	for _, f := range o.itemOrder {
		for _, v := range o.items[f].values {
			out = append(out, command.AddItem{ID: o.ID, Field: f, Value: v})
		}
	}
	out = append(out, command.Created{ID: o.ID})
	return out
}
