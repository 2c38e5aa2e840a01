package room

import (
	"fmt"
	"math"

	"github.com/charmbracelet/log"
	"golang.org/x/exp/slices"

	"github.com/gameroom/relay/internal/command"
	"github.com/gameroom/relay/internal/logctx"
)

// Room is the per-match aggregate: an insertion-ordered object
// store, a member table, a permission table, and forwarding rules. The
// engine never touches sockets; it only mutates state and appends to
// each member's outbound envelope queue.
type Room struct {
	ID   uint64
	Name string

	permissions    Permissions
	itemConfigs    map[uint16]map[uint16]ItemConfig
	forwardConfigs map[ForwardConfig]struct{}

	objOrder []command.ObjectID
	objects  map[command.ObjectID]*GameObject

	memberOrder  []uint16
	members      map[uint16]*Member
	nextMemberID uint16

	log *log.Logger
}

// NewRoom builds a room from a template, pre-populating its room-owned
// prefab objects, already marked created since nobody needs to send
// CreatedGameObject for them.
func NewRoom(id uint64, tpl RoomTemplate) *Room {
	r := &Room{
		ID:             id,
		Name:           tpl.Name,
		permissions:    tpl.Permissions,
		itemConfigs:    tpl.ItemConfigs,
		forwardConfigs: make(map[ForwardConfig]struct{}),
		objects:        make(map[command.ObjectID]*GameObject),
		members:        make(map[uint16]*Member),
		log:            logctx.Room(id),
	}
	for _, cfg := range tpl.Forwards {
		r.forwardConfigs[cfg] = struct{}{}
	}
	for _, ot := range tpl.Objects {
		r.insertObject(r.objectFromTemplate(ot, command.RoomOwner()))
	}
	return r
}

func (r *Room) objectFromTemplate(ot GameObjectTemplate, owner command.Owner) *GameObject {
	obj := NewGameObject(command.ObjectID{ID: ot.ID, Owner: owner}, ot.Template, ot.AccessGroups)
	for f, v := range ot.LongFields {
		obj.SetLong(command.FieldID(f), v)
	}
	for f, v := range ot.DoubleFields {
		obj.SetDouble(command.FieldID(f), v)
	}
	for f, v := range ot.StructFields {
		obj.SetStructure(command.FieldID(f), v)
	}
	obj.Created = true
	return obj
}

// RegisterMember admits a new member under tpl, pre-populating any
// member-owned prefab objects it carries, and returns its room-scoped
// id.
func (r *Room) RegisterMember(tpl MemberTemplate) (uint16, error) {
	if err := tpl.Validate(); err != nil {
		return 0, err
	}
	r.nextMemberID++
	id := r.nextMemberID
	m := newMember(id, tpl)
	r.members[id] = m
	r.memberOrder = append(r.memberOrder, id)
	for _, ot := range tpl.Objects {
		r.insertObject(r.objectFromTemplate(ot, command.MemberOwner(id)))
	}
	return id, nil
}

// Members returns every currently registered member, in registration
// order.
func (r *Room) Members() []*Member {
	out := make([]*Member, 0, len(r.memberOrder))
	for _, id := range r.memberOrder {
		out = append(out, r.members[id])
	}
	return out
}

// Objects returns every currently allocated object, in insertion
// order.
func (r *Room) Objects() []*GameObject {
	out := make([]*GameObject, 0, len(r.objOrder))
	for _, id := range r.objOrder {
		out = append(out, r.objects[id])
	}
	return out
}

// GetMember looks up a member by id.
func (r *Room) GetMember(id uint16) (*Member, error) {
	m, ok := r.members[id]
	if !ok {
		return nil, &NotFoundError{Kind: "member", What: formatUint(id)}
	}
	return m, nil
}

// ContainsObject reports whether id is currently allocated.
func (r *Room) ContainsObject(id command.ObjectID) bool {
	_, ok := r.objects[id]
	return ok
}

// GetObject looks up an object by id.
func (r *Room) GetObject(id command.ObjectID) (*GameObject, error) {
	o, ok := r.objects[id]
	if !ok {
		return nil, &NotFoundError{Kind: "object", What: id.String()}
	}
	return o, nil
}

func (r *Room) insertObject(o *GameObject) {
	if _, exists := r.objects[o.ID]; !exists {
		r.objOrder = append(r.objOrder, o.ID)
	}
	r.objects[o.ID] = o
	if cfgs, ok := r.itemConfigs[o.TemplateID]; ok {
		for field, cfg := range cfgs {
			o.SetItemCapacity(command.FieldID(field), cfg.Capacity)
		}
	}
}

func (r *Room) removeObject(id command.ObjectID) {
	delete(r.objects, id)
	if idx := slices.Index(r.objOrder, id); idx >= 0 {
		r.objOrder = slices.Delete(r.objOrder, idx, idx+1)
	}
}

// visibleAttachedMembers returns every member that is attached and
// whose access groups intersect obj's, in registration order.
func (r *Room) visibleAttachedMembers(obj *GameObject) []*Member {
	var out []*Member
	for _, id := range r.memberOrder {
		m := r.members[id]
		if m.Attached && obj.Visible(m.Groups()) {
			out = append(out, m)
		}
	}
	return out
}

func (r *Room) fanOut(obj *GameObject, creator uint16, cmd command.Command, target *uint16, ch command.Envelope) {
	if target != nil {
		m, ok := r.members[*target]
		if ok && m.Attached {
			m.enqueue(command.Envelope{Channel: ch.Channel, Creator: creator, Cmd: cmd})
		}
		return
	}
	for _, m := range r.visibleAttachedMembers(obj) {
		m.enqueue(command.Envelope{Channel: ch.Channel, Creator: creator, Cmd: cmd})
	}
}

// guardedMutate is the common shape behind most field commands:
// resolve the object, check permission, run action to mutate it and
// produce the resulting S2C command, then fan that command out.
func (r *Room) guardedMutate(sender *Member, objID command.ObjectID, field FieldRef, required Permission, target *uint16, env command.Envelope, action func(*GameObject) command.Command) error {
	obj, err := r.GetObject(objID)
	if err != nil {
		return err
	}
	have := r.permissions.Resolve(obj.TemplateID, field, sender.Groups())
	if have < required {
		return &PermissionError{MemberID: sender.ID, ObjectID: objID.String(), Field: field, Required: required, Have: have}
	}
	out := action(obj)
	if out == nil {
		return nil
	}
	r.fanOut(obj, sender.ID, out, target, env)
	return nil
}

// Execute is the top-level entry point for one inbound command: it
// dispatches the command itself, and only once that succeeds, forwards
// a copy to super-members when a forward config matches. A command the
// sender wasn't allowed to run is never echoed onward.
func (r *Room) Execute(sender *Member, env command.Envelope) error {
	templateID := r.objectTemplateID(env.Cmd)
	if err := r.dispatch(sender, env.Cmd, env); err != nil {
		return err
	}
	if r.shouldForward(sender, env.Cmd, templateID) {
		r.forwardToSuperMembers(sender.ID, env.Cmd, env)
	}
	return nil
}

func (r *Room) objectTemplateID(cmd command.Command) *uint16 {
	objID, ok := cmd.ObjectID()
	if !ok {
		return nil
	}
	obj, ok := r.objects[objID]
	if !ok {
		return nil
	}
	t := obj.TemplateID
	return &t
}

// dispatch runs the pure per-command-class executor, shared by
// Execute (top-level) and the Forwarded replay path (which must not
// re-trigger forwarding).
func (r *Room) dispatch(sender *Member, cmd command.Command, env command.Envelope) error {
	switch c := cmd.(type) {
	case command.CreateObject:
		return r.createObject(sender, c)
	case command.SetLong:
		return r.setLong(sender, c, env)
	case command.SetDouble:
		return r.setDouble(sender, c, env)
	case command.SetStructure:
		return r.setStructure(sender, c, env)
	case command.IncrementLong:
		return r.incrementLong(sender, c, env)
	case command.IncrementDouble:
		return r.incrementDouble(sender, c, env)
	case command.AddItem:
		return r.addItem(sender, c, env)
	case command.Event:
		return r.event(sender, c, env)
	case command.TargetEvent:
		return r.targetEvent(sender, c, env)
	case command.Delete:
		return r.deleteObject(sender, c, env)
	case command.DeleteField:
		return r.deleteField(sender, c, env)
	case command.AttachToRoom:
		return r.attachToRoom(sender)
	case command.DetachFromRoom:
		return r.detachFromRoom(sender)
	case command.Created:
		return r.createdObject(sender, c, env)
	case command.Forwarded:
		return r.forwarded(sender, c, env)
	default:
		return &ValidationError{Msg: "unknown command type"}
	}
}

// createObject validates and allocates a new object. There is no
// fan-out until CreatedGameObject arrives.
func (r *Room) createObject(sender *Member, c command.CreateObject) error {
	if c.ID.ID == 0 {
		return &ValidationError{Msg: "0 is forbidden for game object id"}
	}
	if c.AccessGroups&^sender.Groups() != 0 {
		return &ValidationError{Msg: "access groups must be a subset of the sender's groups"}
	}
	if !c.ID.Owner.IsRoom && c.ID.Owner.Member != sender.ID {
		return &ValidationError{Msg: "object owner must match the sending member"}
	}
	if r.ContainsObject(c.ID) {
		return &ValidationError{Msg: "object already exists"}
	}
	r.insertObject(NewGameObject(c.ID, c.Template, c.AccessGroups))
	return nil
}

// createdObject marks an object ready and fans the single Created
// notice out, the first notification other members ever see about it.
func (r *Room) createdObject(sender *Member, c command.Created, env command.Envelope) error {
	obj, err := r.GetObject(c.ID)
	if err != nil {
		return err
	}
	if obj.ID.Owner.IsRoom || obj.ID.Owner.Member != sender.ID {
		return &ValidationError{Msg: "only the owner may send CreatedGameObject"}
	}
	obj.Created = true
	r.fanOut(obj, sender.ID, command.Created{ID: obj.ID}, nil, env)
	return nil
}

func (r *Room) setLong(sender *Member, c command.SetLong, env command.Envelope) error {
	field := FieldRef{ID: uint16(c.Field), Kind: KindLong}
	return r.guardedMutate(sender, c.ID, field, Rw, nil, env, func(obj *GameObject) command.Command {
		obj.SetLong(c.Field, c.Value)
		return c
	})
}

func (r *Room) setDouble(sender *Member, c command.SetDouble, env command.Envelope) error {
	field := FieldRef{ID: uint16(c.Field), Kind: KindDouble}
	return r.guardedMutate(sender, c.ID, field, Rw, nil, env, func(obj *GameObject) command.Command {
		obj.SetDouble(c.Field, c.Value)
		return c
	})
}

func (r *Room) setStructure(sender *Member, c command.SetStructure, env command.Envelope) error {
	field := FieldRef{ID: uint16(c.Field), Kind: KindStructure}
	return r.guardedMutate(sender, c.ID, field, Rw, nil, env, func(obj *GameObject) command.Command {
		obj.SetStructure(c.Field, c.Value)
		return c
	})
}

// incrementLong saturates at the int64 bounds and logs rather than
// erroring on overflow.
func (r *Room) incrementLong(sender *Member, c command.IncrementLong, env command.Envelope) error {
	field := FieldRef{ID: uint16(c.Field), Kind: KindLong}
	return r.guardedMutate(sender, c.ID, field, Rw, nil, env, func(obj *GameObject) command.Command {
		cur, _ := obj.Long(c.Field)
		sum, overflow := addInt64Checked(cur, c.Increment)
		if overflow {
			r.log.Error("IncrementLong overflow", "current", cur, "increment", c.Increment)
			if c.Increment > 0 {
				sum = math.MaxInt64
			} else {
				sum = math.MinInt64
			}
		}
		obj.SetLong(c.Field, sum)
		return command.SetLong{ID: c.ID, Field: c.Field, Value: sum}
	})
}

// incrementDouble saturates at ±math.MaxFloat64 and logs when the sum
// overflows to infinity, mirroring incrementLong.
func (r *Room) incrementDouble(sender *Member, c command.IncrementDouble, env command.Envelope) error {
	field := FieldRef{ID: uint16(c.Field), Kind: KindDouble}
	return r.guardedMutate(sender, c.ID, field, Rw, nil, env, func(obj *GameObject) command.Command {
		cur, _ := obj.Double(c.Field)
		sum := cur + c.Increment
		if math.IsInf(sum, 0) {
			r.log.Error("IncrementDouble overflow", "current", cur, "increment", c.Increment)
			sum = math.Copysign(math.MaxFloat64, sum)
		}
		obj.SetDouble(c.Field, sum)
		return command.SetDouble{ID: c.ID, Field: c.Field, Value: sum}
	})
}

// addItem pushes onto the items deque, evicting the oldest entry at
// capacity.
func (r *Room) addItem(sender *Member, c command.AddItem, env command.Envelope) error {
	field := FieldRef{ID: uint16(c.Field), Kind: KindItem}
	return r.guardedMutate(sender, c.ID, field, Rw, nil, env, func(obj *GameObject) command.Command {
		obj.AddItem(c.Field, c.Value)
		return c
	})
}

func (r *Room) event(sender *Member, c command.Event, env command.Envelope) error {
	field := FieldRef{ID: uint16(c.Field), Kind: KindItem}
	return r.guardedMutate(sender, c.ID, field, Rw, nil, env, func(*GameObject) command.Command {
		return c
	})
}

func (r *Room) targetEvent(sender *Member, c command.TargetEvent, env command.Envelope) error {
	field := FieldRef{ID: uint16(c.Field), Kind: KindItem}
	target := c.Target
	return r.guardedMutate(sender, c.ID, field, Rw, &target, env, func(*GameObject) command.Command {
		return command.Event{ID: c.ID, Field: c.Field, Value: c.Value}
	})
}

// deleteObject removes an object; only its owner may, then fans
// Delete out to whoever could still see it (using the pre-removal
// visibility set).
func (r *Room) deleteObject(sender *Member, c command.Delete, env command.Envelope) error {
	obj, err := r.GetObject(c.ID)
	if err != nil {
		return err
	}
	if obj.ID.Owner.IsRoom || obj.ID.Owner.Member != sender.ID {
		return &ValidationError{Msg: "only the owner may delete this object"}
	}
	recipients := r.visibleAttachedMembers(obj)
	r.removeObject(obj.ID)
	for _, m := range recipients {
		m.enqueue(command.Envelope{Channel: env.Channel, Creator: sender.ID, Cmd: command.Delete{ID: obj.ID}})
	}
	return nil
}

func (r *Room) deleteField(sender *Member, c command.DeleteField, env command.Envelope) error {
	field := FieldRef{ID: uint16(c.Field), Kind: fieldKind(c.Kind)}
	return r.guardedMutate(sender, c.ID, field, Rw, nil, env, func(obj *GameObject) command.Command {
		obj.DeleteField(c.Field, c.Kind)
		return c
	})
}

// attachToRoom materialises every currently visible created object to
// the attaching member alone, in creation order.
func (r *Room) attachToRoom(sender *Member) error {
	sender.Attached = true
	for _, id := range r.objOrder {
		obj := r.objects[id]
		if !obj.Created || !obj.Visible(sender.Groups()) {
			continue
		}
		for _, c := range obj.CollectCreateCommands() {
			sender.enqueue(command.Envelope{Creator: creatorOf(obj, sender), Cmd: c})
		}
	}
	return nil
}

func (r *Room) detachFromRoom(sender *Member) error {
	sender.Attached = false
	return nil
}

// forwarded replays inner on behalf of creator after validating the
// sender is a super member and the creator is not.
func (r *Room) forwarded(sender *Member, c command.Forwarded, env command.Envelope) error {
	if !sender.SuperMember {
		return &ForwardPermissionError{Msg: "only super members are allowed to send ForwardedCommand", SenderMemberID: sender.ID, CreatorMemberID: c.Creator}
	}
	if sender.ID == c.Creator {
		return &ForwardPermissionError{Msg: "ForwardedCommand sender and creator should be different", SenderMemberID: sender.ID, CreatorMemberID: c.Creator}
	}
	creator, err := r.GetMember(c.Creator)
	if err != nil {
		return err
	}
	if creator.SuperMember {
		return &ForwardPermissionError{Msg: "only non super members commands can be forwarded", SenderMemberID: sender.ID, CreatorMemberID: c.Creator}
	}
	return r.dispatch(creator, c.Inner, env)
}

// DisconnectMember removes every object the member owns, fans Delete
// out to whoever could still see each one, wipes its key, and removes
// it from the room.
func (r *Room) DisconnectMember(id uint16) error {
	m, err := r.GetMember(id)
	if err != nil {
		return err
	}
	owner := command.MemberOwner(id)
	for _, objID := range append([]command.ObjectID(nil), r.objOrder...) {
		if objID.Owner != owner {
			continue
		}
		obj := r.objects[objID]
		recipients := r.visibleAttachedMembers(obj)
		r.removeObject(objID)
		for _, rcpt := range recipients {
			if rcpt.ID == id {
				continue
			}
			rcpt.enqueue(command.Envelope{Creator: id, Cmd: command.Delete{ID: objID}})
		}
	}
	m.destroy()
	delete(r.members, id)
	if idx := slices.Index(r.memberOrder, id); idx >= 0 {
		r.memberOrder = slices.Delete(r.memberOrder, idx, idx+1)
	}
	return nil
}

func fieldKind(t command.FieldType) FieldKind {
	switch t {
	case command.FieldLong:
		return KindLong
	case command.FieldDouble:
		return KindDouble
	case command.FieldStructure:
		return KindStructure
	default:
		return KindItem
	}
}

func creatorOf(obj *GameObject, fallback *Member) uint16 {
	if !obj.ID.Owner.IsRoom {
		return obj.ID.Owner.Member
	}
	return fallback.ID
}

func addInt64Checked(a, b int64) (sum int64, overflow bool) {
	sum = a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, true
	}
	return sum, false
}

func formatUint(v uint16) string {
	return fmt.Sprintf("%d", v)
}
