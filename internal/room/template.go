// Package room implements the room engine: the object store, member
// table, permission resolution, and per-command-class execution that
// fans synthesised S2C commands out to eligible members.
package room

import "fmt"

// ClientObjectIDOffset is the boundary below which a member template's
// pre-populated object ids must fall (config.rs's
// GameObjectId::CLIENT_OBJECT_ID_OFFSET); ids at or above it are
// reserved for objects members create at runtime via CreateGameObject.
const ClientObjectIDOffset = 1 << 16

// Permission is the access level a member's groups hold over a
// (template, field) pair. Ordered by severity: Deny < Ro < Rw, mirroring
// the Rust enum's derived Ord so "highest matching permission wins"
// resolves with a plain max.
type Permission uint8

const (
	Deny Permission = iota
	Ro
	Rw
)

func (p Permission) String() string {
	switch p {
	case Deny:
		return "deny"
	case Ro:
		return "ro"
	case Rw:
		return "rw"
	default:
		return "unknown"
	}
}

// FieldRef names one typed field on a template, the unit permission
// rules attach to.
type FieldRef struct {
	ID   uint16
	Kind FieldKind
}

// FieldKind mirrors command.FieldType without importing the command
// package into the template model, which stays commands-agnostic.
type FieldKind uint8

const (
	KindLong FieldKind = iota
	KindDouble
	KindStructure
	KindItem
)

// GroupsPermissionRule grants permission to any member whose access
// groups intersect Groups (config.rs's GroupsPermissionRule).
type GroupsPermissionRule struct {
	Groups     uint64
	Permission Permission
}

// PermissionField overrides the template-wide rules for one specific
// field (config.rs's PermissionField).
type PermissionField struct {
	Field FieldRef
	Rules []GroupsPermissionRule
}

// GameObjectTemplatePermission is the permission table for every
// object created from one template id (config.rs's
// GameObjectTemplatePermission).
type GameObjectTemplatePermission struct {
	Template uint16
	Rules    []GroupsPermissionRule
	Fields   []PermissionField
}

// Permissions is the room-wide permission table, one entry per
// template id that restricts access (config.rs's Permissions). A
// template with no entry here is unrestricted (Rw).
type Permissions struct {
	Templates []GameObjectTemplatePermission
}

// Resolve returns the permission member's groups hold over field on
// objects of templateID. Absence of a matching template entry means
// unrestricted Rw; presence of rules with no group match means Deny,
// since a rule table exists specifically to restrict.
func (p Permissions) Resolve(templateID uint16, field FieldRef, memberGroups uint64) Permission {
	entry, ok := findTemplate(p.Templates, templateID)
	if !ok {
		return Rw
	}
	rules := entry.Rules
	if fe, ok := findField(entry.Fields, field); ok {
		rules = fe.Rules
	}
	if len(rules) == 0 {
		return Rw
	}
	best := Deny
	matched := false
	for _, r := range rules {
		if r.Groups&memberGroups == 0 {
			continue
		}
		matched = true
		if r.Permission > best {
			best = r.Permission
		}
	}
	if !matched {
		return Deny
	}
	return best
}

func findTemplate(ts []GameObjectTemplatePermission, templateID uint16) (GameObjectTemplatePermission, bool) {
	for _, t := range ts {
		if t.Template == templateID {
			return t, true
		}
	}
	return GameObjectTemplatePermission{}, false
}

func findField(fs []PermissionField, field FieldRef) (PermissionField, bool) {
	for _, f := range fs {
		if f.Field == field {
			return f, true
		}
	}
	return PermissionField{}, false
}

// ItemConfig bounds one items-field's deque capacity (rust/Server's
// GameObjectConfig.items_config); fields with no entry default to
// DefaultItemCapacity.
type ItemConfig struct {
	Capacity int
}

// DefaultItemCapacity applies when a template names no explicit
// ItemConfig for a given items field.
const DefaultItemCapacity = 16

// GameObjectTemplate is one prefab: a fixed id, starting groups, and
// pre-populated field values (config.rs's GameObjectTemplate).
type GameObjectTemplate struct {
	ID           uint32
	Template     uint16
	AccessGroups uint64
	LongFields   map[uint16]int64
	DoubleFields map[uint16]float64
	StructFields map[uint16][]byte
}

// RoomTemplate is the room-wide prefab set loaded at room creation
// (config.rs's RoomTemplate).
type RoomTemplate struct {
	Name        string
	Objects     []GameObjectTemplate
	Permissions Permissions
	ItemConfigs map[uint16]map[uint16]ItemConfig // by template id, then field id
	Forwards    []ForwardConfig
}

// MemberTemplate is the per-member prefab a register_member call
// supplies (config.rs's MemberTemplate).
type MemberTemplate struct {
	SuperMember bool
	PrivateKey  [32]byte
	Groups      uint64
	Objects     []GameObjectTemplate
}

// NewMemberTemplate builds an ordinary (non-super) member template.
func NewMemberTemplate(key [32]byte, groups uint64) MemberTemplate {
	return MemberTemplate{PrivateKey: key, Groups: groups}
}

// NewSuperMemberTemplate builds a super-member template with the given
// key; super members never own CreateGameObject traffic of their own
// game objects in the usual sense but still get a connection key.
func NewSuperMemberTemplate(key [32]byte) MemberTemplate {
	return MemberTemplate{SuperMember: true, PrivateKey: key}
}

// Validate enforces config.rs's MemberTemplate::validate: every
// member-owned prefab object must carry an id below
// ClientObjectIDOffset, since ids at or above it are reserved for
// objects the client allocates itself at runtime.
func (t MemberTemplate) Validate() error {
	for _, o := range t.Objects {
		if o.ID >= ClientObjectIDOffset {
			return fmt.Errorf("room: member template object id %d >= CLIENT_OBJECT_ID_OFFSET (%d)", o.ID, ClientObjectIDOffset)
		}
	}
	return nil
}
