// Package config loads room and member templates from TOML files via
// github.com/BurntSushi/toml's struct-tag decoding. TOML only names
// map keys as strings, so every struct here uses string keys and
// field/command/permission names where the room package uses typed
// enums or uint16 keys; Build converts between the two.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/gameroom/relay/internal/command"
	"github.com/gameroom/relay/internal/room"
)

// GameObjectTemplate is one prefab object entry in a room or member
// template file.
type GameObjectTemplate struct {
	ID           uint32
	Template     uint16
	AccessGroups uint64             `toml:"access_groups"`
	LongFields   map[string]int64   `toml:"long_fields"`
	DoubleFields map[string]float64 `toml:"double_fields"`
	StructFields map[string]string  `toml:"struct_fields"` // raw bytes as string, decoded on Build
}

// GroupsPermissionRule grants Permission ("deny"|"ro"|"rw") to any
// member whose groups intersect Groups.
type GroupsPermissionRule struct {
	Groups     uint64
	Permission string
}

// PermissionField overrides a template's rules for one (FieldID, Kind)
// pair; Kind is one of "long", "double", "structure", "item".
type PermissionField struct {
	FieldID uint16 `toml:"field_id"`
	Kind    string
	Rules   []GroupsPermissionRule
}

// GameObjectTemplatePermission is the permission table for every
// object created from Template.
type GameObjectTemplatePermission struct {
	Template uint16
	Rules    []GroupsPermissionRule
	Fields   []PermissionField
}

// ItemConfigEntry bounds one (Template, Field) items deque's capacity;
// flattened to a list since TOML tables can't be keyed by a pair of
// integers directly.
type ItemConfigEntry struct {
	Template uint16
	Field    uint16
	Capacity int
}

// ForwardConfig names a forwarding rule by the textual command name
// (see commandTypeByName); FieldID/TemplateID are optional, narrowing
// the rule's match to a specific field or template.
type ForwardConfig struct {
	Command    string
	FieldID    *uint16 `toml:"field_id"`
	TemplateID *uint16 `toml:"template_id"`
}

// RoomTemplate is the on-disk shape of a room's prefab set, decoded
// straight from a `[room]`-rooted TOML document.
type RoomTemplate struct {
	Name        string
	Objects     []GameObjectTemplate
	Permissions []GameObjectTemplatePermission
	ItemConfigs []ItemConfigEntry `toml:"item_configs"`
	Forwards    []ForwardConfig
}

// MemberTemplate is the on-disk shape of a member's prefab set; the
// private key and super-member flag are supplied by register_member's
// caller, not read from a template file.
type MemberTemplate struct {
	Groups  uint64
	Objects []GameObjectTemplate
}

// ServerConfig is relayd's own process-level tuning, loaded from TOML
// alongside room/member templates (ambient: the listen, admin and
// metrics addresses are configuration, not game object state, and carry
// sensible defaults so a bare `relayd` with no config file still runs).
type ServerConfig struct {
	ListenAddr  string `toml:"listen_addr"`
	AdminAddr   string `toml:"admin_addr"`
	MetricsAddr string `toml:"metrics_addr"`
}

// DefaultServerConfig is what relayd runs with absent a config file.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:  ":7777",
		AdminAddr:   ":7778",
		MetricsAddr: ":9090",
	}
}

// LoadServerConfig reads path, falling back to DefaultServerConfig's
// fields for anything the file leaves blank.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("config: decode server config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadRoomTemplate reads and builds a room.RoomTemplate from path.
func LoadRoomTemplate(path string) (room.RoomTemplate, error) {
	var cfg RoomTemplate
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return room.RoomTemplate{}, fmt.Errorf("config: decode room template %s: %w", path, err)
	}
	return cfg.Build()
}

// LoadMemberTemplate reads and builds a room.MemberTemplate from path.
func LoadMemberTemplate(path string) (room.MemberTemplate, error) {
	var cfg MemberTemplate
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return room.MemberTemplate{}, fmt.Errorf("config: decode member template %s: %w", path, err)
	}
	return cfg.Build()
}

// Build converts the on-disk RoomTemplate into the room engine's
// native type.
func (c RoomTemplate) Build() (room.RoomTemplate, error) {
	objects := make([]room.GameObjectTemplate, 0, len(c.Objects))
	for _, o := range c.Objects {
		obj, err := o.build()
		if err != nil {
			return room.RoomTemplate{}, err
		}
		objects = append(objects, obj)
	}

	permissions, err := buildPermissions(c.Permissions)
	if err != nil {
		return room.RoomTemplate{}, err
	}

	itemConfigs := make(map[uint16]map[uint16]room.ItemConfig)
	for _, e := range c.ItemConfigs {
		if itemConfigs[e.Template] == nil {
			itemConfigs[e.Template] = make(map[uint16]room.ItemConfig)
		}
		itemConfigs[e.Template][e.Field] = room.ItemConfig{Capacity: e.Capacity}
	}

	forwards := make([]room.ForwardConfig, 0, len(c.Forwards))
	for _, f := range c.Forwards {
		fc, err := f.build()
		if err != nil {
			return room.RoomTemplate{}, err
		}
		forwards = append(forwards, fc)
	}

	return room.RoomTemplate{
		Name:        c.Name,
		Objects:     objects,
		Permissions: permissions,
		ItemConfigs: itemConfigs,
		Forwards:    forwards,
	}, nil
}

// Build converts the on-disk MemberTemplate into the room engine's
// native type. key and superMember come from the caller: register_member
// supplies the key, and super members never load their prefab set
// from a file.
func (c MemberTemplate) Build() (room.MemberTemplate, error) {
	objects := make([]room.GameObjectTemplate, 0, len(c.Objects))
	for _, o := range c.Objects {
		obj, err := o.build()
		if err != nil {
			return room.MemberTemplate{}, err
		}
		objects = append(objects, obj)
	}
	return room.MemberTemplate{Groups: c.Groups, Objects: objects}, nil
}

func (o GameObjectTemplate) build() (room.GameObjectTemplate, error) {
	longFields := make(map[uint16]int64, len(o.LongFields))
	for k, v := range o.LongFields {
		id, err := parseFieldID(k)
		if err != nil {
			return room.GameObjectTemplate{}, err
		}
		longFields[id] = v
	}
	doubleFields := make(map[uint16]float64, len(o.DoubleFields))
	for k, v := range o.DoubleFields {
		id, err := parseFieldID(k)
		if err != nil {
			return room.GameObjectTemplate{}, err
		}
		doubleFields[id] = v
	}
	structFields := make(map[uint16][]byte, len(o.StructFields))
	for k, v := range o.StructFields {
		id, err := parseFieldID(k)
		if err != nil {
			return room.GameObjectTemplate{}, err
		}
		structFields[id] = []byte(v)
	}
	return room.GameObjectTemplate{
		ID:           o.ID,
		Template:     o.Template,
		AccessGroups: o.AccessGroups,
		LongFields:   longFields,
		DoubleFields: doubleFields,
		StructFields: structFields,
	}, nil
}

func (f ForwardConfig) build() (room.ForwardConfig, error) {
	typeID, err := commandTypeByName(f.Command)
	if err != nil {
		return room.ForwardConfig{}, err
	}
	out := room.ForwardConfig{CommandType: typeID}
	if f.FieldID != nil {
		fid := command.FieldID(*f.FieldID)
		out.FieldID = &fid
	}
	out.TemplateID = f.TemplateID
	return out, nil
}

func buildPermissions(in []GameObjectTemplatePermission) (room.Permissions, error) {
	out := make([]room.GameObjectTemplatePermission, 0, len(in))
	for _, t := range in {
		rules, err := buildRules(t.Rules)
		if err != nil {
			return room.Permissions{}, err
		}
		fields := make([]room.PermissionField, 0, len(t.Fields))
		for _, pf := range t.Fields {
			kind, err := fieldKindByName(pf.Kind)
			if err != nil {
				return room.Permissions{}, err
			}
			fieldRules, err := buildRules(pf.Rules)
			if err != nil {
				return room.Permissions{}, err
			}
			fields = append(fields, room.PermissionField{
				Field: room.FieldRef{ID: pf.FieldID, Kind: kind},
				Rules: fieldRules,
			})
		}
		out = append(out, room.GameObjectTemplatePermission{
			Template: t.Template,
			Rules:    rules,
			Fields:   fields,
		})
	}
	return room.Permissions{Templates: out}, nil
}

func buildRules(in []GroupsPermissionRule) ([]room.GroupsPermissionRule, error) {
	out := make([]room.GroupsPermissionRule, 0, len(in))
	for _, r := range in {
		p, err := permissionByName(r.Permission)
		if err != nil {
			return nil, err
		}
		out = append(out, room.GroupsPermissionRule{Groups: r.Groups, Permission: p})
	}
	return out, nil
}

func permissionByName(name string) (room.Permission, error) {
	switch name {
	case "deny", "":
		return room.Deny, nil
	case "ro":
		return room.Ro, nil
	case "rw":
		return room.Rw, nil
	default:
		return 0, fmt.Errorf("config: unknown permission %q", name)
	}
}

func fieldKindByName(name string) (room.FieldKind, error) {
	switch name {
	case "long":
		return room.KindLong, nil
	case "double":
		return room.KindDouble, nil
	case "structure":
		return room.KindStructure, nil
	case "item":
		return room.KindItem, nil
	default:
		return 0, fmt.Errorf("config: unknown field kind %q", name)
	}
}

func commandTypeByName(name string) (command.TypeID, error) {
	switch name {
	case "create_object":
		return command.TypeCreateObject, nil
	case "created":
		return command.TypeCreated, nil
	case "set_long":
		return command.TypeSetLong, nil
	case "set_double":
		return command.TypeSetDouble, nil
	case "set_structure":
		return command.TypeSetStructure, nil
	case "increment_long":
		return command.TypeIncrementLong, nil
	case "increment_double":
		return command.TypeIncrementDouble, nil
	case "add_item":
		return command.TypeAddItem, nil
	case "event":
		return command.TypeEvent, nil
	case "target_event":
		return command.TypeTargetEvent, nil
	case "delete":
		return command.TypeDelete, nil
	case "delete_field":
		return command.TypeDeleteField, nil
	case "attach_to_room":
		return command.TypeAttachToRoom, nil
	case "detach_from_room":
		return command.TypeDetachFromRoom, nil
	case "forwarded":
		return command.TypeForwarded, nil
	default:
		return 0, fmt.Errorf("config: unknown command type %q", name)
	}
}

func parseFieldID(key string) (uint16, error) {
	var id uint16
	if _, err := fmt.Sscanf(key, "%d", &id); err != nil {
		return 0, fmt.Errorf("config: field id %q is not a number: %w", key, err)
	}
	return id, nil
}
