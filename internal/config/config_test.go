package config

import (
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/require"

	"github.com/gameroom/relay/internal/command"
	"github.com/gameroom/relay/internal/room"
)

func decodeRoomTemplate(t *testing.T, doc string) room.RoomTemplate {
	t.Helper()
	var cfg RoomTemplate
	_, err := toml.Decode(doc, &cfg)
	require.NoError(t, err)
	built, err := cfg.Build()
	require.NoError(t, err)
	return built
}

func TestBuildRoomTemplateObjectsAndFields(t *testing.T) {
	built := decodeRoomTemplate(t, `
name = "arena"

[[objects]]
id = 1
template = 7
access_groups = 3
long_fields = { "10" = 42 }
double_fields = { "11" = 1.5 }
`)

	require.Equal(t, "arena", built.Name)
	require.Len(t, built.Objects, 1)
	obj := built.Objects[0]
	require.Equal(t, uint32(1), obj.ID)
	require.Equal(t, uint16(7), obj.Template)
	require.Equal(t, uint64(3), obj.AccessGroups)
	require.Equal(t, int64(42), obj.LongFields[10])
	require.Equal(t, 1.5, obj.DoubleFields[11])
}

func TestBuildPermissionsResolvesNames(t *testing.T) {
	built := decodeRoomTemplate(t, `
name = "arena"

[[permissions]]
template = 100

[[permissions.fields]]
field_id = 5
kind = "long"

[[permissions.fields.rules]]
groups = 2
permission = "ro"
`)

	require.Len(t, built.Permissions.Templates, 1)
	require.Equal(t, room.Ro, built.Permissions.Templates[0].Fields[0].Rules[0].Permission)
	require.Equal(t, room.KindLong, built.Permissions.Templates[0].Fields[0].Field.Kind)
}

func TestBuildItemConfigsIndexedByTemplateAndField(t *testing.T) {
	built := decodeRoomTemplate(t, `
name = "arena"

[[item_configs]]
template = 10
field = 5
capacity = 3
`)

	require.Equal(t, 3, built.ItemConfigs[10][5].Capacity)
}

func TestBuildForwardsResolvesCommandName(t *testing.T) {
	built := decodeRoomTemplate(t, `
name = "arena"

[[forwards]]
command = "attach_to_room"
`)

	require.Len(t, built.Forwards, 1)
	require.Equal(t, command.TypeAttachToRoom, built.Forwards[0].CommandType)
	require.Nil(t, built.Forwards[0].FieldID)
}

func TestBuildRejectsUnknownPermissionName(t *testing.T) {
	var cfg RoomTemplate
	_, err := toml.Decode(`
[[permissions]]
template = 1

[[permissions.rules]]
groups = 1
permission = "bogus"
`, &cfg)
	require.NoError(t, err)
	_, err = cfg.Build()
	require.Error(t, err)
}

func TestBuildMemberTemplate(t *testing.T) {
	var cfg MemberTemplate
	_, err := toml.Decode(`
groups = 5

[[objects]]
id = 2
template = 1
access_groups = 5
`, &cfg)
	require.NoError(t, err)

	built, err := cfg.Build()
	require.NoError(t, err)
	require.Equal(t, uint64(5), built.Groups)
	require.Len(t, built.Objects, 1)
	require.Equal(t, uint32(2), built.Objects[0].ID)
}
