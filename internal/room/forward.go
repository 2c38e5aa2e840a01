package room

import "github.com/gameroom/relay/internal/command"

// ForwardConfig selects which commands are independently copied to
// every super-member as Forwarded(creator, command), by (command type,
// field, object template) — each of the latter two optional, matching
// forward.rs's ForwardConfig and its three-tier lookup (exact field
// under the object's template, that field under any template, then any
// field under any template). A config that names a template but no
// field matches only commands that carry no field.
type ForwardConfig struct {
	CommandType command.TypeID
	FieldID     *command.FieldID
	TemplateID  *uint16
}

// PutForwardConfig registers a forwarding rule (forward.rs's
// put_forwarded_command_config).
func (r *Room) PutForwardConfig(cfg ForwardConfig) {
	r.forwardConfigs[cfg] = struct{}{}
}

// shouldForward reports whether cmd from a non-super sender matches a
// registered forward config (forward.rs's should_forward): super
// members never have their own commands forwarded, and a command
// already wrapped as Forwarded is never re-wrapped.
func (r *Room) shouldForward(sender *Member, cmd command.Command, templateID *uint16) bool {
	if sender.SuperMember {
		return false
	}
	if cmd.Type() == command.TypeForwarded {
		return false
	}
	field, _, hasField := command.HasField(cmd)
	cfg := ForwardConfig{CommandType: cmd.Type(), TemplateID: templateID}
	if hasField {
		f := field
		cfg.FieldID = &f
	}
	if r.matchesForward(cfg) {
		return true
	}
	cfg.TemplateID = nil
	if r.matchesForward(cfg) {
		return true
	}
	cfg.FieldID = nil
	return r.matchesForward(cfg)
}

func (r *Room) matchesForward(cfg ForwardConfig) bool {
	for have := range r.forwardConfigs {
		if have.CommandType != cfg.CommandType {
			continue
		}
		if !equalFieldPtr(have.FieldID, cfg.FieldID) {
			continue
		}
		if !equalTemplatePtr(have.TemplateID, cfg.TemplateID) {
			continue
		}
		return true
	}
	return false
}

func equalFieldPtr(a, b *command.FieldID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTemplatePtr(a, b *uint16) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// forwardToSuperMembers fans cmd out to every super-member as
// Forwarded(creator, cmd), excluding the creator itself (forward.rs's
// forward_to_super_members).
func (r *Room) forwardToSuperMembers(creator uint16, cmd command.Command, ch command.Envelope) {
	wrapped := command.Forwarded{Creator: creator, Inner: cmd}
	for _, id := range r.memberOrder {
		m := r.members[id]
		if !m.SuperMember || m.ID == creator {
			continue
		}
		m.enqueue(command.Envelope{Channel: ch.Channel, Creator: creator, Cmd: wrapped})
	}
}
