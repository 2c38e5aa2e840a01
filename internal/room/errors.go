package room

import "fmt"

// PermissionError reports a member lacking the required permission on
// a (template, field) pair. The caller drops the command and logs; it
// never disconnects the member for this.
type PermissionError struct {
	MemberID uint16
	ObjectID string
	Field    FieldRef
	Required Permission
	Have     Permission
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("room: member %d lacks %s (has %s) on %s field %v", e.MemberID, e.Required, e.Have, e.ObjectID, e.Field)
}

// NotFoundError reports a missing member or object. The caller drops
// the command and logs.
type NotFoundError struct {
	Kind string
	What string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("room: %s not found: %s", e.Kind, e.What) }

// ValidationError reports a structurally invalid command, such as a
// CreateGameObject whose owner doesn't match the sender.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "room: " + e.Msg }

// ForwardPermissionError reports a Forwarded command whose sender or
// creator fails the super-member invariants.
type ForwardPermissionError struct {
	Msg             string
	SenderMemberID  uint16
	CreatorMemberID uint16
}

func (e *ForwardPermissionError) Error() string {
	return fmt.Sprintf("room: forwarded command denied: %s (sender=%d creator=%d)", e.Msg, e.SenderMemberID, e.CreatorMemberID)
}
