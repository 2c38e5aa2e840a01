package room

import (
	"github.com/awnumar/memguard"

	"github.com/gameroom/relay/internal/command"
)

// Member is one room participant. The shared symmetric key is held in
// a memguard.LockedBuffer: locked out of swap and wiped on Destroy
// rather than left for the garbage collector to find whenever it gets
// around to it.
type Member struct {
	ID          uint16
	Template    MemberTemplate
	SuperMember bool
	Attached    bool

	key *memguard.LockedBuffer

	// Out is the pending S2C envelope queue a higher layer (roomset)
	// drains into this member's protocol.State each server cycle.
	Out []command.Envelope
}

func newMember(id uint16, tpl MemberTemplate) *Member {
	key := tpl.PrivateKey
	return &Member{
		ID:          id,
		Template:    tpl,
		SuperMember: tpl.SuperMember,
		key:         memguard.NewBufferFromBytes(key[:]),
	}
}

// Groups returns the member's access groups bitmask.
func (m *Member) Groups() uint64 { return m.Template.Groups }

// Key exposes the locked key buffer's bytes for the duration of the
// call; callers must not retain the returned slice past the member's
// lifetime (memguard zeroes it on Destroy).
func (m *Member) Key() []byte { return m.key.Bytes() }

// destroy wipes the locked key buffer. Called once, when the member is
// disconnected; room teardown does not call it.
func (m *Member) destroy() {
	if m.key != nil {
		m.key.Destroy()
	}
}

// enqueue appends an outbound envelope for later draining.
func (m *Member) enqueue(env command.Envelope) {
	m.Out = append(m.Out, env)
}

// Drain empties and returns the member's pending outbound envelopes.
func (m *Member) Drain() []command.Envelope {
	out := m.Out
	m.Out = nil
	return out
}
