package identity

import "github.com/google/uuid"

// Identity supplies the locally signed-in participant. Authentication itself
// lives outside this module.
type Identity interface {
	CurrentParticipantID() uuid.UUID
}

// Static is a fixed identity, used by the daemon and in tests.
type Static struct {
	ID uuid.UUID
}

func (s Static) CurrentParticipantID() uuid.UUID {
	return s.ID
}
