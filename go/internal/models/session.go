package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus defines the lifecycle state of a walk session.
type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// Session represents a group walk session. The plan is fixed at creation;
// replacing it is only legal while the session is still scheduled.
type Session struct {
	ID        uuid.UUID     `json:"id"`
	HostID    uuid.UUID     `json:"host_id"`
	Name      string        `json:"name"`
	Plan      IntervalPlan  `json:"plan"`
	StartTime *time.Time    `json:"start_time,omitempty"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ParticipantRole defines a participant's role in a session.
type ParticipantRole string

const (
	RoleHost   ParticipantRole = "host"
	RoleMember ParticipantRole = "member"
)

// Participant is a member of a walk session.
type Participant struct {
	SessionID uuid.UUID       `json:"session_id"`
	UserID    uuid.UUID       `json:"user_id"`
	Role      ParticipantRole `json:"role"`
	JoinedAt  time.Time       `json:"joined_at"`
}

// ChatMessage is one message in a session's group chat. Append-only.
type ChatMessage struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	SenderID  uuid.UUID `json:"sender_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
