package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrUnavailable is returned when a publish or subscribe cannot reach the
// transport. Callers on the tick path treat it as fire-and-forget.
var ErrUnavailable = errors.New("transport unavailable")

// Handler receives a raw message from a subscription.
type Handler func(data []byte)

// Unsubscribe tears down a subscription.
type Unsubscribe func()

// PubSub is the broadcast substrate the engine runs on. Delivery is
// at-least-once and best-effort ordered per publisher; consumers defend
// against duplicates and reordering themselves.
type PubSub interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(subject string, h Handler) (Unsubscribe, error)
}

// Session-scoped subjects. One subject each for control, progress and chat;
// the control subject also carries resync requests.
func ControlSubject(sessionID uuid.UUID) string {
	return fmt.Sprintf("walk.%s.control", sessionID)
}

func ProgressSubject(sessionID uuid.UUID) string {
	return fmt.Sprintf("walk.%s.progress", sessionID)
}

func ChatSubject(sessionID uuid.UUID) string {
	return fmt.Sprintf("walk.%s.chat", sessionID)
}

// NotifySubject carries fire-and-forget notifications for one participant.
func NotifySubject(participantID uuid.UUID) string {
	return fmt.Sprintf("walk.notify.%s", participantID)
}
