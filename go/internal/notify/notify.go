package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/sparkwalk/walksync/go/internal/transport"
)

// Notifier delivers fire-and-forget notifications to participants who may
// not have the session open. Implementations never return errors to the
// caller; delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, participantID uuid.UUID, title, body string, metadata map[string]string)
}

// LogNotifier writes notifications to the log. Used in tests and when no
// delivery backend is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, participantID uuid.UUID, title, body string, metadata map[string]string) {
	log.Info().
		Str("participant_id", participantID.String()).
		Str("title", title).
		Str("body", body).
		Msg("notification")
}

// Notification is the wire record a push worker consumes.
type Notification struct {
	ParticipantID uuid.UUID         `json:"participant_id"`
	Title         string            `json:"title"`
	Body          string            `json:"body"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// BusNotifier publishes notifications onto the transport for an external
// push worker to deliver.
type BusNotifier struct {
	bus   transport.PubSub
	clock clockwork.Clock
}

// NewBusNotifier creates a transport-backed notifier.
func NewBusNotifier(bus transport.PubSub, clock clockwork.Clock) *BusNotifier {
	return &BusNotifier{bus: bus, clock: clock}
}

func (n *BusNotifier) Notify(ctx context.Context, participantID uuid.UUID, title, body string, metadata map[string]string) {
	data, err := json.Marshal(Notification{
		ParticipantID: participantID,
		Title:         title,
		Body:          body,
		Metadata:      metadata,
		CreatedAt:     n.clock.Now(),
	})
	if err != nil {
		log.Error().Err(err).Msg("marshal notification")
		return
	}
	if err := n.bus.Publish(ctx, transport.NotifySubject(participantID), data); err != nil {
		log.Warn().
			Err(err).
			Str("participant_id", participantID.String()).
			Msg("notification publish failed")
	}
}
