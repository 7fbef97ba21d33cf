package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/sparkwalk/walksync/go/internal/models"
	"github.com/sparkwalk/walksync/go/internal/transport"
)

// ErrEmptyMessage is returned when a participant sends a blank message.
var ErrEmptyMessage = errors.New("chat message is empty")

// Store defines what the room needs from chat persistence.
type Store interface {
	AppendMessage(ctx context.Context, msg models.ChatMessage) error
	ListMessages(ctx context.Context, sessionID uuid.UUID) ([]models.ChatMessage, error)
}

// Room is the group chat for one session: append-only broadcast, no edits
// or deletes, independent of timer synchronization. Any participant may
// send; there is no host gate here.
//
// Display ordering uses CreatedAt with arrival order breaking ties, which is
// fine because chat is advisory.
type Room struct {
	sessionID uuid.UUID
	localID   uuid.UUID
	store     Store
	bus       transport.PubSub
	clock     clockwork.Clock
}

// NewRoom creates the chat room for a session.
func NewRoom(sessionID, localID uuid.UUID, store Store, bus transport.PubSub, clock clockwork.Clock) *Room {
	return &Room{
		sessionID: sessionID,
		localID:   localID,
		store:     store,
		bus:       bus,
		clock:     clock,
	}
}

// Send appends a message to the store and broadcasts it to current
// subscribers. The broadcast is best effort; the stored message is the
// record.
func (r *Room) Send(ctx context.Context, text string) (*models.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	msg := models.ChatMessage{
		ID:        uuid.New(),
		SessionID: r.sessionID,
		SenderID:  r.localID,
		Text:      text,
		CreatedAt: r.clock.Now(),
	}
	if err := r.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("marshal chat message")
		return &msg, nil
	}
	if err := r.bus.Publish(ctx, transport.ChatSubject(r.sessionID), data); err != nil {
		log.Warn().
			Err(err).
			Str("session_id", r.sessionID.String()).
			Msg("chat broadcast failed; message stored")
	}
	return &msg, nil
}

// History returns all messages for the session ordered by creation time.
func (r *Room) History(ctx context.Context) ([]models.ChatMessage, error) {
	return r.store.ListMessages(ctx, r.sessionID)
}

// Listen subscribes to live messages for the session. Malformed payloads and
// messages for other sessions are dropped.
func (r *Room) Listen(onMessage func(models.ChatMessage)) (transport.Unsubscribe, error) {
	return r.bus.Subscribe(transport.ChatSubject(r.sessionID), func(data []byte) {
		var msg models.ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Msg("malformed chat message")
			return
		}
		if msg.SessionID != r.sessionID || msg.ID == uuid.Nil {
			return
		}
		onMessage(msg)
	})
}
