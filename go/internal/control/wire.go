package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType tags messages multiplexed over the control subject.
type MessageType string

const (
	MessageTypeControlState  MessageType = "ControlState"
	MessageTypeResyncRequest MessageType = "ResyncRequest"
)

// Envelope wraps control-subject messages with a kind tag so the subject can
// carry both authoritative state and resync requests.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Message is a point-in-time authoritative timer snapshot published by the
// session host. It is not a delta: followers overwrite their state with it
// verbatim. Older messages lose to newer ones by EmittedAt.
//
// OriginID identifies the publishing participant so a client can ignore its
// own echo, and so followers can ignore control messages not published by
// the host.
type Message struct {
	SessionID            uuid.UUID `json:"session_id"`
	OriginID             uuid.UUID `json:"origin_id"`
	IsRunning            bool      `json:"is_running"`
	CurrentIntervalIndex uint32    `json:"current_interval_index"`
	TimeRemainingSec     uint32    `json:"time_remaining_sec"`
	EmittedAt            time.Time `json:"emitted_at"`
}

// Validate rejects messages missing required fields.
func (m *Message) Validate() error {
	if m.SessionID == uuid.Nil {
		return errors.New("control message missing session id")
	}
	if m.OriginID == uuid.Nil {
		return errors.New("control message missing origin id")
	}
	if m.EmittedAt.IsZero() {
		return errors.New("control message missing emitted_at")
	}
	return nil
}

// ResyncRequest asks the host to re-publish its last known state, so a
// reconnecting follower does not resume from stale local state silently.
type ResyncRequest struct {
	SessionID   uuid.UUID `json:"session_id"`
	RequestedBy uuid.UUID `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}

// EncodeMessage wraps a control message in a tagged envelope.
func EncodeMessage(m Message) ([]byte, error) {
	return encodeEnvelope(MessageTypeControlState, m)
}

// EncodeResyncRequest wraps a resync request in a tagged envelope.
func EncodeResyncRequest(r ResyncRequest) ([]byte, error) {
	return encodeEnvelope(MessageTypeResyncRequest, r)
}

func encodeEnvelope(t MessageType, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, Data: data})
}

// DecodeEnvelope parses a raw control-subject message.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal control envelope: %w", err)
	}
	if env.Type == "" {
		return nil, errors.New("control envelope missing type")
	}
	return &env, nil
}
