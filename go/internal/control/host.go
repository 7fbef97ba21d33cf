package control

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/sparkwalk/walksync/go/internal/timer"
	"github.com/sparkwalk/walksync/go/internal/transport"
)

// ErrUnauthorized is returned when a non-host participant attempts a control
// operation.
var ErrUnauthorized = errors.New("only the host can control this session")

const publishAttempts = 3

// HostAuthority is the sole writer of control state for a session. Every
// start/pause/reset is applied to the local engine first, then mirrored onto
// the control subject. A failed publish never rolls back the local change:
// the host's own state stays authoritative and followers catch up on the
// next control event or resync.
type HostAuthority struct {
	sessionID uuid.UUID
	hostID    uuid.UUID
	localID   uuid.UUID
	engine    *timer.Engine
	bus       transport.PubSub
	clock     clockwork.Clock
}

// NewHostAuthority creates the control-state writer for a session. localID
// is the participant operating this client; operations are rejected unless
// it matches hostID.
func NewHostAuthority(sessionID, hostID, localID uuid.UUID, engine *timer.Engine, bus transport.PubSub, clock clockwork.Clock) *HostAuthority {
	return &HostAuthority{
		sessionID: sessionID,
		hostID:    hostID,
		localID:   localID,
		engine:    engine,
		bus:       bus,
		clock:     clock,
	}
}

// IsHost reports whether the local participant is the session host.
func (h *HostAuthority) IsHost() bool {
	return h.localID == h.hostID
}

// Start applies a start locally and broadcasts the resulting state.
func (h *HostAuthority) Start(ctx context.Context) error {
	if !h.IsHost() {
		return ErrUnauthorized
	}
	h.engine.Start()
	h.publishSnapshot(ctx)
	return nil
}

// Pause applies a pause locally and broadcasts the resulting state.
func (h *HostAuthority) Pause(ctx context.Context) error {
	if !h.IsHost() {
		return ErrUnauthorized
	}
	h.engine.Pause()
	h.publishSnapshot(ctx)
	return nil
}

// Reset rewinds the engine locally and broadcasts the resulting state.
func (h *HostAuthority) Reset(ctx context.Context) error {
	if !h.IsHost() {
		return ErrUnauthorized
	}
	h.engine.Reset()
	h.publishSnapshot(ctx)
	return nil
}

// Publish re-broadcasts the current state without changing it. Used to
// answer resync requests from reconnecting followers.
func (h *HostAuthority) Publish(ctx context.Context) error {
	if !h.IsHost() {
		return ErrUnauthorized
	}
	h.publishSnapshot(ctx)
	return nil
}

// publishSnapshot composes a control message from the just-applied engine
// state and publishes it with a bounded number of attempts. Failures are
// logged and swallowed: a frozen timer is worse than a drifted one.
func (h *HostAuthority) publishSnapshot(ctx context.Context) {
	state := h.engine.Snapshot()
	msg := Message{
		SessionID:            h.sessionID,
		OriginID:             h.localID,
		IsRunning:            state.IsRunning,
		CurrentIntervalIndex: state.CurrentIntervalIndex,
		TimeRemainingSec:     state.IntervalTimeRemaining,
		EmittedAt:            h.clock.Now(),
	}

	data, err := EncodeMessage(msg)
	if err != nil {
		log.Error().Err(err).Str("session_id", h.sessionID.String()).Msg("encode control message")
		return
	}

	subject := transport.ControlSubject(h.sessionID)
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		if err := h.bus.Publish(ctx, subject, data); err == nil {
			log.Debug().
				Str("session_id", h.sessionID.String()).
				Bool("is_running", msg.IsRunning).
				Uint32("interval_index", msg.CurrentIntervalIndex).
				Uint32("time_remaining_sec", msg.TimeRemainingSec).
				Msg("published control state")
			return
		} else if attempt == publishAttempts {
			log.Warn().
				Err(err).
				Str("session_id", h.sessionID.String()).
				Int("attempts", attempt).
				Msg("control publish failed; proceeding with local state")
			return
		}
		h.clock.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
}
