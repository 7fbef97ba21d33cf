package progress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/sparkwalk/walksync/go/internal/timer"
	"github.com/sparkwalk/walksync/go/internal/transport"
)

// DefaultCadence is how often a client publishes its own progress while a
// walk is underway.
const DefaultCadence = 2 * time.Second

// Broadcaster periodically publishes this client's own progress record. It
// only reads the engine state; the tick loop is the sole writer. Publish
// failures are logged and dropped so the cadence never blocks or stalls.
type Broadcaster struct {
	sessionID     uuid.UUID
	participantID uuid.UUID
	engine        *timer.Engine
	bus           transport.PubSub
	clock         clockwork.Clock
	cadence       time.Duration
}

// NewBroadcaster creates a broadcaster for the local participant.
func NewBroadcaster(sessionID, participantID uuid.UUID, engine *timer.Engine, bus transport.PubSub, clock clockwork.Clock, cadence time.Duration) *Broadcaster {
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	return &Broadcaster{
		sessionID:     sessionID,
		participantID: participantID,
		engine:        engine,
		bus:           bus,
		clock:         clock,
		cadence:       cadence,
	}
}

// Run publishes on the configured cadence until ctx is cancelled. Nothing is
// published while the engine sits Idle; paused and finished states still go
// out so the roster can show them.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := b.clock.NewTicker(b.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			b.publishOnce(ctx)
		}
	}
}

func (b *Broadcaster) publishOnce(ctx context.Context) {
	if b.engine.Phase() == timer.PhaseIdle {
		return
	}
	state := b.engine.Snapshot()
	rec := Record{
		SessionID:             b.sessionID,
		ParticipantID:         b.participantID,
		CurrentIntervalIndex:  state.CurrentIntervalIndex,
		IntervalTimeRemaining: state.IntervalTimeRemaining,
		IsPaused:              !state.IsRunning,
		UpdatedAt:             b.clock.Now(),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		log.Error().Err(err).Msg("marshal progress record")
		return
	}
	if err := b.bus.Publish(ctx, transport.ProgressSubject(b.sessionID), data); err != nil {
		log.Warn().
			Err(err).
			Str("session_id", b.sessionID.String()).
			Msg("progress publish failed; will retry next cadence")
	}
}
