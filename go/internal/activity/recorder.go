package activity

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/sparkwalk/walksync/go/internal/models"
)

// PgRecorder persists finished walks to Postgres. Recording is fire and
// forget: a failed insert is logged, never surfaced to the completion path.
type PgRecorder struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

// NewPgRecorder creates a Postgres-backed activity recorder.
func NewPgRecorder(pool *pgxpool.Pool, clock clockwork.Clock) *PgRecorder {
	return &PgRecorder{pool: pool, clock: clock}
}

// RecordFinishedWalk stores one completed-walk row for the participant.
func (r *PgRecorder) RecordFinishedWalk(ctx context.Context, sessionID, participantID uuid.UUID, p models.IntervalPlan) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO walk_activities (id, session_id, participant_id, duration_seconds, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, participant_id) DO NOTHING`,
		uuid.New(), sessionID, participantID, p.TotalDurationSeconds(), r.clock.Now())
	if err != nil {
		log.Warn().
			Err(err).
			Str("session_id", sessionID.String()).
			Str("participant_id", participantID.String()).
			Msg("record finished walk")
		return
	}
	log.Info().
		Str("session_id", sessionID.String()).
		Str("participant_id", participantID.String()).
		Uint32("duration_seconds", p.TotalDurationSeconds()).
		Msg("finished walk recorded")
}
