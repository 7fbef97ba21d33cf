package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sparkwalk/walksync/go/internal/models"
	"github.com/sparkwalk/walksync/go/internal/sqlutil"
)

// PgRepository implements Repository against Postgres. The interval plan is
// stored as jsonb on the session row; it is written at creation and on plan
// replacement, never mutated in place.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a Postgres-backed session repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const sessionColumns = `id, host_id, name, plan, start_time, status, created_at, updated_at`

// CreateSession inserts a session in the scheduled state and enrolls the
// host as its first participant, atomically.
func (r *PgRepository) CreateSession(ctx context.Context, hostID uuid.UUID, name string, p models.IntervalPlan) (*models.Session, error) {
	planJSON, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}

	var sess *models.Session
	err = sqlutil.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO sessions (id, host_id, name, plan, status)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+sessionColumns,
			uuid.New(), hostID, name, planJSON, models.SessionStatusScheduled)
		sess, err = scanSession(row)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO session_participants (session_id, user_id, role)
			VALUES ($1, $2, $3)`,
			sess.ID, hostID, models.RoleHost)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// GetSession fetches a session by ID.
func (r *PgRepository) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// UpdateSessionPlan replaces the plan. The scheduled-only guard is enforced
// in the query as well as in the app layer.
func (r *PgRepository) UpdateSessionPlan(ctx context.Context, id uuid.UUID, p models.IntervalPlan) (*models.Session, error) {
	planJSON, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE sessions SET plan = $2, updated_at = now()
		WHERE id = $1 AND status = $3
		RETURNING `+sessionColumns,
		id, planJSON, models.SessionStatusScheduled)
	sess, err := scanSession(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrPlanLocked
	}
	return sess, err
}

// SetLifecycleState updates the status, recording the start time when the
// session goes active.
func (r *PgRepository) SetLifecycleState(ctx context.Context, id uuid.UUID, status models.SessionStatus) (*models.Session, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE sessions SET
			status = $2,
			start_time = CASE WHEN $2 = 'active' THEN now() ELSE start_time END,
			updated_at = now()
		WHERE id = $1
		RETURNING `+sessionColumns,
		id, status)
	return scanSession(row)
}

// ListParticipants returns the session's participants ordered by join time.
func (r *PgRepository) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT session_id, user_id, role, joined_at
		FROM session_participants
		WHERE session_id = $1
		ORDER BY joined_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var parts []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.SessionID, &p.UserID, &p.Role, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// JoinSession adds a participant. Re-joining is a no-op.
func (r *PgRepository) JoinSession(ctx context.Context, sessionID, userID uuid.UUID, role models.ParticipantRole) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO session_participants (session_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id, user_id) DO NOTHING`,
		sessionID, userID, role)
	if err != nil {
		return fmt.Errorf("join session: %w", err)
	}
	return nil
}

// CreateInvite upserts the single invite token for a session and returns it.
func (r *PgRepository) CreateInvite(ctx context.Context, sessionID uuid.UUID) (string, error) {
	var token string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO session_invites (session_id, token)
		VALUES ($1, $2)
		ON CONFLICT (session_id) DO UPDATE SET session_id = EXCLUDED.session_id
		RETURNING token`,
		sessionID, uuid.New().String()).Scan(&token)
	if err != nil {
		return "", fmt.Errorf("create invite: %w", err)
	}
	return token, nil
}

// ResolveInvite maps an invite token back to its session.
func (r *PgRepository) ResolveInvite(ctx context.Context, token string) (uuid.UUID, error) {
	var sessionID uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT session_id FROM session_invites WHERE token = $1`, token).Scan(&sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve invite: %w", err)
	}
	return sessionID, nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var (
		sess     models.Session
		planJSON []byte
	)
	err := row.Scan(&sess.ID, &sess.HostID, &sess.Name, &planJSON, &sess.StartTime, &sess.Status, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if err := json.Unmarshal(planJSON, &sess.Plan); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	return &sess, nil
}
