package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/sparkwalk/walksync/go/internal/models"
	"github.com/sparkwalk/walksync/go/internal/notify"
	"github.com/sparkwalk/walksync/go/internal/plan"
)

var (
	// ErrNotFound is returned when a session or invite does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrNotHost is returned when a non-host drives a lifecycle transition.
	ErrNotHost = errors.New("only the host can change the session lifecycle")
	// ErrPlanLocked is returned when a plan edit is attempted after the
	// session left the scheduled state.
	ErrPlanLocked = errors.New("plan can only be replaced while the session is scheduled")
	// ErrInvalidTransition is returned for lifecycle moves outside
	// scheduled -> active -> completed, with cancel legal from scheduled
	// and active.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)

// Repository defines what the app layer needs from session storage.
type Repository interface {
	CreateSession(ctx context.Context, hostID uuid.UUID, name string, p models.IntervalPlan) (*models.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	UpdateSessionPlan(ctx context.Context, id uuid.UUID, p models.IntervalPlan) (*models.Session, error)
	SetLifecycleState(ctx context.Context, id uuid.UUID, status models.SessionStatus) (*models.Session, error)
	ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error)
	JoinSession(ctx context.Context, sessionID, userID uuid.UUID, role models.ParticipantRole) error
	CreateInvite(ctx context.Context, sessionID uuid.UUID) (string, error)
	ResolveInvite(ctx context.Context, token string) (uuid.UUID, error)
}

// App owns session lifecycle logic. Lifecycle transitions are host-driven
// and single-writer: followers observe the status but never change it.
type App struct {
	repo     Repository
	notifier notify.Notifier
	clock    clockwork.Clock
}

// NewApp creates a session App.
func NewApp(repo Repository, notifier notify.Notifier, clock clockwork.Clock) *App {
	return &App{repo: repo, notifier: notifier, clock: clock}
}

// CreateSession validates and cleans the plan and stores the session in the
// scheduled state with the host enrolled as its first participant.
func (a *App) CreateSession(ctx context.Context, hostID uuid.UUID, name string, p models.IntervalPlan) (*models.Session, error) {
	if len(p) == 0 {
		p = plan.Default()
	}
	p = plan.Cleanup(p)
	if err := plan.Validate(p); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	sess, err := a.repo.CreateSession(ctx, hostID, name, p)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	log.Info().
		Str("session_id", sess.ID.String()).
		Str("host_id", hostID.String()).
		Int("intervals", len(p)).
		Msg("session created")
	return sess, nil
}

// GetSession fetches a session by ID.
func (a *App) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return a.repo.GetSession(ctx, id)
}

// ResolvePlan returns the session's interval plan, satisfying plan.Resolver.
func (a *App) Resolve(ctx context.Context, sessionID uuid.UUID) (models.IntervalPlan, error) {
	sess, err := a.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, plan.ErrNotFound
		}
		return nil, err
	}
	return sess.Plan, nil
}

// ReplacePlan swaps the session's plan. Legal only while scheduled; a plan
// edit is a replacement, never an in-place mutation.
func (a *App) ReplacePlan(ctx context.Context, actorID, sessionID uuid.UUID, p models.IntervalPlan) (*models.Session, error) {
	sess, err := a.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.HostID != actorID {
		return nil, ErrNotHost
	}
	if sess.Status != models.SessionStatusScheduled {
		return nil, ErrPlanLocked
	}

	p = plan.Cleanup(p)
	if err := plan.Validate(p); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return a.repo.UpdateSessionPlan(ctx, sessionID, p)
}

// Start moves scheduled -> active. Host only.
func (a *App) Start(ctx context.Context, actorID, sessionID uuid.UUID) (*models.Session, error) {
	return a.transition(ctx, actorID, sessionID, models.SessionStatusActive)
}

// Complete moves active -> completed, driven by the host's own clock when
// the plan's total duration elapses. Participants are notified.
func (a *App) Complete(ctx context.Context, actorID, sessionID uuid.UUID) (*models.Session, error) {
	sess, err := a.transition(ctx, actorID, sessionID, models.SessionStatusCompleted)
	if err != nil {
		return nil, err
	}
	a.notifyParticipants(ctx, sess, "Walk complete", fmt.Sprintf("%s has finished. Nice work!", sess.Name))
	return sess, nil
}

// Cancel moves scheduled or active -> cancelled. Host only.
func (a *App) Cancel(ctx context.Context, actorID, sessionID uuid.UUID) (*models.Session, error) {
	return a.transition(ctx, actorID, sessionID, models.SessionStatusCancelled)
}

func (a *App) transition(ctx context.Context, actorID, sessionID uuid.UUID, to models.SessionStatus) (*models.Session, error) {
	sess, err := a.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.HostID != actorID {
		return nil, ErrNotHost
	}
	if !validTransition(sess.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sess.Status, to)
	}

	updated, err := a.repo.SetLifecycleState(ctx, sessionID, to)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("session_id", sessionID.String()).
		Str("from", string(sess.Status)).
		Str("to", string(to)).
		Msg("session lifecycle transition")
	return updated, nil
}

func validTransition(from, to models.SessionStatus) bool {
	switch to {
	case models.SessionStatusActive:
		return from == models.SessionStatusScheduled
	case models.SessionStatusCompleted:
		return from == models.SessionStatusActive
	case models.SessionStatusCancelled:
		return from == models.SessionStatusScheduled || from == models.SessionStatusActive
	}
	return false
}

// Invite creates (or returns the existing) invite token for a session.
func (a *App) Invite(ctx context.Context, sessionID uuid.UUID) (string, error) {
	return a.repo.CreateInvite(ctx, sessionID)
}

// JoinByInvite resolves an invite token and joins the user as a member.
// Joining twice is tolerated.
func (a *App) JoinByInvite(ctx context.Context, token string, userID uuid.UUID) (uuid.UUID, error) {
	sessionID, err := a.repo.ResolveInvite(ctx, token)
	if err != nil {
		return uuid.Nil, err
	}
	if err := a.repo.JoinSession(ctx, sessionID, userID, models.RoleMember); err != nil {
		return uuid.Nil, fmt.Errorf("join session: %w", err)
	}
	return sessionID, nil
}

// Participants lists the session's participants.
func (a *App) Participants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	return a.repo.ListParticipants(ctx, sessionID)
}

// notifyParticipants fires a best-effort notification to every participant.
func (a *App) notifyParticipants(ctx context.Context, sess *models.Session, title, body string) {
	if a.notifier == nil {
		return
	}
	parts, err := a.repo.ListParticipants(ctx, sess.ID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("list participants for notification")
		return
	}
	meta := map[string]string{"session_id": sess.ID.String()}
	for _, p := range parts {
		a.notifier.Notify(ctx, p.UserID, title, body, meta)
	}
}
