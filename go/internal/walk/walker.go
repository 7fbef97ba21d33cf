package walk

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/sparkwalk/walksync/go/internal/control"
	"github.com/sparkwalk/walksync/go/internal/models"
	"github.com/sparkwalk/walksync/go/internal/progress"
	"github.com/sparkwalk/walksync/go/internal/timer"
	"github.com/sparkwalk/walksync/go/internal/transport"
)

// StaleMultiplier scales the progress cadence into the roster staleness
// window.
const StaleMultiplier = 3

// ActivityRecorder records a finished walk. Called exactly once per
// completed run.
type ActivityRecorder interface {
	RecordFinishedWalk(ctx context.Context, sessionID, participantID uuid.UUID, p models.IntervalPlan)
}

// Lifecycle is the slice of the session app the walker needs to complete a
// session on the host's clock. Satisfied by session.App.
type Lifecycle interface {
	Complete(ctx context.Context, actorID, sessionID uuid.UUID) (*models.Session, error)
}

// Config wires a Walker.
type Config struct {
	SessionID uuid.UUID
	HostID    uuid.UUID
	LocalID   uuid.UUID
	Plan      models.IntervalPlan
	Bus       transport.PubSub
	Clock     clockwork.Clock

	// ProgressCadence defaults to progress.DefaultCadence.
	ProgressCadence time.Duration

	// Optional hooks.
	Activity  ActivityRecorder
	Lifecycle Lifecycle
}

// Walker owns one client's view of a group walk: the local timer engine and
// its tick loop, host authority or follower reconciliation, and the progress
// broadcast/roster. The UI reads snapshots and registers hooks; all
// mutation flows through here.
type Walker struct {
	cfg    Config
	engine *timer.Engine
	runner *timer.Runner
	host   *control.HostAuthority
	recon  *control.Reconciler
	bcast  *progress.Broadcaster
	agg    *progress.Aggregator

	mu     sync.Mutex
	joined bool
	ctx    context.Context
	cancel context.CancelFunc
	unsubs []transport.Unsubscribe
}

// NewWalker builds the per-client engine for a session.
func NewWalker(cfg Config) (*Walker, error) {
	if cfg.SessionID == uuid.Nil || cfg.HostID == uuid.Nil || cfg.LocalID == uuid.Nil {
		return nil, errors.New("walk: session, host and local participant IDs are required")
	}
	if cfg.Bus == nil {
		return nil, errors.New("walk: transport is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ProgressCadence <= 0 {
		cfg.ProgressCadence = progress.DefaultCadence
	}

	engine, err := timer.NewEngine(cfg.Plan)
	if err != nil {
		return nil, err
	}

	w := &Walker{
		cfg:    cfg,
		engine: engine,
		runner: timer.NewRunner(engine, cfg.Clock),
		host:   control.NewHostAuthority(cfg.SessionID, cfg.HostID, cfg.LocalID, engine, cfg.Bus, cfg.Clock),
		recon:  control.NewReconciler(cfg.SessionID, cfg.HostID, cfg.LocalID, engine),
		agg:    progress.NewAggregator(cfg.SessionID, cfg.Clock, StaleMultiplier*cfg.ProgressCadence),
	}
	w.bcast = progress.NewBroadcaster(cfg.SessionID, cfg.LocalID, engine, cfg.Bus, cfg.Clock, cfg.ProgressCadence)

	engine.OnCompletion(w.handleCompletion)
	return w, nil
}

// IsHost reports whether this client is the session host.
func (w *Walker) IsHost() bool {
	return w.host.IsHost()
}

// OnIntervalTransition registers the pace-change hook (audio/haptic cue).
// Must be called before Join.
func (w *Walker) OnIntervalTransition(fn timer.TransitionFunc) {
	w.engine.OnIntervalTransition(fn)
}

// Join subscribes to the session's control and progress subjects and starts
// the tick and progress loops. A follower immediately asks the host for its
// latest state instead of resuming from whatever it last saw; the host
// answers resync requests by re-publishing.
func (w *Walker) Join(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.joined {
		return errors.New("walk: already joined")
	}

	runCtx, cancel := context.WithCancel(ctx)

	unsubControl, err := w.cfg.Bus.Subscribe(transport.ControlSubject(w.cfg.SessionID), w.recon.Handle)
	if err != nil {
		cancel()
		return err
	}
	unsubProgress, err := w.cfg.Bus.Subscribe(transport.ProgressSubject(w.cfg.SessionID), w.agg.Handle)
	if err != nil {
		unsubControl()
		cancel()
		return err
	}

	if w.IsHost() {
		w.recon.OnResyncRequest(func(req control.ResyncRequest) {
			log.Debug().
				Str("session_id", w.cfg.SessionID.String()).
				Str("requested_by", req.RequestedBy.String()).
				Msg("answering resync request")
			if err := w.host.Publish(runCtx); err != nil {
				log.Warn().Err(err).Msg("resync publish failed")
			}
		})
	}

	w.ctx = runCtx
	w.cancel = cancel
	w.unsubs = []transport.Unsubscribe{unsubControl, unsubProgress}
	w.joined = true

	go w.runner.Run(runCtx)
	go w.bcast.Run(runCtx)

	if !w.IsHost() {
		w.requestResync(runCtx)
	}

	log.Info().
		Str("session_id", w.cfg.SessionID.String()).
		Str("participant_id", w.cfg.LocalID.String()).
		Bool("host", w.IsHost()).
		Msg("joined walk session")
	return nil
}

// Leave stops the tick and progress loops and unsubscribes from the
// session's subjects. Safe to call more than once.
func (w *Walker) Leave() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.joined {
		return
	}
	w.cancel()
	for _, unsub := range w.unsubs {
		unsub()
	}
	w.unsubs = nil
	w.joined = false
	log.Info().
		Str("session_id", w.cfg.SessionID.String()).
		Str("participant_id", w.cfg.LocalID.String()).
		Msg("left walk session")
}

// Rejoin re-subscribes after a transient disconnect: tear down, join again,
// and (as a follower) wait on the resync answer rather than trusting stale
// local state.
func (w *Walker) Rejoin(ctx context.Context) error {
	w.Leave()
	return w.Join(ctx)
}

// StartTimer starts the countdown. Host only; followers get
// control.ErrUnauthorized and nothing changes or publishes.
func (w *Walker) StartTimer(ctx context.Context) error {
	return w.host.Start(ctx)
}

// PauseTimer pauses the countdown. Host only.
func (w *Walker) PauseTimer(ctx context.Context) error {
	return w.host.Pause(ctx)
}

// ResetTimer rewinds the countdown to the top of the plan. Host only.
func (w *Walker) ResetTimer(ctx context.Context) error {
	return w.host.Reset(ctx)
}

// CurrentState returns a snapshot of the local timer for rendering.
func (w *Walker) CurrentState() models.TimerState {
	return w.engine.Snapshot()
}

// CurrentPace returns the pace of the interval the client is in.
func (w *Walker) CurrentPace() models.Pace {
	return w.engine.CurrentPace()
}

// RosterProgress returns the latest known progress of every participant for
// the live roster strip. Display only.
func (w *Walker) RosterProgress() []progress.RosterEntry {
	return w.agg.Roster()
}

// requestResync asks the host to re-publish its last known state.
func (w *Walker) requestResync(ctx context.Context) {
	data, err := control.EncodeResyncRequest(control.ResyncRequest{
		SessionID:   w.cfg.SessionID,
		RequestedBy: w.cfg.LocalID,
		RequestedAt: w.cfg.Clock.Now(),
	})
	if err != nil {
		log.Error().Err(err).Msg("encode resync request")
		return
	}
	if err := w.cfg.Bus.Publish(ctx, transport.ControlSubject(w.cfg.SessionID), data); err != nil {
		log.Warn().
			Err(err).
			Str("session_id", w.cfg.SessionID.String()).
			Msg("resync request failed; waiting for next control event")
	}
}

// handleCompletion runs when the plan's total duration elapses locally:
// record the finished walk, and on the host drive the session to completed.
// The engine guarantees this fires at most once per run.
func (w *Walker) handleCompletion() {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if w.cfg.Activity != nil {
		w.cfg.Activity.RecordFinishedWalk(ctx, w.cfg.SessionID, w.cfg.LocalID, w.engine.Plan())
	}
	if w.IsHost() {
		// Completion is driven by the host's own clock; followers observe
		// the status change but never write it.
		if err := w.host.Publish(ctx); err != nil {
			log.Warn().Err(err).Str("session_id", w.cfg.SessionID.String()).Msg("publish final snapshot")
		}
		if w.cfg.Lifecycle != nil {
			if _, err := w.cfg.Lifecycle.Complete(ctx, w.cfg.LocalID, w.cfg.SessionID); err != nil {
				log.Warn().Err(err).Str("session_id", w.cfg.SessionID.String()).Msg("complete session failed")
			}
		}
	}
}
