package timer

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sparkwalk/walksync/go/internal/models"
)

// Phase is the timer engine's state machine position.
type Phase string

const (
	PhaseIdle     Phase = "IDLE"
	PhaseRunning  Phase = "RUNNING"
	PhasePaused   Phase = "PAUSED"
	PhaseFinished Phase = "FINISHED"
)

// CuePattern selects the audible/haptic cue fired on a pace change.
type CuePattern string

const (
	CueSingleShort CuePattern = "SINGLE_SHORT"
	CueDoubleShort CuePattern = "DOUBLE_SHORT"
	CueLong        CuePattern = "LONG"
)

// CueFor maps a pace to its transition cue: one short for SLOW, two short
// for FAST, one long for WARMUP and COOLDOWN.
func CueFor(p models.Pace) CuePattern {
	switch p {
	case models.PaceSlow:
		return CueSingleShort
	case models.PaceFast:
		return CueDoubleShort
	default:
		return CueLong
	}
}

// TransitionEvent describes an interval advancement.
type TransitionEvent struct {
	IntervalIndex uint32
	Pace          models.Pace
	Cue           CuePattern
}

// TransitionFunc is invoked when the engine advances to a new interval.
type TransitionFunc func(TransitionEvent)

// CompletionFunc is invoked exactly once when the plan's total duration
// elapses.
type CompletionFunc func()

// Engine drives a single paced-interval countdown through a fixed plan.
// All mutation goes through its methods; callers read immutable snapshots.
// Safe for use from the tick loop and a concurrent reader (the progress
// broadcaster, the UI).
type Engine struct {
	mu    sync.Mutex
	plan  models.IntervalPlan
	phase Phase
	state models.TimerState

	completionFired bool

	onTransition TransitionFunc
	onCompletion CompletionFunc
}

// NewEngine creates an idle engine positioned at the start of the plan.
func NewEngine(p models.IntervalPlan) (*Engine, error) {
	if len(p) == 0 {
		return nil, errors.New("timer: plan must contain at least one interval")
	}
	e := &Engine{plan: p}
	e.rewind()
	return e, nil
}

// OnIntervalTransition registers the pace-change hook. Must be set before
// the tick loop starts.
func (e *Engine) OnIntervalTransition(fn TransitionFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTransition = fn
}

// OnCompletion registers the completion hook. Must be set before the tick
// loop starts.
func (e *Engine) OnCompletion(fn CompletionFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCompletion = fn
}

// Start moves Idle or Paused to Running. Starting a finished or already
// running engine is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == PhaseFinished || e.phase == PhaseRunning {
		return
	}
	e.phase = PhaseRunning
	e.state.IsRunning = true
}

// Pause moves Running to Paused.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseRunning {
		return
	}
	e.phase = PhasePaused
	e.state.IsRunning = false
}

// Reset returns the engine to Idle at the start of the plan and re-arms the
// completion hook for the next run.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rewind()
}

// rewind positions the state at interval 0. Callers hold e.mu.
func (e *Engine) rewind() {
	e.phase = PhaseIdle
	e.completionFired = false
	e.state = models.TimerState{
		CurrentIntervalIndex:  0,
		IntervalTimeRemaining: e.plan[0].DurationSeconds,
		TotalTimeRemaining:    e.plan.TotalDurationSeconds(),
		IsRunning:             false,
	}
}

// Tick advances the countdown by one second. It is a no-op unless the engine
// is Running. Interval and completion hooks fire after the state change, off
// the engine lock, so they may call back into the engine.
func (e *Engine) Tick() {
	e.mu.Lock()
	if e.phase != PhaseRunning {
		e.mu.Unlock()
		return
	}

	if e.state.TotalTimeRemaining > 0 {
		e.state.TotalTimeRemaining--
	}
	if e.state.IntervalTimeRemaining > 0 {
		e.state.IntervalTimeRemaining--
	}

	var (
		transition   *TransitionEvent
		completed    bool
		onTransition = e.onTransition
		onCompletion = e.onCompletion
	)

	if e.state.IntervalTimeRemaining == 0 {
		next := e.state.CurrentIntervalIndex + 1
		if int(next) < len(e.plan) {
			e.state.CurrentIntervalIndex = next
			e.state.IntervalTimeRemaining = e.plan[next].DurationSeconds
			transition = &TransitionEvent{
				IntervalIndex: next,
				Pace:          e.plan[next].Pace,
				Cue:           CueFor(e.plan[next].Pace),
			}
		} else {
			e.phase = PhaseFinished
			e.state.IsRunning = false
			e.state.TotalTimeRemaining = 0
			if !e.completionFired {
				e.completionFired = true
				completed = true
			}
		}
	}
	e.mu.Unlock()

	if transition != nil && onTransition != nil {
		onTransition(*transition)
	}
	if completed {
		log.Debug().Msg("walk plan finished")
		if onCompletion != nil {
			onCompletion()
		}
	}
}

// ApplyControl overwrites the running flag and position with an authoritative
// snapshot from the host. The total remaining is recomputed locally from the
// plan; it is never taken off the wire. Out-of-range values are clamped to
// the plan. A snapshot that lands the engine in the finished state fires the
// completion hook, so a client whose own tick loop was a second behind the
// host still observes completion exactly once.
func (e *Engine) ApplyControl(isRunning bool, intervalIndex uint32, intervalRemaining uint32) {
	e.mu.Lock()

	if int(intervalIndex) >= len(e.plan) {
		intervalIndex = uint32(len(e.plan) - 1)
	}
	if max := e.plan[intervalIndex].DurationSeconds; intervalRemaining > max {
		intervalRemaining = max
	}

	e.state.CurrentIntervalIndex = intervalIndex
	e.state.IntervalTimeRemaining = intervalRemaining
	e.state.TotalTimeRemaining = e.plan.RemainingFrom(intervalIndex, intervalRemaining)
	e.state.IsRunning = isRunning

	var (
		completed    bool
		onCompletion = e.onCompletion
	)
	switch {
	case isRunning:
		e.phase = PhaseRunning
	case intervalIndex == 0 && intervalRemaining == e.plan[0].DurationSeconds:
		// Host reset propagated: back to the top of the plan.
		e.phase = PhaseIdle
		e.completionFired = false
	case e.state.TotalTimeRemaining == 0:
		e.phase = PhaseFinished
		e.state.IsRunning = false
		if !e.completionFired {
			e.completionFired = true
			completed = true
		}
	default:
		e.phase = PhasePaused
	}
	e.mu.Unlock()

	if completed {
		log.Debug().Msg("walk plan finished")
		if onCompletion != nil {
			onCompletion()
		}
	}
}

// Snapshot returns a copy of the current timer state.
func (e *Engine) Snapshot() models.TimerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Phase returns the engine's state machine position.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// CurrentPace returns the pace of the interval the engine is positioned in.
func (e *Engine) CurrentPace() models.Pace {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plan[e.state.CurrentIntervalIndex].Pace
}

// Plan returns the immutable plan the engine was created with.
func (e *Engine) Plan() models.IntervalPlan {
	return e.plan
}
