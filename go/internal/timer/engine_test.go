package timer

import (
	"testing"

	"github.com/sparkwalk/walksync/go/internal/models"
)

func testPlan() models.IntervalPlan {
	return models.IntervalPlan{
		{Pace: models.PaceWarmup, DurationSeconds: 180},
		{Pace: models.PaceFast, DurationSeconds: 300},
		{Pace: models.PaceSlow, DurationSeconds: 180},
		{Pace: models.PaceCooldown, DurationSeconds: 180},
	}
}

func TestNewEngineRejectsEmptyPlan(t *testing.T) {
	if _, err := NewEngine(nil); err == nil {
		t.Fatal("expected error for empty plan")
	}
}

func TestIdleStateMatchesPlanTotals(t *testing.T) {
	e, err := NewEngine(testPlan())
	if err != nil {
		t.Fatal(err)
	}

	got := e.Snapshot()
	want := models.TimerState{
		CurrentIntervalIndex:  0,
		IntervalTimeRemaining: 180,
		TotalTimeRemaining:    840,
		IsRunning:             false,
	}
	if got != want {
		t.Fatalf("idle state = %+v, want %+v", got, want)
	}
	if e.Phase() != PhaseIdle {
		t.Fatalf("phase = %s, want %s", e.Phase(), PhaseIdle)
	}
}

func TestTickIsNoOpUnlessRunning(t *testing.T) {
	e, _ := NewEngine(testPlan())
	e.Tick()
	if got := e.Snapshot().TotalTimeRemaining; got != 840 {
		t.Fatalf("idle tick mutated state: total = %d", got)
	}

	e.Start()
	e.Pause()
	e.Tick()
	if got := e.Snapshot().TotalTimeRemaining; got != 840 {
		t.Fatalf("paused tick mutated state: total = %d", got)
	}
}

func TestIntervalAdvancementFiresCueOnce(t *testing.T) {
	e, _ := NewEngine(testPlan())

	var events []TransitionEvent
	e.OnIntervalTransition(func(ev TransitionEvent) {
		events = append(events, ev)
	})

	e.Start()
	for i := 0; i < 181; i++ {
		e.Tick()
	}

	got := e.Snapshot()
	if got.CurrentIntervalIndex != 1 {
		t.Fatalf("interval index = %d, want 1", got.CurrentIntervalIndex)
	}
	if got.IntervalTimeRemaining != 299 {
		t.Fatalf("interval remaining = %d, want 299", got.IntervalTimeRemaining)
	}
	if got.TotalTimeRemaining != 840-181 {
		t.Fatalf("total remaining = %d, want %d", got.TotalTimeRemaining, 840-181)
	}
	if len(events) != 1 {
		t.Fatalf("got %d transition events, want 1", len(events))
	}
	if events[0].Pace != models.PaceFast || events[0].Cue != CueDoubleShort || events[0].IntervalIndex != 1 {
		t.Fatalf("unexpected transition event: %+v", events[0])
	}
}

func TestCountdownIsMonotonicUntilFinished(t *testing.T) {
	e, _ := NewEngine(testPlan())
	e.Start()

	prev := e.Snapshot().TotalTimeRemaining
	for i := 0; i < 840; i++ {
		e.Tick()
		got := e.Snapshot().TotalTimeRemaining
		if got != prev-1 {
			t.Fatalf("tick %d: total went %d -> %d, want -1 per tick", i+1, prev, got)
		}
		prev = got
	}
	if prev != 0 {
		t.Fatalf("total after full plan = %d, want 0", prev)
	}
	if e.Phase() != PhaseFinished {
		t.Fatalf("phase = %s, want %s", e.Phase(), PhaseFinished)
	}
}

func TestCompletionFiresExactlyOnce(t *testing.T) {
	e, _ := NewEngine(models.IntervalPlan{{Pace: models.PaceSlow, DurationSeconds: 2}})

	completions := 0
	e.OnCompletion(func() { completions++ })

	e.Start()
	e.Tick()
	e.Tick()
	// Extra ticks after finishing must not re-fire.
	e.Tick()
	e.Tick()

	if completions != 1 {
		t.Fatalf("completion fired %d times, want 1", completions)
	}
	if e.Phase() != PhaseFinished {
		t.Fatalf("phase = %s, want %s", e.Phase(), PhaseFinished)
	}
	if got := e.Snapshot(); got.IsRunning || got.TotalTimeRemaining != 0 {
		t.Fatalf("finished state = %+v", got)
	}
}

func TestResetReturnsToIdleAndRearmsCompletion(t *testing.T) {
	e, _ := NewEngine(models.IntervalPlan{{Pace: models.PaceSlow, DurationSeconds: 1}})

	completions := 0
	e.OnCompletion(func() { completions++ })

	e.Start()
	e.Tick()
	e.Reset()

	got := e.Snapshot()
	if got.CurrentIntervalIndex != 0 || got.IntervalTimeRemaining != 1 || got.TotalTimeRemaining != 1 || got.IsRunning {
		t.Fatalf("reset state = %+v", got)
	}
	if e.Phase() != PhaseIdle {
		t.Fatalf("phase = %s, want %s", e.Phase(), PhaseIdle)
	}

	e.Start()
	e.Tick()
	if completions != 2 {
		t.Fatalf("completion after reset fired %d times total, want 2", completions)
	}
}

func TestSingleIntervalPlan(t *testing.T) {
	e, _ := NewEngine(models.IntervalPlan{{Pace: models.PaceFast, DurationSeconds: 3}})

	transitions := 0
	e.OnIntervalTransition(func(TransitionEvent) { transitions++ })

	e.Start()
	for i := 0; i < 3; i++ {
		e.Tick()
	}

	if transitions != 0 {
		t.Fatalf("single-interval plan fired %d transitions, want 0", transitions)
	}
	if e.Phase() != PhaseFinished {
		t.Fatalf("phase = %s, want %s", e.Phase(), PhaseFinished)
	}
}

func TestCueFor(t *testing.T) {
	tests := []struct {
		pace models.Pace
		want CuePattern
	}{
		{models.PaceSlow, CueSingleShort},
		{models.PaceFast, CueDoubleShort},
		{models.PaceWarmup, CueLong},
		{models.PaceCooldown, CueLong},
	}
	for _, tt := range tests {
		if got := CueFor(tt.pace); got != tt.want {
			t.Errorf("CueFor(%s) = %s, want %s", tt.pace, got, tt.want)
		}
	}
}

func TestApplyControlOverwritesAndRecomputesTotal(t *testing.T) {
	e, _ := NewEngine(testPlan())

	e.ApplyControl(true, 1, 150)

	got := e.Snapshot()
	if got.CurrentIntervalIndex != 1 || got.IntervalTimeRemaining != 150 || !got.IsRunning {
		t.Fatalf("applied state = %+v", got)
	}
	// 150 left of FAST plus SLOW 180 plus COOLDOWN 180.
	if got.TotalTimeRemaining != 510 {
		t.Fatalf("recomputed total = %d, want 510", got.TotalTimeRemaining)
	}
	if e.Phase() != PhaseRunning {
		t.Fatalf("phase = %s, want %s", e.Phase(), PhaseRunning)
	}
}

func TestApplyControlClampsOutOfRangeValues(t *testing.T) {
	e, _ := NewEngine(testPlan())

	e.ApplyControl(true, 99, 9999)

	got := e.Snapshot()
	if got.CurrentIntervalIndex != 3 {
		t.Fatalf("index = %d, want clamp to 3", got.CurrentIntervalIndex)
	}
	if got.IntervalTimeRemaining != 180 {
		t.Fatalf("interval remaining = %d, want clamp to 180", got.IntervalTimeRemaining)
	}
}

func TestApplyControlResetSnapshotsToIdle(t *testing.T) {
	e, _ := NewEngine(testPlan())
	e.ApplyControl(true, 2, 10)

	// Host reset broadcast: top of plan, not running.
	e.ApplyControl(false, 0, 180)

	if e.Phase() != PhaseIdle {
		t.Fatalf("phase = %s, want %s", e.Phase(), PhaseIdle)
	}
	if got := e.Snapshot().TotalTimeRemaining; got != 840 {
		t.Fatalf("total = %d, want 840", got)
	}
}

func TestApplyControlMidPlanPauses(t *testing.T) {
	e, _ := NewEngine(testPlan())

	e.ApplyControl(false, 1, 120)

	if e.Phase() != PhasePaused {
		t.Fatalf("phase = %s, want %s", e.Phase(), PhasePaused)
	}
	if got := e.Snapshot(); got.IsRunning {
		t.Fatalf("paused state = %+v", got)
	}
}

func TestApplyControlFinishedSnapshotFiresCompletionOnce(t *testing.T) {
	e, _ := NewEngine(testPlan())
	completions := 0
	e.OnCompletion(func() { completions++ })

	// The client's own tick loop lags the host by a second; the host's
	// final snapshot arrives while this engine still has time left.
	e.Start()
	for i := 0; i < 839; i++ {
		e.Tick()
	}
	e.ApplyControl(false, 3, 0)

	if e.Phase() != PhaseFinished {
		t.Fatalf("phase = %s, want %s", e.Phase(), PhaseFinished)
	}
	got := e.Snapshot()
	if got.TotalTimeRemaining != 0 || got.IsRunning {
		t.Fatalf("finished state = %+v", got)
	}
	if completions != 1 {
		t.Fatalf("completion fired %d times, want 1", completions)
	}

	// Neither a duplicate snapshot nor further ticks fire it again.
	e.ApplyControl(false, 3, 0)
	e.Tick()
	if completions != 1 {
		t.Fatalf("completion after duplicate snapshot fired %d times, want 1", completions)
	}
}

func TestApplyControlAfterLocalCompletionDoesNotRefire(t *testing.T) {
	e, _ := NewEngine(testPlan())
	completions := 0
	e.OnCompletion(func() { completions++ })

	e.Start()
	for i := 0; i < 840; i++ {
		e.Tick()
	}
	// Host's final snapshot arrives after the local tick already finished.
	e.ApplyControl(false, 3, 0)

	if completions != 1 {
		t.Fatalf("completion fired %d times, want 1", completions)
	}
}
