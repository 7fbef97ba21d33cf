package timer

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func waitForTotal(t *testing.T, e *Engine, want uint32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.Snapshot().TotalTimeRemaining == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("total = %d, want %d", e.Snapshot().TotalTimeRemaining, want)
}

func TestRunnerTicksOncePerSecond(t *testing.T) {
	fc := clockwork.NewFakeClock()
	e, _ := NewEngine(testPlan())
	e.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewRunner(e, fc).Run(ctx)

	fc.BlockUntil(1) // tick loop is waiting on its ticker

	for i := 1; i <= 3; i++ {
		fc.Advance(time.Second)
		waitForTotal(t, e, 840-uint32(i))
	}
}

func TestRunnerStopsOnCancel(t *testing.T) {
	fc := clockwork.NewFakeClock()
	e, _ := NewEngine(testPlan())
	e.Start()

	ctx, cancel := context.WithCancel(context.Background())
	go NewRunner(e, fc).Run(ctx)

	fc.BlockUntil(1)
	fc.Advance(time.Second)
	waitForTotal(t, e, 839)

	cancel()
	// Give the loop a moment to exit, then verify no further ticks land.
	time.Sleep(20 * time.Millisecond)
	fc.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	if got := e.Snapshot().TotalTimeRemaining; got != 839 {
		t.Fatalf("total after cancel = %d, want 839", got)
	}
}
