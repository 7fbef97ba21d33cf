package timer

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Runner drives an engine with a fixed one-second tick. Ticking is purely
// local: it runs identically on host and follower clients and never touches
// the network.
type Runner struct {
	engine *Engine
	clock  clockwork.Clock
}

// NewRunner creates a runner for the engine. Pass clockwork.NewRealClock()
// in production and a fake clock in tests.
func NewRunner(engine *Engine, clock clockwork.Clock) *Runner {
	return &Runner{engine: engine, clock: clock}
}

// Run ticks the engine once per second until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(time.Second)
	defer ticker.Stop()

	log.Debug().Msg("tick loop started")
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("tick loop stopped")
			return
		case <-ticker.Chan():
			r.engine.Tick()
		}
	}
}
