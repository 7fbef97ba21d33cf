package plan

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sparkwalk/walksync/go/internal/models"
)

// ErrNotFound is returned when no plan exists for a session.
var ErrNotFound = errors.New("plan not found")

// Resolver looks up the interval plan for a session.
type Resolver interface {
	Resolve(ctx context.Context, sessionID uuid.UUID) (models.IntervalPlan, error)
}

// Validate checks a plan at creation time: at least one interval, every
// interval with a known pace and a positive duration.
func Validate(p models.IntervalPlan) error {
	if len(p) == 0 {
		return errors.New("plan must contain at least one interval")
	}
	for i, iv := range p {
		if !iv.Pace.Valid() {
			return fmt.Errorf("interval %d: unknown pace %q", i, iv.Pace)
		}
		if iv.DurationSeconds == 0 {
			return fmt.Errorf("interval %d: duration must be > 0", i)
		}
	}
	return nil
}

// Cleanup drops zero-duration intervals. It runs before session creation so
// the timer engine only ever sees positive durations.
func Cleanup(p models.IntervalPlan) models.IntervalPlan {
	out := make(models.IntervalPlan, 0, len(p))
	for _, iv := range p {
		if iv.DurationSeconds == 0 {
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Default returns the fallback plan used when a session is created without a
// saved plan: a 22 minute walk with warmup and cooldown.
func Default() models.IntervalPlan {
	return models.IntervalPlan{
		{Pace: models.PaceWarmup, DurationSeconds: 180},
		{Pace: models.PaceFast, DurationSeconds: 300},
		{Pace: models.PaceSlow, DurationSeconds: 180},
		{Pace: models.PaceFast, DurationSeconds: 300},
		{Pace: models.PaceSlow, DurationSeconds: 180},
		{Pace: models.PaceCooldown, DurationSeconds: 180},
	}
}
