package models

// Pace labels a segment of an interval plan.
type Pace string

const (
	PaceWarmup   Pace = "WARMUP"
	PaceFast     Pace = "FAST"
	PaceSlow     Pace = "SLOW"
	PaceCooldown Pace = "COOLDOWN"
)

// Valid reports whether p is one of the known pace labels.
func (p Pace) Valid() bool {
	switch p {
	case PaceWarmup, PaceFast, PaceSlow, PaceCooldown:
		return true
	}
	return false
}

// PacedInterval is a single segment of an interval plan. Immutable once the
// session is created.
type PacedInterval struct {
	Pace            Pace   `json:"pace"`
	DurationSeconds uint32 `json:"duration_seconds"`
}

// IntervalPlan is an ordered sequence of paced intervals, length >= 1.
type IntervalPlan []PacedInterval

// TotalDurationSeconds returns the sum of all interval durations.
func (p IntervalPlan) TotalDurationSeconds() uint32 {
	var total uint32
	for _, iv := range p {
		total += iv.DurationSeconds
	}
	return total
}

// RemainingFrom returns the time left in the plan given the current interval
// index and the seconds remaining inside that interval.
func (p IntervalPlan) RemainingFrom(index uint32, intervalRemaining uint32) uint32 {
	if int(index) >= len(p) {
		return 0
	}
	total := intervalRemaining
	for _, iv := range p[index+1:] {
		total += iv.DurationSeconds
	}
	return total
}
