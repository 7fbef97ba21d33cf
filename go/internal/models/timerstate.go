package models

// TimerState is the per-client, in-memory view of the countdown. It is
// created when a client opens a session and discarded when it leaves.
//
// Invariants while a plan is loaded:
//   - CurrentIntervalIndex < len(plan)
//   - IntervalTimeRemaining <= plan[CurrentIntervalIndex].DurationSeconds
//   - TotalTimeRemaining == sum of full remaining intervals + IntervalTimeRemaining
type TimerState struct {
	CurrentIntervalIndex  uint32 `json:"current_interval_index"`
	IntervalTimeRemaining uint32 `json:"interval_time_remaining"`
	TotalTimeRemaining    uint32 `json:"total_time_remaining"`
	IsRunning             bool   `json:"is_running"`
}
