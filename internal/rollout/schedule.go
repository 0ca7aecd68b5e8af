package rollout

import "time"

// Step is one rung of a ramp schedule.
type Step struct {
	// Percent is the rollout percentage this step ramps to.
	Percent int

	// ObservationWindow is how long the flag must sit healthy at the
	// previous percentage before this step may be applied.
	ObservationWindow time.Duration
}

// Schedule is an ordered list of ramp steps ending at 100.
type Schedule struct {
	Steps []Step
}

// DefaultSchedule returns the standard ramp: 5% -> 25% -> 50% -> 100%, each
// step after ten minutes of clean health samples.
func DefaultSchedule() Schedule {
	return Schedule{
		Steps: []Step{
			{Percent: 5, ObservationWindow: 10 * time.Minute},
			{Percent: 25, ObservationWindow: 10 * time.Minute},
			{Percent: 50, ObservationWindow: 10 * time.Minute},
			{Percent: 100, ObservationWindow: 10 * time.Minute},
		},
	}
}

// NextStep returns the first step above the current percentage, or false if
// the schedule is exhausted.
func (s Schedule) NextStep(currentPercent int) (Step, bool) {
	for _, step := range s.Steps {
		if step.Percent > currentPercent {
			return step, true
		}
	}
	return Step{}, false
}
