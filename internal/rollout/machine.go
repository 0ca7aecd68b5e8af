// Package rollout owns flag stage transitions: the legal state machine, the
// ramp schedule, and the transitioner that commits transitions to the store.
package rollout

import (
	"errors"
	"fmt"

	"github.com/rampgate/rampgate/internal/audit"
	"github.com/rampgate/rampgate/internal/flag"
)

// Predefined transition errors.
var (
	// ErrIllegalTransition is returned when the requested stage change is not
	// permitted from the current stage.
	ErrIllegalTransition = errors.New("illegal stage transition")

	// ErrManualOnly is returned when an automatic process requests a
	// transition that only an operator may perform.
	ErrManualOnly = errors.New("transition requires manual action")

	// ErrPercentNotMonotonic is returned when a ramp step would lower the
	// rollout percentage.
	ErrPercentNotMonotonic = errors.New("rollout percent may only increase while ramping")
)

// Request describes a desired transition for one flag.
type Request struct {
	// To is the target stage. For a Ramping percentage step, To is
	// StageRamping with an increased Percent.
	To flag.Stage

	// Percent is the target rollout percentage. Only meaningful when To is
	// StageRamping.
	Percent int

	// Cause records who or what asked for the transition.
	Cause audit.Cause

	// Detail is free-form context for the audit trail.
	Detail string

	// SampleRef points at the health sample behind an automatic rollback.
	SampleRef *audit.SampleRef
}

// Apply validates the request against the current definition and returns the
// next definition. It is pure; the caller commits the result.
//
// Rules (RolledBack is absorbing for automatic processes):
//
//	Disabled   -> Canary                   manual
//	Canary     -> Ramping                  manual
//	Ramping    -> Ramping (percent up)     manual or scheduled ramp
//	Ramping    -> Full                     manual, or scheduled ramp at 100
//	non-Disabled -> RolledBack             manual or auto-rollback
//	RolledBack -> Disabled                 manual
func Apply(def *flag.Definition, req Request) (*flag.Definition, error) {
	if def.Archived {
		return nil, flag.ErrFlagArchived
	}

	next := def.Clone()

	switch {
	case req.To == flag.StageRolledBack:
		if def.Stage == flag.StageDisabled || def.Stage == flag.StageRolledBack {
			return nil, illegal(def.Stage, req.To)
		}
		if req.Cause == audit.CauseScheduledRamp {
			return nil, fmt.Errorf("scheduled ramp cannot roll back: %w", ErrIllegalTransition)
		}
		next.Stage = flag.StageRolledBack

	case def.Stage == flag.StageDisabled && req.To == flag.StageCanary:
		if err := requireManual(req.Cause); err != nil {
			return nil, err
		}
		next.Stage = flag.StageCanary
		next.RolloutPercent = 0

	case def.Stage == flag.StageCanary && req.To == flag.StageRamping:
		if err := requireManual(req.Cause); err != nil {
			return nil, err
		}
		if req.Percent <= 0 || req.Percent > 100 {
			return nil, fmt.Errorf("ramp entry percent %d out of range (0,100]", req.Percent)
		}
		next.Stage = flag.StageRamping
		next.RolloutPercent = req.Percent

	case def.Stage == flag.StageRamping && req.To == flag.StageRamping:
		if req.Percent <= def.RolloutPercent {
			return nil, ErrPercentNotMonotonic
		}
		if req.Percent > 100 {
			return nil, fmt.Errorf("rollout percent %d out of range [0,100]", req.Percent)
		}
		next.RolloutPercent = req.Percent
		if req.Percent == 100 {
			// Reaching the end of the schedule promotes to Full.
			next.Stage = flag.StageFull
		}

	case def.Stage == flag.StageRamping && req.To == flag.StageFull:
		// Automatic promotion happens through a ramp step reaching 100; a
		// direct jump to Full is an operator shortcut.
		if err := requireManual(req.Cause); err != nil {
			return nil, err
		}
		next.Stage = flag.StageFull
		next.RolloutPercent = 100

	case def.Stage == flag.StageRolledBack && req.To == flag.StageDisabled:
		if err := requireManual(req.Cause); err != nil {
			return nil, err
		}
		next.Stage = flag.StageDisabled
		next.RolloutPercent = 0
		next.Baseline = nil

	default:
		return nil, illegal(def.Stage, req.To)
	}

	return next, nil
}

// Supersedes reports whether the current stored state already satisfies the
// request, so a losing concurrent writer can abandon its cycle. A rollback
// that landed first supersedes everything.
func Supersedes(current *flag.Definition, req Request) bool {
	if current.Stage == flag.StageRolledBack {
		return true
	}
	if current.Stage != req.To {
		return false
	}
	if req.To == flag.StageRamping {
		return current.RolloutPercent >= req.Percent
	}
	return true
}

func requireManual(cause audit.Cause) error {
	if cause != audit.CauseManual {
		return ErrManualOnly
	}
	return nil
}

func illegal(from, to flag.Stage) error {
	return fmt.Errorf("%s -> %s: %w", from, to, ErrIllegalTransition)
}
