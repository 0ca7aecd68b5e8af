// Package flag defines feature flag definitions and the versioned flag store.
package flag

import (
	"errors"
	"fmt"
	"time"
)

// Predefined store errors.
var (
	// ErrFlagNotFound is returned when a flag does not exist in the store.
	ErrFlagNotFound = errors.New("flag not found")

	// ErrVersionConflict is returned when an optimistic-concurrency write
	// observes a version other than the one it expected. The caller must
	// re-read and retry.
	ErrVersionConflict = errors.New("flag version conflict")

	// ErrFlagExists is returned when creating a flag whose ID is taken.
	ErrFlagExists = errors.New("flag already exists")

	// ErrFlagArchived is returned when mutating an archived flag.
	ErrFlagArchived = errors.New("flag is archived")
)

// Stage is the lifecycle phase of a flag's rollout.
type Stage string

// Rollout stages.
const (
	StageDisabled   Stage = "disabled"
	StageCanary     Stage = "canary"
	StageRamping    Stage = "ramping"
	StageFull       Stage = "full"
	StageRolledBack Stage = "rolled_back"
)

// ParseStage converts a string into a Stage.
func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageDisabled, StageCanary, StageRamping, StageFull, StageRolledBack:
		return Stage(s), nil
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// Valid reports whether the stage is one of the known stages.
func (s Stage) Valid() bool {
	_, err := ParseStage(string(s))
	return err == nil
}

// Baseline holds the reference health metrics captured when a flag entered
// canary. The health monitor compares live samples against these values.
type Baseline struct {
	ErrorRate  float64   `json:"errorRate"`
	LatencyP95 float64   `json:"latencyP95"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Definition is the durable state of a single feature flag.
type Definition struct {
	ID             string    `json:"id"`
	Environment    string    `json:"environment"`
	Stage          Stage     `json:"stage"`
	RolloutPercent int       `json:"rolloutPercent"`
	AllowList      []string  `json:"allowList,omitempty"`
	DenyList       []string  `json:"denyList,omitempty"`
	Baseline       *Baseline `json:"baseline,omitempty"`
	Archived       bool      `json:"archived"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`

	// Version increases by one on every committed write. Writers pass the
	// version they read; the store rejects the write if it no longer matches.
	Version int64 `json:"version"`
}

// InAllowList reports whether the subject is on the allow-list.
func (d *Definition) InAllowList(subjectID string) bool {
	return contains(d.AllowList, subjectID)
}

// InDenyList reports whether the subject is on the deny-list.
func (d *Definition) InDenyList(subjectID string) bool {
	return contains(d.DenyList, subjectID)
}

// Validate checks the definition's invariants before it is written.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return errors.New("flag id is required")
	}
	if d.Environment == "" {
		return errors.New("environment is required")
	}
	if !d.Stage.Valid() {
		return fmt.Errorf("unknown stage %q", d.Stage)
	}
	if d.RolloutPercent < 0 || d.RolloutPercent > 100 {
		return fmt.Errorf("rollout percent %d out of range [0,100]", d.RolloutPercent)
	}
	return nil
}

// Clone returns a deep copy of the definition so callers can mutate it
// without affecting the stored value.
func (d *Definition) Clone() *Definition {
	c := *d
	c.AllowList = append([]string(nil), d.AllowList...)
	c.DenyList = append([]string(nil), d.DenyList...)
	if d.Baseline != nil {
		b := *d.Baseline
		c.Baseline = &b
	}
	return &c
}

// NewDefinition creates a flag in its initial state: Disabled, 0 percent.
func NewDefinition(id, environment string) *Definition {
	now := time.Now().UTC()
	return &Definition{
		ID:          id,
		Environment: environment,
		Stage:       StageDisabled,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
