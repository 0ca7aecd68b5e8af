package models

import (
	"github.com/rampgate/rampgate/internal/audit"
	"github.com/rampgate/rampgate/internal/flag"
)

// FlagCreateRequest is the body for POST /v1/flags.
type FlagCreateRequest struct {
	FlagID      string `json:"flagId"`
	Environment string `json:"environment"`
}

// StageChangeRequest is the body for POST /v1/flags/{flagId}/stage.
type StageChangeRequest struct {
	// To is the target stage.
	To string `json:"to"`

	// Percent is the target rollout percentage, used when ramping.
	Percent int `json:"percent,omitempty"`

	// Detail is free-form operator context recorded in the audit trail.
	Detail string `json:"detail,omitempty"`
}

// ListsUpdateRequest is the body for PUT /v1/flags/{flagId}/lists.
type ListsUpdateRequest struct {
	AllowList []string `json:"allowList"`
	DenyList  []string `json:"denyList"`
}

// Baseline is the captured healthy reference point for a flag.
type Baseline struct {
	ErrorRate  float64   `json:"errorRate"`
	LatencyP95 float64   `json:"latencyP95"`
	CapturedAt Timestamp `json:"capturedAt"`
}

// Flag is the API representation of a flag definition.
type Flag struct {
	FlagID         string    `json:"flagId"`
	Environment    string    `json:"environment"`
	Stage          string    `json:"stage"`
	RolloutPercent int       `json:"rolloutPercent"`
	AllowList      []string  `json:"allowList"`
	DenyList       []string  `json:"denyList"`
	Baseline       *Baseline `json:"baseline,omitempty"`
	Archived       bool      `json:"archived,omitempty"`
	CreatedAt      Timestamp `json:"createdAt"`
	UpdatedAt      Timestamp `json:"updatedAt"`
	Version        int64     `json:"version"`
}

// NewFlag converts a stored definition to its API representation.
func NewFlag(def *flag.Definition) Flag {
	f := Flag{
		FlagID:         def.ID,
		Environment:    def.Environment,
		Stage:          string(def.Stage),
		RolloutPercent: def.RolloutPercent,
		AllowList:      def.AllowList,
		DenyList:       def.DenyList,
		Archived:       def.Archived,
		CreatedAt:      Timestamp(def.CreatedAt),
		UpdatedAt:      Timestamp(def.UpdatedAt),
		Version:        def.Version,
	}
	if f.AllowList == nil {
		f.AllowList = []string{}
	}
	if f.DenyList == nil {
		f.DenyList = []string{}
	}
	if def.Baseline != nil {
		f.Baseline = &Baseline{
			ErrorRate:  def.Baseline.ErrorRate,
			LatencyP95: def.Baseline.LatencyP95,
			CapturedAt: Timestamp(def.Baseline.CapturedAt),
		}
	}
	return f
}

// FlagList is the response for GET /v1/flags.
type FlagList struct {
	Flags []Flag `json:"flags"`
}

// NewFlagList converts stored definitions to their API representation.
func NewFlagList(defs []*flag.Definition) FlagList {
	out := FlagList{Flags: make([]Flag, 0, len(defs))}
	for _, def := range defs {
		out.Flags = append(out.Flags, NewFlag(def))
	}
	return out
}

// SampleRef points at the health sample behind an automatic rollback.
type SampleRef struct {
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Baseline  float64   `json:"baseline"`
	Timestamp Timestamp `json:"timestamp"`
}

// Transition is the API representation of one audit record.
type Transition struct {
	ID         string     `json:"id"`
	FlagID     string     `json:"flagId"`
	FromStage  string     `json:"fromStage"`
	ToStage    string     `json:"toStage"`
	Cause      string     `json:"cause"`
	Detail     string     `json:"detail,omitempty"`
	SampleRef  *SampleRef `json:"sampleRef,omitempty"`
	OccurredAt Timestamp  `json:"occurredAt"`
}

// TransitionList is the response for GET /v1/flags/{flagId}/audit.
type TransitionList struct {
	Transitions []Transition `json:"transitions"`
}

// NewTransitionList converts audit records to their API representation.
func NewTransitionList(recs []*audit.TransitionRecord) TransitionList {
	out := TransitionList{Transitions: make([]Transition, 0, len(recs))}
	for _, rec := range recs {
		t := Transition{
			ID:         rec.ID,
			FlagID:     rec.FlagID,
			FromStage:  string(rec.FromStage),
			ToStage:    string(rec.ToStage),
			Cause:      string(rec.Cause),
			Detail:     rec.Detail,
			OccurredAt: Timestamp(rec.OccurredAt),
		}
		if rec.SampleRef != nil {
			t.SampleRef = &SampleRef{
				Metric:    rec.SampleRef.Metric,
				Value:     rec.SampleRef.Value,
				Baseline:  rec.SampleRef.Baseline,
				Timestamp: Timestamp(rec.SampleRef.Timestamp),
			}
		}
		out.Transitions = append(out.Transitions, t)
	}
	return out
}

// Evaluation is the response for GET /v1/evaluate/{flagId}.
type Evaluation struct {
	FlagID    string  `json:"flagId"`
	SubjectID string  `json:"subjectId"`
	Enabled   bool    `json:"enabled"`
	Stage     string  `json:"stage"`
	Bucket    float64 `json:"bucket"`
	Reason    string  `json:"reason"`
}
