// Package metricsfeed consumes the external metrics pipeline. The feed is a
// read-only pull source: the engine never computes metrics itself, it only
// compares pre-aggregated samples against stored baselines.
package metricsfeed

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrFeedUnavailable is returned when the feed cannot be reached. Callers
// hold their current state rather than acting on missing data.
var ErrFeedUnavailable = errors.New("metrics feed unavailable")

// Metric names carried by the feed.
const (
	MetricErrorRate  = "error_rate"
	MetricLatencyP95 = "latency_p95"
)

// Sample is one pre-aggregated health data point for a flag.
type Sample struct {
	FlagID    string    `json:"flagId"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Baseline  float64   `json:"baseline"`
	Timestamp time.Time `json:"timestamp"`
}

// Source provides the latest samples for a flag.
type Source interface {
	Samples(ctx context.Context, flagID string) ([]Sample, error)
}

// MemorySource is an in-memory Source for tests and local development.
type MemorySource struct {
	mu      sync.RWMutex
	samples map[string][]Sample
	err     error
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{samples: make(map[string][]Sample)}
}

// Set replaces the samples for a flag.
func (s *MemorySource) Set(flagID string, samples []Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[flagID] = samples
}

// Fail makes every subsequent Samples call return err. Pass nil to recover.
func (s *MemorySource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Samples returns a copy of the stored samples for the flag.
func (s *MemorySource) Samples(_ context.Context, flagID string) ([]Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]Sample, len(s.samples[flagID]))
	copy(out, s.samples[flagID])
	return out, nil
}

// Ensure MemorySource implements Source interface.
var _ Source = (*MemorySource)(nil)
