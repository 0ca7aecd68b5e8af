// Package health watches the metrics feed and drives automatic holds and
// rollbacks for ramping flags.
package health

import (
	"fmt"

	"github.com/rampgate/rampgate/internal/audit"
	"github.com/rampgate/rampgate/internal/flag"
	"github.com/rampgate/rampgate/internal/metricsfeed"
)

// Thresholds controls when a sample counts as a health breach.
type Thresholds struct {
	// ErrorRateMultiplier breaches when the observed error rate exceeds
	// baseline times this factor.
	ErrorRateMultiplier float64

	// LatencyIncrease breaches when observed p95 latency exceeds baseline by
	// more than this fraction.
	LatencyIncrease float64

	// ConsecutiveBreaches is how many breached cycles in a row trigger an
	// automatic rollback.
	ConsecutiveBreaches int
}

// DefaultThresholds are the standard breach rules: error rate over twice
// baseline, latency over baseline plus half, three consecutive breaches.
var DefaultThresholds = Thresholds{
	ErrorRateMultiplier: 2.0,
	LatencyIncrease:     0.5,
	ConsecutiveBreaches: 3,
}

func (t Thresholds) withDefaults() Thresholds {
	if t.ErrorRateMultiplier == 0 {
		t.ErrorRateMultiplier = DefaultThresholds.ErrorRateMultiplier
	}
	if t.LatencyIncrease == 0 {
		t.LatencyIncrease = DefaultThresholds.LatencyIncrease
	}
	if t.ConsecutiveBreaches == 0 {
		t.ConsecutiveBreaches = DefaultThresholds.ConsecutiveBreaches
	}
	return t
}

// Breach is one sample that violated a threshold.
type Breach struct {
	Sample metricsfeed.Sample
	Reason string
}

// SampleRef converts the breach into an audit reference.
func (b Breach) SampleRef() *audit.SampleRef {
	return &audit.SampleRef{
		Metric:    b.Sample.Metric,
		Value:     b.Sample.Value,
		Baseline:  b.Sample.Baseline,
		Timestamp: b.Sample.Timestamp,
	}
}

// Check evaluates samples against the thresholds. The stored baseline takes
// precedence over the baseline carried by the sample; a metric with no
// usable baseline is skipped.
func Check(samples []metricsfeed.Sample, baseline *flag.Baseline, th Thresholds) []Breach {
	th = th.withDefaults()

	var breaches []Breach
	for _, s := range samples {
		ref := s.Baseline
		if baseline != nil {
			switch s.Metric {
			case metricsfeed.MetricErrorRate:
				ref = baseline.ErrorRate
			case metricsfeed.MetricLatencyP95:
				ref = baseline.LatencyP95
			}
		}
		if ref <= 0 {
			continue
		}

		switch s.Metric {
		case metricsfeed.MetricErrorRate:
			if s.Value > ref*th.ErrorRateMultiplier {
				s.Baseline = ref
				breaches = append(breaches, Breach{
					Sample: s,
					Reason: fmt.Sprintf("error rate %.4f exceeds %.1fx baseline %.4f", s.Value, th.ErrorRateMultiplier, ref),
				})
			}
		case metricsfeed.MetricLatencyP95:
			if s.Value > ref*(1+th.LatencyIncrease) {
				s.Baseline = ref
				breaches = append(breaches, Breach{
					Sample: s,
					Reason: fmt.Sprintf("latency p95 %.1f exceeds baseline %.1f by more than %.0f%%", s.Value, ref, th.LatencyIncrease*100),
				})
			}
		}
	}
	return breaches
}
