package health_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rampgate/rampgate/internal/flag"
	"github.com/rampgate/rampgate/internal/health"
	"github.com/rampgate/rampgate/internal/metricsfeed"
)

func sample(metric string, value, baseline float64) metricsfeed.Sample {
	return metricsfeed.Sample{
		FlagID:    "checkout-v2",
		Metric:    metric,
		Value:     value,
		Baseline:  baseline,
		Timestamp: time.Now().UTC(),
	}
}

func TestCheck_ErrorRateBreach(t *testing.T) {
	samples := []metricsfeed.Sample{
		sample(metricsfeed.MetricErrorRate, 0.05, 0.01),
	}

	breaches := health.Check(samples, nil, health.DefaultThresholds)
	require.Len(t, breaches, 1)
	assert.Equal(t, metricsfeed.MetricErrorRate, breaches[0].Sample.Metric)
	assert.Contains(t, breaches[0].Reason, "error rate")
}

func TestCheck_ErrorRateWithinThreshold(t *testing.T) {
	// Exactly 2x baseline is the boundary; only strictly above breaches.
	samples := []metricsfeed.Sample{
		sample(metricsfeed.MetricErrorRate, 0.02, 0.01),
	}

	breaches := health.Check(samples, nil, health.DefaultThresholds)
	assert.Empty(t, breaches)
}

func TestCheck_LatencyBreach(t *testing.T) {
	samples := []metricsfeed.Sample{
		sample(metricsfeed.MetricLatencyP95, 200, 100),
	}

	breaches := health.Check(samples, nil, health.DefaultThresholds)
	require.Len(t, breaches, 1)
	assert.Contains(t, breaches[0].Reason, "latency p95")
}

func TestCheck_LatencyWithinThreshold(t *testing.T) {
	// Up to baseline * 1.5 is acceptable with default thresholds.
	samples := []metricsfeed.Sample{
		sample(metricsfeed.MetricLatencyP95, 150, 100),
	}

	breaches := health.Check(samples, nil, health.DefaultThresholds)
	assert.Empty(t, breaches)
}

func TestCheck_StoredBaselineTakesPrecedence(t *testing.T) {
	// The feed claims baseline 0.04, but the stored baseline from canary
	// entry is 0.01, making the sample a breach.
	samples := []metricsfeed.Sample{
		sample(metricsfeed.MetricErrorRate, 0.05, 0.04),
	}
	baseline := &flag.Baseline{ErrorRate: 0.01, LatencyP95: 100}

	breaches := health.Check(samples, baseline, health.DefaultThresholds)
	require.Len(t, breaches, 1)
	assert.Equal(t, 0.01, breaches[0].Sample.Baseline)
}

func TestCheck_SkipsMissingBaseline(t *testing.T) {
	samples := []metricsfeed.Sample{
		sample(metricsfeed.MetricErrorRate, 0.9, 0),
	}

	breaches := health.Check(samples, nil, health.DefaultThresholds)
	assert.Empty(t, breaches)
}

func TestCheck_UnknownMetricIgnored(t *testing.T) {
	samples := []metricsfeed.Sample{
		sample("cpu_usage", 0.99, 0.01),
	}

	breaches := health.Check(samples, nil, health.DefaultThresholds)
	assert.Empty(t, breaches)
}

func TestBreach_SampleRef(t *testing.T) {
	s := sample(metricsfeed.MetricErrorRate, 0.05, 0.01)
	b := health.Breach{Sample: s, Reason: "error rate"}

	ref := b.SampleRef()
	assert.Equal(t, s.Metric, ref.Metric)
	assert.Equal(t, s.Value, ref.Value)
	assert.Equal(t, s.Baseline, ref.Baseline)
	assert.Equal(t, s.Timestamp, ref.Timestamp)
}
