package metricsfeed_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rampgate/rampgate/internal/metricsfeed"
)

func feedResponse(t *testing.T, w http.ResponseWriter, samples []metricsfeed.Sample) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(map[string]interface{}{"samples": samples})
	require.NoError(t, err)
}

func TestHTTPSource_Samples(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/samples", r.URL.Path)
		assert.Equal(t, "checkout-v2", r.URL.Query().Get("flag"))
		feedResponse(t, w, []metricsfeed.Sample{
			{FlagID: "checkout-v2", Metric: metricsfeed.MetricErrorRate, Value: 0.02, Baseline: 0.01, Timestamp: now},
		})
	}))
	defer server.Close()

	source := metricsfeed.NewHTTPSource(metricsfeed.HTTPSourceConfig{BaseURL: server.URL})

	samples, err := source.Samples(context.Background(), "checkout-v2")
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, metricsfeed.MetricErrorRate, samples[0].Metric)
	assert.Equal(t, 0.02, samples[0].Value)
}

func TestHTTPSource_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		feedResponse(t, w, []metricsfeed.Sample{
			{FlagID: "checkout-v2", Metric: metricsfeed.MetricLatencyP95, Value: 120},
		})
	}))
	defer server.Close()

	source := metricsfeed.NewHTTPSource(metricsfeed.HTTPSourceConfig{
		BaseURL:    server.URL,
		MaxRetries: 2,
	})

	samples, err := source.Samples(context.Background(), "checkout-v2")
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPSource_ClientErrorIsUnavailable(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	source := metricsfeed.NewHTTPSource(metricsfeed.HTTPSourceConfig{BaseURL: server.URL})

	_, err := source.Samples(context.Background(), "checkout-v2")
	assert.ErrorIs(t, err, metricsfeed.ErrFeedUnavailable)
	// 4xx responses are not retried.
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPSource_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	source := metricsfeed.NewHTTPSource(metricsfeed.HTTPSourceConfig{
		BaseURL:    server.URL,
		MaxRetries: 2,
	})
	ctx := context.Background()

	// Exhaust the breaker with failing calls.
	for i := 0; i < 3; i++ {
		_, err := source.Samples(ctx, "checkout-v2")
		assert.ErrorIs(t, err, metricsfeed.ErrFeedUnavailable)
	}

	// The breaker is open now; calls fail fast without reaching the server.
	before := calls.Load()
	_, err := source.Samples(ctx, "checkout-v2")
	assert.ErrorIs(t, err, metricsfeed.ErrFeedUnavailable)
	assert.Equal(t, before, calls.Load())
}

func TestMemorySource_SetAndFail(t *testing.T) {
	source := metricsfeed.NewMemorySource()
	ctx := context.Background()

	source.Set("checkout-v2", []metricsfeed.Sample{
		{FlagID: "checkout-v2", Metric: metricsfeed.MetricErrorRate, Value: 0.01},
	})

	samples, err := source.Samples(ctx, "checkout-v2")
	require.NoError(t, err)
	assert.Len(t, samples, 1)

	source.Fail(metricsfeed.ErrFeedUnavailable)
	_, err = source.Samples(ctx, "checkout-v2")
	assert.ErrorIs(t, err, metricsfeed.ErrFeedUnavailable)

	source.Fail(nil)
	_, err = source.Samples(ctx, "checkout-v2")
	assert.NoError(t, err)
}
