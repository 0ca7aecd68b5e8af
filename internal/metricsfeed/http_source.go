package metricsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// HTTPSourceConfig holds configuration for the HTTP metrics feed client.
type HTTPSourceConfig struct {
	// BaseURL is the root of the metrics pipeline API.
	BaseURL string

	// Timeout bounds each request. Default: 10 seconds.
	Timeout time.Duration

	// MaxRetries caps retries per Samples call. Default: 2.
	MaxRetries uint64
}

// HTTPSource pulls samples from the metrics pipeline over HTTP. A circuit
// breaker stops hammering the pipeline while it is down; in that state every
// call fails fast with ErrFeedUnavailable.
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]Sample]
	maxRetries uint64
}

// NewHTTPSource creates a new HTTP metrics feed client.
func NewHTTPSource(cfg HTTPSourceConfig) *HTTPSource {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}

	breaker := gobreaker.NewCircuitBreaker[[]Sample](gobreaker.Settings{
		Name:        "metrics-feed",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &HTTPSource{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		maxRetries: maxRetries,
	}
}

// Samples fetches the latest samples for a flag. Any failure mode maps to
// ErrFeedUnavailable so the monitor can distinguish "feed down" from "flag
// unhealthy".
func (s *HTTPSource) Samples(ctx context.Context, flagID string) ([]Sample, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 0

	var samples []Sample
	operation := func() error {
		var err error
		samples, err = s.breaker.Execute(func() ([]Sample, error) {
			return s.fetch(ctx, flagID)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(fmt.Errorf("%w: circuit open", ErrFeedUnavailable))
		}
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, s.maxRetries), ctx))
	if err != nil {
		if errors.Is(err, ErrFeedUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}
	return samples, nil
}

func (s *HTTPSource) fetch(ctx context.Context, flagID string) ([]Sample, error) {
	endpoint := fmt.Sprintf("%s/v1/samples?flag=%s", s.baseURL, url.QueryEscape(flagID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("metrics feed returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(fmt.Errorf("metrics feed returned status %d", resp.StatusCode))
	}

	var body struct {
		Samples []Sample `json:"samples"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Samples, nil
}

// Ensure HTTPSource implements Source interface.
var _ Source = (*HTTPSource)(nil)
