package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rampgate/rampgate/internal/audit"
	"github.com/rampgate/rampgate/internal/flag"
	"github.com/rampgate/rampgate/internal/metricsfeed"
	"github.com/rampgate/rampgate/internal/rollout"
)

// MonitorConfig holds configuration for the health monitor.
type MonitorConfig struct {
	Store        flag.Store
	Feed         metricsfeed.Source
	Transitioner *rollout.Transitioner
	Logger       zerolog.Logger

	// Environment scopes the flags this monitor watches.
	Environment string

	// Schedule drives automatic ramp advancement. Zero value uses
	// rollout.DefaultSchedule.
	Schedule rollout.Schedule

	// Thresholds are the breach rules. Zero fields use defaults.
	Thresholds Thresholds

	// Interval between scan cycles. Default: 1 minute.
	Interval time.Duration

	// Concurrency is the number of flags checked in parallel. Default: 4.
	Concurrency int
}

type flagState struct {
	consecutiveBreaches int
	healthySince        time.Time

	// observedPercent is the rollout percentage the healthy timer applies
	// to. Healthy time at one percentage never counts toward the
	// observation window of another.
	observedPercent int
}

// Monitor periodically scans active flags, compares feed samples against
// baselines, and asks the transitioner to advance or roll back ramps.
type Monitor struct {
	store        flag.Store
	feed         metricsfeed.Source
	transitioner *rollout.Transitioner
	logger       zerolog.Logger
	environment  string
	schedule     rollout.Schedule
	thresholds   Thresholds
	interval     time.Duration
	concurrency  int

	mu    sync.Mutex
	state map[string]*flagState
}

// NewMonitor creates a new health monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	interval := cfg.Interval
	if interval == 0 {
		interval = time.Minute
	}
	concurrency := cfg.Concurrency
	if concurrency == 0 {
		concurrency = 4
	}
	schedule := cfg.Schedule
	if len(schedule.Steps) == 0 {
		schedule = rollout.DefaultSchedule()
	}

	return &Monitor{
		store:        cfg.Store,
		feed:         cfg.Feed,
		transitioner: cfg.Transitioner,
		logger:       cfg.Logger,
		environment:  cfg.Environment,
		schedule:     schedule,
		thresholds:   cfg.Thresholds.withDefaults(),
		interval:     interval,
		concurrency:  concurrency,
		state:        make(map[string]*flagState),
	}
}

// Run scans on the configured interval until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info().
		Str("environment", m.environment).
		Dur("interval", m.interval).
		Msg("health monitor started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("health monitor stopped")
			return
		case <-ticker.C:
			m.Scan(ctx)
		}
	}
}

// Scan runs one monitoring cycle over every flag in the environment.
func (m *Monitor) Scan(ctx context.Context) {
	defs, err := m.store.List(ctx, m.environment)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to list flags, skipping cycle")
		return
	}

	work := make(chan *flag.Definition)
	var wg sync.WaitGroup

	for i := 0; i < m.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for def := range work {
				m.checkFlag(ctx, def)
			}
		}()
	}

	for _, def := range defs {
		select {
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return
		case work <- def:
		}
	}
	close(work)
	wg.Wait()
}

func (m *Monitor) checkFlag(ctx context.Context, def *flag.Definition) {
	switch def.Stage {
	case flag.StageDisabled, flag.StageRolledBack:
		m.forget(def.ID)
		return
	}

	samples, err := m.feed.Samples(ctx, def.ID)
	if err != nil {
		if errors.Is(err, metricsfeed.ErrFeedUnavailable) {
			// Missing data is never treated as unhealthy. Hold the ramp
			// where it is until the feed recovers.
			m.logger.Warn().
				Str("flag", def.ID).
				Msg("metrics feed unavailable, monitoring degraded, holding ramp")
			m.resetHealthyTimer(def.ID)
			return
		}
		m.logger.Warn().Err(err).Str("flag", def.ID).Msg("failed to fetch samples")
		m.resetHealthyTimer(def.ID)
		return
	}

	if def.Stage == flag.StageCanary && def.Baseline == nil {
		m.captureBaseline(ctx, def, samples)
		return
	}

	breaches := Check(samples, def.Baseline, m.thresholds)
	if len(breaches) > 0 {
		m.handleBreach(ctx, def, breaches[0])
		return
	}
	m.handleHealthy(ctx, def)
}

func (m *Monitor) captureBaseline(ctx context.Context, def *flag.Definition, samples []metricsfeed.Sample) {
	baseline := flag.Baseline{CapturedAt: time.Now().UTC()}
	for _, s := range samples {
		switch s.Metric {
		case metricsfeed.MetricErrorRate:
			baseline.ErrorRate = s.Value
		case metricsfeed.MetricLatencyP95:
			baseline.LatencyP95 = s.Value
		}
	}
	if baseline.ErrorRate == 0 && baseline.LatencyP95 == 0 {
		return
	}

	if err := m.transitioner.CaptureBaseline(ctx, def.ID, baseline); err != nil {
		m.logger.Warn().Err(err).Str("flag", def.ID).Msg("failed to capture baseline")
		return
	}
	m.logger.Info().
		Str("flag", def.ID).
		Float64("error_rate", baseline.ErrorRate).
		Float64("latency_p95", baseline.LatencyP95).
		Msg("canary baseline captured")
}

func (m *Monitor) handleBreach(ctx context.Context, def *flag.Definition, breach Breach) {
	st := m.flagState(def.ID)

	m.mu.Lock()
	st.consecutiveBreaches++
	st.healthySince = time.Time{}
	count := st.consecutiveBreaches
	m.mu.Unlock()

	if count < m.thresholds.ConsecutiveBreaches {
		m.logger.Warn().
			Str("flag", def.ID).
			Str("reason", breach.Reason).
			Int("consecutive", count).
			Msg("health breach detected, holding ramp")
		return
	}

	m.logger.Error().
		Str("flag", def.ID).
		Str("reason", breach.Reason).
		Int("consecutive", count).
		Msg("sustained health breach, rolling back")

	_, err := m.transitioner.Transition(ctx, def.ID, rollout.Request{
		To:        flag.StageRolledBack,
		Cause:     audit.CauseAutoRollback,
		Detail:    breach.Reason,
		SampleRef: breach.SampleRef(),
	})
	if err != nil {
		m.logger.Error().Err(err).Str("flag", def.ID).Msg("automatic rollback failed")
		return
	}
	m.forget(def.ID)
}

func (m *Monitor) handleHealthy(ctx context.Context, def *flag.Definition) {
	st := m.flagState(def.ID)

	m.mu.Lock()
	st.consecutiveBreaches = 0
	// A percent change the monitor did not make itself (a manual ramp bump,
	// a canary promotion) restarts the window at the new percentage.
	if st.healthySince.IsZero() || st.observedPercent != def.RolloutPercent {
		st.healthySince = time.Now()
		st.observedPercent = def.RolloutPercent
	}
	healthyFor := time.Since(st.healthySince)
	m.mu.Unlock()

	if def.Stage != flag.StageRamping {
		return
	}

	step, ok := m.schedule.NextStep(def.RolloutPercent)
	if !ok {
		return
	}
	if healthyFor < step.ObservationWindow {
		return
	}

	m.logger.Info().
		Str("flag", def.ID).
		Int("from_percent", def.RolloutPercent).
		Int("to_percent", step.Percent).
		Msg("advancing scheduled ramp")

	_, err := m.transitioner.Transition(ctx, def.ID, rollout.Request{
		To:      flag.StageRamping,
		Percent: step.Percent,
		Cause:   audit.CauseScheduledRamp,
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("flag", def.ID).Msg("scheduled ramp advance failed")
		return
	}
	m.resetHealthyTimer(def.ID)
}

func (m *Monitor) flagState(flagID string) *flagState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.state[flagID]
	if !ok {
		st = &flagState{}
		m.state[flagID] = st
	}
	return st
}

func (m *Monitor) resetHealthyTimer(flagID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.state[flagID]; ok {
		st.healthySince = time.Time{}
	}
}

func (m *Monitor) forget(flagID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, flagID)
}
