// Package status exposes the sampler's own health: Prometheus metrics and a
// small HTTP surface reporting scheduler state.
package status

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/yourorg/ledger-sampler/internal/model"
)

// samplerMetrics holds Prometheus metrics for the sampler
type samplerMetrics struct {
	ticks           *prometheus.CounterVec
	tickDuration    prometheus.Histogram
	connectAttempts *prometheus.CounterVec
	lastSuccess     prometheus.Gauge
	metric          *prometheus.GaugeVec
}

func registerMetrics(reg prometheus.Registerer) *samplerMetrics {
	m := &samplerMetrics{
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_sampler_ticks_total",
				Help: "Total number of ticks by outcome",
			},
			[]string{"status"},
		),
		tickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ledger_sampler_tick_duration_seconds",
				Help:    "Duration of completed and failed ticks in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		connectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_sampler_connect_attempts_total",
				Help: "Total number of startup connection attempts by outcome",
			},
			[]string{"outcome"},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledger_sampler_last_success_timestamp_seconds",
				Help: "Unix time of the last successfully dispatched tick",
			},
		),
		metric: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ledger_sampler_metric",
				Help: "Last dispatched value of each sampled metric",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.ticks,
		m.tickDuration,
		m.connectAttempts,
		m.lastSuccess,
		m.metric,
	)
	return m
}

// Snapshot is the JSON body served on /status
type Snapshot struct {
	State        string           `json:"state"`
	StartedAt    time.Time        `json:"started_at"`
	LastTickAt   *time.Time       `json:"last_tick_at,omitempty"`
	LastOutcome  string           `json:"last_outcome,omitempty"`
	LastError    string           `json:"last_error,omitempty"`
	Ticks        map[string]int64 `json:"ticks"`
	ConnAttempts int64            `json:"connect_attempts"`
}

// Tracker records scheduler events into Prometheus and into the /status snapshot
type Tracker struct {
	registry *prometheus.Registry
	metrics  *samplerMetrics

	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a tracker with its own registry, including Go runtime collectors
func NewTracker() *Tracker {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Tracker{
		registry: reg,
		metrics:  registerMetrics(reg),
		snap: Snapshot{
			State:     "disconnected",
			StartedAt: time.Now().UTC(),
			Ticks:     make(map[string]int64),
		},
	}
}

// Registry returns the registry served on /metrics
func (t *Tracker) Registry() *prometheus.Registry {
	return t.registry
}

// StateChanged records a scheduler state transition
func (t *Tracker) StateChanged(state string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.State = state
}

// ConnectAttempt records one startup connection attempt
func (t *Tracker) ConnectAttempt(_ int, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	t.metrics.connectAttempts.WithLabelValues(outcome).Inc()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.ConnAttempts++
}

// TickFinished records the outcome of one tick. set is only inspected on success.
func (t *Tracker) TickFinished(outcome string, d time.Duration, set model.ScalarMetricSet, err error) {
	t.metrics.ticks.WithLabelValues(outcome).Inc()
	now := time.Now().UTC()

	if outcome != model.OutcomeSkipped {
		t.metrics.tickDuration.Observe(d.Seconds())
	}
	if err == nil && outcome == model.OutcomeSuccess {
		t.metrics.lastSuccess.Set(float64(now.Unix()))
		if points, perr := set.Points(); perr == nil {
			for _, p := range points {
				switch v := p.Value.(type) {
				case int64:
					t.metrics.metric.WithLabelValues(p.Name).Set(float64(v))
				case float64:
					t.metrics.metric.WithLabelValues(p.Name).Set(v)
				}
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Ticks[outcome]++
	t.snap.LastOutcome = outcome
	if outcome != model.OutcomeSkipped {
		t.snap.LastTickAt = &now
	}
	t.snap.LastError = ""
	if err != nil {
		t.snap.LastError = err.Error()
	}
}

// Snapshot returns a copy of the current status
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.snap
	s.Ticks = make(map[string]int64, len(t.snap.Ticks))
	for k, v := range t.snap.Ticks {
		s.Ticks[k] = v
	}
	if t.snap.LastTickAt != nil {
		ts := *t.snap.LastTickAt
		s.LastTickAt = &ts
	}
	return s
}
