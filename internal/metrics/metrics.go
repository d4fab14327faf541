package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/guildpulse/guildsync/internal/domain"
	"github.com/guildpulse/guildsync/internal/ratebudget"
	"github.com/guildpulse/guildsync/internal/repository"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	JobsCompleted *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	QueueDepth    *prometheus.GaugeVec
	PointsUsed    prometheus.Gauge
	PointsMax     prometheus.Gauge
	BudgetPaused  prometheus.Gauge
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guild_jobs_completed_total",
			Help: "Total number of successfully completed refresh jobs.",
		}, []string{"job_type"}),

		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guild_jobs_failed_total",
			Help: "Total number of failed fetch attempts by error class.",
		}, []string{"error_type"}),

		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "guild_fetch_duration_seconds",
			Help:    "Wall-clock duration of completed fetch-and-persist runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"job_type"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "guild_queue_depth",
			Help: "Current number of queue items per status.",
		}, []string{"status"}),

		PointsUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rate_budget_points_used",
			Help: "Points consumed in the current upstream quota window.",
		}),
		PointsMax: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rate_budget_points_max",
			Help: "Points available per upstream quota window.",
		}),
		BudgetPaused: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rate_budget_paused",
			Help: "1 when background consumption is halted, 0 otherwise.",
		}),
	}

	reg.MustRegister(
		m.JobsCompleted,
		m.JobsFailed,
		m.FetchDuration,
		m.QueueDepth,
		m.PointsUsed,
		m.PointsMax,
		m.BudgetPaused,
	)

	return m
}

// ProcessorHooks returns the metric callbacks expected by processor.MetricHooks.
// Centralises the prometheus observation calls so the processor stays
// metrics-agnostic.
func (m *Metrics) ProcessorHooks() (
	onCompleted func(domain.JobType, time.Duration),
	onFailed func(domain.ErrorType),
) {
	onCompleted = func(jt domain.JobType, latency time.Duration) {
		m.JobsCompleted.WithLabelValues(string(jt)).Inc()
		m.FetchDuration.WithLabelValues(string(jt)).Observe(latency.Seconds())
	}
	onFailed = func(et domain.ErrorType) {
		m.JobsFailed.WithLabelValues(string(et)).Inc()
	}
	return
}

// PollGauges refreshes the queue-depth and budget gauges on an interval
// until ctx is cancelled. Gauges are sampled rather than event-driven
// because queue depth is a property of the store, not of any single event.
func (m *Metrics) PollGauges(ctx context.Context, interval time.Duration, repo repository.QueueRepository, tracker *ratebudget.Tracker) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stats, err := repo.Stats(ctx); err == nil {
				m.QueueDepth.WithLabelValues(string(domain.StatusPending)).Set(float64(stats.Pending))
				m.QueueDepth.WithLabelValues(string(domain.StatusInProgress)).Set(float64(stats.InProgress))
				m.QueueDepth.WithLabelValues(string(domain.StatusCompleted)).Set(float64(stats.Completed))
				m.QueueDepth.WithLabelValues(string(domain.StatusFailed)).Set(float64(stats.Failed))
				m.QueueDepth.WithLabelValues(string(domain.StatusPaused)).Set(float64(stats.Paused))
			}
			st := tracker.Status()
			m.PointsUsed.Set(float64(st.PointsUsed))
			m.PointsMax.Set(float64(st.PointsMax))
			if st.IsPaused {
				m.BudgetPaused.Set(1)
			} else {
				m.BudgetPaused.Set(0)
			}
		}
	}
}
