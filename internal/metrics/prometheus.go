package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// PrometheusSink implements Sink using the Prometheus client library.
// Registration errors are logged but never propagated; a metric that fails
// to register keeps working unregistered.
type PrometheusSink struct {
	log zerolog.Logger

	ticksTotal      prometheus.Counter
	tickErrorsTotal prometheus.Counter
	tickDuration    prometheus.Histogram
	schedulesDue    prometheus.Gauge

	deliveryOutcomesTotal *prometheus.CounterVec
	taskRunsTotal         *prometheus.CounterVec
}

// NewPrometheusSink creates a Prometheus metrics sink registered on reg.
func NewPrometheusSink(reg prometheus.Registerer, log zerolog.Logger) *PrometheusSink {
	s := &PrometheusSink{log: log}

	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "newsletterr_dispatch_ticks_total",
		Help: "Total number of dispatch loop ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "newsletterr_dispatch_tick_errors_total",
		Help: "Total number of dispatch ticks that failed to read the due set.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "newsletterr_dispatch_tick_duration_seconds",
		Help:    "Duration of each dispatch tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})
	s.schedulesDue = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "newsletterr_dispatch_schedules_due",
		Help: "Number of due schedules seen by the most recent tick.",
	})
	s.deliveryOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "newsletterr_delivery_outcomes_total",
		Help: "Total number of delivery attempts by outcome.",
	}, []string{"outcome"})
	s.taskRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "newsletterr_background_task_runs_total",
		Help: "Total number of background task runs by task and result.",
	}, []string{"task", "result"})

	s.register(reg, s.ticksTotal, "newsletterr_dispatch_ticks_total")
	s.register(reg, s.tickErrorsTotal, "newsletterr_dispatch_tick_errors_total")
	s.register(reg, s.tickDuration, "newsletterr_dispatch_tick_duration_seconds")
	s.register(reg, s.schedulesDue, "newsletterr_dispatch_schedules_due")
	s.register(reg, s.deliveryOutcomesTotal, "newsletterr_delivery_outcomes_total")
	s.register(reg, s.taskRunsTotal, "newsletterr_background_task_runs_total")

	return s
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.log.Warn().Err(err).Str("metric", name).Msg("metric registration failed")
	}
}

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, due int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.schedulesDue.Set(float64(due))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) DeliveryOutcome(outcome string) {
	s.deliveryOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) TaskCompleted(task string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.taskRunsTotal.WithLabelValues(task, result).Inc()
}

var _ Sink = (*PrometheusSink)(nil)
