package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the scoring pipeline. A nil
// *Metrics is valid and turns every method into a no-op, matching how the
// rest of the codebase treats optional collaborators.
type Metrics struct {
	registry *prometheus.Registry

	ticksIngested   prometheus.Counter
	ticksRejected   *prometheus.CounterVec
	windowsEmitted  prometheus.Counter
	batchesFlushed  *prometheus.CounterVec
	scoringFailures *prometheus.CounterVec
	scoringSeconds  prometheus.Histogram
	alertsOutcomes  *prometheus.CounterVec
}

func NewMetrics(queueDepth func() float64) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		ticksIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "tickwatch_ticks_ingested_total",
			Help: "Ticks accepted into the bounded queue.",
		}),
		ticksRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tickwatch_ticks_rejected_total",
			Help: "Ticks rejected at the ingestion boundary, by reason.",
		}, []string{"reason"}),
		windowsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tickwatch_windows_emitted_total",
			Help: "Completed sliding windows emitted by the assembler.",
		}),
		batchesFlushed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tickwatch_batches_flushed_total",
			Help: "Batches handed to the inference pool, by flush reason.",
		}, []string{"reason"}),
		scoringFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tickwatch_scoring_failures_total",
			Help: "Batches dropped without scores, by failure kind.",
		}, []string{"kind"}),
		scoringSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tickwatch_scoring_duration_seconds",
			Help:    "Wall time of successful scorer invocations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		alertsOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tickwatch_alerts_total",
			Help: "Alert dispatch outcomes.",
		}, []string{"outcome"}),
	}
	if queueDepth != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tickwatch_queue_depth",
			Help: "Ticks currently buffered in the bounded queue.",
		}, queueDepth)
	}
	return m
}

func (m *Metrics) TickIngested() {
	if m != nil {
		m.ticksIngested.Inc()
	}
}

func (m *Metrics) TickRejected(reason string) {
	if m != nil {
		m.ticksRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) WindowEmitted() {
	if m != nil {
		m.windowsEmitted.Inc()
	}
}

func (m *Metrics) BatchFlushed(reason string) {
	if m != nil {
		m.batchesFlushed.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ScoringFailure(kind string) {
	if m != nil {
		m.scoringFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ScoringDuration(seconds float64) {
	if m != nil {
		m.scoringSeconds.Observe(seconds)
	}
}

func (m *Metrics) AlertOutcome(outcome string) {
	if m != nil {
		m.alertsOutcomes.WithLabelValues(outcome).Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
