package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "water_ledger_"

	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	registerOnce sync.Once

	operationTotal   *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec

	readingOutcomes   *prometheus.CounterVec
	consumptionM3     prometheus.Counter
	sideEffectFailure *prometheus.CounterVec
	queueDepth        *prometheus.GaugeVec
)

// Init registers the ledger metrics on the default registry.
func Init() {
	registerOnce.Do(func() {
		operationTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "operations_total",
				Help: "Total ledger operations by operation and result",
			},
			[]string{"operation", "result"},
		)
		operationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "operation_latency_seconds",
				Help:    "Ledger operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "result"},
		)
		readingOutcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reading_outcomes_total",
				Help: "Total correlated OCR results by outcome",
			},
			[]string{"outcome"},
		)
		consumptionM3 = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "consumption_m3_total",
				Help: "Total m3 credited to meter balances by readings",
			},
		)
		sideEffectFailure = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "side_effect_failures_total",
				Help: "Total failed non-ledger side effects by kind",
			},
			[]string{"kind"},
		)
		queueDepth = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "task_queue_depth",
				Help: "Items in each task queue at last observation",
			},
			[]string{"queue"},
		)

		prometheus.MustRegister(
			operationTotal,
			operationLatency,
			readingOutcomes,
			consumptionM3,
			sideEffectFailure,
			queueDepth,
		)
	})
}

// ObserveOperation records operation duration and result.
func ObserveOperation(operation, result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if operationTotal != nil {
		operationTotal.WithLabelValues(operation, result).Inc()
	}
	if operationLatency != nil {
		operationLatency.WithLabelValues(operation, result).Observe(duration.Seconds())
	}
}

// IncReadingOutcome increments the outcome counter and, for applied readings, the m3 total.
func IncReadingOutcome(outcome string, consumption int64) {
	if outcome == "" {
		outcome = "unknown"
	}
	if readingOutcomes != nil {
		readingOutcomes.WithLabelValues(outcome).Inc()
	}
	if consumptionM3 != nil && consumption > 0 {
		consumptionM3.Add(float64(consumption))
	}
}

// IncSideEffectFailure counts a failed notification, event publish or time-series write.
func IncSideEffectFailure(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if sideEffectFailure != nil {
		sideEffectFailure.WithLabelValues(kind).Inc()
	}
}

// SetQueueDepth records the depth of a task queue.
func SetQueueDepth(queue string, depth int) {
	if queueDepth != nil {
		queueDepth.WithLabelValues(queue).Set(float64(depth))
	}
}

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}
