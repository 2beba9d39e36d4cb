package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconciliationMetrics records reconciliation outcomes and gateway latency.
type ReconciliationMetrics struct {
	outcomes        *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	bulkBatchSize   prometheus.Histogram
}

// NewReconciliationMetrics registers the payment metrics on the provided registerer.
func NewReconciliationMetrics(reg prometheus.Registerer) *ReconciliationMetrics {
	if reg == nil {
		return &ReconciliationMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconciliation_total",
		Help: "Reconciliation attempts by trigger and resulting payment status.",
	}, []string{"trigger", "result"})
	gatewayDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_request_seconds",
		Help:    "Duration of outbound payment gateway calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	bulkBatchSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_bulk_refresh_batch_size",
		Help:    "Orders per bulk refresh request.",
		Buckets: []float64{1, 5, 10, 25, 50, 100},
	})
	reg.MustRegister(outcomes, gatewayDuration, bulkBatchSize)
	return &ReconciliationMetrics{
		outcomes:        outcomes,
		gatewayDuration: gatewayDuration,
		bulkBatchSize:   bulkBatchSize,
	}
}

// IncOutcome counts one reconciliation attempt for the named trigger.
func (m *ReconciliationMetrics) IncOutcome(trigger, result string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(trigger), normalizeLabel(result)).Inc()
}

// ObserveGateway records the duration of one gateway call.
func (m *ReconciliationMetrics) ObserveGateway(operation string, duration time.Duration) {
	if m == nil || m.gatewayDuration == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// ObserveBulkBatch records the size of one bulk refresh batch.
func (m *ReconciliationMetrics) ObserveBulkBatch(size int) {
	if m == nil || m.bulkBatchSize == nil {
		return
	}
	m.bulkBatchSize.Observe(float64(size))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
