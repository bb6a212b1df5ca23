package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FulfillmentMetrics records counters and gauges for the order pipeline.
type FulfillmentMetrics struct {
	webhookEvents  *prometheus.CounterVec
	orderConflicts prometheus.Counter
	lockContention *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
	jobsRecovered  *prometheus.CounterVec
}

// NewFulfillmentMetrics registers the pipeline metrics on the provided registerer.
func NewFulfillmentMetrics(reg prometheus.Registerer) *FulfillmentMetrics {
	if reg == nil {
		return &FulfillmentMetrics{}
	}
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Webhook events by type and outcome.",
	}, []string{"event_type", "outcome"})
	orderConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "order_number_conflicts_total",
		Help: "Order number allocations lost to a concurrent writer.",
	})
	lockContention := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "label_lock_contention_total",
		Help: "Label purchase lock acquisitions that lost the race.",
	}, []string{"shipment_type"})
	queueDepth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "print_queue_depth",
		Help: "Print queue jobs by status.",
	}, []string{"status"})
	jobsRecovered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "print_jobs_recovered_total",
		Help: "Stuck print jobs returned to the queue or failed by the sweeper.",
	}, []string{"from_status"})
	reg.MustRegister(webhookEvents, orderConflicts, lockContention, queueDepth, jobsRecovered)
	return &FulfillmentMetrics{
		webhookEvents:  webhookEvents,
		orderConflicts: orderConflicts,
		lockContention: lockContention,
		queueDepth:     queueDepth,
		jobsRecovered:  jobsRecovered,
	}
}

// IncWebhookEvent records a processed webhook event outcome.
func (m *FulfillmentMetrics) IncWebhookEvent(eventType, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// IncOrderNumberConflict records a lost order number allocation attempt.
func (m *FulfillmentMetrics) IncOrderNumberConflict() {
	if m == nil || m.orderConflicts == nil {
		return
	}
	m.orderConflicts.Inc()
}

// IncLockContention records a lost label purchase lock attempt.
func (m *FulfillmentMetrics) IncLockContention(shipmentType string) {
	if m == nil || m.lockContention == nil {
		return
	}
	m.lockContention.WithLabelValues(normalizeLabel(shipmentType)).Inc()
}

// SetQueueDepth sets the print queue depth gauge for a status.
func (m *FulfillmentMetrics) SetQueueDepth(status string, depth float64) {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(status)).Set(depth)
}

// IncJobsRecovered records a stuck print job handled by the sweeper.
func (m *FulfillmentMetrics) IncJobsRecovered(fromStatus string) {
	if m == nil || m.jobsRecovered == nil {
		return
	}
	m.jobsRecovered.WithLabelValues(normalizeLabel(fromStatus)).Inc()
}
