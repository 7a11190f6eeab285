package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for scheduling flows.
type SchedulingMetrics struct {
	instancesTotal     *prometheus.CounterVec
	conflictsTotal     *prometheus.CounterVec
	availabilityChecks *prometheus.CounterVec
	batchLatency       *prometheus.HistogramVec
	reschedulesTotal   *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		instancesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "therapy",
			Subsystem: "scheduling",
			Name:      "instances_total",
			Help:      "Session instances processed by the orchestrator",
		}, []string{"outcome"}),
		conflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "therapy",
			Subsystem: "scheduling",
			Name:      "conflicts_total",
			Help:      "Conflicts detected, by kind",
		}, []string{"kind"}),
		availabilityChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "therapy",
			Subsystem: "scheduling",
			Name:      "availability_checks_total",
			Help:      "Availability checks, by result",
		}, []string{"available"}),
		batchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "therapy",
			Subsystem: "scheduling",
			Name:      "batch_latency_seconds",
			Help:      "Latency of scheduling requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		reschedulesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "therapy",
			Subsystem: "scheduling",
			Name:      "reschedules_total",
			Help:      "Reschedule attempts, by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.instancesTotal, m.conflictsTotal, m.availabilityChecks, m.batchLatency, m.reschedulesTotal)
	return m
}

// ObserveInstance counts one instance outcome: committed, shifted, rejected.
func (m *SchedulingMetrics) ObserveInstance(outcome string) {
	if m == nil {
		return
	}
	m.instancesTotal.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveConflict(kind string) {
	if m == nil {
		return
	}
	m.conflictsTotal.WithLabelValues(kind).Inc()
}

func (m *SchedulingMetrics) ObserveAvailabilityCheck(available bool) {
	if m == nil {
		return
	}
	label := "false"
	if available {
		label = "true"
	}
	m.availabilityChecks.WithLabelValues(label).Inc()
}

func (m *SchedulingMetrics) ObserveLatency(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.batchLatency.WithLabelValues(kind).Observe(seconds)
}

func (m *SchedulingMetrics) ObserveReschedule(outcome string) {
	if m == nil {
		return
	}
	m.reschedulesTotal.WithLabelValues(outcome).Inc()
}
