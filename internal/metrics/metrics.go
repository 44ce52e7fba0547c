package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeProcessed labels events that completed the detection flow.
	OutcomeProcessed = "processed"
	// OutcomeSkipped labels events that reduced to nothing analyzable.
	OutcomeSkipped = "skipped"
	// OutcomeError labels events whose detection failed.
	OutcomeError = "error"
)

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assist_sentinel",
			Name:      "events_total",
			Help:      "Total conversational events handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	detectionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "assist_sentinel",
			Name:      "detection_seconds",
			Help:      "Per-event detection latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	insightsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assist_sentinel",
			Name:      "insights_created_total",
			Help:      "Insights promoted from signal records, by detector kind and severity.",
		},
		[]string{"kind", "severity"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assist_sentinel",
			Name:      "notifications_total",
			Help:      "Notification attempts recorded in the ledger, by status.",
		},
		[]string{"status"},
	)

	classifierFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assist_sentinel",
			Name:      "classifier_fallbacks_total",
			Help:      "Oracle calls degraded to the default category or neutral score.",
		},
		[]string{"kind"},
	)

	reportsGeneratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "assist_sentinel",
			Name:      "reports_generated_total",
			Help:      "Digest reports generated.",
		},
	)
)

// Register attaches the sentinel collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		eventsTotal,
		detectionDurationSeconds,
		insightsCreatedTotal,
		notificationsTotal,
		classifierFallbacksTotal,
		reportsGeneratedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveEvent records one event's detection duration and outcome label.
func ObserveEvent(duration time.Duration, outcome string) {
	eventsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	detectionDurationSeconds.Observe(duration.Seconds())
}

// ObserveInsightCreated counts a newly promoted insight.
func ObserveInsightCreated(kind, severity string) {
	insightsCreatedTotal.WithLabelValues(kind, severity).Inc()
}

// ObserveNotification counts a ledger attempt by status.
func ObserveNotification(status string) {
	notificationsTotal.WithLabelValues(status).Inc()
}

// ObserveClassifierFallback counts a degraded oracle call.
func ObserveClassifierFallback(kind string) {
	classifierFallbacksTotal.WithLabelValues(kind).Inc()
}

// ObserveReportGenerated counts a generated digest report.
func ObserveReportGenerated() {
	reportsGeneratedTotal.Inc()
}
