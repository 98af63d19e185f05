package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "pumpwatch_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	incidentOutcomes    *prometheus.CounterVec
	incidentEventsTotal *prometheus.CounterVec
	invariantViolations prometheus.Counter

	notifyDeliveries *prometheus.CounterVec

	retentionDeleted prometheus.Counter

	stalenessChecks *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by endpoint and result",
			},
			[]string{"endpoint", "result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "result"},
		)

		incidentOutcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "incident_submit_outcomes_total",
				Help: "Total incident submit outcomes by kind",
			},
			[]string{"kind"},
		)
		incidentEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "incident_events_total",
				Help: "Total incident lifecycle events by type",
			},
			[]string{"event"},
		)
		invariantViolations = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "incident_invariant_violations_total",
				Help: "Times storage held more than one open incident for a key",
			},
		)

		notifyDeliveries = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notify_deliveries_total",
				Help: "Total notification deliveries by channel and result",
			},
			[]string{"channel", "result"},
		)

		retentionDeleted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "retention_deleted_total",
				Help: "Inactive incidents removed by the retention janitor",
			},
		)

		stalenessChecks = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "staleness_checks_total",
				Help: "Missing-data checks by result (fresh, stale, error)",
			},
			[]string{"result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "incident_export_total",
				Help: "Total incident report exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "incident_export_latency_seconds",
				Help:    "Incident report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			incidentOutcomes,
			incidentEventsTotal,
			invariantViolations,
			notifyDeliveries,
			retentionDeleted,
			stalenessChecks,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(endpoint, result string, duration time.Duration) {
	if endpoint == "" {
		endpoint = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(endpoint, result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(endpoint, result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter by reason.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// IncIncidentOutcome increments the submit outcome counter.
func IncIncidentOutcome(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if incidentOutcomes != nil {
		incidentOutcomes.WithLabelValues(kind).Inc()
	}
}

// IncIncidentEvent increments incident lifecycle counters.
func IncIncidentEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if incidentEventsTotal != nil {
		incidentEventsTotal.WithLabelValues(event).Inc()
	}
}

// IncIncidentInvariantViolation counts a multi-open-incident observation.
func IncIncidentInvariantViolation() {
	if invariantViolations != nil {
		invariantViolations.Inc()
	}
}

// IncNotifyDelivery counts a notification delivery attempt.
func IncNotifyDelivery(channel, result string) {
	if channel == "" {
		channel = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if notifyDeliveries != nil {
		notifyDeliveries.WithLabelValues(channel, result).Inc()
	}
}

// AddRetentionDeleted counts incidents removed by retention.
func AddRetentionDeleted(count int64) {
	if count <= 0 {
		return
	}
	if retentionDeleted != nil {
		retentionDeleted.Add(float64(count))
	}
}

// IncStalenessCheck counts one missing-data check result.
func IncStalenessCheck(result string) {
	if result == "" {
		result = "unknown"
	}
	if stalenessChecks != nil {
		stalenessChecks.WithLabelValues(result).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
