package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "sensorgrid_"

	resultSuccess = "success"
	resultError   = "error"
)

// Alert lifecycle event labels. Suppressed counts deliberate dedup no-ops.
const (
	AlertEventCreated      = "created"
	AlertEventAcknowledged = "acknowledged"
	AlertEventResolved     = "resolved"
	AlertEventSuppressed   = "suppressed"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	anomaliesTotal *prometheus.CounterVec

	alertEventsTotal *prometheus.CounterVec

	persistenceErrors *prometheus.CounterVec

	broadcastClients prometheus.Gauge
	broadcastDropped *prometheus.CounterVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
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
			[]string{"result"},
		)

		anomaliesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "anomalies_total",
				Help: "Total statistical anomalies flagged by sensor type",
			},
			[]string{"type"},
		)

		alertEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Total alert lifecycle events by type",
			},
			[]string{"event"},
		)

		persistenceErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "persistence_errors_total",
				Help: "Total best-effort store write failures by store",
			},
			[]string{"store"},
		)

		broadcastClients = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "broadcast_clients",
				Help: "Currently connected realtime subscribers",
			},
		)
		broadcastDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "broadcast_dropped_total",
				Help: "Realtime messages dropped due to slow subscribers",
			},
			[]string{"event"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			anomaliesTotal,
			alertEventsTotal,
			persistenceErrors,
			broadcastClients,
			broadcastDropped,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// IncAnomaly increments the anomaly counter for a sensor type.
func IncAnomaly(sensorType string) {
	if sensorType == "" {
		sensorType = "generic"
	}
	if anomaliesTotal != nil {
		anomaliesTotal.WithLabelValues(sensorType).Inc()
	}
}

// IncAlertEvent increments alert lifecycle counters.
func IncAlertEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if alertEventsTotal != nil {
		alertEventsTotal.WithLabelValues(event).Inc()
	}
}

// IncPersistenceError increments store write failure counters.
func IncPersistenceError(store string) {
	if store == "" {
		store = "unknown"
	}
	if persistenceErrors != nil {
		persistenceErrors.WithLabelValues(store).Inc()
	}
}

// SetBroadcastClients sets the connected subscriber gauge.
func SetBroadcastClients(count int) {
	if broadcastClients != nil {
		broadcastClients.Set(float64(count))
	}
}

// IncBroadcastDropped increments the dropped message counter.
func IncBroadcastDropped(event string) {
	if event == "" {
		event = "unknown"
	}
	if broadcastDropped != nil {
		broadcastDropped.WithLabelValues(event).Inc()
	}
}

// Exported constants for callers.
const (
	IngestResultSuccess = resultSuccess
	IngestResultError   = resultError
)
