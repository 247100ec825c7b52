// Package metrics exposes the mapper's prometheus counters and gauges.
// Grounded on Will-Luck-Docker-Sentinel's internal/metrics package: a
// flat var block of promauto collectors plus a promhttp handler wired
// into the HTTP server (here, its own dedicated listener, since the
// mapper has no other HTTP surface).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesConverted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tedge_mapper_c8y_messages_converted_total",
		Help: "Total number of inbound messages routed through the converter, by source topic prefix.",
	}, []string{"topic_prefix"})

	ConversionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tedge_mapper_c8y_conversion_errors_total",
		Help: "Total number of conversion errors, by source topic prefix.",
	}, []string{"topic_prefix"})

	MessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tedge_mapper_c8y_messages_published_total",
		Help: "Total number of messages published back onto the bus.",
	})

	OperationsExecuting = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tedge_mapper_c8y_operations_executing",
		Help: "Number of operations currently in the Executing state (journal non-empty plus in-flight custom operations).",
	})

	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tedge_mapper_c8y_operations_total",
		Help: "Total number of operations reaching a terminal status, by operation code and outcome.",
	}, []string{"code", "outcome"})

	AlarmReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tedge_mapper_c8y_alarm_reconcile_duration_seconds",
		Help:    "Duration of the startup alarm reconciliation sync window.",
		Buckets: prometheus.DefBuckets,
	})

	SoftwareUpdateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tedge_mapper_c8y_software_update_duration_seconds",
		Help:    "Duration from a software update request's Executing status to its terminal status.",
		Buckets: prometheus.DefBuckets,
	})

	InventoryUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tedge_mapper_c8y_inventory_uploads_total",
		Help: "Total number of software inventory uploads to the cloud, by outcome.",
	}, []string{"outcome"})

	JWTTokenErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tedge_mapper_c8y_jwt_token_errors_total",
		Help: "Total number of failures fetching a bearer token for a software module download URL.",
	})
)

// Handler returns the promhttp handler serving the process's registered
// collectors at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ListenAndServe starts a dedicated metrics listener on addr, serving
// only /metrics. It blocks until the listener fails or is closed, in
// the style of Will-Luck-Docker-Sentinel's web.Server.Run.
func ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
