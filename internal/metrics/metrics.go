// Package metrics holds the Prometheus collectors for vessel-parse.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is served by the ops server. It is separate from the default
// registry so embedding programs do not collide with our collectors.
var Registry = prometheus.NewRegistry()

var (
	inferenceRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vessel",
			Subsystem: "parse",
			Name:      "inference_requests_total",
			Help:      "The total number of backend inference calls.",
		},
		[]string{"method", "status"},
	)
	inferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vessel",
			Subsystem: "parse",
			Name:      "inference_duration_seconds",
			Help:      "Time taken by one backend inference batch.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method"},
	)
	malformedOutputs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vessel",
			Subsystem: "parse",
			Name:      "malformed_outputs_total",
			Help:      "Units whose model output was not valid JSON or failed the schema.",
		},
		[]string{"reason"}, // json, schema
	)
	tablesDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vessel",
			Subsystem: "parse",
			Name:      "tables_detected_total",
			Help:      "Table regions kept after threshold filtering.",
		},
		[]string{"label"},
	)
	pagesSplit = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vessel",
			Subsystem: "parse",
			Name:      "pages_split_total",
			Help:      "Pages produced by the page splitter.",
		},
		[]string{"artifact"}, // pdf, image
	)
	extractions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vessel",
			Subsystem: "parse",
			Name:      "extractions_total",
			Help:      "Extraction requests by path and outcome.",
		},
		[]string{"path", "status"},
	)
	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vessel",
			Subsystem: "parse",
			Name:      "cache_hits_total",
			Help:      "Total number of inference cache hits.",
		},
		[]string{"method"},
	)
	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vessel",
			Subsystem: "parse",
			Name:      "cache_misses_total",
			Help:      "Total number of inference cache misses.",
		},
		[]string{"method"},
	)
)

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	Registry.MustRegister(inferenceRequests)
	Registry.MustRegister(inferenceDuration)
	Registry.MustRegister(malformedOutputs)
	Registry.MustRegister(tablesDetected)
	Registry.MustRegister(pagesSplit)
	Registry.MustRegister(extractions)
	Registry.MustRegister(cacheHits)
	Registry.MustRegister(cacheMisses)
}

// RecordInference records one backend batch.
func RecordInference(method, status string, seconds float64) {
	inferenceRequests.WithLabelValues(method, status).Inc()
	inferenceDuration.WithLabelValues(method).Observe(seconds)
}

func RecordMalformedOutput(reason string) {
	malformedOutputs.WithLabelValues(reason).Inc()
}

func RecordTableDetected(label string) {
	tablesDetected.WithLabelValues(label).Inc()
}

func RecordPagesSplit(artifact string, count int) {
	pagesSplit.WithLabelValues(artifact).Add(float64(count))
}

func RecordExtraction(path, status string) {
	extractions.WithLabelValues(path, status).Inc()
}

func RecordCacheHit(method string) {
	cacheHits.WithLabelValues(method).Inc()
}

func RecordCacheMiss(method string) {
	cacheMisses.WithLabelValues(method).Inc()
}
