package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestRecorders(t *testing.T) {
	before := counterValue(t, cacheHits.WithLabelValues("remote-GPU"))
	RecordCacheHit("remote-GPU")
	assert.Equal(t, before+1, counterValue(t, cacheHits.WithLabelValues("remote-GPU")))

	before = counterValue(t, pagesSplit.WithLabelValues("image"))
	RecordPagesSplit("image", 3)
	assert.Equal(t, before+3, counterValue(t, pagesSplit.WithLabelValues("image")))

	before = counterValue(t, malformedOutputs.WithLabelValues("json"))
	RecordMalformedOutput("json")
	assert.Equal(t, before+1, counterValue(t, malformedOutputs.WithLabelValues("json")))
}

func TestRegistry_Gathers(t *testing.T) {
	RecordInference("hosted-endpoint", "ok", 0.2)
	RecordTableDetected("table")
	RecordExtraction("image_tables", "ok")
	RecordCacheMiss("hosted-endpoint")

	families, err := Registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"vessel_parse_inference_requests_total",
		"vessel_parse_inference_duration_seconds",
		"vessel_parse_tables_detected_total",
		"vessel_parse_extractions_total",
		"vessel_parse_cache_misses_total",
	} {
		assert.True(t, names[want], "missing %s", want)
	}
}
