package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterCounter(t *testing.T) {
	r := NewRegistry()

	c, err := r.RegisterCounter("sift", "test_total", "test counter")
	require.NoError(t, err)
	require.NotNil(t, c)

	c.Add(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(c))

	// Same key fails
	_, err = r.RegisterCounter("sift", "test_total", "test counter")
	assert.Error(t, err)

	// Same name under a different component is fine
	_, err = r.RegisterCounter("dedisperse", "test_total", "test counter")
	assert.NoError(t, err)
}

func TestRegisterVecsAndHistograms(t *testing.T) {
	r := NewRegistry()

	cv, err := r.RegisterCounterVec("actions", "dispatched", "per action", []string{"action"})
	require.NoError(t, err)
	cv.WithLabelValues("stdout").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(cv.WithLabelValues("stdout")))

	g, err := r.RegisterGauge("ingest", "ring_occupancy", "ring fill")
	require.NoError(t, err)
	g.Set(42)
	assert.Equal(t, 42.0, testutil.ToFloat64(g))

	h, err := r.RegisterHistogram("pipeline", "latency_seconds", "latency", nil)
	require.NoError(t, err)
	h.Observe(0.2)

	hv, err := r.RegisterHistogramVec("pipeline", "stage_seconds", "per stage", nil, []string{"stage"})
	require.NoError(t, err)
	hv.WithLabelValues("detrend").Observe(0.01)
}

func TestRegisterMetrics(t *testing.T) {
	r := NewRegistry()
	m := NewMetrics()

	require.NoError(t, r.RegisterMetrics(m))

	m.RecordChunkProduced("sim")
	m.RecordTrigger()
	m.RecordError("vdif-source", "transient")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChunksProduced.WithLabelValues("sim")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TriggersTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("vdif-source", "transient")))

	// Double registration of the shared metrics is rejected
	assert.Error(t, r.RegisterMetrics(m))
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()

	_, err := r.RegisterCounter("sift", "gone_total", "counter")
	require.NoError(t, err)
	assert.Contains(t, r.Registered(), "sift.gone_total")

	assert.True(t, r.Unregister("sift", "gone_total"))
	assert.False(t, r.Unregister("sift", "gone_total"))
	assert.NotContains(t, r.Registered(), "sift.gone_total")

	// Re-registering after unregister works
	_, err = r.RegisterCounter("sift", "gone_total", "counter")
	assert.NoError(t, err)
}
