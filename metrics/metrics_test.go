package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-zap/logger"
	"github.com/saiset-co/sai-zap/types"
)

func TestDisabledIsNoop(t *testing.T) {
	m, err := NewManager(&types.MetricsConfig{Enabled: false}, logger.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &NoopMetrics{}, m)

	m.Counter("x", nil).Inc()
	assert.Zero(t, m.Counter("x", nil).Get())
}

func TestUnknownType(t *testing.T) {
	_, err := NewManager(&types.MetricsConfig{Enabled: true, Type: "statsd"}, logger.NewNop())
	require.ErrorIs(t, err, types.ErrMetricsTypeUnknown)
}

func TestPrometheusCountersAndHandler(t *testing.T) {
	m, err := NewManager(&types.MetricsConfig{Enabled: true, Type: "prometheus", Namespace: "test"}, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	labels := map[string]string{"trigger": "request"}
	m.Counter("invocations_total", labels).Inc()
	m.Counter("invocations_total", labels).Add(2)
	assert.Equal(t, float64(3), m.Counter("invocations_total", labels).Get())

	h := m.Histogram("duration_seconds", []float64{0.1, 1}, labels)
	h.ObserveDuration(time.Now())
	assert.Equal(t, uint64(1), h.GetCount())

	g := m.Gauge("active", nil)
	g.Inc()
	g.Inc()
	g.Dec()
	assert.Equal(t, float64(1), g.Get())

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/metrics")
	m.Handler()(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), `test_invocations_total{trigger="request"} 3`)
}

func TestMemorySnapshot(t *testing.T) {
	m, err := NewManager(&types.MetricsConfig{Enabled: true, Type: "memory"}, logger.NewNop())
	require.NoError(t, err)

	mem, ok := m.(*MemoryMetrics)
	require.True(t, ok)

	m.Counter("invocations_total", map[string]string{"outcome": "ok", "trigger": "request"}).Add(2)
	m.Counter("invocations_total", map[string]string{"trigger": "request", "outcome": "ok"}).Inc()
	m.Gauge("active", nil).Set(4)
	h := m.Histogram("duration_seconds", []float64{1}, nil)
	h.Observe(0.5)
	h.Observe(2)

	snapshot := mem.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, MetricValue{Name: "active", Type: "gauge", Value: 4}, snapshot[0])
	assert.Equal(t, "duration_seconds", snapshot[1].Name)
	assert.Equal(t, uint64(2), snapshot[1].Count)
	assert.InDelta(t, 2.5, snapshot[1].Value, 1e-9)
	assert.Equal(t, float64(3), snapshot[2].Value)

	ctx := &fasthttp.RequestCtx{}
	m.Handler()(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "application/json", string(ctx.Response.Header.ContentType()))
	assert.Contains(t, string(ctx.Response.Body()), `"name":"invocations_total"`)
}
