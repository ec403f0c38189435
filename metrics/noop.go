package metrics

import (
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-zap/types"
)

// NoopMetrics accepts every observation and keeps local counts so callers
// can still read values back.
type NoopMetrics struct {
	running int32
}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) Start() error {
	atomic.StoreInt32(&n.running, 1)
	return nil
}

func (n *NoopMetrics) Stop() error {
	atomic.StoreInt32(&n.running, 0)
	return nil
}

func (n *NoopMetrics) IsRunning() bool {
	return atomic.LoadInt32(&n.running) == 1
}

func (n *NoopMetrics) Counter(string, map[string]string) types.Counter {
	return &noopValue{}
}

func (n *NoopMetrics) Gauge(string, map[string]string) types.Gauge {
	return &noopValue{}
}

func (n *NoopMetrics) Histogram(string, []float64, map[string]string) types.Histogram {
	return &noopValue{}
}

func (n *NoopMetrics) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

type noopValue struct{}

func (noopValue) Inc()                      {}
func (noopValue) Dec()                      {}
func (noopValue) Add(float64)               {}
func (noopValue) Set(float64)               {}
func (noopValue) Observe(float64)           {}
func (noopValue) ObserveDuration(time.Time) {}
func (noopValue) Get() float64              { return 0 }
func (noopValue) GetCount() uint64          { return 0 }
