package dispatcher

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-zap/sandbox"
	"github.com/saiset-co/sai-zap/types"
	"github.com/saiset-co/sai-zap/utils"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// stackLogger is implemented by loggers that can attach the stack recorded
// on a failed invocation.
type stackLogger interface {
	ErrorWithErrStack(msg string, err error, fields ...zap.Field)
}

// Dispatcher turns request and scheduled triggers into handler invocations.
type Dispatcher struct {
	sources   types.SourceLoader
	evaluator *sandbox.Evaluator
	logger    types.Logger
	metrics   types.MetricsManager
}

func New(sources types.SourceLoader, evaluator *sandbox.Evaluator, logger types.Logger, metrics types.MetricsManager) *Dispatcher {
	return &Dispatcher{
		sources:   sources,
		evaluator: evaluator,
		logger:    logger,
		metrics:   metrics,
	}
}

// HandleRequest runs the handler named by the request path. Faults never
// escape: a missing handler is a 404 and anything else a 500 carrying the
// fault message.
func (d *Dispatcher) HandleRequest(ctx context.Context, req *types.Request) *types.Result {
	start := time.Now()
	name := utils.HandlerName(req.Path)

	var resp *types.Response
	err := d.invoke(ctx, name, func(ctx context.Context, inst *sandbox.Instance) error {
		var err error
		resp, err = inst.Invoke(ctx, req)
		return err
	})

	var result *types.Result
	if err == nil {
		result, err = buildResult(name, resp)
	}

	if err != nil {
		result = errorResult(req.Path, err)
	}

	fields := []zap.Field{
		zap.String("trigger", string(types.TriggerRequest)),
		zap.String("handler", name),
		zap.String("method", req.Method),
		zap.Int("status", result.Status),
		zap.Duration("duration", time.Since(start)),
	}
	d.finish(types.TriggerRequest, start, err, fields)

	return result
}

// HandleScheduled runs the handler with no arguments and discards the result.
// Failures are logged and swallowed.
func (d *Dispatcher) HandleScheduled(ctx context.Context, name string) {
	start := time.Now()

	err := d.invoke(ctx, name, func(ctx context.Context, inst *sandbox.Instance) error {
		return inst.Run(ctx)
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}

	fields := []zap.Field{
		zap.String("trigger", string(types.TriggerScheduled)),
		zap.String("handler", name),
		zap.String("outcome", outcome),
		zap.Duration("duration", time.Since(start)),
	}
	d.finish(types.TriggerScheduled, start, err, fields)
}

func (d *Dispatcher) invoke(ctx context.Context, name string, run func(context.Context, *sandbox.Instance) error) (err error) {
	defer func() {
		if err != nil {
			err = errors.WithStack(err)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.evaluator.Timeout())
	defer cancel()

	source, err := d.sources.Load(ctx, name)
	if err != nil {
		return err
	}

	inst, err := d.evaluator.Evaluate(ctx, name, source)
	if err != nil {
		return err
	}
	defer inst.Close()

	return run(ctx, inst)
}

func (d *Dispatcher) finish(trigger types.TriggerKind, start time.Time, err error, fields []zap.Field) {
	outcome := "ok"
	if err != nil {
		outcome = types.KindOf(err).String()
		fields = append(fields, zap.String("kind", outcome))
		if sl, ok := d.logger.(stackLogger); ok {
			sl.ErrorWithErrStack("Invocation failed", err, fields...)
		} else {
			d.logger.Error("Invocation failed", append(fields, zap.String("error", err.Error()))...)
		}
	} else {
		d.logger.Info("Invocation completed", fields...)
	}

	if d.metrics == nil {
		return
	}

	d.metrics.Counter("invocations_total", map[string]string{
		"trigger": string(trigger),
		"outcome": outcome,
	}).Inc()
	d.metrics.Histogram("invocation_duration_seconds", durationBuckets, map[string]string{
		"trigger": string(trigger),
	}).ObserveDuration(start)
}

func buildResult(name string, resp *types.Response) (*types.Result, error) {
	result := &types.Result{
		Status:  resp.Status,
		Headers: resp.Headers,
	}

	if result.Status == 0 {
		result.Status = 200
	}

	switch body := resp.Body.(type) {
	case nil:
	case string:
		result.Body = body
	case json.RawMessage:
		result.Body = string(body)
		setDefaultHeader(result, "content-type", "application/json")
	default:
		encoded, err := utils.Marshal(body)
		if err != nil {
			return nil, types.NewHandlerFault(name, "failed to encode response body: "+err.Error(), err)
		}
		result.Body = string(encoded)
		setDefaultHeader(result, "content-type", "application/json")
	}

	return result, nil
}

func errorResult(path string, err error) *types.Result {
	if types.KindOf(err) == types.FaultNotFound {
		return &types.Result{Status: 404, Body: "No handler for " + path}
	}

	return &types.Result{Status: 500, Body: err.Error()}
}

func setDefaultHeader(result *types.Result, key, value string) {
	for name := range result.Headers {
		if strings.EqualFold(name, key) {
			return
		}
	}

	if result.Headers == nil {
		result.Headers = make(map[string]string)
	}
	result.Headers[key] = value
}
