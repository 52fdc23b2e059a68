package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const storeScopeName = "github.com/sile/mlmd-go/store"

// Ops instruments store operations with OTel spans and mlmd.store.*
// metrics. A nil *Ops is valid and records nothing, so callers never need
// an enabled check of their own.
type Ops struct {
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// NewOps returns an Ops for the store scope, or nil when telemetry is
// disabled.
func NewOps() *Ops {
	if !Enabled() {
		return nil
	}
	m := Meter(storeScopeName)
	ops, _ := m.Int64Counter("mlmd.store.operations",
		metric.WithDescription("Total store operations executed"),
	)
	dur, _ := m.Float64Histogram("mlmd.store.operation.duration",
		metric.WithDescription("Store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("mlmd.store.errors",
		metric.WithDescription("Total store operation errors"),
	)
	return &Ops{
		tracer: Tracer(storeScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

// Start opens a span for the named operation and returns a completion
// callback that records duration and the outcome error.
func (o *Ops) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if o == nil {
		return ctx, func(error) {}
	}
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := o.tracer.Start(ctx, "store."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	o.ops.Add(ctx, 1, metric.WithAttributes(all...))
	start := time.Now()
	return ctx, func(err error) {
		ms := float64(time.Since(start).Milliseconds())
		o.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
		}
		span.End()
	}
}
