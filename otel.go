package avatar

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/avatar"
)

// otelInstrumentation holds OpenTelemetry instrumentation for the avatar service.
type otelInstrumentation struct {
	enabled bool

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool

	// Resolution
	resolveLatency metric.Float64Histogram
	resolveCount   metric.Int64Counter

	// Network probes
	probeLatency metric.Float64Histogram
	probeCount   metric.Int64Counter

	// Availability cache
	cacheHits        metric.Int64Counter
	cacheMisses      metric.Int64Counter
	hostsUnavailable metric.Int64Counter

	// Prefetch
	prefetchBatches metric.Int64Counter
	prefetchKeys    metric.Int64Counter
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if !o.enabled {
		return o, nil
	}

	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error

	o.resolveLatency, err = meter.Float64Histogram(
		"avatar.resolve.duration",
		metric.WithDescription("Duration of avatar resolutions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.resolveCount, err = meter.Int64Counter(
		"avatar.resolve.count",
		metric.WithDescription("Number of avatar resolutions"),
	)
	if err != nil {
		return err
	}

	o.probeLatency, err = meter.Float64Histogram(
		"avatar.probe.duration",
		metric.WithDescription("Duration of avatar URL probes"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.probeCount, err = meter.Int64Counter(
		"avatar.probe.count",
		metric.WithDescription("Number of avatar URL probes"),
	)
	if err != nil {
		return err
	}

	o.cacheHits, err = meter.Int64Counter(
		"avatar.cache.hits",
		metric.WithDescription("Avatar cache hits, by entry kind"),
	)
	if err != nil {
		return err
	}

	o.cacheMisses, err = meter.Int64Counter(
		"avatar.cache.misses",
		metric.WithDescription("Avatar cache misses, by entry kind"),
	)
	if err != nil {
		return err
	}

	o.hostsUnavailable, err = meter.Int64Counter(
		"avatar.host.unavailable",
		metric.WithDescription("Number of times a hostname was marked unavailable"),
	)
	if err != nil {
		return err
	}

	o.prefetchBatches, err = meter.Int64Counter(
		"avatar.prefetch.batches",
		metric.WithDescription("Number of prefetch batches"),
	)
	if err != nil {
		return err
	}

	o.prefetchKeys, err = meter.Int64Counter(
		"avatar.prefetch.keys",
		metric.WithDescription("Number of cache keys requested by prefetch batches"),
	)
	if err != nil {
		return err
	}

	return nil
}

// startSpan starts a new span if tracing is enabled.
// Caller should invoke the returned func with the operation error when done.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// recordResolve records resolution metrics.
func (o *otelInstrumentation) recordResolve(ctx context.Context, mode string, duration time.Duration) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
	)

	o.resolveLatency.Record(ctx, duration.Seconds(), attrs)
	o.resolveCount.Add(ctx, 1, attrs)
}

// recordProbe records probe metrics.
func (o *otelInstrumentation) recordProbe(ctx context.Context, outcome string, duration time.Duration) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
	)

	o.probeLatency.Record(ctx, duration.Seconds(), attrs)
	o.probeCount.Add(ctx, 1, attrs)
}

// recordCacheHit records an availability-cache hit for an entry kind
// ("available" or "image").
func (o *otelInstrumentation) recordCacheHit(ctx context.Context, kind string) {
	if !o.metricsEnabled {
		return
	}
	o.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// recordCacheMiss records an availability-cache miss for an entry kind.
func (o *otelInstrumentation) recordCacheMiss(ctx context.Context, kind string) {
	if !o.metricsEnabled {
		return
	}
	o.cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// recordHostUnavailable records a hostname being marked unavailable.
func (o *otelInstrumentation) recordHostUnavailable(ctx context.Context) {
	if !o.metricsEnabled {
		return
	}
	o.hostsUnavailable.Add(ctx, 1)
}

// recordPrefetch records prefetch batch metrics.
func (o *otelInstrumentation) recordPrefetch(ctx context.Context, keys, hits int) {
	if !o.metricsEnabled {
		return
	}
	o.prefetchBatches.Add(ctx, 1)
	o.prefetchKeys.Add(ctx, int64(keys))
	o.cacheHits.Add(ctx, int64(hits), metric.WithAttributes(attribute.String("kind", "prefetch")))
}
