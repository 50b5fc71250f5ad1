package dispatcher

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/gaborage/go-dispatch/dispatcher"

	spanExchange = "dispatcher.exchange"

	metricExchangeDuration = "dispatcher.exchange.duration" // Histogram in seconds
	metricDispatches       = "dispatcher.dispatches"        // Counter, one per pool dispatch
	metricCallbackFailures = "dispatcher.callback.failures" // Counter
	metricRetries          = "dispatcher.retries"           // Counter, one per reissue

	attrMethod   = "http.request.method"
	attrURL      = "url.full"
	attrStatus   = "http.response.status_code"
	attrOutcome  = "dispatcher.outcome"
	attrAttempt  = "dispatcher.attempt"
	attrPool     = "dispatcher.pool"
	attrPanicked = "dispatcher.panicked"
)

// telemetry holds the tracer and instruments of one Dispatcher.
type telemetry struct {
	tracer   trace.Tracer
	duration metric.Float64Histogram
	dispatch metric.Int64Counter
	failures metric.Int64Counter
	retries  metric.Int64Counter
}

func logMetricError(name string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: Failed to initialize dispatcher metric %s: %v\n", name, err)
	}
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) *telemetry {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	t := &telemetry{tracer: tp.Tracer(instrumentationName)}

	var err error
	t.duration, err = meter.Float64Histogram(
		metricExchangeDuration,
		metric.WithDescription("Duration of request exchanges until DONE"),
		metric.WithUnit("s"),
	)
	logMetricError(metricExchangeDuration, err)

	t.dispatch, err = meter.Int64Counter(
		metricDispatches,
		metric.WithDescription("Number of callback pool dispatches"),
		metric.WithUnit("{dispatch}"),
	)
	logMetricError(metricDispatches, err)

	t.failures, err = meter.Int64Counter(
		metricCallbackFailures,
		metric.WithDescription("Number of callbacks that returned an error or panicked"),
		metric.WithUnit("{failure}"),
	)
	logMetricError(metricCallbackFailures, err)

	t.retries, err = meter.Int64Counter(
		metricRetries,
		metric.WithDescription("Number of requests reissued after a transport failure"),
		metric.WithUnit("{retry}"),
	)
	logMetricError(metricRetries, err)

	return t
}

func (t *telemetry) startExchange(ctx context.Context, method, rawURL string, attempt int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanExchange,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(attrMethod, method),
			attribute.String(attrURL, rawURL),
			attribute.Int(attrAttempt, attempt),
		),
	)
}

func (t *telemetry) endExchange(ctx context.Context, span trace.Span, method string, status int, outcome Outcome, started time.Time, err error) {
	span.SetAttributes(
		attribute.Int(attrStatus, status),
		attribute.String(attrOutcome, outcome.String()),
	)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case outcome == OutcomeDisconnected || outcome == OutcomeServerError:
		span.SetStatus(codes.Error, outcome.String())
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	if t.duration != nil {
		t.duration.Record(ctx, time.Since(started).Seconds(), metric.WithAttributes(
			attribute.String(attrMethod, method),
			attribute.String(attrOutcome, outcome.String()),
		))
	}
}

func (t *telemetry) recordDispatch(ctx context.Context, c Category) {
	if t.dispatch != nil {
		t.dispatch.Add(ctx, 1, metric.WithAttributes(attribute.String(attrPool, c.String())))
	}
}

func (t *telemetry) recordFailure(ctx context.Context, c Category, panicked bool) {
	if t.failures != nil {
		t.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrPool, c.String()),
			attribute.Bool(attrPanicked, panicked),
		))
	}
}

func (t *telemetry) recordRetry(ctx context.Context, method string) {
	if t.retries != nil {
		t.retries.Add(ctx, 1, metric.WithAttributes(attribute.String(attrMethod, method)))
	}
}
