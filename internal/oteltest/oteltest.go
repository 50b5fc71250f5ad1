// Package oteltest captures spans and metrics in memory so tests can assert
// on the dispatcher's instrumentation without an external collector.
//
//	tp := oteltest.NewTraceProvider(t)
//	mp := oteltest.NewMeterProvider(t)
//	d := dispatcher.New(dispatcher.WithTracerProvider(tp), dispatcher.WithMeterProvider(mp))
//	...
//	oteltest.Spans(t, tp).WithName("dispatcher.exchange").AssertCount(1)
//	assert.Equal(t, int64(2), oteltest.Sum(t, mp.Collect(t), "dispatcher.dispatches"))
package oteltest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const metricNotFoundErrMsg = "metric %s not found"

// TraceProvider is an SDK TracerProvider exporting synchronously to memory.
type TraceProvider struct {
	*sdktrace.TracerProvider
	Exporter *tracetest.InMemoryExporter
}

// NewTraceProvider creates a TraceProvider that is shut down with the test.
func NewTraceProvider(t *testing.T) *TraceProvider {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := &TraceProvider{
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter)),
		Exporter:       exporter,
	}
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp
}

// MeterProvider is an SDK MeterProvider read on demand.
type MeterProvider struct {
	*sdkmetric.MeterProvider
	Reader *sdkmetric.ManualReader
}

// NewMeterProvider creates a MeterProvider that is shut down with the test.
func NewMeterProvider(t *testing.T) *MeterProvider {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := &MeterProvider{
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		Reader:        reader,
	}
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return mp
}

// Collect reads every metric recorded so far.
func (mp *MeterProvider) Collect(t *testing.T) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, mp.Reader.Collect(context.Background(), &rm), "failed to collect metrics")
	return rm
}

// SpanCollector filters captured spans.
type SpanCollector struct {
	t     *testing.T
	spans tracetest.SpanStubs
}

// Spans returns every span ended so far.
func Spans(t *testing.T, tp *TraceProvider) *SpanCollector {
	t.Helper()
	return &SpanCollector{t: t, spans: tp.Exporter.GetSpans()}
}

// Len returns the number of collected spans.
func (sc *SpanCollector) Len() int {
	return len(sc.spans)
}

// WithName keeps spans named name.
func (sc *SpanCollector) WithName(name string) *SpanCollector {
	out := make(tracetest.SpanStubs, 0, len(sc.spans))
	for i := range sc.spans {
		if sc.spans[i].Name == name {
			out = append(out, sc.spans[i])
		}
	}
	return &SpanCollector{t: sc.t, spans: out}
}

// WithAttribute keeps spans carrying key with value.
func (sc *SpanCollector) WithAttribute(key string, value any) *SpanCollector {
	out := make(tracetest.SpanStubs, 0, len(sc.spans))
	for i := range sc.spans {
		if hasAttribute(sc.spans[i].Attributes, key, value) {
			out = append(out, sc.spans[i])
		}
	}
	return &SpanCollector{t: sc.t, spans: out}
}

// AssertCount asserts the number of collected spans.
func (sc *SpanCollector) AssertCount(expected int) *SpanCollector {
	sc.t.Helper()
	assert.Len(sc.t, sc.spans, expected, "unexpected number of spans")
	return sc
}

// First returns the first collected span, failing the test when there is none.
func (sc *SpanCollector) First() tracetest.SpanStub {
	sc.t.Helper()
	require.NotEmpty(sc.t, sc.spans, "no spans in collection")
	return sc.spans[0]
}

// AssertAttribute asserts that span carries key with value.
func AssertAttribute(t *testing.T, span tracetest.SpanStub, key string, value any) {
	t.Helper()
	for _, kv := range span.Attributes {
		if string(kv.Key) == key {
			assert.True(t, matchesValue(kv.Value, value), "attribute %s is %v, want %v", key, kv.Value.AsInterface(), value)
			return
		}
	}
	t.Errorf("attribute %s not found in span %s", key, span.Name)
}

func hasAttribute(attrs []attribute.KeyValue, key string, value any) bool {
	for _, kv := range attrs {
		if string(kv.Key) == key && matchesValue(kv.Value, value) {
			return true
		}
	}
	return false
}

func matchesValue(v attribute.Value, expected any) bool {
	switch e := expected.(type) {
	case string:
		return v.AsString() == e
	case int:
		return v.AsInt64() == int64(e)
	case int64:
		return v.AsInt64() == e
	case float64:
		return v.AsFloat64() == e
	case bool:
		return v.AsBool() == e
	default:
		return false
	}
}

// FindMetric returns the metric named name, or nil.
func FindMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// Sum adds up every data point of the int64 counter name whose attributes
// include all of the given key/value pairs.
func Sum(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	m := FindMetric(rm, name)
	require.NotNil(t, m, metricNotFoundErrMsg, name)
	data, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", name)

	var total int64
	for _, dp := range data.DataPoints {
		if hasAll(dp.Attributes, attrs) {
			total += dp.Value
		}
	}
	return total
}

// HistogramCount returns the number of observations of the float64 histogram name.
func HistogramCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	m := FindMetric(rm, name)
	require.NotNil(t, m, metricNotFoundErrMsg, name)
	data, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok, "metric %s is not a float64 histogram", name)

	var n uint64
	for _, dp := range data.DataPoints {
		n += dp.Count
	}
	return n
}

func hasAll(set attribute.Set, want []attribute.KeyValue) bool {
	for _, kv := range want {
		v, ok := set.Value(kv.Key)
		if !ok || v != kv.Value {
			return false
		}
	}
	return true
}
