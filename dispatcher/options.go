package dispatcher

import (
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/gaborage/go-dispatch/document"
	"github.com/gaborage/go-dispatch/httpclient"
	"github.com/gaborage/go-dispatch/logger"
)

type options struct {
	logger         logger.Logger
	factory        httpclient.Factory
	tokens         document.TokenSource
	page           *document.Page
	tick           time.Duration
	maxHandles     int
	rateLimit      rate.Limit
	rateBurst      int
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	progress       httpclient.ProgressFunc
	verbose        bool
}

// Option configures a Dispatcher.
type Option func(*options)

// WithLogger sets the logger. Defaults to an info-level logger on stderr.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithTransport sets the factory that allocates transport handles.
func WithTransport(factory httpclient.Factory) Option {
	return func(o *options) {
		o.factory = factory
	}
}

// WithTokenSource sets where the CSRF token is looked up.
func WithTokenSource(src document.TokenSource) Option {
	return func(o *options) {
		o.tokens = src
	}
}

// WithPage attaches the hosting page. Its <base href> becomes the initial
// base, and its csrf-token meta tag or input is used unless WithTokenSource
// is also given.
func WithPage(p *document.Page) Option {
	return func(o *options) {
		o.page = p
	}
}

// WithTickInterval sets the duration of one retry wait unit.
func WithTickInterval(tick time.Duration) Option {
	return func(o *options) {
		o.tick = tick
	}
}

// WithMaxHandles caps the number of transport handles. Zero means unbounded.
func WithMaxHandles(n int) Option {
	return func(o *options) {
		o.maxHandles = n
	}
}

// WithRateLimit throttles request issuance. Requests over the limit are refused.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(o *options) {
		o.rateLimit = limit
		o.rateBurst = burst
	}
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithMeterProvider sets the meter provider. Defaults to the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithProgress observes upload progress of every request body.
func WithProgress(fn httpclient.ProgressFunc) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// WithVerbose enables informational logging from the start.
func WithVerbose(verbose bool) Option {
	return func(o *options) {
		o.verbose = verbose
	}
}
