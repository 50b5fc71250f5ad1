// Package dispatcher issues HTTP requests and dispatches their outcome to
// pools of registered callbacks.
//
// A Dispatcher holds the request configuration (method, URL, base, params,
// headers), one callback pool per Category, binding rules, a counted retry
// policy for transport failures and a pool of reusable transport handles.
// Each request settles on its own goroutine; callbacks run there, without any
// dispatcher lock held, so they may call back into the Dispatcher freely.
package dispatcher

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"regexp"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/gaborage/go-dispatch/document"
	"github.com/gaborage/go-dispatch/httpclient"
	"github.com/gaborage/go-dispatch/logger"
)

// Supported request methods.
const (
	MethodGet     = "GET"
	MethodPost    = "POST"
	MethodPut     = "PUT"
	MethodDelete  = "DELETE"
	MethodHead    = "HEAD"
	MethodOptions = "OPTIONS"
)

// HeaderCSRFToken carries the anti-forgery token on POST, PUT and DELETE.
const HeaderCSRFToken = "X-CSRF-TOKEN"

const (
	defaultRetryTimes = 3
	defaultRetryWait  = 5
	defaultTick       = time.Second
)

var supportedMethods = []string{MethodGet, MethodPost, MethodPut, MethodDelete, MethodHead, MethodOptions}

// baseURLPattern accepts an optional http(s) scheme, a domain or IPv4
// address, an optional port, a path, a query and a fragment.
var baseURLPattern = regexp.MustCompile(`(?i)^(https?://)?` +
	`((([a-z\d]([a-z\d-]*[a-z\d])*)\.)+[a-z]{2,}|` +
	`((\d{1,3}\.){3}\d{1,3}))` +
	`(:\d+)?(/[-a-z\d%_.=~+!]*)*` +
	`(\?[;&a-z\d%_.~+=/-]*)?` +
	`(#[-a-z\d_]*)?$`)

// Dispatcher issues requests and dispatches their outcomes. The zero value is
// not usable; create one with New or NewFromConfig.
type Dispatcher struct {
	mu sync.Mutex

	method  string
	url     string
	base    string
	params  Params
	headers map[string]string
	enabled bool
	verbose atomic.Bool

	pools    [numCategories]*pool
	bindings []*binding
	retry    retryPolicy
	tick     time.Duration

	handles    []*handle
	maxHandles int
	factory    httpclient.Factory
	tokens     document.TokenSource
	limiter    *rate.Limiter
	progress   httpclient.ProgressFunc

	lastResponse string
	hasResponse  bool

	logger    logger.Logger
	nop       logger.Logger
	telemetry *telemetry
	inflight  sync.WaitGroup
}

// New creates a Dispatcher with method GET, retry policy 3 times every 5
// ticks of one second, and a net/http transport.
func New(opts ...Option) *Dispatcher {
	o := options{
		tick: defaultTick,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.NewWithWriter(os.Stderr, "info", false)
	}
	if o.factory == nil {
		o.factory = httpclient.NewBuilder(o.logger).Build().Factory()
	}
	if o.tokens == nil {
		o.tokens = document.NewTokenFinder("", o.page)
	}
	if o.tick <= 0 {
		o.tick = defaultTick
	}

	d := &Dispatcher{
		method:     MethodGet,
		headers:    make(map[string]string),
		enabled:    true,
		retry:      retryPolicy{times: defaultRetryTimes, wait: defaultRetryWait},
		tick:       o.tick,
		maxHandles: o.maxHandles,
		factory:    o.factory,
		tokens:     o.tokens,
		progress:   o.progress,
		logger:     o.logger,
		nop:        logger.NewNop(),
		telemetry:  newTelemetry(o.tracerProvider, o.meterProvider),
	}
	d.verbose.Store(o.verbose)
	for c := range numCategories {
		d.pools[c] = newPool(c)
	}
	if o.rateLimit > 0 {
		burst := o.rateBurst
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(o.rateLimit, burst)
	}

	if href, ok := o.page.BaseHref(); ok && href != "" {
		if err := d.SetBase(href); err != nil {
			d.event(sevWarning, true).Err(err).Msg("ignoring <base href> of hosting page")
		}
	}
	d.event(sevInfo, false).Msg("verbose mode is enabled")
	return d
}

// SetMethod sets the request method. Input is upper-cased; an empty or
// unsupported method falls back to GET with a warning.
func (d *Dispatcher) SetMethod(method string) {
	m := strings.ToUpper(strings.TrimSpace(method))
	if !slices.Contains(supportedMethods, m) {
		d.event(sevWarning, true).Str("method", method).Msg("unsupported request method, using GET")
		m = MethodGet
	}
	d.mu.Lock()
	d.method = m
	d.mu.Unlock()
	d.event(sevInfo, false).Str("method", m).Msg("request method set")
}

// Method returns the request method.
func (d *Dispatcher) Method() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.method
}

// SetURL sets the request URL. Leading slashes are removed so the URL joins
// cleanly onto the base.
func (d *Dispatcher) SetURL(u string) {
	u = strings.TrimLeft(u, "/")
	d.mu.Lock()
	d.url = u
	d.mu.Unlock()
	d.event(sevInfo, false).Str("url", u).Msg("request url set")
}

// URL returns the request URL as set.
func (d *Dispatcher) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// SetBase sets the base URL. Surrounding whitespace and trailing slashes are
// removed; an empty value clears the base. A value that does not look like a
// URL is rejected and the previous base is kept.
func (d *Dispatcher) SetBase(base string) error {
	base = strings.TrimSpace(base)
	if base != "" && !baseURLPattern.MatchString(base) {
		d.event(sevWarning, false).Str("base", base).Msg("base not updated")
		return fmt.Errorf("%w: %q", ErrInvalidBase, base)
	}
	base = strings.TrimRight(base, "/")

	d.mu.Lock()
	d.base = base
	d.mu.Unlock()
	d.event(sevInfo, false).Str("base", base).Msg("base set")
	return nil
}

// Base returns the base URL, or "" when unset.
func (d *Dispatcher) Base() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.base
}

// RequestURL returns the URL a request is sent to: the URL alone when no base
// is set or the URL already starts with the base, base + "/" + URL otherwise.
func (d *Dispatcher) RequestURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requestURLLocked()
}

func (d *Dispatcher) requestURLLocked() string {
	if d.base == "" || strings.HasPrefix(d.url, d.base) {
		return d.url
	}
	return d.base + "/" + d.url
}

// SetParams sets the request payload. Nil is rejected.
func (d *Dispatcher) SetParams(p Params) error {
	if isNil(p) {
		d.event(sevWarning, false).Msg("cannot set params to nil")
		return ErrNilParams
	}
	d.mu.Lock()
	d.params = p
	d.mu.Unlock()
	d.event(sevInfo, false).Msg("params updated")
	return nil
}

// Params returns the request payload.
func (d *Dispatcher) Params() Params {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params
}

// AddHeader sets a header sent with every request. The name is trimmed and
// must not be empty.
func (d *Dispatcher) AddHeader(name, value string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		d.event(sevWarning, false).Msg("invalid header name")
		return ErrInvalidHeader
	}
	d.mu.Lock()
	d.headers[name] = value
	d.mu.Unlock()
	d.event(sevInfo, false).Str("header", name).Msg("header added")
	return nil
}

// Headers returns a copy of the custom headers.
func (d *Dispatcher) Headers() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.headers)
}

// SetEnabled turns request issuance on or off.
func (d *Dispatcher) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
	d.event(sevInfo, false).Bool("enabled", enabled).Msg("dispatcher enablement changed")
}

// Enabled reports whether requests may be issued.
func (d *Dispatcher) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// SetVerbose controls whether informational messages are logged.
// Warnings about rejected input and failures are always logged.
func (d *Dispatcher) SetVerbose(verbose bool) {
	d.verbose.Store(verbose)
}

// Verbose reports whether informational messages are logged.
func (d *Dispatcher) Verbose() bool {
	return d.verbose.Load()
}

// LastResponse returns the body of the most recently dispatched response.
func (d *Dispatcher) LastResponse() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastResponse, d.hasResponse
}

// ResponseAsJSON decodes the most recently dispatched response body.
func (d *Dispatcher) ResponseAsJSON() (any, error) {
	body, ok := d.LastResponse()
	if !ok {
		return nil, errors.New("no response received yet")
	}
	v, err := parseJSON(body)
	if err != nil {
		d.event(sevWarning, true).Err(err).Msg("unable to decode response as json")
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return v, nil
}

// Wait blocks until every outstanding request, including pending retries,
// has settled and dispatched.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}
