package dispatcher

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/gaborage/go-dispatch/document"
	"github.com/gaborage/go-dispatch/httpclient"
)

// Send runs the before-send pool and, unless a before-send callback failed or
// the dispatcher is disabled, issues the configured request on a pooled
// transport handle. It returns once the request is in flight; the outcome is
// dispatched from a background goroutine. Use Wait to block until it settles.
//
// ctx bounds the exchange and any retry wait. A cancelled context ends a
// pending retry and dispatches the disconnected pool.
func (d *Dispatcher) Send(ctx context.Context) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	pre := &response{ctx: ctx, url: d.RequestURL()}
	if !d.runPool(BeforeSend, pre, true) {
		d.event(sevWarning, true).Msg("request not sent: a before-send callback failed")
		return false
	}

	d.mu.Lock()
	if !d.enabled {
		d.mu.Unlock()
		d.event(sevInfo, true).Msg("request not sent: dispatcher is disabled")
		return false
	}
	method := d.method
	rawURL := d.requestURLLocked()
	custom := maps.Clone(d.headers)
	params := d.params
	d.mu.Unlock()

	if d.limiter != nil && !d.limiter.Allow() {
		d.event(sevWarning, true).Str("url", rawURL).Msg("request not sent: rate limit exceeded")
		return false
	}

	p, err := encodeParams(method, params, func(name string) {
		d.event(sevWarning, true).Str("param", name).Msg("skipping param with nil value")
	})
	if err != nil {
		d.event(sevError, true).Err(err).Str("method", method).Msg("request not sent: unable to encode params")
		return false
	}

	req := &request{
		ctx:         ctx,
		method:      method,
		url:         rawURL,
		headers:     make(map[string]string, len(custom)+2),
		body:        p.body,
		contentType: p.contentType,
	}
	if p.query != "" {
		req.url += "?" + p.query
	}
	if needsCSRF(method) {
		if token := d.csrfToken(ctx); token != "" {
			req.headers[HeaderCSRFToken] = token
		}
	}
	if p.contentType != "" {
		req.headers["Content-Type"] = p.contentType
	}
	maps.Copy(req.headers, custom)

	d.mu.Lock()
	h, err := d.acquireHandleLocked()
	if err != nil {
		d.mu.Unlock()
		d.event(sevError, true).Err(err).Msg("request not sent")
		return false
	}
	h.req = req
	d.mu.Unlock()

	d.inflight.Add(1)
	if err := d.issue(h, req); err != nil {
		d.event(sevError, true).Err(err).Str("method", method).Str("url", req.url).Msg("request not sent")
		d.settle(h, false)
		return false
	}
	return true
}

func needsCSRF(method string) bool {
	return method == MethodPost || method == MethodPut || method == MethodDelete
}

func (d *Dispatcher) csrfToken(ctx context.Context) string {
	token, err := d.tokens.Token(ctx)
	switch {
	case errors.Is(err, document.ErrNoToken):
		d.event(sevInfo, false).Msg("no csrf token found")
		return ""
	case err != nil:
		d.event(sevWarning, true).Err(err).Msg("unable to look up csrf token")
		return ""
	}
	return token
}

// issue opens h with req and starts the exchange.
func (d *Dispatcher) issue(h *handle, req *request) error {
	if err := h.ex.Open(req.method, req.url); err != nil {
		return err
	}
	for name, value := range req.headers {
		h.ex.SetHeader(name, value)
	}
	req.spanCtx, req.span = d.telemetry.startExchange(req.ctx, req.method, req.url, req.attempt)
	req.started = time.Now()
	h.ex.Send(req.spanCtx, req.body)
	return nil
}

// onStateChange observes every ready-state transition of h and dispatches
// the outcome once the exchange is DONE.
func (d *Dispatcher) onStateChange(h *handle, s httpclient.ReadyState) {
	d.event(sevInfo, false).Str("state", s.String()).Msg("ready state changed")
	if s != httpclient.Done {
		return
	}

	d.mu.Lock()
	req := h.req
	d.mu.Unlock()
	if req == nil || req.span == nil {
		return
	}

	status := h.ex.Status()
	outcome := Classify(s, status)
	d.telemetry.endExchange(req.spanCtx, req.span, req.method, status, outcome, req.started, h.ex.Err())

	switch outcome {
	case OutcomeDisconnected:
		reissued, err := d.retryAfterFailure(h, req)
		if reissued {
			return
		}
		r := d.newResponse(h, req)
		if err != nil {
			r.err = err
		}
		d.dispatch(Disconnected, r)
	case OutcomeRedirect:
		d.event(sevInfo, true).Int("status", status).Str("url", req.url).Msg("redirect response, no callbacks dispatched")
		d.settle(h, false)
		return
	case OutcomeUnknown:
		d.event(sevWarning, true).Int("status", status).Str("url", req.url).Msg("unexpected response status, no callbacks dispatched")
		d.settle(h, false)
		return
	default:
		c, _ := outcome.Category()
		d.dispatch(c, d.newResponse(h, req))
	}
	d.settle(h, true)
}

// settle returns h to the pool and marks its request finished.
func (d *Dispatcher) settle(h *handle, received bool) {
	d.mu.Lock()
	h.releaseLocked(received)
	d.mu.Unlock()
	d.inflight.Done()
}
