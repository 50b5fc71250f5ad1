package dispatcher

import (
	"context"
	"fmt"
	"maps"
	"strings"
)

// response is the settled exchange shared by every Call of one dispatch.
type response struct {
	ctx     context.Context
	status  int
	body    string
	headers map[string]string
	xml     *XMLNode
	json    any
	url     string
	attempt int
	err     error
}

func (d *Dispatcher) newResponse(h *handle, req *request) *response {
	r := &response{
		ctx:     req.ctx,
		status:  h.ex.Status(),
		body:    h.ex.ResponseText(),
		headers: make(map[string]string),
		url:     req.url,
		attempt: req.attempt,
		err:     h.ex.Err(),
	}
	for name, values := range h.ex.ResponseHeaders() {
		r.headers[name] = strings.Join(values, ", ")
	}

	if v, err := parseJSON(r.body); err == nil {
		r.json = v
	} else {
		d.event(sevInfo, false).Err(err).Msg("response is not json")
	}
	if isXMLContentType(r.headers["Content-Type"]) {
		if node, err := parseXML(r.body); err == nil {
			r.xml = node
		} else {
			d.event(sevWarning, false).Err(err).Msg("unable to parse xml response")
		}
	}
	return r
}

// candidate is an entry captured for one dispatch pass.
type candidate struct {
	id      string
	enabled bool
	when    func() bool
	action  Action
}

func (d *Dispatcher) snapshot(c Category) []candidate {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := d.pools[c].entries
	out := make([]candidate, len(entries))
	for i, e := range entries {
		out[i] = candidate{id: e.id, enabled: e.enabled, when: e.when, action: e.action}
	}
	return out
}

// props merges the current props of entry id with its bindings. The entry
// may have been removed by an earlier callback, in which case only bindings apply.
func (d *Dispatcher) props(c Category, id string) map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, e := d.pools[c].find(id); e != nil {
		return d.mergePropsLocked(c, e)
	}
	return d.mergePropsLocked(c, &entry{id: id})
}

// dispatch runs pool c, then the after-request pool, and records the body
// as the last response.
func (d *Dispatcher) dispatch(c Category, r *response) {
	d.mu.Lock()
	d.lastResponse = r.body
	d.hasResponse = true
	d.mu.Unlock()

	d.event(sevInfo, false).Str("pool", c.String()).Int("status", r.status).Msg("dispatching")
	d.runPool(c, r, false)
	d.runPool(AfterRequest, r, false)
}

// runPool invokes every enabled entry of pool c in registration order. A
// failing entry is routed to the internal-error pool; with stopOnFailure the
// pass ends there. It reports whether every entry succeeded.
func (d *Dispatcher) runPool(c Category, r *response, stopOnFailure bool) bool {
	d.telemetry.recordDispatch(r.ctx, c)
	ok := true
	for _, cand := range d.snapshot(c) {
		if cerr := d.runEntry(c, cand, r, r.err); cerr != nil {
			ok = false
			d.dispatchInternalError(r, cerr)
			if stopOnFailure {
				return false
			}
		}
	}
	return ok
}

// runEntry evaluates enablement and invokes one entry. Errors and panics from
// either the predicate or the action come back as a CallbackError.
func (d *Dispatcher) runEntry(c Category, cand candidate, r *response, cause error) *CallbackError {
	enabled, cerr := d.isEnabled(c, cand)
	if cerr != nil || !enabled {
		return cerr
	}
	call := &Call{
		Category:        c,
		CallbackID:      cand.id,
		Status:          r.status,
		Response:        r.body,
		XMLResponse:     r.xml,
		JSONResponse:    r.json,
		ResponseHeaders: maps.Clone(r.headers),
		URL:             r.url,
		Dispatcher:      d,
		Err:             cause,
		Props:           d.props(c, cand.id),
		Attempt:         r.attempt,
		ctx:             r.ctx,
	}
	return d.invoke(c, cand.id, func() error { return cand.action(call) })
}

func (d *Dispatcher) isEnabled(c Category, cand candidate) (enabled bool, cerr *CallbackError) {
	if cand.when == nil {
		return cand.enabled, nil
	}
	cerr = d.invoke(c, cand.id, func() error {
		enabled = cand.when()
		return nil
	})
	return enabled, cerr
}

func (d *Dispatcher) invoke(c Category, id string, fn func() error) (cerr *CallbackError) {
	defer func() {
		if rec := recover(); rec != nil {
			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("%v", rec)
			}
			cerr = &CallbackError{Category: c, ID: id, Err: err, Panicked: true}
		}
	}()
	if err := fn(); err != nil {
		return &CallbackError{Category: c, ID: id, Err: err}
	}
	return nil
}

// dispatchInternalError hands cause to the internal-error pool. Failures
// inside that pool are logged and go no further.
func (d *Dispatcher) dispatchInternalError(r *response, cause *CallbackError) {
	d.telemetry.recordFailure(r.ctx, cause.Category, cause.Panicked)
	d.event(sevError, true).
		Err(cause.Err).
		Str("pool", cause.Category.String()).
		Str("id", cause.ID).
		Bool("panicked", cause.Panicked).
		Msg("callback failed")

	d.telemetry.recordDispatch(r.ctx, InternalError)
	for _, cand := range d.snapshot(InternalError) {
		if cerr := d.runEntry(InternalError, cand, r, cause); cerr != nil {
			d.telemetry.recordFailure(r.ctx, InternalError, cerr.Panicked)
			d.event(sevError, true).
				Err(cerr.Err).
				Str("pool", InternalError.String()).
				Str("id", cerr.ID).
				Bool("panicked", cerr.Panicked).
				Msg("error callback failed")
		}
	}
}
