package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/go-dispatch/httpclient"
)

// handle is one pooled transport exchange. It is active from issuance until
// its DONE dispatch has completed.
type handle struct {
	ex       httpclient.Exchange
	active   bool
	received bool
	req      *request
}

// request is one issued exchange, kept across retries of the same handle.
type request struct {
	ctx         context.Context
	method      string
	url         string
	headers     map[string]string
	body        []byte
	contentType string
	attempt     int

	spanCtx context.Context
	span    trace.Span
	started time.Time
}

// HandleStats describes the transport handle pool.
type HandleStats struct {
	Total    int
	Active   int
	Received int
}

// acquireHandleLocked claims the first inactive handle or allocates a new one.
// The caller holds d.mu.
func (d *Dispatcher) acquireHandleLocked() (*handle, error) {
	for _, h := range d.handles {
		if !h.active {
			h.active = true
			h.received = false
			return h, nil
		}
	}
	if d.maxHandles > 0 && len(d.handles) >= d.maxHandles {
		return nil, fmt.Errorf("%w: %d in flight", ErrNoHandle, len(d.handles))
	}

	ex, err := d.factory()
	if err != nil {
		return nil, fmt.Errorf("allocate transport handle: %w", err)
	}
	h := &handle{ex: ex, active: true}
	ex.OnStateChange(func(s httpclient.ReadyState) {
		d.onStateChange(h, s)
	})
	if d.progress != nil {
		ex.OnUploadProgress(d.progress)
	}
	d.handles = append(d.handles, h)
	return h, nil
}

// releaseLocked returns h to the pool. The caller holds d.mu.
func (h *handle) releaseLocked(received bool) {
	h.active = false
	h.received = received
	h.req = nil
}

// Handles reports how many transport handles exist and how many are in use.
func (d *Dispatcher) Handles() HandleStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := HandleStats{Total: len(d.handles)}
	for _, h := range d.handles {
		if h.active {
			s.Active++
		}
		if h.received {
			s.Received++
		}
	}
	return s
}
