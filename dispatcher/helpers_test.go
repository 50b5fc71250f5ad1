package dispatcher

import (
	"bytes"
	"context"
	nethttp "net/http"
	"sync"
	"testing"
	"time"

	"github.com/gaborage/go-dispatch/httpclient"
	"github.com/gaborage/go-dispatch/logger"
)

// scripted is one canned exchange result.
type scripted struct {
	status int
	body   string
	header nethttp.Header
	err    error
}

// sentRequest records what a fakeExchange was asked to send.
type sentRequest struct {
	method  string
	url     string
	headers nethttp.Header
	body    []byte
	ctx     context.Context
}

// fakeTransport hands out fakeExchanges that answer from a script. The last
// scripted result repeats once the script is exhausted.
type fakeTransport struct {
	mu       sync.Mutex
	script   []scripted
	sent     []sentRequest
	created  int
	hold     chan struct{}
	allocErr error
}

func newFakeTransport(script ...scripted) *fakeTransport {
	if len(script) == 0 {
		script = []scripted{{status: 200}}
	}
	return &fakeTransport{script: script}
}

func (f *fakeTransport) factory() (httpclient.Exchange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allocErr != nil {
		return nil, f.allocErr
	}
	f.created++
	return &fakeExchange{transport: f}, nil
}

func (f *fakeTransport) next(req sentRequest) (scripted, chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	r := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	return r, f.hold
}

func (f *fakeTransport) requests() []sentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentRequest(nil), f.sent...)
}

func (f *fakeTransport) allocations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

type fakeExchange struct {
	transport *fakeTransport

	mu       sync.Mutex
	method   string
	url      string
	header   nethttp.Header
	state    httpclient.ReadyState
	result   scripted
	observer func(httpclient.ReadyState)
	progress httpclient.ProgressFunc
}

func (e *fakeExchange) Open(method, rawURL string) error {
	e.mu.Lock()
	e.method, e.url = method, rawURL
	e.header = nethttp.Header{}
	e.result = scripted{}
	e.state = httpclient.Opened
	observer := e.observer
	e.mu.Unlock()
	if observer != nil {
		observer(httpclient.Opened)
	}
	return nil
}

func (e *fakeExchange) SetHeader(name, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.header.Set(name, value)
}

func (e *fakeExchange) OnStateChange(fn func(httpclient.ReadyState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = fn
}

func (e *fakeExchange) OnUploadProgress(fn httpclient.ProgressFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress = fn
}

func (e *fakeExchange) Send(ctx context.Context, body []byte) {
	e.mu.Lock()
	req := sentRequest{method: e.method, url: e.url, headers: e.header.Clone(), body: body, ctx: ctx}
	progress := e.progress
	e.mu.Unlock()

	result, hold := e.transport.next(req)
	go func() {
		if progress != nil && len(body) > 0 {
			progress(int64(len(body)), int64(len(body)))
		}
		if hold != nil {
			<-hold
		}
		if result.status > 0 {
			e.transition(httpclient.HeadersReceived, scripted{status: result.status})
			e.transition(httpclient.Loading, scripted{status: result.status})
		}
		e.transition(httpclient.Done, result)
	}()
}

func (e *fakeExchange) transition(s httpclient.ReadyState, r scripted) {
	e.mu.Lock()
	e.state = s
	e.result = r
	observer := e.observer
	e.mu.Unlock()
	if observer != nil {
		observer(s)
	}
}

func (e *fakeExchange) ReadyState() httpclient.ReadyState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *fakeExchange) Status() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result.status
}

func (e *fakeExchange) ResponseText() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result.body
}

func (e *fakeExchange) ResponseHeaders() nethttp.Header {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result.header.Clone()
}

func (e *fakeExchange) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result.err
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// newTestDispatcher wires a Dispatcher to a fake transport, a 1ms retry tick
// and a logger capturing everything at debug level.
func newTestDispatcher(t *testing.T, ft *fakeTransport, opts ...Option) (*Dispatcher, *syncBuffer) {
	t.Helper()
	logs := &syncBuffer{}
	base := []Option{
		WithLogger(logger.NewWithWriter(logs, "debug", false)),
		WithTransport(ft.factory),
		WithTickInterval(time.Millisecond),
	}
	d := New(append(base, opts...)...)
	t.Cleanup(d.Wait)
	return d, logs
}

// recorder collects callback invocations in order.
type recorder struct {
	mu    sync.Mutex
	calls []*Call
	order []string
}

func (r *recorder) action(label string) Action {
	return func(call *Call) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, call)
		r.order = append(r.order, label)
		return nil
	}
}

func (r *recorder) labels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *recorder) last() *Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}
