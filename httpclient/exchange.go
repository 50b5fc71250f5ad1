package httpclient

import (
	"bytes"
	"context"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// exchange is the net/http implementation of Exchange.
type exchange struct {
	client *Client

	mu         sync.Mutex
	method     string
	url        string
	header     nethttp.Header
	state      ReadyState
	sending    bool
	status     int
	body       []byte
	respHeader nethttp.Header
	err        error
	observer   func(ReadyState)
	progress   ProgressFunc
}

func (e *exchange) Open(method, rawURL string) error {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return NewValidationError("method is required", "method")
	}
	if _, err := url.Parse(rawURL); err != nil {
		return NewValidationError(err.Error(), "url")
	}

	e.mu.Lock()
	if e.sending {
		e.mu.Unlock()
		return NewValidationError("exchange has a request in flight", "state")
	}
	e.method = method
	e.url = rawURL
	e.header = nethttp.Header{}
	e.status = 0
	e.body = nil
	e.respHeader = nil
	e.err = nil
	e.state = Opened
	observer := e.observer
	e.mu.Unlock()

	if observer != nil {
		observer(Opened)
	}
	return nil
}

func (e *exchange) SetHeader(name, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.header.Set(name, value)
}

func (e *exchange) OnStateChange(fn func(ReadyState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = fn
}

func (e *exchange) OnUploadProgress(fn ProgressFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress = fn
}

func (e *exchange) Send(ctx context.Context, body []byte) {
	e.mu.Lock()
	if e.sending {
		method := e.method
		e.mu.Unlock()
		e.client.logger.Warn().Str("method", method).Msg("send ignored: exchange has a request in flight")
		return
	}
	if e.state != Opened {
		e.mu.Unlock()
		go e.finish(0, nil, nil, NewValidationError("send requires an opened exchange", "state"))
		return
	}
	e.sending = true
	method, rawURL := e.method, e.url
	header := e.header.Clone()
	progress := e.progress
	e.mu.Unlock()

	go e.run(ctx, method, rawURL, header, body, progress)
}

func (e *exchange) ReadyState() ReadyState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *exchange) Status() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *exchange) ResponseText() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return string(e.body)
}

func (e *exchange) ResponseHeaders() nethttp.Header {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.respHeader.Clone()
}

func (e *exchange) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *exchange) run(ctx context.Context, method, rawURL string, header nethttp.Header, body []byte, progress ProgressFunc) {
	cfg := e.client.config
	start := time.Now()

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
		if progress != nil {
			reader = &progressReader{r: reader, total: int64(len(body)), fn: progress}
		}
	}
	req, err := nethttp.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		e.finish(0, nil, nil, NewValidationError(err.Error(), "url"))
		return
	}
	if len(body) > 0 {
		req.ContentLength = int64(len(body))
	}

	for name, value := range cfg.DefaultHeaders {
		req.Header.Set(name, value)
	}
	for name, values := range header {
		req.Header[name] = values
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "*/*")
	}
	if len(body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	}
	if cfg.Compress {
		req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	}

	for _, interceptor := range e.client.requestInterceptors {
		if err := interceptor(ctx, req); err != nil {
			e.finish(0, nil, nil, NewInterceptorError("request interceptor failed", "request", err))
			return
		}
	}
	requestID := req.Header.Get(cfg.RequestIDHeader)
	e.client.logRequest(req, body, requestID)

	resp, err := e.client.httpClient.Do(req)
	if err != nil {
		cerr := classifyTransportError(ctx, err, cfg.Timeout)
		e.client.logResponse(req, 0, nil, time.Since(start), requestID, cerr)
		e.finish(0, nil, nil, cerr)
		return
	}

	e.advance(HeadersReceived, resp.StatusCode)

	for _, interceptor := range cfg.ResponseInterceptors {
		if err := interceptor(ctx, req, resp); err != nil {
			resp.Body.Close()
			cerr := NewInterceptorError("response interceptor failed", "response", err)
			e.client.logResponse(req, 0, nil, time.Since(start), requestID, cerr)
			e.finish(0, nil, nil, cerr)
			return
		}
	}

	e.advance(Loading, resp.StatusCode)
	data, err := readBody(resp)
	if err != nil {
		cerr := NewNetworkError("failed to read response body", err)
		e.client.logResponse(req, 0, nil, time.Since(start), requestID, cerr)
		e.finish(0, nil, nil, cerr)
		return
	}

	e.client.logResponse(req, resp.StatusCode, data, time.Since(start), requestID, nil)
	e.finish(resp.StatusCode, data, resp.Header, nil)
}

func (e *exchange) advance(state ReadyState, status int) {
	e.mu.Lock()
	e.state = state
	e.status = status
	observer := e.observer
	e.mu.Unlock()

	if observer != nil {
		observer(state)
	}
}

func (e *exchange) finish(status int, body []byte, header nethttp.Header, err error) {
	e.mu.Lock()
	e.state = Done
	e.sending = false
	e.status = status
	e.body = body
	e.respHeader = header
	e.err = err
	observer := e.observer
	e.mu.Unlock()

	if observer != nil {
		observer(Done)
	}
}

type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.fn(p.sent, p.total)
	}
	return n, err
}
