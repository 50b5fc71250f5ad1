// Package httpclient provides the transport primitive used by the dispatcher: a
// reusable exchange object that is opened with a method and URL, sent once per
// opening, and reports its progress through ready-state transitions.
package httpclient

import (
	"context"
	nethttp "net/http"
	"time"

	"github.com/gaborage/go-dispatch/trace"
)

// HeaderXRequestID is the default header used for request-id propagation
const HeaderXRequestID = trace.HeaderXRequestID

// ReadyState is the lifecycle phase of an exchange.
type ReadyState int

const (
	// Unsent means the exchange was created or reset but not opened
	Unsent ReadyState = iota
	// Opened means Open succeeded; headers may be set and Send called
	Opened
	// HeadersReceived means the response status line and headers arrived
	HeadersReceived
	// Loading means the response body is being read
	Loading
	// Done means the exchange finished, successfully or not
	Done
)

var readyStateNames = [...]string{"UNSENT", "OPENED", "HEADERS_RECEIVED", "LOADING", "DONE"}

func (s ReadyState) String() string {
	if s < Unsent || s > Done {
		return "UNKNOWN"
	}
	return readyStateNames[s]
}

// Exchange is one reusable request/response slot. It supports a single in-flight
// request at a time; calling Open again after Done resets it for reuse.
//
// A status of 0 at Done means no response was received; Err reports why.
type Exchange interface {
	Open(method, rawURL string) error
	SetHeader(name, value string)
	OnStateChange(fn func(ReadyState))
	OnUploadProgress(fn ProgressFunc)
	// Send starts the request in the background and returns immediately.
	Send(ctx context.Context, body []byte)
	ReadyState() ReadyState
	Status() int
	ResponseText() string
	ResponseHeaders() nethttp.Header
	Err() error
}

// Factory allocates a new Exchange.
type Factory func() (Exchange, error)

// ProgressFunc observes request body bytes written so far out of total.
type ProgressFunc func(sent, total int64)

// RequestInterceptor is called before sending the request
type RequestInterceptor func(ctx context.Context, req *nethttp.Request) error

// ResponseInterceptor is called after the response headers are received
type ResponseInterceptor func(ctx context.Context, req *nethttp.Request, resp *nethttp.Response) error

// Config holds the transport configuration shared by every exchange a Client creates
type Config struct {
	Timeout              time.Duration
	RequestInterceptors  []RequestInterceptor
	ResponseInterceptors []ResponseInterceptor
	DefaultHeaders       map[string]string
	// Compress advertises gzip, deflate and br and decodes the response accordingly
	Compress bool
	// LogPayloads enables debug-level logging of headers and body payloads
	LogPayloads bool
	// MaxPayloadLogBytes caps the number of body bytes logged when LogPayloads is enabled
	MaxPayloadLogBytes int
	// RequestIDHeader configures the header used for request-id propagation (default: X-Request-ID)
	RequestIDHeader string
}
