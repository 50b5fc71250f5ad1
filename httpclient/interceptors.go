package httpclient

import (
	"context"
	nethttp "net/http"

	"github.com/gaborage/go-dispatch/trace"
)

// NewRequestIDInterceptor creates a request interceptor that sets header to the
// request id carried by ctx, generating one when absent. An existing header wins.
func NewRequestIDInterceptor(header string) RequestInterceptor {
	if header == "" {
		header = HeaderXRequestID
	}
	return func(ctx context.Context, req *nethttp.Request) error {
		if req.Header.Get(header) == "" {
			req.Header.Set(header, trace.EnsureRequestID(ctx))
		}
		return nil
	}
}
