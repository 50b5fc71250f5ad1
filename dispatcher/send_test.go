package dispatcher

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/go-dispatch/document"
)

func parseMultipart(t *testing.T, req sentRequest) map[string]string {
	t.Helper()
	mediaType, params, err := mime.ParseMediaType(req.headers.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/form-data", mediaType)

	fields := make(map[string]string)
	r := multipart.NewReader(strings.NewReader(string(req.body)), params["boundary"])
	for {
		part, err := r.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(part)
		require.NoError(t, err)
		fields[part.FormName()] = string(data)
	}
	return fields
}

func TestSendJoinsBaseAndURL(t *testing.T) {
	ft := newFakeTransport(scripted{status: 200})
	d, _ := newTestDispatcher(t, ft)
	require.NoError(t, d.SetBase("https://example.com"))
	d.SetURL("list.json")

	rec := &recorder{}
	_, err := d.OnSuccess(rec.action("ok"))
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/list.json", d.RequestURL())
	send(t, d)

	reqs := ft.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "GET", reqs[0].method)
	assert.Equal(t, "https://example.com/list.json", reqs[0].url)
	assert.Equal(t, "https://example.com/list.json", rec.last().URL)
}

func TestSendPostMultipartValues(t *testing.T) {
	ft := newFakeTransport(scripted{status: 201})
	d, _ := newTestDispatcher(t, ft)
	d.SetMethod("post")
	d.SetURL("https://example.com/items")
	require.NoError(t, d.SetParams(Values{
		"tags":  []string{"a", "b"},
		"name":  "a b&c",
		"count": 3,
		"mixed": []any{"x y", 1, true},
		"file":  &File{Name: "note.txt", ContentType: "text/plain", Data: []byte("hello")},
	}))

	send(t, d)

	reqs := ft.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "POST", reqs[0].method)
	assert.Equal(t, "https://example.com/items", reqs[0].url)

	fields := parseMultipart(t, reqs[0])
	assert.Equal(t, "%5B%22a%22%2C%22b%22%5D", fields["tags"])
	assert.Equal(t, "a%20b%26c", fields["name"])
	assert.Equal(t, "3", fields["count"])
	assert.Equal(t, "%5B%22x%2520y%22%2C1%2Ctrue%5D", fields["mixed"])
	assert.Equal(t, "hello", fields["file"])
}

func TestSendPostRawParams(t *testing.T) {
	ft := newFakeTransport(scripted{status: 200})
	d, _ := newTestDispatcher(t, ft)
	d.SetMethod(MethodPut)
	d.SetURL("https://example.com/items/1")
	require.NoError(t, d.SetParams(RawParams("a=1&b=2")))

	send(t, d)

	req := ft.requests()[0]
	assert.Equal(t, "a=1&b=2", string(req.body))
	assert.Equal(t, formURLEncoded, req.headers.Get("Content-Type"))
	assert.Equal(t, "https://example.com/items/1", req.url)
}

func TestSendQueryMethods(t *testing.T) {
	for _, method := range []string{MethodGet, MethodDelete} {
		t.Run(method, func(t *testing.T) {
			ft := newFakeTransport(scripted{status: 200})
			d, _ := newTestDispatcher(t, ft)
			d.SetMethod(method)
			d.SetURL("https://example.com/search")
			require.NoError(t, d.SetParams(Values{"q": "go lang", "ids": []int{1, 2}, "skip": nil}))

			send(t, d)

			req := ft.requests()[0]
			assert.Equal(t, "https://example.com/search?ids=%5B1%2C2%5D&q=go%20lang", req.url)
			assert.Empty(t, req.body)
			assert.Empty(t, req.headers.Get("Content-Type"))
		})
	}
}

func TestSendHeadAndOptionsCarryNoParams(t *testing.T) {
	for _, method := range []string{MethodHead, MethodOptions} {
		t.Run(method, func(t *testing.T) {
			ft := newFakeTransport(scripted{status: 204})
			d, _ := newTestDispatcher(t, ft, WithTokenSource(document.NewTokenFinder("tok", nil)))
			d.SetMethod(method)
			d.SetURL("https://example.com/ping")
			require.NoError(t, d.SetParams(RawParams("a=1")))
			require.NoError(t, d.AddHeader("X-Custom", "1"))

			send(t, d)

			req := ft.requests()[0]
			assert.Equal(t, "https://example.com/ping", req.url)
			assert.Empty(t, req.body)
			assert.Equal(t, "1", req.headers.Get("X-Custom"))
			assert.Empty(t, req.headers.Get(HeaderCSRFToken))
		})
	}
}

func TestSendCSRFHeader(t *testing.T) {
	page, err := document.ParseString(`<html><head><meta name="csrf-token" content="page-token"></head></html>`)
	require.NoError(t, err)

	tests := []struct {
		method string
		want   string
	}{
		{MethodGet, ""},
		{MethodPost, "page-token"},
		{MethodPut, "page-token"},
		{MethodDelete, "page-token"},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			ft := newFakeTransport(scripted{status: 200})
			d, _ := newTestDispatcher(t, ft, WithPage(page))
			d.SetMethod(tt.method)
			d.SetURL("https://example.com/x")

			send(t, d)
			assert.Equal(t, tt.want, ft.requests()[0].headers.Get(HeaderCSRFToken))
		})
	}

	t.Run("no token", func(t *testing.T) {
		ft := newFakeTransport(scripted{status: 200})
		d, _ := newTestDispatcher(t, ft)
		d.SetMethod(MethodPost)
		d.SetURL("https://example.com/x")

		send(t, d)
		assert.Empty(t, ft.requests()[0].headers.Values(HeaderCSRFToken))
	})
}

func TestSendCustomHeadersOverrideContentType(t *testing.T) {
	ft := newFakeTransport(scripted{status: 200})
	d, _ := newTestDispatcher(t, ft)
	d.SetMethod(MethodPost)
	d.SetURL("https://example.com/x")
	require.NoError(t, d.SetParams(RawParams(`{"a":1}`)))
	require.NoError(t, d.AddHeader(" Content-Type ", "application/json"))
	require.NoError(t, d.AddHeader("Authorization", "Bearer t"))

	send(t, d)

	req := ft.requests()[0]
	assert.Equal(t, "application/json", req.headers.Get("Content-Type"))
	assert.Equal(t, "Bearer t", req.headers.Get("Authorization"))
}

func TestBeforeSendFailureAbortsSend(t *testing.T) {
	ft := newFakeTransport(scripted{status: 200})
	d, _ := newTestDispatcher(t, ft)
	d.SetURL("https://example.com/x")

	rec := &recorder{}
	_, err := d.OnBeforeSend(Action(func(*Call) error { return errors.New("validation failed") }))
	require.NoError(t, err)
	_, err = d.OnBeforeSend(rec.action("second before-send"))
	require.NoError(t, err)
	_, err = d.OnError(rec.action("error"))
	require.NoError(t, err)
	_, err = d.OnAfterRequest(rec.action("after"))
	require.NoError(t, err)

	assert.False(t, d.Send(context.Background()))
	d.Wait()

	assert.Equal(t, []string{"error"}, rec.labels())
	assert.Empty(t, ft.requests())
	assert.Equal(t, "https://example.com/x", rec.last().URL)
}

func TestBeforeSendCanAdjustRequest(t *testing.T) {
	ft := newFakeTransport(scripted{status: 200})
	d, _ := newTestDispatcher(t, ft)
	d.SetURL("https://example.com/x")

	_, err := d.OnBeforeSend(Action(func(call *Call) error {
		call.Dispatcher.SetURL("https://example.com/y")
		return call.Dispatcher.SetParams(Values{"page": 2})
	}))
	require.NoError(t, err)

	send(t, d)
	assert.Equal(t, "https://example.com/y?page=2", ft.requests()[0].url)
}

func TestDisabledDispatcherRefuses(t *testing.T) {
	ft := newFakeTransport(scripted{status: 200})
	d, logs := newTestDispatcher(t, ft)
	d.SetURL("https://example.com/x")
	d.SetEnabled(false)
	assert.False(t, d.Enabled())

	rec := &recorder{}
	_, err := d.OnBeforeSend(rec.action("before"))
	require.NoError(t, err)
	_, err = d.OnAfterRequest(rec.action("after"))
	require.NoError(t, err)

	assert.False(t, d.Send(context.Background()))
	assert.Equal(t, []string{"before"}, rec.labels())
	assert.Empty(t, ft.requests())
	assert.Contains(t, logs.String(), "dispatcher is disabled")

	d.SetEnabled(true)
	send(t, d)
	assert.Len(t, ft.requests(), 1)
}

func TestHandlesAreReused(t *testing.T) {
	ft := newFakeTransport(scripted{status: 200})
	d, _ := newTestDispatcher(t, ft)
	d.SetURL("https://example.com/x")

	for range 3 {
		send(t, d)
	}
	assert.Equal(t, 1, ft.allocations())
	stats := d.Handles()
	assert.Equal(t, HandleStats{Total: 1, Active: 0, Received: 1}, stats)
}

func TestConcurrentSendsUseSeparateHandles(t *testing.T) {
	ft := newFakeTransport(scripted{status: 200})
	ft.hold = make(chan struct{})
	d, _ := newTestDispatcher(t, ft)
	d.SetURL("https://example.com/x")

	var done atomic.Int32
	_, err := d.OnSuccess(Action(func(*Call) error {
		done.Add(1)
		return nil
	}))
	require.NoError(t, err)

	require.True(t, d.Send(context.Background()))
	require.True(t, d.Send(context.Background()))
	assert.Equal(t, HandleStats{Total: 2, Active: 2}, d.Handles())

	close(ft.hold)
	d.Wait()
	assert.Equal(t, int32(2), done.Load())
	assert.Equal(t, 2, ft.allocations())
	assert.Equal(t, 0, d.Handles().Active)
}

func TestMaxHandles(t *testing.T) {
	ft := newFakeTransport(scripted{status: 200})
	ft.hold = make(chan struct{})
	d, logs := newTestDispatcher(t, ft, WithMaxHandles(1))
	d.SetURL("https://example.com/x")

	require.True(t, d.Send(context.Background()))
	assert.False(t, d.Send(context.Background()))
	assert.Contains(t, logs.String(), ErrNoHandle.Error())

	close(ft.hold)
	d.Wait()
	send(t, d)
	assert.Equal(t, 1, ft.allocations())
}

func TestHandleAllocationFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.allocErr = errors.New("no sockets")
	d, logs := newTestDispatcher(t, ft)
	d.SetURL("https://example.com/x")

	assert.False(t, d.Send(context.Background()))
	assert.Contains(t, logs.String(), "no sockets")
	assert.Zero(t, d.Handles().Total)
}

func TestRateLimitRefusesExcess(t *testing.T) {
	ft := newFakeTransport(scripted{status: 200})
	d, logs := newTestDispatcher(t, ft, WithRateLimit(0.001, 1))
	d.SetURL("https://example.com/x")

	require.True(t, d.Send(context.Background()))
	assert.False(t, d.Send(context.Background()))
	d.Wait()
	assert.Len(t, ft.requests(), 1)
	assert.Contains(t, logs.String(), "rate limit exceeded")
}

func TestSendEncodingFailure(t *testing.T) {
	ft := newFakeTransport(scripted{status: 200})
	d, logs := newTestDispatcher(t, ft)
	d.SetURL("https://example.com/x")
	require.NoError(t, d.SetParams(Values{"f": &File{Name: "a.bin"}}))

	assert.False(t, d.Send(context.Background()))
	assert.Empty(t, ft.requests())
	assert.Contains(t, logs.String(), "unable to encode params")
}

func TestSendReportsUploadProgress(t *testing.T) {
	ft := newFakeTransport(scripted{status: 200})
	var sent atomic.Int64
	d, _ := newTestDispatcher(t, ft, WithProgress(func(n, _ int64) { sent.Store(n) }))
	d.SetMethod(MethodPost)
	d.SetURL("https://example.com/upload")
	require.NoError(t, d.SetParams(RawParams("abcdef")))

	send(t, d)
	assert.Equal(t, int64(6), sent.Load())
}

func TestSendPassesContext(t *testing.T) {
	type key struct{}
	ft := newFakeTransport(scripted{status: 200})
	d, _ := newTestDispatcher(t, ft)
	d.SetURL("https://example.com/x")

	var seen any
	_, err := d.OnSuccess(Action(func(call *Call) error {
		seen = call.Context().Value(key{})
		return nil
	}))
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), key{}, "v")
	require.True(t, d.Send(ctx))
	d.Wait()

	assert.Equal(t, "v", seen)
	assert.Equal(t, "v", ft.requests()[0].ctx.Value(key{}))
}
