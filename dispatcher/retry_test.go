package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/go-dispatch/httpclient"
)

var errRefused = httpclient.NewNetworkError("connection refused", errors.New("dial tcp: refused"))

type tickLog struct {
	mu    sync.Mutex
	ticks [][2]int
}

func (l *tickLog) record(remaining, attempt int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ticks = append(l.ticks, [2]int{remaining, attempt})
}

func (l *tickLog) all() [][2]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][2]int(nil), l.ticks...)
}

func TestSetRetryValidation(t *testing.T) {
	d, _ := newTestDispatcher(t, newFakeTransport())
	assert.Equal(t, RetryPolicy{Times: 3, Wait: 5}, d.Retry())

	assert.ErrorIs(t, d.SetRetry(-1, 5, nil), ErrInvalidRetry)
	assert.ErrorIs(t, d.SetRetry(2, 0, nil), ErrInvalidRetry)
	assert.Equal(t, RetryPolicy{Times: 3, Wait: 5}, d.Retry(), "rejected policy leaves the old one")

	require.NoError(t, d.SetRetry(0, 1, nil))
	assert.Equal(t, RetryPolicy{Times: 0, Wait: 1}, d.Retry())
}

func TestRetryTermination(t *testing.T) {
	ft := newFakeTransport(scripted{status: 0, err: errRefused})
	d, _ := newTestDispatcher(t, ft)
	d.SetURL("https://example.com/x")

	ticks := &tickLog{}
	require.NoError(t, d.SetRetry(2, 3, ticks.record))

	rec := &recorder{}
	_, err := d.OnDisconnected(rec.action("disconnected"))
	require.NoError(t, err)
	_, err = d.OnAfterRequest(rec.action("after"))
	require.NoError(t, err)

	send(t, d)

	assert.Len(t, ft.requests(), 3, "one issue plus two reissues")
	assert.Equal(t, []string{"disconnected", "after"}, rec.labels())
	assert.Equal(t, [][2]int{{2, 0}, {1, 0}, {0, 0}, {2, 1}, {1, 1}, {0, 1}}, ticks.all())
	assert.Zero(t, d.Retry().Used, "counter resets after the budget is spent")
	assert.Equal(t, 1, ft.allocations(), "reissues reuse the handle")

	call := rec.last()
	assert.Equal(t, 0, call.Status)
	assert.Equal(t, 2, call.Attempt)
	assert.True(t, httpclient.IsErrorType(call.Err, httpclient.NetworkError))
}

func TestRetryRecovers(t *testing.T) {
	ft := newFakeTransport(
		scripted{status: 0, err: errRefused},
		scripted{status: 200, body: "ok"},
	)
	d, _ := newTestDispatcher(t, ft)
	d.SetURL("https://example.com/x")
	require.NoError(t, d.SetRetry(3, 1, nil))

	rec := &recorder{}
	_, err := d.OnSuccess(rec.action("success"))
	require.NoError(t, err)
	_, err = d.OnDisconnected(rec.action("disconnected"))
	require.NoError(t, err)

	send(t, d)

	assert.Equal(t, []string{"success"}, rec.labels())
	assert.Equal(t, 1, rec.last().Attempt)
	assert.Equal(t, 1, d.Retry().Used, "counter is shared and only reset on exhaustion")
	assert.Len(t, ft.requests(), 2)
}

func TestRetryDisabled(t *testing.T) {
	ft := newFakeTransport(scripted{status: 0, err: errRefused})
	d, _ := newTestDispatcher(t, ft)
	d.SetURL("https://example.com/x")
	require.NoError(t, d.SetRetry(0, 1, nil))

	rec := &recorder{}
	_, err := d.OnDisconnected(rec.action("disconnected"))
	require.NoError(t, err)

	send(t, d)
	assert.Len(t, ft.requests(), 1)
	assert.Equal(t, []string{"disconnected"}, rec.labels())
}

func TestRetryCancelledByContext(t *testing.T) {
	ft := newFakeTransport(scripted{status: 0, err: errRefused})
	d, _ := newTestDispatcher(t, ft)
	d.SetURL("https://example.com/x")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.SetRetry(3, 50, func(int, int) { cancel() }))

	rec := &recorder{}
	_, err := d.OnDisconnected(rec.action("disconnected"))
	require.NoError(t, err)

	require.True(t, d.Send(ctx))
	d.Wait()

	assert.Len(t, ft.requests(), 1)
	assert.Equal(t, []string{"disconnected"}, rec.labels())
	assert.ErrorIs(t, rec.last().Err, context.Canceled)
	assert.Zero(t, d.Retry().Used)
}

func TestRetryCallbackPanicIsContained(t *testing.T) {
	ft := newFakeTransport(scripted{status: 0}, scripted{status: 200})
	d, logs := newTestDispatcher(t, ft)
	d.SetURL("https://example.com/x")
	require.NoError(t, d.SetRetry(1, 1, func(int, int) { panic("observer") }))

	rec := &recorder{}
	_, err := d.OnSuccess(rec.action("success"))
	require.NoError(t, err)

	send(t, d)
	assert.Equal(t, []string{"success"}, rec.labels())
	assert.Contains(t, logs.String(), "retry callback panicked")
}

func TestWaitCoversPendingRetry(t *testing.T) {
	ft := newFakeTransport(scripted{status: 0}, scripted{status: 200})
	d, _ := newTestDispatcher(t, ft, WithTickInterval(5*time.Millisecond))
	d.SetURL("https://example.com/x")
	require.NoError(t, d.SetRetry(1, 4, nil))

	start := time.Now()
	send(t, d)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Len(t, ft.requests(), 2)
}
