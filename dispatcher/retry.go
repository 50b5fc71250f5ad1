package dispatcher

import (
	"fmt"
	"time"
)

// RetryFunc observes a pending retry once per tick with the ticks left
// before the request is reissued and the number of retries already used.
type RetryFunc func(remaining, attempt int)

// retryPolicy is a counted, fixed-interval retry for transport failures.
// used is shared by every request of the dispatcher.
type retryPolicy struct {
	times int
	wait  int
	fn    RetryFunc
	used  int
}

// RetryPolicy is a snapshot of the retry configuration.
type RetryPolicy struct {
	Times int
	Wait  int
	Used  int
}

// SetRetry configures how often a request that got no response is reissued
// and how many ticks to wait before each reissue. times 0 disables retrying.
// fn may be nil.
func (d *Dispatcher) SetRetry(times, wait int, fn RetryFunc) error {
	if times < 0 || wait < 1 {
		d.event(sevWarning, false).Int("times", times).Int("wait", wait).Msg("retry policy not updated")
		return fmt.Errorf("%w: times=%d wait=%d", ErrInvalidRetry, times, wait)
	}
	d.mu.Lock()
	d.retry = retryPolicy{times: times, wait: wait, fn: fn}
	d.mu.Unlock()
	d.event(sevInfo, false).Int("times", times).Int("wait", wait).Msg("retry policy set")
	return nil
}

// Retry returns the current retry configuration.
func (d *Dispatcher) Retry() RetryPolicy {
	d.mu.Lock()
	defer d.mu.Unlock()
	return RetryPolicy{Times: d.retry.times, Wait: d.retry.wait, Used: d.retry.used}
}

// retryAfterFailure waits out the policy interval and reissues req on h. It reports
// whether the request was reissued; when it was not, the counter is reset and
// the returned error, if any, explains why.
func (d *Dispatcher) retryAfterFailure(h *handle, req *request) (bool, error) {
	d.mu.Lock()
	pol := d.retry
	if pol.times == 0 || pol.used >= pol.times {
		d.retry.used = 0
		d.mu.Unlock()
		return false, nil
	}
	d.mu.Unlock()

	d.event(sevInfo, false).
		Int("attempt", pol.used+1).
		Int("wait", pol.wait).
		Str("url", req.url).
		Msg("no response, retrying")

	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()
	for passed := 0; passed < pol.wait; {
		select {
		case <-req.ctx.Done():
			d.resetRetry()
			return false, req.ctx.Err()
		case <-ticker.C:
			if req.ctx.Err() != nil {
				continue
			}
			passed++
			d.notifyRetry(pol.fn, pol.wait-passed, pol.used)
		}
	}
	if err := req.ctx.Err(); err != nil {
		d.resetRetry()
		return false, err
	}

	d.mu.Lock()
	d.retry.used++
	d.mu.Unlock()

	req.attempt++
	d.telemetry.recordRetry(req.ctx, req.method)
	if err := d.issue(h, req); err != nil {
		d.resetRetry()
		return false, err
	}
	return true, nil
}

func (d *Dispatcher) resetRetry() {
	d.mu.Lock()
	d.retry.used = 0
	d.mu.Unlock()
}

func (d *Dispatcher) notifyRetry(fn RetryFunc, remaining, attempt int) {
	if fn == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			d.event(sevError, true).Interface("panic", rec).Msg("retry callback panicked")
		}
	}()
	fn(remaining, attempt)
}
