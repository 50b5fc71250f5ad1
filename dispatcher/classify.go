package dispatcher

import (
	"github.com/gaborage/go-dispatch/httpclient"
)

// Outcome is the classification of a settled exchange.
type Outcome int

const (
	// OutcomePending means the exchange has not reached DONE.
	OutcomePending Outcome = iota
	// OutcomeDisconnected means no response was received (status 0).
	OutcomeDisconnected
	// OutcomeSuccess covers 2xx.
	OutcomeSuccess
	// OutcomeClientError covers 4xx.
	OutcomeClientError
	// OutcomeRedirect covers 3xx. It is logged and not dispatched.
	OutcomeRedirect
	// OutcomeServerError covers 5xx.
	OutcomeServerError
	// OutcomeUnknown covers any other status. It is logged and not dispatched.
	OutcomeUnknown
)

var outcomeNames = [...]string{"pending", "disconnected", "success", "client-error", "redirect", "server-error", "unknown"}

func (o Outcome) String() string {
	if o < OutcomePending || o > OutcomeUnknown {
		return "invalid"
	}
	return outcomeNames[o]
}

// Category returns the pool dispatched for o, if any.
func (o Outcome) Category() (Category, bool) {
	switch o {
	case OutcomeDisconnected:
		return Disconnected, true
	case OutcomeSuccess:
		return Success, true
	case OutcomeClientError:
		return ClientError, true
	case OutcomeServerError:
		return ServerError, true
	default:
		return 0, false
	}
}

// Classify maps a ready state and status to an outcome. Ranges are checked
// in the order 0, 2xx, 4xx, 3xx, 5xx.
func Classify(state httpclient.ReadyState, status int) Outcome {
	if state != httpclient.Done {
		return OutcomePending
	}
	switch {
	case status == 0:
		return OutcomeDisconnected
	case status >= 200 && status < 300:
		return OutcomeSuccess
	case status >= 400 && status < 500:
		return OutcomeClientError
	case status >= 300 && status < 400:
		return OutcomeRedirect
	case status >= 500 && status < 600:
		return OutcomeServerError
	default:
		return OutcomeUnknown
	}
}
