package dispatcher

import (
	"fmt"
	"strings"
)

// Category identifies a callback pool.
type Category int

const (
	// BeforeSend callbacks run before a request is issued; a failure aborts it.
	BeforeSend Category = iota
	// Success callbacks run for 2xx responses.
	Success
	// ClientError callbacks run for 4xx responses.
	ClientError
	// ServerError callbacks run for 5xx responses.
	ServerError
	// Disconnected callbacks run when no response arrived and retries are spent.
	Disconnected
	// AfterRequest callbacks run after every dispatched outcome.
	AfterRequest
	// InternalError callbacks run when another callback fails.
	InternalError

	numCategories
)

var categoryNames = [numCategories]string{
	"before-send",
	"success",
	"client-error",
	"server-error",
	"disconnected",
	"after-request",
	"error",
}

// Pool names used by earlier releases of the browser client.
var legacyCategoryNames = map[string]Category{
	"beforeajax":     BeforeSend,
	"clienterror":    ClientError,
	"servererror":    ServerError,
	"connectionlost": Disconnected,
	"afterajax":      AfterRequest,
}

func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryNames[c]
}

// Valid reports whether c names one of the fixed pools.
func (c Category) Valid() bool {
	return c >= 0 && c < numCategories
}

// Categories returns every pool in dispatch table order.
func Categories() []Category {
	out := make([]Category, 0, numCategories)
	for c := Category(0); c < numCategories; c++ {
		out = append(out, c)
	}
	return out
}

// ParseCategory resolves a pool name, case-insensitively. Both the canonical
// names and the legacy names (beforeajax, clienterror, servererror,
// connectionlost, afterajax) are accepted.
func ParseCategory(name string) (Category, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for c, n := range categoryNames {
		if n == key {
			return Category(c), nil
		}
	}
	if c, ok := legacyCategoryNames[key]; ok {
		return c, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPool, name)
}
