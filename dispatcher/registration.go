package dispatcher

import (
	"maps"
	"strings"
)

// Registration is the input accepted by AddCallback: either a bare Action or
// a Descriptor. Both normalize to the same canonical entry.
type Registration interface {
	descriptor() Descriptor
}

// Descriptor registers a callback with an explicit id, enablement and props.
type Descriptor struct {
	// ID is assigned automatically when empty.
	ID string
	// Disabled registers the entry switched off.
	Disabled bool
	// When, if set, is evaluated at dispatch time and overrides Disabled.
	When   func() bool
	Action Action
	Props  map[string]any
}

func (d Descriptor) descriptor() Descriptor { return d }

func (a Action) descriptor() Descriptor { return Descriptor{Action: a} }

// entry is the canonical form of a registered callback.
type entry struct {
	id      string
	enabled bool
	when    func() bool
	action  Action
	props   map[string]any
}

func normalize(reg Registration) (*entry, error) {
	if reg == nil {
		return nil, ErrNoAction
	}
	d := reg.descriptor()
	if d.Action == nil {
		return nil, ErrNoAction
	}
	return &entry{
		id:      strings.TrimSpace(d.ID),
		enabled: !d.Disabled,
		when:    d.When,
		action:  d.Action,
		props:   maps.Clone(d.Props),
	}, nil
}

// Entry is a read-only snapshot of a registered callback.
type Entry struct {
	ID      string
	Enabled bool
	// When is the enablement predicate, if one is set.
	When  func() bool
	Props map[string]any
}

// IsEnabled evaluates the entry's enablement the way dispatch does.
func (e Entry) IsEnabled() bool {
	if e.When != nil {
		return e.When()
	}
	return e.Enabled
}

func (e *entry) snapshot() Entry {
	return Entry{
		ID:      e.id,
		Enabled: e.enabled,
		When:    e.when,
		Props:   maps.Clone(e.props),
	}
}
