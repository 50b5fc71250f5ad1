package dispatcher

import (
	"fmt"
	"maps"
)

// binding injects props into the Call of every matching entry at dispatch time.
type binding struct {
	props   map[string]any
	id      string
	anyID   bool
	pool    Category
	anyPool bool
}

func (b *binding) matches(c Category, id string) bool {
	return (b.anyPool || b.pool == c) && (b.anyID || b.id == id)
}

// BindOption narrows a binding.
type BindOption func(*binding)

// ForCallback limits a binding to entries with id.
func ForCallback(id string) BindOption {
	return func(b *binding) {
		b.id = id
		b.anyID = false
	}
}

// InPool limits a binding to pool c.
func InPool(c Category) BindOption {
	return func(b *binding) {
		b.pool = c
		b.anyPool = false
	}
}

// Bind registers props to be merged into the Call of matching entries. Without
// options the binding applies to every entry of every pool. Rules accumulate
// and apply to entries registered later too; when several match, later rules
// win. Reserved names are dropped.
func (d *Dispatcher) Bind(props map[string]any, opts ...BindOption) error {
	b := &binding{anyID: true, anyPool: true}
	for _, opt := range opts {
		opt(b)
	}
	if len(props) == 0 {
		return d.reject("bind", b.pool, b.id, fmt.Errorf("%w: no props", ErrInvalidBinding))
	}
	if !b.anyPool && !b.pool.Valid() {
		return d.reject("bind", b.pool, b.id, fmt.Errorf("%w: %s", ErrUnknownPool, b.pool))
	}

	b.props = make(map[string]any, len(props))
	for k, v := range props {
		if IsReservedProp(k) {
			d.event(sevWarning, false).Str("prop", k).Msg("bind: reserved prop ignored")
			continue
		}
		b.props[k] = v
	}

	d.mu.Lock()
	d.bindings = append(d.bindings, b)
	d.mu.Unlock()

	d.event(sevInfo, false).
		Bool("all_pools", b.anyPool).
		Bool("all_callbacks", b.anyID).
		Int("props", len(b.props)).
		Msg("binding registered")
	return nil
}

// mergePropsLocked builds the prop set for one invocation. The caller holds d.mu.
func (d *Dispatcher) mergePropsLocked(c Category, e *entry) map[string]any {
	out := make(map[string]any, len(e.props))
	for k, v := range e.props {
		if !IsReservedProp(k) {
			out[k] = v
		}
	}
	for _, b := range d.bindings {
		if b.matches(c, e.id) {
			maps.Copy(out, b.props)
		}
	}
	return out
}
