package dispatcher

import (
	"fmt"
	"slices"
	"strconv"
)

// Ids of the seed entries kept enabled by DisableAllExcept.
var protectedIDs = map[string]struct{}{"0": {}, "1": {}}

// pool is the ordered entry list of one Category.
type pool struct {
	entries []*entry
	// nextID is the next candidate for an automatically assigned id.
	nextID int
}

func newPool(c Category) *pool {
	return &pool{
		entries: []*entry{{id: "0", enabled: true, action: seedAction(c)}},
		nextID:  1,
	}
}

func (p *pool) find(id string) (int, *entry) {
	for i, e := range p.entries {
		if e.id == id {
			return i, e
		}
	}
	return -1, nil
}

func (p *pool) autoID() string {
	for {
		id := strconv.Itoa(p.nextID)
		p.nextID++
		if _, e := p.find(id); e == nil {
			return id
		}
	}
}

func (p *pool) ids() []string {
	out := make([]string, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.id
	}
	return out
}

// seedAction is the default entry "0" of every pool; it only reports the outcome.
func seedAction(c Category) Action {
	return func(call *Call) error {
		call.Dispatcher.event(sevInfo, false).
			Str("pool", c.String()).
			Int("status", call.Status).
			Str("url", call.URL).
			Msg("callback pool dispatched")
		return nil
	}
}

// poolLocked returns the pool for c. The caller holds d.mu.
func (d *Dispatcher) poolLocked(c Category) (*pool, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, c)
	}
	return d.pools[c], nil
}

func (d *Dispatcher) reject(op string, c Category, id string, err error) error {
	d.event(sevWarning, true).
		Err(err).
		Str("op", op).
		Str("pool", c.String()).
		Str("id", id).
		Msg("callback operation rejected")
	return err
}

// AddCallback registers reg in pool c and returns its id. An unknown pool, a
// missing action or an id already present in the pool leaves the pool unchanged.
func (d *Dispatcher) AddCallback(c Category, reg Registration) (string, error) {
	e, err := normalize(reg)
	if err != nil {
		return "", d.reject("add", c, "", err)
	}

	d.mu.Lock()
	p, err := d.poolLocked(c)
	if err != nil {
		d.mu.Unlock()
		return "", d.reject("add", c, e.id, err)
	}
	if e.id == "" {
		e.id = p.autoID()
	} else if _, dup := p.find(e.id); dup != nil {
		d.mu.Unlock()
		return "", d.reject("add", c, e.id, fmt.Errorf("%w: %q in pool %s", ErrDuplicateID, e.id, c))
	}
	p.entries = append(p.entries, e)
	d.mu.Unlock()

	d.event(sevInfo, false).Str("pool", c.String()).Str("id", e.id).Msg("callback added")
	return e.id, nil
}

// OnBeforeSend registers a callback run before each request is issued.
func (d *Dispatcher) OnBeforeSend(reg Registration) (string, error) {
	return d.AddCallback(BeforeSend, reg)
}

// OnSuccess registers a callback for 2xx responses.
func (d *Dispatcher) OnSuccess(reg Registration) (string, error) {
	return d.AddCallback(Success, reg)
}

// OnClientError registers a callback for 4xx responses.
func (d *Dispatcher) OnClientError(reg Registration) (string, error) {
	return d.AddCallback(ClientError, reg)
}

// OnServerError registers a callback for 5xx responses.
func (d *Dispatcher) OnServerError(reg Registration) (string, error) {
	return d.AddCallback(ServerError, reg)
}

// OnDisconnected registers a callback for requests that never got a response.
func (d *Dispatcher) OnDisconnected(reg Registration) (string, error) {
	return d.AddCallback(Disconnected, reg)
}

// OnAfterRequest registers a callback run after every dispatched outcome.
func (d *Dispatcher) OnAfterRequest(reg Registration) (string, error) {
	return d.AddCallback(AfterRequest, reg)
}

// OnError registers a callback for failures raised by other callbacks.
func (d *Dispatcher) OnError(reg Registration) (string, error) {
	return d.AddCallback(InternalError, reg)
}

// RemoveCallback deletes the entry with id from pool c.
func (d *Dispatcher) RemoveCallback(c Category, id string) error {
	d.mu.Lock()
	p, err := d.poolLocked(c)
	if err != nil {
		d.mu.Unlock()
		return d.reject("remove", c, id, err)
	}
	i, e := p.find(id)
	if e == nil {
		d.mu.Unlock()
		return d.reject("remove", c, id, fmt.Errorf("%w: %q in pool %s", ErrCallbackNotFound, id, c))
	}
	p.entries = slices.Delete(p.entries, i, i+1)
	d.mu.Unlock()

	d.event(sevInfo, false).Str("pool", c.String()).Str("id", id).Msg("callback removed")
	return nil
}

// SetCallbackEnabled switches one entry on or off, clearing any predicate.
func (d *Dispatcher) SetCallbackEnabled(c Category, id string, enabled bool) error {
	return d.updateEntry("set-enabled", c, id, func(e *entry) {
		e.enabled = enabled
		e.when = nil
	})
}

// SetCallbackEnabledFunc makes one entry's enablement a predicate evaluated at
// dispatch time. A nil predicate restores the plain enabled flag.
func (d *Dispatcher) SetCallbackEnabledFunc(c Category, id string, when func() bool) error {
	return d.updateEntry("set-enabled", c, id, func(e *entry) {
		e.when = when
	})
}

func (d *Dispatcher) updateEntry(op string, c Category, id string, fn func(*entry)) error {
	d.mu.Lock()
	p, err := d.poolLocked(c)
	if err != nil {
		d.mu.Unlock()
		return d.reject(op, c, id, err)
	}
	_, e := p.find(id)
	if e == nil {
		d.mu.Unlock()
		return d.reject(op, c, id, fmt.Errorf("%w: %q in pool %s", ErrCallbackNotFound, id, c))
	}
	fn(e)
	d.mu.Unlock()

	d.event(sevInfo, false).Str("op", op).Str("pool", c.String()).Str("id", id).Msg("callback updated")
	return nil
}

// SetCallbackEnabledEverywhere switches the entry with id on or off in every
// pool that has one and returns how many entries changed.
func (d *Dispatcher) SetCallbackEnabledEverywhere(id string, enabled bool) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, p := range d.pools {
		if _, e := p.find(id); e != nil {
			e.enabled = enabled
			e.when = nil
			n++
		}
	}
	return n
}

// DisableAllExcept disables every entry of pool c except the one with id.
// The seed ids "0" and "1" are treated as protected default handlers: they
// are always left enabled, and re-enabled if they were switched off.
func (d *Dispatcher) DisableAllExcept(c Category, id string) error {
	d.mu.Lock()
	p, err := d.poolLocked(c)
	if err != nil {
		d.mu.Unlock()
		return d.reject("disable-all-except", c, id, err)
	}
	disableAllExcept(p, id)
	d.mu.Unlock()

	d.event(sevInfo, false).Str("pool", c.String()).Str("id", id).Msg("all other callbacks disabled")
	return nil
}

// DisableAllExceptEverywhere applies DisableAllExcept to every pool.
func (d *Dispatcher) DisableAllExceptEverywhere(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.pools {
		disableAllExcept(p, id)
	}
}

func disableAllExcept(p *pool, id string) {
	for _, e := range p.entries {
		_, protected := protectedIDs[e.id]
		e.enabled = protected || e.id == id
		e.when = nil
	}
}

// IDs returns the ids of pool c in registration order.
func (d *Dispatcher) IDs(c Category) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.poolLocked(c)
	if err != nil {
		return nil, err
	}
	return p.ids(), nil
}

// AllIDs returns the ids of every pool.
func (d *Dispatcher) AllIDs() map[Category][]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[Category][]string, numCategories)
	for c, p := range d.pools {
		out[Category(c)] = p.ids()
	}
	return out
}

// Entry returns a snapshot of the entry with id in pool c.
func (d *Dispatcher) Entry(c Category, id string) (Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.poolLocked(c)
	if err != nil {
		return Entry{}, err
	}
	_, e := p.find(id)
	if e == nil {
		return Entry{}, fmt.Errorf("%w: %q in pool %s", ErrCallbackNotFound, id, c)
	}
	return e.snapshot(), nil
}
