package dispatcher

import (
	"github.com/gaborage/go-dispatch/logger"
)

type severity int

const (
	sevInfo severity = iota
	sevWarning
	sevError
)

// event starts a log event. Informational events are dropped unless the
// dispatcher is verbose or force is set.
func (d *Dispatcher) event(sev severity, force bool) logger.LogEvent {
	l := d.logger
	if !force && !d.verbose.Load() {
		l = d.nop
	}
	switch sev {
	case sevWarning:
		return l.Warn()
	case sevError:
		return l.Error()
	default:
		return l.Info()
	}
}
