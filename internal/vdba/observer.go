package vdba

import "time"

// EventKind names a lifecycle or transaction outcome.
type EventKind string

// Event kinds emitted by a Connection.
const (
	EventOpened     EventKind = "opened"
	EventOpenFailed EventKind = "open_failed"
	EventClosed     EventKind = "closed"
	EventCommitted  EventKind = "committed"
	EventRolledBack EventKind = "rolled_back"
)

// Event describes one completed lifecycle operation or transaction.
type Event struct {
	Kind         EventKind
	ConnectionID string
	Driver       string
	Mode         Mode
	Time         time.Time
	Duration     time.Duration

	// Err is the failure that caused the event, if any. For EventRolledBack
	// it is the error returned to the caller.
	Err error
}

// Observer receives connection events. Observe is called synchronously on
// the goroutine that completed the operation and must not block or call
// back into the connection.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// Observe calls f(ev).
func (f ObserverFunc) Observe(ev Event) { f(ev) }

type multiObserver []Observer

func (m multiObserver) Observe(ev Event) {
	for _, o := range m {
		o.Observe(ev)
	}
}

// Observers returns an Observer that forwards to every non-nil observer.
func Observers(observers ...Observer) Observer {
	var out multiObserver
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// Logger is the logging interface accepted by connections.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
