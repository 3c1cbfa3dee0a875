// Package history defines the pluggable lifecycle history sink the
// Supervisor Loop reports start/stop/restart/crash events to. It is an
// optional observability add-on reinstating a feature the distilled spec
// dropped but the teacher carried (internal/history, internal/store); it is
// never on the correctness path of the Process Table or Restart Policy
// Engine, so a Sink failure only logs, it never affects a command's result.
package history

import (
	"log/slog"
	"time"
)

// EventKind is the lifecycle transition being recorded.
type EventKind string

const (
	EventStart   EventKind = "start"
	EventStop    EventKind = "stop"
	EventRestart EventKind = "restart"
	EventCrash   EventKind = "crash"
	EventErrored EventKind = "errored"
)

// Event is one lifecycle transition for one process.
type Event struct {
	Kind        EventKind
	ProcessName string
	At          time.Time
}

// Sink receives lifecycle events. Record is called synchronously from Run.
// The sqlite and postgres Sinks write to their database before Record
// returns and do no buffering, so a slow database delays the Supervisor
// Loop for the length of each write.
type Sink interface {
	Record(Event)
	Close() error
}

// NoopSink discards every event; it's the default when no history backend
// is configured.
type NoopSink struct{}

func (NoopSink) Record(Event) {}
func (NoopSink) Close() error { return nil }

// LoggingSink records every event through slog. factory.NewFromDSN never
// returns it: a backend that fails to open is reported as an error.
type LoggingSink struct{}

func (LoggingSink) Record(e Event) {
	slog.Info("history event", "kind", e.Kind, "process", e.ProcessName, "at", e.At)
}

func (LoggingSink) Close() error { return nil }
