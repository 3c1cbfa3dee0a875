// Package supervisor implements the Supervisor Loop (C8) and the Command
// Surface (C9) it serves: a single-writer event loop that owns the
// Process Table and applies every mutation — client command or internal
// event — one at a time.
package supervisor

import (
	"time"

	"github.com/askucher/pmc/internal/logsink"
	"github.com/askucher/pmc/internal/procspec"
	"github.com/askucher/pmc/internal/table"
)

// Kind enumerates the client commands the Command Surface accepts,
// mirroring spec §4.8's verb list.
type Kind int

const (
	KindStart Kind = iota
	KindStop
	KindRemove
	KindList
	KindDetails
	KindEnv
	KindLogsTail
	KindLogsStream
	KindFlush
	KindSave
	KindRestore
	KindImport
	KindExport
	KindReset
)

// ErrorKind is the typed error surfaced to clients (spec §7).
type ErrorKind string

const (
	ErrNotFound          ErrorKind = "NotFound"
	ErrAlreadyExists     ErrorKind = "AlreadyExists"
	ErrSpawnFailed       ErrorKind = "SpawnFailed"
	ErrInvalidSpec       ErrorKind = "InvalidSpec"
	ErrDaemonUnavailable ErrorKind = "DaemonUnavailable"
	ErrTimeout           ErrorKind = "Timeout"
	ErrUnauthorized      ErrorKind = "Unauthorized"
	ErrConflict          ErrorKind = "Conflict"
	ErrInternal          ErrorKind = "Internal"
)

// Error is the envelope returned for a failed command.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

// ProcessView is the value type returned to clients — a read-only
// snapshot, never a pointer into the live Process Table (spec §4.9).
type ProcessView struct {
	ID           int
	Name         string
	State        table.State
	PID          int
	RestartCount int
	Uptime       time.Duration
	CPUPercent   float64
	RSSBytes     uint64
	LastExit     *table.ExitInfo
	LogOut       string
	LogErr       string
}

// Command is a request/response pair submitted to the Loop's inbox. Every
// command carries a reply channel; KindLogsStream's reply arrives
// immediately with a subscription handle rather than waiting for the
// stream to end (spec §4.8 rule 2).
type Command struct {
	Kind   Kind
	Target string // id, name, "all", or a '*' wildcard
	Spec   procspec.Spec
	Lines  int
	Wait   time.Duration
	Reply  chan Result
}

// Result is what a Command's Reply channel receives.
type Result struct {
	View      *ProcessView
	Views     []ProcessView
	Spec      *procspec.Spec
	Lines     []logsink.Line
	StreamCh  <-chan logsink.Line
	Cancel    func()
	PerRecord []error
	Err       *Error
}
