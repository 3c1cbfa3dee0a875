package supervisor

import (
	"fmt"
	"time"

	"github.com/askucher/pmc/internal/logsink"
	"github.com/askucher/pmc/internal/persistence"
	"github.com/askucher/pmc/internal/procspec"
	"github.com/askucher/pmc/internal/sampler"
	"github.com/askucher/pmc/internal/spawner"
	"github.com/askucher/pmc/internal/table"
)

// handleCommand dispatches one client Command and always sends a Result on
// its Reply channel before the next inbox event is dequeued (rule 2), the
// one exception being KindLogsStream, whose reply carries a channel that
// keeps delivering after the reply itself is sent.
func (l *Loop) handleCommand(cmd *Command) {
	var res Result
	switch cmd.Kind {
	case KindStart:
		res = l.cmdStart(cmd)
	case KindStop:
		res = l.cmdStop(cmd)
	case KindRemove:
		res = l.cmdRemove(cmd)
	case KindList:
		res = l.cmdList()
	case KindDetails:
		res = l.cmdDetails(cmd)
	case KindEnv:
		res = l.cmdEnv(cmd)
	case KindLogsTail:
		res = l.cmdLogsTail(cmd)
	case KindLogsStream:
		res = l.cmdLogsStream(cmd)
	case KindFlush:
		res = l.cmdFlush(cmd)
	case KindSave:
		res = l.cmdSave()
	case KindRestore:
		res = l.cmdRestore()
	case KindImport:
		res = l.cmdImport(cmd)
	case KindExport:
		res = l.cmdExport(cmd)
	case KindReset:
		res = l.cmdReset()
	default:
		res = Result{Err: &Error{Kind: ErrInternal, Message: "unknown command kind"}}
	}
	cmd.Reply <- res
}

func (l *Loop) cmdStart(cmd *Command) Result {
	spec := cmd.Spec
	if err := spec.Validate(); err != nil {
		return Result{Err: &Error{Kind: ErrInvalidSpec, Message: err.Error()}}
	}

	existing := l.tbl.ByName(spec.Name)
	if existing == nil {
		rec := l.tbl.Insert(spec)
		l.spawnRecord(rec)
		return Result{View: l.view(rec)}
	}

	// Idempotent Start on an existing name (spec §4.8 rule 3).
	if existing.State == table.Running {
		l.restarting[existing.ID] = spec
		l.beginTerminate(existing)
		return Result{View: l.view(existing)}
	}
	existing.Spec = spec
	existing.State = table.Pending
	existing.RestartCount = 0
	existing.RecentExits = nil
	l.spawnRecord(existing)
	return Result{View: l.view(existing)}
}

func (l *Loop) cmdStop(cmd *Command) Result {
	recs := l.tbl.Resolve(cmd.Target)
	if len(recs) == 0 {
		return Result{Err: &Error{Kind: ErrNotFound, Message: "no matching process: " + cmd.Target}}
	}
	views := make([]ProcessView, 0, len(recs))
	for _, rec := range recs {
		if rec.State == table.Running {
			rec.UserStopWanted = true
			l.beginTerminate(rec)
		}
		views = append(views, *l.view(rec))
	}
	if len(views) == 1 {
		return Result{View: &views[0]}
	}
	return Result{Views: views}
}

func (l *Loop) cmdRemove(cmd *Command) Result {
	recs := l.tbl.Resolve(cmd.Target)
	if len(recs) == 0 {
		return Result{Err: &Error{Kind: ErrNotFound, Message: "no matching process: " + cmd.Target}}
	}
	// "Remove all" issues every SIGTERM before any wait (rule 5): the loop
	// below does exactly that, since beginTerminate only arms a timer.
	for _, rec := range recs {
		if rec.State == table.Running {
			rec.UserStopWanted = true
			l.pendingRemove[rec.ID] = true
			l.beginTerminate(rec)
			continue
		}
		l.finishRemove(rec)
	}
	return Result{}
}

func (l *Loop) cmdList() Result {
	recs := l.tbl.All()
	views := make([]ProcessView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, *l.view(rec))
	}
	return Result{Views: views}
}

func (l *Loop) cmdDetails(cmd *Command) Result {
	rec := l.tbl.Lookup(cmd.Target)
	if rec == nil {
		return Result{Err: &Error{Kind: ErrNotFound, Message: "no such process: " + cmd.Target}}
	}
	return Result{View: l.view(rec)}
}

func (l *Loop) cmdEnv(cmd *Command) Result {
	rec := l.tbl.Lookup(cmd.Target)
	if rec == nil {
		return Result{Err: &Error{Kind: ErrNotFound, Message: "no such process: " + cmd.Target}}
	}
	spec := rec.Spec
	return Result{Spec: &spec}
}

func (l *Loop) cmdLogsTail(cmd *Command) Result {
	rec := l.tbl.Lookup(cmd.Target)
	if rec == nil {
		return Result{Err: &Error{Kind: ErrNotFound, Message: "no such process: " + cmd.Target}}
	}
	n := cmd.Lines
	if n <= 0 {
		n = 100
	}
	lines, err := logsink.Tail(rec.LogOut, rec.LogErr, n)
	if err != nil {
		return Result{Err: &Error{Kind: ErrInternal, Message: err.Error()}}
	}
	return Result{Lines: lines}
}

func (l *Loop) cmdLogsStream(cmd *Command) Result {
	rec := l.tbl.Lookup(cmd.Target)
	if rec == nil {
		return Result{Err: &Error{Kind: ErrNotFound, Message: "no such process: " + cmd.Target}}
	}
	ch, cancel := l.logs.Stream(rec.Spec.Name, rec.LogOut, rec.LogErr)
	return Result{StreamCh: ch, Cancel: cancel}
}

func (l *Loop) cmdFlush(cmd *Command) Result {
	recs := l.tbl.Resolve(cmd.Target)
	if len(recs) == 0 {
		return Result{Err: &Error{Kind: ErrNotFound, Message: "no matching process: " + cmd.Target}}
	}
	var firstErr error
	for _, rec := range recs {
		if err := logsink.Flush(rec.LogOut, rec.LogErr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return Result{Err: &Error{Kind: ErrInternal, Message: firstErr.Error()}}
	}
	return Result{}
}

func (l *Loop) cmdSave() Result {
	recs := l.tbl.All()
	snap := persistence.Snapshot{Entries: make([]persistence.Entry, 0, len(recs))}
	for _, rec := range recs {
		state := persistence.RehydrateStopped
		if rec.State == table.Running {
			state = persistence.RehydrateRunning
		}
		snap.Entries = append(snap.Entries, persistence.Entry{Spec: rec.Spec, State: state})
	}
	if err := persistence.Save(l.persistPath, snap); err != nil {
		return Result{Err: &Error{Kind: ErrInternal, Message: err.Error()}}
	}
	return Result{}
}

func (l *Loop) cmdRestore() Result {
	snap, loadErrs, err := persistence.Load(l.persistPath)
	if err != nil {
		return Result{Err: &Error{Kind: ErrInternal, Message: err.Error()}}
	}
	perRecord := append([]error(nil), loadErrs...)
	for _, entry := range snap.Entries {
		if l.tbl.ByName(entry.Spec.Name) != nil {
			perRecord = append(perRecord, fmt.Errorf("process %q already present, skipped restore", entry.Spec.Name))
			continue
		}
		rec := l.tbl.Insert(entry.Spec)
		if entry.State == persistence.RehydrateRunning {
			l.spawnRecord(rec)
		} else {
			rec.State = table.Stopped
		}
	}
	return Result{PerRecord: perRecord}
}

func (l *Loop) cmdImport(cmd *Command) Result {
	spec := cmd.Spec
	if err := spec.Validate(); err != nil {
		return Result{Err: &Error{Kind: ErrInvalidSpec, Message: err.Error()}}
	}
	if l.tbl.ByName(spec.Name) != nil {
		return Result{Err: &Error{Kind: ErrAlreadyExists, Message: "process already registered: " + spec.Name}}
	}
	rec := l.tbl.Insert(spec)
	rec.State = table.Stopped
	return Result{View: l.view(rec)}
}

func (l *Loop) cmdExport(cmd *Command) Result {
	rec := l.tbl.Lookup(cmd.Target)
	if rec == nil {
		return Result{Err: &Error{Kind: ErrNotFound, Message: "no such process: " + cmd.Target}}
	}
	spec := rec.Spec
	return Result{Spec: &spec, View: l.view(rec)}
}

func (l *Loop) cmdReset() Result {
	if l.tbl.Len() != 0 {
		return Result{Err: &Error{Kind: ErrConflict, Message: "table not empty, remove all processes before reset"}}
	}
	l.tbl.Reset()
	l.handles = make(map[int]*spawner.Handle)
	l.restarting = make(map[int]procspec.Spec)
	l.pendingRemove = make(map[int]bool)
	l.spawnFailures = make(map[int][]time.Time)
	l.metrics = make(map[int]sampler.Sample)
	return Result{}
}

// view builds the client-facing snapshot of rec, never a pointer into the
// live record (spec §4.9).
func (l *Loop) view(rec *table.Record) *ProcessView {
	v := &ProcessView{
		ID:           rec.ID,
		Name:         rec.Spec.Name,
		State:        rec.State,
		PID:          rec.PID,
		RestartCount: rec.RestartCount,
		LastExit:     rec.LastExit,
		LogOut:       rec.LogOut,
		LogErr:       rec.LogErr,
	}
	if rec.State == table.Running && !rec.StartedAt.IsZero() {
		v.Uptime = time.Since(rec.StartedAt)
	}
	if sample, ok := l.metrics[rec.ID]; ok && !sample.Stale {
		v.CPUPercent = sample.CPUPercent
		v.RSSBytes = sample.RSSBytes
	}
	return v
}
