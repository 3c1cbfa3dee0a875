// Package supervisor's Loop is the Supervisor Loop (C8): the single-writer
// event loop that owns the Process Table and serialises every mutation —
// client command or internal event — behind one inbox, generalising the
// teacher's per-process manager.handler CtrlMsg pattern into one central
// owner (spec §4.8).
package supervisor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/askucher/pmc/internal/history"
	"github.com/askucher/pmc/internal/logsink"
	"github.com/askucher/pmc/internal/metricsexp"
	"github.com/askucher/pmc/internal/procspec"
	"github.com/askucher/pmc/internal/restartpolicy"
	"github.com/askucher/pmc/internal/sampler"
	"github.com/askucher/pmc/internal/spawner"
	"github.com/askucher/pmc/internal/table"
	"github.com/askucher/pmc/internal/watcher"
)

// killGrace is the SIGTERM-to-SIGKILL grace period (spec §4.8 rule 4, §5).
const killGrace = 5 * time.Second

// spawnFailureWindow bounds how recent a run of spawn failures must be to
// count toward the give-up-after-three threshold (spec §4.6).
const spawnFailureWindow = 10 * time.Second

// internal inbox event types. Command (see command.go) is also delivered
// through the same inbox; everything else models an asynchronous source
// named in spec §4.8.
type exitEvent struct {
	id  int
	pid int
	res spawner.ExitResult
}

type retryEvent struct{ id int }

type reloadEvent struct{ id int }

type forceKillEvent struct{ id int }

type metricsEvent struct{ samples []sampler.Sample }

type shutdownEvent struct{}

// Loop owns the Process Table and every side-effecting collaborator. Only
// the goroutine running Run ever touches tbl, handles, restarting, or
// spawnFailures — every other field accessed from outside (targetsSnapshot)
// is an atomic, immutable snapshot, never the table itself.
type Loop struct {
	tbl         *table.Table
	logs        *logsink.Sink
	watch       *watcher.Watcher
	samp        *sampler.Sampler
	history     history.Sink
	promExp     *metricsexp.Exporter // exposition only; never consulted for a decision
	logsDir     string
	persistPath string
	baseEnv     []string

	inbox chan any

	handles       map[int]*spawner.Handle
	restarting    map[int]procspec.Spec // pending replacement spec for a record mid terminate-then-respawn
	pendingRemove map[int]bool
	spawnFailures map[int][]time.Time
	metrics       map[int]sampler.Sample

	targetsSnapshot atomic.Value // sampler.Targets
}

// New builds a Loop. baseEnv is the environment every spawned child
// inherits before its spec's own env overrides are applied. exp may be nil,
// in which case metrics exposition is skipped (it is never on the
// correctness path, only observability).
func New(logsDir, persistPath string, baseEnv []string, hist history.Sink, exp *metricsexp.Exporter) *Loop {
	if hist == nil {
		hist = history.NoopSink{}
	}
	l := &Loop{
		tbl:           table.New(),
		logs:          logsink.New(),
		watch:         watcher.New(),
		samp:          sampler.New(time.Second),
		history:       hist,
		promExp:       exp,
		logsDir:       logsDir,
		persistPath:   persistPath,
		baseEnv:       baseEnv,
		inbox:         make(chan any, 256),
		handles:       make(map[int]*spawner.Handle),
		restarting:    make(map[int]procspec.Spec),
		pendingRemove: make(map[int]bool),
		spawnFailures: make(map[int][]time.Time),
		metrics:       make(map[int]sampler.Sample),
	}
	l.targetsSnapshot.Store(sampler.Targets{})
	return l
}

// Submit enqueues cmd and blocks for its reply, or until ctx is done. Every
// Command must arrive with a nil Reply; Submit allocates it.
func (l *Loop) Submit(ctx context.Context, cmd *Command) Result {
	cmd.Reply = make(chan Result, 1)
	select {
	case l.inbox <- cmd:
	case <-ctx.Done():
		return Result{Err: &Error{Kind: ErrTimeout, Message: "command not accepted before context done"}}
	}
	select {
	case res := <-cmd.Reply:
		return res
	case <-ctx.Done():
		return Result{Err: &Error{Kind: ErrTimeout, Message: "reply not received before context done"}}
	}
}

// Shutdown requests the Loop to exit at its next inbox dequeue.
func (l *Loop) Shutdown() {
	l.inbox <- shutdownEvent{}
}

// Run is the event loop itself. Every command is applied on Run's own
// goroutine, including the file I/O some of them do: save writes and fsyncs
// the snapshot, log tailing reads both log files, and flush truncates them.
// None of these is handed to a worker, so the next inbox event waits until
// that I/O finishes.
func (l *Loop) Run(ctx context.Context) {
	go l.samp.Run(ctx, l.currentTargets)
	go l.forward(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-l.inbox:
			switch e := raw.(type) {
			case *Command:
				l.handleCommand(e)
			case exitEvent:
				l.handleExit(e)
			case retryEvent:
				l.handleRetry(e)
			case reloadEvent:
				l.handleReload(e)
			case forceKillEvent:
				l.handleForceKill(e)
			case metricsEvent:
				l.handleMetrics(e)
			case shutdownEvent:
				return
			}
		}
	}
}

// forward bridges the Watcher's and Sampler's own typed channels onto the
// single inbox, so every asynchronous source named in spec §4.8 is
// multiplexed through the same select in Run.
func (l *Loop) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-l.watch.Out:
			select {
			case l.inbox <- reloadEvent{id: req.RecordID}:
			case <-ctx.Done():
				return
			}
		case batch := <-l.samp.Out:
			select {
			case l.inbox <- metricsEvent{samples: batch}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// currentTargets is read by the Sampler's own goroutine; it never touches
// tbl, only the atomic snapshot Run refreshes on every mutation that
// changes the Running set.
func (l *Loop) currentTargets() sampler.Targets {
	return l.targetsSnapshot.Load().(sampler.Targets)
}

func (l *Loop) publishTargets() {
	t := make(sampler.Targets, l.tbl.Len())
	running := 0
	for _, rec := range l.tbl.All() {
		if rec.State == table.Running {
			t[rec.Spec.Name] = rec.PID
			running++
		}
	}
	l.targetsSnapshot.Store(t)
	if l.promExp != nil {
		l.promExp.SetRunning(running)
	}
}

// recordTransition reports a state change to the metrics exporter, a
// no-op observability hook never consulted by restart-policy decisions.
func (l *Loop) recordTransition(rec *table.Record, from, to table.State) {
	if l.promExp == nil || from == to {
		return
	}
	l.promExp.RecordTransition(rec.Spec.Name, string(from), string(to))
}

// spawnRecord attempts to spawn rec.Spec and installs the reaper before
// returning, so no exit can race ahead of it being observed (rule 7).
func (l *Loop) spawnRecord(rec *table.Record) {
	stdout, stderr := procspec.LogPaths(l.logsDir, rec.Spec.Name)
	rec.LogOut, rec.LogErr = stdout, stderr
	env := rec.Spec.EnvSlice(l.baseEnv)

	h, err := spawner.Spawn(rec.Spec, stdout, stderr, env)
	if err != nil {
		l.onSpawnFailure(rec, err)
		return
	}

	l.recordTransition(rec, rec.State, table.Running)
	rec.State = table.Running
	rec.PID = h.PID
	rec.StartedAt = time.Now()
	l.handles[rec.ID] = h
	l.history.Record(history.Event{Kind: history.EventStart, ProcessName: rec.Spec.Name, At: rec.StartedAt})
	if l.promExp != nil {
		l.promExp.IncStart(rec.Spec.Name)
	}

	if len(rec.Spec.WatchPaths) > 0 {
		if err := l.watch.Subscribe(rec.ID, rec.Spec.WatchPaths); err != nil {
			slog.Warn("supervisor: watch subscribe failed", "process", rec.Spec.Name, "error", err)
		} else {
			rec.WatcherHandle = "watching"
		}
	}
	l.publishTargets()

	id := rec.ID
	go func() {
		res := h.Wait()
		l.inbox <- exitEvent{id: id, pid: h.PID, res: res}
	}()
}

func (l *Loop) onSpawnFailure(rec *table.Record, err error) {
	now := time.Now()
	cutoff := now.Add(-spawnFailureWindow)
	recent := l.spawnFailures[rec.ID][:0:0]
	for _, t := range l.spawnFailures[rec.ID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	l.spawnFailures[rec.ID] = recent

	slog.Warn("supervisor: spawn failed", "process", rec.Spec.Name, "error", err, "consecutive", len(recent))
	if len(recent) >= 3 {
		rec.State = table.Errored
		l.history.Record(history.Event{Kind: history.EventErrored, ProcessName: rec.Spec.Name, At: now})
		return
	}
	rec.State = table.Crashed
	delay := time.Duration(len(recent)) * time.Second
	id := rec.ID
	time.AfterFunc(delay, func() { l.inbox <- retryEvent{id: id} })
}

func (l *Loop) handleRetry(e retryEvent) {
	rec := l.tbl.ByID(e.id)
	if rec == nil || rec.State == table.Running {
		return
	}
	rec.State = table.Pending
	l.spawnRecord(rec)
}

func (l *Loop) handleExit(e exitEvent) {
	rec := l.tbl.ByID(e.id)
	if rec == nil {
		return // record removed while the child was still exiting
	}
	delete(l.handles, e.id)
	rec.PID = 0
	rec.LastExit = &table.ExitInfo{Code: e.res.Code, Signal: e.res.Signal}
	l.publishTargets()

	now := time.Now()
	rec.RecentExits = append(restartpolicy.TrimWindow(rec.RecentExits, now, rec.Spec.RestartWindow), now)

	reason := restartpolicy.ReasonCrash
	replacement, isReplace := l.restarting[e.id]
	switch {
	case rec.UserStopWanted:
		reason = restartpolicy.ReasonUserStop
	case isReplace:
		reason = restartpolicy.ReasonReload
	}

	if isReplace {
		rec.Spec = replacement
		delete(l.restarting, e.id)
	}

	if l.pendingRemove[e.id] {
		delete(l.pendingRemove, e.id)
		l.finishRemove(rec)
		return
	}

	verdict := restartpolicy.Decide(restartpolicy.Input{
		Reason:       reason,
		RestartCount: rec.RestartCount,
		RecentExits:  len(rec.RecentExits),
		MaxRestarts:  rec.Spec.MaxRestarts,
	})

	switch verdict.Decision {
	case restartpolicy.DoNothing:
		l.recordTransition(rec, rec.State, table.Stopped)
		rec.State = table.Stopped
		rec.UserStopWanted = false
		l.history.Record(history.Event{Kind: history.EventStop, ProcessName: rec.Spec.Name, At: now})
		if l.promExp != nil {
			l.promExp.IncStop(rec.Spec.Name)
		}
	case restartpolicy.GiveUp:
		l.recordTransition(rec, rec.State, table.Errored)
		rec.State = table.Errored
		l.history.Record(history.Event{Kind: history.EventErrored, ProcessName: rec.Spec.Name, At: now})
	case restartpolicy.RestartImmediately:
		l.recordTransition(rec, rec.State, table.Pending)
		rec.RestartCount++
		rec.State = table.Pending
		l.history.Record(history.Event{Kind: history.EventRestart, ProcessName: rec.Spec.Name, At: now})
		if l.promExp != nil {
			l.promExp.IncRestart(rec.Spec.Name)
		}
		l.spawnRecord(rec)
	case restartpolicy.RestartAfter:
		l.recordTransition(rec, rec.State, table.Crashed)
		rec.RestartCount++
		rec.State = table.Crashed
		l.history.Record(history.Event{Kind: history.EventCrash, ProcessName: rec.Spec.Name, At: now})
		if l.promExp != nil {
			l.promExp.IncCrash(rec.Spec.Name)
		}
		id := e.id
		time.AfterFunc(verdict.Delay, func() { l.inbox <- retryEvent{id: id} })
	}
}

// beginTerminate sends SIGTERM to rec's process group and arms a grace
// timer that escalates to SIGKILL, the mechanism shared by Stop, Remove,
// Start-replace, and Watcher-driven reload (spec §4.8 rules 3, 4).
func (l *Loop) beginTerminate(rec *table.Record) {
	h, ok := l.handles[rec.ID]
	if !ok {
		return
	}
	if err := h.Signal(syscall.SIGTERM); err != nil {
		slog.Warn("supervisor: SIGTERM failed", "process", rec.Spec.Name, "error", err)
	}
	id := rec.ID
	time.AfterFunc(killGrace, func() { l.inbox <- forceKillEvent{id: id} })
}

func (l *Loop) handleForceKill(e forceKillEvent) {
	rec := l.tbl.ByID(e.id)
	if rec == nil || rec.State != table.Running {
		return
	}
	h, ok := l.handles[e.id]
	if !ok {
		return
	}
	if err := h.Signal(syscall.SIGKILL); err != nil {
		slog.Warn("supervisor: SIGKILL failed", "process", rec.Spec.Name, "error", err)
	}
}

// handleReload answers a Watcher's debounced ReloadRequest by replacing the
// record in place with its own current spec (spec §4.5: the Watcher only
// proposes, the Loop decides).
func (l *Loop) handleReload(e reloadEvent) {
	rec := l.tbl.ByID(e.id)
	if rec == nil {
		return
	}
	l.restarting[rec.ID] = rec.Spec
	if rec.State == table.Running {
		l.beginTerminate(rec)
		return
	}
	rec.Spec = l.restarting[rec.ID]
	delete(l.restarting, rec.ID)
	rec.State = table.Pending
	l.spawnRecord(rec)
}

func (l *Loop) handleMetrics(e metricsEvent) {
	for _, s := range e.samples {
		rec := l.tbl.ByName(s.Name)
		if rec == nil {
			continue
		}
		l.metrics[rec.ID] = s
		if l.promExp != nil && !s.Stale {
			l.promExp.SetSample(s.Name, s.CPUPercent, s.RSSBytes)
		}
	}
}

func (l *Loop) finishRemove(rec *table.Record) {
	if rec.WatcherHandle != "" {
		l.watch.Unsubscribe(rec.ID)
	}
	l.tbl.Remove(rec.ID)
	delete(l.metrics, rec.ID)
	delete(l.spawnFailures, rec.ID)
	l.publishTargets()
}
