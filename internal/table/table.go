// Package table implements the Process Table (C1): the in-memory
// authoritative registry of managed processes and their runtime state. It
// is owned exclusively by the Supervisor Loop — nothing outside that
// single goroutine ever calls these methods concurrently, so the type
// itself carries no locking, the same way the teacher's manager.Manager
// protected its map with a mutex only because several goroutines touched
// it directly; here a single owner makes the lock unnecessary.
package table

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/askucher/pmc/internal/procspec"
)

// State is the lifecycle state of a ProcessRecord.
type State string

const (
	Pending State = "pending"
	Running State = "running"
	Stopped State = "stopped"
	Crashed State = "crashed"
	Errored State = "errored"
)

// ExitInfo captures the most recent termination of a managed process.
type ExitInfo struct {
	Code   int
	Signal string
}

// Record is a single managed process entry. Field names mirror
// ProcessRecord in the spec's data model.
type Record struct {
	ID             int
	Spec           procspec.Spec
	State          State
	PID            int
	StartedAt      time.Time
	RestartCount   int
	RecentExits    []time.Time // monotonic-derived; see restartpolicy
	LastExit       *ExitInfo
	LogOut         string
	LogErr         string
	WatcherHandle  string // non-empty iff a Watcher subscription is registered
	UserStopWanted bool   // consulted by the reaper to distinguish user_stop from crash
}

// Table is the authoritative process registry.
type Table struct {
	byID   map[int]*Record
	byName map[string]int
	nextID int
}

// New returns an empty Table.
func New() *Table {
	return &Table{byID: make(map[int]*Record), byName: make(map[string]int)}
}

// Insert allocates a fresh id for spec.Name and stores a Pending record.
// The caller must have already checked ByName(spec.Name) to honour the
// idempotent-Start semantics described in the Supervisor Loop design.
func (t *Table) Insert(spec procspec.Spec) *Record {
	t.nextID++
	r := &Record{ID: t.nextID, Spec: spec, State: Pending}
	t.byID[r.ID] = r
	t.byName[spec.Name] = r.ID
	return r
}

// Lookup resolves either a numeric id string or a process name. On
// ambiguity (a name that also parses as a number) numeric parse wins, per
// spec §4.1.
func (t *Table) Lookup(idOrName string) *Record {
	if n, err := strconv.Atoi(idOrName); err == nil {
		return t.byID[n]
	}
	id, ok := t.byName[idOrName]
	if !ok {
		return nil
	}
	return t.byID[id]
}

// ByID returns the record for id, or nil.
func (t *Table) ByID(id int) *Record {
	return t.byID[id]
}

// ByName returns the record for name, or nil.
func (t *Table) ByName(name string) *Record {
	id, ok := t.byName[name]
	if !ok {
		return nil
	}
	return t.byID[id]
}

// ExpandAll resolves the special "all" token into every record's
// current id, evaluated at the moment of the call.
func (t *Table) ExpandAll() []*Record {
	out := make([]*Record, 0, len(t.byID))
	for _, r := range t.byID {
		out = append(out, r)
	}
	return out
}

// Resolve expands a target argument: either "all", a single id/name, or a
// '*'-wildcard pattern matched against names.
func (t *Table) Resolve(target string) []*Record {
	if target == "all" {
		return t.ExpandAll()
	}
	if strings.Contains(target, "*") {
		var out []*Record
		for name, id := range t.byName {
			if wildcardMatch(name, target) {
				out = append(out, t.byID[id])
			}
		}
		return out
	}
	if r := t.Lookup(target); r != nil {
		return []*Record{r}
	}
	return nil
}

// Remove deletes a record by id. Returns false if the id was unknown.
func (t *Table) Remove(id int) bool {
	r, ok := t.byID[id]
	if !ok {
		return false
	}
	delete(t.byID, id)
	delete(t.byName, r.Spec.Name)
	return true
}

// All returns every record, in no particular order.
func (t *Table) All() []*Record {
	return t.ExpandAll()
}

// Len reports the number of records currently tracked.
func (t *Table) Len() int { return len(t.byID) }

// Reset clears the table and resets the id allocator to 0. The caller
// (Supervisor Loop) must have already verified the table is empty, per
// Command Surface C9's Reset semantics.
func (t *Table) Reset() {
	t.byID = make(map[int]*Record)
	t.byName = make(map[string]int)
	t.nextID = 0
}

// wildcardMatchCache avoids recompiling the same pattern's regexp on every
// Resolve call against a wildcard target — process names churn far less
// than lookups against them.
var wildcardMatchCache = map[string]*regexp.Regexp{}

// wildcardMatch matches name against pattern, where '*' stands for any run
// of characters (spec §4.8's `all`/wildcard target expansion). Unlike the
// teacher's manager.wildcardMatch, which hand-scans ordered segments, this
// compiles pattern into an anchored regexp by escaping every literal run
// between '*'s — the same "ordered segments in between the stars" contract,
// expressed as a pattern Go's regexp engine matches instead of a manual
// index walk.
func wildcardMatch(name, pattern string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return name == pattern
	}
	re, ok := wildcardMatchCache[pattern]
	if !ok {
		segments := strings.Split(pattern, "*")
		quoted := make([]string, len(segments))
		for i, s := range segments {
			quoted[i] = regexp.QuoteMeta(s)
		}
		re = regexp.MustCompile("^" + strings.Join(quoted, ".*") + "$")
		wildcardMatchCache[pattern] = re
	}
	return re.MatchString(name)
}
