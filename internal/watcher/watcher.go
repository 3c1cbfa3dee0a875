// Package watcher implements the Watcher (C5): one recursive fsnotify
// subscription per record with non-empty watch paths, coalescing bursts of
// filesystem events into a single debounced ReloadRequest, grounded on the
// kandev agentctl workspace monitor's debounce-timer pattern.
package watcher

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceWindow collapses bursts of events (editors routinely emit
// write+rename+chmod per save) into one reload per spec §4.5/§9.
const DebounceWindow = 250 * time.Millisecond

// ReloadRequest is emitted once per debounce window for a record whose
// watched paths changed.
type ReloadRequest struct {
	RecordID int
}

// Watcher owns one fsnotify.Watcher and a debounce timer per subscribed
// record, fanning ReloadRequests into Out.
type Watcher struct {
	mu   sync.Mutex
	subs map[int]*subscription
	Out  chan ReloadRequest
}

type subscription struct {
	fsw     *fsnotify.Watcher
	timer   *time.Timer
	stop    chan struct{}
	root    string
}

// New returns an empty Watcher. Out has a small buffer so a burst of
// reload requests across distinct records doesn't stall fsnotify's event
// goroutine; the Supervisor Loop is expected to drain it promptly since
// it's part of the same inbox multiplexing described in spec §4.8.
func New() *Watcher {
	return &Watcher{subs: make(map[int]*subscription), Out: make(chan ReloadRequest, 64)}
}

// Subscribe registers a recursive watch over paths for recordID. Per
// invariant 6, a record may have at most one subscription; Subscribe
// replaces any existing one for the same id.
func (w *Watcher) Subscribe(recordID int, paths []string) error {
	w.Unsubscribe(recordID)
	if len(paths) == 0 {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, root := range paths {
		if err := addRecursive(fsw, root); err != nil {
			_ = fsw.Close()
			return err
		}
	}
	sub := &subscription{fsw: fsw, stop: make(chan struct{})}
	w.mu.Lock()
	w.subs[recordID] = sub
	w.mu.Unlock()
	go w.run(recordID, sub)
	return nil
}

// Unsubscribe tears down recordID's watch, if any. A backend failure
// during Subscribe must not leave a half-registered subscription behind,
// so Unsubscribe is also used internally before re-subscribing.
func (w *Watcher) Unsubscribe(recordID int) {
	w.mu.Lock()
	sub, ok := w.subs[recordID]
	if ok {
		delete(w.subs, recordID)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	close(sub.stop)
	_ = sub.fsw.Close()
}

func (w *Watcher) run(recordID int, sub *subscription) {
	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-sub.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-sub.fsw.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod && event.Op == fsnotify.Chmod {
				continue
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = addRecursive(sub.fsw, event.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(DebounceWindow)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(DebounceWindow)
			}
			timerC = timer.C
		case <-timerC:
			select {
			case w.Out <- ReloadRequest{RecordID: recordID}:
			default:
				slog.Warn("watcher: reload request dropped, inbox full", "record_id", recordID)
			}
			timer = nil
			timerC = nil
		case _, ok := <-sub.fsw.Errors:
			if !ok {
				return
			}
			// A backend failure disables watching for this record only
			// (spec §7): stop this subscription, leave the record state
			// untouched, and let the caller observe the missing handle.
			slog.Warn("watcher: backend error, disabling watch for record", "record_id", recordID)
			w.Unsubscribe(recordID)
			return
		}
	}
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}
