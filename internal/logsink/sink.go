// Package logsink implements the Log Sink (C3): best-effort tailing and
// live streaming of the two append-only files captured for each managed
// process, plus the truncate-based flush operation.
package logsink

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// subscriberQueueSize bounds the per-subscriber backlog; a slow reader is
// dropped rather than allowed to block a child's own writes (spec §4.3).
const subscriberQueueSize = 256

// Line is one captured output line, tagged with which stream it came from
// and a best-effort timestamp (spec Open Question (c): files carry no
// in-band timestamp, so Tail stamps every line with its file's mtime and
// sorts stably by that, keeping stdout lines before stderr lines when the
// stamps tie; Stream stamps each line with the time it was read).
type Line struct {
	Stream string // "stdout" or "stderr"
	Text   string
	At     time.Time
}

// Sink manages tail/stream/flush for every process's pair of log files.
type Sink struct {
	mu   sync.Mutex
	subs map[string][]*subscriber // name -> live subscribers
}

type subscriber struct {
	ch     chan Line
	cancel chan struct{}
}

// New returns an empty Sink.
func New() *Sink { return &Sink{subs: make(map[string][]*subscriber)} }

// Tail returns up to n most recent lines from both stdoutPath and
// stderrPath, interleaved in best-effort chronological order. It reads
// lazily from the tail of each file rather than scanning the whole file.
func Tail(stdoutPath, stderrPath string, n int) ([]Line, error) {
	outLines, err := tailFile(stdoutPath, "stdout", n)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	errLines, err := tailFile(stderrPath, "stderr", n)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	merged := append(outLines, errLines...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].At.Before(merged[j].At) })
	if len(merged) > n {
		merged = merged[len(merged)-n:]
	}
	return merged, nil
}

// tailFile reads the last n lines of path without scanning the whole file:
// it seeks backward in growing chunks until it has collected n newlines or
// hit the start of the file. Every line returned is stamped with the
// file's mtime, since neither stream carries an in-band timestamp.
func tailFile(path, stream string, n int) ([]Line, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	mtime := info.ModTime()
	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	const chunk = 64 * 1024
	var buf []byte
	pos := size
	newlines := 0
	for pos > 0 && newlines <= n {
		readSize := int64(chunk)
		if readSize > pos {
			readSize = pos
		}
		pos -= readSize
		tmp := make([]byte, readSize)
		if _, err := f.ReadAt(tmp, pos); err != nil && err != io.EOF {
			return nil, err
		}
		buf = append(tmp, buf...)
		newlines = bytes.Count(buf, []byte("\n"))
	}

	text := strings.TrimRight(string(buf), "\n")
	if text == "" {
		return nil, nil
	}
	all := strings.Split(text, "\n")
	if len(all) > n {
		all = all[len(all)-n:]
	}
	out := make([]Line, 0, len(all))
	for _, l := range all {
		out = append(out, Line{Stream: stream, Text: l, At: mtime})
	}
	return out, nil
}

// Stream begins tailing stdoutPath/stderrPath for new lines appended after
// the subscription point (each file's size when Stream is called) and
// returns a channel of Lines plus a cancel function. Cancel stops both
// pollers but does not close the channel; the channel is closed only when
// the subscriber is dropped for being slow.
func (s *Sink) Stream(name, stdoutPath, stderrPath string) (<-chan Line, func()) {
	sub := &subscriber{ch: make(chan Line, subscriberQueueSize), cancel: make(chan struct{})}
	s.mu.Lock()
	s.subs[name] = append(s.subs[name], sub)
	s.mu.Unlock()

	sizeOf := func(path string) int64 {
		if info, err := os.Stat(path); err == nil {
			return info.Size()
		}
		return 0
	}
	go s.tailAppends(name, stdoutPath, "stdout", sizeOf(stdoutPath), sub)
	go s.tailAppends(name, stderrPath, "stderr", sizeOf(stderrPath), sub)

	cancelFn := func() {
		close(sub.cancel)
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.subs[name]
		for i, x := range list {
			if x == sub {
				s.subs[name] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	return sub.ch, cancelFn
}

// tailAppends polls path for growth past offset and forwards new lines to
// sub.ch, dropping the subscriber (closing its channel) if the queue is full
// rather than ever blocking the writer side.
func (s *Sink) tailAppends(name, path, stream string, offset int64, sub *subscriber) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()
	_, _ = f.Seek(offset, io.SeekStart)
	reader := bufio.NewReader(f)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-sub.cancel:
			return
		case <-ticker.C:
			for {
				line, err := reader.ReadString('\n')
				if line != "" {
					trimmed := bytes.TrimRight([]byte(line), "\n")
					select {
					case sub.ch <- Line{Stream: stream, Text: string(trimmed), At: time.Now()}:
					default:
						slog.Warn("log subscriber too slow, dropping", "process", name, "stream", stream)
						close(sub.ch)
						return
					}
				}
				if err != nil {
					break
				}
			}
		}
	}
}

// Flush truncates both files to zero length atomically: open with
// O_TRUNC and let the filesystem swap the extent, so a writer mid-append
// either lands entirely before or entirely after the truncation, never
// interleaved with a partial write (spec §8 "flush ... does not lose
// in-flight lines written after flush returns").
func Flush(stdoutPath, stderrPath string) error {
	if err := truncate(stdoutPath); err != nil {
		return err
	}
	return truncate(stderrPath)
}

func truncate(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return f.Close()
}
