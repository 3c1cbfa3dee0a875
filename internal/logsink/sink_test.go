package logsink

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()
	for _, l := range lines {
		if _, err := f.WriteString(l + "\n"); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func TestTailReturnsLastNLines(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.log")
	errp := filepath.Join(dir, "err.log")
	writeLines(t, out, "a", "b", "c", "d")
	lines, err := Tail(out, errp, 2)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(lines) != 2 || lines[0].Text != "c" || lines[1].Text != "d" {
		t.Fatalf("unexpected tail result: %+v", lines)
	}
}

func TestTailMissingFilesIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	_, err := Tail(filepath.Join(dir, "missing-out.log"), filepath.Join(dir, "missing-err.log"), 10)
	if err != nil {
		t.Fatalf("expected no error for missing files, got %v", err)
	}
}

func TestFlushTruncatesBothFiles(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.log")
	errp := filepath.Join(dir, "err.log")
	writeLines(t, out, "a")
	writeLines(t, errp, "b")
	if err := Flush(out, errp); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	for _, p := range []string{out, errp} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("stat %s: %v", p, err)
		}
		if info.Size() != 0 {
			t.Fatalf("expected %s truncated to zero, got size %d", p, info.Size())
		}
	}
}

func TestFlushOnMissingFileIsNoop(t *testing.T) {
	dir := t.TempDir()
	if err := Flush(filepath.Join(dir, "missing-out.log"), filepath.Join(dir, "missing-err.log")); err != nil {
		t.Fatalf("expected no error flushing missing files, got %v", err)
	}
}

func TestStreamYieldsAppendedLines(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.log")
	errp := filepath.Join(dir, "err.log")
	writeLines(t, out, "existing")
	if err := os.WriteFile(errp, nil, 0o640); err != nil {
		t.Fatalf("create err file: %v", err)
	}

	s := New()
	ch, cancel := s.Stream("proc", out, errp)
	defer cancel()

	writeLines(t, out, "fresh")

	select {
	case line := <-ch:
		if line.Text != "fresh" {
			t.Fatalf("expected 'fresh', got %q", line.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for streamed line")
	}
}
