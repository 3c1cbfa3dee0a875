package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSubscribeDebouncesBurstIntoSingleReload(t *testing.T) {
	dir := t.TempDir()
	w := New()
	if err := w.Subscribe(1, []string{dir}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer w.Unsubscribe(1)

	// Burst of writes within the debounce window.
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(filepath.Join(dir, "x.ts"), []byte("v"), 0o640); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case req := <-w.Out:
		if req.RecordID != 1 {
			t.Fatalf("expected record id 1, got %d", req.RecordID)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("timed out waiting for debounced reload request")
	}

	// No second reload should arrive from the same burst.
	select {
	case req := <-w.Out:
		t.Fatalf("expected exactly one reload request for the burst, got extra: %+v", req)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestUnsubscribeStopsFurtherEvents(t *testing.T) {
	dir := t.TempDir()
	w := New()
	if err := w.Subscribe(2, []string{dir}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	w.Unsubscribe(2)

	if err := os.WriteFile(filepath.Join(dir, "y.ts"), []byte("v"), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case req := <-w.Out:
		t.Fatalf("expected no reload after unsubscribe, got %+v", req)
	case <-time.After(500 * time.Millisecond):
	}
}
