package spawner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/askucher/pmc/internal/procspec"
)

func TestSpawnAndWaitCapturesOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.log")
	errp := filepath.Join(dir, "err.log")
	spec := procspec.Spec{Name: "t", Script: "echo hello"}
	h, err := Spawn(spec, out, errp, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if h.PID <= 0 {
		t.Fatalf("expected positive pid, got %d", h.PID)
	}
	res := h.Wait()
	if res.Err != nil {
		t.Fatalf("unexpected exit error: %v", res.Err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read stdout log: %v", err)
	}
	if string(b) != "hello\n" {
		t.Fatalf("unexpected captured output: %q", b)
	}
}

func TestSpawnNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.log")
	errp := filepath.Join(dir, "err.log")
	spec := procspec.Spec{Name: "t", Shell: "/bin/sh", Script: "exit 3"}
	h, err := Spawn(spec, out, errp, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	res := h.Wait()
	if res.Code != 3 {
		t.Fatalf("expected exit code 3, got %d (err=%v)", res.Code, res.Err)
	}
}

func TestSpawnExecNotFoundIsSpawnError(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.log")
	errp := filepath.Join(dir, "err.log")
	spec := procspec.Spec{Name: "t", Script: "/no/such/binary-xyz"}
	_, err := Spawn(spec, out, errp, nil)
	if err == nil {
		t.Fatalf("expected SpawnError for missing binary")
	}
	if _, ok := err.(*SpawnError); !ok {
		t.Fatalf("expected *SpawnError, got %T: %v", err, err)
	}
}
