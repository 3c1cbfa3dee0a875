package sampler

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"
)

func TestSampleOnceReportsSelfPID(t *testing.T) {
	s := New(10 * time.Millisecond)
	targets := Targets{"self": os.Getpid()}
	batch := s.sampleOnce(targets)
	if len(batch) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(batch))
	}
	if batch[0].Stale {
		t.Fatalf("expected live sample for our own pid")
	}
}

func TestSampleOnceMarksGoneProcessStale(t *testing.T) {
	cmd := exec.Command("/bin/true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("run /bin/true: %v", err)
	}
	s := New(10 * time.Millisecond)
	batch := s.sampleOnce(Targets{"gone": cmd.Process.Pid})
	if len(batch) != 1 || !batch[0].Stale {
		t.Fatalf("expected stale sample for reaped pid, got %+v", batch)
	}
}

func TestRunDeliversBatchesUntilCancelled(t *testing.T) {
	s := New(5 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx, func() Targets { return Targets{"self": os.Getpid()} })
	select {
	case batch := <-s.Out:
		if len(batch) != 1 {
			t.Fatalf("expected 1 sample in batch, got %d", len(batch))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a sample batch")
	}
	cancel()
}
