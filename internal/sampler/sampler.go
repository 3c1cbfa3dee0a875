// Package sampler implements the Metrics Sampler (C4): on a fixed cadence,
// it reads per-pid CPU% and RSS for every Running record and reports the
// result as an inbox event the Supervisor Loop applies to its cached
// metrics, grounded on the teacher's internal/metrics/process_metrics.go
// use of gopsutil.
package sampler

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Sample is one pid's CPU%/RSS reading, or Stale=true if the read failed
// (process gone, permission denied) — sampling failures never fail the
// command that triggered them, they just mark the metric stale (spec §4.4).
type Sample struct {
	Name       string
	PID        int
	CPUPercent float64
	RSSBytes   uint64
	Stale      bool
}

// Sampler periodically reads metrics for a caller-supplied set of
// (name, pid) pairs and delivers batches of Samples to Out.
type Sampler struct {
	interval time.Duration
	Out      chan []Sample
	procs    map[int32]*process.Process // cached handles for CPUPercent delta accuracy
}

// New returns a Sampler ticking at interval (default 1s per spec §4.4).
func New(interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sampler{interval: interval, Out: make(chan []Sample, 1), procs: make(map[int32]*process.Process)}
}

// Targets is what the Supervisor Loop hands the Sampler each tick: the
// current set of Running records by pid.
type Targets map[string]int

// Run ticks until ctx is cancelled, calling getTargets() on each tick and
// pushing one Sample batch to Out. It never blocks the Supervisor Loop: a
// full Out channel means the previous batch hasn't been consumed yet, so
// the new one is dropped rather than queued.
func (s *Sampler) Run(ctx context.Context, getTargets func() Targets) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch := s.sampleOnce(getTargets())
			select {
			case s.Out <- batch:
			default:
				slog.Debug("metrics sampler: dropping batch, previous not yet consumed")
			}
		}
	}
}

func (s *Sampler) sampleOnce(targets Targets) []Sample {
	out := make([]Sample, 0, len(targets))
	seen := make(map[int32]bool, len(targets))
	for name, pid := range targets {
		p32 := int32(pid)
		seen[p32] = true
		proc, ok := s.procs[p32]
		if !ok {
			var err error
			proc, err = process.NewProcess(p32)
			if err != nil {
				out = append(out, Sample{Name: name, PID: pid, Stale: true})
				continue
			}
			s.procs[p32] = proc
		}
		cpuPct, cpuErr := proc.CPUPercent()
		memInfo, memErr := proc.MemoryInfo()
		if cpuErr != nil || memErr != nil {
			out = append(out, Sample{Name: name, PID: pid, Stale: true})
			continue
		}
		out = append(out, Sample{Name: name, PID: pid, CPUPercent: cpuPct, RSSBytes: memInfo.RSS})
	}
	for pid := range s.procs {
		if !seen[pid] {
			delete(s.procs, pid)
		}
	}
	return out
}
