package restartpolicy

import (
	"testing"
	"time"
)

func TestUserStopAlwaysDoesNothing(t *testing.T) {
	v := Decide(Input{Reason: ReasonUserStop, RecentExits: 5, MaxRestarts: 1, RestartCount: 1})
	if v.Decision != DoNothing {
		t.Fatalf("expected DoNothing, got %v", v.Decision)
	}
}

func TestFirstCrashRestartsImmediately(t *testing.T) {
	v := Decide(Input{Reason: ReasonCrash, RecentExits: 1, MaxRestarts: 0})
	if v.Decision != RestartImmediately {
		t.Fatalf("expected RestartImmediately, got %v", v.Decision)
	}
}

func TestReloadAlwaysRestartsImmediately(t *testing.T) {
	v := Decide(Input{Reason: ReasonReload, RecentExits: 9, MaxRestarts: 0})
	if v.Decision != RestartImmediately {
		t.Fatalf("expected RestartImmediately for reload, got %v", v.Decision)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	cases := []struct {
		recentExits int
		want        time.Duration
	}{
		{2, 1 * time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{5, 8 * time.Second},
		{6, 16 * time.Second},
		{7, 30 * time.Second}, // would be 32s, capped
		{20, 30 * time.Second},
	}
	for _, tc := range cases {
		v := Decide(Input{Reason: ReasonCrash, RecentExits: tc.recentExits, MaxRestarts: 0})
		if v.Decision != RestartAfter {
			t.Fatalf("exits=%d: expected RestartAfter, got %v", tc.recentExits, v.Decision)
		}
		if v.Delay != tc.want {
			t.Fatalf("exits=%d: expected delay %v, got %v", tc.recentExits, tc.want, v.Delay)
		}
	}
}

func TestGiveUpWhenBudgetExhausted(t *testing.T) {
	v := Decide(Input{Reason: ReasonCrash, RecentExits: 2, MaxRestarts: 3, RestartCount: 3})
	if v.Decision != GiveUp {
		t.Fatalf("expected GiveUp, got %v", v.Decision)
	}
}

func TestUnboundedRestartsNeverGiveUpOnBudget(t *testing.T) {
	v := Decide(Input{Reason: ReasonCrash, RecentExits: 2, MaxRestarts: 0, RestartCount: 1000})
	if v.Decision == GiveUp {
		t.Fatalf("max_restarts=0 must mean unbounded")
	}
}

func TestGiveUpOnRepeatedSpawnFailures(t *testing.T) {
	v := Decide(Input{Reason: ReasonCrash, SpawnFailures: 3})
	if v.Decision != GiveUp {
		t.Fatalf("expected GiveUp after 3 spawn failures, got %v", v.Decision)
	}
}

func TestTrimWindowDropsOldEntries(t *testing.T) {
	now := time.Now()
	exits := []time.Time{
		now.Add(-2 * time.Minute),
		now.Add(-30 * time.Second),
		now.Add(-1 * time.Second),
	}
	trimmed := TrimWindow(exits, now, 60*time.Second)
	if len(trimmed) != 2 {
		t.Fatalf("expected 2 entries within window, got %d", len(trimmed))
	}
}

func TestCrashLoopEndsErroredAfterBudget(t *testing.T) {
	// End-to-end scenario from spec §8: max_restarts=5, 10 consecutive
	// crashes within the window -> Errored at restart_count=5.
	restartCount := 0
	var exits []time.Time
	now := time.Now()
	for i := 0; i < 10; i++ {
		exits = TrimWindow(exits, now, 60*time.Second)
		exits = append(exits, now)
		v := Decide(Input{Reason: ReasonCrash, RecentExits: len(exits), MaxRestarts: 5, RestartCount: restartCount})
		if v.Decision == GiveUp {
			break
		}
		restartCount++
	}
	if restartCount != 5 {
		t.Fatalf("expected restart_count=5 at give-up, got %d", restartCount)
	}
}
