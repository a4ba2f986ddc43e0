package reputation_test

import (
	"testing"

	"pledgeline/internal/reputation"
)

func TestCompletedDelta(t *testing.T) {
	rules := reputation.DefaultRules()
	c := reputation.Counters{Reputation: 20, Completed: 2, Failed: 1, Streak: 2}
	d, ok := rules.ComputeDelta("active", "completed", c)
	if !ok {
		t.Fatalf("expected defined transition")
	}
	got := rules.Apply(c, d)
	if got.Reputation != 30 {
		t.Fatalf("reputation = %d, want 30", got.Reputation)
	}
	if got.Completed != 3 {
		t.Fatalf("completed = %d, want 3", got.Completed)
	}
	if got.Streak != 3 {
		t.Fatalf("streak = %d, want 3", got.Streak)
	}
	if got.Failed != 1 {
		t.Fatalf("failed = %d, want 1", got.Failed)
	}
}

func TestFailedDeltaResetsStreak(t *testing.T) {
	rules := reputation.DefaultRules()
	c := reputation.Counters{Reputation: 20, Streak: 7}
	d, ok := rules.ComputeDelta("active", "failed", c)
	if !ok {
		t.Fatalf("expected defined transition")
	}
	got := rules.Apply(c, d)
	if got.Reputation != 15 {
		t.Fatalf("reputation = %d, want 15", got.Reputation)
	}
	if got.Streak != 0 {
		t.Fatalf("streak = %d, want 0", got.Streak)
	}
	if got.Failed != 1 {
		t.Fatalf("failed = %d, want 1", got.Failed)
	}
}

func TestReputationFlooredAtZero(t *testing.T) {
	rules := reputation.DefaultRules()
	c := reputation.Counters{Reputation: 3}
	d, _ := rules.ComputeDelta("active", "failed", c)
	got := rules.Apply(c, d)
	if got.Reputation != 0 {
		t.Fatalf("reputation = %d, want 0", got.Reputation)
	}
}

func TestTerminalStatesUndefined(t *testing.T) {
	rules := reputation.DefaultRules()
	for _, old := range []string{"completed", "failed"} {
		for _, next := range []string{"completed", "failed", "active"} {
			if _, ok := rules.ComputeDelta(old, next, reputation.Counters{}); ok {
				t.Fatalf("transition %s -> %s should be undefined", old, next)
			}
		}
	}
	if _, ok := rules.ComputeDelta("active", "active", reputation.Counters{}); ok {
		t.Fatalf("active -> active should be undefined")
	}
}

func TestDeterminism(t *testing.T) {
	rules := reputation.DefaultRules()
	c := reputation.Counters{Reputation: 42, Completed: 4, Failed: 2, Streak: 1}
	d1, _ := rules.ComputeDelta("active", "completed", c)
	d2, _ := rules.ComputeDelta("active", "completed", c)
	if d1 != d2 {
		t.Fatalf("deltas differ for identical inputs: %+v vs %+v", d1, d2)
	}
}

func TestLevelDerivation(t *testing.T) {
	rules := reputation.DefaultRules()
	cases := []struct{ rep, level int }{
		{0, 1}, {49, 1}, {50, 2}, {99, 2}, {100, 3}, {250, 6},
	}
	for _, tc := range cases {
		if got := rules.Level(tc.rep); got != tc.level {
			t.Fatalf("Level(%d) = %d, want %d", tc.rep, got, tc.level)
		}
	}
}
