// Package reputation maps promise outcomes to user counter deltas. It is pure:
// no I/O, no hidden state, so the scoring rules are testable in isolation from
// the store.
package reputation

// Defaults match the registry's original scoring rules.
const (
	DefaultCompletedReward = 10
	DefaultFailedPenalty   = 5
	DefaultLevelWidth      = 50
)

// Rules holds the tunable scoring constants.
type Rules struct {
	CompletedReward int
	FailedPenalty   int
	LevelWidth      int
}

// DefaultRules returns the standard scoring rules.
func DefaultRules() Rules {
	return Rules{
		CompletedReward: DefaultCompletedReward,
		FailedPenalty:   DefaultFailedPenalty,
		LevelWidth:      DefaultLevelWidth,
	}
}

// Counters is the slice of a user record the engine operates on.
type Counters struct {
	Reputation int
	Completed  int
	Failed     int
	Streak     int
}

// Delta describes the counter changes for one status transition. StreakValue
// is an absolute replacement, not an increment: a failure resets the streak.
type Delta struct {
	Reputation  int
	Completed   int
	Failed      int
	StreakValue int
}

// ComputeDelta returns the counter delta for a transition out of the active
// state. Only active->completed and active->failed are defined; anything else
// yields ok=false and a zero delta.
func (r Rules) ComputeDelta(oldStatus, newStatus string, c Counters) (Delta, bool) {
	if oldStatus != "active" {
		return Delta{}, false
	}
	switch newStatus {
	case "completed":
		return Delta{
			Reputation:  r.CompletedReward,
			Completed:   1,
			StreakValue: c.Streak + 1,
		}, true
	case "failed":
		return Delta{
			Reputation:  -r.FailedPenalty,
			Failed:      1,
			StreakValue: 0,
		}, true
	}
	return Delta{}, false
}

// Apply folds a delta into counters. Reputation is floored at zero.
func (r Rules) Apply(c Counters, d Delta) Counters {
	rep := c.Reputation + d.Reputation
	if rep < 0 {
		rep = 0
	}
	return Counters{
		Reputation: rep,
		Completed:  c.Completed + d.Completed,
		Failed:     c.Failed + d.Failed,
		Streak:     d.StreakValue,
	}
}

// Level derives the user level from reputation.
func (r Rules) Level(rep int) int {
	width := r.LevelWidth
	if width <= 0 {
		width = DefaultLevelWidth
	}
	return rep/width + 1
}
