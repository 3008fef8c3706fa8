package core

import (
	"fmt"
	"time"
)

// EvaluateCondition measures a condition against a read-only snapshot.
// It is pure: no side effects, deterministic for a given snapshot and now.
// progress is the measured value toward the condition's threshold and
// satisfied is progress >= cond.Value. Unknown kinds return
// ErrUnknownConditionKind; that is a catalog integrity problem, not a
// user-facing state.
//
// total_points is the one kind that reads the mutable point balance instead
// of the immutable history, so its result can change between two evaluations
// of the same pass as other achievements credit points.
func EvaluateCondition(cond Condition, snap Snapshot, now time.Time) (satisfied bool, progress int64, err error) {
	switch cond.Kind {
	case ConditionLoginCount:
		progress = countEntries(snap.History, KindUserLogin, matchAny)
	case ConditionTasksCompleted:
		progress = countEntries(snap.History, KindTaskCompleted, matchAny)
	case ConditionCategoryTasks:
		// Exact, case-sensitive category equality. A missing category detail
		// never matches.
		progress = countEntries(snap.History, KindTaskCompleted, func(e HistoryEntry) bool {
			c, ok := e.Category()
			return ok && c == cond.Category
		})
	case ConditionTotalPoints:
		progress = snap.PointBalance
	case ConditionDailyStreak:
		lookback := DefaultStreakLookback
		if cond.Value > int64(lookback) {
			lookback = int(cond.Value)
		}
		progress = int64(StreakDays(snap.History, now, lookback))
	default:
		return false, 0, fmt.Errorf("%w: %q", ErrUnknownConditionKind, cond.Kind)
	}
	return progress >= cond.Value, progress, nil
}

func matchAny(HistoryEntry) bool { return true }

func countEntries(history []HistoryEntry, kind EntryKind, match func(HistoryEntry) bool) int64 {
	var n int64
	for _, e := range history {
		if e.Kind == kind && match(e) {
			n++
		}
	}
	return n
}
