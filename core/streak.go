package core

import "time"

// DefaultStreakLookback bounds the streak walk when the condition threshold
// is small. The walk accepts an arbitrary day count; this is only the floor.
const DefaultStreakLookback = 7

// StreakDays computes the number of consecutive calendar days, counting
// backward from today (inclusive) in now's location, for which at least one
// task_completed entry falls within that day. The walk stops at the first day
// with no qualifying entry; a day boundary is midnight local to now. An empty
// "today" yields 0. maxDays bounds the walk; values < 1 fall back to
// DefaultStreakLookback.
func StreakDays(history []HistoryEntry, now time.Time, maxDays int) int {
	if maxDays < 1 {
		maxDays = DefaultStreakLookback
	}

	loc := now.Location()
	active := make(map[string]struct{})
	for _, e := range history {
		if e.Kind != KindTaskCompleted {
			continue
		}
		active[dayKey(e.Timestamp.In(loc))] = struct{}{}
	}

	streak := 0
	day := now
	for i := 0; i < maxDays; i++ {
		if _, ok := active[dayKey(day)]; !ok {
			break
		}
		streak++
		day = day.AddDate(0, 0, -1)
	}
	return streak
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
