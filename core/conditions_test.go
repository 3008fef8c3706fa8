package core

import (
	"errors"
	"testing"
	"time"
)

func entry(kind EntryKind, ts time.Time, category string) HistoryEntry {
	e := HistoryEntry{Kind: kind, Timestamp: ts}
	if category != "" {
		e.Details = map[string]string{DetailCategory: category}
	}
	return e
}

func TestEvaluateLoginCount(t *testing.T) {
	now := time.Now()
	snap := Snapshot{History: []HistoryEntry{
		entry(KindUserLogin, now, ""),
		entry(KindUserLogin, now, ""),
		entry(KindTaskCompleted, now, ""),
	}}
	ok, progress, err := EvaluateCondition(Condition{Kind: ConditionLoginCount, Value: 2}, snap, now)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || progress != 2 {
		t.Fatalf("got satisfied=%v progress=%d", ok, progress)
	}
	ok, _, _ = EvaluateCondition(Condition{Kind: ConditionLoginCount, Value: 3}, snap, now)
	if ok {
		t.Fatal("2 logins should not satisfy value 3")
	}
}

func TestEvaluateTasksCompleted(t *testing.T) {
	now := time.Now()
	snap := Snapshot{History: []HistoryEntry{
		entry(KindTaskCompleted, now, "chores"),
		entry(KindTaskCompleted, now, ""),
	}}
	ok, progress, err := EvaluateCondition(Condition{Kind: ConditionTasksCompleted, Value: 2}, snap, now)
	if err != nil || !ok || progress != 2 {
		t.Fatalf("got satisfied=%v progress=%d err=%v", ok, progress, err)
	}
}

func TestEvaluateCategoryTasksExactMatch(t *testing.T) {
	now := time.Now()
	snap := Snapshot{History: []HistoryEntry{
		entry(KindTaskCompleted, now, "Social"),
		entry(KindTaskCompleted, now, "social"),
		entry(KindTaskCompleted, now, ""), // no category detail: never matches
	}}

	// case-sensitive: "Social" does not count toward "social"
	_, progress, err := EvaluateCondition(Condition{Kind: ConditionCategoryTasks, Category: "social", Value: 2}, snap, now)
	if err != nil {
		t.Fatal(err)
	}
	if progress != 1 {
		t.Fatalf("expected exact-match count 1, got %d", progress)
	}
}

func TestEvaluateTotalPointsReadsBalance(t *testing.T) {
	now := time.Now()
	// history carries deltas, but total_points must read the balance field
	snap := Snapshot{
		PointBalance: 75,
		History:      []HistoryEntry{{Kind: KindTaskCompleted, PointsDelta: 10, Timestamp: now}},
	}
	ok, progress, err := EvaluateCondition(Condition{Kind: ConditionTotalPoints, Value: 50}, snap, now)
	if err != nil || !ok || progress != 75 {
		t.Fatalf("got satisfied=%v progress=%d err=%v", ok, progress, err)
	}
}

func TestEvaluateDailyStreak(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	snap := Snapshot{History: []HistoryEntry{
		entry(KindTaskCompleted, now, ""),
		entry(KindTaskCompleted, now.AddDate(0, 0, -1), ""),
	}}
	ok, progress, err := EvaluateCondition(Condition{Kind: ConditionDailyStreak, Value: 2}, snap, now)
	if err != nil || !ok || progress != 2 {
		t.Fatalf("got satisfied=%v progress=%d err=%v", ok, progress, err)
	}
}

func TestEvaluateUnknownKind(t *testing.T) {
	_, _, err := EvaluateCondition(Condition{Kind: "perfect_week", Value: 1}, Snapshot{}, time.Now())
	if !errors.Is(err, ErrUnknownConditionKind) {
		t.Fatalf("expected ErrUnknownConditionKind, got %v", err)
	}
}

func TestProgressMonotonicOnAppend(t *testing.T) {
	now := time.Now()
	snap := Snapshot{}
	var last int64
	for i := 0; i < 5; i++ {
		snap.History = append(snap.History, entry(KindTaskCompleted, now, ""))
		_, progress, err := EvaluateCondition(Condition{Kind: ConditionTasksCompleted, Value: 100}, snap, now)
		if err != nil {
			t.Fatal(err)
		}
		if progress < last {
			t.Fatalf("progress regressed: %d -> %d", last, progress)
		}
		last = progress
	}
}
