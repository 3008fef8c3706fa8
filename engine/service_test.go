package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	mem "taskquest/adapters/memory"
	"taskquest/core"
)

type staticCatalog struct{ defs []core.Achievement }

func (c staticCatalog) List(context.Context) ([]core.Achievement, error) {
	out := make([]core.Achievement, len(c.defs))
	copy(out, c.defs)
	return out, nil
}

// failingStore delegates reads and fails every persist.
type failingStore struct {
	inner *mem.Store
	err   error
}

func (f *failingStore) LoadSnapshot(ctx context.Context, user core.UserID) (core.Snapshot, error) {
	return f.inner.LoadSnapshot(ctx, user)
}

func (f *failingStore) Persist(context.Context, core.Mutation) error { return f.err }

func newTestService(t *testing.T, store LedgerStore, defs ...core.Achievement) *UnlockService {
	t.Helper()
	ids := 0
	return NewUnlockService(store, staticCatalog{defs: defs}, NewEventBus(DispatchSync),
		WithIDGenerator(func() string {
			ids++
			return fmt.Sprintf("id-%d", ids)
		}),
	)
}

func seedUser(t *testing.T, store *mem.Store, user core.UserID) {
	t.Helper()
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatal(err)
	}
}

func TestCheckUserNotFound(t *testing.T) {
	svc := newTestService(t, mem.New())
	_, err := svc.Check(context.Background(), "ghost")
	if !errors.Is(err, core.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCheckIdempotent(t *testing.T) {
	store := mem.New()
	svc := newTestService(t, store, core.Achievement{
		ID: "first_task", Name: "First Task", Points: 10,
		Condition: core.Condition{Kind: core.ConditionTasksCompleted, Value: 1},
	})
	seedUser(t, store, "alice")

	res, err := svc.CompleteTask(context.Background(), "alice", "", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.NewlyUnlocked) != 1 || res.NewlyUnlocked[0].ID != "first_task" {
		t.Fatalf("expected first_task unlock, got %+v", res)
	}

	// second pass with no intervening activity: nothing new
	res, err = svc.Check(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.NewlyUnlocked) != 0 {
		t.Fatalf("expected no new unlocks, got %+v", res.NewlyUnlocked)
	}
	if res.TotalChecked != 0 {
		t.Fatalf("unlocked achievement was re-considered: checked=%d", res.TotalChecked)
	}
}

func TestAtMostOnceUnlock(t *testing.T) {
	store := mem.New()
	svc := newTestService(t, store, core.Achievement{
		ID: "one_login", Name: "One Login", Points: 5,
		Condition: core.Condition{Kind: core.ConditionLoginCount, Value: 1},
	})
	seedUser(t, store, "alice")

	if _, err := svc.RecordLogin(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := svc.Check(context.Background(), "alice"); err != nil {
			t.Fatal(err)
		}
	}
	snap, _ := store.LoadSnapshot(context.Background(), "alice")
	if len(snap.Unlocks) != 1 {
		t.Fatalf("expected exactly one unlock record, got %d", len(snap.Unlocks))
	}
	if snap.PointBalance != 5 {
		t.Fatalf("expected balance 5 (no duplicate credit), got %d", snap.PointBalance)
	}
}

func TestChainedUnlockWithinOnePass(t *testing.T) {
	store := mem.New()
	svc := newTestService(t, store,
		core.Achievement{
			ID: "starter", Name: "Starter", Points: 50,
			Condition: core.Condition{Kind: core.ConditionTasksCompleted, Value: 1},
		},
		core.Achievement{
			ID: "fifty_club", Name: "Fifty Club", Points: 20,
			Condition: core.Condition{Kind: core.ConditionTotalPoints, Value: 50},
		},
	)
	seedUser(t, store, "alice")

	// one completed task worth zero points; starter's 50-point reward must
	// satisfy fifty_club inside the same pass
	res, err := svc.CompleteTask(context.Background(), "alice", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.NewlyUnlocked) != 2 {
		t.Fatalf("expected chained unlock of both, got %+v", res.NewlyUnlocked)
	}
	if res.NewlyUnlocked[0].ID != "starter" || res.NewlyUnlocked[1].ID != "fifty_club" {
		t.Fatalf("unexpected unlock order: %+v", res.NewlyUnlocked)
	}

	snap, _ := store.LoadSnapshot(context.Background(), "alice")
	if snap.PointBalance != 70 {
		t.Fatalf("expected balance 70, got %d", snap.PointBalance)
	}
}

func TestCatalogOrderGatesChaining(t *testing.T) {
	store := mem.New()
	// same definitions, reversed order: total_points is evaluated before the
	// task reward lands, so it must not unlock in the first pass
	svc := newTestService(t, store,
		core.Achievement{
			ID: "fifty_club", Name: "Fifty Club", Points: 20,
			Condition: core.Condition{Kind: core.ConditionTotalPoints, Value: 50},
		},
		core.Achievement{
			ID: "starter", Name: "Starter", Points: 50,
			Condition: core.Condition{Kind: core.ConditionTasksCompleted, Value: 1},
		},
	)
	seedUser(t, store, "alice")

	res, err := svc.CompleteTask(context.Background(), "alice", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.NewlyUnlocked) != 1 || res.NewlyUnlocked[0].ID != "starter" {
		t.Fatalf("expected only starter in first pass, got %+v", res.NewlyUnlocked)
	}

	// a second on-demand pass picks up the chained condition
	res, err = svc.Check(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.NewlyUnlocked) != 1 || res.NewlyUnlocked[0].ID != "fifty_club" {
		t.Fatalf("expected fifty_club in second pass, got %+v", res.NewlyUnlocked)
	}
}

func TestUnknownConditionSkipsOnlyThatAchievement(t *testing.T) {
	store := mem.New()
	svc := newTestService(t, store,
		core.Achievement{
			ID: "malformed", Name: "Malformed", Points: 10,
			Condition: core.Condition{Kind: "perfect_week", Value: 1},
		},
		core.Achievement{
			ID: "valid", Name: "Valid", Points: 10,
			Condition: core.Condition{Kind: core.ConditionTasksCompleted, Value: 1},
		},
	)
	seedUser(t, store, "alice")

	res, err := svc.CompleteTask(context.Background(), "alice", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.NewlyUnlocked) != 1 || res.NewlyUnlocked[0].ID != "valid" {
		t.Fatalf("malformed entry blocked the pass: %+v", res)
	}
	if res.TotalChecked != 2 {
		t.Fatalf("expected both considered, got %d", res.TotalChecked)
	}
}

func TestFailedPersistLeavesStateUntouched(t *testing.T) {
	inner := mem.New()
	seedUser(t, inner, "alice")
	// put one completed task into the ledger directly
	if err := inner.Persist(context.Background(), core.Mutation{
		UserID:     "alice",
		NewBalance: 0,
		Entries: []core.HistoryEntry{{
			ID: "seed", UserID: "alice", Kind: core.KindTaskCompleted, Timestamp: time.Now(),
		}},
		BaseVersion: 0,
	}); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("disk on fire")
	svc := newTestService(t, &failingStore{inner: inner, err: boom},
		core.Achievement{
			ID: "first_task", Name: "First Task", Points: 10,
			Condition: core.Condition{Kind: core.ConditionTasksCompleted, Value: 1},
		},
	)

	_, err := svc.Check(context.Background(), "alice")
	if !errors.Is(err, boom) {
		t.Fatalf("persist failure must surface, got %v", err)
	}

	snap, _ := inner.LoadSnapshot(context.Background(), "alice")
	if snap.PointBalance != 0 || len(snap.Unlocks) != 0 {
		t.Fatalf("state mutated despite failed persist: %+v", snap)
	}

	// retry against the healthy store succeeds with the same unlock
	retry := newTestService(t, inner, core.Achievement{
		ID: "first_task", Name: "First Task", Points: 10,
		Condition: core.Condition{Kind: core.ConditionTasksCompleted, Value: 1},
	})
	res, err := retry.Check(context.Background(), "alice")
	if err != nil || len(res.NewlyUnlocked) != 1 {
		t.Fatalf("retry failed: %+v %v", res, err)
	}
}

func TestGetUserProgressDoesNotMutate(t *testing.T) {
	store := mem.New()
	svc := newTestService(t, store,
		core.Achievement{
			ID: "ten_tasks", Name: "Ten Tasks", Points: 10,
			Condition: core.Condition{Kind: core.ConditionTasksCompleted, Value: 10},
		},
	)
	seedUser(t, store, "alice")
	if _, err := svc.CompleteTask(context.Background(), "alice", "", 5); err != nil {
		t.Fatal(err)
	}

	before, _ := store.LoadSnapshot(context.Background(), "alice")
	items, err := svc.GetUserProgress(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Unlocked || items[0].Progress != 1 {
		t.Fatalf("unexpected progress: %+v", items)
	}
	after, _ := store.LoadSnapshot(context.Background(), "alice")
	if after.Version != before.Version || len(after.History) != len(before.History) {
		t.Fatal("progress read mutated the ledger")
	}
}

func TestProgressIncludesUnlockTime(t *testing.T) {
	store := mem.New()
	svc := newTestService(t, store, core.Achievement{
		ID: "first_task", Name: "First Task", Points: 10,
		Condition: core.Condition{Kind: core.ConditionTasksCompleted, Value: 1},
	})
	seedUser(t, store, "alice")
	if _, err := svc.CompleteTask(context.Background(), "alice", "chores", 5); err != nil {
		t.Fatal(err)
	}
	items, err := svc.GetUserProgress(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !items[0].Unlocked || items[0].UnlockedAt == nil {
		t.Fatalf("expected unlocked with timestamp: %+v", items[0])
	}
}

func TestUnlockEventsPublishedAfterPersist(t *testing.T) {
	store := mem.New()
	svc := newTestService(t, store, core.Achievement{
		ID: "first_task", Name: "First Task", Points: 10,
		Condition: core.Condition{Kind: core.ConditionTasksCompleted, Value: 1},
	})
	seedUser(t, store, "alice")

	var events []core.Event
	svc.Subscribe(core.EventAchievementUnlocked, func(_ context.Context, e core.Event) {
		events = append(events, e)
	})
	if _, err := svc.CompleteTask(context.Background(), "alice", "", 0); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].AchievementID != "first_task" || events[0].Points != 10 {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestNoUnlockEventOnFailedPersist(t *testing.T) {
	inner := mem.New()
	seedUser(t, inner, "alice")
	_ = inner.Persist(context.Background(), core.Mutation{
		UserID: "alice",
		Entries: []core.HistoryEntry{{
			ID: "seed", UserID: "alice", Kind: core.KindTaskCompleted, Timestamp: time.Now(),
		}},
		BaseVersion: 0,
	})
	svc := newTestService(t, &failingStore{inner: inner, err: errors.New("nope")},
		core.Achievement{
			ID: "first_task", Name: "First Task", Points: 10,
			Condition: core.Condition{Kind: core.ConditionTasksCompleted, Value: 1},
		},
	)
	fired := false
	svc.Subscribe(core.EventAchievementUnlocked, func(context.Context, core.Event) { fired = true })
	_, _ = svc.Check(context.Background(), "alice")
	if fired {
		t.Fatal("unlock event published despite failed persist")
	}
}

func TestConcurrentSameUserChecksStaySingleUnlock(t *testing.T) {
	store := mem.New()
	svc := NewUnlockService(store, staticCatalog{defs: []core.Achievement{{
		ID: "one_login", Name: "One Login", Points: 5,
		Condition: core.Condition{Kind: core.ConditionLoginCount, Value: 1},
	}}}, NewEventBus(DispatchSync))
	seedUser(t, store, "alice")
	if _, err := svc.RecordLogin(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Check(context.Background(), "alice")
		}()
	}
	wg.Wait()

	snap, _ := store.LoadSnapshot(context.Background(), "alice")
	if len(snap.Unlocks) != 1 {
		t.Fatalf("concurrent checks duplicated unlocks: %d", len(snap.Unlocks))
	}
	if snap.PointBalance != 5 {
		t.Fatalf("concurrent checks duplicated credits: %d", snap.PointBalance)
	}
}

func TestNormalizedUserIDs(t *testing.T) {
	store := mem.New()
	svc := newTestService(t, store, core.Achievement{
		ID: "one_login", Name: "One Login", Points: 5,
		Condition: core.Condition{Kind: core.ConditionLoginCount, Value: 1},
	})
	seedUser(t, store, "alice")

	// mixed-case caller input maps to the same ledger
	if _, err := svc.RecordLogin(context.Background(), " Alice "); err != nil {
		t.Fatal(err)
	}
	snap, err := store.LoadSnapshot(context.Background(), "alice")
	if err != nil || len(snap.History) != 1 {
		t.Fatalf("login not recorded under normalized id: %+v %v", snap, err)
	}
}
