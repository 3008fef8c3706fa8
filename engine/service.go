package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"taskquest/core"
)

// CheckResult is the outcome of one unlock pass.
type CheckResult struct {
	NewlyUnlocked []core.Achievement `json:"newly_unlocked"`
	TotalChecked  int                `json:"total_checked"`
}

// ProgressItem is a read-only projection of one achievement's state for a user.
type ProgressItem struct {
	Achievement core.Achievement `json:"achievement"`
	Unlocked    bool             `json:"unlocked"`
	UnlockedAt  *time.Time       `json:"unlocked_at,omitempty"`
	Progress    int64            `json:"progress"`
}

// UnlockService owns the decision of whether an achievement unlock record is
// created and the point credit that accompanies it. One Check call is a single
// critical section per user: same-user passes serialize on a keyed mutex,
// different users run concurrently.
type UnlockService struct {
	store   LedgerStore
	catalog Catalog
	bus     *EventBus
	locks   *userLocks
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
}

// ServiceOption customizes an UnlockService.
type ServiceOption func(*UnlockService)

// WithClock overrides the reference clock. The clock's location defines the
// calendar-day boundaries used by streak conditions.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *UnlockService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides ledger/unlock record ID generation.
func WithIDGenerator(gen func() string) ServiceOption {
	return func(s *UnlockService) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *UnlockService) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewUnlockService(store LedgerStore, catalog Catalog, bus *EventBus, opts ...ServiceOption) *UnlockService {
	if store == nil || catalog == nil || bus == nil {
		panic("NewUnlockService requires non-nil store, catalog, and bus")
	}
	s := &UnlockService{
		store:   store,
		catalog: catalog,
		bus:     bus,
		locks:   newUserLocks(),
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Subscribe convenience method.
func (s *UnlockService) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	return s.bus.Subscribe(typ, handler)
}

func (s *UnlockService) Publish(ctx context.Context, ev core.Event) {
	s.bus.Publish(ctx, ev)
}

// Check runs one unlock pass for the user: every not-yet-unlocked achievement
// is evaluated in catalog order against a snapshot that reflects point credits
// from achievements unlocked earlier in the same pass, so a total_points
// condition can chain off an earlier unlock's reward within one call.
//
// Calling Check again with no intervening activity yields an empty
// NewlyUnlocked: unlocked achievements are excluded by membership test against
// the unlock records loaded with the snapshot.
func (s *UnlockService) Check(ctx context.Context, user core.UserID) (CheckResult, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return CheckResult{}, err
	}
	mu := s.locks.get(string(normalized))
	mu.Lock()
	defer mu.Unlock()
	return s.pass(ctx, normalized)
}

// RecordLogin appends a user_login ledger entry and runs an unlock pass, all
// under one user lock.
func (s *UnlockService) RecordLogin(ctx context.Context, user core.UserID) (CheckResult, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return CheckResult{}, err
	}
	mu := s.locks.get(string(normalized))
	mu.Lock()
	defer mu.Unlock()

	entry := core.HistoryEntry{
		ID:        s.newID(),
		UserID:    normalized,
		Kind:      core.KindUserLogin,
		Timestamp: s.now(),
	}
	if _, err := s.recordActivity(ctx, normalized, entry, 0); err != nil {
		return CheckResult{}, err
	}
	s.bus.Publish(ctx, core.NewUserLogin(normalized))
	return s.pass(ctx, normalized)
}

// CompleteTask appends a task_completed ledger entry, credits the task's
// points, and runs an unlock pass. Collaborators must not decide unlocks
// themselves; this is the single path into the engine after a completion.
func (s *UnlockService) CompleteTask(ctx context.Context, user core.UserID, category string, points int64) (CheckResult, error) {
	if points < 0 {
		return CheckResult{}, errors.New("task points cannot be negative")
	}
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return CheckResult{}, err
	}
	mu := s.locks.get(string(normalized))
	mu.Lock()
	defer mu.Unlock()

	entry := core.HistoryEntry{
		ID:          s.newID(),
		UserID:      normalized,
		Kind:        core.KindTaskCompleted,
		PointsDelta: points,
		Timestamp:   s.now(),
	}
	if category != "" {
		entry.Details = map[string]string{core.DetailCategory: category}
	}
	balance, err := s.recordActivity(ctx, normalized, entry, points)
	if err != nil {
		return CheckResult{}, err
	}
	s.bus.Publish(ctx, core.NewTaskCompleted(normalized, category, points))
	if points != 0 {
		s.bus.Publish(ctx, core.NewPointsCredited(normalized, points, balance))
	}
	return s.pass(ctx, normalized)
}

// recordActivity persists one activity entry plus its point credit and
// returns the new balance. Publishing is left to the caller so events go out
// in activity-then-credit order.
func (s *UnlockService) recordActivity(ctx context.Context, user core.UserID, entry core.HistoryEntry, credit int64) (int64, error) {
	snap, err := s.store.LoadSnapshot(ctx, user)
	if err != nil {
		return 0, err
	}
	balance, err := core.AddSafe(snap.PointBalance, credit)
	if err != nil {
		return 0, err
	}
	m := core.Mutation{
		UserID:      user,
		NewBalance:  balance,
		Entries:     []core.HistoryEntry{entry},
		BaseVersion: snap.Version,
	}
	if err := s.store.Persist(ctx, m); err != nil {
		return 0, fmt.Errorf("record %s: %w", entry.Kind, err)
	}
	return balance, nil
}

// pass executes steps 1-4 of an unlock pass. Caller holds the user lock.
func (s *UnlockService) pass(ctx context.Context, user core.UserID) (CheckResult, error) {
	snap, err := s.store.LoadSnapshot(ctx, user)
	if err != nil {
		return CheckResult{}, err
	}
	defs, err := s.catalog.List(ctx)
	if err != nil {
		return CheckResult{}, fmt.Errorf("load catalog: %w", err)
	}

	now := s.now()
	var (
		result     CheckResult
		newEntries []core.HistoryEntry
		newUnlocks []core.Unlock
	)
	for _, def := range defs {
		if snap.HasUnlocked(def.ID) {
			continue
		}
		result.TotalChecked++

		satisfied, progress, err := core.EvaluateCondition(def.Condition, snap, now)
		if err != nil {
			// One malformed catalog entry must not block the rest of the pass.
			s.logger.Warn("skipping achievement with invalid condition",
				"achievement_id", def.ID, "error", err)
			continue
		}
		if !satisfied {
			continue
		}

		balance, err := core.AddSafe(snap.PointBalance, def.Points)
		if err != nil {
			return CheckResult{}, fmt.Errorf("credit achievement %s: %w", def.ID, err)
		}
		entry := core.HistoryEntry{
			ID:          s.newID(),
			UserID:      user,
			Kind:        core.KindAchievementUnlocked,
			PointsDelta: def.Points,
			Timestamp:   now,
			Details:     map[string]string{"achievement_id": def.ID},
		}
		unlock := core.Unlock{
			ID:               s.newID(),
			UserID:           user,
			AchievementID:    def.ID,
			UnlockedAt:       now,
			ProgressAtUnlock: progress,
		}

		// Mutate the in-pass snapshot so later conditions, total_points in
		// particular, observe this unlock's credit.
		snap.PointBalance = balance
		snap.History = append(snap.History, entry)
		snap.Unlocks = append(snap.Unlocks, unlock)

		newEntries = append(newEntries, entry)
		newUnlocks = append(newUnlocks, unlock)
		result.NewlyUnlocked = append(result.NewlyUnlocked, def)
	}

	if len(newUnlocks) == 0 {
		return result, nil
	}

	m := core.Mutation{
		UserID:      user,
		NewBalance:  snap.PointBalance,
		Entries:     newEntries,
		Unlocks:     newUnlocks,
		BaseVersion: snap.Version,
	}
	if err := s.store.Persist(ctx, m); err != nil {
		// All in-pass effects are void; the caller may retry the whole pass.
		return CheckResult{}, fmt.Errorf("persist unlock pass: %w", err)
	}

	for _, def := range result.NewlyUnlocked {
		s.bus.Publish(ctx, core.NewAchievementUnlocked(user, def.ID, def.Points, snap.PointBalance))
	}
	return result, nil
}

// GetUserProgress returns the catalog joined with the user's unlock records
// and a non-mutating evaluation pass. It never appends history or credits
// points.
func (s *UnlockService) GetUserProgress(ctx context.Context, user core.UserID) ([]ProgressItem, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	snap, err := s.store.LoadSnapshot(ctx, normalized)
	if err != nil {
		return nil, err
	}
	defs, err := s.catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	unlockedAt := make(map[string]time.Time, len(snap.Unlocks))
	for _, u := range snap.Unlocks {
		unlockedAt[u.AchievementID] = u.UnlockedAt
	}

	now := s.now()
	items := make([]ProgressItem, 0, len(defs))
	for _, def := range defs {
		item := ProgressItem{Achievement: def}
		if ts, ok := unlockedAt[def.ID]; ok {
			item.Unlocked = true
			t := ts
			item.UnlockedAt = &t
		}
		_, progress, err := core.EvaluateCondition(def.Condition, snap, now)
		if err != nil {
			s.logger.Warn("skipping achievement with invalid condition",
				"achievement_id", def.ID, "error", err)
			continue
		}
		item.Progress = progress
		items = append(items, item)
	}
	return items, nil
}

// GetSnapshot exposes the user's current ledger state for display.
func (s *UnlockService) GetSnapshot(ctx context.Context, user core.UserID) (core.Snapshot, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.Snapshot{}, err
	}
	return s.store.LoadSnapshot(ctx, normalized)
}

func (s *UnlockService) Close() { s.bus.Close() }
