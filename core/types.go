package core

import (
	"errors"
	"math"
	"strings"
	"time"
)

// UserID uniquely identifies a user in the gamification domain.
type UserID string

// EntryKind enumerates the activity kinds recorded in a user's ledger.
type EntryKind string

const (
	KindUserLogin           EntryKind = "user_login"
	KindTaskCompleted       EntryKind = "task_completed"
	KindAchievementUnlocked EntryKind = "achievement_unlocked"
	KindRewardRedeemed      EntryKind = "reward_redeemed"
)

// DetailCategory is the details key carrying a task's category, when present.
const DetailCategory = "category"

// HistoryEntry is a single append-only ledger record. Entries are never
// mutated or removed once appended; the ordered sequence for a user is the
// source of truth for count-based achievement conditions.
type HistoryEntry struct {
	ID          string            `json:"id"`
	UserID      UserID            `json:"user_id"`
	Kind        EntryKind         `json:"kind"`
	PointsDelta int64             `json:"points_delta"`
	Timestamp   time.Time         `json:"timestamp"`
	Details     map[string]string `json:"details,omitempty"`
}

// Category returns the task category detail, if recorded.
func (e HistoryEntry) Category() (string, bool) {
	if e.Details == nil {
		return "", false
	}
	c, ok := e.Details[DetailCategory]
	return c, ok
}

// ConditionKind enumerates the closed set of achievement condition types.
type ConditionKind string

const (
	ConditionLoginCount     ConditionKind = "login_count"
	ConditionTasksCompleted ConditionKind = "tasks_completed"
	ConditionTotalPoints    ConditionKind = "total_points"
	ConditionCategoryTasks  ConditionKind = "category_tasks"
	ConditionDailyStreak    ConditionKind = "daily_streak"
)

// Condition is a tagged rule determining when an achievement is earned.
// Category is only meaningful for ConditionCategoryTasks.
type Condition struct {
	Kind     ConditionKind `json:"kind"`
	Value    int64         `json:"value"`
	Category string        `json:"category,omitempty"`
}

// Rarity is display metadata on achievements; the engine never branches on it.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Achievement is a catalog definition: immutable input to an unlock pass.
type Achievement struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Points      int64     `json:"points"`
	Rarity      Rarity    `json:"rarity,omitempty"`
	Condition   Condition `json:"condition"`
}

// Unlock records that a user earned an achievement. At most one exists per
// (user, achievement) pair; the engine creates them and nothing updates them.
type Unlock struct {
	ID               string    `json:"id"`
	UserID           UserID    `json:"user_id"`
	AchievementID    string    `json:"achievement_id"`
	UnlockedAt       time.Time `json:"unlocked_at"`
	ProgressAtUnlock int64     `json:"progress_at_unlock"`
}

// Snapshot is a point-in-time view of one user's ledger state.
// Implementations should return deep copies to maintain immutability
// guarantees; Version is the store's optimistic-concurrency token.
type Snapshot struct {
	UserID       UserID         `json:"user_id"`
	PointBalance int64          `json:"point_balance"`
	History      []HistoryEntry `json:"history"`
	Unlocks      []Unlock       `json:"unlocks"`
	Version      uint64         `json:"version"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	cp := Snapshot{
		UserID:       s.UserID,
		PointBalance: s.PointBalance,
		History:      make([]HistoryEntry, len(s.History)),
		Unlocks:      make([]Unlock, len(s.Unlocks)),
		Version:      s.Version,
	}
	for i, e := range s.History {
		if e.Details != nil {
			d := make(map[string]string, len(e.Details))
			for k, v := range e.Details {
				d[k] = v
			}
			e.Details = d
		}
		cp.History[i] = e
	}
	copy(cp.Unlocks, s.Unlocks)
	return cp
}

// HasUnlocked reports whether the snapshot already holds an unlock for the
// given achievement.
func (s Snapshot) HasUnlocked(achievementID string) bool {
	for _, u := range s.Unlocks {
		if u.AchievementID == achievementID {
			return true
		}
	}
	return false
}

// Sentinel errors shared across stores and the engine.
var (
	// ErrUserNotFound indicates the target user does not exist in the store.
	ErrUserNotFound = errors.New("user not found")
	// ErrUnknownConditionKind indicates a catalog entry with a condition kind
	// outside the closed set. This is a catalog-data integrity error.
	ErrUnknownConditionKind = errors.New("unknown condition kind")
)

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}

// NormalizeUserID trims and lowercases user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", errors.New("empty user id")
	}
	return UserID(strings.ToLower(s)), nil
}

// ValidateAchievementID ensures non-empty achievement id with simple charset check.
func ValidateAchievementID(id string) error {
	s := strings.TrimSpace(id)
	if s == "" {
		return errors.New("empty achievement id")
	}
	// simple check: alnum, dash, underscore
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			continue
		}
		return errors.New("invalid achievement id")
	}
	return nil
}
