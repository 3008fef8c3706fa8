package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Achievement mirrors the public JSON surface of core.Achievement.
type Achievement struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Points      int64     `json:"points"`
	Rarity      string    `json:"rarity,omitempty"`
	Condition   Condition `json:"condition"`
}

// Condition mirrors core.Condition.
type Condition struct {
	Kind     string `json:"kind"`
	Value    int64  `json:"value"`
	Category string `json:"category,omitempty"`
}

// CheckResult is the response of a check/login/task call.
type CheckResult struct {
	NewlyUnlocked []Achievement `json:"newly_unlocked"`
	TotalChecked  int           `json:"total_checked"`
}

// ProgressItem is one row of a user's achievement progress.
type ProgressItem struct {
	Achievement Achievement `json:"achievement"`
	Unlocked    bool        `json:"unlocked"`
	UnlockedAt  *time.Time  `json:"unlocked_at,omitempty"`
	Progress    int64       `json:"progress"`
}

// Snapshot mirrors the public JSON surface of core.Snapshot.
type Snapshot struct {
	UserID       string         `json:"user_id"`
	PointBalance int64          `json:"point_balance"`
	History      []HistoryEntry `json:"history"`
	Unlocks      []Unlock       `json:"unlocks"`
	Version      uint64         `json:"version"`
}

// HistoryEntry mirrors core.HistoryEntry.
type HistoryEntry struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Kind        string            `json:"kind"`
	PointsDelta int64             `json:"points_delta"`
	Timestamp   time.Time         `json:"timestamp"`
	Details     map[string]string `json:"details,omitempty"`
}

// Unlock mirrors core.Unlock.
type Unlock struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	AchievementID    string    `json:"achievement_id"`
	UnlockedAt       time.Time `json:"unlocked_at"`
	ProgressAtUnlock int64     `json:"progress_at_unlock"`
}

// LeaderboardEntry is one row of the leaderboard response.
type LeaderboardEntry struct {
	User    string `json:"user"`
	Balance int64  `json:"balance"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]interface{} `json:"checks"`
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Code != "" {
			return fmt.Errorf("request failed: status %d: %s: %s", resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("request failed: status %d", resp.StatusCode)
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyUserID is returned when user id is empty.
var ErrEmptyUserID = errors.New("user id is required")
