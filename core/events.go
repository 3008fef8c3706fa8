package core

import "time"

// EventType enumerates domain events.
type EventType string

const (
	EventUserLogin           EventType = "user_login"
	EventTaskCompleted       EventType = "task_completed"
	EventPointsCredited      EventType = "points_credited"
	EventAchievementUnlocked EventType = "achievement_unlocked"
)

// Event represents an immutable domain event.
type Event struct {
	Type          EventType         `json:"type"`
	Time          time.Time         `json:"time"`
	UserID        UserID            `json:"user_id"`
	AchievementID string            `json:"achievement_id,omitempty"`
	Points        int64             `json:"points,omitempty"`
	Balance       int64             `json:"balance,omitempty"`
	Category      string            `json:"category,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func NewUserLogin(user UserID) Event {
	return Event{Type: EventUserLogin, Time: time.Now().UTC(), UserID: user}
}

func NewTaskCompleted(user UserID, category string, points int64) Event {
	return Event{Type: EventTaskCompleted, Time: time.Now().UTC(), UserID: user, Category: category, Points: points}
}

func NewPointsCredited(user UserID, points int64, balance int64) Event {
	return Event{Type: EventPointsCredited, Time: time.Now().UTC(), UserID: user, Points: points, Balance: balance}
}

func NewAchievementUnlocked(user UserID, achievementID string, points int64, balance int64) Event {
	return Event{Type: EventAchievementUnlocked, Time: time.Now().UTC(), UserID: user, AchievementID: achievementID, Points: points, Balance: balance}
}
