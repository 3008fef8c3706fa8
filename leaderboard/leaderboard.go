package leaderboard

import (
	"context"

	"taskquest/core"
)

// Entry is one row on the board: a user and their current point balance.
type Entry struct {
	User    core.UserID `json:"user"`
	Balance int64       `json:"balance"`
}

// Board abstracts ranked point-balance tracking.
type Board interface {
	Update(user core.UserID, balance int64)
	Remove(user core.UserID)
	TopN(n int) []Entry
	Get(user core.UserID) (Entry, bool)
}

// Subscriber is the event source the board follows, satisfied by both the
// engine bus and the unlock service.
type Subscriber interface {
	Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func()
}

// Follow subscribes the board to balance-bearing events so it stays in
// sync with the ledger. It returns the unsubscribe function.
func Follow(b Board, src Subscriber) func() {
	track := func(_ context.Context, e core.Event) { b.Update(e.UserID, e.Balance) }
	u1 := src.Subscribe(core.EventPointsCredited, track)
	u2 := src.Subscribe(core.EventAchievementUnlocked, track)
	return func() {
		u1()
		u2()
	}
}
