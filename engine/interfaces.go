package engine

import (
	"context"

	"taskquest/core"
)

// LedgerStore abstracts durable storage of per-user balances, activity ledgers,
// and unlock records.
type LedgerStore interface {
	// LoadSnapshot returns a deep copy of the user's current state, or
	// core.ErrUserNotFound.
	LoadSnapshot(ctx context.Context, user core.UserID) (core.Snapshot, error)
	// Persist applies a mutation atomically. Nothing is written on error;
	// core.ErrVersionConflict signals a concurrent writer.
	Persist(ctx context.Context, m core.Mutation) error
}

// Catalog supplies achievement definitions in stable declaration order.
// The engine treats it as read-only input for the duration of a pass.
type Catalog interface {
	List(ctx context.Context) ([]core.Achievement, error)
}
