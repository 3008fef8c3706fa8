package core

import "errors"

// Mutation is the full effect of one unlock pass (or one activity recording):
// the new balance, the ledger entries to append, and the unlock records to
// create. A ledger store applies it as a single logical operation.
// BaseVersion is the snapshot version the mutation was computed from.
type Mutation struct {
	UserID      UserID
	NewBalance  int64
	Entries     []HistoryEntry
	Unlocks     []Unlock
	BaseVersion uint64
}

// ErrVersionConflict is returned by a store when the persisted version no
// longer matches Mutation.BaseVersion, i.e. another writer got there first.
// The caller retries the whole pass from a fresh snapshot.
var ErrVersionConflict = errors.New("ledger version conflict")
