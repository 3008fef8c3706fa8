package memory

import (
	"context"
	"fmt"
	"sync"

	"taskquest/core"
)

// Store is a concurrent in-memory LedgerStore implementation.
type Store struct {
	users sync.Map // map[core.UserID]*userRecord
}

type userRecord struct {
	mu   sync.Mutex
	snap core.Snapshot
}

func New() *Store { return &Store{} }

// CreateUser provisions an empty ledger for the user. Creating an existing
// user is a no-op; user lifecycle belongs to collaborators, not the engine.
func (s *Store) CreateUser(_ context.Context, user core.UserID) error {
	rec := &userRecord{snap: core.Snapshot{UserID: user}}
	s.users.LoadOrStore(user, rec)
	return nil
}

func (s *Store) LoadSnapshot(_ context.Context, user core.UserID) (core.Snapshot, error) {
	v, ok := s.users.Load(user)
	if !ok {
		return core.Snapshot{}, fmt.Errorf("%w: %s", core.ErrUserNotFound, user)
	}
	rec := v.(*userRecord)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.snap.Clone(), nil
}

func (s *Store) Persist(_ context.Context, m core.Mutation) error {
	v, ok := s.users.Load(m.UserID)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUserNotFound, m.UserID)
	}
	rec := v.(*userRecord)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.snap.Version != m.BaseVersion {
		return fmt.Errorf("%w: have %d, mutation based on %d",
			core.ErrVersionConflict, rec.snap.Version, m.BaseVersion)
	}
	rec.snap.PointBalance = m.NewBalance
	rec.snap.History = append(rec.snap.History, m.Entries...)
	rec.snap.Unlocks = append(rec.snap.Unlocks, m.Unlocks...)
	rec.snap.Version++
	return nil
}

var _ interface {
	CreateUser(context.Context, core.UserID) error
	LoadSnapshot(context.Context, core.UserID) (core.Snapshot, error)
	Persist(context.Context, core.Mutation) error
} = (*Store)(nil)
