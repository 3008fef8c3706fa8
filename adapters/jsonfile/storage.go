package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"taskquest/core"
)

// Store persists all users' ledgers to a single JSON document.
// Suitable for demos and small deployments.
type Store struct {
	path string
	mu   sync.Mutex
	// in-memory cache for speed
	data map[core.UserID]core.Snapshot
}

func New(path string) (*Store, error) {
	s := &Store{path: path, data: map[core.UserID]core.Snapshot{}}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var raw map[string]core.Snapshot
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		s.data[core.UserID(k)] = v
	}
	return nil
}

// write marshals the given document and swaps it onto disk atomically. The
// in-memory cache is only replaced by the caller after write succeeds, so a
// failed persist leaves no partial state.
func (s *Store) write(data map[core.UserID]core.Snapshot) error {
	tmp := s.path + ".tmp"
	raw := make(map[string]core.Snapshot, len(data))
	for k, v := range data {
		raw[string(k)] = v
	}
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// CreateUser provisions an empty ledger; existing users are left alone.
func (s *Store) CreateUser(_ context.Context, user core.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[user]; ok {
		return nil
	}
	next := s.cloneAll()
	next[user] = core.Snapshot{UserID: user}
	if err := s.write(next); err != nil {
		return err
	}
	s.data = next
	return nil
}

func (s *Store) LoadSnapshot(_ context.Context, user core.UserID) (core.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.data[user]
	if !ok {
		return core.Snapshot{}, fmt.Errorf("%w: %s", core.ErrUserNotFound, user)
	}
	return snap.Clone(), nil
}

func (s *Store) Persist(_ context.Context, m core.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.data[m.UserID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUserNotFound, m.UserID)
	}
	if snap.Version != m.BaseVersion {
		return fmt.Errorf("%w: have %d, mutation based on %d",
			core.ErrVersionConflict, snap.Version, m.BaseVersion)
	}
	updated := snap.Clone()
	updated.PointBalance = m.NewBalance
	updated.History = append(updated.History, m.Entries...)
	updated.Unlocks = append(updated.Unlocks, m.Unlocks...)
	updated.Version++

	next := s.cloneAll()
	next[m.UserID] = updated
	if err := s.write(next); err != nil {
		return err
	}
	s.data = next
	return nil
}

func (s *Store) cloneAll() map[core.UserID]core.Snapshot {
	next := make(map[core.UserID]core.Snapshot, len(s.data))
	for k, v := range s.data {
		next[k] = v
	}
	return next
}
