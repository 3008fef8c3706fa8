package sqlx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	// database drivers selected via Config.Driver
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"taskquest/core"
)

// Driver selects the SQL dialect.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Config holds SQL connection configuration.
type Config struct {
	Driver          Driver        `json:"driver"`
	DSN             string        `json:"dsn" env:"TASKQUEST_STORAGE_SQL_DSN"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// DefaultConfig returns sensible defaults for the given driver.
func DefaultConfig(driver Driver) Config {
	return Config{
		Driver:          driver,
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Store implements the engine.LedgerStore interface on a SQL database.
// Schema:
//   - users(user_id, balance, version, created_at, updated_at)
//   - user_history(seq, id, user_id, kind, points_delta, ts, details)
//   - user_unlocks(id, user_id, achievement_id, unlocked_at, progress)
type Store struct {
	db     *sqlx.DB
	driver Driver
}

// New opens a connection pool and verifies connectivity.
func New(cfg Config) (*Store, error) {
	db, err := sqlx.Connect(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return &Store{db: db, driver: cfg.Driver}, nil
}

// NewWithDB wraps an existing database handle (useful for testing).
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

// Close closes the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the ledger tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	seqColumn := "seq BIGSERIAL PRIMARY KEY"
	if s.driver == DriverMySQL {
		seqColumn = "seq BIGINT AUTO_INCREMENT PRIMARY KEY"
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id VARCHAR(191) PRIMARY KEY,
			balance BIGINT NOT NULL DEFAULT 0,
			version BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS user_history (
			%s,
			id VARCHAR(64) NOT NULL,
			user_id VARCHAR(191) NOT NULL,
			kind VARCHAR(32) NOT NULL,
			points_delta BIGINT NOT NULL DEFAULT 0,
			ts TIMESTAMP NOT NULL,
			details TEXT NULL
		)`, seqColumn),
		`CREATE TABLE IF NOT EXISTS user_unlocks (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(191) NOT NULL,
			achievement_id VARCHAR(191) NOT NULL,
			unlocked_at TIMESTAMP NOT NULL,
			progress BIGINT NOT NULL DEFAULT 0,
			CONSTRAINT uq_user_achievement UNIQUE (user_id, achievement_id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// CreateUser provisions a ledger row; existing users are left alone.
func (s *Store) CreateUser(ctx context.Context, user core.UserID) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	query := tx.Rebind(`SELECT EXISTS(SELECT 1 FROM users WHERE user_id = ?)`)
	if err := tx.GetContext(ctx, &exists, query, user); err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	if !exists {
		insert := tx.Rebind(`INSERT INTO users (user_id, balance, version, created_at) VALUES (?, 0, 0, ?)`)
		if _, err := tx.ExecContext(ctx, insert, user, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
	}
	return tx.Commit()
}

type historyRow struct {
	ID          string         `db:"id"`
	Kind        string         `db:"kind"`
	PointsDelta int64          `db:"points_delta"`
	Timestamp   time.Time      `db:"ts"`
	Details     sql.NullString `db:"details"`
}

type unlockRow struct {
	ID            string    `db:"id"`
	AchievementID string    `db:"achievement_id"`
	UnlockedAt    time.Time `db:"unlocked_at"`
	Progress      int64     `db:"progress"`
}

// LoadSnapshot reads the user row, history in append order, and unlocks.
func (s *Store) LoadSnapshot(ctx context.Context, user core.UserID) (core.Snapshot, error) {
	var u struct {
		Balance int64  `db:"balance"`
		Version uint64 `db:"version"`
	}
	query := s.db.Rebind(`SELECT balance, version FROM users WHERE user_id = ?`)
	if err := s.db.GetContext(ctx, &u, query, user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Snapshot{}, fmt.Errorf("%w: %s", core.ErrUserNotFound, user)
		}
		return core.Snapshot{}, fmt.Errorf("failed to read user: %w", err)
	}

	snap := core.Snapshot{UserID: user, PointBalance: u.Balance, Version: u.Version}

	var history []historyRow
	query = s.db.Rebind(`SELECT id, kind, points_delta, ts, details FROM user_history WHERE user_id = ? ORDER BY seq`)
	if err := s.db.SelectContext(ctx, &history, query, user); err != nil {
		return core.Snapshot{}, fmt.Errorf("failed to read history: %w", err)
	}
	snap.History = make([]core.HistoryEntry, 0, len(history))
	for _, row := range history {
		entry := core.HistoryEntry{
			ID:          row.ID,
			UserID:      user,
			Kind:        core.EntryKind(row.Kind),
			PointsDelta: row.PointsDelta,
			Timestamp:   row.Timestamp,
		}
		if row.Details.Valid && row.Details.String != "" {
			if err := json.Unmarshal([]byte(row.Details.String), &entry.Details); err != nil {
				return core.Snapshot{}, fmt.Errorf("corrupt details for entry %s: %w", row.ID, err)
			}
		}
		snap.History = append(snap.History, entry)
	}

	var unlocks []unlockRow
	query = s.db.Rebind(`SELECT id, achievement_id, unlocked_at, progress FROM user_unlocks WHERE user_id = ? ORDER BY unlocked_at`)
	if err := s.db.SelectContext(ctx, &unlocks, query, user); err != nil {
		return core.Snapshot{}, fmt.Errorf("failed to read unlocks: %w", err)
	}
	snap.Unlocks = make([]core.Unlock, 0, len(unlocks))
	for _, row := range unlocks {
		snap.Unlocks = append(snap.Unlocks, core.Unlock{
			ID:               row.ID,
			UserID:           user,
			AchievementID:    row.AchievementID,
			UnlockedAt:       row.UnlockedAt,
			ProgressAtUnlock: row.Progress,
		})
	}

	return snap, nil
}

// Persist applies the mutation in one transaction. The version guard on the
// UPDATE is the optimistic-concurrency check: zero rows affected means a
// concurrent writer advanced the version first.
func (s *Store) Persist(ctx context.Context, m core.Mutation) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	update := tx.Rebind(`UPDATE users SET balance = ?, version = version + 1, updated_at = ? WHERE user_id = ? AND version = ?`)
	res, err := tx.ExecContext(ctx, update, m.NewBalance, time.Now().UTC(), m.UserID, m.BaseVersion)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		var exists bool
		query := tx.Rebind(`SELECT EXISTS(SELECT 1 FROM users WHERE user_id = ?)`)
		if err := tx.GetContext(ctx, &exists, query, m.UserID); err != nil {
			return fmt.Errorf("failed to check user: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", core.ErrUserNotFound, m.UserID)
		}
		return fmt.Errorf("%w: %s", core.ErrVersionConflict, m.UserID)
	}

	insertEntry := tx.Rebind(`INSERT INTO user_history (id, user_id, kind, points_delta, ts, details) VALUES (?, ?, ?, ?, ?, ?)`)
	for _, e := range m.Entries {
		var details interface{}
		if len(e.Details) > 0 {
			blob, err := json.Marshal(e.Details)
			if err != nil {
				return fmt.Errorf("marshal details: %w", err)
			}
			details = string(blob)
		}
		if _, err := tx.ExecContext(ctx, insertEntry, e.ID, m.UserID, string(e.Kind), e.PointsDelta, e.Timestamp, details); err != nil {
			return fmt.Errorf("failed to insert history entry: %w", err)
		}
	}

	insertUnlock := tx.Rebind(`INSERT INTO user_unlocks (id, user_id, achievement_id, unlocked_at, progress) VALUES (?, ?, ?, ?, ?)`)
	for _, u := range m.Unlocks {
		if _, err := tx.ExecContext(ctx, insertUnlock, u.ID, m.UserID, u.AchievementID, u.UnlockedAt, u.ProgressAtUnlock); err != nil {
			return fmt.Errorf("failed to insert unlock: %w", err)
		}
	}

	return tx.Commit()
}
