package sqlx_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	libsqlx "github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	storage "taskquest/adapters/sqlx"
	"taskquest/core"
)

func newMockStore(t *testing.T) (*storage.Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	xdb := storage.NewWithDB(libsqlx.NewDb(db, "postgres"), storage.DriverPostgres)
	cleanup := func() {
		_ = db.Close()
	}
	return xdb, mock, cleanup
}

func TestSQLMock_CreateUser_Insert(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	ctx := context.Background()
	user := core.UserID("u1")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(user).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(user, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.CreateUser(ctx, user))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_CreateUser_AlreadyExists(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(core.UserID("u1")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectCommit()

	require.NoError(t, store.CreateUser(context.Background(), "u1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_LoadSnapshot(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	ctx := context.Background()
	user := core.UserID("u1")
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT balance, version FROM users`).
		WithArgs(user).
		WillReturnRows(sqlmock.NewRows([]string{"balance", "version"}).AddRow(60, 2))

	mock.ExpectQuery(`SELECT id, kind, points_delta, ts, details FROM user_history`).
		WithArgs(user).
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "points_delta", "ts", "details"}).
			AddRow("e1", "task_completed", 50, now, `{"category":"chores"}`).
			AddRow("e2", "achievement_unlocked", 10, now, nil))

	mock.ExpectQuery(`SELECT id, achievement_id, unlocked_at, progress FROM user_unlocks`).
		WithArgs(user).
		WillReturnRows(sqlmock.NewRows([]string{"id", "achievement_id", "unlocked_at", "progress"}).
			AddRow("un1", "first_task", now, 1))

	snap, err := store.LoadSnapshot(ctx, user)
	require.NoError(t, err)
	require.Equal(t, int64(60), snap.PointBalance)
	require.Equal(t, uint64(2), snap.Version)
	require.Len(t, snap.History, 2)
	category, ok := snap.History[0].Category()
	require.True(t, ok)
	require.Equal(t, "chores", category)
	require.True(t, snap.HasUnlocked("first_task"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_LoadSnapshot_UserNotFound(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT balance, version FROM users`).
		WithArgs(core.UserID("ghost")).
		WillReturnError(sql.ErrNoRows)

	_, err := store.LoadSnapshot(context.Background(), "ghost")
	require.ErrorIs(t, err, core.ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_Persist(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	m := core.Mutation{
		UserID:     "u1",
		NewBalance: 60,
		Entries: []core.HistoryEntry{{
			ID: "e1", UserID: "u1", Kind: core.KindAchievementUnlocked,
			PointsDelta: 10, Timestamp: now,
			Details: map[string]string{"achievement_id": "first_task"},
		}},
		Unlocks: []core.Unlock{{
			ID: "un1", UserID: "u1", AchievementID: "first_task",
			UnlockedAt: now, ProgressAtUnlock: 1,
		}},
		BaseVersion: 1,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users SET balance`).
		WithArgs(int64(60), sqlmock.AnyArg(), core.UserID("u1"), uint64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO user_history`).
		WithArgs("e1", core.UserID("u1"), "achievement_unlocked", int64(10), now, `{"achievement_id":"first_task"}`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO user_unlocks`).
		WithArgs("un1", core.UserID("u1"), "first_task", now, int64(1)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Persist(ctx, m))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_Persist_VersionConflict(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users SET balance`).
		WithArgs(int64(5), sqlmock.AnyArg(), core.UserID("u1"), uint64(0)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(core.UserID("u1")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := store.Persist(context.Background(), core.Mutation{UserID: "u1", NewBalance: 5, BaseVersion: 0})
	require.ErrorIs(t, err, core.ErrVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_Persist_UnknownUser(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users SET balance`).
		WithArgs(int64(5), sqlmock.AnyArg(), core.UserID("ghost"), uint64(0)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(core.UserID("ghost")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	err := store.Persist(context.Background(), core.Mutation{UserID: "ghost", NewBalance: 5, BaseVersion: 0})
	require.ErrorIs(t, err, core.ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
