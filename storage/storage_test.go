package storage

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupMockStore(t *testing.T, dialect Dialect) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQL(db, dialect, testLogger()), mock
}

func TestSQLStore_Load(t *testing.T) {
	s, mock := setupMockStore(t, Postgres)

	mock.ExpectQuery("SELECT slot_key FROM seen_slots").
		WillReturnRows(sqlmock.NewRows([]string{"slot_key"}).
			AddRow("2025-06-10--09:00").
			AddRow("2025-06-12--11:00"))

	keys, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-06-10--09:00", "2025-06-12--11:00"}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_LoadEmpty(t *testing.T) {
	s, mock := setupMockStore(t, Postgres)

	mock.ExpectQuery("SELECT slot_key FROM seen_slots").
		WillReturnRows(sqlmock.NewRows([]string{"slot_key"}))

	keys, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, keys)
	assert.Empty(t, keys)
}

func TestSQLStore_ReplacePostgres(t *testing.T) {
	s, mock := setupMockStore(t, Postgres)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM seen_slots").WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(`INSERT INTO seen_slots \(id, slot_key\) VALUES \(\$1, \$2\)`).
		WithArgs(sqlmock.AnyArg(), "2025-06-05--10:00").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO seen_slots \(id, slot_key\) VALUES \(\$1, \$2\)`).
		WithArgs(sqlmock.AnyArg(), "2025-06-12--11:00").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.Replace(context.Background(), []string{"2025-06-05--10:00", "2025-06-12--11:00", "2025-06-05--10:00"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ReplaceRollsBackOnError(t *testing.T) {
	s, mock := setupMockStore(t, Postgres)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM seen_slots").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO seen_slots").
		WithArgs(sqlmock.AnyArg(), "2025-06-05--10:00").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.Replace(context.Background(), []string{"2025-06-05--10:00"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ReplaceCommitFailurePropagates(t *testing.T) {
	s, mock := setupMockStore(t, Postgres)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM seen_slots").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	err := s.Replace(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit seen-set")
}

func TestSQLStore_SQLitePlaceholders(t *testing.T) {
	s, mock := setupMockStore(t, SQLite)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM seen_slots").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO seen_slots \(id, slot_key\) VALUES \(\?, \?\)`).
		WithArgs(sqlmock.AnyArg(), "2025-06-05--10:00").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Replace(context.Background(), []string{"2025-06-05--10:00"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "termini.db")

	s, err := Open(ctx, SQLite, path, testLogger())
	require.NoError(t, err)

	keys, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	require.NoError(t, s.Replace(ctx, []string{"2025-06-10--09:00", "2025-06-12--11:00"}))
	require.NoError(t, s.Replace(ctx, []string{"2025-06-05--10:00", "2025-06-12--11:00"}))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, SQLite, path, testLogger())
	require.NoError(t, err)
	defer reopened.Close()

	keys, err = reopened.Load(ctx)
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"2025-06-05--10:00", "2025-06-12--11:00"}, keys)
}

func TestSnapshotRoundTrip(t *testing.T) {
	data, err := encodeSnapshot([]string{"a--1", "b--2", "a--1"}, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	keys, err := decodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"a--1", "b--2"}, keys)

	keys, err = decodeSnapshot([]byte(`{"updated_at":"2025-06-01T00:00:00Z"}`))
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = decodeSnapshot([]byte("not json"))
	assert.Error(t, err)
}
