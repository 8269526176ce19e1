// SPDX-License-Identifier: MIT

package lock

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMySQLStore(t *testing.T) (*MySQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewMySQLStore(sqlx.NewDb(db, "mysql")), mock
}

func TestMySQLTryAcquireInserts(t *testing.T) {
	store, mock := newMySQLStore(t)

	mock.ExpectExec("INSERT INTO recargas_process_locks").
		WithArgs("pipeline:gps", "holder-1", 123, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	now := time.Now()
	ok, existing, err := store.TryAcquire(context.Background(), Record{
		Key: "pipeline:gps", HolderID: "holder-1", PID: 123,
		AcquiredAt: now, ExpiresAt: now.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, existing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLDuplicateKeyMeansLockExists(t *testing.T) {
	store, mock := newMySQLStore(t)

	mock.ExpectExec("INSERT INTO recargas_process_locks").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	owner := time.Now().Add(-30 * time.Second)
	mock.ExpectQuery("SELECT lock_key, lock_id, pid, acquired_at, expires_at").
		WithArgs("pipeline:gps").
		WillReturnRows(sqlmock.NewRows([]string{"lock_key", "lock_id", "pid", "acquired_at", "expires_at"}).
			AddRow("pipeline:gps", "other-holder", 99, owner, owner.Add(time.Minute)))

	now := time.Now()
	ok, existing, err := store.TryAcquire(context.Background(), Record{
		Key: "pipeline:gps", HolderID: "holder-1", PID: 123,
		AcquiredAt: now, ExpiresAt: now.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.False(t, ok)
	require.NotNil(t, existing)
	assert.Equal(t, "other-holder", existing.HolderID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLBackendErrorSurfaces(t *testing.T) {
	store, mock := newMySQLStore(t)

	mock.ExpectExec("INSERT INTO recargas_process_locks").
		WillReturnError(assert.AnError)

	m := NewManager(store)
	res := m.Acquire(context.Background(), "pipeline:gps", time.Minute)
	assert.False(t, res.Acquired)
	assert.Equal(t, ReasonBackendError, res.Reason)
	assert.Error(t, res.Err)
}

func TestMySQLReleaseOnlyMatchingHolder(t *testing.T) {
	store, mock := newMySQLStore(t)

	mock.ExpectExec("DELETE FROM recargas_process_locks WHERE lock_key = \\? AND lock_id = \\?").
		WithArgs("pipeline:voz", "holder-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Release(context.Background(), "pipeline:voz", "holder-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLSweepExpired(t *testing.T) {
	store, mock := newMySQLStore(t)

	mock.ExpectExec("DELETE FROM recargas_process_locks WHERE expires_at <").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMySQLReleaseAllForce(t *testing.T) {
	store, mock := newMySQLStore(t)

	mock.ExpectExec("DELETE FROM recargas_process_locks$").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.ReleaseAll(context.Background(), "holder-1", true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
