// SPDX-License-Identifier: MIT

package lock

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// mysqlDuplicateEntry is the server error for a unique index violation.
const mysqlDuplicateEntry = 1062

// MySQLStore holds locks as rows in recargas_process_locks. The unique
// index on lock_key makes the insert the atomic acquisition step.
type MySQLStore struct {
	db *sqlx.DB
}

// NewMySQLStore wraps an existing pool; the ledger and the lock table
// share one database.
func NewMySQLStore(db *sqlx.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func (s *MySQLStore) Name() string { return "mysql" }

type lockRow struct {
	LockKey    string    `db:"lock_key"`
	LockID     string    `db:"lock_id"`
	PID        int       `db:"pid"`
	AcquiredAt time.Time `db:"acquired_at"`
	ExpiresAt  time.Time `db:"expires_at"`
}

func (r lockRow) record() *Record {
	return &Record{
		Key:        r.LockKey,
		HolderID:   r.LockID,
		PID:        r.PID,
		AcquiredAt: r.AcquiredAt,
		ExpiresAt:  r.ExpiresAt,
	}
}

func (s *MySQLStore) TryAcquire(ctx context.Context, rec Record) (bool, *Record, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recargas_process_locks (lock_key, lock_id, pid, acquired_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.Key, rec.HolderID, rec.PID, rec.AcquiredAt, rec.ExpiresAt)
	if err == nil {
		return true, nil, nil
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		existing, getErr := s.Get(ctx, rec.Key)
		if getErr != nil {
			return false, nil, getErr
		}
		return false, existing, nil
	}
	return false, nil, err
}

func (s *MySQLStore) Release(ctx context.Context, key, holderID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM recargas_process_locks WHERE lock_key = ? AND lock_id = ?`,
		key, holderID)
	return err
}

func (s *MySQLStore) Get(ctx context.Context, key string) (*Record, error) {
	var row lockRow
	err := s.db.GetContext(ctx, &row,
		`SELECT lock_key, lock_id, pid, acquired_at, expires_at
		 FROM recargas_process_locks WHERE lock_key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.record(), nil
}

func (s *MySQLStore) SweepExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM recargas_process_locks WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *MySQLStore) ReleaseAll(ctx context.Context, holderID string, force bool) (int, error) {
	query := `DELETE FROM recargas_process_locks WHERE lock_id = ?`
	args := []any{holderID}
	if force {
		query = `DELETE FROM recargas_process_locks`
		args = nil
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close is a no-op: the pool is owned by the orchestrator.
func (s *MySQLStore) Close() error { return nil }
