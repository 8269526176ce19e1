// SPDX-License-Identifier: MIT

// Package lock implements the distributed named locks that guarantee a
// single pipeline instance per service type across processes. Two
// mutually exclusive backends exist: Redis (conditional SET with TTL)
// and MySQL (unique-keyed row in recargas_process_locks). The backend
// is chosen once at startup; there is no fallback, since silently
// switching stores would allow two holders and a double charge.
package lock

import (
	"context"
	"errors"
	"time"
)

// Acquisition failure reasons as surfaced to the pipeline.
const (
	ReasonExists             = "lock_exists"
	ReasonBackendError       = "backend_error"
	ReasonBackendUnavailable = "backend_unavailable"
)

// ErrBackendUnavailable marks a store that cannot be reached at all.
var ErrBackendUnavailable = errors.New("lock: backend unavailable")

// Record describes a held lock.
type Record struct {
	Key        string    `json:"key"`
	HolderID   string    `json:"holderId"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Age returns how long the lock has been held as of now.
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(r.AcquiredAt)
}

// AcquireResult is the outcome of one acquisition attempt.
type AcquireResult struct {
	Acquired      bool
	Provider      string // backend name: "redis" or "mysql"
	Reason        string // empty when acquired
	ExistingOwner *Record
	Err           error
}

// Store is the backend surface. Implementations must make tryAcquire
// atomic: two concurrent calls for the same key must not both succeed.
type Store interface {
	Name() string
	// TryAcquire stores rec if and only if no unexpired record exists
	// for rec.Key. Returns the existing record on conflict.
	TryAcquire(ctx context.Context, rec Record) (acquired bool, existing *Record, err error)
	// Release deletes the record only when the holder matches.
	Release(ctx context.Context, key, holderID string) error
	// Get returns the current record for key, or nil.
	Get(ctx context.Context, key string) (*Record, error)
	// SweepExpired removes all records with expiresAt in the past and
	// returns how many were removed.
	SweepExpired(ctx context.Context) (int, error)
	// ReleaseAll removes every record held by holderID and returns how
	// many were removed. force drops ownership checking.
	ReleaseAll(ctx context.Context, holderID string, force bool) (int, error)
	Close() error
}
