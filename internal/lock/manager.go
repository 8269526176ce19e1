// SPDX-License-Identifier: MIT

package lock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/mextic/recargas/internal/log"
	"github.com/mextic/recargas/internal/metrics"
)

// Manager fronts a Store with the acquire/release policy: sweep before
// acquiring, never steal a live lock, release only what we hold.
type Manager struct {
	store    Store
	holderID string
	pid      int
}

// NewManager creates a manager with a process-unique holder identity.
func NewManager(store Store) *Manager {
	host, _ := os.Hostname()
	return &Manager{
		store:    store,
		holderID: fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8]),
		pid:      os.Getpid(),
	}
}

// HolderID returns this process's lock holder identity.
func (m *Manager) HolderID() string { return m.holderID }

// Backend returns the configured store name.
func (m *Manager) Backend() string { return m.store.Name() }

// Acquire attempts to take the named lock for ttl. Expired locks are
// swept first so a crashed holder cannot block forever. A live
// conflicting lock is logged with the owner's age and left alone.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) AcquireResult {
	logger := log.WithComponent("lock")

	if _, err := m.store.SweepExpired(ctx); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("expired-lock sweep failed")
	}

	now := time.Now()
	rec := Record{
		Key:        key,
		HolderID:   m.holderID,
		PID:        m.pid,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	acquired, existing, err := m.store.TryAcquire(ctx, rec)
	if err != nil {
		logger.Error().Err(err).
			Str("key", key).
			Str("backend", m.store.Name()).
			Str("event", "lock.backend_error").
			Msg("lock backend error")
		metrics.LockAcquisitions.WithLabelValues(key, ReasonBackendError).Inc()
		return AcquireResult{Provider: m.store.Name(), Reason: ReasonBackendError, Err: err}
	}
	if !acquired {
		if existing != nil {
			logger.Info().
				Str("key", key).
				Str("owner", existing.HolderID).
				Dur("age", existing.Age(now)).
				Time("expires_at", existing.ExpiresAt).
				Msg("lock held elsewhere, skipping")
		}
		metrics.LockAcquisitions.WithLabelValues(key, ReasonExists).Inc()
		return AcquireResult{Provider: m.store.Name(), Reason: ReasonExists, ExistingOwner: existing}
	}

	logger.Debug().Str("key", key).Dur("ttl", ttl).Msg("lock acquired")
	metrics.LockAcquisitions.WithLabelValues(key, "acquired").Inc()
	return AcquireResult{Acquired: true, Provider: m.store.Name()}
}

// Release drops the named lock if this process holds it. Idempotent.
func (m *Manager) Release(ctx context.Context, key string) error {
	return m.store.Release(ctx, key, m.holderID)
}

// IsHeld reports whether the named lock currently exists, and its age.
func (m *Manager) IsHeld(ctx context.Context, key string) (bool, time.Duration, error) {
	rec, err := m.store.Get(ctx, key)
	if err != nil {
		return false, 0, err
	}
	if rec == nil || time.Now().After(rec.ExpiresAt) {
		return false, 0, nil
	}
	return true, rec.Age(time.Now()), nil
}

// SweepExpired removes expired locks regardless of owner.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	return m.store.SweepExpired(ctx)
}

// ReleaseAll drops every lock this process holds; with force, every
// lock in the store.
func (m *Manager) ReleaseAll(ctx context.Context, force bool) (int, error) {
	return m.store.ReleaseAll(ctx, m.holderID, force)
}

// Close closes the underlying store.
func (m *Manager) Close() error { return m.store.Close() }

// KeyFor returns the canonical lock key for a service pipeline.
func KeyFor(serviceLower string) string {
	return "pipeline:" + serviceLower
}
