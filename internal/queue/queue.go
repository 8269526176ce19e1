// SPDX-License-Identifier: MIT

package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/mextic/recargas/internal/log"
	"github.com/mextic/recargas/internal/metrics"
	"github.com/mextic/recargas/internal/model"
)

// Queue is the durable per-service auxiliary queue. Callers are
// serialized by the pipeline lock; the internal mutex only protects
// against concurrent reads from the status CLI.
type Queue struct {
	service    model.ServiceType
	path       string
	markerPath string

	mu     sync.Mutex
	items  []Item
	logger zerolog.Logger
}

// Open loads (or creates) the queue file for one service and runs the
// crash-recovery sweep against its marker.
func Open(dataDir string, service model.ServiceType) (*Queue, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	q := &Queue{
		service:    service,
		path:       filepath.Join(dataDir, "queue_"+service.Lower()+".json"),
		markerPath: filepath.Join(dataDir, "marker_"+service.Lower()+".json"),
		logger:     log.WithService("queue", service.Lower()),
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	if err := q.recoverFromMarker(); err != nil {
		return nil, err
	}
	q.updateDepthGauge()
	return q, nil
}

func (q *Queue) load() error {
	raw, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		q.items = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("read queue file: %w", err)
	}
	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("corrupt queue file %s: %w", q.path, err)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].AddedAt.Before(items[j].AddedAt) })
	q.items = items
	return nil
}

// persist writes the full queue snapshot atomically and durably:
// renameio fsyncs the temp file before the rename, so a power cut
// leaves either the old or the new snapshot, never a torn one.
func (q *Queue) persist() error {
	raw, err := json.MarshalIndent(q.items, "", "  ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(q.path, raw, 0o640); err != nil {
		return fmt.Errorf("persist queue %s: %w", q.path, err)
	}
	q.updateDepthGauge()
	return nil
}

func (q *Queue) updateDepthGauge() {
	pending := 0
	for _, it := range q.items {
		if it.Status.NeedsDB() {
			pending++
		}
	}
	metrics.QueueDepth.WithLabelValues(q.service.Lower()).Set(float64(pending))
}

// recoverFromMarker re-enqueues the marker sample after an unclean
// shutdown. Recovered items enter at failed-pending-recovery so the
// strict-recovery policy blocks new dispatch until they resolve.
func (q *Queue) recoverFromMarker() error {
	raw, err := os.ReadFile(q.markerPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read marker: %w", err)
	}
	var marker Marker
	if err := json.Unmarshal(raw, &marker); err != nil {
		q.logger.Warn().Err(err).Msg("corrupt recovery marker, discarding")
		return os.Remove(q.markerPath)
	}
	if marker.WasProcessing {
		recovered := 0
		for _, it := range marker.Sample {
			if q.findIndexLocked(it.ID) >= 0 {
				continue
			}
			it.Status = StatusFailedPendingRecovery
			it.LastError = "process crashed while item was in flight"
			q.items = append(q.items, it)
			recovered++
		}
		q.logger.Warn().
			Int("recovered", recovered).
			Time("crash_started_at", marker.StartedAt).
			Str("event", "queue.crash_recovered").
			Msg("unclean shutdown detected, items re-enqueued for recovery")
		if err := q.persist(); err != nil {
			return err
		}
	}
	return os.Remove(q.markerPath)
}

// Service returns the queue's service type.
func (q *Queue) Service() model.ServiceType { return q.service }

// Enqueue appends the item and flushes it to disk before returning.
// This must complete before the batch writer sees the item: the
// queue-before-DB invariant is what makes a crash recoverable.
func (q *Queue) Enqueue(item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now()
	}
	if item.Kind == "" {
		item.Kind = q.service.QueueKind()
	}
	q.items = append(q.items, item)
	if err := q.persist(); err != nil {
		q.items = q.items[:len(q.items)-1]
		return err
	}
	q.logger.Debug().Str("sim", item.SIM).Str("folio", folioOf(item)).Msg("item enqueued")
	return nil
}

func folioOf(it Item) string {
	if it.Webservice != nil {
		return it.Webservice.Folio
	}
	return ""
}

func (q *Queue) findIndexLocked(idOrSIM string) int {
	for i := range q.items {
		if q.items[i].ID == idOrSIM || q.items[i].SIM == idOrSIM {
			return i
		}
	}
	return -1
}

func (q *Queue) mark(idOrSIM string, status Status, lastError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.findIndexLocked(idOrSIM)
	if i < 0 {
		return fmt.Errorf("queue %s: no item %q", q.service.Lower(), idOrSIM)
	}
	q.items[i].Status = status
	q.items[i].Attempts++
	q.items[i].LastAttemptAt = time.Now()
	q.items[i].LastError = lastError
	return q.persist()
}

// MarkInserted records a committed and verified detail row.
func (q *Queue) MarkInserted(idOrSIM string) error {
	return q.mark(idOrSIM, StatusInserted, "")
}

// MarkDuplicate records a folio that already existed in the detail
// table. Treated as success: the money was already accounted for.
func (q *Queue) MarkDuplicate(idOrSIM string) error {
	return q.mark(idOrSIM, StatusDuplicate, "")
}

// MarkFailed records a DB failure; the item stays queued for recovery.
func (q *Queue) MarkFailed(idOrSIM string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return q.mark(idOrSIM, StatusFailedPendingRecovery, msg)
}

// MarkRecoveryPending moves a drained item into its recovery attempt.
func (q *Queue) MarkRecoveryPending(idOrSIM string) error {
	return q.mark(idOrSIM, StatusRecoveryPendingDB, "")
}

// Pending returns the items still requiring a DB insert, FIFO.
func (q *Queue) Pending() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Item
	for _, it := range q.items {
		if it.Status.NeedsDB() {
			out = append(out, it)
		}
	}
	return out
}

// Items returns a copy of every queued item, FIFO.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}

// GetStats counts items by state.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	for _, it := range q.items {
		switch {
		case it.Status == StatusFailed:
			s.Failed++
		case it.Status == StatusInserted:
			s.Inserted++
		case it.Status == StatusDuplicate:
			s.Duplicate++
		case it.Status.NeedsDB():
			s.Pending++
		}
	}
	s.Total = len(q.items)
	return s
}

// CleanProcessed removes items whose folio has been verified in the
// detail table (status inserted or duplicate). Everything else stays:
// a paid recharge is never dropped on suspicion.
func (q *Queue) CleanProcessed() (cleaned, remaining int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	for _, it := range q.items {
		if it.Status.Processed() {
			cleaned++
			continue
		}
		kept = append(kept, it)
	}
	q.items = kept
	if err := q.persist(); err != nil {
		return 0, len(q.items), err
	}
	if cleaned > 0 {
		q.logger.Info().Int("cleaned", cleaned).Int("remaining", len(q.items)).Msg("processed items cleaned")
	}
	return cleaned, len(q.items), nil
}

// MarkProcessingStart writes the crash-recovery marker with a sample of
// the in-flight items.
func (q *Queue) MarkProcessingStart(sample []Item) error {
	marker := Marker{
		WasProcessing:  true,
		StartedAt:      time.Now(),
		ItemsInProcess: len(sample),
		Sample:         sample,
	}
	raw, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(q.markerPath, raw, 0o640)
}

// MarkProcessingEnd removes the marker after a clean pipeline exit.
func (q *Queue) MarkProcessingEnd() error {
	err := os.Remove(q.markerPath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
