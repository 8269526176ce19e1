// SPDX-License-Identifier: MIT

package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/mextic/recargas/internal/clock"
	"github.com/mextic/recargas/internal/log"
	"github.com/mextic/recargas/internal/metrics"
	"github.com/mextic/recargas/internal/model"
	"github.com/mextic/recargas/internal/queue"
)

// mysqlDuplicateEntry is the server error for a unique index violation.
const mysqlDuplicateEntry = 1062

// Operator is the `quien` value recorded on every automated master row.
const Operator = "mextic.app"

// StatusRecorder is the queue surface the writer mutates. Marks happen
// after commit (inserted) or inside failure handling (failed); the
// queue flushes each mark durably.
type StatusRecorder interface {
	MarkInserted(idOrSIM string) error
	MarkDuplicate(idOrSIM string) error
	MarkFailed(idOrSIM string, cause error) error
}

// FolioVerifier answers the post-commit existence check that gates
// queue cleanup.
type FolioVerifier interface {
	FolioExists(ctx context.Context, folio, sim string) (bool, error)
}

// Resumen is the JSON summary column of a master row.
type Resumen struct {
	Error   int `json:"error"`
	Success int `json:"success"`
	Refund  int `json:"refund"`
}

// BatchResult summarizes one committed batch.
type BatchResult struct {
	MasterID   int64
	Service    model.ServiceType
	Provider   string
	Total      float64
	Inserted   int
	Duplicates int
	Notes      string
	IsRecovery bool
}

// Writer persists batches of successful webservice calls.
type Writer struct {
	db   *sqlx.DB
	zone *clock.Zone
}

// NewWriter creates a batch writer on the shared MySQL pool.
func NewWriter(db *sqlx.DB, zone *clock.Zone) *Writer {
	return &Writer{db: db, zone: zone}
}

// FolioExists reports whether a detail row with the folio+sim pair has
// been committed.
func (w *Writer) FolioExists(ctx context.Context, folio, sim string) (bool, error) {
	var n int
	err := w.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM detalle_recargas WHERE folio = ? AND sim = ?`, folio, sim)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// WriteBatch inserts one master row and one detail row per item inside
// a single transaction, updating each successfully inserted subject's
// expiry in the same transaction. A duplicate folio is tolerated (the
// recharge was already recorded by an earlier attempt); any other
// detail failure aborts the whole batch so no partial ledger exists.
func (w *Writer) WriteBatch(ctx context.Context, items []queue.Item, providerName string, counters NoteCounters, rec StatusRecorder) (*BatchResult, error) {
	if len(items) == 0 {
		return nil, errors.New("ledger: empty batch")
	}
	service := items[0].ServiceType
	logger := log.WithService("ledger", service.Lower())

	var total float64
	for _, it := range items {
		total += it.Amount
	}

	counters.Success = len(items)
	singleDesc, singleCompany := "", ""
	if len(items) == 1 {
		singleDesc = items[0].Record.Description
		singleCompany = items[0].Record.Company
	}
	notes := FormatMasterNote(service, counters, singleDesc, singleCompany)

	resumen, err := json.Marshal(Resumen{Success: len(items)})
	if err != nil {
		return nil, err
	}

	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		markAllFailed(rec, items, err)
		return nil, fmt.Errorf("ledger: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO recargas (total, fecha, notas, quien, proveedor, tipo, resumen)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		total, w.zone.Now().Unix(), notes, Operator, providerName, string(service.LedgerKind()), resumen)
	if err != nil {
		markAllFailed(rec, items, err)
		return nil, fmt.Errorf("ledger: insert master: %w", err)
	}
	masterID, err := res.LastInsertId()
	if err != nil {
		markAllFailed(rec, items, err)
		return nil, fmt.Errorf("ledger: master id: %w", err)
	}

	result := &BatchResult{
		MasterID:   masterID,
		Service:    service,
		Provider:   providerName,
		Total:      total,
		Notes:      notes,
		IsRecovery: counters.IsRecovery,
	}
	duplicates := make(map[string]bool, len(items))

	for _, it := range items {
		folio := sql.NullString{}
		if f := folioOf(it); f != "" {
			folio = sql.NullString{String: f, Valid: true}
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO detalle_recargas (id_recarga, sim, importe, dispositivo, vehiculo, detalle, folio, status)
			 VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
			masterID, it.SIM, it.Amount, it.Record.DeviceID, it.Record.Description,
			FormatDetailText(it), folio)
		if err != nil {
			var myErr *mysql.MySQLError
			if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
				// Already paid and recorded by a previous attempt. Not an
				// abort: recovery must be able to make forward progress.
				logger.Warn().
					Str("sim", it.SIM).
					Str("folio", folioOf(it)).
					Str("event", "ledger.folio_duplicate").
					Msg("duplicate folio tolerated")
				duplicates[it.ID] = true
				result.Duplicates++
				continue
			}
			markAllFailed(rec, items, err)
			return nil, fmt.Errorf("ledger: insert detail sim=%s: %w", it.SIM, err)
		}
		result.Inserted++

		if err := w.updateExpiry(ctx, tx, it); err != nil {
			markAllFailed(rec, items, err)
			return nil, fmt.Errorf("ledger: update expiry sim=%s: %w", it.SIM, err)
		}
	}

	if err := tx.Commit(); err != nil {
		markAllFailed(rec, items, err)
		return nil, fmt.Errorf("ledger: commit: %w", err)
	}
	committed = true

	// Post-commit verification: only items whose folio is observably in
	// the detail table leave the queue. An unverifiable item stays put
	// rather than risking the loss of a paid recharge.
	for _, it := range items {
		if duplicates[it.ID] {
			_ = rec.MarkDuplicate(it.ID)
			metrics.RechargesTotal.WithLabelValues(service.Lower(), "duplicate").Inc()
			continue
		}
		exists, err := w.FolioExists(ctx, folioOf(it), it.SIM)
		if err != nil || !exists {
			logger.Error().Err(err).
				Str("sim", it.SIM).
				Str("folio", folioOf(it)).
				Str("event", "ledger.verify_failed").
				Msg("post-commit folio verification failed, item kept in queue")
			continue
		}
		_ = rec.MarkInserted(it.ID)
		metrics.RechargesTotal.WithLabelValues(service.Lower(), "inserted").Inc()
		metrics.RechargedAmount.WithLabelValues(service.Lower(), providerName).Add(it.Amount)
	}

	logger.Info().
		Int64("master_id", masterID).
		Float64("total", total).
		Int("inserted", result.Inserted).
		Int("duplicates", result.Duplicates).
		Bool("recovery", counters.IsRecovery).
		Msg("batch committed")
	return result, nil
}

// updateExpiry advances the subject's expiry inside the batch
// transaction. GPS/ELIOT devices live in dispositivos; VOZ subscribers
// in prepagos_automaticos. The new expiry is always a future day end,
// so the column never moves backwards.
func (w *Writer) updateExpiry(ctx context.Context, tx *sqlx.Tx, it queue.Item) error {
	switch it.ServiceType {
	case model.ServiceVOZ:
		newExpiry := w.zone.EndOfDayPlusDays(it.DaysValidity)
		_, err := tx.ExecContext(ctx,
			`UPDATE prepagos_automaticos SET fecha_expira_saldo = ? WHERE sim = ?`,
			newExpiry, it.SIM)
		return err
	default:
		newExpiry := w.zone.AddDaysToEndOfToday(it.DaysValidity)
		_, err := tx.ExecContext(ctx,
			`UPDATE dispositivos SET unix_saldo = ? WHERE sim = ?`,
			newExpiry, it.SIM)
		return err
	}
}

func markAllFailed(rec StatusRecorder, items []queue.Item, cause error) {
	for _, it := range items {
		_ = rec.MarkFailed(it.ID, cause)
	}
}

func folioOf(it queue.Item) string {
	if it.Webservice != nil {
		return it.Webservice.Folio
	}
	return ""
}
