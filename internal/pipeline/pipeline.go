// SPDX-License-Identifier: MIT

// Package pipeline runs one service tick end to end: lock, recovery
// drain, eligibility, provider selection, sequential dispatch with the
// queue-before-DB handshake, one batch ledger write, cleanup, release.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mextic/recargas/internal/clock"
	"github.com/mextic/recargas/internal/config"
	"github.com/mextic/recargas/internal/eligibility"
	"github.com/mextic/recargas/internal/ledger"
	"github.com/mextic/recargas/internal/lock"
	"github.com/mextic/recargas/internal/log"
	"github.com/mextic/recargas/internal/metrics"
	"github.com/mextic/recargas/internal/model"
	"github.com/mextic/recargas/internal/provider"
	"github.com/mextic/recargas/internal/queue"
)

// Outcome is the terminal state of one tick.
type Outcome string

const (
	// OutcomeCompleted: the tick ran to the end, with or without work.
	OutcomeCompleted Outcome = "completed"
	// OutcomeSkipped: another holder owns the pipeline lock, or a tick is
	// already running in this process.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeBlocked: unresolved queue items survive recovery; new money
	// is not spent until they reconcile.
	OutcomeBlocked Outcome = "blocked"
	// OutcomeFailed: the tick aborted on an infrastructure error.
	OutcomeFailed Outcome = "failed"
)

// TickReport summarizes one pipeline run.
type TickReport struct {
	Service    model.ServiceType
	Outcome    Outcome
	Candidates int
	Dispatched int
	CallFailed int
	Skipped    int // VOZ candidates with an unknown package code
	Recovered  int
	Batch      *ledger.BatchResult
}

// CandidateSource yields the eligibility candidate set.
type CandidateSource interface {
	Candidates(ctx context.Context, service model.ServiceType, daysLimit int) ([]model.Candidate, error)
}

// ProviderPool probes balances and resolves clients.
type ProviderPool interface {
	Select(ctx context.Context, minBalance float64) ([]provider.Balance, error)
	ByName(name string) (provider.Client, bool)
}

// BatchWriter persists a batch of successful calls.
type BatchWriter interface {
	WriteBatch(ctx context.Context, items []queue.Item, providerName string, counters ledger.NoteCounters, rec ledger.StatusRecorder) (*ledger.BatchResult, error)
}

// LockManager is the distributed-lock surface the runner consumes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) lock.AcquireResult
	Release(ctx context.Context, key string) error
}

// Runner executes ticks for one service type. Ticks are strictly
// sequential per Runner; the running flag suppresses in-process overlap
// and the distributed lock suppresses cross-process overlap.
type Runner struct {
	service model.ServiceType
	cfg     config.ServiceConfig
	zone    *clock.Zone

	locks  LockManager
	queue  *queue.Queue
	source CandidateSource
	pool   ProviderPool
	writer BatchWriter

	// PostBatch, when set, observes every committed batch.
	PostBatch func(*ledger.BatchResult)

	running chan struct{}
	logger  zerolog.Logger
}

// NewRunner wires a tick runner for one service.
func NewRunner(service model.ServiceType, cfg config.ServiceConfig, zone *clock.Zone,
	locks LockManager, q *queue.Queue, source CandidateSource, pool ProviderPool, writer BatchWriter) *Runner {
	r := &Runner{
		service: service,
		cfg:     cfg,
		zone:    zone,
		locks:   locks,
		queue:   q,
		source:  source,
		pool:    pool,
		writer:  writer,
		running: make(chan struct{}, 1),
		logger:  log.WithService("pipeline", service.Lower()),
	}
	r.running <- struct{}{}
	return r
}

// Run executes one tick. Cancellation is honored only between webservice
// calls: an in-flight paid call always runs to completion and its result
// is enqueued and ledgered before the tick winds down.
func (r *Runner) Run(ctx context.Context) (*TickReport, error) {
	select {
	case <-r.running:
		defer func() { r.running <- struct{}{} }()
	default:
		r.logger.Info().Msg("tick already running in-process, skipping")
		return r.finish(&TickReport{Service: r.service, Outcome: OutcomeSkipped}, nil)
	}

	r.logger.Info().Str("run_id", uuid.NewString()[:8]).Msg("tick started")

	key := lock.KeyFor(r.service.Lower())
	acq := r.locks.Acquire(ctx, key, r.cfg.LockTimeout)
	if acq.Err != nil {
		return r.finish(&TickReport{Service: r.service, Outcome: OutcomeFailed},
			fmt.Errorf("pipeline %s: lock: %w", r.service.Lower(), acq.Err))
	}
	if !acq.Acquired {
		return r.finish(&TickReport{Service: r.service, Outcome: OutcomeSkipped}, nil)
	}
	defer func() {
		// Release must not be lost to the caller's cancellation.
		if err := r.locks.Release(context.WithoutCancel(ctx), key); err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("lock release failed, TTL will reap it")
		}
	}()

	report := &TickReport{Service: r.service, Outcome: OutcomeCompleted}

	recovered, err := r.drainRecovery(ctx)
	if err != nil {
		r.logger.Error().Err(err).Str("event", "pipeline.recovery_failed").Msg("recovery drain failed")
	}
	report.Recovered = recovered

	// Strict recovery: any item still awaiting reconciliation blocks new
	// dispatch. Spending more money before old money is accounted for is
	// how double charges happen.
	if stats := r.queue.GetStats(); stats.PendingDB() > 0 {
		r.logger.Warn().
			Int("pending", stats.Pending).
			Int("failed", stats.Failed).
			Str("event", "pipeline.dispatch_blocked").
			Msg("unresolved queue items, new dispatch blocked")
		report.Outcome = OutcomeBlocked
		return r.finish(report, nil)
	}

	candidates, err := r.source.Candidates(ctx, r.service, r.cfg.DiasSinReportarLimite)
	if err != nil {
		report.Outcome = OutcomeFailed
		return r.finish(report, fmt.Errorf("pipeline %s: %w", r.service.Lower(), err))
	}
	cls := eligibility.Classify(r.service, candidates, eligibility.Gate{
		DaysLimit:        r.cfg.DiasSinReportarLimite,
		MinutesThreshold: r.cfg.MinutosSinReportarParaRecarga,
	})
	report.Candidates = cls.TotalRecords

	if len(cls.ToRecharge) == 0 {
		r.logger.Info().
			Int("candidates", cls.TotalRecords).
			Int("reporting_on_time", cls.ReportingOnTime).
			Msg("nothing to recharge")
		return r.finish(report, nil)
	}

	usable, err := r.pool.Select(ctx, r.cfg.MinBalanceThreshold)
	if err != nil {
		// An exhausted balance is an operational condition, not a tick
		// failure: alert and end cleanly, nothing was attempted.
		var noProvider *provider.NoProviderError
		if errors.As(err, &noProvider) {
			r.logger.Warn().
				Float64("min_balance", noProvider.MinBalance).
				Interface("balances", noProvider.Probed).
				Str("event", "provider.no_balance").
				Msg("no provider above balance threshold, dispatch postponed")
			return r.finish(report, nil)
		}
		report.Outcome = OutcomeFailed
		return r.finish(report, fmt.Errorf("pipeline %s: %w", r.service.Lower(), err))
	}
	client, ok := r.pool.ByName(usable[0].Name)
	if !ok {
		report.Outcome = OutcomeFailed
		return r.finish(report, fmt.Errorf("pipeline %s: provider %s selected but not registered", r.service.Lower(), usable[0].Name))
	}

	// The crash marker covers the whole dispatch window: a kill between
	// the first paid call and the batch commit is an unclean shutdown.
	if err := r.queue.MarkProcessingStart(nil); err != nil {
		r.logger.Warn().Err(err).Msg("crash marker write failed")
	}

	items := r.dispatch(ctx, client, cls, report)

	if len(items) > 0 {
		if err := r.queue.MarkProcessingStart(items); err != nil {
			r.logger.Warn().Err(err).Msg("crash marker refresh failed")
		}
		counters := ledger.NoteCounters{
			TotalRecords:    cls.TotalRecords,
			PendingAtDayEnd: len(cls.ToRecharge) - len(items),
			ReportingOnTime: cls.ReportingOnTime,
			Processed:       report.Dispatched + report.CallFailed,
			TotalToRecharge: len(cls.ToRecharge),
		}
		batch, err := r.writer.WriteBatch(context.WithoutCancel(ctx), items, client.Name(), counters, r.queue)
		if err != nil {
			// A handled DB failure is still a clean process exit: the paid
			// calls are durably queued as failed and the next tick recovers
			// them, so the crash marker comes off.
			r.removeMarker()
			report.Outcome = OutcomeFailed
			return r.finish(report, fmt.Errorf("pipeline %s: %w", r.service.Lower(), err))
		}
		report.Batch = batch
		if r.PostBatch != nil {
			r.PostBatch(batch)
		}
	}
	r.removeMarker()

	if _, _, err := r.queue.CleanProcessed(); err != nil {
		r.logger.Warn().Err(err).Msg("queue cleanup failed")
	}
	return r.finish(report, nil)
}

func (r *Runner) removeMarker() {
	if err := r.queue.MarkProcessingEnd(); err != nil {
		r.logger.Warn().Err(err).Msg("crash marker remove failed")
	}
}

// drainRecovery writes every pending queue item into a recovery batch.
// Returns the number of items verified into the ledger.
func (r *Runner) drainRecovery(ctx context.Context) (int, error) {
	pending := r.queue.Pending()
	if len(pending) == 0 {
		return 0, nil
	}
	r.logger.Warn().
		Int("pending", len(pending)).
		Str("event", "pipeline.recovery_start").
		Msg("draining recovery queue before new dispatch")

	for _, it := range pending {
		if err := r.queue.MarkRecoveryPending(it.ID); err != nil {
			return 0, err
		}
	}
	providerName := pending[0].Provider
	counters := ledger.NoteCounters{
		TotalRecords:    len(pending),
		Processed:       len(pending),
		TotalToRecharge: len(pending),
		IsRecovery:      true,
	}
	batch, err := r.writer.WriteBatch(context.WithoutCancel(ctx), pending, providerName, counters, r.queue)
	if err != nil {
		return 0, err
	}
	if r.PostBatch != nil {
		r.PostBatch(batch)
	}
	if _, _, err := r.queue.CleanProcessed(); err != nil {
		return batch.Inserted + batch.Duplicates, err
	}
	return batch.Inserted + batch.Duplicates, nil
}

// dispatchPlan is what one candidate costs and buys.
type dispatchPlan struct {
	amount float64
	code   string
	days   int
	psl    string
}

// planFor resolves the product for a candidate. GPS/ELIOT use the fixed
// per-service product; VOZ resolves the subscriber's catalog code. An
// unknown VOZ code is never defaulted to some other package.
func (r *Runner) planFor(c model.Candidate) (dispatchPlan, bool) {
	if r.service != model.ServiceVOZ {
		return dispatchPlan{amount: r.cfg.Importe, code: r.cfg.Codigo, days: r.cfg.Dias}, true
	}
	def, ok := r.cfg.Paquetes[c.PackageCode]
	if !ok {
		return dispatchPlan{}, false
	}
	return dispatchPlan{amount: def.Amount, code: def.PSL, days: def.Days, psl: def.PSL}, true
}

// dispatch runs the sequential webservice loop. Every successful call is
// flushed to the durable queue before the next call starts.
func (r *Runner) dispatch(ctx context.Context, client provider.Client, cls model.Classification, report *TickReport) []queue.Item {
	pol := provider.RetryPolicy{
		MaxAttempts: uint(r.cfg.MaxRetries),
		BaseDelay:   r.cfg.RetryBaseDelay,
		Exponential: r.cfg.RetryStrategy == config.RetryExponential,
	}

	var items []queue.Item
	for i, c := range cls.ToRecharge {
		if ctx.Err() != nil {
			r.logger.Warn().
				Int("dispatched", len(items)).
				Int("remaining", len(cls.ToRecharge)-i).
				Msg("cancellation between calls, winding down")
			break
		}

		plan, ok := r.planFor(c)
		if !ok {
			r.logger.Warn().
				Str("sim", c.SIM).
				Str("codigo_paquete", c.PackageCode).
				Str("event", "pipeline.unknown_package").
				Msg("unknown package code, subscriber skipped")
			report.Skipped++
			metrics.RechargesTotal.WithLabelValues(r.service.Lower(), "failed").Inc()
			continue
		}

		// The call itself is shielded from cancellation: once the charge
		// may have happened, the result must come back and be persisted.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.WebserviceTimeout)
		res, err := provider.RechargeWithRetry(callCtx, client, pol, c.SIM, plan.code, plan.amount)
		cancel()
		if err != nil {
			r.logger.Error().Err(err).
				Str("sim", c.SIM).
				Str("provider", client.Name()).
				Str("event", "pipeline.call_failed").
				Msg("webservice call failed, candidate stays for next tick")
			report.CallFailed++
			metrics.WebserviceErrors.WithLabelValues(client.Name(), callErrKind(err)).Inc()
			continue
		}

		item := queue.Item{
			ID:           uuid.NewString(),
			ServiceType:  r.service,
			SIM:          c.SIM,
			Status:       queue.StatusPendingDB,
			Amount:       res.Amount,
			DaysValidity: plan.days,
			Record: queue.RecordSnapshot{
				Description: c.Description,
				Company:     c.Company,
				DeviceID:    c.DeviceID,
				SIM:         c.SIM,
				ExpiryUnix:  c.ExpiryUnix,
			},
			Webservice: res,
			Note: queue.NoteData{
				CurrentIndex:    i + 1,
				TotalToRecharge: len(cls.ToRecharge),
				ReportingOnTime: cls.ReportingOnTime,
				TotalRecords:    cls.TotalRecords,
			},
			Provider:            client.Name(),
			TransID:             res.TransID,
			PackageCode:         c.PackageCode,
			PackagePSL:          plan.psl,
			ExpirationDateHuman: r.zone.HumanDateUnix(c.ExpiryUnix),
		}
		if err := r.queue.Enqueue(item); err != nil {
			// A paid call we cannot persist is the one unrecoverable spot.
			// Stop spending immediately; the committed items still ledger.
			r.logger.Error().Err(err).
				Str("sim", c.SIM).
				Str("folio", res.Folio).
				Str("event", "pipeline.enqueue_failed").
				Msg("durable enqueue failed after paid call, dispatch aborted")
			break
		}
		items = append(items, item)
		report.Dispatched++

		if r.cfg.DelayBetweenCalls > 0 && i < len(cls.ToRecharge)-1 {
			select {
			case <-time.After(r.cfg.DelayBetweenCalls):
			case <-ctx.Done():
			}
		}
	}
	return items
}

func (r *Runner) finish(report *TickReport, err error) (*TickReport, error) {
	metrics.PipelineTicks.WithLabelValues(r.service.Lower(), string(report.Outcome)).Inc()
	ev := r.logger.Info()
	if report.Outcome == OutcomeFailed {
		ev = r.logger.Error().Err(err)
	}
	ev.Str("outcome", string(report.Outcome)).
		Int("candidates", report.Candidates).
		Int("dispatched", report.Dispatched).
		Int("call_failed", report.CallFailed).
		Int("recovered", report.Recovered).
		Msg("tick finished")
	return report, err
}

func callErrKind(err error) string {
	switch {
	case errors.Is(err, provider.ErrTransport):
		return "transport"
	case errors.Is(err, provider.ErrCredentials):
		return "credentials"
	case errors.Is(err, provider.ErrDomain):
		return "domain"
	default:
		return "bad_response"
	}
}
