// SPDX-License-Identifier: MIT

// Package engine assembles the recharge daemon: configuration, lock
// backend, durable queues, provider clients, per-service pipelines and
// their schedules. Bootstrap order matters: the queues must run their
// crash recovery before any schedule can fire.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	_ "github.com/go-sql-driver/mysql"

	"github.com/mextic/recargas/internal/clock"
	"github.com/mextic/recargas/internal/config"
	"github.com/mextic/recargas/internal/eligibility"
	"github.com/mextic/recargas/internal/ledger"
	"github.com/mextic/recargas/internal/lock"
	"github.com/mextic/recargas/internal/log"
	"github.com/mextic/recargas/internal/model"
	"github.com/mextic/recargas/internal/pipeline"
	"github.com/mextic/recargas/internal/provider"
	"github.com/mextic/recargas/internal/provider/mst"
	"github.com/mextic/recargas/internal/provider/taecel"
	"github.com/mextic/recargas/internal/queue"
	"github.com/mextic/recargas/internal/scheduler"
)

// Engine owns every long-lived resource of the daemon.
type Engine struct {
	cfg  *config.Config
	zone *clock.Zone

	db       *sqlx.DB
	locks    *lock.Manager
	queues   map[model.ServiceType]*queue.Queue
	runners  map[model.ServiceType]*pipeline.Runner
	selector *provider.Selector
	sched    *scheduler.Scheduler

	metricsSrv *http.Server
	logger     zerolog.Logger
}

// New builds the engine from validated configuration. Infrastructure
// that must work (MySQL, the lock backend, the queue files) is fatal;
// provider reachability is probed but never blocks startup.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	zone, err := clock.NewZone(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.ConnectContext(ctx, "mysql", cfg.MySQLDSN)
	if err != nil {
		return nil, fmt.Errorf("mysql connect: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := newLockStore(ctx, cfg, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		zone:    zone,
		db:      db,
		locks:   lock.NewManager(store),
		queues:  make(map[model.ServiceType]*queue.Queue, len(model.AllServices)),
		runners: make(map[model.ServiceType]*pipeline.Runner, len(model.AllServices)),
		sched:   scheduler.New(zone),
		logger:  log.WithComponent("engine"),
	}

	taecelClient := taecel.New(cfg.Taecel.URL, cfg.Taecel.Key, cfg.Taecel.NIP, cfg.GPS.WebserviceTimeout)
	mstClient := mst.New(cfg.MST.URL, cfg.MST.Usuario, cfg.MST.Password, cfg.VOZ.WebserviceTimeout)
	e.selector = provider.NewSelector(taecelClient, mstClient)

	source := eligibility.NewSource(db, zone)
	writer := ledger.NewWriter(db, zone)

	for _, svc := range model.AllServices {
		q, err := queue.Open(cfg.DataDir, svc)
		if err != nil {
			e.closeStores()
			return nil, fmt.Errorf("open queue %s: %w", svc.Lower(), err)
		}
		e.queues[svc] = q
		e.runners[svc] = pipeline.NewRunner(svc, cfg.Service(svc), zone,
			e.locks, q, source, e.selector, writer)
	}

	e.probeProviders(ctx)
	return e, nil
}

// newLockStore builds the configured lock backend. The two backends are
// mutually exclusive; an unreachable backend is a startup failure, not
// a reason to fall back to the other one.
func newLockStore(ctx context.Context, cfg *config.Config, db *sqlx.DB) (lock.Store, error) {
	switch cfg.LockProvider {
	case config.LockRedis:
		return lock.NewRedisStore(ctx, lock.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	case config.LockMySQL:
		return lock.NewMySQLStore(db), nil
	}
	return nil, fmt.Errorf("unknown lock provider %q", cfg.LockProvider)
}

// probeProviders logs the initial balances. A dead provider at startup
// is worth an alarm in the logs but the scheduler may still find the
// other one alive when a tick fires.
func (e *Engine) probeProviders(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if _, err := e.selector.Select(probeCtx, 0); err != nil {
		e.logger.Warn().Err(err).Msg("startup provider probe found no usable provider")
	}
}

// Start registers the service schedules and begins firing them. It also
// serves prometheus metrics when a listen address is configured.
func (e *Engine) Start(ctx context.Context) error {
	for _, svc := range model.AllServices {
		runner := e.runners[svc]
		if err := e.sched.Add(svc, e.cfg.Service(svc), func(tickCtx context.Context) {
			// Tick failures are logged with context by the runner.
			_, _ = runner.Run(tickCtx)
		}); err != nil {
			return err
		}
	}

	if e.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		e.metricsSrv = &http.Server{Addr: e.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := e.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Error().Err(err).Str("addr", e.cfg.MetricsAddr).Msg("metrics listener failed")
			}
		}()
		e.logger.Info().Str("addr", e.cfg.MetricsAddr).Msg("metrics listener started")
	}

	e.sched.Start(ctx)
	e.logger.Info().
		Str("timezone", e.cfg.Timezone).
		Str("lock_backend", e.locks.Backend()).
		Msg("engine started")
	return nil
}

// RunOnce executes a single tick for one service, outside any schedule.
func (e *Engine) RunOnce(ctx context.Context, svc model.ServiceType) (*pipeline.TickReport, error) {
	runner, ok := e.runners[svc]
	if !ok {
		return nil, fmt.Errorf("no runner for service %q", svc)
	}
	return runner.Run(ctx)
}

// ServiceStatus is the per-service slice of a status report.
type ServiceStatus struct {
	Queue     queue.Stats `json:"queue"`
	LockHeld  bool        `json:"lockHeld"`
	LockAge   string      `json:"lockAge,omitempty"`
	Schedules []string    `json:"schedules,omitempty"`
}

// Status reports queue, lock and schedule state for the status
// subcommand.
func (e *Engine) Status(ctx context.Context) map[string]ServiceStatus {
	out := make(map[string]ServiceStatus, len(model.AllServices))
	for _, svc := range model.AllServices {
		st := ServiceStatus{Queue: e.queues[svc].GetStats()}
		if specs, err := scheduler.Specs(e.cfg.Service(svc)); err == nil {
			st.Schedules = specs
		}
		held, age, err := e.locks.IsHeld(ctx, lock.KeyFor(svc.Lower()))
		if err != nil {
			e.logger.Warn().Err(err).Str("service", svc.Lower()).Msg("lock status probe failed")
		} else if held {
			st.LockHeld = true
			st.LockAge = age.Round(time.Second).String()
		}
		out[svc.Lower()] = st
	}
	return out
}

// ReleaseLocks drops this process's locks; with force, every lock in
// the backend. Used by the clean-locks subcommand after a crash.
func (e *Engine) ReleaseLocks(ctx context.Context, force bool) (int, error) {
	return e.locks.ReleaseAll(ctx, force)
}

// Shutdown winds the daemon down: stop firing schedules, wait for
// running ticks, drop held locks, close the stores. Queue state needs
// no flushing since every mutation is already durable.
func (e *Engine) Shutdown(grace time.Duration) {
	e.sched.Stop(grace)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if n, err := e.locks.ReleaseAll(ctx, false); err != nil {
		e.logger.Warn().Err(err).Msg("lock release on shutdown failed")
	} else if n > 0 {
		e.logger.Info().Int("released", n).Msg("locks released")
	}

	if e.metricsSrv != nil {
		_ = e.metricsSrv.Shutdown(ctx)
	}

	for _, svc := range model.AllServices {
		stats := e.queues[svc].GetStats()
		if stats.PendingDB() > 0 {
			e.logger.Warn().
				Str("service", svc.Lower()).
				Int("pending", stats.PendingDB()).
				Msg("shutting down with unreconciled queue items")
		}
	}

	e.closeStores()
	e.logger.Info().Msg("engine stopped")
}

func (e *Engine) closeStores() {
	if e.locks != nil {
		if err := e.locks.Close(); err != nil {
			e.logger.Warn().Err(err).Msg("lock store close failed")
		}
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			e.logger.Warn().Err(err).Msg("mysql close failed")
		}
	}
}
