// SPDX-License-Identifier: MIT

// Package scheduler triggers service pipelines on their configured
// cadence. All schedules evaluate in the operator timezone; a VOZ run
// at "01:00" means 01:00 in Mazatlán regardless of server locale.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/mextic/recargas/internal/clock"
	"github.com/mextic/recargas/internal/config"
	"github.com/mextic/recargas/internal/log"
	"github.com/mextic/recargas/internal/model"
)

// TickFunc runs one pipeline tick. Overlap suppression lives in the
// runner, so a slow tick simply makes the next trigger a no-op.
type TickFunc func(ctx context.Context)

// Scheduler owns the cron runtime and the registered service triggers.
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger

	baseCtx context.Context
}

// New creates a scheduler evaluating in the zone's location.
func New(zone *clock.Zone) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(zone.Location())),
		logger: log.WithComponent("scheduler"),
	}
}

// Add registers the trigger(s) for one service. A fixed_times schedule
// registers one cron entry per configured hour.
func (s *Scheduler) Add(service model.ServiceType, cfg config.ServiceConfig, tick TickFunc) error {
	specs, err := cronSpecs(cfg)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", service.Lower(), err)
	}
	for _, spec := range specs {
		if _, err := s.cron.AddFunc(spec, func() {
			tick(s.baseCtx)
		}); err != nil {
			return fmt.Errorf("schedule %s: bad spec %q: %w", service.Lower(), spec, err)
		}
	}
	s.logger.Info().
		Str("service", service.Lower()).
		Strs("specs", specs).
		Msg("schedule registered")
	return nil
}

// Start begins firing triggers. ctx is handed to every tick; cancelling
// it winds down running ticks between webservice calls.
func (s *Scheduler) Start(ctx context.Context) {
	s.baseCtx = ctx
	s.cron.Start()
	s.logger.Info().Int("entries", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop halts new triggers and waits for running jobs, up to the given
// grace period.
func (s *Scheduler) Stop(grace time.Duration) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		s.logger.Info().Msg("scheduler drained")
	case <-time.After(grace):
		s.logger.Warn().Dur("grace", grace).Msg("scheduler stop grace elapsed with jobs still running")
	}
}

// Entries reports the number of registered triggers.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }

// Specs returns the cron specs a service schedule normalizes to, for
// status reporting.
func Specs(cfg config.ServiceConfig) ([]string, error) {
	return cronSpecs(cfg)
}

// cronSpecs translates one service schedule into standard cron specs.
func cronSpecs(cfg config.ServiceConfig) ([]string, error) {
	switch cfg.ScheduleType {
	case config.ScheduleInterval:
		if cfg.ScheduleMinutes <= 0 || cfg.ScheduleMinutes > 59 {
			return nil, fmt.Errorf("interval minutes %d out of range", cfg.ScheduleMinutes)
		}
		return []string{fmt.Sprintf("*/%d * * * *", cfg.ScheduleMinutes)}, nil

	case config.ScheduleFixedTimes:
		if len(cfg.ScheduleHours) == 0 {
			return nil, fmt.Errorf("fixed_times schedule with no hours")
		}
		specs := make([]string, 0, len(cfg.ScheduleHours))
		for _, h := range cfg.ScheduleHours {
			t, err := time.Parse("15:04", h)
			if err != nil {
				return nil, fmt.Errorf("bad hour %q: %w", h, err)
			}
			specs = append(specs, fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()))
		}
		return specs, nil

	case config.ScheduleCron:
		if cfg.CronExpr == "" {
			return nil, fmt.Errorf("empty cron expression")
		}
		if _, err := cron.ParseStandard(cfg.CronExpr); err != nil {
			return nil, fmt.Errorf("bad cron expression %q: %w", cfg.CronExpr, err)
		}
		return []string{cfg.CronExpr}, nil
	}
	return nil, fmt.Errorf("unknown schedule type %q", cfg.ScheduleType)
}
