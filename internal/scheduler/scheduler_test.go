// SPDX-License-Identifier: MIT

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mextic/recargas/internal/clock"
	"github.com/mextic/recargas/internal/config"
	"github.com/mextic/recargas/internal/model"
)

func TestCronSpecs(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ServiceConfig
		want []string
		ok   bool
	}{
		{
			name: "interval every 10 minutes",
			cfg:  config.ServiceConfig{ScheduleType: config.ScheduleInterval, ScheduleMinutes: 10},
			want: []string{"*/10 * * * *"},
			ok:   true,
		},
		{
			name: "fixed times",
			cfg:  config.ServiceConfig{ScheduleType: config.ScheduleFixedTimes, ScheduleHours: []string{"01:00", "04:30"}},
			want: []string{"0 1 * * *", "30 4 * * *"},
			ok:   true,
		},
		{
			name: "cron passthrough",
			cfg:  config.ServiceConfig{ScheduleType: config.ScheduleCron, CronExpr: "15 */2 * * *"},
			want: []string{"15 */2 * * *"},
			ok:   true,
		},
		{
			name: "interval out of range",
			cfg:  config.ServiceConfig{ScheduleType: config.ScheduleInterval, ScheduleMinutes: 90},
		},
		{
			name: "bad fixed hour",
			cfg:  config.ServiceConfig{ScheduleType: config.ScheduleFixedTimes, ScheduleHours: []string{"25:00"}},
		},
		{
			name: "bad cron expression",
			cfg:  config.ServiceConfig{ScheduleType: config.ScheduleCron, CronExpr: "not a cron"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := cronSpecs(tc.cfg)
			if !tc.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			for _, spec := range got {
				_, err := cron.ParseStandard(spec)
				assert.NoError(t, err, "spec %q must parse", spec)
			}
		})
	}
}

func TestSpecsReportsNormalizedSchedule(t *testing.T) {
	got, err := Specs(config.ServiceConfig{
		ScheduleType:  config.ScheduleFixedTimes,
		ScheduleHours: []string{"01:00", "04:00"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"0 1 * * *", "0 4 * * *"}, got)

	_, err = Specs(config.ServiceConfig{ScheduleType: "weekly"})
	require.Error(t, err)
}

func TestAddRegistersOneEntryPerFixedTime(t *testing.T) {
	zone, err := clock.NewZone("America/Mazatlan")
	require.NoError(t, err)
	s := New(zone)

	cfg := config.ServiceConfig{
		ScheduleType:  config.ScheduleFixedTimes,
		ScheduleHours: []string{"01:00", "04:00"},
	}
	require.NoError(t, s.Add(model.ServiceVOZ, cfg, func(context.Context) {}))
	assert.Equal(t, 2, s.Entries())
}

func TestAddRejectsBrokenSchedule(t *testing.T) {
	zone, err := clock.NewZone("America/Mazatlan")
	require.NoError(t, err)
	s := New(zone)

	cfg := config.ServiceConfig{ScheduleType: config.ScheduleInterval}
	require.Error(t, s.Add(model.ServiceGPS, cfg, func(context.Context) {}))
	assert.Zero(t, s.Entries())
}

func TestStartStopLifecycle(t *testing.T) {
	zone, err := clock.NewZone("America/Mazatlan")
	require.NoError(t, err)
	s := New(zone)

	cfg := config.ServiceConfig{ScheduleType: config.ScheduleInterval, ScheduleMinutes: 59}
	require.NoError(t, s.Add(model.ServiceGPS, cfg, func(context.Context) {}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Stop(time.Second)
}
