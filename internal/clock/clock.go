// SPDX-License-Identifier: MIT

// Package clock centralizes timezone-aware time math. Every day
// boundary in the engine (eligibility windows, expiry updates, the
// "already recharged today" exclusion) is computed in the operator
// timezone, never in server-local time.
package clock

import (
	"fmt"
	"time"
)

// DefaultTimezone is the operator timezone used when none is configured.
const DefaultTimezone = "America/Mazatlan"

// Clock produces the current time. The real implementation wraps
// time.Now; tests substitute a fixed instant.
type Clock interface {
	Now() time.Time
}

// Zone binds a Clock to an operator timezone and derives the day
// boundaries the pipeline depends on.
type Zone struct {
	clk Clock
	loc *time.Location
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// NewZone loads the named timezone and returns a Zone on the system
// clock. An empty name selects DefaultTimezone.
func NewZone(name string) (*Zone, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return &Zone{clk: systemClock{}, loc: loc}, nil
}

// NewZoneWithClock is NewZone with an injected Clock, for tests.
func NewZoneWithClock(name string, clk Clock) (*Zone, error) {
	z, err := NewZone(name)
	if err != nil {
		return nil, err
	}
	z.clk = clk
	return z, nil
}

// Location returns the operator timezone location.
func (z *Zone) Location() *time.Location { return z.loc }

// Now returns the current instant in the operator timezone.
func (z *Zone) Now() time.Time { return z.clk.Now().In(z.loc) }

// StartOfDay returns midnight of t's day in the operator timezone.
func (z *Zone) StartOfDay(t time.Time) time.Time {
	t = t.In(z.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, z.loc)
}

// EndOfDay returns 23:59:59 of t's day in the operator timezone.
func (z *Zone) EndOfDay(t time.Time) time.Time {
	t = t.In(z.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, z.loc)
}

// EndOfToday is EndOfDay(Now()).
func (z *Zone) EndOfToday() time.Time { return z.EndOfDay(z.Now()) }

// EndOfTomorrow returns 23:59:59 of the day after Now().
func (z *Zone) EndOfTomorrow() time.Time {
	return z.EndOfDay(z.Now().AddDate(0, 0, 1))
}

// DateString returns t as YYYY-MM-DD in the operator timezone, the
// format the eligibility SQL compares against.
func (z *Zone) DateString(t time.Time) string {
	return t.In(z.loc).Format("2006-01-02")
}

// HumanDate returns t as DD/MM/YYYY, the operator-readable format
// stored on queue items.
func (z *Zone) HumanDate(t time.Time) string {
	return t.In(z.loc).Format("02/01/2006")
}

// HumanDateUnix is HumanDate on a unix timestamp.
func (z *Zone) HumanDateUnix(unix int64) string {
	return z.HumanDate(time.Unix(unix, 0))
}

// AddDaysToEndOfToday returns the unix timestamp of end-of-today plus
// the given number of days. This is the GPS/ELIOT expiry rule.
func (z *Zone) AddDaysToEndOfToday(days int) int64 {
	return z.EndOfToday().AddDate(0, 0, days).Unix()
}

// EndOfDayPlusDays returns the unix timestamp of 23:59:59 on the day
// `days` days after today. This is the VOZ expiry rule.
func (z *Zone) EndOfDayPlusDays(days int) int64 {
	return z.EndOfDay(z.Now().AddDate(0, 0, days)).Unix()
}
