// SPDX-License-Identifier: MIT

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func mazatlan(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Mazatlan")
	require.NoError(t, err)
	return loc
}

func TestZoneDayBoundaries(t *testing.T) {
	loc := mazatlan(t)
	// 2024-03-15 04:00 in Mazatlan.
	now := time.Date(2024, 3, 15, 4, 0, 0, 0, loc)
	z, err := NewZoneWithClock("America/Mazatlan", fixedClock{now})
	require.NoError(t, err)

	require.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, loc), z.StartOfDay(now))
	require.Equal(t, time.Date(2024, 3, 15, 23, 59, 59, 0, loc), z.EndOfToday())
	require.Equal(t, time.Date(2024, 3, 16, 23, 59, 59, 0, loc), z.EndOfTomorrow())
}

func TestZoneCrossesUTCDayBoundary(t *testing.T) {
	loc := mazatlan(t)
	// 23:30 local is already the next day in UTC; boundaries must stay
	// on the local day.
	now := time.Date(2024, 3, 15, 23, 30, 0, 0, loc)
	z, err := NewZoneWithClock("America/Mazatlan", fixedClock{now})
	require.NoError(t, err)

	require.Equal(t, "2024-03-15", z.DateString(z.Now()))
	require.Equal(t, time.Date(2024, 3, 15, 23, 59, 59, 0, loc), z.EndOfToday())
}

func TestExpiryRules(t *testing.T) {
	loc := mazatlan(t)
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, loc)
	z, err := NewZoneWithClock("America/Mazatlan", fixedClock{now})
	require.NoError(t, err)

	wantGPS := time.Date(2024, 3, 22, 23, 59, 59, 0, loc).Unix()
	require.Equal(t, wantGPS, z.AddDaysToEndOfToday(7))

	wantVOZ := time.Date(2024, 4, 9, 23, 59, 59, 0, loc).Unix()
	require.Equal(t, wantVOZ, z.EndOfDayPlusDays(25))
}

func TestHumanDate(t *testing.T) {
	loc := mazatlan(t)
	z, err := NewZoneWithClock("America/Mazatlan", fixedClock{time.Date(2024, 1, 2, 8, 0, 0, 0, loc)})
	require.NoError(t, err)
	require.Equal(t, "02/01/2024", z.HumanDate(z.Now()))
	require.Equal(t, "02/01/2024", z.HumanDateUnix(z.Now().Unix()))
}

func TestNewZoneDefaults(t *testing.T) {
	z, err := NewZone("")
	require.NoError(t, err)
	require.Equal(t, "America/Mazatlan", z.Location().String())

	_, err = NewZone("Not/AZone")
	require.Error(t, err)
}
