package timewindow_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confquest/confquest/internal/app/timewindow"
	"github.com/confquest/confquest/internal/domain"
)

func moscow(t *testing.T) timewindow.Window {
	t.Helper()
	w, err := timewindow.Load("Europe/Moscow")
	require.NoError(t, err)
	return w
}

func TestDayKey_UsesLocalWallClock(t *testing.T) {
	w := moscow(t)
	// 22:30 UTC is 01:30 next day in Moscow (UTC+3).
	utc := time.Date(2025, 3, 3, 22, 30, 0, 0, time.UTC)
	assert.Equal(t, "2025-03-04", w.DayKey(utc))
}

func TestSameDay_DateEqualityNotRolling24h(t *testing.T) {
	w := timewindow.New(time.UTC)
	a := time.Date(2025, 3, 3, 23, 59, 59, 0, time.UTC)
	b := time.Date(2025, 3, 4, 0, 0, 1, 0, time.UTC)
	assert.False(t, w.SameDay(a, b), "two seconds apart across midnight are different days")

	c := time.Date(2025, 3, 3, 0, 0, 1, 0, time.UTC)
	assert.True(t, w.SameDay(a, c), "almost 24h apart on the same date is the same day")
}

func TestNextMidnight(t *testing.T) {
	w := timewindow.New(time.UTC)
	now := time.Date(2025, 12, 31, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), w.NextMidnight(now))
	assert.Equal(t, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), w.StartOfDay(now))
}

func TestNextMidnight_DSTDayIs23Hours(t *testing.T) {
	w, err := timewindow.Load("Europe/Berlin")
	require.NoError(t, err)

	loc := w.Location()
	// 2025-03-30 is the spring-forward day in Berlin.
	start := time.Date(2025, 3, 30, 0, 0, 0, 0, loc)
	next := w.NextMidnight(start.Add(time.Hour))
	assert.Equal(t, 23*time.Hour, next.Sub(start))
}

func TestVariant_ByWeekday(t *testing.T) {
	w := timewindow.New(time.UTC)
	cases := map[time.Weekday]domain.Variant{
		time.Monday:    domain.VariantGreeting,
		time.Tuesday:   domain.VariantQuote,
		time.Wednesday: domain.VariantQuote,
		time.Thursday:  domain.VariantQuote,
		time.Friday:    domain.VariantQuote,
		time.Saturday:  domain.VariantNone,
		time.Sunday:    domain.VariantNone,
	}
	monday := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		day := monday.AddDate(0, 0, i)
		assert.Equal(t, cases[day.Weekday()], w.Variant(day), day.Weekday().String())
	}
}

func TestNextWeekdayStart_SkipsWeekend(t *testing.T) {
	w := timewindow.New(time.UTC)
	friday := time.Date(2025, 3, 7, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), w.NextWeekdayStart(friday))

	tuesday := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), w.NextWeekdayStart(tuesday))
}

func TestUntilAndElapsed_NeverNegative(t *testing.T) {
	now := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Duration(0), timewindow.Until(now, now.Add(-time.Minute)))
	assert.Equal(t, time.Minute, timewindow.Until(now, now.Add(time.Minute)))
	assert.Equal(t, time.Duration(0), timewindow.Elapsed(now, now.Add(-time.Hour)))
	assert.Equal(t, time.Duration(0), timewindow.Elapsed(time.Time{}, now))
	assert.Equal(t, time.Hour, timewindow.Elapsed(now, now.Add(time.Hour)))
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "01:02:03", timewindow.FormatRemaining(time.Hour+2*time.Minute+3*time.Second))
	assert.Equal(t, "00:00:00", timewindow.FormatRemaining(-time.Second))
}

func TestLoad_InvalidZone(t *testing.T) {
	_, err := timewindow.Load("Mars/Olympus")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestFixedClock(t *testing.T) {
	start := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	c := timewindow.NewFixedClock(start)
	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())
}
