// Package timewindow is the single definition of "day", "weekday variant" and
// "elapsed time" used by every cooldown and regeneration computation.
// Day boundaries are local wall-clock midnights compared by Y/M/D, never a
// rolling 24h window, so DST days are 23 or 25 hours long.
package timewindow

import (
	"fmt"
	"sync"
	"time"
	_ "time/tzdata" // conference zones resolve without host zoneinfo

	"github.com/confquest/confquest/internal/domain"
)

// DayLayout is the calendar-day key format.
const DayLayout = "2006-01-02"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock is a settable clock for tests and replays.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixedClock returns a clock frozen at t.
func NewFixedClock(t time.Time) *FixedClock { return &FixedClock{t: t} }

// Now returns the frozen time.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Window evaluates time boundaries in one location.
type Window struct {
	loc *time.Location
}

// New returns a Window for loc. A nil loc means time.Local.
func New(loc *time.Location) Window {
	if loc == nil {
		loc = time.Local
	}
	return Window{loc: loc}
}

// Load returns a Window for an IANA zone name. Empty means time.Local.
func Load(name string) (Window, error) {
	if name == "" || name == "Local" {
		return New(time.Local), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Window{}, fmt.Errorf("%w: time zone %q: %v", domain.ErrInvalidInput, name, err)
	}
	return New(loc), nil
}

// Location returns the window's location.
func (w Window) Location() *time.Location {
	if w.loc == nil {
		return time.Local
	}
	return w.loc
}

// DayKey returns the local calendar day of t.
func (w Window) DayKey(t time.Time) string {
	return t.In(w.Location()).Format(DayLayout)
}

// SameDay reports whether a and b fall on the same local calendar day.
func (w Window) SameDay(a, b time.Time) bool {
	ay, am, ad := a.In(w.Location()).Date()
	by, bm, bd := b.In(w.Location()).Date()
	return ay == by && am == bm && ad == bd
}

// StartOfDay returns local midnight at the start of t's day.
func (w Window) StartOfDay(t time.Time) time.Time {
	y, m, d := t.In(w.Location()).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, w.Location())
}

// NextMidnight returns the local midnight that ends t's day.
func (w Window) NextMidnight(t time.Time) time.Time {
	y, m, d := t.In(w.Location()).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, w.Location())
}

// NextWeekdayStart returns the first local midnight after t that begins a
// Monday–Friday day.
func (w Window) NextWeekdayStart(t time.Time) time.Time {
	next := w.NextMidnight(t)
	for !IsWeekday(next.Weekday()) {
		y, m, d := next.Date()
		next = time.Date(y, m, d+1, 0, 0, 0, 0, w.Location())
	}
	return next
}

// Variant returns which daily-post kind is active at t.
func (w Window) Variant(t time.Time) domain.Variant {
	switch t.In(w.Location()).Weekday() {
	case time.Monday:
		return domain.VariantGreeting
	case time.Tuesday, time.Wednesday, time.Thursday, time.Friday:
		return domain.VariantQuote
	default:
		return domain.VariantNone
	}
}

// IsWeekday reports Monday–Friday.
func IsWeekday(d time.Weekday) bool {
	return d != time.Saturday && d != time.Sunday
}

// Until returns the time left until boundary, never negative.
func Until(now, boundary time.Time) time.Duration {
	if !boundary.After(now) {
		return 0
	}
	return boundary.Sub(now)
}

// Elapsed returns to-from, never negative (clock skew reads as zero).
func Elapsed(from, to time.Time) time.Duration {
	if from.IsZero() || !to.After(from) {
		return 0
	}
	return to.Sub(from)
}

// FormatRemaining renders a countdown as HH:MM:SS.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
