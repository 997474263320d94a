// Package notify delivers one-way user notifications.
//
// Outcome notices (awards, rejections, rollbacks) always go out. Promotional
// notices pass through a Gate that enforces quiet hours and a daily cap.
package notify

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/confquest/confquest/internal/app/timewindow"
	"github.com/confquest/confquest/internal/domain"
	"github.com/confquest/confquest/internal/infra/metrics"
)

// ─── Log ────────────────────────────────────────────────────────────────────

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: slog.With("component", "notify")}
}

// Notify logs n.
func (l *LogNotifier) Notify(ctx context.Context, n domain.Notification) {
	attrs := []any{"type", n.Type, "user", n.UserID, "title", n.Title, "body", n.Body}
	if !n.RetryAt.IsZero() {
		attrs = append(attrs, "retry_at", n.RetryAt)
	}
	l.log.InfoContext(ctx, "notification", attrs...)
	metrics.Notifications.WithLabelValues(string(n.Type), "sent").Inc()
}

// ─── Fan-out ────────────────────────────────────────────────────────────────

// Multi delivers to every notifier in order.
type Multi []domain.Notifier

// Notify forwards n to each sink.
func (m Multi) Notify(ctx context.Context, n domain.Notification) {
	for _, s := range m {
		if s != nil {
			s.Notify(ctx, n)
		}
	}
}

// ─── Policy Gate ────────────────────────────────────────────────────────────

// Policy limits promotional notifications.
type Policy struct {
	QuietStart string `toml:"quiet_start"` // "HH:MM", local time
	QuietEnd   string `toml:"quiet_end"`
	MaxPerDay  int    `toml:"max_per_day"`
}

// DefaultPolicy allows one promotional notice a day outside 22:00–08:00.
func DefaultPolicy() Policy {
	return Policy{QuietStart: "22:00", QuietEnd: "08:00", MaxPerDay: 1}
}

// Gate applies Policy to promotional notifications before forwarding.
type Gate struct {
	next   domain.Notifier
	policy Policy
	win    timewindow.Window
	clock  timewindow.Clock
	log    *slog.Logger

	mu   sync.Mutex
	sent map[string]int // user + "|" + day → promotional notices delivered
	day  string
}

// NewGate wraps next with policy evaluated in win's time zone.
func NewGate(next domain.Notifier, policy Policy, win timewindow.Window, clock timewindow.Clock) *Gate {
	if clock == nil {
		clock = timewindow.SystemClock{}
	}
	return &Gate{
		next:   next,
		policy: policy,
		win:    win,
		clock:  clock,
		log:    slog.With("component", "notify"),
		sent:   make(map[string]int),
	}
}

// Notify forwards n unless it is promotional and the policy suppresses it.
func (g *Gate) Notify(ctx context.Context, n domain.Notification) {
	if n.Type.Promotional() && !g.admit(n.UserID) {
		metrics.Notifications.WithLabelValues(string(n.Type), "suppressed").Inc()
		g.log.Debug("notification suppressed", "type", n.Type, "user", n.UserID)
		return
	}
	g.next.Notify(ctx, n)
}

func (g *Gate) admit(userID string) bool {
	now := g.clock.Now().In(g.win.Location())
	if g.isQuietHour(now) {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	day := g.win.DayKey(now)
	if day != g.day {
		g.sent = make(map[string]int)
		g.day = day
	}
	k := userID + "|" + day
	if g.sent[k] >= g.policy.MaxPerDay {
		return false
	}
	g.sent[k]++
	return true
}

// isQuietHour reports whether t falls within quiet hours.
func (g *Gate) isQuietHour(t time.Time) bool {
	startHour, startMin := parseHHMM(g.policy.QuietStart)
	endHour, endMin := parseHHMM(g.policy.QuietEnd)

	cur := t.Hour()*60 + t.Minute()
	start := startHour*60 + startMin
	end := endHour*60 + endMin

	if start == end {
		return false
	}
	if start > end {
		// Wraps midnight: e.g. 22:00 – 08:00
		return cur >= start || cur < end
	}
	return cur >= start && cur < end
}

// parseHHMM parses "HH:MM" into hour and minute.
func parseHHMM(s string) (int, int) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0
	}
	hh, _ := strconv.Atoi(h)
	mm, _ := strconv.Atoi(m)
	return hh, mm
}
