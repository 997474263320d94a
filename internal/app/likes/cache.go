// Package likes keeps an optimistic overlay over the remote liked-by sets.
//
// Each (target, user) pair is a cell holding the last authoritative state and
// an optional speculative overlay. Rolling back is dropping the overlay.
package likes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/confquest/confquest/internal/app/timewindow"
	"github.com/confquest/confquest/internal/domain"
	"github.com/confquest/confquest/internal/infra/metrics"
	"github.com/confquest/confquest/internal/retry"
)

// Retention is how long an overlay survives without a refresh.
const Retention = 24 * time.Hour

const keyPrefix = "like:"

// View is what the UI renders for one target.
type View struct {
	TargetID    string `json:"target_id"`
	Liked       bool   `json:"liked"`
	Count       int64  `json:"count"`
	Speculative bool   `json:"speculative"` // an overlay is shown
	Pending     bool   `json:"pending"`     // a toggle is in flight
}

type cell struct {
	authoritative domain.LikeState
	known         bool
	overlay       *domain.EngagementEntry
	inFlight      bool
}

func (c *cell) view(targetID string, now time.Time) View {
	v := View{TargetID: targetID, Liked: c.authoritative.Liked, Count: c.authoritative.Count, Pending: c.inFlight}
	if c.overlay != nil && !c.overlay.Expired(now) {
		v.Liked, v.Count, v.Speculative = c.overlay.Liked, c.overlay.Count, true
	}
	return v
}

// record is the persisted form of an overlay.
type record struct {
	UserID string                 `json:"user_id"`
	Entry  domain.EngagementEntry `json:"entry"`
}

// Config configures the cache.
type Config struct {
	Retention time.Duration
	Retry     retry.Config
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{Retention: Retention, Retry: retry.DefaultConfig()}
}

// Cache is the client's optimistic like cache.
type Cache struct {
	remote   domain.LikeStore
	kv       domain.KVStore
	clock    timewindow.Clock
	cfg      Config
	notifier domain.Notifier
	observer func(View)
	log      *slog.Logger

	mu    sync.Mutex
	cells map[string]*cell
}

// New creates a cache. kv may be nil to keep overlays in memory only.
func New(remote domain.LikeStore, kv domain.KVStore, clock timewindow.Clock, cfg Config) *Cache {
	if clock == nil {
		clock = timewindow.SystemClock{}
	}
	if cfg.Retention <= 0 {
		cfg.Retention = Retention
	}
	return &Cache{
		remote: remote,
		kv:     kv,
		clock:  clock,
		cfg:    cfg,
		log:    slog.With("component", "likes"),
		cells:  make(map[string]*cell),
	}
}

// SetNotifier sets the sink told about rollbacks.
func (c *Cache) SetNotifier(n domain.Notifier) { c.notifier = n }

// SetObserver registers a callback that receives the optimistic view as soon
// as a toggle is applied locally, before the remote call.
func (c *Cache) SetObserver(fn func(View)) { c.observer = fn }

func cellKey(targetID, userID string) string { return targetID + "\x00" + userID }

func kvKey(targetID, userID string) string { return keyPrefix + userID + ":" + targetID }

func (c *Cache) cellLocked(targetID, userID string) *cell {
	k := cellKey(targetID, userID)
	ce, ok := c.cells[k]
	if !ok {
		ce = &cell{authoritative: domain.LikeState{TargetID: targetID}}
		c.cells[k] = ce
	}
	return ce
}

// ─── Toggle ─────────────────────────────────────────────────────────────────

// Toggle flips userID's like on targetID. The flipped state is applied
// locally first; a remote failure drops it again and returns the error
// together with the reverted view.
func (c *Cache) Toggle(ctx context.Context, targetID, userID string) (View, error) {
	if targetID == "" || userID == "" {
		return View{}, fmt.Errorf("%w: like needs target and user", domain.ErrInvalidInput)
	}

	c.mu.Lock()
	ce := c.cellLocked(targetID, userID)
	if ce.inFlight {
		v := ce.view(targetID, c.clock.Now())
		c.mu.Unlock()
		return v, fmt.Errorf("like %s: %w", targetID, domain.ErrOperationInFlight)
	}
	ce.inFlight = true
	known := ce.known
	c.mu.Unlock()

	if !known {
		state, err := c.fetch(ctx, targetID, userID)
		if err != nil {
			c.mu.Lock()
			ce.inFlight = false
			v := ce.view(targetID, c.clock.Now())
			c.mu.Unlock()
			return v, fmt.Errorf("read like state: %w", err)
		}
		c.mu.Lock()
		ce.authoritative, ce.known = state, true
		c.mu.Unlock()
	}

	// Apply the flip locally.
	c.mu.Lock()
	now := c.clock.Now()
	cur := ce.view(targetID, now)
	entry := domain.EngagementEntry{
		TargetID:  targetID,
		Liked:     !cur.Liked,
		Count:     flipCount(cur),
		ExpiresAt: now.Add(c.cfg.Retention),
	}
	ce.overlay = &entry
	optimistic := ce.view(targetID, now)
	c.mu.Unlock()

	c.persist(userID, entry)
	if c.observer != nil {
		c.observer(optimistic)
	}

	state, err := retry.Value(ctx, c.cfg.Retry, "set_like", func(ctx context.Context) (domain.LikeState, error) {
		return c.remote.SetLike(ctx, targetID, userID, entry.Liked)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	ce.inFlight = false

	if err != nil {
		// Roll back: the authoritative value is untouched, so dropping the overlay reverts.
		ce.overlay = nil
		c.forget(userID, targetID)
		metrics.LikeToggles.WithLabelValues("rolled_back").Inc()
		c.log.Warn("like rolled back", "target", targetID, "user", userID, "error", err)
		if c.notifier != nil {
			c.notifier.Notify(ctx, domain.Notification{
				Type:      domain.NotifyLikeRollback,
				UserID:    userID,
				Title:     "Like not saved",
				Body:      "We could not save your like. Please try again.",
				CreatedAt: c.clock.Now(),
			})
		}
		return ce.view(targetID, c.clock.Now()), fmt.Errorf("toggle like: %w", err)
	}

	// Confirmed. The overlay already shows the user's own state; it stays.
	ce.authoritative, ce.known = state, true
	metrics.LikeToggles.WithLabelValues("confirmed").Inc()
	return ce.view(targetID, c.clock.Now()), nil
}

func flipCount(cur View) int64 {
	if cur.Liked {
		if cur.Count > 0 {
			return cur.Count - 1
		}
		return 0
	}
	return cur.Count + 1
}

// ─── Reads ──────────────────────────────────────────────────────────────────

// View returns what to render, fetching the authoritative state on first use.
func (c *Cache) View(ctx context.Context, targetID, userID string) (View, error) {
	c.mu.Lock()
	ce := c.cellLocked(targetID, userID)
	if ce.known || (ce.overlay != nil && !ce.overlay.Expired(c.clock.Now())) {
		v := ce.view(targetID, c.clock.Now())
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()
	return c.Refresh(ctx, targetID, userID)
}

// Refresh adopts a fresh authoritative state. The overlay is discarded unless
// a toggle is still in flight, since the fresh read postdates any confirmed write.
func (c *Cache) Refresh(ctx context.Context, targetID, userID string) (View, error) {
	state, err := c.fetch(ctx, targetID, userID)
	if err != nil {
		return View{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ce := c.cellLocked(targetID, userID)
	ce.authoritative, ce.known = state, true
	if ce.overlay != nil && !ce.inFlight {
		ce.overlay = nil
		c.forget(userID, targetID)
	}
	return ce.view(targetID, c.clock.Now()), nil
}

// Invalidate drops everything known about the pair.
func (c *Cache) Invalidate(targetID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := cellKey(targetID, userID)
	if ce, ok := c.cells[k]; ok && ce.inFlight {
		ce.known = false
		return
	}
	delete(c.cells, k)
	c.forget(userID, targetID)
}

// Prune evicts expired overlays from memory and the local store.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	n := 0
	for k, ce := range c.cells {
		if ce.overlay == nil || !ce.overlay.Expired(now) || ce.inFlight {
			continue
		}
		targetID, userID, _ := strings.Cut(k, "\x00")
		ce.overlay = nil
		c.forget(userID, targetID)
		n++
	}

	// Overlays restored by nobody still expire on disk.
	if c.kv != nil {
		keys, err := c.kv.Keys(keyPrefix)
		if err != nil {
			c.log.Warn("list local likes", "error", err)
			return n
		}
		for _, key := range keys {
			var r record
			ok, err := c.kv.Get(key, &r)
			if err != nil || !ok || r.Entry.Expired(now) {
				_ = c.kv.Delete(key)
				if ok && err == nil {
					n++
				}
			}
		}
	}
	return n
}

// Load restores unexpired overlays from the local store after a restart.
// Restored overlays are shown until the next Refresh.
func (c *Cache) Load() (int, error) {
	if c.kv == nil {
		return 0, nil
	}
	keys, err := c.kv.Keys(keyPrefix)
	if err != nil {
		return 0, fmt.Errorf("list local likes: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	loaded := 0
	for _, key := range keys {
		var r record
		ok, err := c.kv.Get(key, &r)
		if err != nil || !ok {
			c.log.Warn("discarding unreadable local like", "key", key, "error", err)
			_ = c.kv.Delete(key)
			continue
		}
		if r.Entry.Expired(now) {
			_ = c.kv.Delete(key)
			continue
		}
		entry := r.Entry
		ce := c.cellLocked(entry.TargetID, r.UserID)
		ce.overlay = &entry
		loaded++
	}
	return loaded, nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (c *Cache) fetch(ctx context.Context, targetID, userID string) (domain.LikeState, error) {
	return retry.Value(ctx, c.cfg.Retry, "like_state", func(ctx context.Context) (domain.LikeState, error) {
		return c.remote.LikeState(ctx, targetID, userID)
	})
}

func (c *Cache) persist(userID string, e domain.EngagementEntry) {
	if c.kv == nil {
		return
	}
	if err := c.kv.Set(kvKey(e.TargetID, userID), record{UserID: userID, Entry: e}); err != nil {
		c.log.Warn("persist like overlay", "target", e.TargetID, "error", err)
	}
}

func (c *Cache) forget(userID, targetID string) {
	if c.kv == nil {
		return
	}
	if err := c.kv.Delete(kvKey(targetID, userID)); err != nil {
		c.log.Warn("delete like overlay", "target", targetID, "error", err)
	}
}
