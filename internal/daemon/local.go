package daemon

import (
	"fmt"

	"github.com/confquest/confquest/internal/app/likes"
	"github.com/confquest/confquest/internal/app/session"
	"github.com/confquest/confquest/internal/app/timewindow"
	"github.com/confquest/confquest/internal/infra/kvstore"
	"github.com/confquest/confquest/internal/notify"
	"github.com/confquest/confquest/pkg/client"
)

// Local is the client-side runtime: the local key-value store plus an API
// client standing in for the authoritative store.
type Local struct {
	Config Config
	KV     *kvstore.FileStore
	API    *client.Client
}

// OpenLocal opens the local store and points the API client at the server.
func OpenLocal(cfg Config) (*Local, error) {
	kv, err := kvstore.Open(cfg.Store.LocalFile, kvstore.DefaultLockConfig())
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	api := client.New(cfg.Client.ServerURL)
	api.Retry = cfg.RetryPolicy()
	api.InitData = cfg.Client.InitData
	api.AdminToken = cfg.Client.AdminToken
	return &Local{Config: cfg, KV: kv, API: api}, nil
}

// Session opens the economy session of userID.
func (l *Local) Session(userID string) (*session.Session, error) {
	return session.Open(userID, l.Config.SessionConfig(), session.Deps{
		KV:       l.KV,
		Remote:   l.API,
		Clock:    timewindow.SystemClock{},
		Notifier: notify.NewLogNotifier(),
	})
}

// Likes returns a like cache with overlays restored from the local store.
func (l *Local) Likes() (*likes.Cache, error) {
	c := likes.New(l.API, l.KV, timewindow.SystemClock{}, likes.Config{
		Retention: likes.Retention,
		Retry:     l.Config.RetryPolicy(),
	})
	c.SetNotifier(notify.NewLogNotifier())
	if _, err := c.Load(); err != nil {
		return nil, err
	}
	c.Prune()
	return c, nil
}

// Close releases the local store.
func (l *Local) Close() error {
	return l.KV.Close()
}
