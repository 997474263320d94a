package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/confquest/confquest/internal/api"
	"github.com/confquest/confquest/internal/app/anomaly"
	"github.com/confquest/confquest/internal/app/balance"
	"github.com/confquest/confquest/internal/app/cooldown"
	"github.com/confquest/confquest/internal/app/ledger"
	"github.com/confquest/confquest/internal/app/reconcile"
	"github.com/confquest/confquest/internal/app/timewindow"
	"github.com/confquest/confquest/internal/domain"
	"github.com/confquest/confquest/internal/feed"
	"github.com/confquest/confquest/internal/health"
	_ "github.com/confquest/confquest/internal/infra/metrics" // Register Prometheus metrics
	"github.com/confquest/confquest/internal/infra/sqlite"
	"github.com/confquest/confquest/internal/notify"
)

// Daemon is the server-side runtime. It wires together all services.
type Daemon struct {
	Config     Config
	DB         *sqlite.DB
	Ledger     *ledger.Ledger
	Cooldown   *cooldown.Service
	Balances   *balance.Service
	Reconciler *reconcile.Reconciler
	Anomalies  *anomaly.Detector
	Hub        *feed.Hub
	Notifier   domain.Notifier
	Health     *health.Checker
	Server     *api.Server
	cancel     context.CancelFunc
}

// New creates and initializes a Daemon from the config file.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	win, err := cfg.Window()
	if err != nil {
		return nil, err
	}
	points, err := cfg.PointsTable()
	if err != nil {
		return nil, err
	}

	dir := cfg.Store.Dir
	if dir == "" {
		dir = confquestHome()
	}
	db, err := sqlite.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	notifier, err := buildNotifier(cfg, win)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	hub := feed.NewHub()
	clock := timewindow.SystemClock{}

	cd := cooldown.NewService(db, win, clock)
	led := ledger.New(db, cd, ledger.Config{Points: points, Retry: cfg.RetryPolicy()})
	led.SetNotifier(notifier)
	led.SetPublisher(hub)

	bal := balance.NewService(db)
	bal.SetPublisher(hub)
	bal.SetConversionRate(cfg.Economy.Conversion)
	det := anomaly.NewDetector(anomaly.DefaultConfig(cfg.Economy.Energy))
	bal.SetAuditor(det)

	d := &Daemon{
		Config:    cfg,
		DB:        db,
		Ledger:    led,
		Cooldown:  cd,
		Balances:  bal,
		Anomalies: det,
		Hub:       hub,
		Notifier:  notifier,
		Health:    health.NewChecker(db, dir),
	}

	if cfg.Reconcile.Enabled {
		rec, err := reconcile.New(db, cfg.Reconcile.Schedule)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("reconciler: %w", err)
		}
		d.Reconciler = rec
	}

	d.Server = api.NewServer(api.Deps{
		Ledger:    led,
		Cooldown:  cd,
		Balances:  bal,
		Likes:     db,
		Feed:      hub,
		Health:    d.Health,
		Anomalies: det,

		Auth:       cfg.Verifier(),
		AdminToken: cfg.Server.AdminToken,
	})
	if cfg.Server.Metrics {
		d.Server.EnableMetrics()
	}
	return d, nil
}

// buildNotifier fans out to the log and, when configured, Telegram. The gate
// applies quiet hours and the daily cap to promotional notices only.
func buildNotifier(cfg Config, win timewindow.Window) (domain.Notifier, error) {
	sinks := notify.Multi{notify.NewLogNotifier()}
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegramNotifier(cfg.Telegram.Token)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		sinks = append(sinks, tg)
	}
	return notify.NewGate(sinks, cfg.NotifyPolicy(), win, timewindow.SystemClock{}), nil
}

// Serve starts the HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Health.Run(ctx)
	go d.Anomalies.Run(ctx, time.Hour)
	if d.Reconciler != nil {
		go d.Reconciler.Run(ctx)
	}

	addr := fmt.Sprintf("%s:%d", d.Config.Server.Host, d.Config.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           d.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		// Streams end first so Shutdown does not wait on them.
		d.Hub.Close()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("serving", "addr", "http://"+addr, "zone", d.Config.Cooldown.TimeZone)
	if d.Config.Server.Metrics {
		slog.Info("metrics enabled", "url", "http://"+addr+"/metrics")
	}
	if d.Reconciler != nil {
		slog.Info("reconciler scheduled", "schedule", d.Config.Reconcile.Schedule)
	}

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ReconcileNow runs one reconciliation pass outside the schedule.
func (d *Daemon) ReconcileNow(ctx context.Context) (reconcile.Report, error) {
	rec := d.Reconciler
	if rec == nil {
		var err error
		if rec, err = reconcile.New(d.DB, d.Config.Reconcile.Schedule); err != nil {
			return reconcile.Report{}, err
		}
	}
	return rec.RunOnce(ctx)
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Hub != nil {
		d.Hub.Close()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
