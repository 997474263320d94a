// Package daemon manages the confquest configuration and wires the server
// and client-side runtimes.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/confquest/confquest/internal/app/economy"
	"github.com/confquest/confquest/internal/app/energy"
	"github.com/confquest/confquest/internal/app/ledger"
	"github.com/confquest/confquest/internal/app/reconcile"
	"github.com/confquest/confquest/internal/app/session"
	"github.com/confquest/confquest/internal/app/timewindow"
	"github.com/confquest/confquest/internal/domain"
	"github.com/confquest/confquest/internal/notify"
	"github.com/confquest/confquest/internal/retry"
	"github.com/confquest/confquest/internal/security"
)

// Config holds all confquest configuration.
type Config struct {
	Server    ServerConfig     `toml:"server"`
	Store     StoreConfig      `toml:"store"`
	Economy   EconomyConfig    `toml:"economy"`
	Points    map[string]int64 `toml:"points"`
	Cooldown  CooldownConfig   `toml:"cooldown"`
	Retry     RetryConfig      `toml:"retry"`
	Telegram  TelegramConfig   `toml:"telegram"`
	Reconcile ReconcileConfig  `toml:"reconcile"`
	Client    ClientConfig     `toml:"client"`
	Logging   LoggingConfig    `toml:"logging"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	Metrics    bool   `toml:"metrics"`
	AdminToken string `toml:"admin_token"` // guards grants and reversals when set
}

// StoreConfig locates the authoritative and local stores.
type StoreConfig struct {
	Dir       string `toml:"dir"`        // holds state.db
	LocalFile string `toml:"local_file"` // client-side key-value document
}

// EconomyConfig holds the clicker constants.
type EconomyConfig struct {
	Energy           energy.Config          `toml:"energy"`
	Conversion       economy.ConversionRate `toml:"conversion"`
	DisplayInterval  string                 `toml:"display_interval"`
	SnapshotInterval string                 `toml:"snapshot_interval"`
}

// CooldownConfig controls the calendar.
type CooldownConfig struct {
	TimeZone      string `toml:"time_zone"` // IANA name of the conference zone
	WatchInterval string `toml:"watch_interval"`
}

// RetryConfig controls backoff on transient store failures.
type RetryConfig struct {
	MaxAttempts int    `toml:"max_attempts"`
	BaseDelay   string `toml:"base_delay"`
	MaxDelay    string `toml:"max_delay"`
}

// TelegramConfig controls bot notifications.
type TelegramConfig struct {
	Enabled        bool   `toml:"enabled"`
	Token          string `toml:"token"`
	VerifyInitData bool   `toml:"verify_init_data"` // require signed Mini-App initData
	InitDataMaxAge string `toml:"init_data_max_age"`
	QuietStart string `toml:"quiet_start"`
	QuietEnd   string `toml:"quiet_end"`
	MaxPerDay  int    `toml:"max_per_day"`
}

// ReconcileConfig controls the background reconciler.
type ReconcileConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"`
}

// ClientConfig is used by the client-side commands.
type ClientConfig struct {
	ServerURL  string `toml:"server_url"`
	UserID     string `toml:"user_id"`
	InitData   string `toml:"init_data"`
	AdminToken string `toml:"admin_token"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	homeDir := confquestHome()
	policy := notify.DefaultPolicy()
	rc := retry.DefaultConfig()
	points := make(map[string]int64)
	for k, v := range ledger.DefaultPoints() {
		points[string(k)] = v
	}
	return Config{
		Server: ServerConfig{
			Host:    "127.0.0.1",
			Port:    8640,
			Metrics: true,
		},
		Store: StoreConfig{
			Dir:       homeDir,
			LocalFile: filepath.Join(homeDir, "local.json"),
		},
		Economy: EconomyConfig{
			Energy:           energy.DefaultConfig(),
			Conversion:       economy.DefaultConversionRate(),
			DisplayInterval:  "1s",
			SnapshotInterval: "15s",
		},
		Points: points,
		Cooldown: CooldownConfig{
			TimeZone:      "Europe/Moscow",
			WatchInterval: "30s",
		},
		Retry: RetryConfig{
			MaxAttempts: rc.MaxAttempts,
			BaseDelay:   rc.BaseDelay.String(),
			MaxDelay:    rc.MaxDelay.String(),
		},
		Telegram: TelegramConfig{
			InitDataMaxAge: security.DefaultMaxAge.String(),
			QuietStart:     policy.QuietStart,
			QuietEnd:       policy.QuietEnd,
			MaxPerDay:      policy.MaxPerDay,
		},
		Reconcile: ReconcileConfig{
			Enabled:  true,
			Schedule: reconcile.DefaultSchedule,
		},
		Client: ClientConfig{
			ServerURL: "http://127.0.0.1:8640",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads config from ~/.confquest/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	return LoadConfigFrom(ConfigPath())
}

// LoadConfigFrom reads config from path. A missing file yields defaults.
func LoadConfigFrom(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		applyEnv(&cfg)
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv lets secrets stay out of the config file.
func applyEnv(cfg *Config) {
	if tok := os.Getenv("CONFQUEST_TELEGRAM_TOKEN"); tok != "" {
		cfg.Telegram.Token = tok
	}
	if tok := os.Getenv("CONFQUEST_ADMIN_TOKEN"); tok != "" {
		cfg.Server.AdminToken = tok
		cfg.Client.AdminToken = tok
	}
}

// SaveConfig writes the config to ~/.confquest/config.toml.
func SaveConfig(cfg Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// Validate checks the values the runtime cannot start without.
func (c Config) Validate() error {
	if _, err := c.Window(); err != nil {
		return err
	}
	if err := c.Economy.Energy.Validate(); err != nil {
		return err
	}
	if c.Economy.Conversion.Ratio <= 0 || c.Economy.Conversion.PointsPerUnit <= 0 {
		return fmt.Errorf("%w: conversion ratio and points per unit must be positive", domain.ErrInvalidInput)
	}
	if _, err := c.PointsTable(); err != nil {
		return err
	}
	if (c.Telegram.Enabled || c.Telegram.VerifyInitData) && c.Telegram.Token == "" {
		return fmt.Errorf("%w: telegram features need a bot token", domain.ErrInvalidInput)
	}
	return nil
}

// Window returns the conference time window.
func (c Config) Window() (timewindow.Window, error) {
	return timewindow.Load(c.Cooldown.TimeZone)
}

// PointsTable converts the [points] section. Kinds left out pay the default.
func (c Config) PointsTable() (ledger.PointsTable, error) {
	table := ledger.DefaultPoints()
	for k, v := range c.Points {
		table[domain.TaskKind(k)] = v
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

// RetryPolicy converts the [retry] section.
func (c Config) RetryPolicy() retry.Config {
	def := retry.DefaultConfig()
	rc := retry.Config{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   parseDuration(c.Retry.BaseDelay, def.BaseDelay),
		MaxDelay:    parseDuration(c.Retry.MaxDelay, def.MaxDelay),
	}
	if rc.MaxAttempts <= 0 {
		rc.MaxAttempts = def.MaxAttempts
	}
	return rc
}

// SessionConfig builds the clicker session configuration.
func (c Config) SessionConfig() session.Config {
	def := session.DefaultConfig()
	return session.Config{
		Energy:           c.Economy.Energy,
		Conversion:       c.Economy.Conversion,
		DisplayInterval:  parseDuration(c.Economy.DisplayInterval, def.DisplayInterval),
		SnapshotInterval: parseDuration(c.Economy.SnapshotInterval, def.SnapshotInterval),
		Retry:            c.RetryPolicy(),
	}
}

// Verifier returns the initData verifier, or nil when verification is off.
func (c Config) Verifier() *security.Verifier {
	if !c.Telegram.VerifyInitData {
		return nil
	}
	return security.NewVerifier(c.Telegram.Token, parseDuration(c.Telegram.InitDataMaxAge, security.DefaultMaxAge))
}

// NotifyPolicy returns the promotional notification policy.
func (c Config) NotifyPolicy() notify.Policy {
	return notify.Policy{
		QuietStart: c.Telegram.QuietStart,
		QuietEnd:   c.Telegram.QuietEnd,
		MaxPerDay:  c.Telegram.MaxPerDay,
	}
}

// ConfigPath returns the config file location.
func ConfigPath() string {
	return filepath.Join(confquestHome(), "config.toml")
}

// confquestHome returns the confquest data directory.
func confquestHome() string {
	if env := os.Getenv("CONFQUEST_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".confquest")
}

// Home is exported for use by other packages.
func Home() string {
	return confquestHome()
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
