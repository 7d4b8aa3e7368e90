package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Jobs      JobsConfig      `json:"jobs"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Dialog    DialogConfig    `json:"dialog"`
	Ops       OpsConfig       `json:"ops"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminUserIDs are promoted to admin on /start and always pass the
	// admin gate.
	AdminUserIDs []int64 `json:"admin_user_ids"`
	// GroupLog is the chat id of the log sink, empty to disable.
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// Workers is the number of per-chat dispatch shards.
	Workers int `json:"workers,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the relational backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./broadcastbot.db" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
	// AutoMigrate defaults to true when omitted.
	AutoMigrate *bool `json:"auto_migrate,omitempty"`
}

// JobsConfig tunes the durable job store. PollInterval and StaleAfter only
// apply to the sqlite poller; Workers only to river.
type JobsConfig struct {
	PollInterval string `json:"poll_interval,omitempty"`
	StaleAfter   string `json:"stale_after,omitempty"`
	Workers      int    `json:"workers,omitempty"`
}

type SchedulerConfig struct {
	// Timezone is an IANA name used to read and show scheduled times.
	// Empty means the host zone.
	Timezone           string `json:"timezone,omitempty"`
	MarkFailedOnErrors bool   `json:"mark_failed_on_errors,omitempty"`
	PersistImmediate   bool   `json:"persist_immediate,omitempty"`
}

type DialogConfig struct {
	TTL string `json:"ttl,omitempty"`
	// Store is "memory" (default) or "redis".
	Store         string `json:"store,omitempty"`
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
}

// OpsConfig controls the HTTP server with health, metrics and pprof.
//
// Prefer binding to localhost; pprof has no auth.
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9090"
	Pprof   bool   `json:"pprof,omitempty"`
}

const (
	DefaultPollInterval = 10 * time.Second
	DefaultStaleAfter   = 10 * time.Minute
	DefaultDialogTTL    = 30 * time.Minute
	DefaultPollTimeout  = 10 * time.Second
	DefaultOpsAddr      = "127.0.0.1:9090"
)

// Location resolves scheduler.timezone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

// GroupLogChat parses telegram.group_log; ok is false when unset.
func (c *Config) GroupLogChat() (int64, bool, error) {
	s := strings.TrimSpace(c.Telegram.GroupLog)
	if s == "" {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("telegram.group_log: %w", err)
	}
	return id, true, nil
}

func (c *Config) StorageDriver() string {
	d := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if d == "" {
		return "sqlite"
	}
	return d
}

func (c *Config) AutoMigrate() bool {
	return c.Storage.AutoMigrate == nil || *c.Storage.AutoMigrate
}

func (c *Config) DialogStore() string {
	s := strings.ToLower(strings.TrimSpace(c.Dialog.Store))
	if s == "" {
		return "memory"
	}
	return s
}

// Validate checks everything that can be checked without side effects.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	for _, id := range c.Telegram.AdminUserIDs {
		if id <= 0 {
			errs = append(errs, fmt.Errorf("telegram.admin_user_ids: invalid id %d", id))
		}
	}
	if _, _, err := c.GroupLogChat(); err != nil {
		errs = append(errs, err)
	}
	switch c.StorageDriver() {
	case "sqlite":
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	switch c.DialogStore() {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Dialog.RedisAddr) == "" {
			errs = append(errs, errors.New("dialog.redis_addr is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("dialog.store: unknown store %q", c.Dialog.Store))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	for path, raw := range map[string]string{
		"telegram.poll_timeout": c.Telegram.PollTimeout,
		"storage.busy_timeout":  c.Storage.BusyTimeout,
		"jobs.poll_interval":    c.Jobs.PollInterval,
		"jobs.stale_after":      c.Jobs.StaleAfter,
		"dialog.ttl":            c.Dialog.TTL,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
