package config

import (
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Durations holds every duration setting resolved with its default.
type Durations struct {
	PollTimeout  time.Duration
	BusyTimeout  time.Duration
	PollInterval time.Duration
	StaleAfter   time.Duration
	DialogTTL    time.Duration
}

func (c *Config) Durations() (Durations, error) {
	var (
		d   Durations
		err error
	)
	if d.PollTimeout, err = ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, DefaultPollTimeout); err != nil {
		return d, err
	}
	if d.BusyTimeout, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return d, err
	}
	if d.PollInterval, err = ParseDurationOrDefault("jobs.poll_interval", c.Jobs.PollInterval, DefaultPollInterval); err != nil {
		return d, err
	}
	if d.StaleAfter, err = ParseDurationOrDefault("jobs.stale_after", c.Jobs.StaleAfter, DefaultStaleAfter); err != nil {
		return d, err
	}
	if d.DialogTTL, err = ParseDurationOrDefault("dialog.ttl", c.Dialog.TTL, DefaultDialogTTL); err != nil {
		return d, err
	}
	return d, nil
}
