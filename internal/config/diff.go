package config

import (
	"reflect"
	"strings"

	logx "broadcastbot/pkg/logx"
)

// Change describes what differs between two configs.
type Change struct {
	// Sections lists changed top-level sections in file order.
	Sections []string
	// Attrs are safe to log; tokens, passwords and DSNs never appear.
	Attrs []logx.Field
	// Restart lists changed settings that only take effect after a restart.
	Restart []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

func trimEq(a, b string) bool { return strings.TrimSpace(a) == strings.TrimSpace(b) }

// Diff compares oldCfg with newCfg.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	o, n := oldCfg, newCfg

	tokenChanged := !trimEq(o.Telegram.Token, n.Telegram.Token)
	if tokenChanged ||
		!reflect.DeepEqual(o.Telegram.AdminUserIDs, n.Telegram.AdminUserIDs) ||
		!trimEq(o.Telegram.GroupLog, n.Telegram.GroupLog) ||
		!trimEq(o.Telegram.PollTimeout, n.Telegram.PollTimeout) ||
		o.Telegram.Workers != n.Telegram.Workers {
		ch.Sections = append(ch.Sections, "telegram")
		ch.Attrs = append(ch.Attrs,
			logx.Int("telegram.admin_count", len(n.Telegram.AdminUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(n.Telegram.GroupLog) != ""),
			logx.Bool("telegram.token_changed", tokenChanged),
		)
		if tokenChanged {
			ch.Restart = append(ch.Restart, "telegram.token")
		}
		if !trimEq(o.Telegram.PollTimeout, n.Telegram.PollTimeout) {
			ch.Restart = append(ch.Restart, "telegram.poll_timeout")
		}
		if o.Telegram.Workers != n.Telegram.Workers {
			ch.Restart = append(ch.Restart, "telegram.workers")
		}
	}

	if o.Logging != n.Logging {
		ch.Sections = append(ch.Sections, "logging")
		ch.Attrs = append(ch.Attrs,
			logx.String("logging.level", n.Logging.Level),
			logx.Bool("logging.console", n.Logging.Console),
			logx.Bool("logging.file_enabled", n.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", n.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(o.Storage, n.Storage) {
		ch.Sections = append(ch.Sections, "storage")
		ch.Attrs = append(ch.Attrs, logx.String("storage.driver", n.StorageDriver()))
		ch.Restart = append(ch.Restart, "storage")
	}

	if o.Jobs != n.Jobs {
		ch.Sections = append(ch.Sections, "jobs")
		ch.Attrs = append(ch.Attrs,
			logx.String("jobs.poll_interval", n.Jobs.PollInterval),
			logx.Int("jobs.workers", n.Jobs.Workers),
		)
		ch.Restart = append(ch.Restart, "jobs")
	}

	if o.Scheduler != n.Scheduler {
		ch.Sections = append(ch.Sections, "scheduler")
		ch.Attrs = append(ch.Attrs,
			logx.String("scheduler.timezone", n.Scheduler.Timezone),
			logx.Bool("scheduler.mark_failed_on_errors", n.Scheduler.MarkFailedOnErrors),
			logx.Bool("scheduler.persist_immediate", n.Scheduler.PersistImmediate),
		)
	}

	if o.Dialog != n.Dialog {
		ch.Sections = append(ch.Sections, "dialog")
		ch.Attrs = append(ch.Attrs,
			logx.String("dialog.ttl", n.Dialog.TTL),
			logx.String("dialog.store", n.DialogStore()),
		)
		if o.DialogStore() != n.DialogStore() || o.Dialog.RedisAddr != n.Dialog.RedisAddr ||
			o.Dialog.RedisPassword != n.Dialog.RedisPassword || o.Dialog.RedisDB != n.Dialog.RedisDB {
			ch.Restart = append(ch.Restart, "dialog.store")
		}
	}

	if o.Ops != n.Ops {
		ch.Sections = append(ch.Sections, "ops")
		ch.Attrs = append(ch.Attrs,
			logx.Bool("ops.enabled", n.Ops.Enabled),
			logx.String("ops.addr", n.Ops.Addr),
		)
		ch.Restart = append(ch.Restart, "ops")
	}
	return ch
}
