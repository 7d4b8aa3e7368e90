package app

import (
	"time"

	"broadcastbot/internal/config"
	"broadcastbot/internal/jobs"
	"broadcastbot/internal/observability/ops"
	"broadcastbot/internal/scheduler"
	"broadcastbot/internal/storage"
	logx "broadcastbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	d, err := cfg.Durations()
	if err != nil {
		return storage.Config{}, err
	}
	busy := d.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	return storage.Config{
		Driver:       cfg.StorageDriver(),
		Path:         cfg.Storage.Path,
		DSN:          cfg.Storage.DSN,
		BusyTimeout:  busy,
		MaxOpenConns: cfg.Storage.MaxOpenConns,
		AutoMigrate:  cfg.AutoMigrate(),
	}, nil
}

func mapCronConfig(cfg *config.Config) (jobs.CronConfig, error) {
	d, err := cfg.Durations()
	if err != nil {
		return jobs.CronConfig{}, err
	}
	return jobs.CronConfig{PollInterval: d.PollInterval, StaleAfter: d.StaleAfter}, nil
}

func mapRiverConfig(cfg *config.Config) jobs.RiverConfig {
	return jobs.RiverConfig{DSN: cfg.Storage.DSN, Workers: cfg.Jobs.Workers}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		MarkFailedOnErrors: cfg.Scheduler.MarkFailedOnErrors,
		PersistImmediate:   cfg.Scheduler.PersistImmediate,
	}
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	addr := cfg.Ops.Addr
	if addr == "" {
		addr = config.DefaultOpsAddr
	}
	return ops.Config{
		Enabled:     cfg.Ops.Enabled,
		Addr:        addr,
		Pprof:       cfg.Ops.Pprof,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: time.Minute,
	}
}
