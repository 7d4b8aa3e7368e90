package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"broadcastbot/internal/config"
	"broadcastbot/internal/jobs"
	"broadcastbot/internal/storage"
	logx "broadcastbot/pkg/logx"
)

// ErrNoJobTables is returned by MigrateJobs on sqlite, where the job table is
// part of the regular schema.
var ErrNoJobTables = errors.New("sqlite keeps jobs in the main schema; run migrate up")

// OpenStore opens storage from the config file without applying migrations.
// It backs the maintenance commands.
func OpenStore(ctx context.Context, cfgPath string, log logx.Logger) (*storage.Store, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	sc.AutoMigrate = false
	return storage.Open(ctx, sc, log)
}

// MigrateJobs applies river's schema on postgres.
func MigrateJobs(ctx context.Context, cfgPath string) error {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	if cfg.StorageDriver() != storage.DriverPostgres {
		return ErrNoJobTables
	}
	pool, err := pgxpool.New(ctx, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("create pgx pool: %w", err)
	}
	defer pool.Close()
	return jobs.MigrateRiver(ctx, pool)
}
