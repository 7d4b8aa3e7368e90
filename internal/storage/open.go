package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	logx "broadcastbot/pkg/logx"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store is the relational store for users, broadcasts, sqlite job rows and
// the delivery audit.
type Store struct {
	db         *bun.DB
	driver     string
	log        logx.Logger
	migrations *migrate.Migrations
}

// Open connects to the configured database. With AutoMigrate set it also
// applies pending migrations.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	var (
		db  *bun.DB
		err error
	)
	switch driver {
	case "", DriverSQLite, "sqlite3":
		driver = DriverSQLite
		db, err = openSQLite(cfg)
	case DriverPostgres, "postgresql", "pg":
		driver = DriverPostgres
		db, err = openPostgres(cfg)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	m, err := loadMigrations(driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db, driver: driver, log: log.With(logx.String("comp", "storage"), logx.String("driver", driver)), migrations: m}
	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) DB() *bun.DB    { return s.db }
func (s *Store) Driver() string { return s.driver }
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrator() *migrate.Migrator {
	return migrate.NewMigrator(s.db, s.migrations)
}

// InitMigrations creates the migration bookkeeping tables only.
func (s *Store) InitMigrations(ctx context.Context) error {
	if err := s.migrator().Init(ctx); err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	return nil
}

// Migrate creates the bookkeeping tables if needed and applies every pending
// migration as one group.
func (s *Store) Migrate(ctx context.Context) error {
	mg := s.migrator()
	if err := mg.Init(ctx); err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	group, err := mg.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if group.IsZero() {
		s.log.Debug("schema up to date")
		return nil
	}
	s.log.Info("migrated", logx.String("group", group.String()))
	return nil
}

// Rollback reverts the last applied migration group.
func (s *Store) Rollback(ctx context.Context) error {
	group, err := s.migrator().Rollback(ctx)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	if group.IsZero() {
		s.log.Info("nothing to roll back")
		return nil
	}
	s.log.Info("rolled back", logx.String("group", group.String()))
	return nil
}

// MigrationStatus lists every known migration with its applied state.
func (s *Store) MigrationStatus(ctx context.Context) (migrate.MigrationSlice, error) {
	mg := s.migrator()
	if err := mg.Init(ctx); err != nil {
		return nil, fmt.Errorf("init migrations: %w", err)
	}
	return mg.MigrationsWithStatus(ctx)
}
