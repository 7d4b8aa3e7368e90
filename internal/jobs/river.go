package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	logx "broadcastbot/pkg/logx"
)

// FireArgs is the River job that fires a scheduled broadcast.
type FireArgs struct {
	BroadcastID int64 `json:"broadcast_id" river:"unique"`
}

func (FireArgs) Kind() string { return "broadcast_fire" }

// InsertOpts makes the job single-shot and unique per broadcast id. A failed
// run is not retried: a retry could reach recipients twice.
func (FireArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 1,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
}

type fireWorker struct {
	river.WorkerDefaults[FireArgs]
	q *River
}

func (w *fireWorker) Work(ctx context.Context, job *river.Job[FireArgs]) error {
	h := w.q.handler.Load()
	if h == nil {
		return ErrNotStarted
	}
	w.q.log.Info("job firing", logx.Int64("broadcast_id", job.Args.BroadcastID), logx.Int64("job_id", job.ID))
	return (*h)(ctx, job.Args.BroadcastID)
}

type RiverConfig struct {
	DSN     string
	Workers int
}

// River is the PostgreSQL job queue.
type River struct {
	pool    *pgxpool.Pool
	client  *river.Client[pgx.Tx]
	log     logx.Logger
	handler atomic.Pointer[Handler]
}

var _ Queue = (*River)(nil)

func NewRiver(ctx context.Context, cfg RiverConfig, log logx.Logger) (*River, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "jobs.river"))

	// River requires pgx, not database/sql.
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	q := &River{pool: pool, log: log}
	workers := river.NewWorkers()
	river.AddWorker(workers, &fireWorker{q: q})

	n := cfg.Workers
	if n <= 0 {
		n = 2
	}
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: n},
		},
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create river client: %w", err)
	}
	q.client = client
	return q, nil
}

// Migrate creates or upgrades River's own tables.
func (q *River) Migrate(ctx context.Context) error {
	return MigrateRiver(ctx, q.pool)
}

func MigrateRiver(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, &rivermigrate.MigrateOpts{}); err != nil {
		return fmt.Errorf("migrate river: %w", err)
	}
	return nil
}

func (q *River) Schedule(ctx context.Context, broadcastID int64, runAt time.Time) error {
	res, err := q.client.Insert(ctx, FireArgs{BroadcastID: broadcastID}, &river.InsertOpts{
		ScheduledAt: runAt,
		MaxAttempts: 1,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	})
	if err != nil {
		return fmt.Errorf("schedule broadcast %d: %w", broadcastID, err)
	}
	if res.UniqueSkippedAsDuplicate {
		q.log.Debug("job already scheduled", logx.Int64("broadcast_id", broadcastID))
		return nil
	}
	q.log.Info("job scheduled", logx.Int64("broadcast_id", broadcastID), logx.Int64("job_id", res.Job.ID), logx.Time("run_at", runAt))
	return nil
}

func (q *River) Start(ctx context.Context, h Handler) error {
	if h == nil {
		return errors.New("jobs: nil handler")
	}
	q.handler.Store(&h)
	if err := q.client.Start(ctx); err != nil {
		return fmt.Errorf("start river client: %w", err)
	}
	q.log.Info("river started")
	return nil
}

func (q *River) Stop(ctx context.Context) error {
	defer q.pool.Close()
	if err := q.client.Stop(ctx); err != nil {
		return fmt.Errorf("stop river client: %w", err)
	}
	q.log.Info("river stopped")
	return nil
}
