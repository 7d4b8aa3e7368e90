package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"broadcastbot/internal/storage"
	logx "broadcastbot/pkg/logx"
)

// TableStore is the job-row surface of storage.Store.
type TableStore interface {
	ScheduleJob(ctx context.Context, broadcastID int64, runAt time.Time) (bool, error)
	DueJobs(ctx context.Context, now time.Time, limit int) ([]storage.ScheduledJob, error)
	ClaimJob(ctx context.Context, broadcastID int64) (bool, error)
	FinishJob(ctx context.Context, broadcastID int64, runErr error) error
	FailStaleJobs(ctx context.Context, before time.Time) (int64, error)
}

type CronConfig struct {
	PollInterval time.Duration
	StaleAfter   time.Duration
	BatchSize    int
}

// Cron polls the scheduled_jobs table on a robfig/cron interval entry. A due
// row is claimed with a conditional update, so a job runs once even if polls
// overlap.
type Cron struct {
	cfg   CronConfig
	store TableStore
	log   logx.Logger
	now   func() time.Time

	mu      sync.Mutex
	c       *cron.Cron
	handler Handler
	runCtx  context.Context
	cancel  context.CancelFunc
}

var _ Queue = (*Cron)(nil)

func NewCron(cfg CronConfig, store TableStore, log logx.Logger) *Cron {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PollInterval < time.Second {
		cfg.PollInterval = time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	return &Cron{cfg: cfg, store: store, log: log.With(logx.String("comp", "jobs.cron")), now: time.Now}
}

// SetClock replaces the time source used to pick due jobs.
func (q *Cron) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	q.mu.Lock()
	q.now = now
	q.mu.Unlock()
}

func (q *Cron) clock() time.Time {
	q.mu.Lock()
	now := q.now
	q.mu.Unlock()
	return now()
}

func (q *Cron) Schedule(ctx context.Context, broadcastID int64, runAt time.Time) error {
	armed, err := q.store.ScheduleJob(ctx, broadcastID, runAt)
	if err != nil {
		return err
	}
	if armed {
		q.log.Info("job scheduled", logx.Int64("broadcast_id", broadcastID), logx.Time("run_at", runAt))
	} else {
		q.log.Debug("job already scheduled", logx.Int64("broadcast_id", broadcastID))
	}
	return nil
}

func (q *Cron) Start(ctx context.Context, h Handler) error {
	if h == nil {
		return errors.New("jobs: nil handler")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.c != nil {
		return nil
	}
	n, err := q.store.FailStaleJobs(ctx, q.now().Add(-q.cfg.StaleAfter))
	if err != nil {
		return err
	}
	if n > 0 {
		q.log.Warn("interrupted jobs marked failed", logx.Int64("count", n))
	}

	// Runs are not tied to the caller's context: Stop lets an in-flight
	// delivery finish before it cancels.
	q.runCtx, q.cancel = context.WithCancel(context.WithoutCancel(ctx))
	q.handler = h
	q.c = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger{q.log}), cron.SkipIfStillRunning(cronLogger{q.log})),
	)
	q.c.Schedule(cron.Every(q.cfg.PollInterval), cron.FuncJob(q.poll))
	q.c.Start()
	q.log.Info("job poller started", logx.Duration("every", q.cfg.PollInterval))
	return nil
}

// Stop halts polling and waits for a running job. When ctx expires first the
// run is canceled.
func (q *Cron) Stop(ctx context.Context) error {
	q.mu.Lock()
	c, cancel := q.c, q.cancel
	q.c = nil
	q.mu.Unlock()
	if c == nil {
		return nil
	}
	done := c.Stop().Done()
	select {
	case <-done:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

// RunDue runs every due job once. The poller calls it on each tick.
func (q *Cron) RunDue(ctx context.Context) (int, error) {
	q.mu.Lock()
	h := q.handler
	q.mu.Unlock()
	if h == nil {
		return 0, ErrNotStarted
	}
	due, err := q.store.DueJobs(ctx, q.clock(), q.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	ran := 0
	for _, j := range due {
		won, err := q.store.ClaimJob(ctx, j.BroadcastID)
		if err != nil {
			return ran, err
		}
		if !won {
			continue
		}
		ran++
		runErr := q.runOne(ctx, h, j)
		// The outcome is recorded even if the run context is gone.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := q.store.FinishJob(fctx, j.BroadcastID, runErr); err != nil {
			q.log.Error("finish job failed", logx.Int64("broadcast_id", j.BroadcastID), logx.Err(err))
		}
		cancel()
	}
	return ran, nil
}

func (q *Cron) runOne(ctx context.Context, h Handler, j storage.ScheduledJob) (err error) {
	log := q.log.With(logx.Int64("broadcast_id", j.BroadcastID))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			log.Error("job failed", logx.Err(err))
		}
	}()
	log.Info("job firing", logx.Duration("late", q.clock().Sub(j.RunAt())))
	return h(ctx, j.BroadcastID)
}

func (q *Cron) poll() {
	q.mu.Lock()
	ctx := q.runCtx
	q.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if _, err := q.RunDue(ctx); err != nil {
		q.log.Warn("job poll failed", logx.Err(err))
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug(msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error(msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, _ := kv[i].(string)
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
