// Package scheduler persists scheduled broadcasts and fires them through the
// durable job queue.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"broadcastbot/internal/content"
	"broadcastbot/internal/delivery"
	"broadcastbot/internal/eventbus"
	"broadcastbot/internal/jobs"
	"broadcastbot/internal/storage"
	logx "broadcastbot/pkg/logx"
)

type Config struct {
	// MarkFailedOnErrors finishes a run with any failed recipient as failed
	// instead of sent.
	MarkFailedOnErrors bool
	// PersistImmediate also records immediate sends as (already sent)
	// broadcasts.
	PersistImmediate bool
}

// Store is the broadcast surface of storage.Store.
type Store interface {
	CreateBroadcast(ctx context.Context, b *storage.Broadcast) error
	GetBroadcast(ctx context.Context, id int64) (*storage.Broadcast, error)
	ListPendingBroadcasts(ctx context.Context) ([]storage.Broadcast, error)
	MarkBroadcastDone(ctx context.Context, id int64, status storage.Status, stats storage.Stats) (bool, error)
}

// Roster yields the current recipient list.
type Roster interface {
	Roster(ctx context.Context) ([]int64, error)
}

// Executor runs a delivery with bookkeeping; *delivery.Engine implements it.
type Executor interface {
	Execute(ctx context.Context, run delivery.Run, p content.Payload, recipients []int64) (delivery.Result, error)
}

type Publisher interface {
	Publish(topic string, data any) error
}

// Scheduled is published on eventbus.TopicBroadcastScheduled.
type Scheduled struct {
	BroadcastID int64     `json:"broadcast_id"`
	CreatedBy   int64     `json:"created_by"`
	RunAt       time.Time `json:"run_at"`
}

type Scheduler struct {
	store  Store
	roster Roster
	exec   Executor
	queue  jobs.Queue
	log    logx.Logger
	events Publisher
	now    func() time.Time

	mu  sync.RWMutex
	cfg Config
}

type Option func(*Scheduler)

func WithEvents(p Publisher) Option { return func(s *Scheduler) { s.events = p } }

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func New(cfg Config, store Store, roster Roster, exec Executor, queue jobs.Queue, log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		cfg:    cfg,
		store:  store,
		roster: roster,
		exec:   exec,
		queue:  queue,
		log:    log.With(logx.String("comp", "scheduler")),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply swaps the runtime flags.
func (s *Scheduler) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Scheduler) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Arm persists a pending broadcast and registers its job at runAt.
func (s *Scheduler) Arm(ctx context.Context, p content.Payload, runAt time.Time, requester int64) (*storage.Broadcast, error) {
	at := runAt.UTC()
	b := &storage.Broadcast{
		CreatedBy:     requester,
		Content:       p,
		ScheduledTime: &at,
		Status:        storage.StatusPending,
		CreatedAt:     s.now(),
	}
	if err := s.store.CreateBroadcast(ctx, b); err != nil {
		return nil, err
	}
	// A crash between these two steps is healed by Reconcile on start.
	if err := s.queue.Schedule(ctx, b.ID, runAt); err != nil {
		return b, fmt.Errorf("arm broadcast %d: %w", b.ID, err)
	}
	s.log.Info("broadcast armed", logx.Int64("broadcast_id", b.ID), logx.Int64("created_by", requester), logx.Time("run_at", at))
	if s.events != nil {
		if err := s.events.Publish(eventbus.TopicBroadcastScheduled, Scheduled{BroadcastID: b.ID, CreatedBy: requester, RunAt: at}); err != nil {
			s.log.Warn("event publish failed", logx.Err(err))
		}
	}
	return b, nil
}

// Fire delivers a pending broadcast to the live roster and marks it done.
// Missing or already finished broadcasts are ignored.
func (s *Scheduler) Fire(ctx context.Context, id int64) error {
	log := s.log.With(logx.Int64("broadcast_id", id))
	b, err := s.store.GetBroadcast(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		log.Debug("fire ignored: broadcast not found")
		return nil
	}
	if err != nil {
		return err
	}
	if b.Status != storage.StatusPending {
		log.Debug("fire ignored: broadcast not pending", logx.String("status", string(b.Status)))
		return nil
	}

	recipients, err := s.roster.Roster(ctx)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}
	res, runErr := s.exec.Execute(ctx, delivery.Run{
		ActorID:     b.CreatedBy,
		BroadcastID: b.ID,
		Kind:        storage.AuditScheduled,
	}, b.Content, recipients)

	status := storage.StatusSent
	if runErr != nil || (res.Errors > 0 && s.config().MarkFailedOnErrors) {
		status = storage.StatusFailed
	}
	// The run already reached recipients; record it even if ctx is gone.
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	ok, err := s.store.MarkBroadcastDone(mctx, b.ID, status, res.Stats())
	if err != nil {
		return err
	}
	if !ok {
		log.Warn("broadcast finished concurrently")
		return nil
	}
	log.Info("broadcast fired", logx.String("status", string(status)), logx.Int("success", res.Success), logx.Int("errors", res.Errors))
	return runErr
}

// Reconcile re-arms every pending broadcast. Arming is idempotent per id, so
// this only fills in jobs lost between persist and arm.
func (s *Scheduler) Reconcile(ctx context.Context) (int, error) {
	pending, err := s.store.ListPendingBroadcasts(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, b := range pending {
		if b.ScheduledTime == nil {
			continue
		}
		if err := s.queue.Schedule(ctx, b.ID, *b.ScheduledTime); err != nil {
			return n, fmt.Errorf("re-arm broadcast %d: %w", b.ID, err)
		}
		n++
	}
	if n > 0 {
		s.log.Info("pending broadcasts reconciled", logx.Int("count", n))
	}
	return n, nil
}

// RecordImmediate stores an immediate send as a sent broadcast when
// PersistImmediate is on. It returns nil, nil otherwise.
func (s *Scheduler) RecordImmediate(ctx context.Context, p content.Payload, requester int64, res delivery.Result) (*storage.Broadcast, error) {
	cfg := s.config()
	if !cfg.PersistImmediate {
		return nil, nil
	}
	status := storage.StatusSent
	if res.Errors > 0 && cfg.MarkFailedOnErrors {
		status = storage.StatusFailed
	}
	now := s.now().UTC()
	stats := res.Stats()
	b := &storage.Broadcast{
		CreatedBy: requester,
		Content:   p,
		Status:    status,
		Stats:     &stats,
		CreatedAt: now,
		SentAt:    &now,
	}
	if err := s.store.CreateBroadcast(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Start reconciles pending broadcasts and binds Fire as the job handler.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.Reconcile(ctx); err != nil {
		return err
	}
	return s.queue.Start(ctx, s.Fire)
}

func (s *Scheduler) Stop(ctx context.Context) error {
	return s.queue.Stop(ctx)
}
