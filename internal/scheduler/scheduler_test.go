package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broadcastbot/internal/content"
	"broadcastbot/internal/delivery"
	"broadcastbot/internal/jobs"
	"broadcastbot/internal/scheduler"
	"broadcastbot/internal/storage"
	"broadcastbot/internal/storage/storagetest"
	"broadcastbot/internal/transport/transporttest"
	"broadcastbot/internal/users"
	logx "broadcastbot/pkg/logx"
)

type armed struct {
	id    int64
	runAt time.Time
}

// fakeQueue records Schedule calls; ScheduleFunc overrides the result.
type fakeQueue struct {
	ScheduleFunc func(id int64) error

	mu    sync.Mutex
	armed []armed
}

func (q *fakeQueue) Schedule(_ context.Context, id int64, runAt time.Time) error {
	if q.ScheduleFunc != nil {
		if err := q.ScheduleFunc(id); err != nil {
			return err
		}
	}
	q.mu.Lock()
	q.armed = append(q.armed, armed{id: id, runAt: runAt})
	q.mu.Unlock()
	return nil
}

func (q *fakeQueue) Start(context.Context, jobs.Handler) error { return nil }
func (q *fakeQueue) Stop(context.Context) error                { return nil }

type env struct {
	store *storage.Store
	dir   *users.Directory
	fake  *transporttest.Fake
	queue *fakeQueue
	sched *scheduler.Scheduler
}

func setup(t *testing.T, cfg scheduler.Config, recipients ...int64) *env {
	t.Helper()
	st := storagetest.Open(t)
	dir := users.New(st, logx.Nop(), nil)
	ctx := context.Background()
	for _, id := range recipients {
		_, err := dir.GetOrCreate(ctx, id, gofakeit.Username())
		require.NoError(t, err)
	}
	fake := &transporttest.Fake{}
	eng := delivery.New(fake, logx.Nop(), delivery.WithAudit(st))
	q := &fakeQueue{}
	return &env{
		store: st,
		dir:   dir,
		fake:  fake,
		queue: q,
		sched: scheduler.New(cfg, st, dir, eng, q, logx.Nop()),
	}
}

func textPayload(s string) content.Payload {
	return content.Payload{Kind: content.KindText, Text: s}
}

func TestArmPersistsPendingAndSchedules(t *testing.T) {
	e := setup(t, scheduler.Config{}, 1)
	runAt := time.Now().Add(time.Hour)

	b, err := e.sched.Arm(context.Background(), textPayload("hi"), runAt, 1)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPending, b.Status)

	got, err := e.store.GetBroadcast(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPending, got.Status)
	require.NotNil(t, got.ScheduledTime)
	assert.WithinDuration(t, runAt, *got.ScheduledTime, time.Millisecond)

	require.Len(t, e.queue.armed, 1)
	assert.Equal(t, b.ID, e.queue.armed[0].id)
}

func TestFireUnrelatedIDIsNoop(t *testing.T) {
	e := setup(t, scheduler.Config{}, 1, 2)
	ctx := context.Background()
	b, err := e.sched.Arm(ctx, textPayload("hi"), time.Now().Add(time.Hour), 1)
	require.NoError(t, err)

	require.NoError(t, e.sched.Fire(ctx, b.ID+1000))

	got, err := e.store.GetBroadcast(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPending, got.Status)
	assert.Nil(t, got.Stats)
	assert.Empty(t, e.fake.Sent())
}

func TestFireTwiceSendsOnce(t *testing.T) {
	e := setup(t, scheduler.Config{}, 1, 2, 3)
	ctx := context.Background()
	b, err := e.sched.Arm(ctx, textPayload("hi"), time.Now(), 1)
	require.NoError(t, err)

	require.NoError(t, e.sched.Fire(ctx, b.ID))
	require.NoError(t, e.sched.Fire(ctx, b.ID))

	got, err := e.store.GetBroadcast(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusSent, got.Status)
	require.NotNil(t, got.Stats)
	assert.Equal(t, storage.Stats{Total: 3, Success: 3}, *got.Stats)
	assert.Len(t, e.fake.Sent(), 3)

	audit, err := e.store.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, b.ID, audit[0].BroadcastID)
}

func TestFireUsesLiveRoster(t *testing.T) {
	e := setup(t, scheduler.Config{}, 1)
	ctx := context.Background()
	b, err := e.sched.Arm(ctx, textPayload("hi"), time.Now(), 1)
	require.NoError(t, err)

	_, err = e.dir.GetOrCreate(ctx, 2, "late")
	require.NoError(t, err)
	require.NoError(t, e.sched.Fire(ctx, b.ID))

	assert.Len(t, e.fake.SentTo(2), 1)
}

func TestFireWithErrors(t *testing.T) {
	for _, tt := range []struct {
		name       string
		markFailed bool
		want       storage.Status
	}{
		{name: "default keeps sent", want: storage.StatusSent},
		{name: "flag marks failed", markFailed: true, want: storage.StatusFailed},
	} {
		t.Run(tt.name, func(t *testing.T) {
			e := setup(t, scheduler.Config{MarkFailedOnErrors: tt.markFailed}, 1, 2)
			e.fake.SendErr = func(id int64) error {
				if id == 2 {
					return errors.New("blocked")
				}
				return nil
			}
			ctx := context.Background()
			b, err := e.sched.Arm(ctx, textPayload("hi"), time.Now(), 1)
			require.NoError(t, err)
			require.NoError(t, e.sched.Fire(ctx, b.ID))

			got, err := e.store.GetBroadcast(ctx, b.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, storage.Stats{Total: 2, Success: 1, Errors: 1}, *got.Stats)
		})
	}
}

func TestReconcileRearmsPending(t *testing.T) {
	e := setup(t, scheduler.Config{}, 1)
	ctx := context.Background()
	e.queue.ScheduleFunc = func(int64) error { return errors.New("queue down") }
	b, err := e.sched.Arm(ctx, textPayload("hi"), time.Now().Add(time.Hour), 1)
	require.Error(t, err)
	require.NotNil(t, b)

	e.queue.ScheduleFunc = nil
	n, err := e.sched.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, e.queue.armed, 1)
	assert.Equal(t, b.ID, e.queue.armed[0].id)
}

func TestRecordImmediate(t *testing.T) {
	res := delivery.Result{Total: 2, Success: 2}

	e := setup(t, scheduler.Config{}, 1)
	b, err := e.sched.RecordImmediate(context.Background(), textPayload("x"), 1, res)
	require.NoError(t, err)
	assert.Nil(t, b)

	e.sched.Apply(scheduler.Config{PersistImmediate: true})
	b, err = e.sched.RecordImmediate(context.Background(), textPayload("x"), 1, res)
	require.NoError(t, err)
	require.NotNil(t, b)
	got, err := e.store.GetBroadcast(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusSent, got.Status)
	assert.Nil(t, got.ScheduledTime)

	pending, err := e.store.ListPendingBroadcasts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}
