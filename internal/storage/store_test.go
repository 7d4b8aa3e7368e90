package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broadcastbot/internal/content"
	"broadcastbot/internal/storage"
	"broadcastbot/internal/storage/storagetest"
)

func TestGetOrCreateUserKeepsFirstRow(t *testing.T) {
	st := storagetest.Open(t)
	ctx := context.Background()
	id := int64(gofakeit.Number(1, 1<<30))

	u, created, err := st.GetOrCreateUser(ctx, id, "first")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, storage.RoleUser, u.Role)

	require.NoError(t, st.UpdateUserRole(ctx, id, storage.RoleModerator))

	u, created, err = st.GetOrCreateUser(ctx, id, "second")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "first", u.Username)
	assert.Equal(t, storage.RoleModerator, u.Role)
}

func TestUpdateUserRoleErrors(t *testing.T) {
	st := storagetest.Open(t)
	ctx := context.Background()
	_, _, err := st.GetOrCreateUser(ctx, 1, "")
	require.NoError(t, err)

	err = st.UpdateUserRole(ctx, 1, storage.Role("superuser"))
	require.ErrorIs(t, err, storage.ErrInvalidRole)
	u, err := st.UserByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, storage.RoleUser, u.Role)

	require.ErrorIs(t, st.UpdateUserRole(ctx, 404, storage.RoleAdmin), storage.ErrNotFound)

	_, err = st.UserByID(ctx, 404)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCountUsersByRoleAndRecipients(t *testing.T) {
	st := storagetest.Open(t)
	ctx := context.Background()
	for id := int64(1); id <= 4; id++ {
		_, _, err := st.GetOrCreateUser(ctx, id, gofakeit.Username())
		require.NoError(t, err)
	}
	require.NoError(t, st.UpdateUserRole(ctx, 2, storage.RoleAdmin))

	counts, err := st.CountUsersByRole(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[storage.Role]int{storage.RoleUser: 3, storage.RoleModerator: 0, storage.RoleAdmin: 1}, counts)

	ids, err := st.RecipientIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3, 4}, ids)
}

func TestBroadcastLifecycle(t *testing.T) {
	st := storagetest.Open(t)
	ctx := context.Background()
	_, _, err := st.GetOrCreateUser(ctx, 7, "mod")
	require.NoError(t, err)

	runAt := time.Now().Add(time.Hour).Truncate(time.Second)
	b := &storage.Broadcast{
		CreatedBy: 7,
		Content: content.Payload{
			Kind:     content.KindPhoto,
			Text:     "caption",
			MediaRef: "file-1",
			Buttons:  []content.Button{{Label: "Go", Target: "https://example.com"}},
		},
		ScheduledTime: &runAt,
	}
	require.NoError(t, st.CreateBroadcast(ctx, b))
	require.NotZero(t, b.ID)

	got, err := st.GetBroadcast(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPending, got.Status)
	assert.Equal(t, b.Content, got.Content)
	require.NotNil(t, got.ScheduledTime)
	assert.True(t, runAt.Equal(*got.ScheduledTime))
	assert.Nil(t, got.Stats)

	pending, err := st.ListPendingBroadcasts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	ok, err := st.MarkBroadcastDone(ctx, b.ID, storage.StatusSent, storage.Stats{Total: 3, Success: 2, Errors: 1})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.MarkBroadcastDone(ctx, b.ID, storage.StatusSent, storage.Stats{})
	require.NoError(t, err)
	assert.False(t, ok, "second transition must be a no-op")

	got, err = st.GetBroadcast(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusSent, got.Status)
	require.NotNil(t, got.Stats)
	assert.Equal(t, storage.Stats{Total: 3, Success: 2, Errors: 1}, *got.Stats)
	assert.NotNil(t, got.SentAt)

	pending, err = st.ListPendingBroadcasts(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = st.GetBroadcast(ctx, b.ID+100)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestScheduledJobClaimsOnce(t *testing.T) {
	st := storagetest.Open(t)
	ctx := context.Background()
	_, _, err := st.GetOrCreateUser(ctx, 1, "")
	require.NoError(t, err)
	b := &storage.Broadcast{CreatedBy: 1, Content: content.Payload{Kind: content.KindText, Text: "hi"}}
	require.NoError(t, st.CreateBroadcast(ctx, b))

	now := time.Now()
	armed, err := st.ScheduleJob(ctx, b.ID, now.Add(-time.Second))
	require.NoError(t, err)
	assert.True(t, armed)
	armed, err = st.ScheduleJob(ctx, b.ID, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, armed)

	due, err := st.DueJobs(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, b.ID, due[0].BroadcastID)

	won, err := st.ClaimJob(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, won)
	won, err = st.ClaimJob(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, won)

	require.NoError(t, st.FinishJob(ctx, b.ID, nil))
	j, err := st.GetJob(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.JobDone, j.State)
	assert.Equal(t, 1, j.Attempts)

	due, err = st.DueJobs(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestFailStaleJobs(t *testing.T) {
	st := storagetest.Open(t)
	ctx := context.Background()
	_, _, err := st.GetOrCreateUser(ctx, 1, "")
	require.NoError(t, err)
	b := &storage.Broadcast{CreatedBy: 1, Content: content.Payload{Kind: content.KindText, Text: "hi"}}
	require.NoError(t, st.CreateBroadcast(ctx, b))
	_, err = st.ScheduleJob(ctx, b.ID, time.Now())
	require.NoError(t, err)
	_, err = st.ClaimJob(ctx, b.ID)
	require.NoError(t, err)

	n, err := st.FailStaleJobs(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	j, err := st.GetJob(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.JobFailed, j.State)
	assert.Equal(t, "interrupted", j.LastError)
}

func TestAuditAppend(t *testing.T) {
	st := storagetest.Open(t)
	ctx := context.Background()
	require.NoError(t, st.AppendAudit(ctx, storage.AuditEntry{ActorID: 5, Kind: storage.AuditImmediate, Total: 3, OK: 2, Fail: 1, TookMS: 12}))

	rows, err := st.RecentAudit(ctx, 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, storage.AuditImmediate, rows[0].Kind)
	assert.Zero(t, rows[0].BroadcastID)
	assert.Equal(t, 2, rows[0].OK)
}

func TestMigrationStatusAndRollback(t *testing.T) {
	st := storagetest.Open(t)
	ctx := context.Background()

	ms, err := st.MigrationStatus(ctx)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Empty(t, ms.Unapplied())

	require.NoError(t, st.Rollback(ctx))
	ms, err = st.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.Len(t, ms.Unapplied(), 2)

	require.NoError(t, st.Migrate(ctx))
}
