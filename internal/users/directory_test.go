package users_test

import (
	"context"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broadcastbot/internal/eventbus"
	"broadcastbot/internal/storage"
	"broadcastbot/internal/storage/storagetest"
	"broadcastbot/internal/users"
	logx "broadcastbot/pkg/logx"
)

func newDirectory(t *testing.T, admins ...int64) *users.Directory {
	t.Helper()
	return users.New(storagetest.Open(t), logx.Nop(), admins)
}

func TestGetOrCreateFirstNameWins(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()
	id := int64(gofakeit.Number(1, 1<<30))

	first, err := d.GetOrCreate(ctx, id, "alice")
	require.NoError(t, err)
	second, err := d.GetOrCreate(ctx, id, "bob")
	require.NoError(t, err)

	assert.Equal(t, first.Role, second.Role)
	assert.Equal(t, storage.RoleUser, second.Role)
	assert.Equal(t, "alice", second.Username)
}

func TestGetOrCreateKeepsAssignedRole(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()

	_, err := d.GetOrCreate(ctx, 10, gofakeit.Username())
	require.NoError(t, err)
	_, err = d.SetRole(ctx, 10, "moderator")
	require.NoError(t, err)

	u, err := d.GetOrCreate(ctx, 10, gofakeit.Username())
	require.NoError(t, err)
	assert.Equal(t, storage.RoleModerator, u.Role)
}

func TestSetRoleRejectsUnknownToken(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()
	_, err := d.GetOrCreate(ctx, 10, "")
	require.NoError(t, err)

	_, err = d.SetRole(ctx, 10, "root")
	require.ErrorIs(t, err, storage.ErrInvalidRole)

	role, err := d.Role(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, storage.RoleUser, role)
}

func TestSetRoleUnknownUser(t *testing.T) {
	d := newDirectory(t)
	_, err := d.SetRole(context.Background(), 999, "admin")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRegisterPromotesBootstrapAdmin(t *testing.T) {
	d := newDirectory(t, 42)
	ctx := context.Background()

	u, err := d.Register(ctx, 42, "owner")
	require.NoError(t, err)
	assert.Equal(t, storage.RoleAdmin, u.Role)

	u, err = d.Register(ctx, 43, "guest")
	require.NoError(t, err)
	assert.Equal(t, storage.RoleUser, u.Role)

	role, err := d.Role(ctx, 404)
	require.NoError(t, err)
	assert.Equal(t, storage.RoleUser, role)
}

func TestCountsAndRoster(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		_, err := d.GetOrCreate(ctx, id, gofakeit.Username())
		require.NoError(t, err)
	}
	_, err := d.SetRole(ctx, 3, "admin")
	require.NoError(t, err)

	c, err := d.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Total)
	assert.Equal(t, 2, c.ByRole[storage.RoleUser])
	assert.Equal(t, 1, c.ByRole[storage.RoleAdmin])

	ids, err := d.Roster(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3}, ids)
}

type recordingPublisher struct {
	topics []string
	events []any
}

func (p *recordingPublisher) Publish(topic string, data any) error {
	p.topics = append(p.topics, topic)
	p.events = append(p.events, data)
	return nil
}

func TestSetRolePublishesEvent(t *testing.T) {
	pub := &recordingPublisher{}
	d := users.New(storagetest.Open(t), logx.Nop(), nil, users.WithEvents(pub))
	ctx := context.Background()
	_, err := d.GetOrCreate(ctx, 5, "")
	require.NoError(t, err)

	_, err = d.SetRole(ctx, 5, "root")
	require.Error(t, err)
	assert.Empty(t, pub.topics, "rejected tokens publish nothing")

	_, err = d.SetRole(ctx, 5, "moderator")
	require.NoError(t, err)
	require.Equal(t, []string{eventbus.TopicRoleChanged}, pub.topics)
	assert.Equal(t, users.RoleChanged{UserID: 5, Role: storage.RoleModerator}, pub.events[0])
}

func TestSetRoleKeepsBootstrapAdmin(t *testing.T) {
	d := newDirectory(t, 9)
	ctx := context.Background()
	_, err := d.Register(ctx, 9, "")
	require.NoError(t, err)

	_, err = d.SetRole(ctx, 9, "user")
	require.ErrorIs(t, err, storage.ErrRoleLocked)
	role, err := d.Role(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, storage.RoleAdmin, role)

	got, err := d.SetRole(ctx, 9, "admin")
	require.NoError(t, err)
	assert.Equal(t, storage.RoleAdmin, got)
}
