//go:build integration

package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	logx "broadcastbot/pkg/logx"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	pg, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("broadcastbot"),
		postgres.WithUsername("bot"),
		postgres.WithPassword("bot"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestRiverFiresOncePerBroadcast(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, MigrateRiver(ctx, pool))
	pool.Close()

	q, err := NewRiver(ctx, RiverConfig{DSN: dsn, Workers: 2}, logx.Nop())
	require.NoError(t, err)

	runAt := time.Now().Add(500 * time.Millisecond)
	require.NoError(t, q.Schedule(ctx, 7, runAt))
	require.NoError(t, q.Schedule(ctx, 7, runAt))

	fired := make(chan int64, 4)
	require.NoError(t, q.Start(ctx, func(_ context.Context, id int64) error {
		fired <- id
		return nil
	}))
	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = q.Stop(sctx)
	})

	select {
	case id := <-fired:
		assert.Equal(t, int64(7), id)
	case <-time.After(20 * time.Second):
		t.Fatal("job did not fire")
	}
	select {
	case id := <-fired:
		t.Fatalf("duplicate fire for %d", id)
	case <-time.After(3 * time.Second):
	}
}
