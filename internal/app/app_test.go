package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broadcastbot/internal/bot"
	"broadcastbot/internal/config"
	"broadcastbot/internal/delivery"
	"broadcastbot/internal/dialog"
	"broadcastbot/internal/jobs"
	rtsup "broadcastbot/internal/runtime/supervisor"
	"broadcastbot/internal/scheduler"
	"broadcastbot/internal/storage"
	"broadcastbot/internal/storage/storagetest"
	"broadcastbot/internal/transport/transporttest"
	"broadcastbot/internal/users"
	logx "broadcastbot/pkg/logx"
)

func baseConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "t", AdminUserIDs: []int64{1}},
		Logging:  config.LoggingConfig{Level: "info"},
		Storage:  config.StorageConfig{Driver: "sqlite", Path: "bot.db"},
	}
}

func TestMapStorageConfig(t *testing.T) {
	cfg := baseConfig()
	sc, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, storage.DriverSQLite, sc.Driver)
	assert.Equal(t, time.Second, sc.BusyTimeout)
	assert.True(t, sc.AutoMigrate)

	off := false
	cfg.Storage = config.StorageConfig{Driver: "Postgres", DSN: "postgres://x", AutoMigrate: &off, BusyTimeout: "3s"}
	sc, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, storage.DriverPostgres, sc.Driver)
	assert.Equal(t, 3*time.Second, sc.BusyTimeout)
	assert.False(t, sc.AutoMigrate)
}

func TestMapJobsAndOps(t *testing.T) {
	cfg := baseConfig()
	cfg.Jobs = config.JobsConfig{PollInterval: "2s", Workers: 5}
	cfg.Storage.DSN = "postgres://db"

	cc, err := mapCronConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cc.PollInterval)
	assert.Equal(t, config.DefaultStaleAfter, cc.StaleAfter)
	assert.Equal(t, jobs.RiverConfig{DSN: "postgres://db", Workers: 5}, mapRiverConfig(cfg))

	oc := mapOpsConfig(cfg)
	assert.False(t, oc.Enabled)
	assert.Equal(t, config.DefaultOpsAddr, oc.Addr)
}

func TestApplyConfigHotReload(t *testing.T) {
	ctx := context.Background()
	st := storagetest.Open(t)
	fake := &transporttest.Fake{}
	dir := users.New(st, logx.Nop(), []int64{1})
	eng := delivery.New(fake, logx.Nop())
	q := jobs.NewCron(jobs.CronConfig{PollInterval: time.Hour}, st, logx.Nop())
	sched := scheduler.New(scheduler.Config{}, st, dir, eng, q, logx.Nop())
	mem := dialog.NewMemoryStore(time.Minute)
	ctl := dialog.New(fake, mem, dir, sched, eng, logx.Nop())
	logs, log := logx.New(logx.Config{Level: "error"}, fake)
	t.Cleanup(func() { _ = logs.Close() })

	a := &App{
		log:      log,
		logs:     logs,
		dir:      dir,
		sched:    sched,
		sessions: mem,
		dialogs:  ctl,
		bot:      bot.New(dir, st, ctl, logx.Nop(), time.UTC),
	}

	prev := baseConfig()
	next := baseConfig()
	next.Telegram.AdminUserIDs = []int64{1, 77}
	next.Scheduler.Timezone = "Europe/Moscow"
	next.Dialog.TTL = "5m"
	a.applyConfig(prev, next)

	role, err := dir.Role(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, storage.RoleAdmin, role)

	a.applyConfig(next, baseConfig())
	role, err = dir.Role(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, storage.RoleUser, role, "dropped admin ids lose the bootstrap grant")
}

func TestActiveTasksGauge(t *testing.T) {
	a := &App{}
	assert.Zero(t, a.activeTasks())

	a.sup = rtsup.New(context.Background())
	release := make(chan struct{})
	a.sup.Go0("delivery", func(ctx context.Context) { <-release })
	assert.Equal(t, float64(1), a.activeTasks())

	close(release)
	require.NoError(t, a.sup.Wait(context.Background()))
	assert.Zero(t, a.activeTasks())
}
