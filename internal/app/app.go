// Package app wires the bot together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"broadcastbot/internal/bot"
	"broadcastbot/internal/config"
	"broadcastbot/internal/delivery"
	"broadcastbot/internal/dialog"
	"broadcastbot/internal/eventbus"
	"broadcastbot/internal/jobs"
	"broadcastbot/internal/observability/ops"
	rtsup "broadcastbot/internal/runtime/supervisor"
	"broadcastbot/internal/scheduler"
	"broadcastbot/internal/storage"
	kit "broadcastbot/internal/transport"
	telegram "broadcastbot/internal/transport/telegram/adapter"
	"broadcastbot/internal/transport/telegram/router"
	"broadcastbot/internal/users"
	logx "broadcastbot/pkg/logx"
	"broadcastbot/pkg/systemd"
)

// ttlSetter is implemented by both dialog session stores.
type ttlSetter interface {
	SetTTL(time.Duration)
}

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.Bus

	store *storage.Store
	queue jobs.Queue
	rdb   *redis.Client

	adapter  *telegram.Adapter
	dir      *users.Directory
	sched    *scheduler.Scheduler
	sessions ttlSetter
	dialogs  *dialog.Controller
	bot      *bot.Bot
	router   *router.Router
	ops      *ops.Server

	updates chan kit.Update
}

// New loads the config and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (_ *App, err error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	d, err := cfg.Durations()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: d.PollTimeout,
	}, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// Apply warns when the telegram sink is on without a target, so boot with
	// it off, set the target, then apply the real config.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, root := logx.New(bootCfg, ad)
	if chatID, ok, _ := cfg.GroupLogChat(); ok {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(logCfg)
	log := root.With(logx.String("comp", "app"))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}
	defer func() {
		if err != nil {
			if a.queue != nil {
				_ = a.queue.Stop(ctx)
			}
			a.closeResources()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "broadcastbot",
		Name:      "supervised_tasks",
		Help:      "Goroutines currently owned by the app supervisor.",
	}, a.activeTasks))

	a.bus = eventbus.New(root, 128)

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a.store, err = storage.Open(ctx, sc, root); err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", a.store.Driver()))

	if a.queue, err = openQueue(ctx, cfg, a.store, root); err != nil {
		return nil, err
	}

	eng := delivery.New(ad, root,
		delivery.WithMetrics(delivery.NewMetrics(reg)),
		delivery.WithAudit(a.store),
		delivery.WithEvents(a.bus),
	)
	a.dir = users.New(a.store, root, cfg.Telegram.AdminUserIDs, users.WithEvents(a.bus))
	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.store, a.dir, eng, a.queue, root, scheduler.WithEvents(a.bus))

	sessions, err := a.openSessions(ctx, cfg, d.DialogTTL)
	if err != nil {
		return nil, err
	}
	a.dialogs = dialog.New(ad, sessions, a.dir, a.sched, eng, root,
		dialog.WithLocation(loc),
		dialog.WithSpawner(a.spawn),
	)
	a.bot = bot.New(a.dir, a.store, a.dialogs, root, loc)
	a.router = router.New(router.Config{Workers: cfg.Telegram.Workers}, ad, a.dir, root)
	a.bot.Register(a.router)

	a.ops = ops.New(mapOpsConfig(cfg), reg, root)
	a.ops.AddCheck("storage", func(ctx context.Context) error { return a.store.DB().PingContext(ctx) })
	if a.rdb != nil {
		a.ops.AddCheck("redis", func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() })
	}
	return a, nil
}

// openQueue picks river on postgres and the polled job table on sqlite.
func openQueue(ctx context.Context, cfg *config.Config, store *storage.Store, log logx.Logger) (jobs.Queue, error) {
	if store.Driver() != storage.DriverPostgres {
		cc, err := mapCronConfig(cfg)
		if err != nil {
			return nil, err
		}
		return jobs.NewCron(cc, store, log), nil
	}
	q, err := jobs.NewRiver(ctx, mapRiverConfig(cfg), log)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate() {
		if err := q.Migrate(ctx); err != nil {
			_ = q.Stop(ctx)
			return nil, err
		}
	}
	return q, nil
}

func (a *App) openSessions(ctx context.Context, cfg *config.Config, ttl time.Duration) (dialog.Store, error) {
	if cfg.DialogStore() != "redis" {
		s := dialog.NewMemoryStore(ttl)
		a.sessions = s
		return s, nil
	}
	a.rdb = redis.NewClient(&redis.Options{
		Addr:     cfg.Dialog.RedisAddr,
		Password: cfg.Dialog.RedisPassword,
		DB:       cfg.Dialog.RedisDB,
	})
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	s := dialog.NewRedisStore(a.rdb, "", ttl)
	a.sessions = s
	a.log.Info("dialog sessions in redis", logx.String("addr", cfg.Dialog.RedisAddr))
	return s, nil
}

// spawn runs long dialog work (deliveries) off the chat shard, owned by the
// app supervisor so shutdown waits for it.
// activeTasks is read by the metrics endpoint, which starts after a.sup is set.
func (a *App) activeTasks() float64 {
	if a.sup == nil {
		return 0
	}
	return float64(a.sup.Active())
}

func (a *App) spawn(name string, fn func(ctx context.Context) error) {
	run := func(ctx context.Context) {
		if err := fn(ctx); err != nil {
			a.log.Warn("background task failed", logx.String("name", name), logx.Err(err))
		}
	}
	if a.sup == nil {
		go run(context.Background())
		return
	}
	a.sup.Go0(name, run)
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log)
	run := a.sup.Context()

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	if err := a.sched.Start(run); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.subscribeEvents(run)

	if err := a.router.PublishMenu(run); err != nil {
		a.log.Warn("publish command menu failed", logx.Err(err))
	}
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.ops.Start(run)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", func(c context.Context) error { return systemd.Watchdog(c) })

	a.log.Info("app started")
	return nil
}

// subscribeEvents logs domain events; other consumers subscribe on their own.
func (a *App) subscribeEvents(ctx context.Context) {
	topics := []string{eventbus.TopicDeliveryCompleted, eventbus.TopicBroadcastScheduled, eventbus.TopicRoleChanged}
	for _, topic := range topics {
		err := a.bus.Subscribe(ctx, topic, func(_ context.Context, e eventbus.Event) error {
			a.log.Info("event", logx.String("type", e.Type), logx.String("data", string(e.Data)))
			return nil
		})
		if err != nil {
			a.log.Warn("event subscribe failed", logx.String("topic", topic), logx.Err(err))
		}
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Keep only the newest of a burst.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

// applyConfig hot-applies what can change live and warns about the rest.
func (a *App) applyConfig(prev, next *config.Config) {
	ch := config.Diff(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, r := range ch.Restart {
		a.log.Warn("config change needs restart", logx.String("setting", r))
	}

	if chatID, ok, _ := next.GroupLogChat(); ok {
		a.logs.SetTelegramTarget(chatID, next.Logging.Telegram.ThreadID)
	} else {
		a.logs.SetTelegramTarget(0, 0)
	}
	a.logs.Apply(mapLogConfig(next))

	a.dir.SetBootstrapAdmins(next.Telegram.AdminUserIDs)
	a.sched.Apply(mapSchedulerConfig(next))
	if loc, err := next.Location(); err == nil {
		a.dialogs.SetLocation(loc)
		a.bot.SetLocation(loc)
	}
	if d, err := next.Durations(); err == nil {
		a.sessions.SetTTL(d.DialogTTL)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- fn(stepCtx) }()
		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 3*time.Second, a.sched.Stop)
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	// Deliveries and the dispatcher unwind here before storage closes.
	step("supervisor", 5*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.DeadlineExceeded) {
			a.log.Warn("supervised tasks still running", logx.Int64("active", a.sup.Active()))
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	a.closeResources()
	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}

// closeResources releases connections; safe on a partly built App.
func (a *App) closeResources() {
	if a.bus != nil {
		_ = a.bus.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
}
