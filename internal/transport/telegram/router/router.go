// Package router turns transport updates into handler calls.
//
// Commands and callbacks are registered up front. Every request passes a
// role gate before its handler runs. Updates are spread over worker shards by
// chat id, so each chat is handled strictly in order while different chats
// run in parallel.
package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "broadcastbot/internal/runtime/supervisor"
	"broadcastbot/internal/storage"
	kit "broadcastbot/internal/transport"
	logx "broadcastbot/pkg/logx"
)

const (
	TextDenied  = "⛔ Недостаточно прав"
	textUnknown = "Неизвестная команда. Список команд: /help"
	textBusy    = "⏳ Бот занят, попробуйте позже"
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Access      Access
	// Hidden commands stay out of /help and the Telegram menu.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

// CallbackRoute handles every callback whose data starts with Prefix.
type CallbackRoute struct {
	Prefix  string
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	// Role is filled in by the access gate.
	Role    storage.Role
	ReqID   string
	Adapter kit.Adapter
	Logger  logx.Logger
}

// Message returns the message of a message update, or nil.
func (r *Request) Message() *kit.Message { return r.Update.Message }

// Callback returns the callback of a callback update, or nil.
func (r *Request) Callback() *kit.Callback { return r.Update.Callback }

// Reply sends text to the request chat.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, opt)
	return err
}

type Config struct {
	// Workers is the number of chat shards; default 4.
	Workers int
	// QueueSize bounds each shard's backlog; default 64.
	QueueSize int
	// Timeout applies to handlers without their own; zero means none.
	Timeout time.Duration
}

type Router struct {
	cfg     Config
	log     logx.Logger
	adapter kit.Adapter
	roles   RoleResolver

	mu        sync.RWMutex
	cmds      map[string]Command
	ordered   []Command
	callbacks []CallbackRoute
	fallback  HandlerFunc

	runMu   sync.Mutex
	running bool
	shards  []chan func()
}

func New(cfg Config, adapter kit.Adapter, roles RoleResolver, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Router{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "telegram.router")),
		adapter: adapter,
		roles:   roles,
		cmds:    map[string]Command{},
	}
}

// SetRegistry replaces the commands and callback routes. A /help command is
// always added.
func (m *Router) SetRegistry(cmds []Command, cbs []CallbackRoute) {
	cmds = append(cmds, Command{
		Name:        "help",
		Description: "список команд",
		Access:      AccessEveryone,
		Hidden:      true,
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Role), &kit.SendOptions{ParseMode: "HTML"})
		},
	})

	byName := make(map[string]Command, len(cmds))
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		byName[name] = c
		ordered = append(ordered, c)
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				byName[a] = c
			}
		}
	}
	routes := make([]CallbackRoute, 0, len(cbs))
	for _, r := range cbs {
		if r.Prefix == "" || r.Handle == nil {
			continue
		}
		routes = append(routes, r)
	}

	m.mu.Lock()
	m.cmds = byName
	m.ordered = ordered
	m.callbacks = routes
	m.mu.Unlock()
}

// SetFallback handles plain messages that are not commands.
func (m *Router) SetFallback(h HandlerFunc) {
	m.mu.Lock()
	m.fallback = h
	m.mu.Unlock()
}

// Commands returns the registered commands in registration order.
func (m *Router) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Command(nil), m.ordered...)
}

// PublishMenu pushes visible commands to the Telegram command menu.
func (m *Router) PublishMenu(ctx context.Context) error {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	return up.UpdateMenuCommands(ctx, buildMenuCommands(m.Commands()))
}

// DispatchLoop reads updates until ctx is done or the channel closes.
func (m *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log),
		rtsup.WithCancelOnError(false),
	)
	shards := make([]chan func(), m.cfg.Workers)
	for i := range shards {
		shards[i] = make(chan func(), m.cfg.QueueSize)
	}
	m.runMu.Lock()
	m.shards = shards
	m.running = true
	m.runMu.Unlock()

	for i, ch := range shards {
		idx, jobs := i, ch
		sup.GoRestart("router.shard."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-jobs:
					m.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
		)
	}
	m.log.Info("dispatcher started", logx.Int("shards", len(shards)), logx.Int("queue_cap", m.cfg.QueueSize))

	defer func() {
		m.runMu.Lock()
		m.running = false
		m.shards = nil
		m.runMu.Unlock()
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.Route(ctx, up)
		}
	}
}

func (m *Router) runJob(shard int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in router job", logx.Int("shard", shard), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

// enqueue puts job on the shard of chatID. Without a running loop the job runs
// inline, which keeps tests synchronous.
func (m *Router) enqueue(chatID int64, job func()) bool {
	m.runMu.Lock()
	running, shards := m.running, m.shards
	m.runMu.Unlock()
	if !running || len(shards) == 0 {
		m.runJob(-1, job)
		return true
	}
	idx := int(uint64(chatID) % uint64(len(shards)))
	select {
	case shards[idx] <- job:
		return true
	default:
		return false
	}
}

// Route dispatches one update.
func (m *Router) Route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(ctx, up)
	case kit.UpdateCallback:
		m.routeCallback(ctx, up)
	}
}

// parseCommand splits "/name@bot arg1 arg2". ok is false for plain text.
func parseCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := strings.Fields(text)
	name = strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), parts[1:], true
}

func (m *Router) newRequest(up kit.Update, chat kit.ChatTarget, from int64, command string) *Request {
	rid := uuid.NewString()
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Command: command,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
			logx.String("cmd", command),
		),
	}
}

func (m *Router) timeout(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return m.cfg.Timeout
}

func (m *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	name, args, isCmd := parseCommand(msg.Text)
	if !isCmd || msg.Media != kit.MediaNone {
		m.mu.RLock()
		fb := m.fallback
		m.mu.RUnlock()
		if fb == nil {
			return
		}
		req := m.newRequest(up, chat, msg.FromID, "")
		final := Chain(fb, MWPanicRecover(m.log), MWRequestLog(m.log), MWTimeout(m.cfg.Timeout))
		if !m.enqueue(msg.ChatID, func() { _ = final(ctx, req) }) {
			_, _ = m.adapter.SendText(ctx, chat, textBusy, nil)
		}
		return
	}

	m.mu.RLock()
	cmd, found := m.cmds[name]
	m.mu.RUnlock()
	if !found {
		_, _ = m.adapter.SendText(ctx, chat, textUnknown, nil)
		return
	}

	req := m.newRequest(up, chat, msg.FromID, cmd.Name)
	req.Args = args
	deny := func(ctx context.Context, req *Request) error {
		return req.Reply(ctx, TextDenied, nil)
	}
	final := Chain(cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWAccess(m.roles, cmd.Access, deny),
		MWTimeout(m.timeout(cmd.Timeout)),
	)
	if !m.enqueue(msg.ChatID, func() { _ = final(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, chat, textBusy, nil)
	}
}

func (m *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	data := strings.TrimSpace(cb.Data)

	var route CallbackRoute
	found := false
	m.mu.RLock()
	for _, r := range m.callbacks {
		if strings.HasPrefix(data, r.Prefix) {
			route, found = r, true
			break
		}
	}
	m.mu.RUnlock()
	if !found {
		// Payload buttons carry arbitrary action tokens; just stop the spinner.
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "", false)
		return
	}

	chat := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	req := m.newRequest(up, chat, cb.FromID, "cb:"+data)
	deny := func(ctx context.Context, req *Request) error {
		return m.adapter.AnswerCallback(ctx, cb.ID, TextDenied, true)
	}
	final := Chain(route.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWAccess(m.roles, route.Access, deny),
		MWTimeout(m.timeout(route.Timeout)),
	)
	if !m.enqueue(cb.ChatID, func() {
		_ = final(ctx, req)
		// Best effort: fails harmlessly when the handler already answered.
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "", false)
	}) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, textBusy, false)
	}
}
