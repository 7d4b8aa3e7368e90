// Package dialog runs the per-chat conversations: the moderator compose and
// schedule flow and the admin role change flow.
//
// The controller owns a Store keyed by chat id. Updates for one chat are
// expected to arrive in order (the router shards by chat), so handlers read,
// decide and write the session without extra locking.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"broadcastbot/internal/content"
	"broadcastbot/internal/delivery"
	"broadcastbot/internal/storage"
	kit "broadcastbot/internal/transport"
	logx "broadcastbot/pkg/logx"
)

// UI is the transport surface the dialogs talk through.
type UI interface {
	delivery.Editor
	SendMedia(ctx context.Context, to kit.ChatTarget, m kit.Media, opt *kit.SendOptions) (kit.MessageRef, error)
}

type Directory interface {
	Register(ctx context.Context, id int64, username string) (*storage.User, error)
	Roster(ctx context.Context) ([]int64, error)
	SetRole(ctx context.Context, id int64, token string) (storage.Role, error)
}

type Scheduler interface {
	Arm(ctx context.Context, p content.Payload, runAt time.Time, requester int64) (*storage.Broadcast, error)
	RecordImmediate(ctx context.Context, p content.Payload, requester int64, res delivery.Result) (*storage.Broadcast, error)
}

type Deliverer interface {
	DeliverInteractive(ctx context.Context, ed delivery.Editor, t delivery.Target, run delivery.Run, p content.Payload, recipients []int64) (delivery.Result, error)
}

// Spawner runs fn outside the update loop. A nil Spawner runs inline.
type Spawner func(name string, fn func(ctx context.Context) error)

type Controller struct {
	ui    UI
	store Store
	dir   Directory
	sched Scheduler
	eng   Deliverer
	log   logx.Logger
	spawn Spawner

	mu  sync.RWMutex
	loc *time.Location
	now func() time.Time
}

type Option func(*Controller)

// WithLocation sets the zone custom times are read and shown in.
func WithLocation(loc *time.Location) Option {
	return func(c *Controller) {
		if loc != nil {
			c.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

func WithSpawner(s Spawner) Option { return func(c *Controller) { c.spawn = s } }

func New(ui UI, store Store, dir Directory, sched Scheduler, eng Deliverer, log logx.Logger, opts ...Option) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Controller{
		ui:    ui,
		store: store,
		dir:   dir,
		sched: sched,
		eng:   eng,
		log:   log.With(logx.String("comp", "dialog")),
		loc:   time.Local,
		now:   time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetLocation swaps the display zone on config reload.
func (c *Controller) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	c.mu.Lock()
	c.loc = loc
	c.mu.Unlock()
}

func (c *Controller) location() *time.Location {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loc
}

// SessionState returns the current state of chatID, idle when none.
func (c *Controller) SessionState(ctx context.Context, chatID int64) (State, error) {
	s, ok, err := c.store.Get(ctx, chatID)
	if err != nil || !ok {
		return StateIdle, err
	}
	return s.State, nil
}

// Cancel drops any session in the chat of m.
func (c *Controller) Cancel(ctx context.Context, m *kit.Message) error {
	_, ok, err := c.store.Get(ctx, m.ChatID)
	if err != nil {
		return err
	}
	text := TextNothingToCancel
	if ok {
		if err := c.store.Delete(ctx, m.ChatID); err != nil {
			return err
		}
		text = TextCanceled
		c.log.Debug("dialog canceled", logx.Int64("chat_id", m.ChatID))
	}
	_, err = c.ui.SendText(ctx, chatOf(m), text, &kit.SendOptions{ReplyMarkupAdapter: removeKeyboard()})
	return err
}

// HandleMessage feeds a non-command message to the chat's session. It reports
// false when no session wants the message.
func (c *Controller) HandleMessage(ctx context.Context, m *kit.Message) (bool, error) {
	s, ok, err := c.store.Get(ctx, m.ChatID)
	if err != nil || !ok {
		return false, err
	}
	if s.OwnerID != 0 && s.OwnerID != m.FromID {
		return false, nil
	}
	switch s.State {
	case StateComposing:
		return true, c.onContent(ctx, m, s)
	case StateEnteringCustomTime:
		return true, c.onCustomTime(ctx, m, s)
	case StateAwaitingUserID:
		return true, c.onUserID(ctx, m, s)
	}
	return false, nil
}

// HandleCallback handles a button press. It reports false for presses that do
// not match the chat's current step, stale keyboards included.
func (c *Controller) HandleCallback(ctx context.Context, cb *kit.Callback) (bool, error) {
	s, ok, err := c.store.Get(ctx, cb.ChatID)
	if err != nil || !ok {
		return false, err
	}
	if s.OwnerID != 0 && s.OwnerID != cb.FromID {
		return false, nil
	}
	switch {
	case s.State == StateConfirming && strings.HasPrefix(cb.Data, "broadcast_"):
		return true, c.onConfirmChoice(ctx, cb, s)
	case s.State == StateChoosingSchedule && strings.HasPrefix(cb.Data, "schedule_"):
		return true, c.onScheduleChoice(ctx, cb, s)
	case s.State == StateAwaitingRoleChoice && strings.HasPrefix(cb.Data, CbRolePrefix):
		return true, c.onRoleChoice(ctx, cb, s)
	}
	return false, nil
}

func (c *Controller) reply(ctx context.Context, m *kit.Message, text string, opt *kit.SendOptions) error {
	_, err := c.ui.SendText(ctx, chatOf(m), text, opt)
	return err
}

// edit shows text on the pressed message through the fallback chain.
func (c *Controller) edit(ctx context.Context, cb *kit.Callback, text string) error {
	tier, err := delivery.SafeEdit(ctx, c.ui, c.log, targetOf(cb), text, nil)
	if err != nil {
		return fmt.Errorf("show %q: %w", text, err)
	}
	if tier > delivery.TierEditText {
		c.log.Debug("edit degraded", logx.String("tier", tier.String()), logx.Int64("chat_id", cb.ChatID))
	}
	return nil
}

func (c *Controller) finish(ctx context.Context, chatID int64) {
	if err := c.store.Delete(ctx, chatID); err != nil {
		c.log.Warn("session delete failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

// finishSending ends a send-now session. A flow started while the run was
// in flight replaced the session and is kept.
func (c *Controller) finishSending(ctx context.Context, chatID int64) {
	s, ok, err := c.store.Get(ctx, chatID)
	if err != nil {
		c.log.Warn("session load failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return
	}
	if ok && s.State == StateSending {
		c.finish(ctx, chatID)
	}
}

func chatOf(m *kit.Message) kit.ChatTarget {
	return kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
}

func cbChat(cb *kit.Callback) kit.ChatTarget {
	return kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
}

func targetOf(cb *kit.Callback) delivery.Target {
	return delivery.Target{
		Ref:        kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID},
		CallbackID: cb.ID,
	}
}

var errNoSession = errors.New("dialog: session lost")
