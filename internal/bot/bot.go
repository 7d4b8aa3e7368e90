// Package bot defines the chat commands and wires the dialog flows into the
// router.
package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"broadcastbot/internal/dialog"
	"broadcastbot/internal/storage"
	kit "broadcastbot/internal/transport"
	"broadcastbot/internal/transport/telegram/router"
	"broadcastbot/internal/users"
	logx "broadcastbot/pkg/logx"
	"broadcastbot/pkg/tgui"
)

const (
	textAdminPanel     = "Панель администратора"
	textModeratorPanel = "Панель модератора"
	textSubscribed     = "Вы подписались на рассылку"
	textNoPending      = "Нет запланированных рассылок"
	textPendingLine    = "Модератор: %d | Запланированное время: %s"
)

type Directory interface {
	Register(ctx context.Context, id int64, username string) (*storage.User, error)
	Counts(ctx context.Context) (users.Counts, error)
}

type Broadcasts interface {
	ListPendingBroadcasts(ctx context.Context) ([]storage.Broadcast, error)
}

// Dialogs is the part of dialog.Controller the commands drive.
type Dialogs interface {
	StartCompose(ctx context.Context, m *kit.Message) error
	StartRoleChange(ctx context.Context, m *kit.Message) error
	Cancel(ctx context.Context, m *kit.Message) error
	HandleMessage(ctx context.Context, m *kit.Message) (bool, error)
	HandleCallback(ctx context.Context, cb *kit.Callback) (bool, error)
}

type Bot struct {
	dir        Directory
	broadcasts Broadcasts
	dialogs    Dialogs
	log        logx.Logger

	mu  sync.RWMutex
	loc *time.Location
}

func New(dir Directory, broadcasts Broadcasts, dialogs Dialogs, log logx.Logger, loc *time.Location) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Bot{dir: dir, broadcasts: broadcasts, dialogs: dialogs, log: log.With(logx.String("comp", "bot")), loc: loc}
}

// SetLocation changes the zone scheduled times are shown in.
func (b *Bot) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	b.mu.Lock()
	b.loc = loc
	b.mu.Unlock()
}

func (b *Bot) location() *time.Location {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loc
}

// Register installs commands, callback routes and the dialog fallback.
func (b *Bot) Register(r *router.Router) {
	r.SetRegistry(b.Commands(), b.Callbacks())
	r.SetFallback(b.onMessage)
}

func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "подписаться на рассылку", Access: router.AccessEveryone, Handle: b.start},
		{Name: "cancel", Description: "отменить текущее действие", Access: router.AccessEveryone, Handle: b.cancel},
		{Name: "broadcast", Description: "создать рассылку", Access: router.AccessModerator, Handle: b.broadcast},
		{Name: "all_users", Description: "пользователи по ролям", Access: router.AccessAdmin, Handle: b.allUsers},
		{Name: "all_broadcasts", Description: "запланированные рассылки", Access: router.AccessAdmin, Handle: b.allBroadcasts},
		{Name: "give_role", Description: "изменить роль пользователя", Access: router.AccessAdmin, Handle: b.giveRole},
	}
}

func (b *Bot) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Prefix: "broadcast_", Access: router.AccessModerator, Handle: b.onCallback},
		{Prefix: "schedule_", Access: router.AccessModerator, Handle: b.onCallback},
		{Prefix: dialog.CbRolePrefix, Access: router.AccessAdmin, Handle: b.onCallback},
	}
}

func (b *Bot) start(ctx context.Context, req *router.Request) error {
	m := req.Message()
	u, err := b.dir.Register(ctx, m.FromID, m.FromUsername)
	if err != nil {
		return err
	}
	switch u.Role {
	case storage.RoleAdmin:
		kb := tgui.ReplyKeyboard([]string{"/all_users", "/all_broadcasts", "/give_role"}, 2, 1)
		return req.Reply(ctx, textAdminPanel, &kit.SendOptions{ReplyMarkupAdapter: kb})
	case storage.RoleModerator:
		kb := tgui.ReplyKeyboard([]string{"/broadcast"}, 1)
		return req.Reply(ctx, textModeratorPanel, &kit.SendOptions{ReplyMarkupAdapter: kb})
	}
	return req.Reply(ctx, textSubscribed, nil)
}

func (b *Bot) cancel(ctx context.Context, req *router.Request) error {
	return b.dialogs.Cancel(ctx, req.Message())
}

func (b *Bot) broadcast(ctx context.Context, req *router.Request) error {
	return b.dialogs.StartCompose(ctx, req.Message())
}

func (b *Bot) giveRole(ctx context.Context, req *router.Request) error {
	return b.dialogs.StartRoleChange(ctx, req.Message())
}

// UsersReport renders the per-role tally, total first.
func UsersReport(c users.Counts) string {
	lines := []string{fmt.Sprintf("total: %d", c.Total)}
	for _, r := range []storage.Role{storage.RoleUser, storage.RoleModerator, storage.RoleAdmin} {
		lines = append(lines, fmt.Sprintf("%s: %d", r, c.ByRole[r]))
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) allUsers(ctx context.Context, req *router.Request) error {
	c, err := b.dir.Counts(ctx)
	if err != nil {
		return err
	}
	return req.Reply(ctx, UsersReport(c), nil)
}

// PendingReport renders one line per pending broadcast in loc.
func PendingReport(list []storage.Broadcast, loc *time.Location) string {
	lines := make([]string, 0, len(list))
	for _, br := range list {
		at := "-"
		if br.ScheduledTime != nil {
			at = dialog.FormatLocalTime(*br.ScheduledTime, loc)
		}
		lines = append(lines, fmt.Sprintf(textPendingLine, br.CreatedBy, at))
	}
	if len(lines) == 0 {
		return textNoPending
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) allBroadcasts(ctx context.Context, req *router.Request) error {
	list, err := b.broadcasts.ListPendingBroadcasts(ctx)
	if err != nil {
		return err
	}
	return req.Reply(ctx, PendingReport(list, b.location()), nil)
}

// onMessage feeds plain messages to an open dialog. Messages outside a dialog
// are ignored.
func (b *Bot) onMessage(ctx context.Context, req *router.Request) error {
	handled, err := b.dialogs.HandleMessage(ctx, req.Message())
	if err == nil && !handled {
		req.Logger.Debug("message outside dialog ignored")
	}
	return err
}

func (b *Bot) onCallback(ctx context.Context, req *router.Request) error {
	handled, err := b.dialogs.HandleCallback(ctx, req.Callback())
	if err == nil && !handled {
		req.Logger.Debug("stale callback ignored")
	}
	return err
}
