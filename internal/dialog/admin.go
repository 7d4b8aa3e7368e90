package dialog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"broadcastbot/internal/storage"
	kit "broadcastbot/internal/transport"
	logx "broadcastbot/pkg/logx"
)

// StartRoleChange opens the role change flow in the chat of m.
func (c *Controller) StartRoleChange(ctx context.Context, m *kit.Message) error {
	if err := c.store.Put(ctx, m.ChatID, Session{State: StateAwaitingUserID, OwnerID: m.FromID}); err != nil {
		return err
	}
	return c.reply(ctx, m, textAskUserID, &kit.SendOptions{ReplyMarkupAdapter: removeKeyboard()})
}

// parseUserID accepts decimal digits only.
func parseUserID(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (c *Controller) onUserID(ctx context.Context, m *kit.Message, s Session) error {
	id, ok := parseUserID(m.Text)
	if !ok || m.Media != kit.MediaNone {
		return c.reply(ctx, m, textBadUserID, nil)
	}
	s.State = StateAwaitingRoleChoice
	s.TargetUserID = id
	if err := c.store.Put(ctx, m.ChatID, s); err != nil {
		return err
	}
	return c.reply(ctx, m, fmt.Sprintf(textChooseRole, id), &kit.SendOptions{ReplyMarkupAdapter: roleKeyboard()})
}

func (c *Controller) onRoleChoice(ctx context.Context, cb *kit.Callback, s Session) error {
	c.finish(ctx, cb.ChatID)
	if cb.Data == CbRoleCancel {
		return c.edit(ctx, cb, textRoleCancel)
	}
	token := strings.TrimPrefix(cb.Data, CbRolePrefix)
	role, err := c.dir.SetRole(ctx, s.TargetUserID, token)
	if err != nil {
		c.log.Info("role change rejected",
			logx.Int64("actor_id", cb.FromID),
			logx.Int64("user_id", s.TargetUserID),
			logx.String("role", token),
			logx.Err(err))
		return c.edit(ctx, cb, fmt.Sprintf(textRoleFailed, roleFailReason(err)))
	}
	return c.edit(ctx, cb, fmt.Sprintf(textRoleChanged, s.TargetUserID, role))
}

func roleFailReason(err error) string {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return textUnknownUser
	case errors.Is(err, storage.ErrInvalidRole):
		return textUnknownRole
	case errors.Is(err, storage.ErrRoleLocked):
		return textRoleLocked
	}
	return textInternalFailed
}
