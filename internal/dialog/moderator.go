package dialog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"broadcastbot/internal/content"
	"broadcastbot/internal/delivery"
	"broadcastbot/internal/storage"
	kit "broadcastbot/internal/transport"
	logx "broadcastbot/pkg/logx"
)

// StartCompose opens the compose flow in the chat of m. A flow already in
// progress is replaced.
func (c *Controller) StartCompose(ctx context.Context, m *kit.Message) error {
	// Broadcast rows reference the author, and configured admins may never
	// have sent /start.
	if _, err := c.dir.Register(ctx, m.FromID, m.FromUsername); err != nil {
		return fmt.Errorf("register author: %w", err)
	}
	if err := c.store.Put(ctx, m.ChatID, Session{State: StateComposing, OwnerID: m.FromID}); err != nil {
		return err
	}
	return c.reply(ctx, m, textComposeIntro, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
}

func payloadOf(m *kit.Message) content.Payload {
	kind := content.KindText
	if m.Media != kit.MediaNone {
		kind = content.Kind(m.Media)
	}
	return content.Parse(m.Text, kind, m.MediaID)
}

// invalidReason is the short user-facing form of a payload validation error.
func invalidReason(err error) string {
	switch {
	case errors.Is(err, content.ErrEmptyPayload):
		return "пустое сообщение"
	case errors.Is(err, content.ErrTextTooLong):
		return "слишком длинный текст"
	case errors.Is(err, content.ErrInvalidButton):
		return "неверная кнопка"
	}
	return "неподдерживаемый формат"
}

func (c *Controller) onContent(ctx context.Context, m *kit.Message, s Session) error {
	p := payloadOf(m)
	if err := p.Validate(); err != nil {
		c.log.Debug("content rejected", logx.Int64("chat_id", m.ChatID), logx.Err(err))
		return c.reply(ctx, m, fmt.Sprintf(textInvalidContent, invalidReason(err)), nil)
	}
	if err := c.showPreview(ctx, m, p); err != nil {
		c.log.Warn("preview failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
		return c.reply(ctx, m, textPreviewFailed, nil)
	}
	s.State = StateConfirming
	s.Payload = &p
	return c.store.Put(ctx, m.ChatID, s)
}

func (c *Controller) showPreview(ctx context.Context, m *kit.Message, p content.Payload) error {
	opt := &kit.SendOptions{ParseMode: "HTML", ReplyMarkupAdapter: confirmKeyboard()}
	if p.Kind == content.KindText {
		_, err := c.ui.SendText(ctx, chatOf(m), textPreview(p), opt)
		return err
	}
	_, err := c.ui.SendMedia(ctx, chatOf(m), kit.Media{Kind: kit.MediaKind(p.Kind), FileID: p.MediaRef, Caption: mediaPreview(p)}, opt)
	return err
}

func (c *Controller) onConfirmChoice(ctx context.Context, cb *kit.Callback, s Session) error {
	if s.Payload == nil {
		c.finish(ctx, cb.ChatID)
		return errNoSession
	}
	switch cb.Data {
	case CbBroadcastConfirm:
		return c.sendNow(ctx, cb, s)
	case CbBroadcastSchedule:
		s.State = StateChoosingSchedule
		if err := c.store.Put(ctx, cb.ChatID, s); err != nil {
			return err
		}
		_, err := c.ui.SendText(ctx, cbChat(cb), textChooseTime, &kit.SendOptions{ReplyMarkupAdapter: scheduleKeyboard()})
		return err
	case CbBroadcastEdit:
		prompt := textEditText
		if s.Payload.Kind != content.KindText {
			prompt = textEditMedia
		}
		s.State = StateComposing
		if err := c.store.Put(ctx, cb.ChatID, s); err != nil {
			return err
		}
		_, err := c.ui.SendText(ctx, cbChat(cb), prompt, nil)
		return err
	case CbBroadcastCancel:
		c.finish(ctx, cb.ChatID)
		return c.edit(ctx, cb, textBroadcastCancel)
	}
	return nil
}

// sendNow delivers the confirmed payload to the whole roster. The session
// stays in StateSending until the run ends so repeated presses are ignored.
func (c *Controller) sendNow(ctx context.Context, cb *kit.Callback, s Session) error {
	s.State = StateSending
	if err := c.store.Put(ctx, cb.ChatID, s); err != nil {
		return err
	}
	p := *s.Payload
	actor := cb.FromID
	run := func(ctx context.Context) error {
		defer c.finishSending(context.WithoutCancel(ctx), cb.ChatID)
		recipients, err := c.dir.Roster(ctx)
		if err != nil {
			_ = c.edit(ctx, cb, textDeliveryFailed)
			return fmt.Errorf("load roster: %w", err)
		}
		res, runErr := c.eng.DeliverInteractive(ctx, c.ui, targetOf(cb),
			delivery.Run{ActorID: actor, Kind: storage.AuditImmediate}, p, recipients)
		if b, err := c.sched.RecordImmediate(context.WithoutCancel(ctx), p, actor, res); err != nil {
			c.log.Warn("immediate broadcast not recorded", logx.Err(err))
		} else if b != nil {
			c.log.Debug("immediate broadcast recorded", logx.Int64("broadcast_id", b.ID))
		}
		return runErr
	}
	if c.spawn == nil {
		return run(ctx)
	}
	c.spawn("dialog.send_now", run)
	return nil
}

func (c *Controller) onScheduleChoice(ctx context.Context, cb *kit.Callback, s Session) error {
	now := c.now()
	var runAt time.Time
	switch cb.Data {
	case CbSchedule1h:
		runAt = now.Add(time.Hour)
	case CbSchedule3h:
		runAt = now.Add(3 * time.Hour)
	case CbScheduleTomorrow:
		runAt = now.AddDate(0, 0, 1)
	case CbScheduleCustom:
		s.State = StateEnteringCustomTime
		if err := c.store.Put(ctx, cb.ChatID, s); err != nil {
			return err
		}
		_, err := c.ui.SendText(ctx, cbChat(cb), textEnterCustomTime, nil)
		return err
	case CbScheduleCancel:
		c.finish(ctx, cb.ChatID)
		return c.edit(ctx, cb, textScheduleCancel)
	default:
		return nil
	}

	b, err := c.arm(ctx, cb.ChatID, s, runAt)
	if err != nil {
		_ = c.edit(ctx, cb, textScheduleFailed)
		return err
	}
	return c.edit(ctx, cb, fmt.Sprintf(textScheduled, FormatLocalTime(runAt, c.location()), b.ID))
}

func (c *Controller) onCustomTime(ctx context.Context, m *kit.Message, s Session) error {
	if m.Media != kit.MediaNone {
		return c.reply(ctx, m, textBadTimeFormat, nil)
	}
	loc := c.location()
	runAt, err := ParseLocalTime(m.Text, loc)
	if err != nil {
		return c.reply(ctx, m, textBadTimeFormat, nil)
	}
	if !runAt.After(c.now()) {
		return c.reply(ctx, m, textPastTime, nil)
	}
	b, err := c.arm(ctx, m.ChatID, s, runAt)
	if err != nil {
		_ = c.reply(ctx, m, textScheduleFailed, nil)
		return err
	}
	return c.reply(ctx, m, fmt.Sprintf(textScheduled, FormatLocalTime(runAt, loc), b.ID), nil)
}

// arm hands the payload to the scheduler and ends the session either way.
// A broadcast that was persisted but not armed counts as scheduled: Reconcile
// arms it on the next start.
func (c *Controller) arm(ctx context.Context, chatID int64, s Session, runAt time.Time) (*storage.Broadcast, error) {
	defer c.finish(ctx, chatID)
	if s.Payload == nil {
		return nil, errNoSession
	}
	b, err := c.sched.Arm(ctx, *s.Payload, runAt, s.OwnerID)
	if err != nil && b == nil {
		return nil, err
	}
	if err != nil {
		c.log.Error("broadcast stored but not armed", logx.Int64("broadcast_id", b.ID), logx.Err(err))
	}
	return b, nil
}
