package delivery

import (
	"context"
	"errors"

	kit "broadcastbot/internal/transport"
	logx "broadcastbot/pkg/logx"
)

// Editor is the transport surface needed to update an interactive message.
type Editor interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error
	EditCaption(ctx context.Context, ref kit.MessageRef, caption string, opt *kit.SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string, alert bool) error
}

// Target is an interactive message, usually the one a button was pressed on.
type Target struct {
	Ref        kit.MessageRef
	CallbackID string
}

// Tier reports which step of SafeEdit got the text through.
type Tier int

const (
	TierNone Tier = iota
	TierEditText
	TierEditCaption
	TierAlert
	TierFreshMessage
)

func (t Tier) String() string {
	switch t {
	case TierEditText:
		return "edit_text"
	case TierEditCaption:
		return "edit_caption"
	case TierAlert:
		return "alert"
	case TierFreshMessage:
		return "fresh_message"
	}
	return "none"
}

// SafeEdit shows text on the target message. It edits the text body, then the
// caption (media messages), then answers the callback with an alert, and as
// the last resort sends a fresh message to the chat.
func SafeEdit(ctx context.Context, ed Editor, log logx.Logger, t Target, text string, opt *kit.SendOptions) (Tier, error) {
	var errs []error
	if t.Ref.MessageID != 0 {
		err := ed.EditText(ctx, t.Ref, text, opt)
		if err == nil {
			return TierEditText, nil
		}
		errs = append(errs, err)
		if err = ed.EditCaption(ctx, t.Ref, text, opt); err == nil {
			return TierEditCaption, nil
		}
		errs = append(errs, err)
	}
	if t.CallbackID != "" {
		err := ed.AnswerCallback(ctx, t.CallbackID, text, true)
		if err == nil {
			log.Debug("edit fell back to alert", logx.Err(errors.Join(errs...)))
			return TierAlert, nil
		}
		errs = append(errs, err)
	}
	if t.Ref.ChatID != 0 {
		_, err := ed.SendText(ctx, kit.ChatTarget{ChatID: t.Ref.ChatID, ThreadID: t.Ref.ThreadID}, text, opt)
		if err == nil {
			log.Debug("edit fell back to fresh message", logx.Err(errors.Join(errs...)))
			return TierFreshMessage, nil
		}
		errs = append(errs, err)
	}
	return TierNone, errors.Join(errs...)
}
