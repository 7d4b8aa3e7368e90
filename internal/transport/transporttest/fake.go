// Package transporttest provides a recording transport.Adapter for tests.
package transporttest

import (
	"context"
	"sync"

	kit "broadcastbot/internal/transport"
)

// Sent is one outgoing message recorded by Fake.
type Sent struct {
	To      kit.ChatTarget
	Text    string // text body or caption
	Media   kit.MediaKind
	FileID  string
	Options *kit.SendOptions
	Ref     kit.MessageRef
}

// Edit is one recorded edit or callback answer.
type Edit struct {
	Op         string // "text", "caption" or "alert"
	Ref        kit.MessageRef
	CallbackID string
	Text       string
}

// Fake records everything sent through it. The func fields inject failures;
// nil means success.
type Fake struct {
	SendErr        func(chatID int64) error
	EditTextErr    func(ref kit.MessageRef) error
	EditCaptionErr func(ref kit.MessageRef) error
	AnswerErr      func(callbackID string) error

	mu      sync.Mutex
	nextID  int
	sent    []Sent
	edits   []Edit
	answers []Edit
	shown   []shown
}

type shown struct {
	chatID int64
	text   string
}

var _ kit.Adapter = (*Fake)(nil)

func (f *Fake) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *Fake) Stop(context.Context) error                     { return nil }

func (f *Fake) record(to kit.ChatTarget, s Sent) (kit.MessageRef, error) {
	if f.SendErr != nil {
		if err := f.SendErr(to.ChatID); err != nil {
			return kit.MessageRef{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s.To = to
	s.Ref = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: f.nextID}
	f.sent = append(f.sent, s)
	f.shown = append(f.shown, shown{chatID: to.ChatID, text: s.Text})
	return s.Ref, nil
}

func (f *Fake) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return f.record(to, Sent{Text: text, Options: opt})
}

func (f *Fake) SendMedia(_ context.Context, to kit.ChatTarget, m kit.Media, opt *kit.SendOptions) (kit.MessageRef, error) {
	return f.record(to, Sent{Text: m.Caption, Media: m.Kind, FileID: m.FileID, Options: opt})
}

func (f *Fake) EditText(_ context.Context, ref kit.MessageRef, text string, _ *kit.SendOptions) error {
	if f.EditTextErr != nil {
		if err := f.EditTextErr(ref); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.edits = append(f.edits, Edit{Op: "text", Ref: ref, Text: text})
	f.shown = append(f.shown, shown{chatID: ref.ChatID, text: text})
	f.mu.Unlock()
	return nil
}

func (f *Fake) EditCaption(_ context.Context, ref kit.MessageRef, caption string, _ *kit.SendOptions) error {
	if f.EditCaptionErr != nil {
		if err := f.EditCaptionErr(ref); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.edits = append(f.edits, Edit{Op: "caption", Ref: ref, Text: caption})
	f.shown = append(f.shown, shown{chatID: ref.ChatID, text: caption})
	f.mu.Unlock()
	return nil
}

func (f *Fake) AnswerCallback(_ context.Context, id string, text string, alert bool) error {
	if f.AnswerErr != nil {
		if err := f.AnswerErr(id); err != nil {
			return err
		}
	}
	op := "answer"
	if alert {
		op = "alert"
	}
	f.mu.Lock()
	f.answers = append(f.answers, Edit{Op: op, CallbackID: id, Text: text})
	f.mu.Unlock()
	return nil
}

// Sent returns a copy of every recorded outgoing message.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// SentTo returns the messages addressed to chatID.
func (f *Fake) SentTo(chatID int64) []Sent {
	var out []Sent
	for _, s := range f.Sent() {
		if s.To.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

func (f *Fake) Edits() []Edit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Edit(nil), f.edits...)
}

func (f *Fake) Answers() []Edit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Edit(nil), f.answers...)
}

// LastText returns the most recent text shown in chatID, sent or edited.
func (f *Fake) LastText(chatID int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.shown) - 1; i >= 0; i-- {
		if f.shown[i].chatID == chatID {
			return f.shown[i].text
		}
	}
	return ""
}
