package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline is a small builder for inline keyboards.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a row of buttons.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	if len(btn) == 0 {
		return i
	}
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Markup returns the underlying reply markup, or nil when no rows were added.
func (i *Inline) Markup() *tele.ReplyMarkup {
	if len(i.rows) == 0 {
		return nil
	}
	return i.rm
}

// Btn creates a callback button with raw callback data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// URLBtn creates a URL button.
func URLBtn(text, url string) tele.Btn {
	return tele.Btn{Text: text, URL: url}
}

// Adjust lays buttons out in rows of the given sizes. The last size repeats
// for any remaining buttons, like aiogram's builder.adjust.
func Adjust(buttons []tele.Btn, sizes ...int) *tele.ReplyMarkup {
	in := NewInline()
	for _, row := range split(buttons, sizes) {
		in.Row(row...)
	}
	return in.Markup()
}

// ReplyKeyboard builds a resizable reply keyboard of text buttons.
func ReplyKeyboard(labels []string, sizes ...int) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	btns := make([]tele.Btn, 0, len(labels))
	for _, l := range labels {
		btns = append(btns, rm.Text(l))
	}
	rows := make([]tele.Row, 0, len(btns))
	for _, r := range split(btns, sizes) {
		rows = append(rows, rm.Row(r...))
	}
	rm.Reply(rows...)
	return rm
}

func split(buttons []tele.Btn, sizes []int) [][]tele.Btn {
	if len(sizes) == 0 {
		sizes = []int{1}
	}
	var out [][]tele.Btn
	for i, rest := 0, buttons; len(rest) > 0; i++ {
		n := sizes[len(sizes)-1]
		if i < len(sizes) {
			n = sizes[i]
		}
		if n <= 0 || n > len(rest) {
			n = len(rest)
		}
		out = append(out, rest[:n])
		rest = rest[n:]
	}
	return out
}
