package tgui

import (
	"html"
)

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) string { return html.EscapeString(s) }

// B wraps escaped text in <b>.
func B(s string) string { return "<b>" + Esc(s) + "</b>" }

// Code wraps escaped text in <code>.
func Code(s string) string { return "<code>" + Esc(s) + "</code>" }
