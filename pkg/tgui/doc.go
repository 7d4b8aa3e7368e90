// Package tgui holds small Telegram UI helpers: keyboard builders,
// HTML escaping and rune-safe truncation.
package tgui
