package router

import (
	"strings"
	"unicode"

	"broadcastbot/internal/storage"
	kit "broadcastbot/internal/transport"
	"broadcastbot/pkg/tgui"
)

// sanitizeTelegramCommand converts a name into a Telegram-safe bot command.
// Telegram command names are restricted to [a-z0-9_]{1,32}.
func sanitizeTelegramCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// buildMenuCommands lists visible commands, everyone-level first.
func buildMenuCommands(cmds []Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	seen := map[string]bool{}
	for _, level := range []Access{AccessEveryone, AccessModerator, AccessAdmin} {
		for _, c := range cmds {
			if c.Hidden || c.Access != level {
				continue
			}
			name := sanitizeTelegramCommand(c.Name)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			desc := strings.TrimSpace(strings.ReplaceAll(c.Description, "\n", " "))
			if desc == "" {
				desc = name
			}
			if level != AccessEveryone {
				desc = "🔒 " + desc
			}
			out = append(out, kit.BotCommand{Command: name, Description: tgui.Trunc(desc, 256, "")})
		}
	}
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}

// helpText lists the commands role may run, in HTML.
func (m *Router) helpText(role storage.Role) string {
	lines := []string{"📚 <b>Команды</b>", ""}
	for _, c := range m.Commands() {
		if c.Hidden || !Allowed(role, c.Access) {
			continue
		}
		line := "/" + tgui.Esc(c.Name)
		if c.Description != "" {
			line += " - " + tgui.Esc(c.Description)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
