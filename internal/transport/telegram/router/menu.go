package router

import (
	"strings"
	"unicode"

	kit "econbot/internal/transport"
)

// sanitizeCommand converts a name into a Telegram-safe bot command
// ([a-z0-9_]{1,32}, starting with a letter).
func sanitizeCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return ""
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// buildMenu lists public commands first, then owner-only ones marked with a
// lock.
func buildMenu(cmds []Command) []kit.BotCommand {
	var pub, owner []kit.BotCommand
	for _, c := range cmds {
		name := sanitizeCommand(c.Name)
		if name == "" {
			continue
		}
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = name
		}
		if c.Access == AccessOwnerOnly {
			owner = append(owner, kit.BotCommand{Command: name, Description: "🔒 " + desc})
			continue
		}
		pub = append(pub, kit.BotCommand{Command: name, Description: desc})
	}
	out := append(pub, owner...)
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}
