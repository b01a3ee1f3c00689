package router

import (
	"strings"

	kit "dripbot/internal/transport"
)

const (
	maxMenuCommands   = 100
	maxCommandLen     = 32
	maxDescriptionLen = 256
)

// commandName maps a route name onto Telegram's [a-z0-9_]{1,32} command
// alphabet. Runs of other characters collapse into one underscore.
func commandName(s string) string {
	parts := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	name := strings.Join(parts, "_")
	if name == "" {
		return ""
	}
	// Clients expect a leading letter.
	if name[0] <= '9' {
		name = "cmd_" + name
	}
	if len(name) > maxCommandLen {
		name = strings.TrimRight(name[:maxCommandLen], "_")
	}
	return name
}

// menuCommands lists the commands shown in the platform menu. Owner-only
// commands stay hidden.
func menuCommands(cmds []Command) []kit.BotCommand {
	var out []kit.BotCommand
	seen := make(map[string]struct{}, len(cmds))
	for _, c := range cmds {
		if len(out) == maxMenuCommands {
			break
		}
		name := commandName(c.Name)
		if _, dup := seen[name]; c.OwnerOnly || name == "" || dup {
			continue
		}
		seen[name] = struct{}{}

		desc := strings.TrimSpace(c.Description)
		switch {
		case desc == "":
			desc = name
		case len(desc) > maxDescriptionLen:
			desc = desc[:maxDescriptionLen]
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
	}
	return out
}
