package router

import (
	"regexp"
	"strings"

	kit "scoutbot/internal/transport"
)

const (
	maxMenuCommands   = 100
	maxMenuDescLength = 256
)

// menuName matches the command names Telegram accepts in a bot menu.
var menuName = regexp.MustCompile(`^[a-z][a-z0-9_]{0,31}$`)

// menuCommands lists visible commands in registration order. Names Telegram
// would reject are left out; they still route.
func menuCommands(cmds []Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		if c.Hidden || !menuName.MatchString(c.Name) {
			continue
		}
		desc := strings.Join(strings.Fields(c.Description), " ")
		if desc == "" {
			desc = c.Name
		}
		if r := []rune(desc); len(r) > maxMenuDescLength {
			desc = string(r[:maxMenuDescLength])
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: desc})
		if len(out) == maxMenuCommands {
			break
		}
	}
	return out
}
