package router

import (
	"strings"
)

// HelpText renders a plain-text command list under header.
func (m *CommandManager) HelpText(header string) string {
	var b strings.Builder
	if header = strings.TrimSpace(header); header != "" {
		b.WriteString(header)
		b.WriteString("\n\n")
	}
	b.WriteString("Available commands:\n")
	for _, c := range m.Commands() {
		if c.Hidden {
			continue
		}
		usage := strings.TrimSpace(c.Usage)
		if usage == "" {
			usage = "/" + c.Name
		}
		b.WriteString(usage)
		if d := strings.TrimSpace(c.Description); d != "" {
			b.WriteString(" - ")
			b.WriteString(d)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
