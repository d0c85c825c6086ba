package platform

import "strings"

// Command is a slash command recognised in message content.
type Command struct {
	Name string
	Args []string
}

// Arg returns the i-th argument or "".
func (c *Command) Arg(i int) string {
	if c == nil || i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// ParseCommand extracts "/name arg..." from content. Bot mentions in the
// Telegram form "/close@support_bot" are stripped.
func ParseCommand(content string) *Command {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "/") || len(trimmed) == 1 {
		return nil
	}
	fields := strings.Fields(trimmed[1:])
	if len(fields) == 0 {
		return nil
	}
	name := strings.ToLower(fields[0])
	if at := strings.Index(name, "@"); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return nil
	}
	return &Command{Name: name, Args: fields[1:]}
}
