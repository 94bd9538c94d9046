package tui

import (
	"fmt"
	"strings"
)

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command string (without the leading ':').
func ParseCommand(input string) Command {
	input = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(input), ":"))
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}

// aliases maps short command names to their canonical form.
var aliases = map[string]string{
	"q":    "quit",
	"h":    "help",
	"req":  "request",
	"reqs": "requests",
}

// Canonical resolves aliases.
func (c Command) Canonical() string {
	if name, ok := aliases[c.Name]; ok {
		return name
	}
	return c.Name
}

// RequireArg returns Args, or an error naming the missing argument.
func (c Command) RequireArg(what string) (string, error) {
	if c.Args == "" {
		return "", fmt.Errorf("usage: :%s <%s>", c.Canonical(), what)
	}
	return c.Args, nil
}
