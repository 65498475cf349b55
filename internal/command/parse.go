package command

import (
	"strings"

	"github.com/google/shlex"

	"pkt.systems/cellx/schema"
)

// Command represents a tokenized command line.
type Command struct {
	Name      string
	Args      []string
	Raw       string
	Remainder string
}

// Argv returns the command token followed by its arguments.
func (c Command) Argv() []string {
	if c.Name == "" {
		return nil
	}
	out := make([]string, 0, len(c.Args)+1)
	out = append(out, c.Name)
	return append(out, c.Args...)
}

// Parse tokenizes a command line using shell quoting rules.
// Pipes, redirection and globbing are not interpreted.
func Parse(input string) (Command, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Command{}, schema.ErrEmptyCommand
	}
	fields, err := shlex.Split(raw)
	if err != nil {
		return Command{}, err
	}
	if len(fields) == 0 {
		return Command{Raw: raw}, schema.ErrEmptyCommand
	}
	args := []string{}
	if len(fields) > 1 {
		args = fields[1:]
	}
	return Command{
		Name:      fields[0],
		Args:      args,
		Raw:       raw,
		Remainder: remainderAfterTokens(raw, 1),
	}, nil
}

// Props builds cell props from a raw command line.
func Props(id schema.CellID, input, dir string) (schema.CellProps, error) {
	cmd, err := Parse(input)
	if err != nil {
		return schema.CellProps{}, err
	}
	return schema.CellProps{ID: id, Input: cmd.Raw, Args: cmd.Argv(), CurrentDir: dir}, nil
}

// FirstToken returns the first whitespace-separated token of a partial line
// and whether the line continues past it.
func FirstToken(input string) (string, bool) {
	trimmed := strings.TrimLeft(input, " \t")
	for i := 0; i < len(trimmed); i++ {
		if isSpace(trimmed[i]) {
			return trimmed[:i], true
		}
	}
	return trimmed, false
}

func remainderAfterTokens(raw string, count int) string {
	i := 0
	remaining := count
	for remaining > 0 && i < len(raw) {
		for i < len(raw) && isSpace(raw[i]) {
			i++
		}
		for i < len(raw) && !isSpace(raw[i]) {
			i++
		}
		remaining--
	}
	if i >= len(raw) {
		return ""
	}
	return strings.TrimSpace(raw[i:])
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
