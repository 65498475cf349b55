package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/cellx/schema"
)

// Shortcut describes a frontend key binding or internal action.
type Shortcut struct {
	Keys        string
	Description string
}

// Shortcuts lists the key bindings frontends are expected to offer.
func Shortcuts() []Shortcut {
	return []Shortcut{
		{Keys: "Enter", Description: "run the command, or send the line as input while running"},
		{Keys: "Ctrl-C", Description: "interrupt the running cell"},
		{Keys: "Ctrl-D", Description: "close the process input (end of file)"},
		{Keys: "Tab", Description: "complete from history, executables and directories"},
		{Keys: "view [path]", Description: "list a directory or print a file"},
		{Keys: "write <path> [text]", Description: "write text, or the following input until Ctrl-D, to a file"},
		{Keys: "shortcuts", Description: "show this list"},
	}
}

func (c *Cell) stdout(text string) {
	c.emit(schema.OutputChunk([]byte(text), schema.StreamStdout))
}

func (c *Cell) stderr(text string) {
	c.emit(schema.OutputChunk([]byte(text), schema.StreamStderr))
}

func (c *Cell) runShortcuts() outcome {
	var b strings.Builder
	for _, sc := range Shortcuts() {
		fmt.Fprintf(&b, "%-22s %s\n", sc.Keys, sc.Description)
	}
	c.stdout(b.String())
	return completed(0)
}

func (c *Cell) runView(args []string) outcome {
	target := c.props.CurrentDir
	if len(args) > 0 {
		target = ResolvePath(args[0], c.props.CurrentDir)
	}
	info, err := os.Stat(target)
	if err != nil {
		c.stderr(fmt.Sprintf("view: %v\n", err))
		return completed(1)
	}
	if info.IsDir() {
		entries, err := os.ReadDir(target)
		if err != nil {
			c.stderr(fmt.Sprintf("view: %v\n", err))
			return completed(1)
		}
		var b strings.Builder
		for _, entry := range entries {
			b.WriteString(entry.Name())
			if entry.IsDir() {
				b.WriteByte('/')
			}
			b.WriteByte('\n')
			if b.Len() >= c.exec.chunkBytes {
				c.stdout(b.String())
				b.Reset()
			}
		}
		if b.Len() > 0 {
			c.stdout(b.String())
		}
		return completed(0)
	}
	f, err := os.Open(target)
	if err != nil {
		c.stderr(fmt.Sprintf("view: %v\n", err))
		return completed(1)
	}
	defer f.Close()
	buf := make([]byte, c.exec.chunkBytes)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			c.emit(schema.OutputChunk(append([]byte(nil), buf[:n]...), schema.StreamStdout))
		}
		if err == io.EOF {
			return completed(0)
		}
		if err != nil {
			return failed(NewCellError(ErrorStreamIO, "view", err))
		}
	}
}

// runWrite writes the trailing text to a file. Without text it collects
// Input messages until an empty Input; an Interrupt abandons the write.
func (c *Cell) runWrite(ctx context.Context, args []string) outcome {
	if len(args) == 0 {
		c.stderr("usage: write <path> [text...]\n")
		return completed(2)
	}
	target := args[0]
	if !filepath.IsAbs(target) {
		target = filepath.Join(c.props.CurrentDir, target)
	}
	var content []byte
	if len(args) > 1 {
		content = []byte(strings.Join(args[1:], " ") + "\n")
	} else {
		collected, ok := c.collectInput(ctx)
		if !ok {
			return cancelled()
		}
		content = collected
	}
	if err := os.WriteFile(target, content, 0o644); err != nil {
		c.stderr(fmt.Sprintf("write: %v\n", err))
		return completed(1)
	}
	c.stdout(fmt.Sprintf("wrote %d bytes to %s\n", len(content), target))
	return completed(0)
}

func (c *Cell) collectInput(ctx context.Context) ([]byte, bool) {
	var out []byte
	for _, data := range c.pending {
		if len(data) == 0 {
			c.pending = nil
			return out, true
		}
		out = append(out, data...)
	}
	c.pending = nil
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-c.comm.inboundReady():
			for {
				msg, ok := c.comm.nextInbound()
				if !ok {
					break
				}
				switch msg.Type {
				case schema.FrontendInterrupt:
					return nil, false
				case schema.FrontendInput:
					if len(msg.Data) == 0 {
						return out, true
					}
					out = append(out, msg.Data...)
				case schema.FrontendResize:
					c.cols, c.rows = msg.Cols, msg.Rows
				}
			}
		}
	}
}
