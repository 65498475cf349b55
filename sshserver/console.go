package sshserver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	gliderssh "github.com/gliderlabs/ssh"

	"pkt.systems/cellx/internal/logx"
	"pkt.systems/cellx/schema"
)

const (
	maxConsoleHistory  = 500
	maxListSuggestions = 10
)

// console is a line-edited prompt that runs each entered line as a cell.
type console struct {
	in        io.Reader
	out       io.Writer
	engine    Engine
	suggester Suggester
	prompt    string
	dir       string

	editor     lineEditor
	history    []string
	histPos    int
	draft      string
	cols, rows int
	running    *runningCell
}

func newConsole(rw io.ReadWriter, engine Engine, suggester Suggester, prompt, dir string) *console {
	return &console{
		in:        rw,
		out:       rw,
		engine:    engine,
		suggester: suggester,
		prompt:    prompt,
		dir:       dir,
	}
}

func (c *console) resize(cols, rows int) {
	c.cols, c.rows = cols, rows
}

func (c *console) run(ctx context.Context, winCh <-chan gliderssh.Window) {
	log := logx.Ctx(ctx)
	keys := make(chan key, 64)
	go readKeys(c.in, keys)
	defer func() {
		go func() {
			for range keys {
			}
		}()
	}()
	c.redraw()
	for {
		var done <-chan struct{}
		if c.running != nil {
			done = c.running.done
		}
		select {
		case <-ctx.Done():
			return
		case win, ok := <-winCh:
			if !ok {
				winCh = nil
				continue
			}
			c.resize(win.Width, win.Height)
			if c.running != nil {
				c.running.send(ctx, schema.Resize(win.Width, win.Height))
			}
		case <-done:
			c.finishCell(ctx)
			c.redraw()
		case k, ok := <-keys:
			if !ok {
				if c.running != nil {
					c.running.send(ctx, schema.Interrupt())
				}
				log.Debug("ssh console input closed")
				return
			}
			if c.running != nil {
				c.forward(ctx, k)
				continue
			}
			if c.edit(ctx, k) {
				return
			}
		}
	}
}

func (c *console) edit(ctx context.Context, k key) bool {
	switch k.kind {
	case keyRune:
		c.editor.InsertRune(k.r)
	case keyBackspace:
		c.editor.Backspace()
	case keyDelete:
		c.editor.Delete()
	case keyLeft:
		c.editor.MoveLeft()
	case keyRight:
		c.editor.MoveRight()
	case keyHome, keyCtrlA:
		c.editor.MoveStart()
	case keyEnd, keyCtrlE:
		c.editor.MoveEnd()
	case keyAltB:
		c.editor.MoveWordLeft()
	case keyAltF:
		c.editor.MoveWordRight()
	case keyCtrlW:
		c.editor.DeleteWordBackward()
	case keyCtrlU:
		c.editor.KillLineStart()
	case keyCtrlK:
		c.editor.KillLineEnd()
	case keyUp:
		c.historyPrev()
	case keyDown:
		c.historyNext()
	case keyTab:
		c.complete(ctx)
	case keyCtrlC:
		c.write("^C\r\n")
		c.editor.Clear()
		c.histPos = len(c.history)
	case keyCtrlD:
		if c.editor.Len() == 0 {
			c.write("\r\n")
			return true
		}
		c.editor.Delete()
	case keyEnter, keyCtrlJ:
		c.submit(ctx)
		return false
	default:
		return false
	}
	c.redraw()
	return false
}

func (c *console) submit(ctx context.Context) {
	line := c.editor.String()
	c.editor.Clear()
	c.write("\r\n")
	if strings.TrimSpace(line) == "" {
		c.redraw()
		return
	}
	c.remember(line)
	out := cellOutput{stdout: c.out, stderr: c.out, crlf: true}
	rc, err := startCell(ctx, c.engine, schema.CellProps{Input: line, CurrentDir: c.dir}, out)
	if err != nil {
		c.write(fmt.Sprintf("cellx: %v\r\n", err))
		c.redraw()
		return
	}
	if c.cols > 0 && c.rows > 0 {
		rc.send(ctx, schema.Resize(c.cols, c.rows))
	}
	c.running = rc
}

func (c *console) finishCell(ctx context.Context) {
	code, dir, last := c.running.result()
	logx.WithCell(ctx, c.running.id).Debug("ssh console cell done", "exit_code", code)
	c.running = nil
	if dir != "" {
		c.dir = dir
	}
	if last != 0 && last != '\n' {
		c.write("\r\n")
	}
}

// forward translates keys typed while a cell runs into frontend messages and
// echoes them, since the client terminal is raw.
func (c *console) forward(ctx context.Context, k key) {
	rc := c.running
	switch k.kind {
	case keyCtrlC:
		c.write("^C")
		rc.send(ctx, schema.Interrupt())
	case keyCtrlD:
		rc.send(ctx, schema.Input(nil))
	case keyEnter, keyCtrlJ:
		c.write("\r\n")
		rc.send(ctx, schema.Input([]byte("\n")))
	case keyTab:
		rc.send(ctx, schema.Input([]byte("\t")))
	case keyBackspace:
		c.write("\b \b")
		rc.send(ctx, schema.Input([]byte{0x7f}))
	case keyRune:
		c.write(string(k.raw))
		rc.send(ctx, schema.Input(k.raw))
	default:
		// Cursor keys reach the process as their escape sequences.
		if len(k.raw) > 0 {
			rc.send(ctx, schema.Input(k.raw))
		}
	}
}

func (c *console) complete(ctx context.Context) {
	if c.suggester == nil {
		c.write("\a")
		return
	}
	line := c.editor.String()
	suggestions, err := c.suggester.Suggest(ctx, schema.SuggestRequest{Input: line, CurrentDir: c.dir, Limit: maxListSuggestions})
	if err != nil || len(suggestions) == 0 {
		c.write("\a")
		return
	}
	if len(suggestions) == 1 {
		c.editor.SetString(applySuggestion(line, suggestions[0]))
		return
	}
	texts := make([]string, 0, len(suggestions))
	for _, s := range suggestions {
		texts = append(texts, s.Text)
	}
	c.write("\r\n" + strings.Join(texts, "  ") + "\r\n")
}

// applySuggestion completes the first word for name suggestions and replaces
// the whole line for history matches.
func applySuggestion(line string, s schema.Suggestion) string {
	if s.Source == schema.SuggestionHistory {
		return s.Text
	}
	trimmed := strings.TrimLeft(line, " \t")
	if idx := strings.IndexAny(trimmed, " \t"); idx >= 0 {
		return s.Text + trimmed[idx:]
	}
	if s.Source == schema.SuggestionDirectory {
		return s.Text + "/"
	}
	return s.Text + " "
}

func (c *console) remember(line string) {
	if n := len(c.history); n == 0 || c.history[n-1] != line {
		c.history = append(c.history, line)
		if len(c.history) > maxConsoleHistory {
			c.history = c.history[len(c.history)-maxConsoleHistory:]
		}
	}
	c.histPos = len(c.history)
	c.draft = ""
}

func (c *console) historyPrev() {
	if c.histPos <= 0 {
		return
	}
	if c.histPos == len(c.history) {
		c.draft = c.editor.String()
	}
	c.histPos--
	c.editor.SetString(c.history[c.histPos])
}

func (c *console) historyNext() {
	if c.histPos >= len(c.history) {
		return
	}
	c.histPos++
	if c.histPos == len(c.history) {
		c.editor.SetString(c.draft)
		return
	}
	c.editor.SetString(c.history[c.histPos])
}

func (c *console) promptText() string {
	return displayDir(c.dir) + " " + c.prompt
}

func (c *console) redraw() {
	var b strings.Builder
	b.WriteString("\r\x1b[K")
	b.WriteString(c.promptText())
	b.WriteString(c.editor.String())
	if back := c.editor.tail(); back > 0 {
		fmt.Fprintf(&b, "\x1b[%dD", back)
	}
	c.write(b.String())
}

func (c *console) write(s string) {
	_, _ = io.WriteString(c.out, s)
}

func displayDir(dir string) string {
	if dir == "" {
		return "?"
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		if dir == home {
			return "~"
		}
		if rel, err := filepath.Rel(home, dir); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.Join("~", rel)
		}
	}
	return dir
}
