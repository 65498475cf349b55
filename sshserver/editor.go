package sshserver

import (
	"bufio"
	"io"
	"unicode/utf8"
)

type keyKind int

const (
	keyRune keyKind = iota
	keyEnter
	keyCtrlJ
	keyBackspace
	keyDelete
	keyLeft
	keyRight
	keyUp
	keyDown
	keyHome
	keyEnd
	keyTab
	keyCtrlA
	keyCtrlC
	keyCtrlD
	keyCtrlE
	keyCtrlK
	keyCtrlU
	keyCtrlW
	keyAltB
	keyAltF
)

// key is one decoded terminal key press. raw holds the bytes it was
// decoded from so a running cell can receive them unchanged.
type key struct {
	kind keyKind
	r    rune
	raw  []byte
}

var controlKeys = map[byte]keyKind{
	'\n': keyCtrlJ,
	0x7f: keyBackspace,
	0x08: keyBackspace,
	0x01: keyCtrlA,
	0x03: keyCtrlC,
	0x04: keyCtrlD,
	0x05: keyCtrlE,
	0x09: keyTab,
	0x0b: keyCtrlK,
	0x15: keyCtrlU,
	0x17: keyCtrlW,
}

// escapeKeys maps the bytes after ESC to a key.
var escapeKeys = map[string]keyKind{
	"[A":  keyUp,
	"[B":  keyDown,
	"[C":  keyRight,
	"[D":  keyLeft,
	"[H":  keyHome,
	"[F":  keyEnd,
	"[1~": keyHome,
	"[4~": keyEnd,
	"[3~": keyDelete,
	"OA":  keyUp,
	"OB":  keyDown,
	"OC":  keyRight,
	"OD":  keyLeft,
	"OH":  keyHome,
	"OF":  keyEnd,
	"b":   keyAltB,
	"B":   keyAltB,
	"f":   keyAltF,
	"F":   keyAltF,
}

// readKeys decodes r into keys until r fails, then closes out. CR LF is
// reported as a single Enter. Unknown escape sequences are dropped.
func readKeys(r io.Reader, out chan<- key) {
	defer close(out)
	br := bufio.NewReader(r)
	afterCR := false
	for {
		b, err := br.ReadByte()
		if err != nil {
			return
		}
		if afterCR && b == '\n' {
			afterCR = false
			continue
		}
		afterCR = b == '\r'
		switch {
		case b == '\r':
			out <- key{kind: keyEnter, raw: []byte{b}}
		case b == 0x1b:
			seq, ok := readEscape(br)
			if !ok {
				return
			}
			if kind, known := escapeKeys[string(seq)]; known {
				out <- key{kind: kind, raw: append([]byte{0x1b}, seq...)}
			}
		case controlKeys[b] != keyRune:
			out <- key{kind: controlKeys[b], raw: []byte{b}}
		case b < utf8.RuneSelf:
			out <- key{kind: keyRune, r: rune(b), raw: []byte{b}}
		default:
			_ = br.UnreadByte()
			rn, _, err := br.ReadRune()
			if err != nil {
				return
			}
			out <- key{kind: keyRune, r: rn, raw: []byte(string(rn))}
		}
	}
}

// readEscape returns the bytes of an escape sequence without the ESC.
// CSI sequences end at a letter or '~'.
func readEscape(br *bufio.Reader) ([]byte, bool) {
	first, err := br.ReadByte()
	if err != nil {
		return nil, false
	}
	seq := []byte{first}
	switch first {
	case '[':
		for len(seq) < 8 {
			b, err := br.ReadByte()
			if err != nil {
				return nil, false
			}
			seq = append(seq, b)
			if b == '~' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') {
				break
			}
		}
	case 'O':
		b, err := br.ReadByte()
		if err != nil {
			return nil, false
		}
		seq = append(seq, b)
	}
	return seq, true
}

// lineEditor holds the single command line being typed at the prompt.
type lineEditor struct {
	line []rune
	pos  int
}

func (e *lineEditor) String() string { return string(e.line) }

func (e *lineEditor) Len() int { return len(e.line) }

// tail is the number of runes right of the cursor.
func (e *lineEditor) tail() int { return len(e.line) - e.pos }

func (e *lineEditor) Clear() {
	e.line = e.line[:0]
	e.pos = 0
}

func (e *lineEditor) SetString(value string) {
	e.line = []rune(value)
	e.pos = len(e.line)
}

func (e *lineEditor) InsertRune(r rune) {
	e.line = append(e.line, 0)
	copy(e.line[e.pos+1:], e.line[e.pos:])
	e.line[e.pos] = r
	e.pos++
}

// cut removes the runes in [from, to) and leaves the cursor at from.
func (e *lineEditor) cut(from, to int) {
	if from < 0 {
		from = 0
	}
	if to > len(e.line) {
		to = len(e.line)
	}
	if from >= to {
		return
	}
	e.line = append(e.line[:from], e.line[to:]...)
	e.pos = from
}

func (e *lineEditor) Backspace() {
	if e.pos > 0 {
		e.cut(e.pos-1, e.pos)
	}
}

func (e *lineEditor) Delete() {
	if e.pos < len(e.line) {
		pos := e.pos
		e.cut(pos, pos+1)
		e.pos = pos
	}
}

func (e *lineEditor) MoveLeft() {
	if e.pos > 0 {
		e.pos--
	}
}

func (e *lineEditor) MoveRight() {
	if e.pos < len(e.line) {
		e.pos++
	}
}

func (e *lineEditor) MoveStart() { e.pos = 0 }

func (e *lineEditor) MoveEnd() { e.pos = len(e.line) }

func (e *lineEditor) MoveWordLeft() { e.pos = e.wordStart() }

func (e *lineEditor) MoveWordRight() {
	i := e.pos
	for i < len(e.line) && isSpace(e.line[i]) {
		i++
	}
	for i < len(e.line) && !isSpace(e.line[i]) {
		i++
	}
	e.pos = i
}

func (e *lineEditor) DeleteWordBackward() { e.cut(e.wordStart(), e.pos) }

func (e *lineEditor) KillLineStart() { e.cut(0, e.pos) }

func (e *lineEditor) KillLineEnd() {
	pos := e.pos
	e.cut(pos, len(e.line))
	e.pos = pos
}

// wordStart finds the start of the word left of the cursor, skipping
// trailing blanks first.
func (e *lineEditor) wordStart() int {
	i := e.pos
	for i > 0 && isSpace(e.line[i-1]) {
		i--
	}
	for i > 0 && !isSpace(e.line[i-1]) {
		i--
	}
	return i
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t'
}
