package sshserver

import (
	"strings"
	"testing"
)

func decodeKeys(t *testing.T, input string) []key {
	t.Helper()
	ch := make(chan key, 32)
	go readKeys(strings.NewReader(input), ch)
	var out []key
	for k := range ch {
		out = append(out, k)
	}
	return out
}

func TestReadKeysDecodesSequences(t *testing.T) {
	keys := decodeKeys(t, "a\x1b[A\x1bOD\x1b[3~\r\n\x03é\x1bb")
	want := []keyKind{keyRune, keyUp, keyLeft, keyDelete, keyEnter, keyCtrlC, keyRune, keyAltB}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d: %+v", len(want), len(keys), keys)
	}
	for i, k := range keys {
		if k.kind != want[i] {
			t.Fatalf("key %d: expected %v, got %v", i, want[i], k.kind)
		}
	}
	if keys[6].r != 'é' || string(keys[6].raw) != "é" {
		t.Fatalf("unexpected rune key %+v", keys[6])
	}
	if string(keys[1].raw) != "\x1b[A" {
		t.Fatalf("expected raw escape sequence, got %q", keys[1].raw)
	}
}

func TestReadKeysDropsUnknownEscapes(t *testing.T) {
	keys := decodeKeys(t, "\x1b[5~x")
	if len(keys) != 1 || keys[0].kind != keyRune || keys[0].r != 'x' {
		t.Fatalf("unexpected keys %+v", keys)
	}
}

func TestLineEditorEditing(t *testing.T) {
	var e lineEditor
	for _, r := range "ls -la /tmp" {
		e.InsertRune(r)
	}
	e.MoveWordLeft()
	if e.tail() != 4 {
		t.Fatalf("expected cursor before /tmp, tail=%d", e.tail())
	}
	e.DeleteWordBackward()
	if e.String() != "ls /tmp" {
		t.Fatalf("unexpected line %q", e.String())
	}
	e.MoveStart()
	e.Delete()
	e.InsertRune('L')
	if e.String() != "Ls /tmp" {
		t.Fatalf("unexpected line %q", e.String())
	}
	e.MoveWordRight()
	e.KillLineEnd()
	if e.String() != "Ls" || e.tail() != 0 {
		t.Fatalf("unexpected line %q tail=%d", e.String(), e.tail())
	}
	e.Backspace()
	e.KillLineStart()
	if e.Len() != 0 {
		t.Fatalf("expected empty line, got %q", e.String())
	}
	e.SetString("echo hi")
	e.MoveLeft()
	e.MoveLeft()
	e.MoveRight()
	if e.tail() != 1 {
		t.Fatalf("unexpected tail %d", e.tail())
	}
}
