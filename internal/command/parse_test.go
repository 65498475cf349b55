package command

import (
	"errors"
	"reflect"
	"testing"

	"pkt.systems/cellx/schema"
)

func TestParseQuotedArgs(t *testing.T) {
	cmd, err := Parse(`  grep -n "hello world" 'a b'  `)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.Name != "grep" {
		t.Fatalf("expected grep, got %q", cmd.Name)
	}
	want := []string{"-n", "hello world", "a b"}
	if !reflect.DeepEqual(cmd.Args, want) {
		t.Fatalf("expected %v, got %v", want, cmd.Args)
	}
	if cmd.Remainder != `-n "hello world" 'a b'` {
		t.Fatalf("unexpected remainder %q", cmd.Remainder)
	}
	if got := cmd.Argv(); len(got) != 4 || got[0] != "grep" {
		t.Fatalf("unexpected argv %v", got)
	}
}

func TestParseDoesNotInterpretShellOperators(t *testing.T) {
	cmd, err := Parse("ls | wc -l")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"|", "wc", "-l"}
	if !reflect.DeepEqual(cmd.Args, want) {
		t.Fatalf("expected literal operators %v, got %v", want, cmd.Args)
	}
}

func TestParseEmpty(t *testing.T) {
	for _, input := range []string{"", "   ", "\t\n"} {
		if _, err := Parse(input); !errors.Is(err, schema.ErrEmptyCommand) {
			t.Fatalf("input %q: expected ErrEmptyCommand, got %v", input, err)
		}
	}
}

func TestParseUnterminatedQuote(t *testing.T) {
	if _, err := Parse(`echo "oops`); err == nil {
		t.Fatalf("expected error for unterminated quote")
	}
}

func TestProps(t *testing.T) {
	props, err := Props("c1", "echo hi", "/tmp")
	if err != nil {
		t.Fatalf("props: %v", err)
	}
	if props.Token() != "echo" || props.CurrentDir != "/tmp" || props.ID != "c1" {
		t.Fatalf("unexpected props %+v", props)
	}
	if got := props.Trailing(); len(got) != 1 || got[0] != "hi" {
		t.Fatalf("unexpected trailing %v", got)
	}
}

func TestFirstToken(t *testing.T) {
	tok, more := FirstToken("  gi")
	if tok != "gi" || more {
		t.Fatalf("unexpected %q %v", tok, more)
	}
	tok, more = FirstToken("git sta")
	if tok != "git" || !more {
		t.Fatalf("unexpected %q %v", tok, more)
	}
}
