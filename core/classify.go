package core

import (
	"os"
	"path/filepath"

	"pkt.systems/cellx/schema"
)

// Kind is the result of classifying a command token. The set of
// implementations is closed: PathKind, ViewKind, WriteKind, ShortcutsKind,
// ExternalKind and NotFoundKind.
type Kind interface {
	String() string
	isKind()
}

// PathKind is a token that names an existing filesystem path.
type PathKind struct{ Path string }

// ViewKind is the internal view action.
type ViewKind struct{}

// WriteKind is the internal write action.
type WriteKind struct{}

// ShortcutsKind is the internal shortcuts action.
type ShortcutsKind struct{}

// ExternalKind is a token found in the executable index.
type ExternalKind struct{ Name string }

// NotFoundKind is a token that matched nothing.
type NotFoundKind struct{}

func (PathKind) isKind()      {}
func (ViewKind) isKind()      {}
func (WriteKind) isKind()     {}
func (ShortcutsKind) isKind() {}
func (ExternalKind) isKind()  {}
func (NotFoundKind) isKind()  {}

func (PathKind) String() string      { return "path" }
func (ViewKind) String() string      { return "view" }
func (WriteKind) String() string     { return "write" }
func (ShortcutsKind) String() string { return "shortcuts" }
func (ExternalKind) String() string  { return "external" }
func (NotFoundKind) String() string  { return "not_found" }

// Reserved internal action names.
const (
	ActionView      = "view"
	ActionWrite     = "write"
	ActionShortcuts = "shortcuts"
)

// InternalActions lists the reserved action names.
func InternalActions() []string {
	return []string{ActionView, ActionWrite, ActionShortcuts}
}

// ExecutableIndex answers whether a name is a discoverable executable.
// Implementations must be safe for concurrent use.
type ExecutableIndex interface {
	Contains(name string) bool
}

// ExecutableLocator is implemented by indexes that know where an
// executable lives. The engine prefers the located path over a PATH lookup.
type ExecutableLocator interface {
	Lookup(name string) (string, bool)
}

// Command pairs a classification with the trailing arguments.
type Command struct {
	Kind Kind
	Args []string
}

// Classify maps a token to a Kind. The first matching rule wins:
// existing path, reserved internal name, executable index, not found.
// It never fails and has no side effects.
func Classify(token, workingDir string, index ExecutableIndex) Kind {
	if token == "" {
		return NotFoundKind{}
	}
	if pathExists(token, workingDir) {
		return PathKind{Path: token}
	}
	switch token {
	case ActionView:
		return ViewKind{}
	case ActionWrite:
		return WriteKind{}
	case ActionShortcuts:
		return ShortcutsKind{}
	}
	if index != nil && index.Contains(token) {
		return ExternalKind{Name: token}
	}
	return NotFoundKind{}
}

// ClassifyProps builds a Command from cell props.
func ClassifyProps(props schema.CellProps, index ExecutableIndex) Command {
	return Command{
		Kind: Classify(props.Token(), props.CurrentDir, index),
		Args: props.Trailing(),
	}
}

// ResolvePath returns the absolute location a path token refers to.
// A relative token is resolved against workingDir when it exists there.
func ResolvePath(token, workingDir string) string {
	if filepath.IsAbs(token) {
		return filepath.Clean(token)
	}
	if workingDir != "" {
		joined := filepath.Join(workingDir, token)
		if _, err := os.Stat(joined); err == nil {
			return joined
		}
	}
	abs, err := filepath.Abs(token)
	if err != nil {
		return token
	}
	return abs
}

func pathExists(token, workingDir string) bool {
	if _, err := os.Stat(token); err == nil {
		return true
	}
	if workingDir != "" && !filepath.IsAbs(token) {
		if _, err := os.Stat(filepath.Join(workingDir, token)); err == nil {
			return true
		}
	}
	return false
}
