package schema

import (
	"os"
	"path/filepath"
	"strings"
)

// ValidateCellID ensures a cell id matches [A-Za-z0-9_-] and is at most 64 bytes.
func ValidateCellID(id CellID) error {
	raw := string(id)
	if raw == "" || len(raw) > 64 {
		return ErrInvalidCellID
	}
	for _, r := range raw {
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= 'A' && r <= 'Z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		if r == '_' || r == '-' {
			continue
		}
		return ErrInvalidCellID
	}
	return nil
}

// NormalizeWorkingDir returns an absolute, cleaned working directory.
// An empty dir resolves to the process working directory.
func NormalizeWorkingDir(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return os.Getwd()
	}
	if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	return abs, nil
}
