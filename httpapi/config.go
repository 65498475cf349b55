package httpapi

import (
	"path"
	"strings"
	"time"
)

// Config defines HTTP bridge settings.
type Config struct {
	Addr     string
	BasePath string
	// History bounds the messages kept per cell for Last-Event-ID replay.
	History int
	// Retention keeps a finished cell's replay buffer reachable.
	Retention time.Duration
}

// normalizeBasePath returns value as "/a/b" with no trailing slash, or ""
// for the root.
func normalizeBasePath(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	cleaned := path.Clean("/" + value)
	if cleaned == "/" {
		return ""
	}
	return cleaned
}
