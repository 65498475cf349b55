package schema

import (
	"errors"
	"time"
)

// EngineConfig defines timeouts and limits for the cell engine.
type EngineConfig struct {
	// ClassifyTimeout bounds classification before the cell fails.
	ClassifyTimeout time.Duration
	// GracePeriod is the wait between SIGTERM and SIGKILL on interrupt.
	GracePeriod time.Duration
	// KillTimeout bounds the wait for a killed process to be reaped.
	KillTimeout time.Duration
	// ReadChunkBytes is the buffer size for a single output read.
	ReadChunkBytes int
	// DisableHistory suppresses lifecycle events to the observer.
	DisableHistory bool
}

const (
	// DefaultClassifyTimeout is the default classification bound.
	DefaultClassifyTimeout = 2 * time.Second
	// DefaultGracePeriod is the default SIGTERM grace period.
	DefaultGracePeriod = 3 * time.Second
	// DefaultKillTimeout is the default bound on reaping after SIGKILL.
	DefaultKillTimeout = 2 * time.Second
	// DefaultReadChunkBytes is the default output read size.
	DefaultReadChunkBytes = 32 * 1024
)

// NormalizeEngineConfig applies defaults and validates the config.
func NormalizeEngineConfig(cfg EngineConfig) (EngineConfig, error) {
	if cfg.ClassifyTimeout == 0 {
		cfg.ClassifyTimeout = DefaultClassifyTimeout
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.KillTimeout == 0 {
		cfg.KillTimeout = DefaultKillTimeout
	}
	if cfg.ReadChunkBytes == 0 {
		cfg.ReadChunkBytes = DefaultReadChunkBytes
	}
	if cfg.ClassifyTimeout < 0 || cfg.GracePeriod < 0 || cfg.KillTimeout < 0 {
		return EngineConfig{}, errors.New("engine timeouts must not be negative")
	}
	if cfg.ReadChunkBytes < 0 {
		return EngineConfig{}, errors.New("read chunk size must not be negative")
	}
	return cfg, nil
}
