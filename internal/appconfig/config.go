package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/cellx/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	Engine        EngineConfig  `mapstructure:"engine" yaml:"engine"`
	Index         IndexConfig   `mapstructure:"index" yaml:"index"`
	HTTP          HTTPConfig    `mapstructure:"http" yaml:"http"`
	SSH           SSHConfig     `mapstructure:"ssh" yaml:"ssh"`
	GRPC          GRPCConfig    `mapstructure:"grpc" yaml:"grpc"`
	History       HistoryConfig `mapstructure:"history" yaml:"history"`
	Logging       LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// EngineConfig controls cell execution timing.
type EngineConfig struct {
	ClassifyTimeoutMS int `mapstructure:"classify_timeout_ms" yaml:"classify_timeout_ms"`
	GracePeriodMS     int `mapstructure:"grace_period_ms" yaml:"grace_period_ms"`
	KillTimeoutMS     int `mapstructure:"kill_timeout_ms" yaml:"kill_timeout_ms"`
	ReadChunkBytes    int `mapstructure:"read_chunk_bytes" yaml:"read_chunk_bytes"`
}

// IndexConfig configures the executable index.
type IndexConfig struct {
	// Path overrides $PATH when non-empty.
	Path                   []string `mapstructure:"path" yaml:"path"`
	Watch                  bool     `mapstructure:"watch" yaml:"watch"`
	RefreshIntervalSeconds int      `mapstructure:"refresh_interval_seconds" yaml:"refresh_interval_seconds"`
}

// HTTPConfig configures the HTTP/SSE bridge.
type HTTPConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
	// History is the number of messages kept per cell for Last-Event-ID replay.
	History int `mapstructure:"history" yaml:"history"`
}

// SSHConfig configures the SSH bridge.
type SSHConfig struct {
	Addr        string `mapstructure:"addr" yaml:"addr"`
	HostKeyPath string `mapstructure:"host_key_path" yaml:"host_key_path"`
	// AuthorizedKeysPath enables public key auth when set.
	AuthorizedKeysPath string `mapstructure:"authorized_keys_path" yaml:"authorized_keys_path"`
	Prompt             string `mapstructure:"prompt" yaml:"prompt"`
}

// GRPCConfig configures the gRPC bridge.
type GRPCConfig struct {
	SocketPath string `mapstructure:"socket_path" yaml:"socket_path"`
}

// HistoryConfig configures the sqlite history store.
type HistoryConfig struct {
	DBPath     string `mapstructure:"db_path" yaml:"db_path"`
	QueueDepth int    `mapstructure:"queue_depth" yaml:"queue_depth"`
	// RetentionDays prunes older cells at startup; zero keeps everything.
	RetentionDays int `mapstructure:"retention_days" yaml:"retention_days"`
}

// Retention returns the history retention window, zero when unbounded.
func (c HistoryConfig) Retention() time.Duration {
	if c.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// LoggingConfig controls history recording.
type LoggingConfig struct {
	DisableHistory bool `mapstructure:"disable_history" yaml:"disable_history"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	base := filepath.Join(home, ".cellx")
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Engine: EngineConfig{
			ClassifyTimeoutMS: int(schema.DefaultClassifyTimeout / time.Millisecond),
			GracePeriodMS:     int(schema.DefaultGracePeriod / time.Millisecond),
			KillTimeoutMS:     int(schema.DefaultKillTimeout / time.Millisecond),
			ReadChunkBytes:    schema.DefaultReadChunkBytes,
		},
		Index: IndexConfig{
			Path:                   []string{},
			Watch:                  true,
			RefreshIntervalSeconds: 300,
		},
		HTTP: HTTPConfig{
			Addr:     "127.0.0.1:27580",
			BasePath: "",
			History:  4096,
		},
		SSH: SSHConfig{
			Addr:               "127.0.0.1:27522",
			HostKeyPath:        filepath.Join(base, "ssh_host_key"),
			AuthorizedKeysPath: "",
			Prompt:             "$ ",
		},
		GRPC: GRPCConfig{
			SocketPath: filepath.Join(base, "state", "cellx.sock"),
		},
		History: HistoryConfig{
			DBPath:        filepath.Join(base, "state", "history.db"),
			QueueDepth:    1024,
			RetentionDays: 0,
		},
		Logging: LoggingConfig{
			DisableHistory: false,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cellx", "config.yaml"), nil
}

// EngineSettings converts the engine section into schema.EngineConfig.
func (c Config) EngineSettings() schema.EngineConfig {
	return schema.EngineConfig{
		ClassifyTimeout: time.Duration(c.Engine.ClassifyTimeoutMS) * time.Millisecond,
		GracePeriod:     time.Duration(c.Engine.GracePeriodMS) * time.Millisecond,
		KillTimeout:     time.Duration(c.Engine.KillTimeoutMS) * time.Millisecond,
		ReadChunkBytes:  c.Engine.ReadChunkBytes,
		DisableHistory:  c.Logging.DisableHistory,
	}
}

// RefreshInterval returns the index rescan interval, zero when disabled.
func (c IndexConfig) RefreshInterval() time.Duration {
	if c.RefreshIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}
