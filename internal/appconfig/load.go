package appconfig

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("engine.classify_timeout_ms", cfg.Engine.ClassifyTimeoutMS)
	v.SetDefault("engine.grace_period_ms", cfg.Engine.GracePeriodMS)
	v.SetDefault("engine.kill_timeout_ms", cfg.Engine.KillTimeoutMS)
	v.SetDefault("engine.read_chunk_bytes", cfg.Engine.ReadChunkBytes)
	v.SetDefault("index.path", cfg.Index.Path)
	v.SetDefault("index.watch", cfg.Index.Watch)
	v.SetDefault("index.refresh_interval_seconds", cfg.Index.RefreshIntervalSeconds)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.base_path", cfg.HTTP.BasePath)
	v.SetDefault("http.history", cfg.HTTP.History)
	v.SetDefault("ssh.addr", cfg.SSH.Addr)
	v.SetDefault("ssh.host_key_path", cfg.SSH.HostKeyPath)
	v.SetDefault("ssh.authorized_keys_path", cfg.SSH.AuthorizedKeysPath)
	v.SetDefault("ssh.prompt", cfg.SSH.Prompt)
	v.SetDefault("grpc.socket_path", cfg.GRPC.SocketPath)
	v.SetDefault("history.db_path", cfg.History.DBPath)
	v.SetDefault("history.queue_depth", cfg.History.QueueDepth)
	v.SetDefault("history.retention_days", cfg.History.RetentionDays)
	v.SetDefault("logging.disable_history", cfg.Logging.DisableHistory)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.InConfig("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Engine.ClassifyTimeoutMS < 0 || cfg.Engine.GracePeriodMS < 0 || cfg.Engine.KillTimeoutMS < 0 {
		return fmt.Errorf("engine timeouts must not be negative")
	}
	if cfg.Engine.ReadChunkBytes < 0 {
		return fmt.Errorf("engine.read_chunk_bytes must not be negative")
	}
	if cfg.History.RetentionDays < 0 {
		return fmt.Errorf("history.retention_days must not be negative")
	}
	if cfg.HTTP.History < 0 {
		return fmt.Errorf("http.history must not be negative")
	}
	if addr := strings.TrimSpace(cfg.HTTP.Addr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("http.addr must be host:port: %w", err)
		}
	}
	if addr := strings.TrimSpace(cfg.SSH.Addr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("ssh.addr must be host:port: %w", err)
		}
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	for i, dir := range cfg.Index.Path {
		cfg.Index.Path[i] = expandEnv(dir)
	}
	cfg.SSH.HostKeyPath = expandEnv(cfg.SSH.HostKeyPath)
	cfg.SSH.AuthorizedKeysPath = expandEnv(cfg.SSH.AuthorizedKeysPath)
	cfg.GRPC.SocketPath = expandEnv(cfg.GRPC.SocketPath)
	cfg.History.DBPath = expandEnv(cfg.History.DBPath)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
