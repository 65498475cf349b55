package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ConfigVersion != CurrentConfigVersion {
		t.Fatalf("expected version %d, got %d", CurrentConfigVersion, cfg.ConfigVersion)
	}
	if cfg.Engine.ReadChunkBytes <= 0 {
		t.Fatalf("expected default read chunk size, got %d", cfg.Engine.ReadChunkBytes)
	}
}

func TestLoadRequiresConfigVersion(t *testing.T) {
	path := writeConfig(t, `
engine:
  grace_period_ms: 100
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "config_version is required") {
		t.Fatalf("expected config_version required error, got %v", err)
	}
}

func TestLoadRejectsUnsupportedConfigVersion(t *testing.T) {
	path := writeConfig(t, `
config_version: 4
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported config_version") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadOverridesAndExpands(t *testing.T) {
	t.Setenv("CELLX_TEST_STATE", "/tmp/cellx-state")
	path := writeConfig(t, `
config_version: 1
engine:
  grace_period_ms: 250
  kill_timeout_ms: 500
index:
  path: ["$CELLX_TEST_STATE/bin", "/usr/bin"]
  watch: false
history:
  db_path: $CELLX_TEST_STATE/history.db
  retention_days: 30
logging:
  disable_history: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.GracePeriodMS != 250 || cfg.Engine.KillTimeoutMS != 500 {
		t.Fatalf("unexpected engine config: %+v", cfg.Engine)
	}
	if cfg.Engine.ClassifyTimeoutMS == 0 {
		t.Fatalf("expected classify timeout default to survive partial override")
	}
	if cfg.Index.Watch {
		t.Fatalf("expected watch disabled")
	}
	if len(cfg.Index.Path) != 2 || cfg.Index.Path[0] != "/tmp/cellx-state/bin" {
		t.Fatalf("unexpected index path: %v", cfg.Index.Path)
	}
	if cfg.History.DBPath != "/tmp/cellx-state/history.db" {
		t.Fatalf("unexpected db path: %q", cfg.History.DBPath)
	}
	if cfg.History.Retention() != 30*24*time.Hour {
		t.Fatalf("unexpected retention: %s", cfg.History.Retention())
	}
	if !cfg.EngineSettings().DisableHistory {
		t.Fatalf("expected disable_history to reach engine settings")
	}
}

func TestLoadRejectsInvalidHTTPAddr(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
http:
  addr: localhost
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "http.addr") {
		t.Fatalf("expected http.addr error, got %v", err)
	}
}

func TestLoadRejectsNegativeTimeouts(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
engine:
  kill_timeout_ms: -1
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "negative") {
		t.Fatalf("expected negative timeout error, got %v", err)
	}
}

func TestLoadRejectsNegativeRetention(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
history:
  retention_days: -1
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "retention_days") {
		t.Fatalf("expected retention_days error, got %v", err)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	value := expandEnv("$FOO/$UID/$GID/$MISSING")
	if !strings.HasPrefix(value, "bar/") {
		t.Fatalf("expected env expansion, got %q", value)
	}
	if strings.Contains(value, "$UID") || strings.Contains(value, "$GID") {
		t.Fatalf("expected UID/GID expansion, got %q", value)
	}
	if !strings.HasSuffix(value, "/$MISSING") {
		t.Fatalf("expected missing vars to remain, got %q", value)
	}
}

func TestWriteDefaultRespectsOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	written, err := WriteDefault(path, false)
	if err != nil {
		t.Fatalf("write default: %v", err)
	}
	if written != path {
		t.Fatalf("expected path %q, got %q", path, written)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("expected written default to load: %v", err)
	}
	if _, err := WriteDefault(path, false); err == nil {
		t.Fatalf("expected error when config exists")
	}
	if _, err := WriteDefault(path, true); err != nil {
		t.Fatalf("expected overwrite to succeed: %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
