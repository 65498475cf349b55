package appconfig

import (
	"testing"

	"pkt.systems/cellx/schema"
)

func TestDefaultConfigEngineMatchesSchemaDefaults(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	got := cfg.EngineSettings()
	want, err := schema.NormalizeEngineConfig(schema.EngineConfig{})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != want {
		t.Fatalf("expected engine settings %+v, got %+v", want, got)
	}
}

func TestRefreshIntervalDisabled(t *testing.T) {
	if got := (IndexConfig{}).RefreshInterval(); got != 0 {
		t.Fatalf("expected zero interval, got %v", got)
	}
	if got := (IndexConfig{RefreshIntervalSeconds: 2}).RefreshInterval().Seconds(); got != 2 {
		t.Fatalf("expected 2s, got %v", got)
	}
}
