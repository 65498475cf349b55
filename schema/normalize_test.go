package schema

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateCellID(t *testing.T) {
	cases := []struct {
		name  string
		id    CellID
		valid bool
	}{
		{"uuid", "0b8f9a52-7c1e-4f4e-9a0f-3e1d2c4b5a69", true},
		{"simple", "cell1", true},
		{"underscore", "cell_1", true},
		{"empty", "", false},
		{"space", "cell 1", false},
		{"slash", "cell/1", false},
		{"dots", "../etc", false},
		{"too-long", CellID(string(make([]byte, 65))), false},
	}

	for _, tc := range cases {
		err := ValidateCellID(tc.id)
		if tc.valid && err != nil {
			t.Fatalf("case %q expected valid, got error: %v", tc.name, err)
		}
		if !tc.valid && err == nil {
			t.Fatalf("case %q expected error, got nil", tc.name)
		}
	}
}

func TestNormalizeWorkingDir(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	got, err := NormalizeWorkingDir("~/projects")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != filepath.Join(home, "projects") {
		t.Fatalf("expected home expansion, got %q", got)
	}
	cwd, _ := os.Getwd()
	got, err = NormalizeWorkingDir("  ")
	if err != nil {
		t.Fatalf("normalize empty: %v", err)
	}
	if got != cwd {
		t.Fatalf("expected cwd %q, got %q", cwd, got)
	}
	got, err = NormalizeWorkingDir("/tmp/../tmp/x/")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != "/tmp/x" {
		t.Fatalf("expected cleaned path, got %q", got)
	}
}

func TestServerMessageTerminal(t *testing.T) {
	if OutputChunk([]byte("x"), StreamStdout).Terminal() {
		t.Fatalf("output must not be terminal")
	}
	if StatusChanged(CellRunning).Terminal() {
		t.Fatalf("running status must not be terminal")
	}
	if !StatusChanged(CellCancelled).Terminal() {
		t.Fatalf("cancelled status must be terminal")
	}
	if !Completed(0).Terminal() || !ErrorMessage("timeout", "x").Terminal() {
		t.Fatalf("completed and error must be terminal")
	}
}

func TestNormalizeEngineConfigDefaults(t *testing.T) {
	cfg, err := NormalizeEngineConfig(EngineConfig{})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.ClassifyTimeout != DefaultClassifyTimeout || cfg.GracePeriod != DefaultGracePeriod {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if _, err := NormalizeEngineConfig(EngineConfig{GracePeriod: -1}); err == nil {
		t.Fatalf("expected negative timeout error")
	}
}
