package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	t.Setenv("MF_BACKING_DIR", "")
	t.Setenv("MF_BRAIN_ENDPOINT", "")
	t.Setenv("MF_DEBOUNCE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := filepath.Join("/home/tester", ".magicFolder", "raw")
	if cfg.BackingDir != want {
		t.Errorf("BackingDir = %q, want %q", cfg.BackingDir, want)
	}
	if cfg.BrainEndpoint != DefaultBrainEndpoint {
		t.Errorf("BrainEndpoint = %q, want %q", cfg.BrainEndpoint, DefaultBrainEndpoint)
	}
	if cfg.Debounce != 500*time.Millisecond {
		t.Errorf("Debounce = %v, want 500ms", cfg.Debounce)
	}
	if cfg.BrainTimeout != 60*time.Second {
		t.Errorf("BrainTimeout = %v, want 60s", cfg.BrainTimeout)
	}
	if !cfg.Rescan {
		t.Error("Rescan default = false, want true")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	t.Setenv("MF_BACKING_DIR", "/srv/raw")
	t.Setenv("MF_BRAIN_ENDPOINT", "tcp://127.0.0.1:5555")
	t.Setenv("MF_DEBOUNCE", "250ms")
	t.Setenv("MF_RESCAN", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BackingDir != "/srv/raw" {
		t.Errorf("BackingDir = %q", cfg.BackingDir)
	}
	if cfg.BrainEndpoint != "tcp://127.0.0.1:5555" {
		t.Errorf("BrainEndpoint = %q", cfg.BrainEndpoint)
	}
	if cfg.Debounce != 250*time.Millisecond {
		t.Errorf("Debounce = %v", cfg.Debounce)
	}
	if cfg.Rescan {
		t.Error("Rescan = true, want false")
	}
}

func TestLoadRequiresHome(t *testing.T) {
	t.Setenv("HOME", "")
	t.Setenv("MF_BACKING_DIR", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded with no HOME and no MF_BACKING_DIR")
	}
}
