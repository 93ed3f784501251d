package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidatesAfterNormalize(t *testing.T) {
	cfg := Default()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, found, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if found {
		t.Fatal("expected found=false for missing file")
	}
	if cfg.Capture.Binary != defaultCaptureBinary {
		t.Fatalf("expected default capture binary, got %q", cfg.Capture.Binary)
	}
	if cfg.SocketPath == "" {
		t.Fatal("socket path should default from log dir")
	}
}

func TestLoadParsesTargetsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
log_dir = "` + dir + `"
staging_dir = "` + dir + `"
library_dir = "` + dir + `"

[rotation]
interval = 1800

[[targets]]
id = "channel-a"
name = "Channel A"
url = "https://example.com/a"
quality = "best"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, found, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !found {
		t.Fatal("expected found=true")
	}
	if cfg.Rotation.Interval != 1800 {
		t.Fatalf("rotation interval override lost: %d", cfg.Rotation.Interval)
	}
	target, ok := cfg.TargetByID("channel-a")
	if !ok || target.URL != "https://example.com/a" {
		t.Fatalf("target lookup failed: %+v ok=%v", target, ok)
	}
}

func TestValidateRejectsDuplicateTargets(t *testing.T) {
	cfg := Default()
	cfg.normalize()
	cfg.Targets = []Target{
		{ID: "a", URL: "https://example.com/1"},
		{ID: "a", URL: "https://example.com/2"},
	}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "duplicate id") {
		t.Fatalf("expected duplicate target error, got %v", err)
	}
}

func TestValidateRequiresUploadEndpoint(t *testing.T) {
	cfg := Default()
	cfg.normalize()
	cfg.Upload.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when upload enabled without endpoint")
	}
}
