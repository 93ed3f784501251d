package deps

import (
	"os"
	"path/filepath"
	"testing"

	"creel/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}

	if !results[0].Available {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}

	if results[1].Available {
		t.Fatalf("expected missing binary to be unavailable")
	}
	if results[1].Detail == "" {
		t.Fatalf("expected detail message for missing binary")
	}

	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}

	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}
}

func TestRequirementsResolverOptional(t *testing.T) {
	cfg := config.Default()
	cfg.Capture.Binary = "streamlink"
	cfg.Capture.ResolverBinary = ""

	reqs := Requirements(&cfg)
	if len(reqs) != 1 {
		t.Fatalf("expected capture requirement only, got %d", len(reqs))
	}
	if reqs[0].Command != "streamlink" {
		t.Fatalf("unexpected capture command: %s", reqs[0].Command)
	}

	cfg.Capture.ResolverBinary = "yt-dlp"
	reqs = Requirements(&cfg)
	if len(reqs) != 2 {
		t.Fatalf("expected resolver requirement, got %d", len(reqs))
	}
	if !reqs[1].Optional {
		t.Fatal("resolver requirement should be optional")
	}
}

func TestMissingRequired(t *testing.T) {
	statuses := []Status{
		{Name: "Capture", Available: false},
		{Name: "Resolver", Available: false, Optional: true},
		{Name: "Present", Available: true},
	}
	missing := MissingRequired(statuses)
	if len(missing) != 1 || missing[0].Name != "Capture" {
		t.Fatalf("unexpected missing set: %#v", missing)
	}
}
